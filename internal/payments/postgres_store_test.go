package payments

import (
	"context"
	"testing"
	"time"

	"github.com/hshadab/rugdetector/internal/testutil"
)

func TestPostgresStorePutIfAbsent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	cutoff := now.Add(-time.Hour)

	rec := Record{
		PaymentID: "tx_0xaaa1",
		CreatedAt: now,
		Metadata:  map[string]string{"contract": "0x1234"},
	}

	won, err := store.PutIfAbsent(ctx, rec, cutoff)
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !won {
		t.Fatal("first insert should win")
	}

	// A second attempt against an active row loses.
	won, err = store.PutIfAbsent(ctx, Record{PaymentID: "tx_0xaaa1", CreatedAt: now}, cutoff)
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if won {
		t.Fatal("second insert against active row should lose")
	}

	got, ok, err := store.Get(ctx, "tx_0xaaa1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("expected record to exist")
	}
	if got.Metadata["contract"] != "0x1234" {
		t.Errorf("metadata = %v, want contract=0x1234", got.Metadata)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}
}

func TestPostgresStoreOverwritesExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	stale := Record{PaymentID: "tx_0xbbb2", CreatedAt: now.Add(-2 * time.Hour)}
	if _, err := store.PutIfAbsent(ctx, stale, now.Add(-time.Hour)); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}

	// The old row is past the cutoff, so a new claim succeeds.
	fresh := Record{PaymentID: "tx_0xbbb2", CreatedAt: now}
	won, err := store.PutIfAbsent(ctx, fresh, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if !won {
		t.Fatal("claim over expired row should win")
	}

	got, ok, err := store.Get(ctx, "tx_0xbbb2")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want refreshed %v", got.CreatedAt, now)
	}
}

func TestPostgresStoreConcurrentClaims(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)

	const workers = 10
	results := make(chan bool, workers)
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		go func() {
			<-start
			won, err := store.PutIfAbsent(ctx, Record{PaymentID: "tx_0xccc3", CreatedAt: now}, cutoff)
			if err != nil {
				t.Errorf("PutIfAbsent: %v", err)
			}
			results <- won
		}()
	}
	close(start)

	wins := 0
	for i := 0; i < workers; i++ {
		if <-results {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("got %d winners, want exactly 1", wins)
	}
}

func TestPostgresStoreDeleteExpired(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()
	cutoff := now.Add(-time.Hour)

	records := []Record{
		{PaymentID: "tx_0xold1", CreatedAt: now.Add(-3 * time.Hour)},
		{PaymentID: "tx_0xold2", CreatedAt: now.Add(-2 * time.Hour)},
		{PaymentID: "tx_0xnew1", CreatedAt: now},
	}
	for _, rec := range records {
		if _, err := store.PutIfAbsent(ctx, rec, cutoff.Add(-24*time.Hour)); err != nil {
			t.Fatalf("seed %s: %v", rec.PaymentID, err)
		}
	}

	removed, err := store.DeleteExpired(ctx, cutoff)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}

	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}

	if _, ok, _ := store.Get(ctx, "tx_0xnew1"); !ok {
		t.Error("fresh record should survive DeleteExpired")
	}
}

func TestPostgresStoreDelete(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.PutIfAbsent(ctx, Record{PaymentID: "tx_0xddd4", CreatedAt: now}, now.Add(-time.Hour)); err != nil {
		t.Fatalf("PutIfAbsent: %v", err)
	}
	if err := store.Delete(ctx, "tx_0xddd4"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := store.Get(ctx, "tx_0xddd4"); ok {
		t.Error("record should be gone after Delete")
	}

	// Deleting a missing record is not an error.
	if err := store.Delete(ctx, "tx_0xmissing"); err != nil {
		t.Errorf("Delete missing: %v", err)
	}
}
