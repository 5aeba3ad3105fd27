package payments

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hshadab/rugdetector/internal/metrics"
)

// Store persists used-payment records. Implementations must make
// PutIfAbsent atomic: it both checks for an active record and inserts
// under one critical section. Stores receive normalized ids.
type Store interface {
	// Get returns the record for a payment id, if present (active or not).
	Get(ctx context.Context, paymentID string) (Record, bool, error)
	// PutIfAbsent inserts rec unless an active record (created at or after
	// expiredBefore) already exists. An expired record is overwritten.
	// Returns true if the insert won.
	PutIfAbsent(ctx context.Context, rec Record, expiredBefore time.Time) (bool, error)
	// Delete removes a record.
	Delete(ctx context.Context, paymentID string) error
	// DeleteExpired removes records created before the cutoff and
	// returns how many were evicted.
	DeleteExpired(ctx context.Context, expiredBefore time.Time) (int, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Tracker prevents payment replay. It owns TTL policy and id
// normalization; durability is delegated to the Store.
type Tracker struct {
	store    Store
	ttl      time.Duration
	sweep    time.Duration
	logger   *slog.Logger
	now      func() time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// TrackerOption configures the tracker.
type TrackerOption func(*Tracker)

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a replay tracker on top of the given store.
// Call Start to run the background sweep.
func NewTracker(store Store, ttl, sweepInterval time.Duration, logger *slog.Logger, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store:  store,
		ttl:    ttl,
		sweep:  sweepInterval,
		logger: logger,
		now:    time.Now,
		stop:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsUsed reports whether the payment id has an active (non-expired)
// record. Expired records are evicted lazily. Store errors fail closed:
// an unreadable store reports the payment as used rather than risking a
// double spend.
func (t *Tracker) IsUsed(ctx context.Context, paymentID string) bool {
	id := Normalize(paymentID)

	rec, ok, err := t.store.Get(ctx, id)
	if err != nil {
		t.logger.Error("payment store lookup failed", "error", err)
		return true
	}
	if !ok {
		return false
	}

	if t.expired(rec) {
		if err := t.store.Delete(ctx, id); err != nil {
			t.logger.Warn("failed to evict expired payment record", "error", err)
		}
		return false
	}
	return true
}

// MarkUsed records the payment id as used. Returns false without
// mutating state if an active record already exists — this is the
// replay guard, and it is atomic: concurrent calls with the same id
// yield exactly one true.
func (t *Tracker) MarkUsed(ctx context.Context, paymentID string, metadata map[string]string) bool {
	id := Normalize(paymentID)
	now := t.now()

	rec := Record{PaymentID: id, CreatedAt: now, Metadata: metadata}
	won, err := t.store.PutIfAbsent(ctx, rec, now.Add(-t.ttl))
	if err != nil {
		t.logger.Error("payment store insert failed", "error", err)
		return false
	}
	if won {
		t.updateGauge(ctx)
	}
	return won
}

// Cleanup evicts all expired records and returns how many were removed.
func (t *Tracker) Cleanup(ctx context.Context) int {
	evicted, err := t.store.DeleteExpired(ctx, t.now().Add(-t.ttl))
	if err != nil {
		t.logger.Error("payment sweep failed", "error", err)
		return 0
	}
	if evicted > 0 {
		t.logger.Debug("evicted expired payment records", "count", evicted)
	}
	t.updateGauge(ctx)
	return evicted
}

// Start runs the background sweep until ctx is done or Stop is called.
func (t *Tracker) Start(ctx context.Context) {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Cleanup(ctx)
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		}
	}
}

// Stop terminates the background sweep.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

func (t *Tracker) expired(rec Record) bool {
	return t.now().Sub(rec.CreatedAt) > t.ttl
}

func (t *Tracker) updateGauge(ctx context.Context) {
	if n, err := t.store.Count(ctx); err == nil {
		metrics.TrackedPayments.Set(float64(n))
	}
}

// MemoryStore is the default in-process Store. Records are lost on
// restart, which is an accepted limitation for single-instance
// deployments; use PostgresStore when running multiple instances.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Get(_ context.Context, paymentID string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	return rec, ok, nil
}

func (s *MemoryStore) PutIfAbsent(_ context.Context, rec Record, expiredBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.records[rec.PaymentID]
	if ok && !existing.CreatedAt.Before(expiredBefore) {
		return false, nil // active record wins
	}
	s.records[rec.PaymentID] = rec
	return true, nil
}

func (s *MemoryStore) Delete(_ context.Context, paymentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, paymentID)
	return nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, expiredBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, rec := range s.records {
		if rec.CreatedAt.Before(expiredBefore) {
			delete(s.records, id)
			evicted++
		}
	}
	return evicted, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), nil
}
