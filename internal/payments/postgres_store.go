package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists used-payment records in Postgres, so multiple
// service instances share one replay tracker. Atomicity of PutIfAbsent
// rides on the primary-key conflict clause.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given connection pool.
// The used_payments table must exist (see migrations/).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, paymentID string) (Record, bool, error) {
	var (
		rec  Record
		meta []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payment_id, created_at, metadata FROM used_payments WHERE payment_id = $1`,
		paymentID,
	).Scan(&rec.PaymentID, &rec.CreatedAt, &meta)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("query payment record: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return Record{}, false, fmt.Errorf("decode payment metadata: %w", err)
		}
	}
	return rec, true, nil
}

func (s *PostgresStore) PutIfAbsent(ctx context.Context, rec Record, expiredBefore time.Time) (bool, error) {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return false, fmt.Errorf("encode payment metadata: %w", err)
	}

	// An expired row is overwritten; an active row makes the upsert a
	// no-op, which is how the losing request learns it lost.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO used_payments (payment_id, created_at, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (payment_id) DO UPDATE
		SET created_at = EXCLUDED.created_at, metadata = EXCLUDED.metadata
		WHERE used_payments.created_at < $4`,
		rec.PaymentID, rec.CreatedAt, meta, expiredBefore,
	)
	if err != nil {
		return false, fmt.Errorf("insert payment record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert payment record: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) Delete(ctx context.Context, paymentID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM used_payments WHERE payment_id = $1`, paymentID)
	if err != nil {
		return fmt.Errorf("delete payment record: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, expiredBefore time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM used_payments WHERE created_at < $1`, expiredBefore)
	if err != nil {
		return 0, fmt.Errorf("delete expired payment records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete expired payment records: %w", err)
	}
	return int(n), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM used_payments`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count payment records: %w", err)
	}
	return n, nil
}
