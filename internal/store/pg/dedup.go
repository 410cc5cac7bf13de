package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PGDedupStore implements store.DedupStore on a single-row-per-event table
// with TTL expiry.
type PGDedupStore struct {
	db *sql.DB
}

func NewPGDedupStore(db *sql.DB) *PGDedupStore {
	return &PGDedupStore{db: db}
}

// TestAndSet is a single statement so concurrent duplicate deliveries are
// serialized by the unique index: the insert wins for a fresh id, the
// conditional update wins only when the existing record has expired, and
// everything else returns no rows (duplicate).
func (s *PGDedupStore) TestAndSet(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	var one int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO dedup_records (event_id, first_seen_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE
			SET first_seen_at = EXCLUDED.first_seen_at,
			    expires_at    = EXCLUDED.expires_at
			WHERE dedup_records.expires_at <= $2
		RETURNING 1
	`, eventID, now, now.Add(ttl)).Scan(&one)

	if err == nil {
		return true, nil
	}
	if err == sql.ErrNoRows {
		return false, nil
	}
	return false, fmt.Errorf("dedup test-and-set %s: %w", eventID, err)
}

func (s *PGDedupStore) Delete(ctx context.Context, eventID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dedup_records WHERE event_id = $1`, eventID)
	if err != nil {
		return fmt.Errorf("dedup delete %s: %w", eventID, err)
	}
	return nil
}

func (s *PGDedupStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dedup_records WHERE expires_at <= $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("dedup purge: %w", err)
	}
	return res.RowsAffected()
}
