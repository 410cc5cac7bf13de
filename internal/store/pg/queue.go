package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nautilabs/nautifier/internal/bus"
	"github.com/nautilabs/nautifier/internal/store"
)

// PGTaskQueue implements store.TaskQueue on a Postgres table. Leasing uses
// FOR UPDATE SKIP LOCKED so concurrent workers never double-claim a task.
type PGTaskQueue struct {
	db *sql.DB
}

func NewPGTaskQueue(db *sql.DB) *PGTaskQueue {
	return &PGTaskQueue{db: db}
}

func (q *PGTaskQueue) Enqueue(ctx context.Context, ev bus.InboundEvent) (uuid.UUID, error) {
	id := uuid.Must(uuid.NewV7())
	payload, err := json.Marshal(ev)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal event: %w", err)
	}

	now := time.Now().UTC()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO tasks (id, event, status, attempts, enqueued_at, not_before)
		VALUES ($1, $2, $3, 0, $4, $4)
	`, id, payload, store.TaskQueued, now)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

func (q *PGTaskQueue) Dequeue(ctx context.Context, leaseFor time.Duration) (*bus.QueuedTask, error) {
	now := time.Now().UTC()

	var (
		task    bus.QueuedTask
		payload []byte
	)
	err := q.db.QueryRowContext(ctx, `
		UPDATE tasks SET
			status           = $1,
			attempts         = attempts + 1,
			lease_expires_at = $2
		WHERE id = (
			SELECT id FROM tasks
			WHERE status = $3 AND not_before <= $4
			ORDER BY enqueued_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, event, attempts, enqueued_at
	`, store.TaskLeased, now.Add(leaseFor), store.TaskQueued, now).
		Scan(&task.ID, &payload, &task.Attempt, &task.EnqueuedAt)

	if err == sql.ErrNoRows {
		return nil, store.ErrNoTask
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	if err := json.Unmarshal(payload, &task.Event); err != nil {
		return nil, fmt.Errorf("unmarshal task %s: %w", task.ID, err)
	}
	return &task, nil
}

// Ack only deletes leased tasks: a settle arriving after the lease reaper
// already requeued the task must not touch it.
func (q *PGTaskQueue) Ack(ctx context.Context, id uuid.UUID) error {
	res, err := q.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = $1 AND status = $2`, id, store.TaskLeased)
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("ack matched no leased task", "task", id)
	}
	return nil
}

// Nack requeues the task with a delay, or dead-letters it when its attempt
// count has reached maxAttempts. Like Ack it only applies to leased tasks,
// so a stale settle cannot flip a reaped task.
func (q *PGTaskQueue) Nack(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, retryAfter time.Duration) error {
	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET
			status     = CASE WHEN attempts >= $2 THEN $3 ELSE $4 END,
			not_before = $5,
			died_at    = CASE WHEN attempts >= $2 THEN $6 ELSE NULL END,
			last_error = $7
		WHERE id = $1 AND status = $8
	`, id, maxAttempts, store.TaskDead, store.TaskQueued, now.Add(retryAfter), now, reason, store.TaskLeased)
	if err != nil {
		return fmt.Errorf("nack %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.Warn("nack matched no leased task", "task", id)
	}
	return nil
}

func (q *PGTaskQueue) RequeueExpiredLeases(ctx context.Context) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE tasks SET status = $1, lease_expires_at = NULL
		WHERE status = $2 AND lease_expires_at <= $3
	`, store.TaskQueued, store.TaskLeased, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("requeue expired leases: %w", err)
	}
	return res.RowsAffected()
}

func (q *PGTaskQueue) DeadLetters(ctx context.Context, limit int) ([]store.DeadTask, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, event, attempts, enqueued_at, died_at, last_error
		FROM tasks
		WHERE status = $1
		ORDER BY died_at DESC
		LIMIT $2
	`, store.TaskDead, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var dead []store.DeadTask
	for rows.Next() {
		var (
			d       store.DeadTask
			payload []byte
			diedAt  sql.NullTime
			lastErr sql.NullString
		)
		if err := rows.Scan(&d.Task.ID, &payload, &d.Task.Attempt, &d.Task.EnqueuedAt, &diedAt, &lastErr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(payload, &d.Task.Event); err != nil {
			return nil, fmt.Errorf("unmarshal dead task %s: %w", d.Task.ID, err)
		}
		d.DiedAt = diedAt.Time
		d.LastError = lastErr.String
		dead = append(dead, d)
	}
	return dead, rows.Err()
}
