// Package store defines the persistence interfaces consumed by the gateway
// and workers. The dedup store and task queue are the only shared mutable
// state in the system; both must provide atomic conditional mutation.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nautilabs/nautifier/internal/bus"
)

// ErrNoTask is returned by Dequeue when no task is ready.
var ErrNoTask = errors.New("store: no task available")

// Task lifecycle states.
const (
	TaskQueued = "queued"
	TaskLeased = "leased"
	TaskDead   = "dead"
)

// DedupStore records event ids that have already been forwarded to the
// queue. Presence means "forwarded or in-flight", never "replied".
type DedupStore interface {
	// TestAndSet atomically creates a dedup record for eventID unless a
	// live one exists. Returns true when the record was created (first
	// sighting), false when the event is a duplicate. An expired record
	// counts as absent. Concurrent calls for the same id are totally
	// ordered: exactly one returns true.
	TestAndSet(ctx context.Context, eventID string, ttl time.Duration) (bool, error)

	// Delete removes the record, restoring the pre-TestAndSet state. Used
	// to roll back when the enqueue after a successful TestAndSet fails.
	Delete(ctx context.Context, eventID string) error

	// PurgeExpired removes expired records and returns how many went away.
	PurgeExpired(ctx context.Context) (int64, error)
}

// TaskQueue is an at-least-once delivery queue with leases, bounded retries
// and a dead-letter state.
type TaskQueue interface {
	Enqueue(ctx context.Context, ev bus.InboundEvent) (uuid.UUID, error)

	// Dequeue leases the oldest ready task for leaseFor and increments its
	// attempt counter. Returns ErrNoTask when nothing is ready.
	Dequeue(ctx context.Context, leaseFor time.Duration) (*bus.QueuedTask, error)

	// Ack deletes a completed task, releasing ownership. Only leased tasks
	// are affected: a stale ack arriving after the lease reaper requeued
	// the task is a no-op.
	Ack(ctx context.Context, id uuid.UUID) error

	// Nack records a failed attempt. Tasks that have not exhausted
	// maxAttempts are requeued after the given delay; the rest move to the
	// dead-letter state with the failure reason attached. Like Ack, it
	// only applies while the task is leased.
	Nack(ctx context.Context, id uuid.UUID, reason string, maxAttempts int, retryAfter time.Duration) error

	// RequeueExpiredLeases returns tasks whose worker died mid-lease to
	// the queued state so another worker can pick them up.
	RequeueExpiredLeases(ctx context.Context) (int64, error)

	// DeadLetters lists dead tasks for operator inspection.
	DeadLetters(ctx context.Context, limit int) ([]DeadTask, error)
}

// DeadTask is a task that exhausted its retry budget.
type DeadTask struct {
	Task      bus.QueuedTask
	LastError string
	DiedAt    time.Time
}

// LeaveEntry is one extracted leave record, appended to the leave ledger
// before the user is told it was recorded.
type LeaveEntry struct {
	EventID      string // source event, part of the idempotency key
	Seq          int    // position within the event, part of the idempotency key
	EmployeeName string
	LeaveType    string
	FromDate     string // DD/MM/YYYY
	ToDate       string // DD/MM/YYYY
	NumDays      int
	Reason       string
	RecordedAt   time.Time
}

// LeaveLedger is the durable log of leave announcements. Append must be
// idempotent on (EventID, Seq) so a retried handler does not double-book.
type LeaveLedger interface {
	Append(ctx context.Context, e LeaveEntry) error

	// Cancel removes a matching upcoming leave. Returns (false, msg) with a
	// user-facing explanation when nothing cancellable matches.
	Cancel(ctx context.Context, employeeName, fromDate, toDate string) (bool, string, error)
}

// Article is a saved link with tags.
type Article struct {
	EventID     string
	URL         string
	Tags        []string
	SubmittedBy string
	SubmittedAt time.Time
}

// ArticleLedger stores shared articles. Append is idempotent on EventID.
type ArticleLedger interface {
	Append(ctx context.Context, a Article) error
}
