// Package bus defines the event and task types that flow between the intake
// gateway and the dispatch workers.
package bus

import (
	"time"

	"github.com/google/uuid"
)

// InboundEvent is one logical Slack event as seen by the intake gateway.
// It is constructed once from the webhook envelope and never mutated after
// it has been handed to the queue.
type InboundEvent struct {
	// EventID is the sender-assigned identifier (Slack event_id, falling
	// back to the event timestamp). Stable across redeliveries of the same
	// logical event, which makes it the dedup key.
	EventID string `json:"event_id"`

	// ChannelID identifies the Slack channel the message was posted in and
	// selects the persona handler on the consumer side.
	ChannelID string `json:"channel_id"`

	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	ThreadTS string `json:"thread_ts"` // thread root to reply into
	EventTS  string `json:"event_ts"`  // Slack timestamp of the message itself

	// ReceivedAt is assigned by the gateway. Used for dedup-record expiry
	// only, never for ordering across events.
	ReceivedAt time.Time `json:"received_at"`
}

// QueuedTask wraps an InboundEvent with delivery metadata. The queue owns a
// task between enqueue and ack; the worker that leased it owns it until it
// acks (delete) or nacks (retry or dead-letter).
type QueuedTask struct {
	ID         uuid.UUID    `json:"id"`
	Event      InboundEvent `json:"event"`
	Attempt    int          `json:"attempt"` // 1-based, set on dequeue
	EnqueuedAt time.Time    `json:"enqueued_at"`
}
