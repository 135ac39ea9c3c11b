package core

import "time"

// EventKind tags a JobEvent. There is one kind per lifecycle transition.
type EventKind string

const (
	EventEnqueued  EventKind = "enqueued"
	EventLeased    EventKind = "leased"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventRetrying  EventKind = "retrying"
	EventCanceled  EventKind = "canceled"
)

// JobEvent is emitted once per transition. Events of one job arrive in
// transition order; nothing is promised across jobs.
type JobEvent struct {
	// Seq increases per tenant. A gap means the subscriber dropped events.
	Seq       uint64
	Kind      EventKind
	JobID     JobID
	TenantID  TenantID
	Queue     QueueName
	JobType   JobType
	Attempt   int
	Timestamp time.Time

	LeaseUntil *time.Time // leased
	RetryAt    *time.Time // retrying
	Error      string     // retrying, failed
	Result     ResultRef  // completed
}

// EventStream is a live subscription to one tenant's events.
type EventStream interface {
	// C is closed once the stream is closed.
	C() <-chan JobEvent
	Close()
	// Dropped counts events discarded because the consumer fell behind.
	Dropped() uint64
}
