package core

import "time"

// State is the tag of the JobStatus union.
type State string

const (
	StateEnqueued   State = "enqueued"
	StateProcessing State = "processing"
	StateRetrying   State = "retrying"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCanceled
}

// Eligible reports whether a job in state s may be leased (subject to its run time).
func (s State) Eligible() bool {
	return s == StateEnqueued || s == StateRetrying
}

// CanTransition reports whether the state machine allows s -> to.
func (s State) CanTransition(to State) bool {
	switch s {
	case StateEnqueued:
		return to == StateProcessing || to == StateCanceled
	case StateProcessing:
		return to == StateCompleted || to == StateRetrying || to == StateFailed || to == StateCanceled
	case StateRetrying:
		return to == StateProcessing || to == StateCanceled
	default:
		return false
	}
}

// JobStatus is a snapshot of a job's position in the state machine.
// LeaseUntil is set only while processing, RetryAt only while retrying.
type JobStatus struct {
	State      State
	LeaseUntil *time.Time
	RetryAt    *time.Time
	LastError  string
}

// Enqueued returns the initial status.
func Enqueued() JobStatus { return JobStatus{State: StateEnqueued} }

// Processing returns a leased status.
func Processing(leaseUntil time.Time) JobStatus {
	return JobStatus{State: StateProcessing, LeaseUntil: &leaseUntil}
}

// Retrying returns a status waiting for its next attempt.
func Retrying(retryAt time.Time, lastErr string) JobStatus {
	return JobStatus{State: StateRetrying, RetryAt: &retryAt, LastError: lastErr}
}

// Completed returns the success terminal status.
func Completed() JobStatus { return JobStatus{State: StateCompleted} }

// Failed returns the failure terminal status.
func Failed(lastErr string) JobStatus { return JobStatus{State: StateFailed, LastError: lastErr} }

// Canceled returns the cancellation terminal status. It never carries an error.
func Canceled() JobStatus { return JobStatus{State: StateCanceled} }

// IsTerminal reports whether the status can no longer change.
func (s JobStatus) IsTerminal() bool { return s.State.Terminal() }

func (s JobStatus) clone() JobStatus {
	c := s
	if s.LeaseUntil != nil {
		t := *s.LeaseUntil
		c.LeaseUntil = &t
	}
	if s.RetryAt != nil {
		t := *s.RetryAt
		c.RetryAt = &t
	}
	return c
}
