package core

import (
	"errors"
	"fmt"
	"time"
)

// Infrastructure errors returned by backends. They are never retried by the
// backend itself.
var (
	ErrJobNotFound        = errors.New("jobs: job not found")
	ErrInvalidLeaseToken  = errors.New("jobs: invalid lease token")
	ErrLeaseExpired       = errors.New("jobs: lease expired")
	ErrJobCanceled        = errors.New("jobs: job canceled")
	ErrJobAlreadyTerminal = errors.New("jobs: job already in a terminal state")
	ErrCodecNotFound      = errors.New("jobs: codec not found")
	ErrPayloadTooLarge    = errors.New("jobs: payload exceeds size limit")
	ErrBackendUnsupported = errors.New("jobs: capability not supported by backend")
	ErrInternal           = errors.New("jobs: internal error")
)

// Validation errors
var (
	ErrInvalidTenant         = errors.New("jobs: tenant id is required")
	ErrInvalidJobTypeName    = errors.New("jobs: invalid job type name (must be alphanumeric, start with letter)")
	ErrJobTypeNameTooLong    = errors.New("jobs: job type name too long")
	ErrInvalidQueueName      = errors.New("jobs: invalid queue name")
	ErrQueueNameTooLong      = errors.New("jobs: queue name too long")
	ErrInvalidMaxRetries     = errors.New("jobs: max retries must not be negative")
	ErrInvalidPriority       = errors.New("jobs: invalid priority")
	ErrIdempotencyKeyTooLong = errors.New("jobs: idempotency key exceeds maximum length")
	ErrDuplicateJobType      = errors.New("jobs: job type already registered")
	ErrRegistryFrozen        = errors.New("jobs: registry is frozen")
)

// IsLeaseRace reports whether err is one of the acknowledgment outcomes a worker
// treats as an expected race: the ledger has already settled the job.
func IsLeaseRace(err error) bool {
	return errors.Is(err, ErrLeaseExpired) ||
		errors.Is(err, ErrJobCanceled) ||
		errors.Is(err, ErrJobAlreadyTerminal)
}

// PermanentError is a handler outcome that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to fail the job immediately regardless of remaining attempts.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// RetryableError is a handler outcome that schedules another attempt if any remain.
// A zero Delay lets the worker pick the backoff.
type RetryableError struct {
	Err   error
	Delay time.Duration
}

func (e *RetryableError) Error() string {
	if e.Delay > 0 {
		return fmt.Sprintf("retry after %v: %v", e.Delay, e.Err)
	}
	return fmt.Sprintf("retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Retryable wraps an error to request a retry with the worker's backoff.
func Retryable(err error) error {
	return &RetryableError{Err: err}
}

// RetryAfter wraps an error to request a retry after a fixed delay.
func RetryAfter(d time.Duration, err error) error {
	return &RetryableError{Err: err, Delay: d}
}

// IsPermanent reports whether err asks for no retry.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// RetryDelay returns the explicit delay requested by a RetryAfter error.
func RetryDelay(err error) (time.Duration, bool) {
	var r *RetryableError
	if errors.As(err, &r) && r.Delay > 0 {
		return r.Delay, true
	}
	return 0, false
}
