package core

import (
	"context"
	"time"
)

// Starter is the interface for starting long-running components.
type Starter interface {
	Start(ctx context.Context) error
}

// Backend is the operation set every storage technology must satisfy with
// identical observable semantics. Every call is scoped to qc.TenantID; a backend
// never lets one tenant observe or affect another tenant's jobs.
type Backend interface {
	// Enqueue stores a new job, or returns the id of the live job holding the
	// same idempotency key in the same (tenant, queue, type) scope.
	Enqueue(ctx context.Context, qc QueueCtx, msg JobMessage) (JobID, error)

	// Dequeue atomically leases the best eligible job among queues.
	// It returns nil, nil when nothing is eligible.
	Dequeue(ctx context.Context, qc QueueCtx, queues []QueueName) (*LeasedJob, error)

	// Acknowledgment
	AckComplete(ctx context.Context, qc QueueCtx, id JobID, token LeaseToken, result ResultRef) error
	AckFail(ctx context.Context, qc QueueCtx, id JobID, token LeaseToken, errMsg string, retryAt *time.Time) error

	// Cancel moves a non-terminal job to canceled and reports whether it did.
	Cancel(ctx context.Context, qc QueueCtx, id JobID) (bool, error)

	// Queries
	GetStatus(ctx context.Context, qc QueueCtx, id JobID) (JobStatus, error)
	Events(ctx context.Context, qc QueueCtx) (EventStream, error)

	Capabilities() Capabilities
}

// LeaseExtender renews a live lease. Backends advertising
// Capabilities.LeaseExtension implement it.
type LeaseExtender interface {
	ExtendLease(ctx context.Context, qc QueueCtx, id JobID, token LeaseToken) (time.Time, error)
}

// ReclaimResult summarises one reaper sweep.
type ReclaimResult struct {
	Retrying int
	Failed   int
}

// Reclaimer converts processing jobs whose lease has expired into retrying or
// failed jobs, across all tenants.
type Reclaimer interface {
	ReclaimExpired(ctx context.Context, backoff Backoff) (ReclaimResult, error)
}

// Inspector exposes read-only snapshots for tooling.
type Inspector interface {
	GetJob(ctx context.Context, qc QueueCtx, id JobID) (*JobRecord, error)
	ListJobs(ctx context.Context, qc QueueCtx, state State, limit int) ([]*JobRecord, error)
}
