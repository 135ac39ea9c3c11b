// Package context provides context helpers for the jobs package.
package context

import (
	"context"
	"sync"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// JobContextKey is the key for storing job context in context.Context.
type JobContextKey struct{}

// JobContext holds the job being executed and the lease it runs under.
type JobContext struct {
	Job      *core.JobRecord
	Queue    core.QueueCtx
	Token    core.LeaseToken
	WorkerID string

	// ExtendLease renews the lease. Nil when the backend cannot extend leases.
	ExtendLease func(ctx context.Context) (time.Time, error)

	mu         sync.Mutex
	leaseUntil time.Time
}

// LeaseUntil returns the latest known lease expiry.
func (jc *JobContext) LeaseUntil() time.Time {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.leaseUntil
}

// SetLeaseUntil records a renewed lease expiry.
func (jc *JobContext) SetLeaseUntil(t time.Time) {
	jc.mu.Lock()
	jc.leaseUntil = t
	jc.mu.Unlock()
}

// GetJobContext retrieves the job context from a context.Context.
func GetJobContext(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(JobContextKey{}).(*JobContext); ok {
		return jc
	}
	return nil
}

// WithJobContext adds job context to a context.Context.
func WithJobContext(ctx context.Context, jc *JobContext) context.Context {
	return context.WithValue(ctx, JobContextKey{}, jc)
}
