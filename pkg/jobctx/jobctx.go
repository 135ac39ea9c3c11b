// Package jobctx provides public access to job context for handlers.
package jobctx

import (
	"context"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
	intctx "github.com/jdziat/tenant-jobs/pkg/internal/context"
)

// JobFromContext returns a copy of the running job, or nil outside a job handler.
func JobFromContext(ctx context.Context) *core.JobRecord {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return nil
	}
	return jc.Job.Clone()
}

// JobIDFromContext returns the current job ID from context, or empty string if not in a job handler.
func JobIDFromContext(ctx context.Context) core.JobID {
	if jc := intctx.GetJobContext(ctx); jc != nil && jc.Job != nil {
		return jc.Job.ID
	}
	return ""
}

// TenantFromContext returns the tenant the job belongs to.
func TenantFromContext(ctx context.Context) core.TenantID {
	if jc := intctx.GetJobContext(ctx); jc != nil {
		return jc.Queue.TenantID
	}
	return ""
}

// TraceIDFromContext returns the trace id of the worker's queue context.
func TraceIDFromContext(ctx context.Context) string {
	if jc := intctx.GetJobContext(ctx); jc != nil {
		return jc.Queue.TraceID
	}
	return ""
}

// AttemptFromContext returns the 1-based attempt number, or 0 outside a handler.
func AttemptFromContext(ctx context.Context) int {
	if jc := intctx.GetJobContext(ctx); jc != nil && jc.Job != nil {
		return jc.Job.Attempt
	}
	return 0
}

// WorkerIDFromContext returns the id of the worker running the job.
func WorkerIDFromContext(ctx context.Context) string {
	if jc := intctx.GetJobContext(ctx); jc != nil {
		return jc.WorkerID
	}
	return ""
}

// LeaseUntil returns the current lease expiry. Heartbeats move it forward.
func LeaseUntil(ctx context.Context) (time.Time, bool) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return time.Time{}, false
	}
	return jc.LeaseUntil(), true
}

// ExtendLease asks the backend to renew the running job's lease now.
// Handlers doing long I/O between heartbeats can call it at safe points.
func ExtendLease(ctx context.Context) (time.Time, error) {
	jc := intctx.GetJobContext(ctx)
	if jc == nil {
		return time.Time{}, core.ErrJobNotFound
	}
	if jc.ExtendLease == nil {
		return time.Time{}, core.ErrBackendUnsupported
	}
	until, err := jc.ExtendLease(ctx)
	if err != nil {
		return time.Time{}, err
	}
	jc.SetLeaseUntil(until)
	return until, nil
}
