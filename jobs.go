// Package jobs provides a multi-tenant, lease-based job queue.
//
// This is the main package users should import. It re-exports the public
// types from the pkg/ packages and adds Engine, which wires a backend,
// registries, workers and the lease reaper together.
//
// Basic usage:
//
//	engine, _ := jobs.NewEngine(jobs.DefaultConfig())
//
//	// Register a job type
//	sendEmail := jobs.MustRegister(engine, jobs.Definition[Email]{
//	    Type:    "email.send",
//	    Handler: func(ctx context.Context, e Email) (jobs.ResultRef, error) { return "", send(e) },
//	})
//
//	// Enqueue a job for a tenant
//	qc := jobs.QueueCtx{TenantID: "acme"}
//	id, _ := jobs.Enqueue(ctx, engine, qc, sendEmail, Email{To: "a@example.com"})
//
//	// Run workers for the tenant
//	engine.Run(ctx, "acme")
package jobs

import (
	"context"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/jobctx"
	"github.com/jdziat/tenant-jobs/pkg/queue"
	"github.com/jdziat/tenant-jobs/pkg/registry"
	"github.com/jdziat/tenant-jobs/pkg/security"
	"github.com/jdziat/tenant-jobs/pkg/worker"
)

type (
	TenantID   = core.TenantID
	JobID      = core.JobID
	LeaseToken = core.LeaseToken
	QueueName  = core.QueueName
	JobType    = core.JobType
	CodecID    = core.CodecID
	ResultRef  = core.ResultRef
	Priority   = core.Priority

	// QueueCtx identifies the tenant (and optional trace) of every call.
	QueueCtx = core.QueueCtx

	JobMessage   = core.JobMessage
	JobRecord    = core.JobRecord
	JobStatus    = core.JobStatus
	State        = core.State
	LeasedJob    = core.LeasedJob
	Capabilities = core.Capabilities
	Backoff      = core.Backoff

	JobEvent    = core.JobEvent
	EventKind   = core.EventKind
	EventStream = core.EventStream

	// Backend is the storage contract.
	Backend = core.Backend

	Config = config.Config

	// Definition declares a job type and its handler.
	Definition[T any] = registry.Definition[T]

	// Kind is a registered job type, used to enqueue typed arguments.
	Kind[T any] = registry.Kind[T]

	Option       = queue.Option
	WorkerOption = worker.WorkerOption
	Worker       = worker.Worker
)

// Priorities
const (
	PriorityLow    = core.PriorityLow
	PriorityNormal = core.PriorityNormal
	PriorityHigh   = core.PriorityHigh
)

// States
const (
	StateEnqueued   = core.StateEnqueued
	StateProcessing = core.StateProcessing
	StateRetrying   = core.StateRetrying
	StateCompleted  = core.StateCompleted
	StateFailed     = core.StateFailed
	StateCanceled   = core.StateCanceled
)

// Event kinds
const (
	EventEnqueued  = core.EventEnqueued
	EventLeased    = core.EventLeased
	EventCompleted = core.EventCompleted
	EventFailed    = core.EventFailed
	EventRetrying  = core.EventRetrying
	EventCanceled  = core.EventCanceled
)

// Codecs
const (
	CodecJSON  = core.CodecJSON
	CodecProto = core.CodecProto
	CodecRaw   = core.CodecRaw
)

// Security limits
const (
	MaxJobTypeNameLength  = security.MaxJobTypeNameLength
	MaxRetries            = security.MaxRetries
	MaxConcurrency        = security.MaxConcurrency
	MaxErrorMessageLength = security.MaxErrorMessageLength
	MaxQueueNameLength    = security.MaxQueueNameLength
)

// Error variables
var (
	ErrJobNotFound        = core.ErrJobNotFound
	ErrInvalidLeaseToken  = core.ErrInvalidLeaseToken
	ErrLeaseExpired       = core.ErrLeaseExpired
	ErrJobCanceled        = core.ErrJobCanceled
	ErrJobAlreadyTerminal = core.ErrJobAlreadyTerminal
	ErrCodecNotFound      = core.ErrCodecNotFound
	ErrPayloadTooLarge    = core.ErrPayloadTooLarge
	ErrBackendUnsupported = core.ErrBackendUnsupported
	ErrInternal           = core.ErrInternal
	ErrInvalidTenant      = core.ErrInvalidTenant
	ErrDuplicateJobType   = core.ErrDuplicateJobType
	ErrRegistryFrozen     = core.ErrRegistryFrozen
)

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads configuration from JOBS_* environment variables.
func LoadConfig() (Config, error) {
	return config.Load()
}

// Permanent marks a handler error as not retryable.
func Permanent(err error) error {
	return core.Permanent(err)
}

// RetryAfter asks for a retry after d instead of the configured backoff.
func RetryAfter(d time.Duration, err error) error {
	return core.RetryAfter(d, err)
}

// IsPermanent reports whether err was marked Permanent.
func IsPermanent(err error) bool {
	return core.IsPermanent(err)
}

// Job option functions

// QueueOpt sets the queue name.
func QueueOpt(name QueueName) Option {
	return queue.QueueOpt(name)
}

// WithPriority sets the job priority.
func WithPriority(p Priority) Option {
	return queue.Priority(p)
}

// Retries sets the maximum retry count.
func Retries(n int) Option {
	return queue.Retries(n)
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return queue.Delay(d)
}

// At schedules the job to run at a specific time.
func At(t time.Time) Option {
	return queue.At(t)
}

// Unique de-duplicates the job against live jobs holding the same key.
func Unique(key string) Option {
	return queue.Unique(key)
}

// Worker option functions

// Concurrency sets the number of jobs a worker runs at once.
func Concurrency(n int) WorkerOption {
	return worker.Concurrency(n)
}

// WorkerQueue adds a queue for the worker to poll.
func WorkerQueue(name QueueName) WorkerOption {
	return worker.WorkerQueue(name)
}

// Handler context accessors

// JobFromContext returns a copy of the running job, or nil outside a handler.
func JobFromContext(ctx context.Context) *JobRecord {
	return jobctx.JobFromContext(ctx)
}

// JobIDFromContext returns the running job's id.
func JobIDFromContext(ctx context.Context) JobID {
	return jobctx.JobIDFromContext(ctx)
}

// TenantFromContext returns the running job's tenant.
func TenantFromContext(ctx context.Context) TenantID {
	return jobctx.TenantFromContext(ctx)
}

// ExtendLease renews the running job's lease.
func ExtendLease(ctx context.Context) (time.Time, error) {
	return jobctx.ExtendLease(ctx)
}
