package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/registry"
	"github.com/jdziat/tenant-jobs/pkg/security"
	"github.com/jdziat/tenant-jobs/pkg/worker"
)

// Queue is the producer-side entry point: it encodes, validates and submits
// jobs, and exposes status, cancellation and events.
type Queue struct {
	backend  core.Backend
	registry *registry.Registry
	codecs   *codec.Registry
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Queue over backend. A nil codecs uses the built-in codecs.
func New(backend core.Backend, reg *registry.Registry, codecs *codec.Registry) *Queue {
	if reg == nil {
		reg = registry.New()
	}
	if codecs == nil {
		codecs = codec.NewRegistry()
	}
	return &Queue{
		backend:  backend,
		registry: reg,
		codecs:   codecs,
		now:      time.Now,
		logger:   slog.Default(),
	}
}

// SetClock replaces time.Now for Delay computations.
func (q *Queue) SetClock(now func() time.Time) {
	if now != nil {
		q.now = now
	}
}

// SetLogger sets the logger.
func (q *Queue) SetLogger(l *slog.Logger) {
	if l != nil {
		q.logger = l
	}
}

// Backend returns the underlying backend.
func (q *Queue) Backend() core.Backend { return q.backend }

// Registry returns the job registry.
func (q *Queue) Registry() *registry.Registry { return q.registry }

// Codecs returns the codec registry.
func (q *Queue) Codecs() *codec.Registry { return q.codecs }

// Capabilities returns the backend's capability descriptor.
func (q *Queue) Capabilities() core.Capabilities { return q.backend.Capabilities() }

// Enqueue submits a typed job. Registered defaults apply unless overridden by opts.
func Enqueue[T any](ctx context.Context, q *Queue, qc core.QueueCtx, kind *registry.Kind[T], args T, opts ...Option) (core.JobID, error) {
	options := NewOptions()
	for _, opt := range opts {
		opt.Apply(options)
	}

	msg, err := kind.Message(q.codecs, args)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to encode args: %w", err)
	}
	if options.Codec != "" && options.Codec != msg.Codec {
		payload, err := q.codecs.Encode(options.Codec, args)
		if err != nil {
			return "", fmt.Errorf("jobs: failed to encode args: %w", err)
		}
		msg.Codec, msg.Payload = options.Codec, payload
	}
	options.apply(&msg, q.now())

	return q.Submit(ctx, qc, msg)
}

// Submit sends a prepared message. Producers that do not host the handler use
// it directly; the job type does not need to be registered locally.
func (q *Queue) Submit(ctx context.Context, qc core.QueueCtx, msg core.JobMessage) (core.JobID, error) {
	if err := security.ValidateTenant(qc.TenantID); err != nil {
		return "", err
	}
	if msg.Codec != "" {
		if _, err := q.codecs.Lookup(msg.Codec); err != nil {
			return "", err
		}
	}

	caps := q.backend.Capabilities()
	if err := security.ValidateMessage(msg, caps.MaxPayloadBytes); err != nil {
		return "", err
	}
	if msg.IdempotencyKey != "" && !caps.IdempotentEnqueue {
		return "", fmt.Errorf("%w: idempotent enqueue", core.ErrBackendUnsupported)
	}
	if msg.RunAt.After(q.now()) && !caps.DelayedRun {
		return "", fmt.Errorf("%w: delayed run", core.ErrBackendUnsupported)
	}
	if msg.Priority != core.PriorityNormal && !caps.Priorities {
		return "", fmt.Errorf("%w: priorities", core.ErrBackendUnsupported)
	}

	id, err := q.backend.Enqueue(ctx, qc, msg)
	if err != nil {
		return "", fmt.Errorf("jobs: failed to enqueue: %w", err)
	}
	q.logger.Debug("job enqueued",
		"job_id", id,
		"tenant", qc.TenantID,
		"queue", msg.Queue,
		"type", msg.Type,
		"trace_id", qc.TraceID,
	)
	return id, nil
}

// Cancel cancels a job. It returns false when the job had already finished.
func (q *Queue) Cancel(ctx context.Context, qc core.QueueCtx, id core.JobID) (bool, error) {
	return q.backend.Cancel(ctx, qc, id)
}

// Status returns the job's current status.
func (q *Queue) Status(ctx context.Context, qc core.QueueCtx, id core.JobID) (core.JobStatus, error) {
	return q.backend.GetStatus(ctx, qc, id)
}

// Job returns a snapshot of the job record when the backend supports inspection.
func (q *Queue) Job(ctx context.Context, qc core.QueueCtx, id core.JobID) (*core.JobRecord, error) {
	insp, ok := q.backend.(core.Inspector)
	if !ok {
		return nil, fmt.Errorf("%w: inspection", core.ErrBackendUnsupported)
	}
	return insp.GetJob(ctx, qc, id)
}

// Jobs lists the tenant's jobs in a state ("" for all) when the backend supports inspection.
func (q *Queue) Jobs(ctx context.Context, qc core.QueueCtx, state core.State, limit int) ([]*core.JobRecord, error) {
	insp, ok := q.backend.(core.Inspector)
	if !ok {
		return nil, fmt.Errorf("%w: inspection", core.ErrBackendUnsupported)
	}
	return insp.ListJobs(ctx, qc, state, limit)
}

// Events subscribes to the tenant's job events.
// The caller must Close the stream or cancel ctx to release it.
func (q *Queue) Events(ctx context.Context, qc core.QueueCtx) (core.EventStream, error) {
	if !q.backend.Capabilities().EventStream {
		return nil, fmt.Errorf("%w: event stream", core.ErrBackendUnsupported)
	}
	return q.backend.Events(ctx, qc)
}

// Watch calls fn for every event of the tenant until ctx is canceled.
func (q *Queue) Watch(ctx context.Context, qc core.QueueCtx, fn func(core.JobEvent)) error {
	stream, err := q.Events(ctx, qc)
	if err != nil {
		return err
	}
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.C():
			if !ok {
				return ctx.Err()
			}
			fn(ev)
		}
	}
}

// NewWorker creates a worker for qc sharing this queue's backend and registries.
func (q *Queue) NewWorker(qc core.QueueCtx, opts ...worker.WorkerOption) *worker.Worker {
	return worker.NewWorker(q.backend, q.registry, q.codecs, qc, opts...)
}
