package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
	intctx "github.com/jdziat/tenant-jobs/pkg/internal/context"
	"github.com/jdziat/tenant-jobs/pkg/registry"
)

// minHeartbeat bounds how often a heartbeat may fire.
const minHeartbeat = 10 * time.Millisecond

// Worker processes jobs for one tenant.
type Worker struct {
	backend  core.Backend
	extender core.LeaseExtender
	registry *registry.Registry
	codecs   *codec.Registry
	qc       core.QueueCtx
	config   WorkerConfig
	logger   *slog.Logger
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewWorker creates a worker that leases qc.TenantID's jobs from backend.
func NewWorker(backend core.Backend, reg *registry.Registry, codecs *codec.Registry, qc core.QueueCtx, opts ...WorkerOption) *Worker {
	defaults := config.Default()
	cfg := WorkerConfig{
		Concurrency:  defaults.WorkerConcurrency,
		PollInterval: defaults.PollInterval,
		WorkerID:     uuid.New().String(),
		Backoff:      defaults.Backoff(),
	}

	for _, opt := range opts {
		opt.ApplyWorker(&cfg)
	}

	// If no queues configured, use default
	if len(cfg.Queues) == 0 {
		cfg.Queues = []core.QueueName{core.DefaultQueue}
	}

	// Set default retry configs if not specified
	if cfg.StorageRetry == nil {
		storageCfg := DefaultRetryConfig()
		cfg.StorageRetry = &storageCfg
	}
	if cfg.DequeueRetry == nil {
		dequeueCfg := DefaultDequeueRetryConfig()
		cfg.DequeueRetry = &dequeueCfg
	}
	if codecs == nil {
		codecs = codec.NewRegistry()
	}

	w := &Worker{
		backend:  backend,
		registry: reg,
		codecs:   codecs,
		qc:       qc,
		config:   cfg,
		logger:   cfg.Logger,
		now:      cfg.Clock,
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("worker_id", cfg.WorkerID, "tenant", qc.TenantID)
	if w.now == nil {
		w.now = time.Now
	}
	if ext, ok := backend.(core.LeaseExtender); ok && backend.Capabilities().LeaseExtension && !cfg.DisableHeartbeat {
		w.extender = ext
	}
	return w
}

// Config returns the effective configuration.
func (w *Worker) Config() WorkerConfig { return w.config }

// Start freezes the registry and processes jobs until ctx is canceled.
// In-flight jobs finish before it returns ctx.Err().
func (w *Worker) Start(ctx context.Context) error {
	w.registry.Freeze()
	w.logger.Info("worker started",
		"queues", w.config.Queues,
		"concurrency", w.config.Concurrency,
		"trace_id", w.qc.TraceID,
	)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.pollLoop(ctx)
	}
	w.wg.Wait()

	w.logger.Info("worker stopped")
	return ctx.Err()
}

var _ core.Starter = (*Worker)(nil)

func (w *Worker) pollLoop(ctx context.Context) {
	defer w.wg.Done()

	idle := time.NewTimer(w.config.PollInterval)
	defer idle.Stop()

	for ctx.Err() == nil {
		found, err := w.ProcessOne(ctx)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			w.logger.Error("failed to dequeue after retries", "error", err)
		}
		if found {
			continue
		}

		idle.Reset(w.config.PollInterval)
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
		}
	}
}

// ProcessOne leases and runs at most one job. It reports whether a job was found.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	lj, err := w.dequeueWithRetry(ctx)
	if err != nil {
		return false, err
	}
	if lj == nil {
		return false, nil
	}
	w.processJob(ctx, lj)
	return true, nil
}

// dequeueWithRetry attempts to dequeue a job with exponential backoff on failure.
func (w *Worker) dequeueWithRetry(ctx context.Context) (*core.LeasedJob, error) {
	var lj *core.LeasedJob
	err := retryWithBackoff(ctx, *w.config.DequeueRetry, func() error {
		var dequeueErr error
		lj, dequeueErr = w.backend.Dequeue(ctx, w.qc, w.config.Queues)
		return dequeueErr
	})
	return lj, err
}

func (w *Worker) processJob(ctx context.Context, lj *core.LeasedJob) {
	job := lj.Job
	log := w.logger.With(
		"job_id", job.ID,
		"queue", job.Message.Queue,
		"type", job.Message.Type,
		"attempt", job.Attempt,
	)

	// Acknowledgments outlive worker shutdown so finished work is not lost.
	ackCtx := context.WithoutCancel(ctx)

	entry, ok := w.registry.Lookup(job.Message.Type)
	if !ok {
		log.Error("no handler for job")
		err := fmt.Errorf("%w: no handler registered for %q", core.ErrInternal, job.Message.Type)
		w.ackFail(ackCtx, log, lj, err.Error(), nil)
		return
	}

	jc := &intctx.JobContext{
		Job:      job,
		Queue:    w.qc,
		Token:    lj.Token,
		WorkerID: w.config.WorkerID,
	}
	jc.SetLeaseUntil(lj.LeaseUntil)

	// Create a cancellable context for the heartbeat goroutine
	heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
	defer cancelHeartbeat()
	var heartbeatDone chan struct{}
	if w.extender != nil {
		jc.ExtendLease = func(ctx context.Context) (time.Time, error) {
			return w.extender.ExtendLease(ctx, w.qc, job.ID, lj.Token)
		}
		heartbeatDone = make(chan struct{})
		go func() {
			defer close(heartbeatDone)
			w.runHeartbeat(heartbeatCtx, log, jc)
		}()
	}

	log.Debug("executing job")
	start := w.now()
	result, err := entry.Execute(intctx.WithJobContext(ctx, jc), w.codecs, job.Message)

	// Stop heartbeat before completing/failing the job
	cancelHeartbeat()
	if heartbeatDone != nil {
		<-heartbeatDone
	}

	if err != nil {
		w.handleError(ackCtx, log, lj, err)
		return
	}

	ackErr := retryWithBackoff(ackCtx, *w.config.StorageRetry, func() error {
		return w.backend.AckComplete(ackCtx, w.qc, job.ID, lj.Token, result)
	})
	if w.reportAck(log, "complete", ackErr) {
		log.Debug("job completed", "duration", w.now().Sub(start))
	}
}

// handleError translates a handler error into an acknowledgment.
func (w *Worker) handleError(ctx context.Context, log *slog.Logger, lj *core.LeasedJob, err error) {
	job := lj.Job

	if core.IsPermanent(err) {
		log.Warn("job failed permanently", "error", err)
		w.ackFail(ctx, log, lj, err.Error(), nil)
		return
	}

	if !job.RetriesLeft() {
		log.Warn("job failed, no retries left", "error", err, "max_retries", job.Message.MaxRetries)
		w.ackFail(ctx, log, lj, err.Error(), nil)
		return
	}

	delay, explicit := core.RetryDelay(err)
	if !explicit {
		delay = w.config.Backoff.Delay(job.Attempt)
	}
	retryAt := w.now().Add(delay)
	log.Info("job failed, retrying", "error", err, "retry_at", retryAt)
	w.ackFail(ctx, log, lj, err.Error(), &retryAt)
}

// ackFail reports a failed attempt with retry on transient storage failures.
func (w *Worker) ackFail(ctx context.Context, log *slog.Logger, lj *core.LeasedJob, errMsg string, retryAt *time.Time) {
	err := retryWithBackoff(ctx, *w.config.StorageRetry, func() error {
		return w.backend.AckFail(ctx, w.qc, lj.Job.ID, lj.Token, errMsg, retryAt)
	})
	w.reportAck(log, "fail", err)
}

// reportAck logs an acknowledgment outcome and reports whether it was applied.
// Lease races are expected: the ledger has already settled the job.
func (w *Worker) reportAck(log *slog.Logger, op string, err error) bool {
	switch {
	case err == nil:
		return true
	case core.IsLeaseRace(err):
		log.Info("acknowledgment lost lease race", "op", op, "error", err)
	default:
		log.Error("failed to acknowledge job after retries", "op", op, "error", err)
	}
	return false
}

// runHeartbeat periodically extends the lease while the handler runs.
// Renewal is best effort; a lost lease ends the heartbeat.
func (w *Worker) runHeartbeat(ctx context.Context, log *slog.Logger, jc *intctx.JobContext) {
	timer := time.NewTimer(w.heartbeatDelay(jc.LeaseUntil()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			until, err := jc.ExtendLease(ctx)
			switch {
			case err == nil:
				jc.SetLeaseUntil(until)
				log.Debug("heartbeat sent", "lease_until", until)
			case errors.Is(err, context.Canceled):
				return
			case !IsRetryableError(err):
				log.Warn("heartbeat stopped, lease lost", "error", err)
				return
			default:
				log.Warn("heartbeat failed", "error", err)
			}
			timer.Reset(w.heartbeatDelay(jc.LeaseUntil()))
		}
	}
}

func (w *Worker) heartbeatDelay(leaseUntil time.Time) time.Duration {
	d := w.config.HeartbeatInterval
	if d <= 0 {
		d = leaseUntil.Sub(w.now()) / 3
	}
	if d < minHeartbeat {
		d = minHeartbeat
	}
	return d
}
