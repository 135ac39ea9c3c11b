package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/history"
	"github.com/jdziat/tenant-jobs/pkg/metrics"
	"github.com/jdziat/tenant-jobs/pkg/queue"
	"github.com/jdziat/tenant-jobs/pkg/reaper"
	"github.com/jdziat/tenant-jobs/pkg/registry"
	"github.com/jdziat/tenant-jobs/pkg/security"
	"github.com/jdziat/tenant-jobs/pkg/storage"
	"github.com/jdziat/tenant-jobs/pkg/worker"
)

// Engine owns one in-memory backend together with its registries, the lease
// reaper and the optional metrics and journal sinks.
type Engine struct {
	config   config.Config
	logger   *slog.Logger
	now      func() time.Time
	store    *storage.MemoryStore
	queue    *queue.Queue
	reaper   *reaper.Reaper
	metrics  *metrics.Collector
	journal  history.Journal
	recorder *history.Recorder

	workerOpts []worker.WorkerOption

	// ready is closed once Run has subscribed its event sinks.
	ready     chan struct{}
	readyOnce sync.Once
}

// EngineOption configures an Engine.
type EngineOption interface {
	applyEngine(*engineOptions)
}

type engineOptions struct {
	logger      *slog.Logger
	now         func() time.Time
	registerer  prometheus.Registerer
	metrics     bool
	journal     history.Journal
	recorderOps []history.RecorderOption
	workerOpts  []worker.WorkerOption
}

type engineOptionFunc func(*engineOptions)

func (f engineOptionFunc) applyEngine(o *engineOptions) { f(o) }

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) EngineOption {
	return engineOptionFunc(func(o *engineOptions) {
		o.logger = l
	})
}

// WithClock replaces time.Now in the backend, queue and workers.
func WithClock(now func() time.Time) EngineOption {
	return engineOptionFunc(func(o *engineOptions) {
		o.now = now
	})
}

// WithMetrics exports job metrics to reg. A nil reg uses the default registerer.
func WithMetrics(reg prometheus.Registerer) EngineOption {
	return engineOptionFunc(func(o *engineOptions) {
		o.metrics = true
		o.registerer = reg
	})
}

// WithJournal records every tenant's events into j while Run is active.
// The journal must already be migrated.
func WithJournal(j history.Journal, opts ...history.RecorderOption) EngineOption {
	return engineOptionFunc(func(o *engineOptions) {
		o.journal = j
		o.recorderOps = opts
	})
}

// WithWorkerOptions appends options to every worker the engine creates.
func WithWorkerOptions(opts ...WorkerOption) EngineOption {
	return engineOptionFunc(func(o *engineOptions) {
		o.workerOpts = append(o.workerOpts, opts...)
	})
}

// NewEngine validates cfg and wires the components.
func NewEngine(cfg Config, opts ...EngineOption) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := engineOptions{logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt.applyEngine(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}

	store := storage.NewMemoryStore(
		storage.FromConfig(cfg),
		storage.WithClock(o.now),
		storage.WithLogger(o.logger),
	)
	q := queue.New(store, registry.New(), codec.NewRegistry())
	q.SetClock(o.now)
	q.SetLogger(o.logger)

	e := &Engine{
		config: cfg,
		logger: o.logger,
		now:    o.now,
		store:  store,
		queue:  q,
		reaper: reaper.New(store, reaper.FromConfig(cfg), reaper.WithLogger(o.logger)),
		ready:  make(chan struct{}),
	}
	e.workerOpts = append([]worker.WorkerOption{
		worker.FromConfig(cfg),
		worker.WithLogger(o.logger),
		worker.WithClock(o.now),
	}, o.workerOpts...)
	if o.metrics {
		e.metrics = metrics.New(o.registerer)
	}
	if o.journal != nil {
		e.journal = o.journal
		e.recorder = history.NewRecorder(o.journal, append([]history.RecorderOption{history.WithLogger(o.logger)}, o.recorderOps...)...)
	}
	return e, nil
}

// Config returns the validated configuration the engine was built with.
func (e *Engine) Config() Config { return e.config }

// Queue returns the producer API bound to the engine's backend.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Store returns the in-memory backend.
func (e *Engine) Store() *storage.MemoryStore { return e.store }

// Reaper returns the lease reaper started by Run.
func (e *Engine) Reaper() *reaper.Reaper { return e.reaper }

// Registry returns the job registry shared by the queue and workers.
func (e *Engine) Registry() *registry.Registry { return e.queue.Registry() }

// Codecs returns the codec registry shared by the queue and workers.
func (e *Engine) Codecs() *codec.Registry { return e.queue.Codecs() }

// Metrics returns the Prometheus collector, or nil without WithMetrics.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// Journal returns the event journal, or nil without WithJournal.
func (e *Engine) Journal() history.Journal { return e.journal }

// Capabilities reports the backend's optional features.
func (e *Engine) Capabilities() core.Capabilities { return e.store.Capabilities() }

// Ready is closed once Run has subscribed the metrics and journal sinks.
// Events published before that are not observed by them.
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Register adds a job type to the engine's registry. It fails once any
// worker has started.
func Register[T any](e *Engine, def Definition[T]) (*Kind[T], error) {
	return registry.Register(e.Registry(), def)
}

// MustRegister is Register that panics on error.
func MustRegister[T any](e *Engine, def Definition[T]) *Kind[T] {
	return registry.MustRegister(e.Registry(), def)
}

// Enqueue encodes args with kind's codec and submits the job.
func Enqueue[T any](ctx context.Context, e *Engine, qc QueueCtx, kind *Kind[T], args T, opts ...Option) (JobID, error) {
	return queue.Enqueue(ctx, e.queue, qc, kind, args, opts...)
}

// Cancel cancels a job that has not reached a terminal state.
func (e *Engine) Cancel(ctx context.Context, qc QueueCtx, id JobID) (bool, error) {
	return e.queue.Cancel(ctx, qc, id)
}

// Status returns a job's current status.
func (e *Engine) Status(ctx context.Context, qc QueueCtx, id JobID) (JobStatus, error) {
	return e.queue.Status(ctx, qc, id)
}

// Events subscribes to a tenant's job events.
func (e *Engine) Events(ctx context.Context, qc QueueCtx) (EventStream, error) {
	return e.queue.Events(ctx, qc)
}

// NewWorker creates a worker for qc configured from the engine's config.
func (e *Engine) NewWorker(qc QueueCtx, opts ...WorkerOption) *Worker {
	all := make([]worker.WorkerOption, 0, len(e.workerOpts)+len(opts))
	all = append(all, e.workerOpts...)
	all = append(all, opts...)
	return e.queue.NewWorker(qc, all...)
}

// pollQueues lists the default queue followed by the queues of registered types.
func (e *Engine) pollQueues() []WorkerOption {
	reg := e.Registry()
	opts := []WorkerOption{worker.WorkerQueue(QueueName(e.config.DefaultQueue))}
	for _, t := range reg.Types() {
		if entry, ok := reg.Lookup(t); ok && entry.Queue != "" {
			opts = append(opts, worker.WorkerQueue(entry.Queue))
		}
	}
	return opts
}

// Run starts the reaper and, for each tenant, a worker plus the configured
// metrics and journal subscribers. It blocks until ctx is canceled or a
// component fails, and returns nil on cancellation.
//
// Run freezes the registry. Workers poll the default queue and every queue
// named by a registered Definition; jobs sent elsewhere with QueueOpt need
// WithWorkerOptions(WorkerQueue(...)).
func (e *Engine) Run(ctx context.Context, tenants ...TenantID) error {
	if len(tenants) == 0 {
		return fmt.Errorf("%w: at least one tenant is required", core.ErrInvalidTenant)
	}
	for _, t := range tenants {
		if err := security.ValidateTenant(t); err != nil {
			return fmt.Errorf("tenant %q: %w", t, err)
		}
	}

	e.Registry().Freeze()
	queues := e.pollQueues()

	g, gctx := errgroup.WithContext(ctx)

	type subscriber struct {
		run    func(core.EventStream) error
		stream core.EventStream
	}
	var subs []subscriber
	closeAll := func() {
		for _, s := range subs {
			s.stream.Close()
		}
	}
	for _, t := range tenants {
		qc := QueueCtx{TenantID: t}
		if e.metrics != nil {
			stream, err := e.queue.Events(gctx, qc)
			if err != nil {
				closeAll()
				return fmt.Errorf("subscribe metrics for %q: %w", t, err)
			}
			subs = append(subs, subscriber{stream: stream, run: func(s core.EventStream) error { return e.metrics.Run(gctx, t, s) }})
		}
		if e.recorder != nil {
			stream, err := e.queue.Events(gctx, qc)
			if err != nil {
				closeAll()
				return fmt.Errorf("subscribe journal for %q: %w", t, err)
			}
			subs = append(subs, subscriber{stream: stream, run: func(s core.EventStream) error { return e.recorder.Run(gctx, s) }})
		}
	}

	e.readyOnce.Do(func() { close(e.ready) })

	g.Go(func() error { return e.reaper.Run(gctx) })
	for _, s := range subs {
		g.Go(func() error { return s.run(s.stream) })
	}
	for _, t := range tenants {
		w := e.NewWorker(QueueCtx{TenantID: t}, queues...)
		g.Go(func() error { return w.Start(gctx) })
	}

	e.logger.Info("engine started", "tenants", len(tenants))
	err := g.Wait()
	e.logger.Info("engine stopped")

	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return nil
	}
	return err
}
