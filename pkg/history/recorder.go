package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

const (
	DefaultFlushInterval = time.Second
	DefaultRetention     = 7 * 24 * time.Hour
	flushTimeout         = 5 * time.Second
)

type statKey struct {
	tenant core.TenantID
	queue  core.QueueName
	minute time.Time
}

// Recorder buffers events from a stream and writes them to a Journal.
type Recorder struct {
	journal       Journal
	flushInterval time.Duration
	retention     time.Duration
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	pending  []core.JobEvent
	counters map[statKey]*Counters
}

// RecorderOption configures the Recorder.
type RecorderOption interface {
	applyRecorder(*Recorder)
}

type recorderOptionFunc func(*Recorder)

func (f recorderOptionFunc) applyRecorder(r *Recorder) { f(r) }

// WithFlushInterval sets how often buffered events are written.
func WithFlushInterval(d time.Duration) RecorderOption {
	return recorderOptionFunc(func(r *Recorder) {
		if d > 0 {
			r.flushInterval = d
		}
	})
}

// WithRetention sets how long stat rows are kept. Zero disables pruning.
func WithRetention(d time.Duration) RecorderOption {
	return recorderOptionFunc(func(r *Recorder) {
		r.retention = d
	})
}

// WithLogger sets the recorder's logger.
func WithLogger(l *slog.Logger) RecorderOption {
	return recorderOptionFunc(func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	})
}

// WithClock sets the clock used for pruning.
func WithClock(now func() time.Time) RecorderOption {
	return recorderOptionFunc(func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	})
}

// NewRecorder creates a Recorder writing to journal.
func NewRecorder(journal Journal, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		journal:       journal,
		flushInterval: DefaultFlushInterval,
		retention:     DefaultRetention,
		logger:        slog.Default(),
		now:           time.Now,
		counters:      make(map[statKey]*Counters),
	}
	for _, opt := range opts {
		opt.applyRecorder(r)
	}
	return r
}

// Record buffers one event until the next Flush.
func (r *Recorder) Record(ev core.JobEvent) {
	k := statKey{tenant: ev.TenantID, queue: ev.Queue, minute: ev.Timestamp.UTC().Truncate(time.Minute)}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, ev)
	c, ok := r.counters[k]
	if !ok {
		c = &Counters{}
		r.counters[k] = c
	}
	c.count(ev.Kind)
}

// Flush writes buffered events and counters. Whatever was not written is put
// back and retried by the next Flush.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	evs := r.pending
	counters := r.counters
	r.pending = nil
	r.counters = make(map[statKey]*Counters)
	r.mu.Unlock()

	if err := r.journal.Append(ctx, evs); err != nil {
		r.logger.Error("failed to journal events", "count", len(evs), "error", err)
		r.restore(evs, counters)
		return err
	}
	for k, c := range counters {
		if c.zero() {
			delete(counters, k)
			continue
		}
		if err := r.journal.UpsertStatCounters(ctx, k.tenant, k.queue, k.minute, *c); err != nil {
			r.logger.Error("failed to update job stats", "tenant", k.tenant, "queue", k.queue, "error", err)
			r.restore(nil, counters)
			return err
		}
		delete(counters, k)
	}
	return nil
}

// restore merges unwritten events and counters ahead of anything recorded
// since the batch was taken.
func (r *Recorder) restore(evs []core.JobEvent, counters map[statKey]*Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(evs) > 0 {
		r.pending = append(evs, r.pending...)
	}
	for k, c := range counters {
		cur, ok := r.counters[k]
		if !ok {
			r.counters[k] = c
			continue
		}
		cur.Enqueued += c.Enqueued
		cur.Completed += c.Completed
		cur.Failed += c.Failed
		cur.Retried += c.Retried
		cur.Canceled += c.Canceled
	}
}

func (r *Recorder) prune(ctx context.Context) {
	if r.retention <= 0 {
		return
	}
	n, err := r.journal.PruneStats(ctx, r.now().Add(-r.retention))
	if err != nil {
		r.logger.Error("failed to prune job stats", "error", err)
		return
	}
	if n > 0 {
		r.logger.Debug("pruned job stats", "rows", n)
	}
}

// Run records stream until it closes or ctx ends, then flushes and closes it.
// It returns ctx.Err() when ctx ended.
func (r *Recorder) Run(ctx context.Context, stream core.EventStream) error {
	defer stream.Close()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	// Batches are written on a detached context bounded by flushTimeout.
	flush := func(prune bool) {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
		defer cancel()
		_ = r.Flush(flushCtx)
		if prune {
			r.prune(flushCtx)
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush(false)
			return ctx.Err()
		case ev, ok := <-stream.C():
			if !ok {
				flush(false)
				return ctx.Err()
			}
			r.Record(ev)
		case <-ticker.C:
			flush(true)
		}
	}
}
