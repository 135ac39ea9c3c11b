// Package reaper reclaims jobs whose lease lapsed without an acknowledgment.
//
// A sweep turns every expired processing job back into a retrying job, or a
// failed one when its retries are spent. This is what makes execution
// at-least-once: a crashed worker's job becomes eligible again on its own.
package reaper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Option configures a Reaper.
type Option interface {
	applyReaper(*Reaper)
}

type optionFunc func(*Reaper)

func (f optionFunc) applyReaper(r *Reaper) { f(r) }

// Interval sets the time between sweeps.
func Interval(d time.Duration) Option {
	return optionFunc(func(r *Reaper) {
		if d > 0 {
			r.interval = d
		}
	})
}

// WithBackoff sets the retry delay policy for reclaimed jobs.
func WithBackoff(b core.Backoff) Option {
	return optionFunc(func(r *Reaper) { r.backoff = b })
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(r *Reaper) {
		if l != nil {
			r.logger = l
		}
	})
}

// FromConfig applies the reaper-related fields of cfg.
func FromConfig(cfg config.Config) Option {
	return optionFunc(func(r *Reaper) {
		Interval(cfg.ReaperInterval).applyReaper(r)
		r.backoff = cfg.ReaperBackoff()
	})
}

// Reaper periodically sweeps a backend for expired leases.
type Reaper struct {
	backend  core.Reclaimer
	interval time.Duration
	backoff  core.Backoff
	logger   *slog.Logger
}

// New creates a reaper with the default configuration.
func New(backend core.Reclaimer, opts ...Option) *Reaper {
	cfg := config.Default()
	r := &Reaper{
		backend:  backend,
		interval: cfg.ReaperInterval,
		backoff:  cfg.ReaperBackoff(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt.applyReaper(r)
	}
	return r
}

// Sweep runs one reclamation pass.
func (r *Reaper) Sweep(ctx context.Context) (core.ReclaimResult, error) {
	res, err := r.backend.ReclaimExpired(ctx, r.backoff)
	if err != nil {
		return res, err
	}
	if n := res.Retrying + res.Failed; n > 0 {
		r.logger.Info("reclaimed expired leases", "retrying", res.Retrying, "failed", res.Failed)
	} else {
		r.logger.Debug("reaper sweep found no expired leases")
	}
	return res, nil
}

// Run sweeps every interval until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return ctx.Err()
				}
				r.logger.Error("reaper sweep failed", "error", err)
			}
		}
	}
}

// Start implements core.Starter.
func (r *Reaper) Start(ctx context.Context) error { return r.Run(ctx) }

var _ core.Starter = (*Reaper)(nil)
