// Package worker provides the Worker job processor for the jobs package.
package worker

import (
	"log/slog"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/security"
)

// WorkerOption configures a Worker.
type WorkerOption interface {
	ApplyWorker(*WorkerConfig)
}

type workerOptionFunc func(*WorkerConfig)

func (f workerOptionFunc) ApplyWorker(c *WorkerConfig) { f(c) }

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Queues       []core.QueueName
	Concurrency  int
	PollInterval time.Duration
	WorkerID     string
	Backoff      core.Backoff

	// HeartbeatInterval fixes the lease renewal period. Zero renews after a
	// third of the remaining lease.
	HeartbeatInterval time.Duration
	DisableHeartbeat  bool

	StorageRetry *RetryConfig
	DequeueRetry *RetryConfig

	Logger *slog.Logger
	Clock  func() time.Time
}

// Concurrency sets the number of polling goroutines.
// Values are clamped to [1, MaxConcurrency].
func Concurrency(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(n)
	})
}

// WorkerQueue adds a queue to poll. Queues are polled together; the best
// eligible job among them is leased first.
func WorkerQueue(name core.QueueName) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		for _, q := range c.Queues {
			if q == name {
				return
			}
		}
		c.Queues = append(c.Queues, name)
	})
}

// Queues replaces the polled queue list.
func Queues(names ...core.QueueName) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Queues = append([]core.QueueName(nil), names...)
	})
}

// PollInterval sets how long an idle goroutine waits before polling again.
func PollInterval(d time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		if d > 0 {
			c.PollInterval = d
		}
	})
}

// WorkerID sets the id reported to handlers and in logs.
func WorkerID(id string) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = id
	})
}

// WithBackoff sets the retry delay policy for failed handlers.
func WithBackoff(b core.Backoff) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Backoff = b
	})
}

// WithHeartbeat fixes the lease renewal period.
func WithHeartbeat(interval time.Duration) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.HeartbeatInterval = interval
		c.DisableHeartbeat = false
	})
}

// DisableHeartbeat turns off lease renewal while handlers run.
func DisableHeartbeat() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DisableHeartbeat = true
	})
}

// WithStorageRetry sets the retry policy for acknowledgments and heartbeats.
func WithStorageRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.StorageRetry = &cfg
	})
}

// WithDequeueRetry sets the retry policy for dequeue calls.
func WithDequeueRetry(cfg RetryConfig) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.DequeueRetry = &cfg
	})
}

// WithRetryAttempts sets the storage retry attempts, keeping the other defaults.
func WithRetryAttempts(n int) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		cfg := DefaultRetryConfig()
		cfg.MaxAttempts = n
		c.StorageRetry = &cfg
	})
}

// DisableRetry makes every backend call a single attempt.
func DisableRetry() WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		storage := DefaultRetryConfig()
		storage.MaxAttempts = 1
		dequeue := DefaultDequeueRetryConfig()
		dequeue.MaxAttempts = 1
		c.StorageRetry = &storage
		c.DequeueRetry = &dequeue
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Logger = l
	})
}

// WithClock replaces time.Now for retry and heartbeat scheduling.
func WithClock(now func() time.Time) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Clock = now
	})
}

// FromConfig applies the worker-related fields of cfg.
func FromConfig(cfg config.Config) WorkerOption {
	return workerOptionFunc(func(c *WorkerConfig) {
		c.Concurrency = security.ClampConcurrency(cfg.WorkerConcurrency)
		PollInterval(cfg.PollInterval).ApplyWorker(c)
		c.Backoff = cfg.Backoff()
		if len(c.Queues) == 0 && cfg.DefaultQueue != "" {
			c.Queues = []core.QueueName{core.QueueName(cfg.DefaultQueue)}
		}
	})
}
