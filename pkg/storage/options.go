package storage

import (
	"log/slog"
	"time"

	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Option configures a MemoryStore.
type Option interface {
	applyStore(*MemoryStore)
}

type optionFunc func(*MemoryStore)

func (f optionFunc) applyStore(s *MemoryStore) { f(s) }

// WithClock replaces time.Now. Tests use it to drive lease expiry.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	})
}

// WithLeaseDuration sets how long a lease grant lasts.
func WithLeaseDuration(d time.Duration) Option {
	return optionFunc(func(s *MemoryStore) {
		if d > 0 {
			s.leaseDuration = d
		}
	})
}

// WithMaxPayloadBytes sets the payload size limit.
func WithMaxPayloadBytes(n int) Option {
	return optionFunc(func(s *MemoryStore) {
		if n > 0 {
			s.maxPayloadBytes = n
		}
	})
}

// WithDefaultQueue sets the queue used when a message or dequeue names none.
func WithDefaultQueue(q core.QueueName) Option {
	return optionFunc(func(s *MemoryStore) {
		if q != "" {
			s.defaultQueue = q
		}
	})
}

// WithEventBuffer sets the per-subscription event buffer.
func WithEventBuffer(n int) Option {
	return optionFunc(func(s *MemoryStore) {
		if n > 0 {
			s.eventBuffer = n
		}
	})
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(s *MemoryStore) {
		if l != nil {
			s.logger = l
		}
	})
}

// FromConfig applies the store-related fields of cfg.
func FromConfig(cfg config.Config) Option {
	return optionFunc(func(s *MemoryStore) {
		WithLeaseDuration(cfg.LeaseDuration).applyStore(s)
		WithMaxPayloadBytes(cfg.MaxPayloadBytes).applyStore(s)
		WithDefaultQueue(core.QueueName(cfg.DefaultQueue)).applyStore(s)
		WithEventBuffer(cfg.EventBuffer).applyStore(s)
	})
}
