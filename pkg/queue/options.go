// Package queue provides the producer API for the jobs package.
package queue

import (
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/security"
)

// Options holds per-submission overrides of a job type's registered defaults.
// Nil or zero fields keep the default.
type Options struct {
	Queue      core.QueueName
	Priority   *core.Priority
	MaxRetries *int
	Delay      time.Duration
	RunAt      *time.Time
	UniqueKey  string
	Codec      core.CodecID
}

// NewOptions creates empty Options.
func NewOptions() *Options {
	return &Options{}
}

// Option modifies Options.
type Option interface {
	Apply(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) Apply(o *Options) { f(o) }

// QueueOpt sets the queue name.
func QueueOpt(name core.QueueName) Option {
	return optionFunc(func(o *Options) {
		o.Queue = name
	})
}

// Priority sets the job priority (higher = runs first).
func Priority(p core.Priority) Option {
	return optionFunc(func(o *Options) {
		o.Priority = &p
	})
}

// Retries sets the maximum retry count.
// Values are clamped to [0, MaxRetries] (100).
func Retries(n int) Option {
	return optionFunc(func(o *Options) {
		n = security.ClampRetries(n)
		o.MaxRetries = &n
	})
}

// Delay schedules the job to run after a duration.
func Delay(d time.Duration) Option {
	return optionFunc(func(o *Options) {
		o.Delay = d
	})
}

// At schedules the job to run at a specific time. It takes precedence over Delay.
func At(t time.Time) Option {
	return optionFunc(func(o *Options) {
		o.RunAt = &t
	})
}

// Unique sets the idempotency key: while a job with the same key, queue and
// type is live, enqueueing returns its id instead of creating a new job.
func Unique(key string) Option {
	return optionFunc(func(o *Options) {
		o.UniqueKey = key
	})
}

// CodecOpt encodes the payload with a codec other than the registered one.
func CodecOpt(id core.CodecID) Option {
	return optionFunc(func(o *Options) {
		o.Codec = id
	})
}

// apply overlays o onto msg. now anchors Delay.
func (o *Options) apply(msg *core.JobMessage, now time.Time) {
	if o.Queue != "" {
		msg.Queue = o.Queue
	}
	if o.Priority != nil {
		msg.Priority = *o.Priority
	}
	if o.MaxRetries != nil {
		msg.MaxRetries = *o.MaxRetries
	}
	if o.Delay > 0 {
		msg.RunAt = now.Add(o.Delay)
	}
	if o.RunAt != nil {
		msg.RunAt = *o.RunAt
	}
	if o.UniqueKey != "" {
		msg.IdempotencyKey = o.UniqueKey
	}
}
