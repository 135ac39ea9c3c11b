// Package config holds the engine's tunables and loads them from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/security"
)

// EnvPrefix is prepended to every variable name read by Load.
const EnvPrefix = "JOBS_"

// Config is the configuration surface shared by the store, reaper and workers.
type Config struct {
	DefaultQueue      string        `env:"DEFAULT_QUEUE" envDefault:"default"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"10"`
	LeaseDuration     time.Duration `env:"LEASE_DURATION" envDefault:"30s"`
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"100ms"`
	BaseRetryDelay    time.Duration `env:"BASE_RETRY_DELAY" envDefault:"1s"`
	MaxRetryDelay     time.Duration `env:"MAX_RETRY_DELAY" envDefault:"1m"`
	ReaperInterval    time.Duration `env:"REAPER_INTERVAL" envDefault:"5s"`
	MaxPayloadBytes   int           `env:"MAX_PAYLOAD_BYTES" envDefault:"1048576"`
	EventBuffer       int           `env:"EVENT_BUFFER" envDefault:"256"`
	RetryJitter       float64       `env:"RETRY_JITTER" envDefault:"0.1"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		DefaultQueue:      string(core.DefaultQueue),
		WorkerConcurrency: 10,
		LeaseDuration:     30 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BaseRetryDelay:    time.Second,
		MaxRetryDelay:     time.Minute,
		ReaperInterval:    5 * time.Second,
		MaxPayloadBytes:   security.DefaultMaxPayloadBytes,
		EventBuffer:       256,
		RetryJitter:       0.1,
	}
}

// Load reads JOBS_* variables on top of the defaults and validates the result.
func Load() (Config, error) {
	return LoadEnv(nil)
}

// LoadEnv is Load with an explicit environment. A nil map reads the process environment.
func LoadEnv(environ map[string]string) (Config, error) {
	var c Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return Config{}, fmt.Errorf("jobs: load config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if err := security.ValidateQueueName(c.DefaultQueue); err != nil {
		errs = append(errs, fmt.Errorf("default_queue: %w", err))
	}
	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > security.MaxConcurrency {
		errs = append(errs, fmt.Errorf("worker_concurrency must be in [1, %d], got %d", security.MaxConcurrency, c.WorkerConcurrency))
	}
	if c.LeaseDuration <= 0 {
		errs = append(errs, errors.New("lease_duration must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.BaseRetryDelay < 0 {
		errs = append(errs, errors.New("base_retry_delay must not be negative"))
	}
	if c.MaxRetryDelay < c.BaseRetryDelay {
		errs = append(errs, errors.New("max_retry_delay must be >= base_retry_delay"))
	}
	if c.ReaperInterval <= 0 {
		errs = append(errs, errors.New("reaper_interval must be positive"))
	}
	if c.MaxPayloadBytes <= 0 {
		errs = append(errs, errors.New("max_payload_bytes must be positive"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, errors.New("event_buffer must be positive"))
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		errs = append(errs, errors.New("retry_jitter must be in [0, 1]"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("jobs: invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Backoff returns the worker's retry policy.
func (c Config) Backoff() core.Backoff {
	return core.Backoff{Base: c.BaseRetryDelay, Max: c.MaxRetryDelay, Jitter: c.RetryJitter}
}

// ReaperBackoff returns the reaper's policy, which never jitters.
func (c Config) ReaperBackoff() core.Backoff {
	return core.Backoff{Base: c.BaseRetryDelay, Max: c.MaxRetryDelay}
}
