package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	c, err := LoadEnv(map[string]string{})
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestLoad_FromProcessEnv(t *testing.T) {
	t.Setenv("JOBS_DEFAULT_QUEUE", "emails")
	t.Setenv("JOBS_WORKER_CONCURRENCY", "4")
	t.Setenv("JOBS_LEASE_DURATION", "2m")
	t.Setenv("JOBS_RETRY_JITTER", "0")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "emails", c.DefaultQueue)
	assert.Equal(t, 4, c.WorkerConcurrency)
	assert.Equal(t, 2*time.Minute, c.LeaseDuration)
	assert.Zero(t, c.RetryJitter)
	assert.Equal(t, 5*time.Second, c.ReaperInterval)
}

func TestLoad_ParseError(t *testing.T) {
	_, err := LoadEnv(map[string]string{"JOBS_POLL_INTERVAL": "soon"})
	assert.Error(t, err)
}

func TestLoad_ValidationError(t *testing.T) {
	_, err := LoadEnv(map[string]string{"JOBS_WORKER_CONCURRENCY": "0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker_concurrency")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"queue", func(c *Config) { c.DefaultQueue = "" }, "default_queue"},
		{"lease", func(c *Config) { c.LeaseDuration = 0 }, "lease_duration"},
		{"poll", func(c *Config) { c.PollInterval = -time.Second }, "poll_interval"},
		{"max delay", func(c *Config) { c.MaxRetryDelay = time.Millisecond }, "max_retry_delay"},
		{"reaper", func(c *Config) { c.ReaperInterval = 0 }, "reaper_interval"},
		{"payload", func(c *Config) { c.MaxPayloadBytes = 0 }, "max_payload_bytes"},
		{"buffer", func(c *Config) { c.EventBuffer = -1 }, "event_buffer"},
		{"jitter", func(c *Config) { c.RetryJitter = 1.5 }, "retry_jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestBackoff(t *testing.T) {
	c := Default()
	assert.Equal(t, 0.1, c.Backoff().Jitter)
	assert.Zero(t, c.ReaperBackoff().Jitter)
	assert.Equal(t, 4*time.Second, c.ReaperBackoff().Delay(3))
}
