package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/config"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/registry"
	"github.com/jdziat/tenant-jobs/pkg/storage"
)

func TestNewWorker_Defaults(t *testing.T) {
	w := NewWorker(storage.NewMemoryStore(), registry.New(), nil, core.QueueCtx{TenantID: "acme"})
	cfg := w.Config()

	assert.Equal(t, []core.QueueName{core.DefaultQueue}, cfg.Queues)
	assert.Equal(t, 10, cfg.Concurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.PollInterval)
	assert.NotEmpty(t, cfg.WorkerID)
	assert.Equal(t, time.Second, cfg.Backoff.Base)
	require.NotNil(t, cfg.StorageRetry)
	require.NotNil(t, cfg.DequeueRetry)
	assert.Equal(t, 3, cfg.DequeueRetry.MaxAttempts)
	assert.NotNil(t, w.extender, "memory store supports lease extension")
}

func TestNewWorker_DisableHeartbeat(t *testing.T) {
	w := NewWorker(storage.NewMemoryStore(), registry.New(), codec.NewRegistry(), core.QueueCtx{TenantID: "acme"}, DisableHeartbeat())
	assert.Nil(t, w.extender)
}

func TestConcurrency_AppliesCorrectly(t *testing.T) {
	config := WorkerConfig{}
	Concurrency(5).ApplyWorker(&config)
	assert.Equal(t, 5, config.Concurrency)
}

func TestConcurrency_ClampedToMax(t *testing.T) {
	config := WorkerConfig{}

	// MaxConcurrency is 1000
	Concurrency(5000).ApplyWorker(&config)

	assert.Equal(t, 1000, config.Concurrency)
}

func TestConcurrency_ClampedToMin(t *testing.T) {
	config := WorkerConfig{}
	Concurrency(0).ApplyWorker(&config)
	assert.Equal(t, 1, config.Concurrency)
}

func TestWorkerQueue_AddsQueueOnce(t *testing.T) {
	config := WorkerConfig{}

	WorkerQueue("emails").ApplyWorker(&config)
	WorkerQueue("reports").ApplyWorker(&config)
	WorkerQueue("emails").ApplyWorker(&config)

	assert.Equal(t, []core.QueueName{"emails", "reports"}, config.Queues)
}

func TestQueues_Replaces(t *testing.T) {
	config := WorkerConfig{Queues: []core.QueueName{"old"}}
	Queues("a", "b").ApplyWorker(&config)
	assert.Equal(t, []core.QueueName{"a", "b"}, config.Queues)
}

func TestPollInterval_IgnoresNonPositive(t *testing.T) {
	config := WorkerConfig{PollInterval: time.Second}
	PollInterval(0).ApplyWorker(&config)
	assert.Equal(t, time.Second, config.PollInterval)
	PollInterval(time.Millisecond).ApplyWorker(&config)
	assert.Equal(t, time.Millisecond, config.PollInterval)
}

func TestHeartbeatOptions(t *testing.T) {
	config := WorkerConfig{}
	DisableHeartbeat().ApplyWorker(&config)
	assert.True(t, config.DisableHeartbeat)

	WithHeartbeat(time.Second).ApplyWorker(&config)
	assert.False(t, config.DisableHeartbeat)
	assert.Equal(t, time.Second, config.HeartbeatInterval)
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.WorkerConcurrency = 3
	cfg.PollInterval = time.Second
	cfg.DefaultQueue = "fallback"
	cfg.RetryJitter = 0

	wc := WorkerConfig{}
	FromConfig(cfg).ApplyWorker(&wc)

	assert.Equal(t, 3, wc.Concurrency)
	assert.Equal(t, time.Second, wc.PollInterval)
	assert.Equal(t, []core.QueueName{"fallback"}, wc.Queues)
	assert.Equal(t, cfg.Backoff(), wc.Backoff)

	explicit := WorkerConfig{Queues: []core.QueueName{"emails"}}
	FromConfig(cfg).ApplyWorker(&explicit)
	assert.Equal(t, []core.QueueName{"emails"}, explicit.Queues)
}

func TestWorkerOptionFunc_ImplementsInterface(t *testing.T) {
	var opt WorkerOption = workerOptionFunc(func(c *WorkerConfig) {
		c.WorkerID = "custom"
	})

	config := WorkerConfig{}
	opt.ApplyWorker(&config)

	assert.Equal(t, "custom", config.WorkerID)
}
