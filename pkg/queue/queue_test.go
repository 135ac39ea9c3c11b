package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/jdziat/tenant-jobs/pkg/codec"
	"github.com/jdziat/tenant-jobs/pkg/core"
	"github.com/jdziat/tenant-jobs/pkg/registry"
	"github.com/jdziat/tenant-jobs/pkg/storage"
	"github.com/jdziat/tenant-jobs/pkg/storage/storagetest"
)

var acme = core.QueueCtx{TenantID: "acme"}

type resizeArgs struct {
	ImageID string `json:"image_id"`
	Width   int    `json:"width"`
}

func noop(context.Context, resizeArgs) (core.ResultRef, error) { return "", nil }

func newTestQueue(t *testing.T) (*Queue, *storage.MemoryStore, *storagetest.Clock) {
	t.Helper()
	clock := storagetest.NewClock(time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore(storage.WithClock(clock.Now), storage.WithMaxPayloadBytes(256))
	q := New(store, registry.New(), codec.NewRegistry())
	q.SetClock(clock.Now)
	return q, store, clock
}

func TestNew_CreatesQueue(t *testing.T) {
	store := storage.NewMemoryStore()
	q := New(store, nil, nil)

	assert.NotNil(t, q)
	assert.Same(t, store, q.Backend())
	assert.NotNil(t, q.Registry())
	assert.NotNil(t, q.Codecs())
	assert.True(t, q.Capabilities().EventStream)
}

func TestEnqueue_UsesRegisteredDefaults(t *testing.T) {
	q, store, clock := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[resizeArgs]{
		Type:       "image.resize",
		Queue:      "media",
		Priority:   core.PriorityHigh,
		MaxRetries: 4,
		Handler:    noop,
	})

	id, err := Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: "img-1", Width: 640})
	require.NoError(t, err)

	rec, err := store.GetJob(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.JobType("image.resize"), rec.Message.Type)
	assert.Equal(t, core.QueueName("media"), rec.Message.Queue)
	assert.Equal(t, core.PriorityHigh, rec.Message.Priority)
	assert.Equal(t, 4, rec.Message.MaxRetries)
	assert.Equal(t, core.CodecJSON, rec.Message.Codec)
	assert.True(t, rec.Message.RunAt.Equal(clock.Now()))
	assert.JSONEq(t, `{"image_id":"img-1","width":640}`, string(rec.Message.Payload))
}

func TestEnqueue_WithOptions(t *testing.T) {
	q, store, clock := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[resizeArgs]{Type: "image.resize", Handler: noop})

	id, err := Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: "img-2"},
		QueueOpt("slow"),
		Priority(core.PriorityLow),
		Retries(1),
		Delay(time.Minute),
	)
	require.NoError(t, err)

	rec, err := store.GetJob(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.QueueName("slow"), rec.Message.Queue)
	assert.Equal(t, core.PriorityLow, rec.Message.Priority)
	assert.Equal(t, 1, rec.Message.MaxRetries)
	assert.True(t, rec.Message.RunAt.Equal(clock.Now().Add(time.Minute)))

	lj, err := store.Dequeue(context.Background(), acme, []core.QueueName{"slow"})
	require.NoError(t, err)
	assert.Nil(t, lj, "delayed job is not yet eligible")
}

func TestEnqueue_Unique(t *testing.T) {
	q, _, _ := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[resizeArgs]{
		Type:           "image.resize",
		IdempotencyKey: func(a resizeArgs) string { return a.ImageID },
		Handler:        noop,
	})

	first, err := Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: "img-3"})
	require.NoError(t, err)
	second, err := Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: "img-3", Width: 10})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	third, err := Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: "img-3"}, Unique("override"))
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestEnqueue_CodecOverride(t *testing.T) {
	q, store, _ := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[*wrapperspb.StringValue]{
		Type:    "note.index",
		Handler: func(context.Context, *wrapperspb.StringValue) (core.ResultRef, error) { return "", nil },
	})

	id, err := Enqueue(context.Background(), q, acme, k, wrapperspb.String("hello"), CodecOpt(core.CodecProto))
	require.NoError(t, err)

	rec, err := store.GetJob(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.CodecProto, rec.Message.Codec)

	var got *wrapperspb.StringValue
	require.NoError(t, q.Codecs().Decode(core.CodecProto, rec.Message.Payload, &got))
	assert.Equal(t, "hello", got.GetValue())
}

func TestEnqueue_Errors(t *testing.T) {
	q, _, _ := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[resizeArgs]{Type: "image.resize", Handler: noop})

	_, err := Enqueue(context.Background(), q, core.QueueCtx{}, k, resizeArgs{})
	assert.ErrorIs(t, err, core.ErrInvalidTenant)

	_, err = Enqueue(context.Background(), q, acme, k, resizeArgs{ImageID: string(make([]byte, 300))})
	assert.ErrorIs(t, err, core.ErrPayloadTooLarge)

	_, err = Enqueue(context.Background(), q, acme, k, resizeArgs{}, CodecOpt("avro/v1"))
	assert.ErrorIs(t, err, core.ErrCodecNotFound)

	_, err = Enqueue(context.Background(), q, acme, k, resizeArgs{}, QueueOpt("bad queue"))
	assert.ErrorIs(t, err, core.ErrInvalidQueueName)
}

func TestSubmit_RawMessage(t *testing.T) {
	q, _, _ := newTestQueue(t)

	id, err := q.Submit(context.Background(), acme, core.JobMessage{
		Type:    "remote.only",
		Payload: []byte("opaque"),
		Codec:   core.CodecRaw,
	})
	require.NoError(t, err)

	st, err := q.Status(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.StateEnqueued, st.State)
}

type limitedBackend struct {
	*storage.MemoryStore
}

func (limitedBackend) Capabilities() core.Capabilities {
	return core.Capabilities{MaxPayloadBytes: 1024}
}

func TestSubmit_ChecksCapabilities(t *testing.T) {
	q := New(limitedBackend{storage.NewMemoryStore()}, nil, nil)

	_, err := q.Submit(context.Background(), acme, core.JobMessage{Type: "a", IdempotencyKey: "k"})
	assert.ErrorIs(t, err, core.ErrBackendUnsupported)

	_, err = q.Submit(context.Background(), acme, core.JobMessage{Type: "a", RunAt: time.Now().Add(time.Hour)})
	assert.ErrorIs(t, err, core.ErrBackendUnsupported)

	_, err = q.Submit(context.Background(), acme, core.JobMessage{Type: "a", Priority: core.PriorityHigh})
	assert.ErrorIs(t, err, core.ErrBackendUnsupported)

	_, err = q.Events(context.Background(), acme)
	assert.ErrorIs(t, err, core.ErrBackendUnsupported)

	_, err = q.Submit(context.Background(), acme, core.JobMessage{Type: "a"})
	assert.NoError(t, err)
}

func TestCancelAndStatus(t *testing.T) {
	q, _, _ := newTestQueue(t)
	id, err := q.Submit(context.Background(), acme, core.JobMessage{Type: "a"})
	require.NoError(t, err)

	ok, err := q.Cancel(context.Background(), acme, id)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := q.Status(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.StateCanceled, st.State)

	jobs, err := q.Jobs(context.Background(), acme, core.StateCanceled, 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, id, jobs[0].ID)

	rec, err := q.Job(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
}

func TestWatch_DeliversEvents(t *testing.T) {
	q, _, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan core.JobEvent, 4)
	done := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		close(ready)
		done <- q.Watch(ctx, acme, func(ev core.JobEvent) { got <- ev })
	}()
	<-ready

	require.Eventually(t, func() bool {
		if _, err := q.Submit(context.Background(), acme, core.JobMessage{Type: "a"}); err != nil {
			return false
		}
		select {
		case ev := <-got:
			return ev.Kind == core.EventEnqueued
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewWorker_SharesRegistries(t *testing.T) {
	q, _, _ := newTestQueue(t)
	k := registry.MustRegister(q.Registry(), registry.Definition[resizeArgs]{Type: "image.resize", Handler: noop})
	id, err := Enqueue(context.Background(), q, acme, k, resizeArgs{})
	require.NoError(t, err)

	w := q.NewWorker(acme)
	found, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, found)

	st, err := q.Status(context.Background(), acme, id)
	require.NoError(t, err)
	assert.Equal(t, core.StateCompleted, st.State)
}
