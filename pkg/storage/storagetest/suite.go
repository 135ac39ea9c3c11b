package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Settings the suite expects the backend to be built with.
const (
	LeaseDuration   = 30 * time.Second
	MaxPayloadBytes = 1024
	DefaultQueue    = core.QueueName("default")
)

// Options is handed to the Factory for each subtest.
type Options struct {
	Now             func() time.Time
	LeaseDuration   time.Duration
	MaxPayloadBytes int
	DefaultQueue    core.QueueName
}

// Factory builds a fresh, empty backend configured with opts.
type Factory func(t *testing.T, opts Options) core.Backend

var (
	tenantA = core.QueueCtx{TenantID: "tenant-a", TraceID: "trace-a"}
	tenantB = core.QueueCtx{TenantID: "tenant-b"}

	reclaimBackoff = core.Backoff{Base: time.Second, Max: time.Minute}
)

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *Clock
	b     core.Backend
}

// Run executes the conformance suite against backends built by factory.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(h *harness)
	}{
		{"EnqueueAppliesDefaults", testEnqueueDefaults},
		{"EnqueueValidation", testEnqueueValidation},
		{"EnqueueCopiesPayload", testEnqueueCopiesPayload},
		{"DequeueEmpty", testDequeueEmpty},
		{"DequeueOrdering", testDequeueOrdering},
		{"DequeueTieBreakByID", testDequeueTieBreak},
		{"DequeueAcrossQueues", testDequeueAcrossQueues},
		{"DequeueDefaultQueue", testDequeueDefaultQueue},
		{"DelayedRunAt", testDelayedRunAt},
		{"AttemptCountsLeases", testAttemptCounting},
		{"AckComplete", testAckComplete},
		{"AckWrongTokenDoesNotMutate", testAckWrongToken},
		{"AckAfterLeaseWindow", testAckAfterLeaseWindow},
		{"AckFailRetryTiming", testAckFailRetryTiming},
		{"AckFailWithoutRetry", testAckFailWithoutRetry},
		{"RetryExhaustion", testRetryExhaustion},
		{"Cancel", testCancel},
		{"CancelWinsOverLaterAck", testCancelWinsOverLaterAck},
		{"TerminalStatesAreFinal", testTerminalFinal},
		{"IdempotentEnqueue", testIdempotency},
		{"IdempotencyScope", testIdempotencyScope},
		{"TenantIsolation", testTenantIsolation},
		{"ReclaimThenRelease", testReclaimScenario},
		{"ReclaimSkipsCanceled", testReclaimSkipsCanceled},
		{"ReclaimExhausted", testReclaimExhausted},
		{"SupersededTokenExpired", testSupersededToken},
		{"ExtendLease", testExtendLease},
		{"EventsPerJobOrder", testEventOrder},
		{"EventsTenantScoped", testEventsTenantScoped},
		{"EventsCloseWithContext", testEventsCloseWithContext},
		{"ConcurrentDequeueNoDoubleLease", testConcurrentDequeue},
		{"ConcurrentCancelAndAck", testConcurrentCancelAck},
		{"Capabilities", testCapabilities},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := NewClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
			b := factory(t, Options{
				Now:             clock.Now,
				LeaseDuration:   LeaseDuration,
				MaxPayloadBytes: MaxPayloadBytes,
				DefaultQueue:    DefaultQueue,
			})
			tc.fn(&harness{t: t, ctx: context.Background(), clock: clock, b: b})
		})
	}
}

func msg(typ string) core.JobMessage {
	return core.JobMessage{Type: core.JobType(typ), Payload: []byte(`{}`), Queue: "q", MaxRetries: 2}
}

func (h *harness) enqueue(qc core.QueueCtx, m core.JobMessage) core.JobID {
	h.t.Helper()
	id, err := h.b.Enqueue(h.ctx, qc, m)
	require.NoError(h.t, err)
	require.NotEmpty(h.t, id)
	return id
}

func (h *harness) dequeue(qc core.QueueCtx, queues ...core.QueueName) *core.LeasedJob {
	h.t.Helper()
	if len(queues) == 0 {
		queues = []core.QueueName{"q"}
	}
	lj, err := h.b.Dequeue(h.ctx, qc, queues)
	require.NoError(h.t, err)
	return lj
}

func (h *harness) mustDequeue(qc core.QueueCtx, queues ...core.QueueName) *core.LeasedJob {
	h.t.Helper()
	lj := h.dequeue(qc, queues...)
	require.NotNil(h.t, lj, "expected an eligible job")
	return lj
}

func (h *harness) status(qc core.QueueCtx, id core.JobID) core.JobStatus {
	h.t.Helper()
	st, err := h.b.GetStatus(h.ctx, qc, id)
	require.NoError(h.t, err)
	return st
}

func (h *harness) reclaimer() core.Reclaimer {
	h.t.Helper()
	r, ok := h.b.(core.Reclaimer)
	if !ok {
		h.t.Skip("backend does not implement core.Reclaimer")
	}
	return r
}

func (h *harness) retryAt(d time.Duration) *time.Time {
	t := h.clock.Now().Add(d)
	return &t
}

func testEnqueueDefaults(h *harness) {
	m := msg("email.send")
	m.Queue = ""
	m.Codec = ""
	id := h.enqueue(tenantA, m)

	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateEnqueued, st.State)
	assert.Nil(h.t, st.LeaseUntil)
	assert.Nil(h.t, st.RetryAt)

	lj := h.mustDequeue(tenantA, DefaultQueue)
	assert.Equal(h.t, id, lj.Job.ID)
	assert.Equal(h.t, DefaultQueue, lj.Job.Message.Queue)
	assert.Equal(h.t, core.CodecJSON, lj.Job.Message.Codec)
	assert.True(h.t, lj.Job.Message.RunAt.Equal(h.clock.Now()))
	assert.Equal(h.t, tenantA.TenantID, lj.Job.TenantID)
}

func testEnqueueValidation(h *harness) {
	_, err := h.b.Enqueue(h.ctx, core.QueueCtx{}, msg("a"))
	assert.ErrorIs(h.t, err, core.ErrInvalidTenant)

	m := msg("a")
	m.MaxRetries = -1
	_, err = h.b.Enqueue(h.ctx, tenantA, m)
	assert.ErrorIs(h.t, err, core.ErrInvalidMaxRetries)

	m = msg("a")
	m.Payload = make([]byte, MaxPayloadBytes+1)
	_, err = h.b.Enqueue(h.ctx, tenantA, m)
	assert.ErrorIs(h.t, err, core.ErrPayloadTooLarge)

	_, err = h.b.Enqueue(h.ctx, tenantA, msg(""))
	assert.ErrorIs(h.t, err, core.ErrInvalidJobTypeName)

	m = msg("a")
	m.Payload = make([]byte, MaxPayloadBytes)
	h.enqueue(tenantA, m)
}

func testEnqueueCopiesPayload(h *harness) {
	m := msg("a")
	m.Payload = []byte(`{"n":1}`)
	h.enqueue(tenantA, m)
	m.Payload[6] = '9'

	lj := h.mustDequeue(tenantA)
	assert.Equal(h.t, `{"n":1}`, string(lj.Job.Message.Payload))
}

func testDequeueEmpty(h *harness) {
	assert.Nil(h.t, h.dequeue(tenantA))
}

func testDequeueOrdering(h *harness) {
	low := msg("a")
	low.Priority = core.PriorityLow
	high := msg("a")
	high.Priority = core.PriorityHigh

	idLow := h.enqueue(tenantA, low)
	h.clock.Advance(time.Second)
	idHigh2 := h.enqueue(tenantA, high)
	h.clock.Advance(time.Second)
	idHigh3 := h.enqueue(tenantA, high)

	assert.Equal(h.t, idHigh2, h.mustDequeue(tenantA).Job.ID)
	assert.Equal(h.t, idHigh3, h.mustDequeue(tenantA).Job.ID)
	assert.Equal(h.t, idLow, h.mustDequeue(tenantA).Job.ID)
	assert.Nil(h.t, h.dequeue(tenantA))
}

func testDequeueTieBreak(h *harness) {
	ids := []core.JobID{h.enqueue(tenantA, msg("a")), h.enqueue(tenantA, msg("a")), h.enqueue(tenantA, msg("a"))}
	want := append([]core.JobID(nil), ids...)
	for i := 1; i < len(want); i++ {
		for j := i; j > 0 && want[j] < want[j-1]; j-- {
			want[j], want[j-1] = want[j-1], want[j]
		}
	}

	for _, id := range want {
		assert.Equal(h.t, id, h.mustDequeue(tenantA).Job.ID)
	}
}

func testDequeueAcrossQueues(h *harness) {
	a := msg("a")
	a.Queue = "emails"
	b := msg("a")
	b.Queue = "reports"
	b.Priority = core.PriorityHigh

	h.enqueue(tenantA, a)
	h.clock.Advance(time.Second)
	idB := h.enqueue(tenantA, b)

	assert.Nil(h.t, h.dequeue(tenantA, "other"))
	assert.Equal(h.t, idB, h.mustDequeue(tenantA, "emails", "reports").Job.ID)
	assert.Equal(h.t, core.QueueName("emails"), h.mustDequeue(tenantA, "reports", "emails").Job.Message.Queue)
}

func testDequeueDefaultQueue(h *harness) {
	m := msg("a")
	m.Queue = ""
	id := h.enqueue(tenantA, m)

	lj, err := h.b.Dequeue(h.ctx, tenantA, nil)
	require.NoError(h.t, err)
	require.NotNil(h.t, lj)
	assert.Equal(h.t, id, lj.Job.ID)
}

func testDelayedRunAt(h *harness) {
	m := msg("a")
	m.RunAt = h.clock.Now().Add(time.Minute)
	id := h.enqueue(tenantA, m)

	assert.Nil(h.t, h.dequeue(tenantA))
	h.clock.Advance(59 * time.Second)
	assert.Nil(h.t, h.dequeue(tenantA))
	h.clock.Advance(time.Second)
	assert.Equal(h.t, id, h.mustDequeue(tenantA).Job.ID)
}

func testAttemptCounting(h *harness) {
	id := h.enqueue(tenantA, msg("a"))

	seen := map[core.LeaseToken]bool{}
	for attempt := 1; attempt <= 3; attempt++ {
		lj := h.mustDequeue(tenantA)
		assert.Equal(h.t, id, lj.Job.ID)
		assert.Equal(h.t, attempt, lj.Job.Attempt)
		assert.False(h.t, seen[lj.Token], "lease token reused")
		seen[lj.Token] = true

		st := h.status(tenantA, id)
		require.Equal(h.t, core.StateProcessing, st.State)
		require.NotNil(h.t, st.LeaseUntil)
		assert.True(h.t, st.LeaseUntil.Equal(h.clock.Now().Add(LeaseDuration)))
		assert.True(h.t, lj.LeaseUntil.Equal(*st.LeaseUntil))

		if attempt < 3 {
			require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, id, lj.Token, "try again", h.retryAt(0)))
		}
	}
}

func testAckComplete(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "blob://result/1"))
	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateCompleted, st.State)
	assert.Nil(h.t, st.LeaseUntil)
	assert.Empty(h.t, st.LastError)

	err := h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "blob://result/2")
	assert.ErrorIs(h.t, err, core.ErrJobAlreadyTerminal)

	err = h.b.AckComplete(h.ctx, tenantA, "no-such-job", lj.Token, "")
	assert.ErrorIs(h.t, err, core.ErrJobNotFound)
}

func testAckWrongToken(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)
	before := h.status(tenantA, id)

	err := h.b.AckComplete(h.ctx, tenantA, id, "forged", "")
	assert.ErrorIs(h.t, err, core.ErrInvalidLeaseToken)
	err = h.b.AckFail(h.ctx, tenantA, id, "forged", "boom", nil)
	assert.ErrorIs(h.t, err, core.ErrInvalidLeaseToken)

	other := h.enqueue(tenantA, msg("b"))
	otherLease := h.mustDequeue(tenantA)
	require.Equal(h.t, other, otherLease.Job.ID)
	err = h.b.AckComplete(h.ctx, tenantA, id, otherLease.Token, "")
	assert.ErrorIs(h.t, err, core.ErrInvalidLeaseToken, "token of another job")

	assert.Equal(h.t, before, h.status(tenantA, id))
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, id, lj.Token, ""))
}

func testAckAfterLeaseWindow(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	h.clock.Advance(LeaseDuration)
	err := h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "")
	assert.ErrorIs(h.t, err, core.ErrLeaseExpired)
	err = h.b.AckFail(h.ctx, tenantA, id, lj.Token, "boom", nil)
	assert.ErrorIs(h.t, err, core.ErrLeaseExpired)

	assert.Equal(h.t, core.StateProcessing, h.status(tenantA, id).State)
}

func testAckFailRetryTiming(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	at := h.retryAt(60 * time.Second)
	require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, id, lj.Token, "smtp 451", at))

	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateRetrying, st.State)
	require.NotNil(h.t, st.RetryAt)
	assert.True(h.t, st.RetryAt.Equal(*at))
	assert.Equal(h.t, "smtp 451", st.LastError)
	assert.Nil(h.t, st.LeaseUntil)

	h.clock.Advance(59 * time.Second)
	assert.Nil(h.t, h.dequeue(tenantA))
	h.clock.Advance(time.Second)
	again := h.mustDequeue(tenantA)
	assert.Equal(h.t, id, again.Job.ID)
	assert.Equal(h.t, 2, again.Job.Attempt)
}

func testAckFailWithoutRetry(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, id, lj.Token, "bad input", nil))
	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateFailed, st.State)
	assert.Equal(h.t, "bad input", st.LastError)
	assert.Nil(h.t, h.dequeue(tenantA))
}

func testRetryExhaustion(h *harness) {
	m := msg("a")
	m.MaxRetries = 2
	id := h.enqueue(tenantA, m)

	for attempt := 1; attempt <= 3; attempt++ {
		lj := h.mustDequeue(tenantA)
		require.Equal(h.t, attempt, lj.Job.Attempt)
		require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, id, lj.Token, fmt.Sprintf("fail %d", attempt), h.retryAt(0)))
	}

	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateFailed, st.State)
	assert.Equal(h.t, "fail 3", st.LastError)

	h.clock.Advance(time.Hour)
	assert.Nil(h.t, h.dequeue(tenantA))
}

func testCancel(h *harness) {
	queued := h.enqueue(tenantA, msg("a"))
	ok, err := h.b.Cancel(h.ctx, tenantA, queued)
	require.NoError(h.t, err)
	assert.True(h.t, ok)

	st := h.status(tenantA, queued)
	assert.Equal(h.t, core.StateCanceled, st.State)
	assert.Empty(h.t, st.LastError)
	assert.Nil(h.t, h.dequeue(tenantA), "canceled job must leave the ordering index")

	ok, err = h.b.Cancel(h.ctx, tenantA, queued)
	require.NoError(h.t, err)
	assert.False(h.t, ok)

	_, err = h.b.Cancel(h.ctx, tenantA, "no-such-job")
	assert.ErrorIs(h.t, err, core.ErrJobNotFound)

	retrying := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)
	require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, retrying, lj.Token, "x", h.retryAt(time.Second)))
	ok, err = h.b.Cancel(h.ctx, tenantA, retrying)
	require.NoError(h.t, err)
	assert.True(h.t, ok)
	h.clock.Advance(time.Minute)
	assert.Nil(h.t, h.dequeue(tenantA))
}

func testCancelWinsOverLaterAck(h *harness) {
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	ok, err := h.b.Cancel(h.ctx, tenantA, id)
	require.NoError(h.t, err)
	require.True(h.t, ok)

	err = h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "")
	assert.ErrorIs(h.t, err, core.ErrJobCanceled)
	err = h.b.AckFail(h.ctx, tenantA, id, lj.Token, "x", h.retryAt(0))
	assert.ErrorIs(h.t, err, core.ErrJobCanceled)
	err = h.b.AckComplete(h.ctx, tenantA, id, "forged", "")
	assert.ErrorIs(h.t, err, core.ErrJobCanceled, "canceled takes precedence over token checks")

	h.clock.Advance(LeaseDuration)
	err = h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "")
	assert.ErrorIs(h.t, err, core.ErrJobCanceled, "canceled takes precedence over expiry")

	assert.Equal(h.t, core.StateCanceled, h.status(tenantA, id).State)
}

func testTerminalFinal(h *harness) {
	completed := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, completed, lj.Token, "r"))

	failed := h.enqueue(tenantA, msg("a"))
	lj2 := h.mustDequeue(tenantA)
	require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, failed, lj2.Token, "boom", nil))

	canceled := h.enqueue(tenantA, msg("a"))
	_, err := h.b.Cancel(h.ctx, tenantA, canceled)
	require.NoError(h.t, err)

	for id, want := range map[core.JobID]core.State{
		completed: core.StateCompleted,
		failed:    core.StateFailed,
		canceled:  core.StateCanceled,
	} {
		ok, err := h.b.Cancel(h.ctx, tenantA, id)
		require.NoError(h.t, err)
		assert.False(h.t, ok)
		assert.Error(h.t, h.b.AckComplete(h.ctx, tenantA, id, lj.Token, ""))
		assert.Error(h.t, h.b.AckFail(h.ctx, tenantA, id, lj2.Token, "", h.retryAt(0)))
		assert.Equal(h.t, want, h.status(tenantA, id).State)
	}

	if r, ok := h.b.(core.Reclaimer); ok {
		h.clock.Advance(time.Hour)
		res, err := r.ReclaimExpired(h.ctx, reclaimBackoff)
		require.NoError(h.t, err)
		assert.Zero(h.t, res.Retrying+res.Failed)
	}
	assert.Nil(h.t, h.dequeue(tenantA))
	assert.Equal(h.t, core.StateCompleted, h.status(tenantA, completed).State)
}

func testIdempotency(h *harness) {
	m := msg("a")
	m.IdempotencyKey = "k1"

	idA := h.enqueue(tenantA, m)
	assert.Equal(h.t, idA, h.enqueue(tenantA, m))

	lj := h.mustDequeue(tenantA)
	require.Equal(h.t, idA, lj.Job.ID)
	assert.Equal(h.t, idA, h.enqueue(tenantA, m), "processing job still holds the key")
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, idA, lj.Token, ""))

	idB := h.enqueue(tenantA, m)
	assert.NotEqual(h.t, idA, idB)
	assert.Equal(h.t, core.StateEnqueued, h.status(tenantA, idB).State)

	_, err := h.b.Cancel(h.ctx, tenantA, idB)
	require.NoError(h.t, err)
	assert.NotEqual(h.t, idB, h.enqueue(tenantA, m), "canceled job releases the key")
}

func testIdempotencyScope(h *harness) {
	base := msg("a")
	base.IdempotencyKey = "k"
	id := h.enqueue(tenantA, base)

	otherQueue := base
	otherQueue.Queue = "q2"
	otherType := base
	otherType.Type = "b"

	assert.NotEqual(h.t, id, h.enqueue(tenantA, otherQueue))
	assert.NotEqual(h.t, id, h.enqueue(tenantA, otherType))
	assert.NotEqual(h.t, id, h.enqueue(tenantB, base))
}

func testTenantIsolation(h *harness) {
	id := h.enqueue(tenantA, msg("a"))

	assert.Nil(h.t, h.dequeue(tenantB))
	_, err := h.b.GetStatus(h.ctx, tenantB, id)
	assert.ErrorIs(h.t, err, core.ErrJobNotFound)
	_, err = h.b.Cancel(h.ctx, tenantB, id)
	assert.ErrorIs(h.t, err, core.ErrJobNotFound)

	lj := h.mustDequeue(tenantA)
	err = h.b.AckComplete(h.ctx, tenantB, id, lj.Token, "")
	assert.ErrorIs(h.t, err, core.ErrJobNotFound)
	assert.Equal(h.t, core.StateProcessing, h.status(tenantA, id).State)

	if insp, ok := h.b.(core.Inspector); ok {
		jobs, err := insp.ListJobs(h.ctx, tenantB, "", 0)
		require.NoError(h.t, err)
		assert.Empty(h.t, jobs)
	}
}

func testReclaimScenario(h *harness) {
	r := h.reclaimer()
	id := h.enqueue(tenantA, msg("a"))
	first := h.mustDequeue(tenantA)

	h.clock.Advance(LeaseDuration + time.Millisecond)
	res, err := r.ReclaimExpired(h.ctx, core.Backoff{})
	require.NoError(h.t, err)
	assert.Equal(h.t, core.ReclaimResult{Retrying: 1}, res)
	assert.Equal(h.t, core.StateRetrying, h.status(tenantA, id).State)

	second := h.mustDequeue(tenantA)
	assert.Equal(h.t, id, second.Job.ID)
	assert.NotEqual(h.t, first.Token, second.Token)
	assert.Equal(h.t, first.Job.Attempt+1, second.Job.Attempt)
}

func testReclaimSkipsCanceled(h *harness) {
	r := h.reclaimer()
	id := h.enqueue(tenantA, msg("a"))
	h.mustDequeue(tenantA)
	_, err := h.b.Cancel(h.ctx, tenantA, id)
	require.NoError(h.t, err)

	h.clock.Advance(time.Hour)
	res, err := r.ReclaimExpired(h.ctx, reclaimBackoff)
	require.NoError(h.t, err)
	assert.Zero(h.t, res.Retrying+res.Failed)
	assert.Equal(h.t, core.StateCanceled, h.status(tenantA, id).State)
}

func testReclaimExhausted(h *harness) {
	r := h.reclaimer()
	m := msg("a")
	m.MaxRetries = 0
	id := h.enqueue(tenantA, m)
	h.mustDequeue(tenantA)

	h.clock.Advance(LeaseDuration)
	res, err := r.ReclaimExpired(h.ctx, reclaimBackoff)
	require.NoError(h.t, err)
	assert.Zero(h.t, res.Retrying+res.Failed, "lease_until == now is not yet reclaimable")

	h.clock.Advance(time.Millisecond)
	res, err = r.ReclaimExpired(h.ctx, reclaimBackoff)
	require.NoError(h.t, err)
	assert.Equal(h.t, core.ReclaimResult{Failed: 1}, res)

	st := h.status(tenantA, id)
	assert.Equal(h.t, core.StateFailed, st.State)
	assert.Equal(h.t, "lease expired", st.LastError)
}

func testSupersededToken(h *harness) {
	r := h.reclaimer()
	id := h.enqueue(tenantA, msg("a"))
	stale := h.mustDequeue(tenantA)

	h.clock.Advance(LeaseDuration + time.Second)
	_, err := r.ReclaimExpired(h.ctx, core.Backoff{Base: time.Second, Max: time.Second})
	require.NoError(h.t, err)

	err = h.b.AckComplete(h.ctx, tenantA, id, stale.Token, "")
	assert.ErrorIs(h.t, err, core.ErrLeaseExpired, "reaped lease")

	h.clock.Advance(time.Second)
	fresh := h.mustDequeue(tenantA)
	err = h.b.AckComplete(h.ctx, tenantA, id, stale.Token, "")
	assert.ErrorIs(h.t, err, core.ErrLeaseExpired, "superseded lease")
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, id, fresh.Token, ""))
}

func testExtendLease(h *harness) {
	ext, ok := h.b.(core.LeaseExtender)
	if !h.b.Capabilities().LeaseExtension || !ok {
		h.t.Skip("backend does not support lease extension")
	}
	id := h.enqueue(tenantA, msg("a"))
	lj := h.mustDequeue(tenantA)

	h.clock.Advance(LeaseDuration - time.Second)
	until, err := ext.ExtendLease(h.ctx, tenantA, id, lj.Token)
	require.NoError(h.t, err)
	assert.True(h.t, until.Equal(h.clock.Now().Add(LeaseDuration)))

	h.clock.Advance(LeaseDuration - time.Second)
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, id, lj.Token, ""))

	_, err = ext.ExtendLease(h.ctx, tenantA, id, lj.Token)
	assert.ErrorIs(h.t, err, core.ErrJobAlreadyTerminal)
}

func nextEvent(t *testing.T, s core.EventStream) core.JobEvent {
	t.Helper()
	select {
	case ev, ok := <-s.C():
		require.True(t, ok, "stream closed")
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for event")
		return core.JobEvent{}
	}
}

func testEventOrder(h *harness) {
	if !h.b.Capabilities().EventStream {
		h.t.Skip("backend has no event stream")
	}
	stream, err := h.b.Events(h.ctx, tenantA)
	require.NoError(h.t, err)
	defer stream.Close()

	id := h.enqueue(tenantA, msg("email.send"))
	lj := h.mustDequeue(tenantA)
	require.NoError(h.t, h.b.AckFail(h.ctx, tenantA, id, lj.Token, "later", h.retryAt(0)))
	lj = h.mustDequeue(tenantA)
	require.NoError(h.t, h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "ref"))

	want := []core.EventKind{core.EventEnqueued, core.EventLeased, core.EventRetrying, core.EventLeased, core.EventCompleted}
	var last uint64
	for i, kind := range want {
		ev := nextEvent(h.t, stream)
		assert.Equal(h.t, kind, ev.Kind, "event %d", i)
		assert.Equal(h.t, id, ev.JobID)
		assert.Equal(h.t, tenantA.TenantID, ev.TenantID)
		assert.Equal(h.t, core.QueueName("q"), ev.Queue)
		assert.Equal(h.t, core.JobType("email.send"), ev.JobType)
		assert.False(h.t, ev.Timestamp.IsZero())
		assert.Greater(h.t, ev.Seq, last)
		last = ev.Seq

		switch kind {
		case core.EventLeased:
			assert.NotNil(h.t, ev.LeaseUntil)
		case core.EventRetrying:
			assert.NotNil(h.t, ev.RetryAt)
			assert.Equal(h.t, "later", ev.Error)
		case core.EventCompleted:
			assert.Equal(h.t, core.ResultRef("ref"), ev.Result)
			assert.Equal(h.t, 2, ev.Attempt)
		}
	}
	assert.Zero(h.t, stream.Dropped())
}

func testEventsTenantScoped(h *harness) {
	if !h.b.Capabilities().EventStream {
		h.t.Skip("backend has no event stream")
	}
	stream, err := h.b.Events(h.ctx, tenantB)
	require.NoError(h.t, err)
	defer stream.Close()

	h.enqueue(tenantA, msg("a"))
	id := h.enqueue(tenantB, msg("a"))

	ev := nextEvent(h.t, stream)
	assert.Equal(h.t, id, ev.JobID)
	assert.Equal(h.t, tenantB.TenantID, ev.TenantID)
}

func testEventsCloseWithContext(h *harness) {
	if !h.b.Capabilities().EventStream {
		h.t.Skip("backend has no event stream")
	}
	ctx, cancel := context.WithCancel(h.ctx)
	stream, err := h.b.Events(ctx, tenantA)
	require.NoError(h.t, err)

	cancel()
	require.Eventually(h.t, func() bool {
		select {
		case _, ok := <-stream.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	stream.Close()
}

func testConcurrentDequeue(h *harness) {
	const jobs, workers = 200, 16
	for i := 0; i < jobs; i++ {
		h.enqueue(tenantA, msg("a"))
	}

	var (
		mu   sync.Mutex
		seen = make(map[core.JobID]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				lj, err := h.b.Dequeue(h.ctx, tenantA, []core.QueueName{"q"})
				if err != nil || lj == nil {
					return
				}
				mu.Lock()
				seen[lj.Job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(h.t, seen, jobs)
	for id, n := range seen {
		assert.Equal(h.t, 1, n, "job %s leased %d times", id, n)
	}
}

func testConcurrentCancelAck(h *harness) {
	for i := 0; i < 50; i++ {
		id := h.enqueue(tenantA, msg("a"))
		lj := h.mustDequeue(tenantA)

		var (
			wg       sync.WaitGroup
			canceled bool
			cancErr  error
			ackErr   error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			canceled, cancErr = h.b.Cancel(h.ctx, tenantA, id)
		}()
		go func() {
			defer wg.Done()
			ackErr = h.b.AckComplete(h.ctx, tenantA, id, lj.Token, "")
		}()
		wg.Wait()

		require.NoError(h.t, cancErr)
		st := h.status(tenantA, id)
		if canceled {
			assert.ErrorIs(h.t, ackErr, core.ErrJobCanceled)
			assert.Equal(h.t, core.StateCanceled, st.State)
		} else {
			assert.NoError(h.t, ackErr)
			assert.Equal(h.t, core.StateCompleted, st.State)
		}
		assert.False(h.t, canceled && ackErr == nil, "both cancel and ack succeeded")
		assert.False(h.t, errors.Is(ackErr, core.ErrInvalidLeaseToken))
	}
}

func testCapabilities(h *harness) {
	caps := h.b.Capabilities()
	assert.Equal(h.t, MaxPayloadBytes, caps.MaxPayloadBytes)
	if caps.LeaseExtension {
		_, ok := h.b.(core.LeaseExtender)
		assert.True(h.t, ok, "LeaseExtension advertised without core.LeaseExtender")
	}
}
