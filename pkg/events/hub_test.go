package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

func drain(s *Subscription) []core.JobEvent {
	var out []core.JobEvent
	for {
		select {
		case ev, ok := <-s.C():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestHub_PublishStampsSequencePerTenant(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("acme", 8)
	b := h.Subscribe("globex", 8)
	defer a.Close()
	defer b.Close()

	h.Publish(core.JobEvent{TenantID: "acme", Kind: core.EventEnqueued, JobID: "1"})
	h.Publish(core.JobEvent{TenantID: "globex", Kind: core.EventEnqueued, JobID: "2"})
	ev := h.Publish(core.JobEvent{TenantID: "acme", Kind: core.EventLeased, JobID: "1"})
	assert.Equal(t, uint64(2), ev.Seq)

	got := drain(a)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(2), got[1].Seq)
	assert.Equal(t, core.EventLeased, got[1].Kind)

	other := drain(b)
	require.Len(t, other, 1)
	assert.Equal(t, core.JobID("2"), other[0].JobID)
	assert.Equal(t, uint64(1), other[0].Seq)
}

func TestHub_MultipleConsumersSeeEveryEvent(t *testing.T) {
	h := NewHub()
	s1 := h.Subscribe("acme", 4)
	s2 := h.Subscribe("acme", 4)
	assert.Equal(t, 2, h.Subscribers("acme"))

	h.Publish(core.JobEvent{TenantID: "acme", JobID: "x"})

	assert.Len(t, drain(s1), 1)
	assert.Len(t, drain(s2), 1)
}

func TestHub_DropsOldestWhenFull(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("acme", 3)
	defer s.Close()

	for i := 0; i < 5; i++ {
		h.Publish(core.JobEvent{TenantID: "acme"})
	}

	got := drain(s)
	require.Len(t, got, 3)
	assert.Equal(t, uint64(3), got[0].Seq, "oldest two were discarded")
	assert.Equal(t, uint64(5), got[2].Seq)
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestHub_NoSubscribersDiscards(t *testing.T) {
	h := NewHub()
	h.Publish(core.JobEvent{TenantID: "acme"})

	s := h.Subscribe("acme", 2)
	defer s.Close()
	h.Publish(core.JobEvent{TenantID: "acme"})

	got := drain(s)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].Seq)
}

func TestSubscription_Close(t *testing.T) {
	h := NewHub()
	s := h.Subscribe("acme", 0)
	assert.Equal(t, DefaultBuffer, cap(s.ch))

	s.Close()
	s.Close()
	assert.Equal(t, 0, h.Subscribers("acme"))

	_, ok := <-s.C()
	assert.False(t, ok)

	h.Publish(core.JobEvent{TenantID: "acme"})
}
