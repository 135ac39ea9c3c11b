package events

import (
	"sync"
	"sync/atomic"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// DefaultBuffer is used when a subscription asks for a non-positive buffer.
const DefaultBuffer = 256

// Hub is a per-tenant broadcast hub.
type Hub struct {
	mu     sync.Mutex
	topics map[core.TenantID]*topic
}

type topic struct {
	seq  uint64
	subs map[*Subscription]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[core.TenantID]*topic)}
}

func (h *Hub) topic(tenant core.TenantID) *topic {
	t, ok := h.topics[tenant]
	if !ok {
		t = &topic{subs: make(map[*Subscription]struct{})}
		h.topics[tenant] = t
	}
	return t
}

// Publish stamps ev with the tenant's next sequence number and delivers it to
// every current subscriber of that tenant. It returns the stamped event.
func (h *Hub) Publish(ev core.JobEvent) core.JobEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(ev.TenantID)
	t.seq++
	ev.Seq = t.seq
	for s := range t.subs {
		s.deliver(ev)
	}
	return ev
}

// Subscribe opens a stream of tenant's events published from now on.
func (h *Hub) Subscribe(tenant core.TenantID, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	s := &Subscription{
		hub:    h,
		tenant: tenant,
		ch:     make(chan core.JobEvent, buffer),
	}

	h.mu.Lock()
	h.topic(tenant).subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

// Subscribers returns the number of open subscriptions for tenant.
func (h *Hub) Subscribers(tenant core.TenantID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[tenant]; ok {
		return len(t.subs)
	}
	return 0
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if t, ok := h.topics[s.tenant]; ok {
		delete(t.subs, s)
	}
	close(s.ch)
}

// Subscription is a bounded, drop-oldest event stream. It implements core.EventStream.
type Subscription struct {
	hub     *Hub
	tenant  core.TenantID
	ch      chan core.JobEvent
	dropped atomic.Uint64
	closed  bool // guarded by hub.mu
}

var _ core.EventStream = (*Subscription)(nil)

// deliver is called with hub.mu held, so it is the only sender on ch.
func (s *Subscription) deliver(ev core.JobEvent) {
	for {
		select {
		case s.ch <- ev:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// C returns the receive side of the stream.
func (s *Subscription) C() <-chan core.JobEvent { return s.ch }

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() { s.hub.remove(s) }

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }
