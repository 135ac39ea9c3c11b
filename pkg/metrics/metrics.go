// Package metrics exports job lifecycle metrics to Prometheus.
//
// A Collector consumes the event stream; it never touches the backend, so it
// can run beside any backend that advertises Capabilities.EventStream.
package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

const namespace = "tenantjobs"

// Collector turns job events into Prometheus metrics.
type Collector struct {
	events     *prometheus.CounterVec
	inFlight   *prometheus.GaugeVec
	runSeconds *prometheus.HistogramVec
	attempts   *prometheus.HistogramVec
	dropped    *prometheus.CounterVec

	mu     sync.Mutex
	leased map[core.JobID]leaseInfo
}

type leaseInfo struct {
	tenant core.TenantID
	queue  core.QueueName
	at     time.Time
}

// New registers the collector's metrics with reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_events_total",
				Help:      "Job lifecycle transitions by kind",
			},
			[]string{"tenant", "queue", "type", "kind"},
		),
		inFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_in_flight",
				Help:      "Jobs currently leased to a worker",
			},
			[]string{"tenant", "queue"},
		),
		// 10ms to ~163s
		runSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_run_seconds",
				Help:      "Time from lease grant to the next transition",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 15),
			},
			[]string{"type", "kind"},
		),
		attempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_attempts",
				Help:      "Attempts used by jobs that reached a terminal state",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
			[]string{"type", "kind"},
		),
		dropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Events the collector lost because it fell behind",
			},
			[]string{"tenant"},
		),
		leased: make(map[core.JobID]leaseInfo),
	}
}

// Observe records one event.
func (c *Collector) Observe(ev core.JobEvent) {
	c.events.WithLabelValues(string(ev.TenantID), string(ev.Queue), string(ev.JobType), string(ev.Kind)).Inc()

	c.mu.Lock()
	prev, wasLeased := c.leased[ev.JobID]
	if wasLeased {
		delete(c.leased, ev.JobID)
	}
	if ev.Kind == core.EventLeased {
		c.leased[ev.JobID] = leaseInfo{tenant: ev.TenantID, queue: ev.Queue, at: ev.Timestamp}
	}
	c.mu.Unlock()

	if wasLeased {
		c.inFlight.WithLabelValues(string(prev.tenant), string(prev.queue)).Dec()
		if ev.Kind != core.EventLeased {
			c.runSeconds.WithLabelValues(string(ev.JobType), string(ev.Kind)).Observe(ev.Timestamp.Sub(prev.at).Seconds())
		}
	}
	if ev.Kind == core.EventLeased {
		c.inFlight.WithLabelValues(string(ev.TenantID), string(ev.Queue)).Inc()
	}

	switch ev.Kind {
	case core.EventCompleted, core.EventFailed:
		c.attempts.WithLabelValues(string(ev.JobType), string(ev.Kind)).Observe(float64(ev.Attempt))
	}
}

// Run observes stream until it closes or ctx ends, then closes it.
func (c *Collector) Run(ctx context.Context, tenant core.TenantID, stream core.EventStream) error {
	defer stream.Close()

	var reported uint64
	flush := func() {
		if d := stream.Dropped(); d > reported {
			c.dropped.WithLabelValues(string(tenant)).Add(float64(d - reported))
			reported = d
		}
	}
	defer flush()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-stream.C():
			if !ok {
				return ctx.Err()
			}
			c.Observe(ev)
			flush()
		}
	}
}

// Events returns the transition counter, labeled tenant, queue, type and kind.
func (c *Collector) Events() *prometheus.CounterVec { return c.events }
