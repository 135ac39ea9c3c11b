package history

import (
	"time"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// EventRecord is one journaled job event.
type EventRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Seq       uint64    `gorm:"not null"`
	TenantID  string    `gorm:"index:idx_job_events_tenant_job;size:255;not null"`
	JobID     string    `gorm:"index:idx_job_events_tenant_job;size:64;not null"`
	Queue     string    `gorm:"size:255;not null"`
	JobType   string    `gorm:"size:255;not null"`
	Kind      string    `gorm:"size:16;not null"`
	Attempt   int       `gorm:"not null"`
	Error     string    `gorm:"type:text"`
	Result    string    `gorm:"size:1024"`
	Timestamp time.Time `gorm:"index;not null"`
}

// TableName pins the table name.
func (EventRecord) TableName() string { return "job_events" }

func newEventRecord(ev core.JobEvent) EventRecord {
	return EventRecord{
		Seq:       ev.Seq,
		TenantID:  string(ev.TenantID),
		JobID:     string(ev.JobID),
		Queue:     string(ev.Queue),
		JobType:   string(ev.JobType),
		Kind:      string(ev.Kind),
		Attempt:   ev.Attempt,
		Error:     ev.Error,
		Result:    string(ev.Result),
		Timestamp: ev.Timestamp.UTC(),
	}
}

// Event converts the row back to a JobEvent. Lease and retry times are not journaled.
func (r EventRecord) Event() core.JobEvent {
	return core.JobEvent{
		Seq:       r.Seq,
		Kind:      core.EventKind(r.Kind),
		JobID:     core.JobID(r.JobID),
		TenantID:  core.TenantID(r.TenantID),
		Queue:     core.QueueName(r.Queue),
		JobType:   core.JobType(r.JobType),
		Attempt:   r.Attempt,
		Timestamp: r.Timestamp,
		Error:     r.Error,
		Result:    core.ResultRef(r.Result),
	}
}

// JobStat stores per-tenant, per-queue counters bucketed by minute.
type JobStat struct {
	ID        uint      `gorm:"primaryKey"`
	TenantID  string    `gorm:"index:idx_job_stats_bucket;size:255;not null"`
	Queue     string    `gorm:"index:idx_job_stats_bucket;size:255;not null"`
	Timestamp time.Time `gorm:"index:idx_job_stats_bucket;not null"`
	Enqueued  int64     `gorm:"default:0"`
	Completed int64     `gorm:"default:0"`
	Failed    int64     `gorm:"default:0"`
	Retried   int64     `gorm:"default:0"`
	Canceled  int64     `gorm:"default:0"`
}

// TableName pins the table name.
func (JobStat) TableName() string { return "job_stats" }

// Counters is the delta applied to one JobStat bucket.
type Counters struct {
	Enqueued  int64
	Completed int64
	Failed    int64
	Retried   int64
	Canceled  int64
}

func (c Counters) zero() bool {
	return c == Counters{}
}

func (c *Counters) count(kind core.EventKind) {
	switch kind {
	case core.EventEnqueued:
		c.Enqueued++
	case core.EventCompleted:
		c.Completed++
	case core.EventFailed:
		c.Failed++
	case core.EventRetrying:
		c.Retried++
	case core.EventCanceled:
		c.Canceled++
	}
}
