package history

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/jdziat/tenant-jobs/pkg/core"
)

// Journal persists job events and stats.
type Journal interface {
	Migrate(ctx context.Context) error
	Append(ctx context.Context, evs []core.JobEvent) error
	JobHistory(ctx context.Context, tenant core.TenantID, id core.JobID) ([]EventRecord, error)
	RecentEvents(ctx context.Context, tenant core.TenantID, limit int) ([]EventRecord, error)
	UpsertStatCounters(ctx context.Context, tenant core.TenantID, queue core.QueueName, ts time.Time, c Counters) error
	GetStatsHistory(ctx context.Context, tenant core.TenantID, queue core.QueueName, since, until time.Time) ([]JobStat, error)
	PruneStats(ctx context.Context, before time.Time) (int64, error)
}

const appendBatchSize = 100

// gormJournal implements Journal using GORM.
type gormJournal struct {
	db *gorm.DB
}

// NewGormJournal creates a GORM-backed journal.
func NewGormJournal(db *gorm.DB) Journal {
	return &gormJournal{db: db}
}

func (j *gormJournal) Migrate(ctx context.Context) error {
	return j.db.WithContext(ctx).AutoMigrate(&EventRecord{}, &JobStat{})
}

func (j *gormJournal) Append(ctx context.Context, evs []core.JobEvent) error {
	if len(evs) == 0 {
		return nil
	}
	rows := make([]EventRecord, len(evs))
	for i, ev := range evs {
		rows[i] = newEventRecord(ev)
	}
	return j.db.WithContext(ctx).CreateInBatches(rows, appendBatchSize).Error
}

func (j *gormJournal) JobHistory(ctx context.Context, tenant core.TenantID, id core.JobID) ([]EventRecord, error) {
	var rows []EventRecord
	err := j.db.WithContext(ctx).
		Where("tenant_id = ? AND job_id = ?", string(tenant), string(id)).
		Order("seq ASC, id ASC").
		Find(&rows).Error
	return rows, err
}

func (j *gormJournal) RecentEvents(ctx context.Context, tenant core.TenantID, limit int) ([]EventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []EventRecord
	err := j.db.WithContext(ctx).
		Where("tenant_id = ?", string(tenant)).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (j *gormJournal) UpsertStatCounters(ctx context.Context, tenant core.TenantID, queue core.QueueName, ts time.Time, c Counters) error {
	ts = ts.UTC().Truncate(time.Minute)

	return j.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing JobStat
		err := tx.
			Where("tenant_id = ? AND queue = ? AND timestamp = ?", string(tenant), string(queue), ts).
			First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&JobStat{
				TenantID:  string(tenant),
				Queue:     string(queue),
				Timestamp: ts,
				Enqueued:  c.Enqueued,
				Completed: c.Completed,
				Failed:    c.Failed,
				Retried:   c.Retried,
				Canceled:  c.Canceled,
			}).Error
		}
		if err != nil {
			return err
		}

		return tx.Model(&existing).Updates(map[string]any{
			"enqueued":  gorm.Expr("enqueued + ?", c.Enqueued),
			"completed": gorm.Expr("completed + ?", c.Completed),
			"failed":    gorm.Expr("failed + ?", c.Failed),
			"retried":   gorm.Expr("retried + ?", c.Retried),
			"canceled":  gorm.Expr("canceled + ?", c.Canceled),
		}).Error
	})
}

func (j *gormJournal) GetStatsHistory(ctx context.Context, tenant core.TenantID, queue core.QueueName, since, until time.Time) ([]JobStat, error) {
	var stats []JobStat
	q := j.db.WithContext(ctx).
		Where("tenant_id = ?", string(tenant)).
		Order("timestamp ASC, queue ASC")

	if queue != "" {
		q = q.Where("queue = ?", string(queue))
	}
	if !since.IsZero() {
		q = q.Where("timestamp >= ?", since.UTC())
	}
	if !until.IsZero() {
		q = q.Where("timestamp <= ?", until.UTC())
	}

	return stats, q.Find(&stats).Error
}

func (j *gormJournal) PruneStats(ctx context.Context, before time.Time) (int64, error) {
	result := j.db.WithContext(ctx).Where("timestamp < ?", before.UTC()).Delete(&JobStat{})
	return result.RowsAffected, result.Error
}
