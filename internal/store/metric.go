package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/store/model"
)

type Metric interface {
	Record(ctx context.Context, metric model.Metric) (*model.Metric, error)
	List(ctx context.Context, filter *MetricQueryFilter) (model.MetricList, error)
	Aggregate(ctx context.Context, filter *MetricQueryFilter) ([]MetricAggregate, error)
}

// MetricAggregate is one dashboard row: outcome statistics for a
// (kind, status, date) bucket.
type MetricAggregate struct {
	JobKind          model.JobKind   `gorm:"column:job_kind"`
	Status           model.JobStatus `gorm:"column:status"`
	Date             time.Time       `gorm:"column:date"`
	JobCount         int64           `gorm:"column:job_count"`
	AvgProcessingMS  float64         `gorm:"column:avg_processing_ms"`
	AvgQueueWaitMS   float64         `gorm:"column:avg_queue_wait_ms"`
	TotalRetryCount  int64           `gorm:"column:total_retry_count"`
}

type MetricStore struct {
	db *gorm.DB
}

// Make sure we conform to Metric interface
var _ Metric = (*MetricStore)(nil)

func NewMetricStore(db *gorm.DB) Metric {
	return &MetricStore{db: db}
}

func (s *MetricStore) Record(ctx context.Context, metric model.Metric) (*model.Metric, error) {
	if metric.ID == uuid.Nil {
		metric.ID = uuid.New()
	}
	if metric.Date.IsZero() {
		metric.Date = time.Now().UTC().Truncate(24 * time.Hour)
	}
	if err := s.getDB(ctx).Create(&metric).Error; err != nil {
		return nil, fmt.Errorf("recording metric: %w", err)
	}
	return &metric, nil
}

func (s *MetricStore) List(ctx context.Context, filter *MetricQueryFilter) (model.MetricList, error) {
	var metrics model.MetricList
	tx := s.getDB(ctx).Model(&metrics)
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if err := tx.Find(&metrics).Error; err != nil {
		return nil, err
	}
	return metrics, nil
}

func (s *MetricStore) Aggregate(ctx context.Context, filter *MetricQueryFilter) ([]MetricAggregate, error) {
	var rows []MetricAggregate
	tx := s.getDB(ctx).Model(&model.Metric{}).
		Select(`job_kind, status, date,
			COUNT(*) AS job_count,
			AVG(processing_time_ms) AS avg_processing_ms,
			AVG(queue_wait_time_ms) AS avg_queue_wait_ms,
			SUM(retry_count) AS total_retry_count`).
		Group("job_kind, status, date").
		Order("date DESC")
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *MetricStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
