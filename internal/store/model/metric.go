package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Metric is one observation recorded on a terminal job transition. Rows are
// write-only from the scheduler's perspective; dashboards aggregate them
// keyed by (kind, status, date).
type Metric struct {
	ID               uuid.UUID `gorm:"primaryKey;"`
	JobKind          JobKind   `gorm:"not null;type:VARCHAR(100);index:metrics_kind_date_idx,priority:1"`
	Status           JobStatus `gorm:"not null;type:VARCHAR(20)"`
	ProcessingTimeMS *int64
	QueueWaitTimeMS  *int64
	RetryCount       int       `gorm:"not null;default:0"`
	ErrorCategory    *string   `gorm:"type:VARCHAR(50)"`
	Date             time.Time `gorm:"type:date;not null;index:metrics_kind_date_idx,priority:2"`
	CreatedAt        time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

type MetricList []Metric

func (m Metric) String() string {
	val, _ := json.Marshal(m)
	return string(val)
}
