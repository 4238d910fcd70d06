package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepStatusPending    StepStatus = "pending"
	StepStatusProcessing StepStatus = "processing"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
	StepStatusSkipped    StepStatus = "skipped"
)

func (s StepStatus) Terminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed || s == StepStatusSkipped
}

// Step is an ordered sub-unit of a Job. Order is 1-based and contiguous
// within the owning job.
type Step struct {
	ID          uuid.UUID                  `gorm:"primaryKey;"`
	JobID       uuid.UUID                  `gorm:"not null;uniqueIndex:steps_job_id_order_idx,priority:1"`
	Name        string                     `gorm:"not null;type:VARCHAR(255)"`
	Order       int                        `gorm:"column:step_order;not null;uniqueIndex:steps_job_id_order_idx,priority:2"`
	Status      StepStatus                 `gorm:"not null;default:pending"`
	Progress    int                        `gorm:"not null;default:0"`
	Data        *JSONField[map[string]any] `gorm:"type:jsonb"`
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time
}

type StepList []Step

func (s Step) String() string {
	val, _ := json.Marshal(s)
	return string(val)
}
