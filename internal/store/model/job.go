package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobKindCVGeneration          JobKind = "cv_generation"
	JobKindCoverLetterGeneration JobKind = "cover_letter_generation"
	JobKindJobAnalysis           JobKind = "job_analysis"
	JobKindBulkGeneration        JobKind = "bulk_generation"
	JobKindJobCrawl              JobKind = "job_crawl"
	JobKindProfileMatch          JobKind = "profile_match"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further automatic transition may occur.
// A failed job with retries left is re-queued by the retry policy before
// it is ever visible as failed, so failed here always means exhausted.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

type ErrorCategory string

const (
	ErrorCategoryTransient  ErrorCategory = "transient"
	ErrorCategoryFatal      ErrorCategory = "fatal"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryStaleness  ErrorCategory = "staleness"
)

// Retryable reports whether a failure of this category is eligible for
// another attempt. Fatal and validation failures go terminal immediately.
func (c ErrorCategory) Retryable() bool {
	return c == ErrorCategoryTransient || c == ErrorCategoryStaleness || c == ""
}

type Job struct {
	ID             uuid.UUID                  `gorm:"primaryKey;"`
	OrgID          string                     `gorm:"not null;index:jobs_org_id_idx"`
	Username       string                     `gorm:"type:VARCHAR(255)"`
	Kind           JobKind                    `gorm:"not null;type:VARCHAR(100);index:jobs_kind_idx"`
	Status         JobStatus                  `gorm:"not null;default:pending;index:jobs_claim_idx,priority:1"`
	Priority       int                        `gorm:"not null;default:5"`
	Input          *JSONField[map[string]any] `gorm:"type:jsonb"`
	Output         *JSONField[map[string]any] `gorm:"type:jsonb"`
	Progress       int                        `gorm:"not null;default:0"`
	CurrentStep    *string
	TotalSteps     int `gorm:"not null;default:1"`
	Error          *string
	ErrorCategory  *string
	RetryCount     int       `gorm:"not null;default:0"`
	MaxRetries     int       `gorm:"not null;default:3"`
	WorkerID       *string   `gorm:"type:VARCHAR(255)"`
	EventSeq       int64     `gorm:"not null;default:0"`
	ScheduledAt    time.Time `gorm:"not null;index:jobs_claim_idx,priority:2"`
	LeaseExpiresAt *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time
	Steps          []Step   `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE;"`
	Logs           []JobLog `gorm:"foreignKey:JobID;references:ID;constraint:OnDelete:CASCADE;"`
}

type JobList []Job

func (j Job) String() string {
	val, _ := json.Marshal(j)
	return string(val)
}
