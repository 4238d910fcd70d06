package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// JobLog is an append-only diagnostic record. Rows are never mutated after
// creation.
type JobLog struct {
	ID        uuid.UUID `gorm:"primaryKey;"`
	JobID     uuid.UUID `gorm:"not null;index:job_logs_job_id_idx"`
	Level     LogLevel  `gorm:"not null;type:VARCHAR(20)"`
	Message   string    `gorm:"not null"`
	Metadata  *JSONField[map[string]any] `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

type JobLogList []JobLog

func (l JobLog) String() string {
	val, _ := json.Marshal(l)
	return string(val)
}
