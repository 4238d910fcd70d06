package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/pkg/metrics"
)

// publishJobEvent emits one state-change notification carrying the job's
// current event sequence. Call after the mutating transaction commits.
func publishJobEvent(producer *events.EventProducer, job *model.Job, message string) {
	if producer == nil || job == nil {
		return
	}
	if err := producer.Publish(events.JobEvent{
		JobID:       job.ID.String(),
		Kind:        string(job.Kind),
		Status:      string(job.Status),
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Message:     message,
		Sequence:    job.EventSeq,
		Timestamp:   time.Now().UTC(),
	}); err != nil {
		zap.S().Named("service").Warnw("failed to publish job event", "job_id", job.ID, "error", err)
	}
}

// appendJobLog records a diagnostic entry. Log failures are not fatal to the
// operation being logged.
func appendJobLog(ctx context.Context, s store.Store, job *model.Job, level model.LogLevel, message string, metadata map[string]any) {
	entry := model.JobLog{
		JobID:   job.ID,
		Level:   level,
		Message: message,
	}
	if metadata != nil {
		entry.Metadata = model.MakeJSONField(metadata)
	}
	if _, err := s.JobLog().Append(ctx, entry); err != nil {
		zap.S().Named("service").Warnw("failed to append job log", "job_id", job.ID, "error", err)
	}
}

// recordTerminal persists the Metric observation for a terminal transition
// and mirrors it to prometheus.
func recordTerminal(ctx context.Context, s store.Store, job *model.Job) {
	metric := model.Metric{
		JobKind:    job.Kind,
		Status:     job.Status,
		RetryCount: job.RetryCount,
		Date:       time.Now().UTC().Truncate(24 * time.Hour),
	}
	if job.ErrorCategory != nil {
		metric.ErrorCategory = job.ErrorCategory
	}

	var processing, wait time.Duration
	if job.StartedAt != nil && job.CompletedAt != nil {
		processing = job.CompletedAt.Sub(*job.StartedAt)
		ms := processing.Milliseconds()
		metric.ProcessingTimeMS = &ms
	}
	if job.StartedAt != nil {
		wait = job.StartedAt.Sub(job.CreatedAt)
		ms := wait.Milliseconds()
		metric.QueueWaitTimeMS = &ms
	}

	if _, err := s.Metric().Record(ctx, metric); err != nil {
		zap.S().Named("service").Warnw("failed to record metric", "job_id", job.ID, "error", err)
	}

	category := ""
	if job.ErrorCategory != nil {
		category = *job.ErrorCategory
	}
	metrics.IncreaseJobsTerminalTotalMetric(string(job.Kind), string(job.Status), category)
	if processing > 0 {
		metrics.ObserveProcessingDurationMetric(string(job.Kind), string(job.Status), processing)
	}
}
