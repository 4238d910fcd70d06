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

// RetryService decides what happens after an execution attempt fails:
// requeue with backoff while retry budget remains and the error category is
// retryable, otherwise fail the job for good.
type RetryService struct {
	store    store.Store
	producer *events.EventProducer
	backoff  Backoff
}

func NewRetryService(s store.Store, producer *events.EventProducer, backoff Backoff) *RetryService {
	return &RetryService{store: s, producer: producer, backoff: backoff}
}

func (s *RetryService) OnFailure(ctx context.Context, job *model.Job, errMsg string, category model.ErrorCategory) (*model.Job, error) {
	attempt := job.RetryCount + 1
	if category.Retryable() && attempt < job.MaxRetries {
		delay := s.backoff.Delay(attempt)
		requeued, err := s.store.Job().Requeue(ctx, job.ID, time.Now().UTC().Add(delay), errMsg, category)
		if err != nil {
			return nil, err
		}
		appendJobLog(ctx, s.store, requeued, model.LogLevelWarning, "attempt failed, retrying",
			map[string]any{
				"error":    errMsg,
				"category": string(category),
				"attempt":  attempt,
				"delay":    delay.String(),
			})
		metrics.IncreaseJobsRetriedTotalMetric(string(requeued.Kind))
		publishJobEvent(s.producer, requeued, "job requeued for retry")
		zap.S().Named("retry").Infow("job requeued",
			"job_id", requeued.ID, "attempt", attempt, "delay", delay)
		return requeued, nil
	}

	failed, err := s.store.Job().Fail(ctx, job.ID, errMsg, category)
	if err != nil {
		return nil, err
	}
	appendJobLog(ctx, s.store, failed, model.LogLevelError, "job failed",
		map[string]any{
			"error":    errMsg,
			"category": string(category),
			"attempts": attempt,
		})
	recordTerminal(ctx, s.store, failed)
	publishJobEvent(s.producer, failed, "job failed")
	zap.S().Named("retry").Warnw("job failed permanently",
		"job_id", failed.ID, "category", category, "attempts", attempt)
	return failed, nil
}
