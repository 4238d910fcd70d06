package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/pkg/metrics"
)

type SchedulerService struct {
	store         store.Store
	producer      *events.EventProducer
	leaseDuration time.Duration
}

func NewSchedulerService(s store.Store, producer *events.EventProducer, leaseDuration time.Duration) *SchedulerService {
	return &SchedulerService{
		store:         s,
		producer:      producer,
		leaseDuration: leaseDuration,
	}
}

// ClaimNext atomically assigns the next eligible job to workerID. Returns
// (nil, nil) when nothing is eligible. Two concurrent callers never receive
// the same job.
func (s *SchedulerService) ClaimNext(ctx context.Context, workerID string) (*model.Job, error) {
	job, err := s.store.Job().Claim(ctx, workerID, s.leaseDuration)
	if err != nil {
		if errors.Is(err, store.ErrNoneAvailable) {
			return nil, nil
		}
		return nil, err
	}

	appendJobLog(ctx, s.store, job, model.LogLevelInfo, "job claimed",
		map[string]any{"worker_id": workerID})
	metrics.IncreaseJobsClaimedTotalMetric(string(job.Kind))
	if job.StartedAt != nil {
		metrics.ObserveQueueWaitDurationMetric(string(job.Kind), job.StartedAt.Sub(job.CreatedAt))
	}
	publishJobEvent(s.producer, job, "job claimed")

	zap.S().Named("scheduler").Debugw("job claimed",
		"job_id", job.ID, "worker_id", workerID, "kind", job.Kind)
	return job, nil
}

// RenewLease extends the claim of a worker still making progress. Called at
// step boundaries so a healthy long-running job is never swept.
func (s *SchedulerService) RenewLease(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return s.store.Job().RenewLease(ctx, jobID, workerID, s.leaseDuration)
}
