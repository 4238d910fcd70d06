package periodic

import (
	"context"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/pkg/metrics"
)

// Sweeper detects jobs whose lease expired while still in processing status
// and routes them through the retry policy as a staleness failure.
type Sweeper struct {
	store    store.Store
	retry    *service.RetryService
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewSweeper(s store.Store, retry *service.RetryService, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    s,
		retry:    retry,
		interval: interval,
		log:      zap.S().Named("sweeper"),
	}
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := jitterbug.New(s.interval, &jitterbug.Norm{Stdev: s.interval / 10})
	defer ticker.Stop()
	s.log.Infow("lease sweeper started", "interval", s.interval)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("lease sweeper stopped")
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	expired, err := s.store.Job().ExpiredLeases(ctx, time.Now().UTC())
	if err != nil {
		s.log.Errorw("failed to scan expired leases", "error", err)
		return
	}
	for i := range expired {
		job := &expired[i]
		metrics.IncreaseLeaseExpiredTotalMetric(string(job.Kind))
		s.log.Warnw("lease expired, reclaiming job",
			"job_id", job.ID, "worker_id", job.WorkerID, "retry_count", job.RetryCount)
		if _, err := s.retry.OnFailure(ctx, job, "worker lease expired", model.ErrorCategoryStaleness); err != nil {
			s.log.Errorw("failed to reclaim expired job", "job_id", job.ID, "error", err)
		}
	}
}
