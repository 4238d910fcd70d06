package periodic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/service"
)

// Retention deletes terminal jobs older than the configured period. Runs
// daily; the first pass happens shortly after startup so restarts do not
// postpone cleanup.
type Retention struct {
	queue  *service.QueueService
	period time.Duration
	log    *zap.SugaredLogger
}

func NewRetention(queue *service.QueueService, period time.Duration) *Retention {
	return &Retention{
		queue:  queue,
		period: period,
		log:    zap.S().Named("retention"),
	}
}

func (r *Retention) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Minute)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			deleted, err := r.queue.Cleanup(ctx, r.period)
			if err != nil {
				r.log.Errorw("retention cleanup failed", "error", err)
			} else if deleted > 0 {
				r.log.Infow("retention cleanup done", "deleted", deleted)
			}
			timer.Reset(24 * time.Hour)
		}
	}
}
