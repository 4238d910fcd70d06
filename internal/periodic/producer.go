package periodic

import (
	"context"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store/model"
)

// Schedule enqueues one job of a fixed kind on a jittered interval. Crawl
// and match runs are produced this way instead of by user requests.
type Schedule struct {
	Kind     model.JobKind
	Interval time.Duration
	Input    map[string]any
}

type Producer struct {
	queue     *service.QueueService
	schedules []Schedule
	log       *zap.SugaredLogger
}

func NewProducer(queue *service.QueueService, schedules []Schedule) *Producer {
	return &Producer{
		queue:     queue,
		schedules: schedules,
		log:       zap.S().Named("periodic"),
	}
}

func (p *Producer) Run(ctx context.Context) error {
	for _, sched := range p.schedules {
		go p.runSchedule(ctx, sched)
	}
	<-ctx.Done()
	return nil
}

func (p *Producer) runSchedule(ctx context.Context, sched Schedule) {
	ticker := jitterbug.New(sched.Interval, &jitterbug.Norm{Stdev: sched.Interval / 20})
	defer ticker.Stop()
	p.log.Infow("schedule started", "kind", sched.Kind, "interval", sched.Interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := p.queue.Enqueue(ctx, service.EnqueueRequest{
				OrgID:    "system",
				Username: "scheduler",
				Kind:     sched.Kind,
				Priority: 5,
				Input:    sched.Input,
			})
			if err != nil {
				p.log.Errorw("failed to enqueue scheduled job", "kind", sched.Kind, "error", err)
				continue
			}
			p.log.Debugw("scheduled job enqueued", "kind", sched.Kind, "job_id", job.ID)
		}
	}
}
