package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	jitterbug "github.com/lthibault/jitterbug/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

// errJobCancelled aborts the step loop when a cancellation is observed at a
// step boundary. It never reaches the retry policy.
var errJobCancelled = errors.New("job cancelled")

type Pool struct {
	workerID     string
	concurrency  int
	pollInterval time.Duration
	registry     *Registry
	store        store.Store
	scheduler    *service.SchedulerService
	steps        *service.StepService
	queue        *service.QueueService
	retry        *service.RetryService
	log          *zap.SugaredLogger
}

func NewPool(
	workerID string,
	concurrency int,
	pollInterval time.Duration,
	registry *Registry,
	s store.Store,
	scheduler *service.SchedulerService,
	steps *service.StepService,
	queue *service.QueueService,
	retry *service.RetryService,
) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pool{
		workerID:     workerID,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		registry:     registry,
		store:        s,
		scheduler:    scheduler,
		steps:        steps,
		queue:        queue,
		retry:        retry,
		log:          zap.S().Named("worker"),
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled and
// in-flight jobs have drained.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Infow("starting worker pool", "worker_id", p.workerID, "concurrency", p.concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		slot := fmt.Sprintf("%s-%d", p.workerID, i)
		g.Go(func() error {
			p.poll(ctx, slot)
			return nil
		})
	}
	err := g.Wait()
	p.log.Info("worker pool stopped")
	return err
}

func (p *Pool) poll(ctx context.Context, slot string) {
	ticker := jitterbug.New(p.pollInterval, &jitterbug.Norm{Stdev: p.pollInterval / 10})
	defer ticker.Stop()
	for {
		// Drain the queue before going back to sleep.
		for {
			if ctx.Err() != nil {
				return
			}
			job, err := p.scheduler.ClaimNext(ctx, slot)
			if err != nil {
				p.log.Errorw("claim failed", "slot", slot, "error", err)
				break
			}
			if job == nil {
				break
			}
			p.process(ctx, slot, job)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) process(ctx context.Context, slot string, job *model.Job) {
	def, ok := p.registry.Lookup(job.Kind)
	if !ok {
		if _, err := p.retry.OnFailure(ctx, job,
			fmt.Sprintf("no executor registered for kind %q", job.Kind),
			model.ErrorCategoryValidation); err != nil {
			p.log.Errorw("failed to fail job with unknown kind", "job_id", job.ID, "error", err)
		}
		return
	}

	if _, err := p.steps.DefineSteps(ctx, job.ID, def.StepNames()); err != nil {
		p.log.Errorw("failed to define steps", "job_id", job.ID, "error", err)
		if _, err := p.retry.OnFailure(ctx, job, err.Error(), model.ErrorCategoryTransient); err != nil {
			p.log.Errorw("failed to requeue job", "job_id", job.ID, "error", err)
		}
		return
	}

	output, err := p.runSteps(ctx, slot, job, def)
	if err != nil {
		var terminal *service.ErrAlreadyTerminal
		if errors.Is(err, errJobCancelled) || errors.As(err, &terminal) {
			p.log.Infow("job reached a terminal state mid-flight, abandoning", "job_id", job.ID)
			return
		}
		if _, ferr := p.retry.OnFailure(ctx, job, err.Error(), Categorize(err)); ferr != nil {
			p.log.Errorw("failed to apply retry policy", "job_id", job.ID, "error", ferr)
		}
		return
	}

	if _, err := p.queue.Complete(ctx, job.ID, output); err != nil {
		p.log.Errorw("failed to complete job", "job_id", job.ID, "error", err)
	}
}

// runSteps walks the plan in order, checking for cancellation and renewing
// the lease at each boundary. The returned map is the accumulated output of
// every step.
func (p *Pool) runSteps(ctx context.Context, slot string, job *model.Job, def Definition) (map[string]any, error) {
	state := map[string]any{}
	if job.Input != nil {
		for k, v := range job.Input.Data {
			state[k] = v
		}
	}

	for i, step := range def.Steps {
		order := i + 1

		cancelled, err := p.isCancelled(ctx, job)
		if err != nil {
			return nil, err
		}
		if cancelled {
			return nil, errJobCancelled
		}
		if err := p.scheduler.RenewLease(ctx, job.ID, slot); err != nil {
			return nil, NewTransientError(fmt.Errorf("renew lease: %w", err))
		}

		if _, err := p.steps.UpdateStep(ctx, job.ID, order, model.StepStatusProcessing, 0, nil, nil); err != nil {
			return nil, err
		}

		out, err := step.Run(ctx, job, state)
		if err != nil {
			msg := err.Error()
			if _, uerr := p.steps.UpdateStep(ctx, job.ID, order, model.StepStatusFailed, 0, nil, &msg); uerr != nil {
				p.log.Errorw("failed to record step failure", "job_id", job.ID, "step", step.Name, "error", uerr)
			}
			return nil, fmt.Errorf("step %s: %w", step.Name, err)
		}
		for k, v := range out {
			state[k] = v
		}

		if _, err := p.steps.UpdateStep(ctx, job.ID, order, model.StepStatusCompleted, 100, out, nil); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (p *Pool) isCancelled(ctx context.Context, job *model.Job) (bool, error) {
	current, err := p.store.Job().Get(ctx, job.ID)
	if err != nil {
		return false, err
	}
	return current.Status == model.JobStatusCancelled, nil
}
