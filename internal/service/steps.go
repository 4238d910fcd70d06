package service

import (
	"context"
	"errors"
	"math"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

type StepService struct {
	store    store.Store
	producer *events.EventProducer
}

func NewStepService(s store.Store, producer *events.EventProducer) *StepService {
	return &StepService{store: s, producer: producer}
}

// DefineSteps replaces the job's step plan and resets progress accounting.
// A retried job redefines its plan from scratch, so any steps left over from
// the previous attempt are removed first.
func (s *StepService) DefineSteps(ctx context.Context, jobID uuid.UUID, names []string) (model.StepList, error) {
	if len(names) == 0 {
		return nil, NewErrInvalidInput("at least one step is required")
	}

	job, err := s.store.Job().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}
	if job.Status != model.JobStatusProcessing {
		return nil, NewErrNotProcessing(jobID)
	}

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = store.Rollback(ctx)
	}()

	if err := s.store.Step().DeleteByJob(ctx, jobID); err != nil {
		return nil, err
	}

	steps := make([]model.Step, 0, len(names))
	for i, name := range names {
		steps = append(steps, model.Step{
			JobID:  jobID,
			Order:  i + 1,
			Name:   name,
			Status: model.StepStatusPending,
		})
	}
	created, err := s.store.Step().CreateAll(ctx, steps)
	if err != nil {
		return nil, err
	}

	first := names[0]
	job, err = s.store.Job().UpdateProgress(ctx, jobID, 0, &first, len(names))
	if err != nil {
		return nil, err
	}

	if ctx, err = store.Commit(ctx); err != nil {
		return nil, err
	}

	publishJobEvent(s.producer, job, "steps defined")
	zap.S().Named("steps").Debugw("step plan defined", "job_id", jobID, "total", len(names))
	return created, nil
}

// UpdateStep transitions one step and recomputes the parent job's progress
// in the same transaction, so readers never observe a step/progress mismatch.
func (s *StepService) UpdateStep(ctx context.Context, jobID uuid.UUID, order int, status model.StepStatus, stepProgress int, data map[string]any, errMsg *string) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, NewErrAlreadyTerminal(jobID)
	}

	ctx, err = s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		_, _ = store.Rollback(ctx)
	}()

	var dataField *model.JSONField[map[string]any]
	if data != nil {
		dataField = model.MakeJSONField(data)
	}
	step, err := s.store.Step().Transition(ctx, jobID, order, status, stepProgress, dataField, errMsg)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			return nil, NewErrStepNotFound(jobID, order)
		case errors.Is(err, store.ErrInvalidTransition):
			return nil, NewErrStepTransition(jobID, order, string(status))
		}
		return nil, err
	}

	completed, err := s.store.Step().CountCompleted(ctx, jobID)
	if err != nil {
		return nil, err
	}
	total := job.TotalSteps
	if total < 1 {
		total = 1
	}
	progress := int(math.Round(100 * float64(completed) / float64(total)))

	var current *string
	next, err := s.store.Step().FirstNonTerminal(ctx, jobID)
	if err != nil && !errors.Is(err, store.ErrRecordNotFound) {
		return nil, err
	}
	if next != nil {
		current = &next.Name
	}

	job, err = s.store.Job().UpdateProgress(ctx, jobID, progress, current, total)
	if err != nil {
		return nil, err
	}

	if ctx, err = store.Commit(ctx); err != nil {
		return nil, err
	}

	publishJobEvent(s.producer, job, "step "+step.Name+" "+string(step.Status))
	return job, nil
}

// ListSteps returns the job's step plan in execution order.
func (s *StepService) ListSteps(ctx context.Context, jobID uuid.UUID) (model.StepList, error) {
	if _, err := s.store.Job().Get(ctx, jobID); err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(jobID)
		}
		return nil, err
	}
	return s.store.Step().ListByJob(ctx, jobID)
}
