package service

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/pkg/metrics"
)

const defaultMaxRetries = 3

var knownJobKinds = map[model.JobKind]struct{}{
	model.JobKindCVGeneration:          {},
	model.JobKindCoverLetterGeneration: {},
	model.JobKindJobAnalysis:           {},
	model.JobKindBulkGeneration:        {},
	model.JobKindJobCrawl:              {},
	model.JobKindProfileMatch:          {},
}

type QueueService struct {
	store    store.Store
	producer *events.EventProducer
	validate *validator.Validate
}

func NewQueueService(s store.Store, producer *events.EventProducer) *QueueService {
	return &QueueService{
		store:    s,
		producer: producer,
		validate: validator.New(),
	}
}

type EnqueueRequest struct {
	OrgID       string         `validate:"required"`
	Username    string         `validate:"omitempty,max=255"`
	Kind        model.JobKind  `validate:"required"`
	Priority    int            `validate:"gte=1,lte=10"`
	Input       map[string]any `validate:"-"`
	// a max_retries of 0 would never be claimable
	MaxRetries  *int           `validate:"omitempty,gte=1,lte=10"`
	ScheduledAt *time.Time     `validate:"-"`
}

// Enqueue validates the request and creates a pending job. Validation
// failures reject synchronously; no job is created.
func (s *QueueService) Enqueue(ctx context.Context, req EnqueueRequest) (*model.Job, error) {
	if _, ok := knownJobKinds[req.Kind]; !ok {
		return nil, NewErrInvalidJobKind(string(req.Kind))
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, NewErrInvalidInput(err.Error())
	}

	maxRetries := defaultMaxRetries
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	scheduledAt := time.Now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	job := model.Job{
		OrgID:       req.OrgID,
		Username:    req.Username,
		Kind:        req.Kind,
		Status:      model.JobStatusPending,
		Priority:    req.Priority,
		MaxRetries:  maxRetries,
		ScheduledAt: scheduledAt,
		EventSeq:    1,
	}
	if req.Input != nil {
		job.Input = model.MakeJSONField(req.Input)
	}

	created, err := s.store.Job().Create(ctx, job)
	if err != nil {
		return nil, err
	}

	appendJobLog(ctx, s.store, created, model.LogLevelInfo, "job created",
		map[string]any{"kind": created.Kind, "priority": created.Priority})
	metrics.IncreaseJobsEnqueuedTotalMetric(string(created.Kind))
	publishJobEvent(s.producer, created, "job created")

	zap.S().Named("queue").Infow("job enqueued",
		"job_id", created.ID, "kind", created.Kind, "priority", created.Priority)
	return created, nil
}

// BulkEnqueue creates up to 50 jobs in one call. Individual validation
// failures are reported per entry without aborting the whole batch.
type BulkResult struct {
	Created []uuid.UUID
	Failed  map[int]string
}

func (s *QueueService) BulkEnqueue(ctx context.Context, reqs []EnqueueRequest) (*BulkResult, error) {
	if len(reqs) == 0 || len(reqs) > 50 {
		return nil, NewErrInvalidInput("bulk request must contain between 1 and 50 jobs")
	}

	result := &BulkResult{Failed: make(map[int]string)}
	for i, req := range reqs {
		job, err := s.Enqueue(ctx, req)
		if err != nil {
			result.Failed[i] = err.Error()
			continue
		}
		result.Created = append(result.Created, job.ID)
	}
	return result, nil
}

func (s *QueueService) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		return nil, err
	}
	return job, nil
}

func (s *QueueService) List(ctx context.Context, filter *store.JobQueryFilter, opts *store.JobQueryOptions) (model.JobList, error) {
	return s.store.Job().List(ctx, filter, opts)
}

func (s *QueueService) CountJobs(ctx context.Context, filter *store.JobQueryFilter) (int64, error) {
	return s.store.Job().Count(ctx, filter)
}

// Cancel stops a pending or processing job. Cancelling a terminal job is a
// no-op reported as ErrAlreadyTerminal. Cancellation of a processing job is
// cooperative: the worker observes it at the next step boundary.
func (s *QueueService) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().Cancel(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, NewErrAlreadyTerminal(id)
		}
		return nil, err
	}

	appendJobLog(ctx, s.store, job, model.LogLevelInfo, "job cancelled", nil)
	recordTerminal(ctx, s.store, job)
	publishJobEvent(s.producer, job, "job cancelled")

	zap.S().Named("queue").Infow("job cancelled", "job_id", job.ID)
	return job, nil
}

// Retry manually resets a terminally failed job: retry_count back to zero,
// status back to pending, claimable immediately.
func (s *QueueService) Retry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	job, err := s.store.Job().ResetForRetry(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, NewErrNotFailed(id)
		}
		return nil, err
	}

	appendJobLog(ctx, s.store, job, model.LogLevelInfo, "job manually retried", nil)
	publishJobEvent(s.producer, job, "job manually retried")

	zap.S().Named("queue").Infow("job manually retried", "job_id", job.ID)
	return job, nil
}

// Complete transitions a processing job to completed. Idempotent: a second
// completion signal from a retried worker is a no-op, not an error.
func (s *QueueService) Complete(ctx context.Context, id uuid.UUID, output map[string]any) (*model.Job, error) {
	var outputField *model.JSONField[map[string]any]
	if output != nil {
		outputField = model.MakeJSONField(output)
	}

	job, err := s.store.Job().Complete(ctx, id, outputField)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrJobNotFound(id)
		}
		if errors.Is(err, store.ErrInvalidTransition) {
			current, getErr := s.store.Job().Get(ctx, id)
			if getErr != nil {
				return nil, getErr
			}
			if current.Status == model.JobStatusCompleted {
				// duplicate completion signal
				return current, nil
			}
			return nil, NewErrNotProcessing(id)
		}
		return nil, err
	}

	appendJobLog(ctx, s.store, job, model.LogLevelInfo, "job completed", nil)
	recordTerminal(ctx, s.store, job)
	publishJobEvent(s.producer, job, "job completed")

	zap.S().Named("queue").Infow("job completed", "job_id", job.ID)
	return job, nil
}

// Subscribe returns a stream of future events for the job.
func (s *QueueService) Subscribe(id uuid.UUID) *events.Subscription {
	return s.producer.Subscribe(id.String())
}

// Cleanup deletes terminal jobs older than the retention period.
func (s *QueueService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	return s.store.Job().DeleteOlderThan(ctx, cutoff)
}
