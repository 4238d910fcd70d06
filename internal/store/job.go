package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/docsmith/genqueue/internal/store/model"
)

// claimBatchSize bounds how many candidates a single Claim call inspects
// before reporting ErrNoneAvailable. Keeps the skip-ahead loop from scanning
// the whole queue when many workers race over the same head.
const claimBatchSize = 10

type Job interface {
	Create(ctx context.Context, job model.Job) (*model.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error)
	Count(ctx context.Context, filter *JobQueryFilter) (int64, error)
	Claim(ctx context.Context, workerID string, leaseDuration time.Duration) (*model.Job, error)
	RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseDuration time.Duration) error
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep *string, totalSteps int) (*model.Job, error)
	Complete(ctx context.Context, id uuid.UUID, output *model.JSONField[map[string]any]) (*model.Job, error)
	Requeue(ctx context.Context, id uuid.UUID, scheduledAt time.Time, errMsg string, category model.ErrorCategory) (*model.Job, error)
	Fail(ctx context.Context, id uuid.UUID, errMsg string, category model.ErrorCategory) (*model.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ResetForRetry(ctx context.Context, id uuid.UUID) (*model.Job, error)
	ExpiredLeases(ctx context.Context, now time.Time) (model.JobList, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type JobStore struct {
	db *gorm.DB
}

// Make sure we conform to Job interface
var _ Job = (*JobStore)(nil)

func NewJobStore(db *gorm.DB) Job {
	return &JobStore{db: db}
}

func (s *JobStore) Create(ctx context.Context, job model.Job) (*model.Job, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = time.Now().UTC()
	}
	result := s.getDB(ctx).Clauses(clause.Returning{}).Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	result := s.getDB(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("steps.step_order")
		}).
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("job_logs.created_at DESC").Limit(50)
		}).
		First(&job, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("querying job: %w", result.Error)
	}
	return &job, nil
}

func (s *JobStore) List(ctx context.Context, filter *JobQueryFilter, opts *JobQueryOptions) (model.JobList, error) {
	var jobs model.JobList
	tx := s.getDB(ctx).Model(&jobs)

	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if opts != nil {
		for _, fn := range opts.QueryFn {
			tx = fn(tx)
		}
	}

	result := tx.Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

func (s *JobStore) Count(ctx context.Context, filter *JobQueryFilter) (int64, error) {
	var count int64
	tx := s.getDB(ctx).Model(&model.Job{})
	if filter != nil {
		for _, fn := range filter.QueryFn {
			tx = fn(tx)
		}
	}
	if err := tx.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Claim atomically assigns the next eligible pending job to workerID.
// Candidates are ordered by ascending priority, ties broken by earlier
// scheduled_at. On postgres the candidate rows are read FOR UPDATE SKIP
// LOCKED so concurrent claimers skip ahead instead of blocking; the guarded
// update below makes the claim exactly-once on every dialect.
func (s *JobStore) Claim(ctx context.Context, workerID string, leaseDuration time.Duration) (*model.Job, error) {
	var claimed model.Job

	err := s.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		sel := tx.
			Where("status = ? AND scheduled_at <= ? AND retry_count < max_retries",
				model.JobStatusPending, now).
			Order("priority ASC, scheduled_at ASC").
			Limit(claimBatchSize)
		if tx.Dialector.Name() == "postgres" {
			sel = sel.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var candidates []model.Job
		if err := sel.Find(&candidates).Error; err != nil {
			return err
		}

		for i := range candidates {
			leaseExpiry := now.Add(leaseDuration)
			result := tx.Model(&model.Job{}).
				Where("id = ? AND status = ?", candidates[i].ID, model.JobStatusPending).
				Updates(map[string]any{
					"status":           model.JobStatusProcessing,
					"worker_id":        workerID,
					"started_at":       now,
					"lease_expires_at": leaseExpiry,
					"event_seq":        gorm.Expr("event_seq + 1"),
					"updated_at":       now,
				})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				// someone else won the race for this candidate, skip ahead
				continue
			}
			return tx.First(&claimed, "id = ?", candidates[i].ID).Error
		}

		return ErrNoneAvailable
	})
	if err != nil {
		return nil, err
	}
	return &claimed, nil
}

func (s *JobStore) RenewLease(ctx context.Context, id uuid.UUID, workerID string, leaseDuration time.Duration) error {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND worker_id = ? AND status = ?", id, workerID, model.JobStatusProcessing).
		Updates(map[string]any{
			"lease_expires_at": now.Add(leaseDuration),
			"updated_at":       now,
		})
	if result.Error != nil {
		return fmt.Errorf("renewing lease: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// UpdateProgress sets the aggregate progress of a processing job. Progress
// never goes backwards: the guard keeps a slow writer from undoing a newer
// value.
func (s *JobStore) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep *string, totalSteps int) (*model.Job, error) {
	now := time.Now().UTC()
	updates := map[string]any{
		"progress":     progress,
		"current_step": currentStep,
		"event_seq":    gorm.Expr("event_seq + 1"),
		"updated_at":   now,
	}
	if totalSteps > 0 {
		updates["total_steps"] = totalSteps
	}
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ? AND progress <= ?", id, model.JobStatusProcessing, progress).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating job progress: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, output *model.JSONField[map[string]any]) (*model.Job, error) {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]any{
			"status":           model.JobStatusCompleted,
			"output":           output,
			"progress":         100,
			"current_step":     nil,
			"lease_expires_at": nil,
			"completed_at":     now,
			"event_seq":        gorm.Expr("event_seq + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("completing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

// Requeue puts a failed attempt back on the queue for a later claim. The
// error stays recorded for diagnostics; started_at, the lease and the
// progress of the failed attempt are cleared so the job looks pending
// again and the next attempt starts its step plan from zero.
func (s *JobStore) Requeue(ctx context.Context, id uuid.UUID, scheduledAt time.Time, errMsg string, category model.ErrorCategory) (*model.Job, error) {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]any{
			"status":           model.JobStatusPending,
			"retry_count":      gorm.Expr("retry_count + 1"),
			"scheduled_at":     scheduledAt,
			"error":            errMsg,
			"error_category":   string(category),
			"progress":         0,
			"worker_id":        nil,
			"started_at":       nil,
			"lease_expires_at": nil,
			"current_step":     nil,
			"event_seq":        gorm.Expr("event_seq + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("requeueing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, category model.ErrorCategory) (*model.Job, error) {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusProcessing).
		Updates(map[string]any{
			"status":           model.JobStatusFailed,
			"retry_count":      gorm.Expr("retry_count + 1"),
			"error":            errMsg,
			"error_category":   string(category),
			"lease_expires_at": nil,
			"completed_at":     now,
			"event_seq":        gorm.Expr("event_seq + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failing job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

func (s *JobStore) Cancel(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status IN ?", id,
			[]model.JobStatus{model.JobStatusPending, model.JobStatusProcessing}).
		Updates(map[string]any{
			"status":           model.JobStatusCancelled,
			"lease_expires_at": nil,
			"completed_at":     now,
			"event_seq":        gorm.Expr("event_seq + 1"),
			"updated_at":       now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("cancelling job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

// ResetForRetry is the manual reset of a terminally failed job. Retry
// accounting starts over and the job becomes claimable immediately.
func (s *JobStore) ResetForRetry(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	now := time.Now().UTC()
	result := s.getDB(ctx).Model(&model.Job{}).
		Where("id = ? AND status = ?", id, model.JobStatusFailed).
		Updates(map[string]any{
			"status":       model.JobStatusPending,
			"retry_count":  0,
			"progress":     0,
			"scheduled_at": now,
			"error":        nil,
			"worker_id":    nil,
			"started_at":   nil,
			"completed_at": nil,
			"current_step": nil,
			"event_seq":    gorm.Expr("event_seq + 1"),
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, fmt.Errorf("resetting job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.transitionError(ctx, id)
	}
	return s.reload(ctx, id)
}

// ExpiredLeases returns processing jobs whose lease expired without a
// terminal transition, i.e. whose worker most likely crashed.
func (s *JobStore) ExpiredLeases(ctx context.Context, now time.Time) (model.JobList, error) {
	var jobs model.JobList
	result := s.getDB(ctx).
		Where("status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at < ?",
			model.JobStatusProcessing, now).
		Find(&jobs)
	if result.Error != nil {
		return nil, result.Error
	}
	return jobs, nil
}

// DeleteOlderThan removes terminal jobs past the retention cutoff. Steps and
// logs go with them through the cascade constraint.
func (s *JobStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.getDB(ctx).
		Where("status IN ? AND completed_at < ?",
			[]model.JobStatus{model.JobStatusCompleted, model.JobStatusFailed, model.JobStatusCancelled},
			cutoff).
		Delete(&model.Job{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// transitionError distinguishes "no such job" from "job exists but the
// guarded update did not apply".
func (s *JobStore) transitionError(ctx context.Context, id uuid.UUID) error {
	var count int64
	if err := s.getDB(ctx).Model(&model.Job{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrRecordNotFound
	}
	return ErrInvalidTransition
}

func (s *JobStore) reload(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	var job model.Job
	if err := s.getDB(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &job, nil
}

func (s *JobStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
