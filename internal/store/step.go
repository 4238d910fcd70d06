package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/store/model"
)

type Step interface {
	CreateAll(ctx context.Context, steps []model.Step) (model.StepList, error)
	ListByJob(ctx context.Context, jobID uuid.UUID) (model.StepList, error)
	GetByOrder(ctx context.Context, jobID uuid.UUID, order int) (*model.Step, error)
	Transition(ctx context.Context, jobID uuid.UUID, order int, status model.StepStatus, progress int, data *model.JSONField[map[string]any], errMsg *string) (*model.Step, error)
	CountCompleted(ctx context.Context, jobID uuid.UUID) (int64, error)
	FirstNonTerminal(ctx context.Context, jobID uuid.UUID) (*model.Step, error)
	DeleteByJob(ctx context.Context, jobID uuid.UUID) error
}

type StepStore struct {
	db *gorm.DB
}

// Make sure we conform to Step interface
var _ Step = (*StepStore)(nil)

func NewStepStore(db *gorm.DB) Step {
	return &StepStore{db: db}
}

func (s *StepStore) CreateAll(ctx context.Context, steps []model.Step) (model.StepList, error) {
	for i := range steps {
		if steps[i].ID == uuid.Nil {
			steps[i].ID = uuid.New()
		}
	}
	if err := s.getDB(ctx).Create(&steps).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("creating steps: %w", err)
	}
	return steps, nil
}

func (s *StepStore) ListByJob(ctx context.Context, jobID uuid.UUID) (model.StepList, error) {
	var steps model.StepList
	result := s.getDB(ctx).Where("job_id = ?", jobID).Order("step_order").Find(&steps)
	if result.Error != nil {
		return nil, result.Error
	}
	return steps, nil
}

func (s *StepStore) GetByOrder(ctx context.Context, jobID uuid.UUID, order int) (*model.Step, error) {
	var step model.Step
	result := s.getDB(ctx).First(&step, "job_id = ? AND step_order = ?", jobID, order)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &step, nil
}

// Transition moves a step forward through pending -> processing ->
// {completed|failed|skipped}. Re-entering pending is disallowed; a failed
// job gets a fresh set of steps on its next attempt instead.
func (s *StepStore) Transition(ctx context.Context, jobID uuid.UUID, order int, status model.StepStatus, progress int, data *model.JSONField[map[string]any], errMsg *string) (*model.Step, error) {
	now := time.Now().UTC()

	updates := map[string]any{
		"status":     status,
		"progress":   progress,
		"updated_at": now,
	}
	if data != nil {
		updates["data"] = data
	}
	if errMsg != nil {
		updates["error"] = errMsg
	}

	var allowedFrom []model.StepStatus
	switch status {
	case model.StepStatusProcessing:
		updates["started_at"] = now
		allowedFrom = []model.StepStatus{model.StepStatusPending, model.StepStatusProcessing}
	case model.StepStatusCompleted, model.StepStatusFailed, model.StepStatusSkipped:
		updates["completed_at"] = now
		allowedFrom = []model.StepStatus{model.StepStatusPending, model.StepStatusProcessing}
	default:
		return nil, ErrInvalidTransition
	}

	result := s.getDB(ctx).Model(&model.Step{}).
		Where("job_id = ? AND step_order = ? AND status IN ?", jobID, order, allowedFrom).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("updating step: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := s.GetByOrder(ctx, jobID, order); err != nil {
			return nil, err
		}
		return nil, ErrInvalidTransition
	}
	return s.GetByOrder(ctx, jobID, order)
}

func (s *StepStore) CountCompleted(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var count int64
	err := s.getDB(ctx).Model(&model.Step{}).
		Where("job_id = ? AND status = ?", jobID, model.StepStatusCompleted).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *StepStore) FirstNonTerminal(ctx context.Context, jobID uuid.UUID) (*model.Step, error) {
	var step model.Step
	result := s.getDB(ctx).
		Where("job_id = ? AND status IN ?", jobID,
			[]model.StepStatus{model.StepStatusPending, model.StepStatusProcessing}).
		Order("step_order").
		First(&step)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, result.Error
	}
	return &step, nil
}

// DeleteByJob clears the previous attempt's steps before a retried job
// defines a new set.
func (s *StepStore) DeleteByJob(ctx context.Context, jobID uuid.UUID) error {
	result := s.getDB(ctx).Where("job_id = ?", jobID).Delete(&model.Step{})
	return result.Error
}

func (s *StepStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
