package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/store/model"
)

type JobLog interface {
	Append(ctx context.Context, entry model.JobLog) (*model.JobLog, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, limit int) (model.JobLogList, error)
}

type JobLogStore struct {
	db *gorm.DB
}

// Make sure we conform to JobLog interface
var _ JobLog = (*JobLogStore)(nil)

func NewJobLogStore(db *gorm.DB) JobLog {
	return &JobLogStore{db: db}
}

// Append writes one diagnostic entry. Entries are never updated or deleted
// outside retention cleanup.
func (s *JobLogStore) Append(ctx context.Context, entry model.JobLog) (*model.JobLog, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if err := s.getDB(ctx).Create(&entry).Error; err != nil {
		return nil, fmt.Errorf("appending job log: %w", err)
	}
	return &entry, nil
}

func (s *JobLogStore) ListByJob(ctx context.Context, jobID uuid.UUID, limit int) (model.JobLogList, error) {
	var entries model.JobLogList
	tx := s.getDB(ctx).Where("job_id = ?", jobID).Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *JobLogStore) getDB(ctx context.Context) *gorm.DB {
	tx := FromContext(ctx)
	if tx != nil {
		return tx
	}
	return s.db
}
