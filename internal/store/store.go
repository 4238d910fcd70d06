package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/store/model"
)

type Store interface {
	NewTransactionContext(ctx context.Context) (context.Context, error)
	Job() Job
	Step() Step
	JobLog() JobLog
	Metric() Metric
	InitialMigration() error
	Close() error
}

type DataStore struct {
	db     *gorm.DB
	job    Job
	step   Step
	jobLog JobLog
	metric Metric
}

func NewStore(db *gorm.DB) Store {
	return &DataStore{
		job:    NewJobStore(db),
		step:   NewStepStore(db),
		jobLog: NewJobLogStore(db),
		metric: NewMetricStore(db),
		db:     db,
	}
}

func (s *DataStore) NewTransactionContext(ctx context.Context) (context.Context, error) {
	return newTransactionContext(ctx, s.db)
}

func (s *DataStore) Job() Job {
	return s.job
}

func (s *DataStore) Step() Step {
	return s.step
}

func (s *DataStore) JobLog() JobLog {
	return s.jobLog
}

func (s *DataStore) Metric() Metric {
	return s.metric
}

// InitialMigration creates the schema directly from the models. Postgres
// deployments run the goose migrations instead; this path serves sqlite and
// tests.
func (s *DataStore) InitialMigration() error {
	return s.db.AutoMigrate(
		&model.Job{},
		&model.Step{},
		&model.JobLog{},
		&model.Metric{},
	)
}

func (s *DataStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
