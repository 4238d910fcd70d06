package store_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/config"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

var _ = Describe("Step store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
		job    *model.Job
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())
	})

	AfterAll(func() {
		s.Close()
	})

	BeforeEach(func() {
		var err error
		job, err = s.Job().Create(context.TODO(), newPendingJob(5))
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM steps;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	plan := func(names ...string) model.StepList {
		steps := make([]model.Step, 0, len(names))
		for i, name := range names {
			steps = append(steps, model.Step{
				JobID:  job.ID,
				Order:  i + 1,
				Name:   name,
				Status: model.StepStatusPending,
			})
		}
		created, err := s.Step().CreateAll(context.TODO(), steps)
		Expect(err).To(BeNil())
		return created
	}

	Context("create and list", func() {
		It("keeps steps in execution order", func() {
			plan("a", "b", "c")
			steps, err := s.Step().ListByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(steps).To(HaveLen(3))
			Expect(steps[0].Name).To(Equal("a"))
			Expect(steps[2].Name).To(Equal("c"))
			Expect(steps[2].Order).To(Equal(3))
		})

		It("rejects a duplicate order within the same job", func() {
			plan("a")
			_, err := s.Step().CreateAll(context.TODO(), []model.Step{{
				JobID:  job.ID,
				Order:  1,
				Name:   "dup",
				Status: model.StepStatusPending,
			}})
			Expect(err).To(MatchError(store.ErrDuplicateKey))
		})
	})

	Context("transitions", func() {
		It("moves pending -> processing -> completed", func() {
			plan("a")

			step, err := s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusProcessing, 0, nil, nil)
			Expect(err).To(BeNil())
			Expect(step.Status).To(Equal(model.StepStatusProcessing))
			Expect(step.StartedAt).NotTo(BeNil())

			step, err = s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusCompleted, 100,
				model.MakeJSONField(map[string]any{"tokens": 12}), nil)
			Expect(err).To(BeNil())
			Expect(step.Status).To(Equal(model.StepStatusCompleted))
			Expect(step.CompletedAt).NotTo(BeNil())
			Expect(step.Data.Data["tokens"]).To(BeNumerically("==", 12))
		})

		It("refuses to reopen a terminal step", func() {
			plan("a")
			_, err := s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusCompleted, 100, nil, nil)
			Expect(err).To(BeNil())

			_, err = s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusProcessing, 0, nil, nil)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("records the failure message on the step", func() {
			plan("a")
			msg := "render timeout"
			step, err := s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusFailed, 0, nil, &msg)
			Expect(err).To(BeNil())
			Expect(*step.Error).To(Equal(msg))
		})

		It("returns ErrRecordNotFound for an unknown order", func() {
			plan("a")
			_, err := s.Step().Transition(context.TODO(), job.ID, 9, model.StepStatusProcessing, 0, nil, nil)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("progress accounting", func() {
		It("counts completed steps and finds the next one", func() {
			plan("a", "b", "c", "d")

			for order := 1; order <= 2; order++ {
				_, err := s.Step().Transition(context.TODO(), job.ID, order, model.StepStatusCompleted, 100, nil, nil)
				Expect(err).To(BeNil())
			}

			completed, err := s.Step().CountCompleted(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(completed).To(Equal(int64(2)))

			next, err := s.Step().FirstNonTerminal(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(next.Name).To(Equal("c"))
		})

		It("reports no non-terminal step when the plan is done", func() {
			plan("a")
			_, err := s.Step().Transition(context.TODO(), job.ID, 1, model.StepStatusCompleted, 100, nil, nil)
			Expect(err).To(BeNil())

			_, err = s.Step().FirstNonTerminal(context.TODO(), job.ID)
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("redefinition", func() {
		It("clears the previous attempt's plan", func() {
			plan("a", "b")
			Expect(s.Step().DeleteByJob(context.TODO(), job.ID)).To(BeNil())

			steps, err := s.Step().ListByJob(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(steps).To(BeEmpty())
		})
	})

	Context("job logs", func() {
		It("appends and lists newest first", func() {
			for _, msg := range []string{"one", "two", "three"} {
				_, err := s.JobLog().Append(context.TODO(), model.JobLog{
					JobID:   job.ID,
					Level:   model.LogLevelInfo,
					Message: msg,
				})
				Expect(err).To(BeNil())
				time.Sleep(2 * time.Millisecond)
			}

			logs, err := s.JobLog().ListByJob(context.TODO(), job.ID, 2)
			Expect(err).To(BeNil())
			Expect(logs).To(HaveLen(2))
			Expect(logs[0].Message).To(Equal("three"))
		})
	})
})
