package service_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/config"
	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

var _ = Describe("Step service", Ordered, func() {
	var (
		s        store.Store
		gormdb   *gorm.DB
		producer *events.EventProducer
		queue    *service.QueueService
		sched    *service.SchedulerService
		svc      *service.StepService
	)

	BeforeAll(func() {
		cfg := config.NewDefault()
		db, err := store.InitDB(cfg)
		Expect(err).To(BeNil())

		s = store.NewStore(db)
		gormdb = db
		Expect(s.InitialMigration()).To(BeNil())

		producer = events.NewEventProducer(&events.StdoutWriter{})
		queue = service.NewQueueService(s, producer)
		sched = service.NewSchedulerService(s, producer, time.Minute)
		svc = service.NewStepService(s, producer)
	})

	AfterAll(func() {
		_ = producer.Close()
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_logs;")
		gormdb.Exec("DELETE FROM steps;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	newProcessingJob := func() *model.Job {
		job, err := queue.Enqueue(context.TODO(), service.EnqueueRequest{
			OrgID: "org1", Kind: model.JobKindCVGeneration, Priority: 5,
		})
		Expect(err).To(BeNil())
		claimed, err := sched.ClaimNext(context.TODO(), "w1")
		Expect(err).To(BeNil())
		Expect(claimed.ID).To(Equal(job.ID))
		return claimed
	}

	Context("DefineSteps", func() {
		It("creates the plan and resets progress", func() {
			job := newProcessingJob()

			steps, err := svc.DefineSteps(context.TODO(), job.ID, []string{"a", "b", "c", "d"})
			Expect(err).To(BeNil())
			Expect(steps).To(HaveLen(4))

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.TotalSteps).To(Equal(4))
			Expect(got.Progress).To(BeZero())
			Expect(*got.CurrentStep).To(Equal("a"))
		})

		It("replaces the previous attempt's plan", func() {
			job := newProcessingJob()
			_, err := svc.DefineSteps(context.TODO(), job.ID, []string{"old1", "old2"})
			Expect(err).To(BeNil())

			_, err = svc.DefineSteps(context.TODO(), job.ID, []string{"new1", "new2", "new3"})
			Expect(err).To(BeNil())

			steps, err := svc.ListSteps(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(steps).To(HaveLen(3))
			Expect(steps[0].Name).To(Equal("new1"))
		})

		It("rejects a plan for a job that is not processing", func() {
			job, err := queue.Enqueue(context.TODO(), service.EnqueueRequest{
				OrgID: "org1", Kind: model.JobKindCVGeneration, Priority: 5,
			})
			Expect(err).To(BeNil())

			_, err = svc.DefineSteps(context.TODO(), job.ID, []string{"a"})
			Expect(err).To(BeAssignableToTypeOf(&service.ErrNotProcessing{}))
		})
	})

	Context("UpdateStep", func() {
		It("recomputes job progress from completed steps", func() {
			job := newProcessingJob()
			_, err := svc.DefineSteps(context.TODO(), job.ID, []string{"a", "b", "c", "d"})
			Expect(err).To(BeNil())

			for order := 1; order <= 2; order++ {
				_, err := svc.UpdateStep(context.TODO(), job.ID, order, model.StepStatusProcessing, 0, nil, nil)
				Expect(err).To(BeNil())
				_, err = svc.UpdateStep(context.TODO(), job.ID, order, model.StepStatusCompleted, 100, nil, nil)
				Expect(err).To(BeNil())
			}

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.Progress).To(Equal(50))
			Expect(*got.CurrentStep).To(Equal("c"))
		})

		It("stores step output data", func() {
			job := newProcessingJob()
			_, err := svc.DefineSteps(context.TODO(), job.ID, []string{"a"})
			Expect(err).To(BeNil())

			_, err = svc.UpdateStep(context.TODO(), job.ID, 1, model.StepStatusCompleted, 100,
				map[string]any{"pages": 2}, nil)
			Expect(err).To(BeNil())

			steps, err := svc.ListSteps(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(steps[0].Data.Data["pages"]).To(BeNumerically("==", 2))
		})

		It("rejects updates to an unknown step order", func() {
			job := newProcessingJob()
			_, err := svc.DefineSteps(context.TODO(), job.ID, []string{"a"})
			Expect(err).To(BeNil())

			_, err = svc.UpdateStep(context.TODO(), job.ID, 7, model.StepStatusProcessing, 0, nil, nil)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrStepNotFound{}))
		})

		It("rejects updates once the job is terminal", func() {
			job := newProcessingJob()
			_, err := svc.DefineSteps(context.TODO(), job.ID, []string{"a"})
			Expect(err).To(BeNil())
			_, err = queue.Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			_, err = svc.UpdateStep(context.TODO(), job.ID, 1, model.StepStatusProcessing, 0, nil, nil)
			Expect(err).To(BeAssignableToTypeOf(&service.ErrAlreadyTerminal{}))
		})
	})
})
