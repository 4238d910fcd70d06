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

var _ = Describe("Retry service", Ordered, func() {
	var (
		s        store.Store
		gormdb   *gorm.DB
		producer *events.EventProducer
		queue    *service.QueueService
		sched    *service.SchedulerService
		steps    *service.StepService
		svc      *service.RetryService
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
		steps = service.NewStepService(s, producer)
		svc = service.NewRetryService(s, producer, service.Backoff{
			Base: time.Millisecond,
			Max:  5 * time.Millisecond,
		})
	})

	AfterAll(func() {
		_ = producer.Close()
		s.Close()
	})

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_logs;")
		gormdb.Exec("DELETE FROM metrics;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	claimNew := func(maxRetries int) *model.Job {
		job, err := queue.Enqueue(context.TODO(), service.EnqueueRequest{
			OrgID: "org1", Kind: model.JobKindCVGeneration, Priority: 5, MaxRetries: &maxRetries,
		})
		Expect(err).To(BeNil())
		claimed, err := sched.ClaimNext(context.TODO(), "w1")
		Expect(err).To(BeNil())
		Expect(claimed.ID).To(Equal(job.ID))
		return claimed
	}

	It("requeues a transient failure with budget left", func() {
		job := claimNew(3)

		out, err := svc.OnFailure(context.TODO(), job, "connection reset", model.ErrorCategoryTransient)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusPending))
		Expect(out.RetryCount).To(Equal(1))
		Expect(*out.Error).To(Equal("connection reset"))
	})

	It("fails a fatal error immediately regardless of budget", func() {
		job := claimNew(3)

		out, err := svc.OnFailure(context.TODO(), job, "unknown template id", model.ErrorCategoryFatal)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusFailed))
		Expect(out.RetryCount).To(Equal(1))
	})

	It("fails terminally once the retry budget is exhausted", func() {
		job := claimNew(2)

		out, err := svc.OnFailure(context.TODO(), job, "timeout", model.ErrorCategoryTransient)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusPending))

		// wait out the backoff, then run the second and final attempt
		Eventually(func() error {
			var err error
			out, err = sched.ClaimNext(context.TODO(), "w1")
			if err != nil || out == nil {
				return store.ErrNoneAvailable
			}
			return nil
		}, time.Second, 5*time.Millisecond).Should(BeNil())

		out, err = svc.OnFailure(context.TODO(), out, "timeout", model.ErrorCategoryTransient)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusFailed))
		Expect(out.RetryCount).To(Equal(2))
	})

	It("records a metric row for a terminal failure", func() {
		job := claimNew(3)
		_, err := svc.OnFailure(context.TODO(), job, "boom", model.ErrorCategoryFatal)
		Expect(err).To(BeNil())

		rows, err := s.Metric().List(context.TODO(), store.NewMetricQueryFilter().ByKind(model.JobKindCVGeneration))
		Expect(err).To(BeNil())
		Expect(rows).To(HaveLen(1))
		Expect(rows[0].Status).To(Equal(model.JobStatusFailed))
		Expect(*rows[0].ErrorCategory).To(Equal(string(model.ErrorCategoryFatal)))
	})

	It("lets a retried job with partial progress start a fresh step plan", func() {
		job := claimNew(3)

		_, err := steps.DefineSteps(context.TODO(), job.ID, []string{"a", "b"})
		Expect(err).To(BeNil())
		out, err := steps.UpdateStep(context.TODO(), job.ID, 1, model.StepStatusCompleted, 100, nil, nil)
		Expect(err).To(BeNil())
		Expect(out.Progress).To(Equal(50))

		out, err = svc.OnFailure(context.TODO(), out, "renderer unavailable", model.ErrorCategoryTransient)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusPending))
		Expect(out.Progress).To(Equal(0))

		Eventually(func() error {
			var err error
			out, err = sched.ClaimNext(context.TODO(), "w1")
			if err != nil || out == nil {
				return store.ErrNoneAvailable
			}
			return nil
		}, time.Second, 5*time.Millisecond).Should(BeNil())

		created, err := steps.DefineSteps(context.TODO(), out.ID, []string{"a", "b"})
		Expect(err).To(BeNil())
		Expect(created).To(HaveLen(2))

		reloaded, err := queue.Get(context.TODO(), out.ID)
		Expect(err).To(BeNil())
		Expect(reloaded.Progress).To(Equal(0))
		Expect(*reloaded.CurrentStep).To(Equal("a"))
	})

	It("treats a staleness failure as a retry attempt", func() {
		job := claimNew(3)

		out, err := svc.OnFailure(context.TODO(), job, "worker lease expired", model.ErrorCategoryStaleness)
		Expect(err).To(BeNil())
		Expect(out.Status).To(Equal(model.JobStatusPending))
		Expect(out.RetryCount).To(Equal(1))
	})
})
