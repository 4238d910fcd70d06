package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/gorm"

	"github.com/docsmith/genqueue/internal/config"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store Suite")
}

func newPendingJob(priority int) model.Job {
	return model.Job{
		OrgID:       "org1",
		Username:    "testuser",
		Kind:        model.JobKindCVGeneration,
		Status:      model.JobStatusPending,
		Priority:    priority,
		MaxRetries:  3,
		TotalSteps:  1,
		EventSeq:    1,
		ScheduledAt: time.Now().UTC(),
	}
}

var _ = Describe("Job store", Ordered, func() {
	var (
		s      store.Store
		gormdb *gorm.DB
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

	AfterEach(func() {
		gormdb.Exec("DELETE FROM job_logs;")
		gormdb.Exec("DELETE FROM steps;")
		gormdb.Exec("DELETE FROM jobs;")
	})

	Context("create and get", func() {
		It("creates a pending job with defaults", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			Expect(job.ID).NotTo(Equal(uuid.Nil))
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.Priority).To(Equal(5))
			Expect(job.RetryCount).To(Equal(0))

			got, err := s.Job().Get(context.TODO(), job.ID)
			Expect(err).To(BeNil())
			Expect(got.ID).To(Equal(job.ID))
		})

		It("returns ErrRecordNotFound for an unknown id", func() {
			_, err := s.Job().Get(context.TODO(), uuid.New())
			Expect(err).To(MatchError(store.ErrRecordNotFound))
		})
	})

	Context("claim", func() {
		It("claims jobs in priority order, lowest number first", func() {
			for _, p := range []int{5, 1, 3} {
				_, err := s.Job().Create(context.TODO(), newPendingJob(p))
				Expect(err).To(BeNil())
			}

			var claimed []int
			for i := 0; i < 3; i++ {
				job, err := s.Job().Claim(context.TODO(), "w1", time.Minute)
				Expect(err).To(BeNil())
				claimed = append(claimed, job.Priority)
			}
			Expect(claimed).To(Equal([]int{1, 3, 5}))

			_, err := s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(MatchError(store.ErrNoneAvailable))
		})

		It("breaks priority ties by earlier scheduled_at", func() {
			early := newPendingJob(5)
			early.ScheduledAt = time.Now().UTC().Add(-time.Hour)
			first, err := s.Job().Create(context.TODO(), early)
			Expect(err).To(BeNil())
			_, err = s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())

			job, err := s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			Expect(job.ID).To(Equal(first.ID))
		})

		It("assigns a single eligible job to exactly one of many claimers", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())

			const claimers = 8
			var wg sync.WaitGroup
			winners := make(chan uuid.UUID, claimers)
			for i := 0; i < claimers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					claimed, err := s.Job().Claim(context.TODO(), "w", time.Minute)
					if err == nil {
						winners <- claimed.ID
					} else {
						Expect(err).To(MatchError(store.ErrNoneAvailable))
					}
				}()
			}
			wg.Wait()
			close(winners)

			var ids []uuid.UUID
			for id := range winners {
				ids = append(ids, id)
			}
			Expect(ids).To(HaveLen(1))
			Expect(ids[0]).To(Equal(job.ID))
		})

		It("records worker, lease and started_at on claim", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())

			job, err := s.Job().Claim(context.TODO(), "w42", time.Minute)
			Expect(err).To(BeNil())
			Expect(job.ID).To(Equal(created.ID))
			Expect(job.Status).To(Equal(model.JobStatusProcessing))
			Expect(*job.WorkerID).To(Equal("w42"))
			Expect(job.StartedAt).NotTo(BeNil())
			Expect(job.LeaseExpiresAt).NotTo(BeNil())
			Expect(job.EventSeq).To(BeNumerically(">", created.EventSeq))
		})

		It("skips cancelled jobs", func() {
			job, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Cancel(context.TODO(), job.ID)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(MatchError(store.ErrNoneAvailable))
		})

		It("skips jobs scheduled in the future", func() {
			future := newPendingJob(5)
			future.ScheduledAt = time.Now().UTC().Add(time.Hour)
			_, err := s.Job().Create(context.TODO(), future)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(MatchError(store.ErrNoneAvailable))
		})
	})

	Context("progress", func() {
		It("never moves progress backwards", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())

			step := "content_generation"
			job, err := s.Job().UpdateProgress(context.TODO(), created.ID, 50, &step, 4)
			Expect(err).To(BeNil())
			Expect(job.Progress).To(Equal(50))
			Expect(*job.CurrentStep).To(Equal(step))

			_, err = s.Job().UpdateProgress(context.TODO(), created.ID, 25, &step, 4)
			Expect(err).To(MatchError(store.ErrInvalidTransition))

			got, err := s.Job().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(got.Progress).To(Equal(50))
		})
	})

	Context("terminal transitions", func() {
		It("completes a processing job and timestamps line up", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			time.Sleep(10 * time.Millisecond)
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			time.Sleep(10 * time.Millisecond)

			job, err := s.Job().Complete(context.TODO(), created.ID, model.MakeJSONField(map[string]any{"url": "a.pdf"}))
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusCompleted))
			Expect(job.Progress).To(Equal(100))
			Expect(job.Output.Data["url"]).To(Equal("a.pdf"))
			Expect(job.StartedAt.After(job.CreatedAt)).To(BeTrue())
			Expect(job.CompletedAt.After(*job.StartedAt)).To(BeTrue())
		})

		It("rejects completing a job that is not processing", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())

			_, err = s.Job().Complete(context.TODO(), created.ID, nil)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})

		It("requeues a processing job and increments retry_count", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().UpdateProgress(context.TODO(), created.ID, 50, nil, 2)
			Expect(err).To(BeNil())

			job, err := s.Job().Requeue(context.TODO(), created.ID, time.Now().UTC(), "timeout", model.ErrorCategoryTransient)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.RetryCount).To(Equal(1))
			Expect(*job.Error).To(Equal("timeout"))
			Expect(job.Progress).To(Equal(0))
			Expect(job.WorkerID).To(BeNil())
			Expect(job.LeaseExpiresAt).To(BeNil())
		})

		It("keeps a job with exhausted retries out of the queue", func() {
			j := newPendingJob(5)
			j.MaxRetries = 1
			created, err := s.Job().Create(context.TODO(), j)
			Expect(err).To(BeNil())

			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().Requeue(context.TODO(), created.ID, time.Now().UTC(), "timeout", model.ErrorCategoryTransient)
			Expect(err).To(BeNil())

			// retry_count == max_retries, not claimable anymore
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(MatchError(store.ErrNoneAvailable))
		})

		It("fails a processing job terminally", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())

			job, err := s.Job().Fail(context.TODO(), created.ID, "bad template", model.ErrorCategoryFatal)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusFailed))
			Expect(job.RetryCount).To(Equal(1))
			Expect(*job.ErrorCategory).To(Equal(string(model.ErrorCategoryFatal)))
			Expect(job.CompletedAt).NotTo(BeNil())
		})

		It("cancelling a terminal job is rejected", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().Complete(context.TODO(), created.ID, nil)
			Expect(err).To(BeNil())

			_, err = s.Job().Cancel(context.TODO(), created.ID)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("manual retry", func() {
		It("resets a failed job for a fresh run", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().Fail(context.TODO(), created.ID, "boom", model.ErrorCategoryFatal)
			Expect(err).To(BeNil())

			job, err := s.Job().ResetForRetry(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusPending))
			Expect(job.RetryCount).To(Equal(0))
			Expect(job.Progress).To(Equal(0))
			Expect(job.Error).To(BeNil())

			// claimable again
			claimed, err := s.Job().Claim(context.TODO(), "w2", time.Minute)
			Expect(err).To(BeNil())
			Expect(claimed.ID).To(Equal(created.ID))
		})

		It("rejects resetting a job that did not fail", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().ResetForRetry(context.TODO(), created.ID)
			Expect(err).To(MatchError(store.ErrInvalidTransition))
		})
	})

	Context("leases", func() {
		It("lists processing jobs with expired leases", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", 10*time.Millisecond)
			Expect(err).To(BeNil())

			expired, err := s.Job().ExpiredLeases(context.TODO(), time.Now().UTC().Add(time.Second))
			Expect(err).To(BeNil())
			Expect(expired).To(HaveLen(1))
			Expect(expired[0].ID).To(Equal(created.ID))
		})

		It("renewing pushes the lease forward for the owning worker only", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())

			Expect(s.Job().RenewLease(context.TODO(), created.ID, "w1", time.Hour)).To(BeNil())
			Expect(s.Job().RenewLease(context.TODO(), created.ID, "w2", time.Hour)).To(MatchError(store.ErrRecordNotFound))

			job, err := s.Job().Get(context.TODO(), created.ID)
			Expect(err).To(BeNil())
			Expect(job.LeaseExpiresAt.After(time.Now().UTC().Add(30 * time.Minute))).To(BeTrue())
		})
	})

	Context("listing", func() {
		It("filters by status and org", func() {
			_, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			other := newPendingJob(5)
			other.OrgID = "org2"
			_, err = s.Job().Create(context.TODO(), other)
			Expect(err).To(BeNil())

			jobs, err := s.Job().List(context.TODO(),
				store.NewJobQueryFilter().ByOrgID("org1").ByStatus(model.JobStatusPending),
				store.NewJobQueryOptions().WithSortOrder(store.SortByCreatedTime))
			Expect(err).To(BeNil())
			Expect(jobs).To(HaveLen(1))
			Expect(jobs[0].OrgID).To(Equal("org1"))

			count, err := s.Job().Count(context.TODO(), store.NewJobQueryFilter().ByStatus(model.JobStatusPending))
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(2)))
		})
	})

	Context("retention", func() {
		It("deletes only terminal jobs past the cutoff", func() {
			created, err := s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())
			_, err = s.Job().Claim(context.TODO(), "w1", time.Minute)
			Expect(err).To(BeNil())
			_, err = s.Job().Complete(context.TODO(), created.ID, nil)
			Expect(err).To(BeNil())

			_, err = s.Job().Create(context.TODO(), newPendingJob(5))
			Expect(err).To(BeNil())

			deleted, err := s.Job().DeleteOlderThan(context.TODO(), time.Now().UTC().Add(time.Second))
			Expect(err).To(BeNil())
			Expect(deleted).To(Equal(int64(1)))

			count, err := s.Job().Count(context.TODO(), store.NewJobQueryFilter())
			Expect(err).To(BeNil())
			Expect(count).To(Equal(int64(1)))
		})
	})
})
