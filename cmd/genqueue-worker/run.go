package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/docsmith/genqueue/internal/config"
	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/periodic"
	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/internal/store/model"
	"github.com/docsmith/genqueue/internal/worker"
	"github.com/docsmith/genqueue/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the queue worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logger := log.InitLog(log.AtomicLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting worker service")
		defer zap.S().Info("Worker service stopped")

		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		if err := st.InitialMigration(); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		writer, err := newEventWriter(cfg)
		if err != nil {
			zap.S().Fatalw("creating event writer", "error", err)
		}
		producer := events.NewEventProducer(writer, events.WithOutputTopic(cfg.Events.Topic))
		defer func() { _ = producer.Close() }()

		backoff := service.Backoff{Base: cfg.Worker.BackoffBase, Max: cfg.Worker.BackoffMax}
		queueSvc := service.NewQueueService(st, producer)
		stepSvc := service.NewStepService(st, producer)
		schedulerSvc := service.NewSchedulerService(st, producer, cfg.Worker.LeaseDuration)
		retrySvc := service.NewRetryService(st, producer, backoff)

		registry := worker.NewRegistry()
		if err := worker.RegisterBuiltinKinds(registry, nil); err != nil {
			zap.S().Fatalw("registering job kinds", "error", err)
		}

		hostname, _ := os.Hostname()
		workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])

		pool := worker.NewPool(
			workerID,
			cfg.Worker.Concurrency,
			cfg.Worker.PollInterval,
			registry,
			st,
			schedulerSvc,
			stepSvc,
			queueSvc,
			retrySvc,
		)

		sweeper := periodic.NewSweeper(st, retrySvc, cfg.Worker.SweepInterval)
		retention := periodic.NewRetention(queueSvc, cfg.Service.RetentionPeriod)
		scheduleProducer := periodic.NewProducer(queueSvc, []periodic.Schedule{
			{Kind: model.JobKindJobCrawl, Interval: cfg.Worker.CrawlInterval},
			{Kind: model.JobKindProfileMatch, Interval: cfg.Worker.MatchInterval},
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return pool.Run(ctx) })
		g.Go(func() error { return sweeper.Run(ctx) })
		g.Go(func() error { return retention.Run(ctx) })
		g.Go(func() error { return scheduleProducer.Run(ctx) })

		return g.Wait()
	},
}

func newEventWriter(cfg *config.Config) (events.Writer, error) {
	switch cfg.Events.Writer {
	case "nats":
		return events.NewNatsWriter(cfg.Events.NatsURL)
	default:
		return &events.StdoutWriter{}, nil
	}
}
