package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	apiserver "github.com/docsmith/genqueue/internal/api_server"
	"github.com/docsmith/genqueue/internal/config"
	"github.com/docsmith/genqueue/internal/events"
	"github.com/docsmith/genqueue/internal/service"
	"github.com/docsmith/genqueue/internal/store"
	"github.com/docsmith/genqueue/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the queue api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			return err
		}

		logger := log.InitLog(log.AtomicLevel(cfg.Service.LogLevel))
		defer func() { _ = logger.Sync() }()
		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

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

		queueSvc := service.NewQueueService(st, producer)
		stepSvc := service.NewStepService(st, producer)
		dashSvc := service.NewDashboardService(st)

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, st, listener, queueSvc, stepSvc, dashSvc)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running api server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating metrics listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("running metrics server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
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

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
