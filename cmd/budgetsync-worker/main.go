package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"budgetsync/internal/amqp"
	"budgetsync/internal/backend"
	"budgetsync/internal/cache"
	"budgetsync/internal/cli"
	applog "budgetsync/internal/log"
	"budgetsync/internal/services"
	"budgetsync/internal/worker"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = 5 * time.Minute
)

var (
	cfgFile      string
	pullInterval time.Duration
)

func main() {
	cmd := &cobra.Command{
		Use:          "budgetsync-worker",
		Short:        "Background reconciler for the budgetsync sync queue",
		SilenceUsage: true,
		RunE:         run,
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "config file (default: ./budgetsync.yaml)")
	cmd.Flags().DurationVar(&pullInterval, "pull-interval", 0, "also pull remote changes this often (0 disables)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig(cfgFile)
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg.LogLevel, applog.ComponentWorker, cmd.ErrOrStderr())
	logger.Info("Starting budgetsync-worker")

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	factory := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger)

	repo, err := cli.InitSQLite(logger, cfg.DBPath)
	if err != nil {
		return err
	}
	defer repo.Close()

	startCtx := context.Background()
	remoteStore, err := factory.CreateRemote(startCtx, bcfg)
	if err != nil {
		return err
	}

	events := services.NewEventBus()
	defer events.Close()
	events.Subscribe(func(e services.SyncEvent) {
		if e.Stage == services.StageRemoteFailed && !e.WillRetry {
			logger.Error("Giving up on queue item",
				applog.FieldKind, e.Kind,
				applog.FieldEntityID, e.EntityID,
				applog.FieldAttempt, e.Attempt,
				applog.FieldError, e.Err)
		}
	})

	pcfg := services.DefaultSyncProcessorConfig()
	pcfg.BatchSize = cfg.SyncBatchSize
	pcfg.PollInterval = cfg.SyncInterval
	pcfg.MaxRetries = cfg.SyncMaxRetries
	processor := services.NewSyncProcessor(repo, remoteStore, events, pcfg)
	syncWorker := worker.NewSyncWorker(repo, processor)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// The poll loop still drains the queue without the broker.
			logger.Error("Failed to initialize AMQP client, polling only", applog.FieldError, err)
			amqpClient = nil
		}
	} else {
		logger.Info("AMQP disabled - no AMQP URL provided, polling only")
	}

	ctx, done := cli.GracefulShutdown(logger, shutdownTimeout, func(shutdownCtx context.Context) {
		logger.Info("Shutting down worker...")
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Warn("Processor did not stop cleanly", applog.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Warn("Failed to close AMQP client", applog.FieldError, err)
			}
		}
	})

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(ctx); err != nil {
		logger.Error("Failed startup sync check", applog.FieldError, err)
	}

	if err := processor.Start(ctx); err != nil {
		return err
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeSync(ctx, syncWorker.HandleSyncMessage)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption stopped, polling only", applog.FieldError, err)
			}
		}()
	}

	if pullInterval > 0 {
		ident, err := factory.CreateIdentity(bcfg)
		if err != nil {
			return err
		}
		service := services.NewSyncService(repo, remoteStore, ident, processor, nil, events)
		go cache.NewJanitor(service.CategoryCache()).Run(ctx, janitorInterval)
		go pullLoop(ctx, logger, service, pullInterval)
	}

	cli.WaitForShutdown(ctx, done)
	return nil
}

func pullLoop(ctx context.Context, logger *applog.Logger, service *services.SyncService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := service.Load(ctx); err != nil {
				logger.Error("Periodic pull failed", applog.FieldError, err)
			}
		}
	}
}
