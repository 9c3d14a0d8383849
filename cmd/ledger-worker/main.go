package main

import (
	"context"
	"errors"
	"os"
	"time"

	"ledger/internal/amqp"
	"ledger/internal/app"
	"ledger/internal/cli"
	"ledger/internal/log"
	"ledger/internal/services"
)

func main() {
	cli.LoadEnvFile()

	logger := cli.SetupLogger(os.Getenv("LOG_LEVEL"), log.ComponentWorker)
	logger.Info("Starting ledger-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize ledger", log.FieldError, err)
		os.Exit(1)
	}

	processor := services.NewReconcileProcessor(a.Store, a.Reconciler, services.ReconcileProcessorConfig{
		Interval:       cfg.ReconcileInterval,
		LookbackMonths: cfg.ReconcileLookbackMonths,
	}, logger)

	// Consumer uses its own connection bound to notifications only
	var consumer *amqp.Client
	if cfg.AMQPURL != "" {
		consumer, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.RoutingKey(amqp.NotificationKind), logger)
		if err != nil {
			logger.Error("Failed to initialize AMQP consumer", log.FieldError, err)
			_ = a.Close()
			os.Exit(1)
		}
	} else {
		logger.Info("Skipping AMQP message consumption - no AMQP_URL provided")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Warn("Reconcile processor did not stop cleanly", log.FieldError, err)
		}
		if consumer != nil {
			if err := consumer.Close(); err != nil {
				logger.Warn("Failed to close AMQP consumer", log.FieldError, err)
			}
		}
		if err := a.Close(); err != nil {
			logger.Warn("Failed to release resources", log.FieldError, err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start reconcile processor", log.FieldError, err)
		os.Exit(1)
	}

	if consumer != nil {
		relay := amqp.NewRelay(a.Audit, logger)
		go func() {
			if err := consumer.Consume(ctx, relay.Handle); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", log.FieldError, err)
			}
		}()
	}

	cli.WaitForShutdown(ctx, done)
}
