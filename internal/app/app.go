package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andreyxaxa/payments-outbox/config"
	kafkactrl "github.com/andreyxaxa/payments-outbox/internal/controller/kafka"
	"github.com/andreyxaxa/payments-outbox/internal/controller/restapi"
	"github.com/andreyxaxa/payments-outbox/internal/controller/worker/outbox"
	infrakafka "github.com/andreyxaxa/payments-outbox/internal/infrastructure/kafka"
	"github.com/andreyxaxa/payments-outbox/internal/repo/persistent"
	outboxuc "github.com/andreyxaxa/payments-outbox/internal/usecase/outbox"
	"github.com/andreyxaxa/payments-outbox/internal/usecase/payment"
	"github.com/andreyxaxa/payments-outbox/pkg/httpserver"
	"github.com/andreyxaxa/payments-outbox/pkg/kafka/consumer"
	"github.com/andreyxaxa/payments-outbox/pkg/kafka/producer"
	"github.com/andreyxaxa/payments-outbox/pkg/logger"
	"github.com/andreyxaxa/payments-outbox/pkg/postgres"
	"go.opentelemetry.io/otel"
)

func Run(cfg *config.Config) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Logger
	l := logger.New(cfg.Log.Level)
	defer func() { _ = l.Sync() }()

	// Repository
	pg, err := postgres.New(cfg.PG.URL, postgres.MaxPoolSize(cfg.PG.PoolMax))
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - postgres.New: %w", err))
	}
	defer pg.Close()

	paymentRepo := persistent.NewPaymentRepo(pg)
	outboxRepo := persistent.NewOutboxRepo(pg)

	// Kafka Producer, shared by the outbox relay and the DLQ
	kafkaProducer, err := producer.New(ctx, cfg.Kafka.Brokers,
		producer.WriteTimeout(cfg.Kafka.WriteTimeout),
		producer.MaxAttempts(cfg.Kafka.WriteMaxAttempts),
		producer.AllowAutoTopicCreation(cfg.Kafka.AllowAutoTopicCreation),
	)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - producer.New: %w", err))
	}
	eventProducer := infrakafka.NewEventProducer(kafkaProducer)
	defer func() {
		if err := eventProducer.Close(); err != nil {
			l.Error(err, "app - Run - eventProducer.Close")
		}
	}()

	// Use-Case
	paymentUseCase := payment.New(paymentRepo, outboxRepo, pg, cfg.Kafka.Topic, l)

	outboxUseCase, err := outboxuc.New(
		outboxRepo,
		pg,
		eventProducer,
		outboxuc.Config{
			BatchSize:      cfg.OutboxRelay.BatchSize,
			MaxRetries:     cfg.OutboxRelay.MaxRetries,
			BackoffEnabled: cfg.OutboxRelay.BackoffEnabled,
			MaxBackoff:     cfg.OutboxRelay.MaxBackoff,
			Retention:      cfg.OutboxRelay.Retention,
		},
		otel.GetMeterProvider(),
		l.With("component", "outbox"),
	)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - outboxuc.New: %w", err))
	}

	// Outbox Relay Worker
	outboxRelayWorker := outbox.New(
		outboxUseCase,
		l.With("component", "outbox_relay"),
		cfg.OutboxRelay.PollInterval,
		cfg.OutboxRelay.CleanupInterval,
		cfg.OutboxRelay.MarkFailedInterval,
		cfg.OutboxRelay.ProcessBatchTimeout,
	)

	// Kafka Consumer
	kafkaConsumer, err := consumer.New(ctx, cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.Topic)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - consumer.New: %w", err))
	}

	// Kafka as Controller
	kafkaController := kafkactrl.New(
		paymentUseCase,
		infrakafka.NewEventReader(kafkaConsumer),
		eventProducer,
		l.With("component", "payment_consumer"),
		cfg.Kafka.DLQTopic,
		cfg.KafkaController.MaxAttempts,
		cfg.KafkaController.BaseBackoff,
		cfg.KafkaController.ProcessTimeout,
		cfg.KafkaController.CommitTimeout,
		cfg.KafkaController.DLQTimeout,
	)

	// HTTP Server
	httpServer := httpserver.New(l,
		httpserver.Port(cfg.HTTP.Port),
		httpserver.Prefork(cfg.HTTP.UsePreforkMode),
		httpserver.ReadTimeout(cfg.HTTP.ReadTimeout),
		httpserver.WriteTimeout(cfg.HTTP.WriteTimeout),
		httpserver.ShutdownTimeout(cfg.HTTP.ShutdownTimeout),
	)
	restapi.NewRouter(httpServer.App, cfg, paymentUseCase, outboxUseCase, l)

	// Start Components
	err = outboxRelayWorker.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - outboxRelayWorker.Start: %w", err))
	}
	err = kafkaController.Start(ctx)
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - kafkaController.Start: %w", err))
	}
	err = httpServer.Start()
	if err != nil {
		l.Fatal(fmt.Errorf("app - Run - httpServer.Start: %w", err))
	}

	// Waiting Signal
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case s := <-interrupt:
		l.Info("app - Run - signal: %s", s.String())
	case err = <-httpServer.Notify():
		l.Error(fmt.Errorf("app - Run - httpServer.Notify: %w", err))
	}

	// Shutdown: stop taking requests, then drain the workers before the producer closes
	err = httpServer.Shutdown()
	if err != nil {
		l.Error(fmt.Errorf("app - Run - httpServer.Shutdown: %w", err))
	}

	orlShutdownCtx, orlShutdownCancel := context.WithTimeout(context.Background(), cfg.OutboxRelay.ShutdownTimeout)
	defer orlShutdownCancel()
	err = outboxRelayWorker.Shutdown(orlShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - outboxRelayWorker.Shutdown: %w", err))
	}

	kcShutdownCtx, kcShutdownCancel := context.WithTimeout(context.Background(), cfg.KafkaController.ShutdownTimeout)
	defer kcShutdownCancel()
	err = kafkaController.Shutdown(kcShutdownCtx)
	if err != nil {
		l.Error(fmt.Errorf("app - Run - kafkaController.Shutdown: %w", err))
	}
}
