package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type (
	Config struct {
		HTTP            HTTP
		Log             Log
		PG              PG
		Kafka           Kafka
		OutboxRelay     OutboxRelay
		KafkaController KafkaController
		Health          Health
		Swagger         Swagger
	}

	HTTP struct {
		Port            string        `env:"HTTP_PORT,required"`
		UsePreforkMode  bool          `env:"HTTP_USE_PREFORK_MODE" envDefault:"false"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"3s"`
	}

	Log struct {
		Level string `env:"LOG_LEVEL,required"`
	}

	PG struct {
		PoolMax int    `env:"PG_POOL_MAX,required"`
		URL     string `env:"PG_URL,required"`
	}

	Kafka struct {
		Brokers                []string      `env:"KAFKA_BROKERS,required"`
		GroupID                string        `env:"KAFKA_GROUP_ID" envDefault:"payment-processor"`
		Topic                  string        `env:"KAFKA_TOPIC" envDefault:"payment-created"`
		DLQTopic               string        `env:"KAFKA_DLQ_TOPIC" envDefault:"payment-created-dlq"`
		WriteTimeout           time.Duration `env:"KAFKA_WRITE_TIMEOUT" envDefault:"10s"`
		WriteMaxAttempts       int           `env:"KAFKA_WRITE_MAX_ATTEMPTS" envDefault:"3"`
		AllowAutoTopicCreation bool          `env:"KAFKA_ALLOW_AUTO_TOPIC_CREATION" envDefault:"false"`
	}

	OutboxRelay struct {
		PollInterval        time.Duration `env:"OUTBOX_RELAY_POLL_INTERVAL" envDefault:"500ms"`
		MarkFailedInterval  time.Duration `env:"OUTBOX_RELAY_MARK_FAILED_INTERVAL" envDefault:"2m"`
		CleanupInterval     time.Duration `env:"OUTBOX_RELAY_CLEANUP_INTERVAL" envDefault:"1h"`
		Retention           time.Duration `env:"OUTBOX_RELAY_RETENTION" envDefault:"168h"`
		ProcessBatchTimeout time.Duration `env:"OUTBOX_RELAY_PROCESS_BATCH_TIMEOUT" envDefault:"15s"`
		ShutdownTimeout     time.Duration `env:"OUTBOX_RELAY_SHUTDOWN_TIMEOUT" envDefault:"20s"`
		BatchSize           int           `env:"OUTBOX_RELAY_BATCH_SIZE" envDefault:"50"`
		MaxRetries          int           `env:"OUTBOX_RELAY_MAX_RETRIES" envDefault:"5"`
		BackoffEnabled      bool          `env:"OUTBOX_RELAY_BACKOFF_ENABLED" envDefault:"true"`
		MaxBackoff          time.Duration `env:"OUTBOX_RELAY_MAX_BACKOFF" envDefault:"1h"`
	}

	KafkaController struct {
		MaxAttempts     int           `env:"KAFKA_CONTROLLER_MAX_ATTEMPTS" envDefault:"3"`
		BaseBackoff     time.Duration `env:"KAFKA_CONTROLLER_BASE_BACKOFF" envDefault:"1s"` // delay before retry n is base * 2^n
		ProcessTimeout  time.Duration `env:"KAFKA_CONTROLLER_PROCESS_TIMEOUT" envDefault:"10s"`
		CommitTimeout   time.Duration `env:"KAFKA_CONTROLLER_COMMIT_TIMEOUT" envDefault:"5s"`
		DLQTimeout      time.Duration `env:"KAFKA_CONTROLLER_DLQ_TIMEOUT" envDefault:"10s"`
		ShutdownTimeout time.Duration `env:"KAFKA_CONTROLLER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	}

	Health struct {
		DegradedPending  int64 `env:"HEALTH_OUTBOX_DEGRADED_PENDING" envDefault:"100"`
		UnhealthyPending int64 `env:"HEALTH_OUTBOX_UNHEALTHY_PENDING" envDefault:"500"`
	}

	Swagger struct {
		Enabled bool `env:"SWAGGER_ENABLED" envDefault:"false"`
	}
)

func New() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.OutboxRelay.BatchSize <= 0:
		return fmt.Errorf("OUTBOX_RELAY_BATCH_SIZE must be positive")
	case c.OutboxRelay.MaxRetries <= 0:
		return fmt.Errorf("OUTBOX_RELAY_MAX_RETRIES must be positive")
	case c.KafkaController.MaxAttempts <= 0:
		return fmt.Errorf("KAFKA_CONTROLLER_MAX_ATTEMPTS must be positive")
	case c.Health.DegradedPending > c.Health.UnhealthyPending:
		return fmt.Errorf("HEALTH_OUTBOX_DEGRADED_PENDING must not exceed HEALTH_OUTBOX_UNHEALTHY_PENDING")
	}

	return nil
}
