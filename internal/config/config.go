package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	ModeAll    = "all"
	ModeAPI    = "api"
	ModeWorker = "worker"
)

type Config struct {
	// Core
	DatabaseURL string `env:"DATABASE_URL,required,notEmpty"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"5"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Process
	Mode     string `env:"MODE" envDefault:"all"`
	Port     int    `env:"PORT" envDefault:"3000"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Billing queue
	QueueName         string        `env:"BILLING_QUEUE_NAME" envDefault:"billing-queue"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY" envDefault:"1"`
	JobAttempts       int           `env:"JOB_ATTEMPTS" envDefault:"3"`
	JobBackoff        time.Duration `env:"JOB_BACKOFF" envDefault:"5s"`
	FailFastConflicts bool          `env:"FAIL_FAST_CONFLICTS" envDefault:"false"`

	// Events
	RabbitURL      string `env:"RABBIT_URL"`
	EventsExchange string `env:"BILLING_EVENTS_EXCHANGE" envDefault:"billing.events"`

	// Telegram alerts
	AlertBotToken   string `env:"ALERT_BOT_TOKEN"`
	AlertChatID     int64  `env:"ALERT_CHAT_ID"`
	AlertTopicError int    `env:"ALERT_TOPIC_ERROR"`
	AlertTopicBatch int    `env:"ALERT_TOPIC_BATCH"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeAPI, ModeWorker:
	default:
		return fmt.Errorf("invalid MODE %q: want %s, %s or %s", c.Mode, ModeAll, ModeAPI, ModeWorker)
	}
	if c.DBMaxConns < 1 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("invalid pool size: min %d, max %d", c.DBMinConns, c.DBMaxConns)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be at least 1, got %d", c.WorkerConcurrency)
	}
	if c.JobAttempts < 1 {
		return fmt.Errorf("JOB_ATTEMPTS must be at least 1, got %d", c.JobAttempts)
	}
	if c.JobBackoff < 0 {
		return fmt.Errorf("JOB_BACKOFF must not be negative, got %s", c.JobBackoff)
	}
	return nil
}

func (c *Config) RunsAPI() bool {
	return c.Mode == ModeAll || c.Mode == ModeAPI
}

func (c *Config) RunsWorker() bool {
	return c.Mode == ModeAll || c.Mode == ModeWorker
}

func (c *Config) AlertsEnabled() bool {
	return c.AlertBotToken != "" && c.AlertChatID != 0
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
