package config

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Queue job name for batch processing
	ProcessBatchJob = "process-batch"

	// Pending generation response sample size
	PendingSampleSize = 5

	// Mock authorization codes
	AuthorizationCodeDigits = 14

	// Queue timings
	QueueLockDuration    = 30 * time.Second
	QueueStalledInterval = 30 * time.Second
	QueuePromoteInterval = time.Second
	QueueBlockTimeout    = 5 * time.Second
	// Times a job may be abandoned by a dead worker before it is failed
	QueueMaxStalledCount = 1

	// HTTP server
	HTTPReadTimeout  = 10 * time.Second
	HTTPWriteTimeout = 30 * time.Second
	ShutdownTimeout  = 15 * time.Second

	// Alert delivery timeout
	AlertTimeout = 10 * time.Second

	// Telegram limits
	MaxTelegramMessageLen = 4096
)

// VATRate is the fixed VAT percentage applied to ERP export lines.
var VATRate = decimal.NewFromInt(21)
