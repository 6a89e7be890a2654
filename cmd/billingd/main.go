package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/redis/go-redis/v9"
	billingd "github.com/set-night/billingd"
	"github.com/set-night/billingd/internal/config"
	"github.com/set-night/billingd/internal/events"
	"github.com/set-night/billingd/internal/handler"
	"github.com/set-night/billingd/internal/queue"
	"github.com/set-night/billingd/internal/repository"
	"github.com/set-night/billingd/internal/service"
	"github.com/set-night/billingd/internal/telegram"
	"github.com/set-night/billingd/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("billingd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("billingd stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	// Run migrations
	migrationsFS, err := fs.Sub(billingd.MigrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS); err != nil {
		return err
	}

	queries := repository.New(pool)

	// Connect to Redis
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	billingQueue := queue.New(rdb, cfg.QueueName)

	// Event publisher
	var publisher worker.EventPublisher = events.Nop{}
	if cfg.RabbitURL != "" {
		p, err := events.NewPublisher(cfg.RabbitURL, cfg.EventsExchange)
		if err != nil {
			return err
		}
		defer p.Close()
		publisher = p
	} else {
		logger.Info("RABBIT_URL not set, batch events disabled")
	}

	// Telegram alerts
	var sender telegram.MessageSender
	if cfg.AlertsEnabled() {
		b, err := bot.New(cfg.AlertBotToken)
		if err != nil {
			return fmt.Errorf("create alert bot: %w", err)
		}
		sender = b
	}
	alerts := telegram.NewTelegramLogger(sender, cfg, logger)

	// Initialize services
	invoicing := service.NewInvoicingService(pool, queries, service.MockAuthorizationIssuer{}, logger)
	pendings := service.NewPendingService(queries, logger)
	batches := service.NewBatchService(billingQueue, cfg, logger)
	exports := service.NewExportService(queries)

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsWorker() {
		processor := worker.NewBatchProcessor(invoicing, publisher, alerts, cfg.FailFastConflicts, logger)
		w := queue.NewWorker(billingQueue, processor.Handle, queue.WorkerOptions{
			Concurrency:     cfg.WorkerConcurrency,
			LockDuration:    config.QueueLockDuration,
			StalledInterval: config.QueueStalledInterval,
			PromoteInterval: config.QueuePromoteInterval,
			BlockTimeout:    config.QueueBlockTimeout,
			MaxStalledCount: config.QueueMaxStalledCount,
			OnCompleted:     processor.OnCompleted,
			OnFailed:        processor.OnFailed,
			OnError:         processor.OnError,
		}, logger)

		g.Go(func() error {
			return w.Run(gctx)
		})
	}

	if cfg.RunsAPI() {
		gin.SetMode(gin.ReleaseMode)

		h := handler.New(handler.Deps{
			Pendings: pendings,
			Batches:  batches,
			Exports:  exports,
			Checks: map[string]handler.HealthCheck{
				"postgres": pool.Ping,
				"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			},
			Queue:  billingQueue,
			Logger: logger,
		})

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler.NewRouter(h, logger),
			ReadTimeout:  config.HTTPReadTimeout,
			WriteTimeout: config.HTTPWriteTimeout,
		}

		g.Go(func() error {
			logger.Info("http server listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("billingd started", "mode", cfg.Mode, "queue", cfg.QueueName)
	return g.Wait()
}
