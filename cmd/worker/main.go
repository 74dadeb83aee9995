package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/app"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/tasks"
	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/queue"
	"github.com/hugh/salesdesk/pkg/util"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Server.Env, "worker")
	slog.SetDefault(logger)

	logger.Info("starting salesdesk worker")

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer redisClient.Close()

	// Account mail that fails inside the worker is retried by asynq, so the
	// worker enqueues too.
	asynqClient := queue.NewClient(&cfg.Redis)
	defer asynqClient.Close()

	services, err := app.Build(context.Background(), cfg, db, redisClient, asynqClient, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	handler := tasks.NewHandler(services.Fulfillment, services.Mailer, services.Vouchers, logger)
	mux := asynq.NewServeMux()
	handler.RegisterHandlers(mux)

	srv := queue.NewServer(&cfg.Redis, 10, logger)

	scheduler := queue.NewScheduler(&cfg.Redis)
	if err := util.ValidateCronExpr(cfg.Vouchers.ExpiryCron); err != nil {
		logger.Error("invalid voucher expiry schedule", "cron", cfg.Vouchers.ExpiryCron, "error", err)
		os.Exit(1)
	}
	entryID, err := scheduler.Register(cfg.Vouchers.ExpiryCron, tasks.NewExpireSweepTask(), asynq.Queue(queue.QueueLow))
	if err != nil {
		logger.Error("failed to schedule voucher expiry sweep", "error", err)
		os.Exit(1)
	}
	next, _ := util.NextCronTime(cfg.Vouchers.ExpiryCron, time.Now())
	logger.Info("voucher expiry sweep scheduled", "cron", cfg.Vouchers.ExpiryCron, "entry_id", entryID, "next_run", next)

	if err := scheduler.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if err := srv.Start(mux); err != nil {
		logger.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	logger.Info("worker started, waiting for tasks...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	scheduler.Shutdown()
	srv.Shutdown()

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("worker stopped")
}
