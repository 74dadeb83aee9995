package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/api"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/app"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/web"
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

	logger := util.NewLogger(cfg.Server.Env, "server")
	slog.SetDefault(logger)

	logger.Info("starting salesdesk server",
		"env", cfg.Server.Env,
		"addr", cfg.Server.Addr(),
	)

	db, err := database.Connect(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	// Schema changes go through golang-migrate (cmd/migrate), never AutoMigrate.

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Warn("failed to connect to Redis, running without queue and shared rate limits", "error", err)
		redisClient = nil
	}

	var asynqClient *asynq.Client
	if redisClient != nil {
		asynqClient = queue.NewClient(&cfg.Redis)
	}

	services, err := app.Build(context.Background(), cfg, db, redisClient, asynqClient, logger)
	if err != nil {
		logger.Error("failed to build services", "error", err)
		os.Exit(1)
	}

	pages, err := web.LoadTemplates()
	if err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}

	rateLimitStore, err := middleware.NewRateLimitStore(redisClient)
	if err != nil {
		logger.Error("failed to create rate limit store", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(api.RouterConfig{
		DB:         db,
		Redis:      redisClient,
		Logger:     logger,
		Debug:      cfg.Server.IsDevelopment(),
		JWTService: services.JWT,
		Pages:      pages,

		AuthService:        services.Auth,
		UserService:        services.Users,
		ProjectService:     services.Projects,
		VoucherService:     services.Vouchers,
		FulfillmentService: services.Fulfillment,
		TrainingService:    services.Training,
		SalesService:       services.Sales,
		CustomerService:    services.Customers,
		SettingsService:    services.Settings,
		AuditLog:           services.Audit,

		MaxUploadBytes: cfg.Vouchers.MaxUploadBytes,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RateLimitStore: rateLimitStore,
		RateLimitReqs:  cfg.RateLimit.Requests,
		RateLimitSecs:  cfg.RateLimit.WindowSeconds,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	if asynqClient != nil {
		asynqClient.Close()
	}
	if redisClient != nil {
		redisClient.Close()
	}

	sqlDB, _ := db.DB()
	sqlDB.Close()

	logger.Info("server stopped")
}
