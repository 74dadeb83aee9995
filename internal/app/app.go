// Package app wires the services shared by the server and the worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/customers"
	"github.com/hugh/salesdesk/internal/fulfillment"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/internal/payments"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/hugh/salesdesk/internal/sales"
	"github.com/hugh/salesdesk/internal/settings"
	"github.com/hugh/salesdesk/internal/storage"
	"github.com/hugh/salesdesk/internal/tasks"
	"github.com/hugh/salesdesk/internal/training"
	"github.com/hugh/salesdesk/internal/users"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/crypto"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Services struct {
	Mailer      notify.Mailer
	Audit       *audit.Log
	JWT         *auth.JWTService
	Auth        *auth.Service
	Users       *users.Service
	Projects    *projects.Service
	Vouchers    *vouchers.Service
	Fulfillment *fulfillment.Service
	Training    *training.Service
	Sales       *sales.Service
	Customers   *customers.Service
	Settings    *settings.Service
}

// Build creates every service. Without Redis, mail is sent inline and
// webhook events are not de-duplicated.
func Build(ctx context.Context, cfg *config.Config, db *gorm.DB, redisClient *redis.Client, asynqClient *asynq.Client, logger *slog.Logger) (*Services, error) {
	encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}
	if cfg.Encryption.Key == "" {
		logger.Warn("ENCRYPTION_KEY not set, using generated key - stored secrets will be unreadable after restart")
	}

	store, err := storage.New(ctx, &cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("creating object storage: %w", err)
	}

	mailer := notify.NewMailer(&cfg.SMTP, logger)
	auditLog := audit.NewLog(db, logger)
	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Expiry())
	settingsService := settings.NewService(db, encryptor, &cfg.Stripe, auditLog)

	var dispatcher notify.Dispatcher = notify.Inline{Mailer: mailer}
	var enqueuer *tasks.Enqueuer
	if asynqClient != nil {
		enqueuer = tasks.NewEnqueuer(asynqClient, logger)
		dispatcher = enqueuer
	}

	inventory := vouchers.NewService(db, store, auditLog, logger, cfg.Vouchers.MaxUploadBytes)
	gateway := payments.NewStripeGateway(settingsService, cfg.Stripe.WebhookSecret)

	fulfillmentService := fulfillment.NewService(db, inventory, gateway, mailer, auditLog, logger, cfg.Server.BaseURL)
	if enqueuer != nil {
		fulfillmentService.WithQueue(enqueuer)
	}
	if redisClient != nil {
		fulfillmentService.WithEventLog(fulfillment.NewRedisEventLog(redisClient))
	}

	userOpts := users.Options{
		StaffEmailDomain: cfg.Staff.EmailDomain,
		BaseURL:          cfg.Server.BaseURL,
	}
	if err := userOpts.Validate(); err != nil {
		return nil, err
	}
	userService := users.NewService(db, dispatcher, auditLog, logger, userOpts)

	return &Services{
		Mailer:      mailer,
		Audit:       auditLog,
		JWT:         jwtService,
		Auth:        auth.NewService(db, jwtService),
		Users:       userService,
		Projects:    projects.NewService(db, store, auditLog, logger, cfg.Server.BaseURL),
		Vouchers:    inventory,
		Fulfillment: fulfillmentService,
		Training:    training.NewService(db, auditLog, logger),
		Sales:       sales.NewService(db),
		Customers:   customers.NewService(db, auditLog, logger),
		Settings:    settingsService,
	}, nil
}
