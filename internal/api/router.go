package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hugh/salesdesk/internal/api/handlers"
	"github.com/hugh/salesdesk/internal/api/middleware"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/customers"
	"github.com/hugh/salesdesk/internal/fulfillment"
	"github.com/hugh/salesdesk/internal/projects"
	"github.com/hugh/salesdesk/internal/sales"
	"github.com/hugh/salesdesk/internal/settings"
	"github.com/hugh/salesdesk/internal/training"
	"github.com/hugh/salesdesk/internal/users"
	"github.com/hugh/salesdesk/internal/vouchers"
	"github.com/hugh/salesdesk/internal/web"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"gorm.io/gorm"
)

type Router struct {
	chi.Router
}

type RouterConfig struct {
	DB         *gorm.DB
	Redis      *redis.Client
	Logger     *slog.Logger
	Debug      bool
	JWTService *auth.JWTService
	Pages      web.Pages

	AuthService        *auth.Service
	UserService        *users.Service
	ProjectService     *projects.Service
	VoucherService     *vouchers.Service
	FulfillmentService *fulfillment.Service
	TrainingService    *training.Service
	SalesService       *sales.Service
	CustomerService    *customers.Service
	SettingsService    *settings.Service
	AuditLog           *audit.Log

	MaxUploadBytes int64
	AllowedOrigins []string
	RateLimitStore limiter.Store // nil disables rate limiting
	RateLimitReqs  int
	RateLimitSecs  int
}

func NewRouter(cfg RouterConfig) *Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logging(cfg.Logger))

	if cfg.RateLimitStore != nil {
		r.Use(middleware.RateLimit(cfg.RateLimitStore, cfg.RateLimitReqs, cfg.RateLimitSecs))
	}

	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000", "http://localhost:8080"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Auth-Token", "Stripe-Signature"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Every request is resolved to a session once; the gate then decides
	// by path, so handlers below never re-check roles.
	r.Use(middleware.Authenticate(cfg.JWTService))
	r.Use(middleware.Gate(middleware.DefaultPolicy))

	base := handlers.Base{Logger: cfg.Logger, Debug: cfg.Debug}

	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Redis)
	pageHandler := handlers.NewPageHandler(base, cfg.Pages)
	authHandler := handlers.NewAuthHandler(base, cfg.AuthService, cfg.UserService, cfg.JWTService.Expiry())
	userHandler := handlers.NewUserHandler(base, cfg.UserService)
	projectHandler := handlers.NewProjectHandler(base, cfg.ProjectService)
	voucherHandler := handlers.NewVoucherHandler(base, cfg.VoucherService, cfg.MaxUploadBytes)
	formHandler := handlers.NewFormHandler(base, cfg.FulfillmentService)
	trainingHandler := handlers.NewTrainingHandler(base, cfg.TrainingService)
	salesHandler := handlers.NewSalesHandler(base, cfg.SalesService)
	customerHandler := handlers.NewCustomerHandler(base, cfg.CustomerService)
	adminHandler := handlers.NewAdminHandler(base, cfg.AuditLog, cfg.SettingsService)

	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", authHandler.Login)
			r.Post("/logout", authHandler.Logout)
			r.Post("/signup/staff", authHandler.SignupStaff)
			r.Post("/signup/affiliate", authHandler.SignupAffiliate)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Post("/reset-password", authHandler.ResetPassword)
			r.Post("/verify-email", authHandler.VerifyEmail)
		})

		r.Get("/forms/{projectSlug}/{salespersonSlug}", projectHandler.ResolveForm)
		r.Post("/forms/submit", formHandler.Submit)
		r.Post("/stripe/webhook", formHandler.Webhook)

		r.Get("/me", authHandler.Me)
		r.Post("/qr", projectHandler.QRCode)
		r.Get("/qr", projectHandler.QRCodeImage)

		r.Route("/sales", func(r chi.Router) {
			r.Get("/dashboard", salesHandler.Dashboard)
			r.Get("/my-projects", projectHandler.MyProjects)
		})

		r.Route("/training", func(r chi.Router) {
			r.Get("/my-courses", trainingHandler.MyCourses)
			r.Get("/progress/{courseId}", trainingHandler.Progress)
			r.Post("/progress", trainingHandler.SetProgress)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Route("/users", func(r chi.Router) {
				r.Get("/", userHandler.List)
				r.Get("/{id}", userHandler.Get)
				r.Post("/{id}/suspend", userHandler.Suspend)
				r.Post("/{id}/activate", userHandler.Activate)
				r.Put("/{id}/role", userHandler.UpdateRole)
				r.Put("/{id}/department", userHandler.UpdateDepartment)
			})

			r.Route("/signups", func(r chi.Router) {
				r.Get("/", userHandler.PendingSignups)
				r.Post("/{id}/approve", userHandler.Approve)
				r.Post("/{id}/reject", userHandler.Reject)
			})

			r.Route("/employee-ids", func(r chi.Router) {
				r.Get("/", userHandler.ListEmployeeIDs)
				r.Post("/", userHandler.CreateEmployeeID)
				r.Delete("/{id}", userHandler.RevokeEmployeeID)
			})

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", projectHandler.List)
				r.Post("/", projectHandler.Create)
				r.Get("/{id}", projectHandler.Get)
				r.Put("/{id}", projectHandler.Update)

				r.Get("/{id}/assignments", projectHandler.ListAssignments)
				r.Post("/{id}/assignments", projectHandler.Assign)
				r.Delete("/{id}/assignments/{assignmentId}", projectHandler.Unassign)

				r.Get("/{id}/vouchers", voucherHandler.List)
				r.Post("/{id}/vouchers/upload", voucherHandler.Upload)
				r.Post("/{id}/vouchers/add", voucherHandler.Add)
				r.Post("/{id}/vouchers/{voucherId}/revoke", voucherHandler.Revoke)
				r.Get("/{id}/vouchers/export", voucherHandler.Export)
			})

			r.Route("/courses", func(r chi.Router) {
				r.Get("/", trainingHandler.ListCourses)
				r.Post("/", trainingHandler.CreateCourse)
				r.Get("/{id}", trainingHandler.GetCourse)
				r.Put("/{id}", trainingHandler.UpdateCourse)
				r.Delete("/{id}", trainingHandler.DeleteCourse)
				r.Post("/{id}/modules", trainingHandler.AddModule)
				r.Post("/{id}/lessons", trainingHandler.AddLesson)
				r.Get("/{id}/assignments", trainingHandler.ListAssignments)
				r.Post("/{id}/assign", trainingHandler.Assign)
				r.Delete("/{id}/assign/{userId}", trainingHandler.Unassign)
			})

			r.Route("/customers", func(r chi.Router) {
				r.Get("/", customerHandler.List)
				r.Post("/", customerHandler.Create)
				r.Get("/export", customerHandler.Export)
			})

			r.Get("/audit-logs", adminHandler.AuditLogs)
			r.Get("/settings", adminHandler.Settings)
			r.Put("/settings", adminHandler.UpdateSetting)
		})
	})

	r.Get("/", pageHandler.Home)
	r.Get("/login", pageHandler.Login)
	r.Get("/reset-password", pageHandler.ResetPassword)
	r.Get("/verify-email", pageHandler.VerifyEmail)
	r.Get("/unauthorized", pageHandler.Unauthorized)
	for _, area := range []string{"admin", "staff", "affiliate", "sales"} {
		r.Get("/"+area, pageHandler.Portal(area))
	}

	return &Router{r}
}
