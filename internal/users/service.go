// Package users covers account signup, admin review and the employee IDs
// that gate staff registration.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound   = apperr.NotFound("User not found")
	ErrSignupNotFound = apperr.NotFound("Signup request not found")
	ErrEmailTaken     = apperr.Conflict("Email already registered")
	ErrAlreadyDecided = apperr.Conflict("Signup request has already been reviewed")
	ErrSuspendAdmin   = apperr.Validation("Admin accounts cannot be suspended", nil)
	ErrNotActive      = apperr.Conflict("Only active users can be suspended")
	ErrNotSuspended   = apperr.Conflict("Only suspended users can be activated")
	ErrSelfDemotion   = apperr.Validation("You cannot change your own admin role", map[string]string{"role": "self demotion"})
	ErrNotStaff       = apperr.Validation("Only staff members have a department", map[string]string{"department": "user is not staff"})
)

// Options holds the deployment specific bits of the signup flow.
type Options struct {
	// StaffEmailDomain restricts staff signup to one domain when set.
	StaffEmailDomain string
	BaseURL          string
}

// Validate rejects a staff email domain that could never match an address.
func (o Options) Validate() error {
	domain := strings.ToLower(strings.TrimPrefix(o.StaffEmailDomain, "@"))
	if domain != "" && !validation.IsValidDomain(domain) {
		return fmt.Errorf("invalid staff email domain %q", o.StaffEmailDomain)
	}
	return nil
}

// Service manages user accounts.
type Service struct {
	db     *gorm.DB
	mail   notify.Dispatcher
	audit  *audit.Log
	logger *slog.Logger
	opts   Options
}

// NewService creates a users service. mail may be nil, in which case no
// account emails are sent.
func NewService(db *gorm.DB, mail notify.Dispatcher, auditLog *audit.Log, logger *slog.Logger, opts Options) *Service {
	opts.StaffEmailDomain = strings.ToLower(strings.TrimPrefix(opts.StaffEmailDomain, "@"))
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &Service{db: db, mail: mail, audit: auditLog, logger: logger, opts: opts}
}

// send dispatches an email, logging instead of failing the caller.
func (s *Service) send(ctx context.Context, msg notify.Message) {
	if s.mail == nil {
		return
	}
	if err := s.mail.Dispatch(ctx, msg); err != nil {
		s.logger.Warn("failed to dispatch email", "subject", msg.Subject, "error", err)
	}
}

func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &user, nil
}

type Filter struct {
	Role    string
	Status  string
	Search  string
	Page    int
	PerPage int
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.User, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 20
	}

	q := s.db.WithContext(ctx).Model(&models.User{})
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		like := database.ContainsPattern(search)
		q = q.Where("LOWER(name) LIKE ? "+database.LikeEscape+" OR LOWER(email) LIKE ? "+database.LikeEscape, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting users: %w", err)
	}

	var users []models.User
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PerPage).
		Limit(f.PerPage).
		Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("listing users: %w", err)
	}
	return users, total, nil
}

func (s *Service) adminEmails(ctx context.Context) ([]string, error) {
	var emails []string
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("role = ? AND status = ?", models.RoleAdmin, models.UserStatusActive).
		Pluck("email", &emails).Error
	return emails, err
}

func (s *Service) emailTaken(ctx context.Context, tx *gorm.DB, email string) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).Model(&models.User{}).
		Where("LOWER(email) = ?", email).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking email: %w", err)
	}
	return count > 0, nil
}

func allowedRoles() string {
	names := make([]string, len(models.Roles))
	for i, r := range models.Roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}

func allowedDepartments() string {
	names := make([]string, len(models.Departments))
	for i, d := range models.Departments {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}
