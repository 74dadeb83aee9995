package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

var (
	ErrMissingFields      = apperr.Validation("Missing required fields", nil)
	ErrInvalidEmail       = apperr.Validation("Invalid email address", map[string]string{"email": "invalid"})
	ErrUnknownEmployeeID  = apperr.Validation("Invalid employee ID. Please contact your administrator.", map[string]string{"employee_id": "unknown"})
	ErrEmployeeIDUsed     = apperr.Validation("This employee ID has already been used", map[string]string{"employee_id": "used"})
	ErrEmployeeIDRevoked  = apperr.Validation("This employee ID has been revoked. Please contact your administrator.", map[string]string{"employee_id": "revoked"})
	ErrEmployeeIDMismatch = apperr.Validation("This employee ID is not assigned to your email address", map[string]string{"employee_id": "email mismatch"})
)

type StaffSignup struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	Name       string `json:"name"`
	Department string `json:"department"`
	EmployeeID string `json:"employee_id"`
	Phone      string `json:"phone"`
}

type AffiliateSignup struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
}

func validateAccount(email, password, name, phone string) error {
	if email == "" || password == "" || strings.TrimSpace(name) == "" {
		return ErrMissingFields
	}
	if !validation.IsValidEmail(email) {
		return ErrInvalidEmail
	}
	if ok, msg := validation.IsValidPassword(password); !ok {
		return apperr.Validation(msg, map[string]string{"password": msg})
	}
	if !validation.IsValidPhone(phone) {
		return apperr.Validation("Invalid phone number", map[string]string{"phone": "invalid"})
	}
	return nil
}

// SignupStaff registers a pending staff account against an issued employee
// ID. The ID is consumed in the same transaction as the user is created.
func (s *Service) SignupStaff(ctx context.Context, in StaffSignup) (*models.User, error) {
	email := auth.NormalizeEmail(in.Email)
	employeeID := validation.NormalizeEmployeeID(in.EmployeeID)
	if in.Department == "" || employeeID == "" {
		return nil, ErrMissingFields
	}
	if err := validateAccount(email, in.Password, in.Name, in.Phone); err != nil {
		return nil, err
	}
	if s.opts.StaffEmailDomain != "" && validation.EmailDomain(email) != s.opts.StaffEmailDomain {
		return nil, apperr.Validation(
			fmt.Sprintf("Only @%s email addresses are allowed for staff registration", s.opts.StaffEmailDomain),
			map[string]string{"email": "wrong domain"})
	}
	if !models.ValidDepartment(in.Department) {
		return nil, apperr.Validation("Invalid department. Must be one of: "+allowedDepartments(),
			map[string]string{"department": "invalid"})
	}

	var record models.EmployeeID
	err := s.db.WithContext(ctx).Where("employee_id = ?", employeeID).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUnknownEmployeeID
	}
	if err != nil {
		return nil, fmt.Errorf("loading employee id: %w", err)
	}
	switch record.Status {
	case models.EmployeeIDUsed:
		return nil, ErrEmployeeIDUsed
	case models.EmployeeIDRevoked:
		return nil, ErrEmployeeIDRevoked
	}
	if record.Email != "" && !strings.EqualFold(record.Email, email) {
		return nil, ErrEmployeeIDMismatch
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         validation.CleanText(in.Name, 120),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         models.RoleStaff,
		Status:       models.UserStatusPending,
		Department:   models.Department(in.Department),
		EmployeeID:   employeeID,
	}

	var verifyToken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := s.emailTaken(ctx, tx, email)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return fmt.Errorf("saving user: %w", err)
		}
		if err := tx.Create(&models.SignupRequest{
			UserID: user.ID,
			Kind:   models.SignupKindStaff,
			Status: models.SignupPending,
		}).Error; err != nil {
			return fmt.Errorf("saving signup request: %w", err)
		}

		now := time.Now().UTC()
		result := tx.Model(&models.EmployeeID{}).
			Where("id = ? AND status = ?", record.ID, models.EmployeeIDUnused).
			Updates(map[string]interface{}{"status": models.EmployeeIDUsed, "used_by": user.ID, "used_at": now})
		if result.Error != nil {
			return fmt.Errorf("consuming employee id: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrEmployeeIDUsed
		}
		verifyToken, err = issueToken(tx, user.ID, models.TokenEmailVerification, verifyTokenTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("staff signup received", "user_id", user.ID, "department", user.Department)
	s.sendVerification(ctx, user, verifyToken)
	s.notifyAdmins(ctx, user, models.SignupKindStaff)
	return user, nil
}

// SignupAffiliate registers a pending affiliate account.
func (s *Service) SignupAffiliate(ctx context.Context, in AffiliateSignup) (*models.User, error) {
	email := auth.NormalizeEmail(in.Email)
	if err := validateAccount(email, in.Password, in.Name, in.Phone); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         validation.CleanText(in.Name, 120),
		Phone:        strings.TrimSpace(in.Phone),
		Role:         models.RoleAffiliate,
		Status:       models.UserStatusPending,
	}

	var verifyToken string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		taken, err := s.emailTaken(ctx, tx, email)
		if err != nil {
			return err
		}
		if taken {
			return ErrEmailTaken
		}
		if err := tx.Create(user).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrEmailTaken
			}
			return fmt.Errorf("saving user: %w", err)
		}
		if err := tx.Create(&models.SignupRequest{
			UserID: user.ID,
			Kind:   models.SignupKindAffiliate,
			Status: models.SignupPending,
		}).Error; err != nil {
			return fmt.Errorf("saving signup request: %w", err)
		}
		verifyToken, err = issueToken(tx, user.ID, models.TokenEmailVerification, verifyTokenTTL)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("affiliate signup received", "user_id", user.ID)
	s.sendVerification(ctx, user, verifyToken)
	s.notifyAdmins(ctx, user, models.SignupKindAffiliate)
	return user, nil
}

func (s *Service) notifyAdmins(ctx context.Context, user *models.User, kind models.SignupKind) {
	admins, err := s.adminEmails(ctx)
	if err != nil {
		s.logger.Warn("failed to load admin emails", "error", err)
		return
	}
	if len(admins) == 0 {
		return
	}
	s.send(ctx, notify.NewSignup(admins, user.Name, user.Email, string(kind), s.opts.BaseURL+"/admin/signups"))
}
