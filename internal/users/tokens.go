package users

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

const (
	resetTokenTTL  = time.Hour
	verifyTokenTTL = 24 * time.Hour
)

var (
	ErrInvalidToken = apperr.Validation("Invalid or expired link", map[string]string{"token": "invalid"})
	ErrTokenExpired = apperr.Validation("This link has expired. Please request a new one.", map[string]string{"token": "expired"})
)

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func issueToken(tx *gorm.DB, userID uuid.UUID, typ models.TokenType, ttl time.Duration) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}
	if err := tx.Create(&models.VerificationToken{
		UserID:    userID,
		Token:     token,
		Type:      typ,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}).Error; err != nil {
		return "", fmt.Errorf("saving %s token: %w", typ, err)
	}
	return token, nil
}

// redeem marks a token used. The conditional update means only one caller
// can redeem a given token, however many race for it.
func redeem(tx *gorm.DB, raw string, typ models.TokenType, now time.Time) (*models.VerificationToken, error) {
	if raw == "" {
		return nil, ErrInvalidToken
	}

	var token models.VerificationToken
	err := tx.Where("token = ? AND type = ? AND used_at IS NULL", raw, typ).First(&token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("loading token: %w", err)
	}
	if !now.Before(token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	result := tx.Model(&models.VerificationToken{}).
		Where("id = ? AND used_at IS NULL", token.ID).
		Update("used_at", now)
	if result.Error != nil {
		return nil, fmt.Errorf("redeeming token: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return nil, ErrInvalidToken
	}
	token.UsedAt = &now
	return &token, nil
}

// RequestPasswordReset mails a reset link when the address belongs to an
// account. Unknown addresses succeed silently and the reply never says
// which addresses are registered.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) error {
	email = auth.NormalizeEmail(email)
	if email == "" {
		return ErrMissingFields
	}
	if !validation.IsValidEmail(email) {
		return ErrInvalidEmail
	}

	var user models.User
	err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Info("password reset requested for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}

	token, err := issueToken(s.db.WithContext(ctx), user.ID, models.TokenPasswordReset, resetTokenTTL)
	if err != nil {
		return err
	}

	s.send(ctx, notify.PasswordReset(user.Email, user.Name, s.opts.BaseURL+"/reset-password?token="+token))
	s.audit.Record(ctx, user.ID, audit.ActionPasswordResetReq, map[string]interface{}{"email": user.Email})
	return nil
}

// ResetPassword redeems a reset link and sets a new password. Any other
// reset links still outstanding for the account stop working.
func (s *Service) ResetPassword(ctx context.Context, rawToken, password string) error {
	if ok, msg := validation.IsValidPassword(password); !ok {
		return apperr.Validation(msg, map[string]string{"password": msg})
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	var user models.User
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		token, err := redeem(tx, rawToken, models.TokenPasswordReset, now)
		if err != nil {
			return err
		}
		if err := tx.First(&user, "id = ?", token.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("loading user: %w", err)
		}
		if err := tx.Model(&user).Update("password_hash", hash).Error; err != nil {
			return fmt.Errorf("saving password: %w", err)
		}
		return tx.Model(&models.VerificationToken{}).
			Where("user_id = ? AND type = ? AND used_at IS NULL", user.ID, models.TokenPasswordReset).
			Update("used_at", now).Error
	})
	if err != nil {
		return err
	}

	s.logger.Info("password reset", "user_id", user.ID)
	s.send(ctx, notify.PasswordChanged(user.Email, user.Name))
	s.audit.Record(ctx, user.ID, audit.ActionPasswordChanged, map[string]interface{}{"via": "reset_link"})
	return nil
}

// VerifyEmail redeems the link mailed at signup.
func (s *Service) VerifyEmail(ctx context.Context, rawToken string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		token, err := redeem(tx, rawToken, models.TokenEmailVerification, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := tx.First(&user, "id = ?", token.UserID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInvalidToken
			}
			return fmt.Errorf("loading user: %w", err)
		}
		if err := tx.Model(&user).Update("email_verified", true).Error; err != nil {
			return fmt.Errorf("verifying email: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user.EmailVerified = true
	s.audit.Record(ctx, user.ID, audit.ActionEmailVerified, map[string]interface{}{"email": user.Email})
	return &user, nil
}

// sendVerification mails the link issued alongside a new account.
func (s *Service) sendVerification(ctx context.Context, user *models.User, token string) {
	s.send(ctx, notify.VerifyEmail(user.Email, user.Name, s.opts.BaseURL+"/verify-email?token="+token))
}
