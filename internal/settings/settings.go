// Package settings stores runtime switches an admin can change without a
// deploy. Secret values are sealed with age before they reach the database.
package settings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/hugh/salesdesk/pkg/config"
	"github.com/hugh/salesdesk/pkg/crypto"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	KeyStripeMode          = "stripe_mode"
	KeyStripeTestSecretKey = "stripe_test_secret_key"
	KeyStripeLiveSecretKey = "stripe_live_secret_key"

	StripeModeTest = "test"
	StripeModeLive = "live"
)

type keySpec struct {
	secret   bool
	validate func(string) error
}

var keys = map[string]keySpec{
	KeyStripeMode: {validate: func(v string) error {
		if v != StripeModeTest && v != StripeModeLive {
			return apperr.Validation("Invalid stripe mode. Must be one of: test, live", map[string]string{"value": "must be test or live"})
		}
		return nil
	}},
	KeyStripeTestSecretKey: {secret: true},
	KeyStripeLiveSecretKey: {secret: true},
}

// View is what an admin sees: secrets are masked.
type View struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Secret    bool      `json:"secret"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

type Service struct {
	db        *gorm.DB
	encryptor *crypto.Encryptor
	stripe    config.StripeConfig
	audit     *audit.Log
}

func NewService(db *gorm.DB, encryptor *crypto.Encryptor, stripe *config.StripeConfig, auditLog *audit.Log) *Service {
	return &Service{db: db, encryptor: encryptor, stripe: *stripe, audit: auditLog}
}

func (s *Service) load(ctx context.Context, key string) (*models.AppSetting, error) {
	var setting models.AppSetting
	err := s.db.WithContext(ctx).First(&setting, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading setting %s: %w", key, err)
	}
	return &setting, nil
}

// List returns every known key with its current (masked) value.
func (s *Service) List(ctx context.Context) ([]View, error) {
	var stored []models.AppSetting
	if err := s.db.WithContext(ctx).Find(&stored).Error; err != nil {
		return nil, fmt.Errorf("listing settings: %w", err)
	}
	byKey := make(map[string]models.AppSetting, len(stored))
	for _, st := range stored {
		byKey[st.Key] = st
	}

	views := make([]View, 0, len(keys))
	for _, key := range []string{KeyStripeMode, KeyStripeTestSecretKey, KeyStripeLiveSecretKey} {
		def := keys[key]
		view := View{Key: key, Secret: def.secret}
		if st, ok := byKey[key]; ok {
			view.UpdatedAt = st.UpdatedAt
			if def.secret {
				plain, err := s.encryptor.DecryptString(st.EncryptedValue)
				if err != nil {
					return nil, fmt.Errorf("opening %s: %w", key, err)
				}
				view.Value = crypto.Mask(plain)
			} else {
				view.Value = st.Value
			}
		} else if key == KeyStripeMode {
			view.Value = s.defaultMode()
		}
		views = append(views, view)
	}
	return views, nil
}

// Set validates and stores a value. Secret keys are sealed first.
func (s *Service) Set(ctx context.Context, actorID uuid.UUID, key, value string) error {
	def, ok := keys[key]
	if !ok {
		return apperr.Validation("Unknown setting", map[string]string{"key": "unknown setting " + key})
	}
	if def.validate != nil {
		if err := def.validate(value); err != nil {
			return err
		}
	}

	setting := models.AppSetting{Key: key, UpdatedAt: time.Now().UTC()}
	if actorID != uuid.Nil {
		setting.UpdatedBy = &actorID
	}
	if def.secret {
		sealed, err := s.encryptor.EncryptString(value)
		if err != nil {
			return fmt.Errorf("sealing %s: %w", key, err)
		}
		setting.EncryptedValue = sealed
	} else {
		setting.Value = value
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "encrypted_value", "updated_by", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}

	s.audit.Record(ctx, actorID, audit.ActionSettingUpdate, map[string]interface{}{"key": key})
	return nil
}

func (s *Service) defaultMode() string {
	if s.stripe.Mode == StripeModeLive {
		return StripeModeLive
	}
	return StripeModeTest
}

// StripeMode returns the active payment mode.
func (s *Service) StripeMode(ctx context.Context) (string, error) {
	setting, err := s.load(ctx, KeyStripeMode)
	if err != nil {
		return "", err
	}
	if setting == nil || setting.Value == "" {
		return s.defaultMode(), nil
	}
	return setting.Value, nil
}

// StripeSecretKey returns the API key for the active mode. A key stored in
// settings wins over the one from the environment.
func (s *Service) StripeSecretKey(ctx context.Context) (string, error) {
	mode, err := s.StripeMode(ctx)
	if err != nil {
		return "", err
	}

	key, fallback := KeyStripeTestSecretKey, s.stripe.TestSecretKey
	if mode == StripeModeLive {
		key, fallback = KeyStripeLiveSecretKey, s.stripe.LiveSecretKey
	}

	setting, err := s.load(ctx, key)
	if err != nil {
		return "", err
	}
	if setting != nil && setting.EncryptedValue != "" {
		return s.encryptor.DecryptString(setting.EncryptedValue)
	}
	if fallback == "" {
		return "", apperr.Validation("Payments are not configured for "+mode+" mode", nil)
	}
	return fallback, nil
}
