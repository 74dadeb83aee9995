// Package vouchers manages the per-project pool of pre-generated codes and
// hands them out to paid transactions exactly once.
package vouchers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/storage"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

const DefaultMaxUploadBytes = 5 * 1024 * 1024

var (
	ErrProjectNotFound   = apperr.NotFound("Project not found")
	ErrVoucherNotFound   = apperr.NotFound("Voucher not found")
	ErrNoAvailableCode   = apperr.Conflict("no available voucher code")
	ErrDuplicateCode     = apperr.Conflict("This voucher code already exists for this project")
	ErrSoldNotRevocable  = apperr.Conflict("Sold vouchers cannot be revoked")
	ErrAlreadyRevoked    = apperr.Conflict("Voucher is already revoked")
	ErrExpiredVoucher    = apperr.Conflict("Voucher has expired")
	ErrTransactionLinked = apperr.Conflict("Transaction already holds a voucher")
	ErrCodeRequired      = apperr.Validation("Voucher code is required", map[string]string{"code": "required"})
)

// Service handles voucher inventory for projects.
type Service struct {
	db        *gorm.DB
	store     storage.Store
	audit     *audit.Log
	logger    *slog.Logger
	maxUpload int64
}

// NewService creates a voucher service. store may be nil, in which case
// uploaded files are not archived.
func NewService(db *gorm.DB, store storage.Store, auditLog *audit.Log, logger *slog.Logger, maxUpload int64) *Service {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Service{db: db, store: store, audit: auditLog, logger: logger, maxUpload: maxUpload}
}

// NormalizeCode trims and upper-cases a code so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (s *Service) requireProject(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return &project, nil
}

type AddInput struct {
	Code        string     `json:"code"`
	ProductName string     `json:"product_name"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Add inserts a single code entered by an admin.
func (s *Service) Add(ctx context.Context, projectID, actorID uuid.UUID, in AddInput) (*models.VoucherCode, error) {
	code := NormalizeCode(in.Code)
	if code == "" {
		return nil, ErrCodeRequired
	}
	if _, err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	exists, err := s.codeExists(ctx, projectID, code)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateCode
	}

	voucher := &models.VoucherCode{
		ProjectID:   projectID,
		Code:        code,
		Status:      models.VoucherAvailable,
		ProductName: strings.TrimSpace(in.ProductName),
	}
	if in.ExpiresAt != nil {
		expires := in.ExpiresAt.UTC()
		voucher.ExpiresAt = &expires
	}

	if err := s.db.WithContext(ctx).Create(voucher).Error; err != nil {
		// Lost a race with a concurrent insert of the same code.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateCode
		}
		if exists, _ := s.codeExists(ctx, projectID, code); exists {
			return nil, ErrDuplicateCode
		}
		return nil, fmt.Errorf("saving voucher: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionVoucherManualAdd, map[string]interface{}{
		"project_id": projectID,
		"code":       code,
	})
	return voucher, nil
}

func (s *Service) codeExists(ctx context.Context, projectID uuid.UUID, code string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.VoucherCode{}).
		Where("project_id = ? AND code = ?", projectID, code).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking voucher code: %w", err)
	}
	return count > 0, nil
}

// Revoke takes an available code out of circulation. Sold, expired and
// already revoked codes are left untouched.
func (s *Service) Revoke(ctx context.Context, projectID, voucherID, actorID uuid.UUID) (*models.VoucherCode, error) {
	var voucher models.VoucherCode
	err := s.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", voucherID, projectID).
		First(&voucher).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrVoucherNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading voucher: %w", err)
	}

	if err := transitionError(voucher.Status); err != nil {
		return nil, err
	}

	result := s.db.WithContext(ctx).Model(&models.VoucherCode{}).
		Where("id = ? AND status = ?", voucherID, models.VoucherAvailable).
		Update("status", models.VoucherRevoked)
	if result.Error != nil {
		return nil, fmt.Errorf("revoking voucher: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		// Sold or expired between the read and the update.
		if err := s.db.WithContext(ctx).First(&voucher, "id = ?", voucherID).Error; err != nil {
			return nil, fmt.Errorf("reloading voucher: %w", err)
		}
		if err := transitionError(voucher.Status); err != nil {
			return nil, err
		}
		return nil, ErrSoldNotRevocable
	}

	voucher.Status = models.VoucherRevoked
	s.audit.Record(ctx, actorID, audit.ActionVoucherRevoke, map[string]interface{}{
		"project_id": projectID,
		"voucher_id": voucherID,
		"code":       voucher.Code,
	})
	return &voucher, nil
}

func transitionError(status models.VoucherStatus) error {
	switch status {
	case models.VoucherSold:
		return ErrSoldNotRevocable
	case models.VoucherRevoked:
		return ErrAlreadyRevoked
	case models.VoucherExpired:
		return ErrExpiredVoucher
	}
	return nil
}
