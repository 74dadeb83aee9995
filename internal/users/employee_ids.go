package users

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

var (
	ErrEmployeeIDFormat   = apperr.Validation("Invalid employee ID format. Use: EMP-12345 or SASA-12345", map[string]string{"employee_id": "invalid format"})
	ErrEmployeeIDExists   = apperr.Conflict("This employee ID already exists")
	ErrEmployeeIDNotFound = apperr.NotFound("Employee ID not found")
	ErrEmployeeIDInUse    = apperr.Conflict("Used employee IDs cannot be revoked")
)

type EmployeeIDInput struct {
	EmployeeID string `json:"employee_id"`
	Email      string `json:"email"`
	Notes      string `json:"notes"`
}

// CreateEmployeeID issues an ID for staff signup. When an email is given
// only that address can redeem it and the ID is mailed there.
func (s *Service) CreateEmployeeID(ctx context.Context, actorID uuid.UUID, in EmployeeIDInput) (*models.EmployeeID, error) {
	id := validation.NormalizeEmployeeID(in.EmployeeID)
	if !validation.IsValidEmployeeID(id) {
		return nil, ErrEmployeeIDFormat
	}
	email := auth.NormalizeEmail(in.Email)
	if email != "" && !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.EmployeeID{}).Where("employee_id = ?", id).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking employee id: %w", err)
	}
	if count > 0 {
		return nil, ErrEmployeeIDExists
	}

	record := &models.EmployeeID{
		EmployeeID: id,
		Email:      email,
		Status:     models.EmployeeIDUnused,
		Notes:      strings.TrimSpace(in.Notes),
	}
	if actorID != uuid.Nil {
		record.CreatedBy = &actorID
	}
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmployeeIDExists
		}
		return nil, fmt.Errorf("saving employee id: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionEmployeeIDCreate, map[string]interface{}{
		"employee_id": id,
		"email":       email,
	})
	if email != "" {
		s.send(ctx, notify.EmployeeIDIssued(email, id, s.opts.BaseURL+"/signup/staff"))
	}
	return record, nil
}

func (s *Service) ListEmployeeIDs(ctx context.Context, status string) ([]models.EmployeeID, error) {
	q := s.db.WithContext(ctx).Model(&models.EmployeeID{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var ids []models.EmployeeID
	if err := q.Order("created_at DESC").Find(&ids).Error; err != nil {
		return nil, fmt.Errorf("listing employee ids: %w", err)
	}
	return ids, nil
}

// RevokeEmployeeID withdraws an unused ID.
func (s *Service) RevokeEmployeeID(ctx context.Context, actorID, id uuid.UUID) error {
	var record models.EmployeeID
	err := s.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrEmployeeIDNotFound
	}
	if err != nil {
		return fmt.Errorf("loading employee id: %w", err)
	}
	if record.Status == models.EmployeeIDRevoked {
		return nil
	}

	result := s.db.WithContext(ctx).Model(&models.EmployeeID{}).
		Where("id = ? AND status = ?", id, models.EmployeeIDUnused).
		Update("status", models.EmployeeIDRevoked)
	if result.Error != nil {
		return fmt.Errorf("revoking employee id: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrEmployeeIDInUse
	}

	s.audit.Record(ctx, actorID, audit.ActionEmployeeIDRevoke, map[string]interface{}{
		"employee_id": record.EmployeeID,
	})
	return nil
}
