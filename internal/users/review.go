package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/notify"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

// PendingSignups returns signup requests awaiting review, oldest first.
func (s *Service) PendingSignups(ctx context.Context) ([]models.SignupRequest, error) {
	var requests []models.SignupRequest
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("status = ?", models.SignupPending).
		Order("created_at ASC").
		Find(&requests).Error; err != nil {
		return nil, fmt.Errorf("listing pending signups: %w", err)
	}
	return requests, nil
}

// Approve activates the account behind a pending signup request.
func (s *Service) Approve(ctx context.Context, actorID, signupID uuid.UUID) (*models.User, error) {
	user, err := s.decide(ctx, actorID, signupID, models.SignupApproved, models.UserStatusActive, "")
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actorID, audit.ActionUserApprove, map[string]interface{}{
		"user_id":   user.ID,
		"signup_id": signupID,
	})
	s.send(ctx, notify.AccountApproved(user.Email, user.Name, s.opts.BaseURL+"/login"))
	return user, nil
}

// Reject closes a pending signup request. The reason is mailed to the
// applicant.
func (s *Service) Reject(ctx context.Context, actorID, signupID uuid.UUID, reason string) (*models.User, error) {
	user, err := s.decide(ctx, actorID, signupID, models.SignupRejected, models.UserStatusRejected, reason)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, actorID, audit.ActionUserReject, map[string]interface{}{
		"user_id":   user.ID,
		"signup_id": signupID,
		"reason":    reason,
	})
	s.send(ctx, notify.AccountRejected(user.Email, user.Name, reason))
	return user, nil
}

func (s *Service) decide(ctx context.Context, actorID, signupID uuid.UUID, outcome models.SignupStatus, userStatus models.UserStatus, notes string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var request models.SignupRequest
		err := tx.First(&request, "id = ?", signupID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrSignupNotFound
		}
		if err != nil {
			return fmt.Errorf("loading signup request: %w", err)
		}

		now := time.Now().UTC()
		updates := map[string]interface{}{"status": outcome, "reviewed_at": now}
		if actorID != uuid.Nil {
			updates["reviewed_by"] = actorID
		}
		if notes != "" {
			updates["notes"] = notes
		}
		result := tx.Model(&models.SignupRequest{}).
			Where("id = ? AND status = ?", signupID, models.SignupPending).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("updating signup request: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrAlreadyDecided
		}

		result = tx.Model(&models.User{}).
			Where("id = ? AND status = ?", request.UserID, models.UserStatusPending).
			Update("status", userStatus)
		if result.Error != nil {
			return fmt.Errorf("updating user: %w", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrAlreadyDecided
		}

		return tx.First(&user, "id = ?", request.UserID).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Suspend blocks an active non-admin account. Existing sessions stay valid
// until they expire.
func (s *Service) Suspend(ctx context.Context, actorID, userID uuid.UUID) (*models.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == models.RoleAdmin {
		return nil, ErrSuspendAdmin
	}
	if err := s.transition(ctx, user, models.UserStatusActive, models.UserStatusSuspended, ErrNotActive); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, audit.ActionUserSuspend, map[string]interface{}{"user_id": userID})
	return user, nil
}

func (s *Service) Activate(ctx context.Context, actorID, userID uuid.UUID) (*models.User, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.transition(ctx, user, models.UserStatusSuspended, models.UserStatusActive, ErrNotSuspended); err != nil {
		return nil, err
	}
	s.audit.Record(ctx, actorID, audit.ActionUserActivate, map[string]interface{}{"user_id": userID})
	return user, nil
}

func (s *Service) transition(ctx context.Context, user *models.User, from, to models.UserStatus, conflict error) error {
	result := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND status = ?", user.ID, from).
		Update("status", to)
	if result.Error != nil {
		return fmt.Errorf("updating user status: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return conflict
	}
	user.Status = to
	return nil
}

// UpdateRole changes a user's role. Admins cannot demote themselves, and
// leaving the staff role clears the department.
func (s *Service) UpdateRole(ctx context.Context, actorID, userID uuid.UUID, role string) (*models.User, error) {
	if !models.ValidRole(role) {
		return nil, apperr.Validation("Invalid role. Must be one of: "+allowedRoles(), map[string]string{"role": "invalid"})
	}
	if actorID == userID && models.Role(role) != models.RoleAdmin {
		return nil, ErrSelfDemotion
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	oldRole := user.Role

	updates := map[string]interface{}{"role": role}
	if models.Role(role) != models.RoleStaff {
		updates["department"] = ""
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating role: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionUserRoleChange, map[string]interface{}{
		"user_id":  userID,
		"old_role": oldRole,
		"new_role": role,
	})
	return s.Get(ctx, userID)
}

func (s *Service) UpdateDepartment(ctx context.Context, actorID, userID uuid.UUID, department string) (*models.User, error) {
	if !models.ValidDepartment(department) {
		return nil, apperr.Validation("Invalid department. Must be one of: "+allowedDepartments(),
			map[string]string{"department": "invalid"})
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleStaff {
		return nil, ErrNotStaff
	}
	oldDepartment := user.Department

	if err := s.db.WithContext(ctx).Model(user).Update("department", department).Error; err != nil {
		return nil, fmt.Errorf("updating department: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionUserDeptChange, map[string]interface{}{
		"user_id":        userID,
		"old_department": oldDepartment,
		"new_department": department,
	})
	return user, nil
}
