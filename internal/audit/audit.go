// Package audit records who did what. Writes are best effort: a failed
// audit insert is logged and never fails the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database/models"
	"gorm.io/gorm"
)

const (
	ActionVoucherUpload     = "voucher_upload"
	ActionVoucherManualAdd  = "voucher_manual_add"
	ActionVoucherRevoke     = "voucher_revoke"
	ActionVoucherSold       = "voucher_sold"
	ActionVoucherExpired    = "voucher_expired"
	ActionProjectCreate     = "project_create"
	ActionProjectUpdate     = "project_update"
	ActionAssignmentCreate  = "assignment_create"
	ActionAssignmentRemove  = "assignment_remove"
	ActionUserApprove       = "user_approve"
	ActionUserReject        = "user_reject"
	ActionUserSuspend       = "user_suspend"
	ActionUserActivate      = "user_activate"
	ActionUserRoleChange    = "user_role_change"
	ActionUserDeptChange    = "user_department_change"
	ActionEmployeeIDCreate  = "employee_id_create"
	ActionEmployeeIDRevoke  = "employee_id_revoke"
	ActionCourseAssign      = "course_assign"
	ActionSettingUpdate     = "setting_update"
	ActionFulfillmentFailed = "fulfillment_failed"
	ActionCustomerCreate    = "customer_created"
	ActionCustomerExport    = "customer_export"
	ActionPasswordResetReq  = "password_reset_requested"
	ActionPasswordChanged   = "password_changed"
	ActionEmailVerified     = "email_verified"
)

type Log struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewLog(db *gorm.DB, logger *slog.Logger) *Log {
	return &Log{db: db, logger: logger}
}

// Record writes an audit row. A nil *Log is a no-op.
func (l *Log) Record(ctx context.Context, actorID uuid.UUID, action string, metadata map[string]interface{}) {
	if l == nil {
		return
	}

	payload := "{}"
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			payload = string(b)
		}
	}

	entry := models.AuditLog{Action: action, Metadata: payload}
	if actorID != uuid.Nil {
		entry.UserID = &actorID
	}

	if err := l.db.WithContext(ctx).Create(&entry).Error; err != nil {
		l.logger.Warn("failed to write audit log", "action", action, "error", err)
	}
}

type Filter struct {
	Action  string
	UserID  uuid.UUID
	Page    int
	PerPage int
}

func (l *Log) List(ctx context.Context, f Filter) ([]models.AuditLog, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 100 {
		f.PerPage = 50
	}

	q := l.db.WithContext(ctx).Model(&models.AuditLog{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.UserID != uuid.Nil {
		q = q.Where("user_id = ?", f.UserID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting audit logs: %w", err)
	}

	var entries []models.AuditLog
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PerPage).
		Limit(f.PerPage).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("listing audit logs: %w", err)
	}

	return entries, total, nil
}
