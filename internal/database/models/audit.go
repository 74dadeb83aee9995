package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AuditLog struct {
	ID        uuid.UUID  `gorm:"type:uuid;primary_key" json:"id"`
	UserID    *uuid.UUID `gorm:"type:uuid;index" json:"user_id,omitempty"`
	Action    string     `gorm:"type:varchar(64);not null;index" json:"action"`
	Metadata  string     `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// AppSetting stores either a plain Value or an age sealed EncryptedValue.
type AppSetting struct {
	Key            string     `gorm:"primaryKey;type:varchar(64)" json:"key"`
	Value          string     `json:"value,omitempty"`
	EncryptedValue string     `gorm:"type:text" json:"-"`
	UpdatedBy      *uuid.UUID `gorm:"type:uuid" json:"updated_by,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (AppSetting) TableName() string {
	return "app_settings"
}

// All lists every model, in dependency order, for AutoMigrate.
func All() []interface{} {
	return []interface{}{
		&User{},
		&SignupRequest{},
		&VerificationToken{},
		&EmployeeID{},
		&Project{},
		&ProjectAssignment{},
		&Customer{},
		&SalesTransaction{},
		&VoucherCode{},
		&Course{},
		&CourseModule{},
		&CourseLesson{},
		&CourseAssignment{},
		&CourseProgress{},
		&AuditLog{},
		&AppSetting{},
	}
}
