package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProjectType string

const (
	ProjectTypeVouchers   ProjectType = "vouchers"
	ProjectTypeRealEstate ProjectType = "real_estate"
	ProjectTypeServices   ProjectType = "services"
	ProjectTypeProducts   ProjectType = "products"
	ProjectTypeOther      ProjectType = "other"
)

type ProjectStatus string

const (
	ProjectStatusDraft     ProjectStatus = "draft"
	ProjectStatusActive    ProjectStatus = "active"
	ProjectStatusPaused    ProjectStatus = "paused"
	ProjectStatusCompleted ProjectStatus = "completed"
)

func ValidProjectType(t string) bool {
	switch ProjectType(t) {
	case ProjectTypeVouchers, ProjectTypeRealEstate, ProjectTypeServices, ProjectTypeProducts, ProjectTypeOther:
		return true
	}
	return false
}

func ValidProjectStatus(s string) bool {
	switch ProjectStatus(s) {
	case ProjectStatusDraft, ProjectStatusActive, ProjectStatusPaused, ProjectStatusCompleted:
		return true
	}
	return false
}

type Project struct {
	Base
	Name           string          `gorm:"not null" json:"name"`
	Slug           string          `gorm:"uniqueIndex;not null" json:"slug"`
	ProjectType    ProjectType     `gorm:"type:varchar(20);not null" json:"project_type"`
	Description    string          `json:"description,omitempty"`
	Price          decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	CommissionRate decimal.Decimal `gorm:"type:numeric(5,2);not null" json:"commission_rate"`
	Status         ProjectStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	StripePriceID  string          `json:"stripe_price_id,omitempty"`
	CreatedBy      *uuid.UUID      `gorm:"type:uuid" json:"created_by,omitempty"`
}

func (Project) TableName() string {
	return "projects"
}

type AssignmentStatus string

const (
	AssignmentActive   AssignmentStatus = "active"
	AssignmentInactive AssignmentStatus = "inactive"
)

// ProjectAssignment links a salesperson to a project. FormURL is issued once
// and never rewritten, so printed QR codes keep working.
type ProjectAssignment struct {
	Record
	ProjectID     uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_project_salesperson;uniqueIndex:idx_assignment_project_form_url" json:"project_id"`
	SalespersonID uuid.UUID        `gorm:"type:uuid;not null;uniqueIndex:idx_assignment_project_salesperson;index" json:"salesperson_id"`
	FormURL       string           `gorm:"not null;index;uniqueIndex:idx_assignment_project_form_url" json:"form_url"`
	QRCodeURL     string           `json:"qr_code_url,omitempty"`
	QRCodeData    string           `gorm:"type:text" json:"qr_code_data,omitempty"`
	Status        AssignmentStatus `gorm:"type:varchar(20);not null" json:"status"`
	AssignedAt    time.Time        `json:"assigned_at"`

	Project     *Project `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Salesperson *User    `gorm:"foreignKey:SalespersonID" json:"salesperson,omitempty"`
}

func (ProjectAssignment) TableName() string {
	return "project_assignments"
}
