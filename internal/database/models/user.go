package models

import (
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleStaff     Role = "staff"
	RoleAffiliate Role = "affiliate"
	RoleAdmin     Role = "admin"
)

var Roles = []Role{RoleStaff, RoleAffiliate, RoleAdmin}

type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
	UserStatusRejected  UserStatus = "rejected"
)

type Department string

const (
	DepartmentSales               Department = "sales"
	DepartmentMarketing           Department = "marketing"
	DepartmentOperations          Department = "operations"
	DepartmentFieldOperations     Department = "field-operations"
	DepartmentCustomerService     Department = "customer-service"
	DepartmentBusinessDevelopment Department = "business-development"
	DepartmentFinance             Department = "finance"
	DepartmentHumanResources      Department = "human-resources"
	DepartmentITTechnology        Department = "it-technology"
	DepartmentManagement          Department = "management"
	DepartmentAdmin               Department = "admin"
)

var Departments = []Department{
	DepartmentSales, DepartmentMarketing, DepartmentOperations, DepartmentFieldOperations,
	DepartmentCustomerService, DepartmentBusinessDevelopment, DepartmentFinance,
	DepartmentHumanResources, DepartmentITTechnology, DepartmentManagement, DepartmentAdmin,
}

func ValidRole(r string) bool {
	for _, v := range Roles {
		if string(v) == r {
			return true
		}
	}
	return false
}

func ValidDepartment(d string) bool {
	for _, v := range Departments {
		if string(v) == d {
			return true
		}
	}
	return false
}

type User struct {
	Base
	Email         string     `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash  string     `gorm:"not null" json:"-"`
	Name          string     `json:"name"`
	Phone         string     `json:"phone,omitempty"`
	Role          Role       `gorm:"type:varchar(20);not null;index" json:"role"`
	Status        UserStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	Department    Department `gorm:"type:varchar(40)" json:"department,omitempty"`
	EmployeeID    string     `gorm:"type:varchar(20)" json:"employee_id,omitempty"`
	EmailVerified bool       `gorm:"default:false" json:"email_verified"`
	LastLoginAt   *time.Time `json:"last_login_at,omitempty"`
}

func (User) TableName() string {
	return "users"
}

// CanSell reports whether the user may hold project assignments.
func (u *User) CanSell() bool {
	return u.Role == RoleAffiliate || (u.Role == RoleStaff && u.Department == DepartmentSales)
}

type SignupKind string

const (
	SignupKindStaff     SignupKind = "staff"
	SignupKindAffiliate SignupKind = "affiliate"
)

type SignupStatus string

const (
	SignupPending  SignupStatus = "pending"
	SignupApproved SignupStatus = "approved"
	SignupRejected SignupStatus = "rejected"
)

type SignupRequest struct {
	Base
	UserID     uuid.UUID    `gorm:"type:uuid;not null;index" json:"user_id"`
	Kind       SignupKind   `gorm:"type:varchar(20);not null" json:"kind"`
	Status     SignupStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ReviewedBy *uuid.UUID   `gorm:"type:uuid" json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time   `json:"reviewed_at,omitempty"`
	Notes      string       `json:"notes,omitempty"`

	User *User `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (SignupRequest) TableName() string {
	return "signup_requests"
}

type EmployeeIDStatus string

const (
	EmployeeIDUnused  EmployeeIDStatus = "unused"
	EmployeeIDUsed    EmployeeIDStatus = "used"
	EmployeeIDRevoked EmployeeIDStatus = "revoked"
)

type EmployeeID struct {
	Record
	EmployeeID string           `gorm:"type:varchar(20);uniqueIndex;not null" json:"employee_id"`
	Email      string           `json:"email,omitempty"`
	Status     EmployeeIDStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	UsedBy     *uuid.UUID       `gorm:"type:uuid" json:"used_by,omitempty"`
	UsedAt     *time.Time       `json:"used_at,omitempty"`
	CreatedBy  *uuid.UUID       `gorm:"type:uuid" json:"created_by,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

func (EmployeeID) TableName() string {
	return "employee_ids"
}

type TokenType string

const (
	TokenPasswordReset     TokenType = "password_reset"
	TokenEmailVerification TokenType = "email_verification"
)

// VerificationToken is a single use secret mailed to a user. UsedAt is set
// once it has been redeemed.
type VerificationToken struct {
	Record
	UserID    uuid.UUID  `gorm:"type:uuid;not null;index" json:"user_id"`
	Token     string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"-"`
	Type      TokenType  `gorm:"type:varchar(32);not null" json:"type"`
	ExpiresAt time.Time  `gorm:"not null" json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	User      *User      `gorm:"foreignKey:UserID" json:"-"`
}

func (VerificationToken) TableName() string {
	return "verification_tokens"
}
