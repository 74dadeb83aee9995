package models

import (
	"time"

	"github.com/google/uuid"
)

type CourseStatus string

const (
	CourseDraft     CourseStatus = "draft"
	CoursePublished CourseStatus = "published"
	CourseArchived  CourseStatus = "archived"
)

func ValidCourseStatus(s string) bool {
	switch CourseStatus(s) {
	case CourseDraft, CoursePublished, CourseArchived:
		return true
	}
	return false
}

type Course struct {
	Base
	Title       string       `gorm:"not null" json:"title"`
	Description string       `json:"description,omitempty"`
	Status      CourseStatus `gorm:"type:varchar(20);not null" json:"status"`
	CreatedBy   *uuid.UUID   `gorm:"type:uuid" json:"created_by,omitempty"`

	Modules []CourseModule `gorm:"foreignKey:CourseID" json:"modules,omitempty"`
}

func (Course) TableName() string {
	return "courses"
}

type CourseModule struct {
	Record
	CourseID   uuid.UUID `gorm:"type:uuid;not null;index" json:"course_id"`
	Title      string    `gorm:"not null" json:"title"`
	OrderIndex int       `gorm:"not null;default:0" json:"order_index"`

	Lessons []CourseLesson `gorm:"foreignKey:ModuleID" json:"lessons,omitempty"`
}

func (CourseModule) TableName() string {
	return "course_modules"
}

type CourseLesson struct {
	Record
	ModuleID        uuid.UUID `gorm:"type:uuid;not null;index" json:"module_id"`
	Title           string    `gorm:"not null" json:"title"`
	Content         string    `gorm:"type:text" json:"content,omitempty"`
	VideoURL        string    `json:"video_url,omitempty"`
	DurationMinutes int       `json:"duration_minutes"`
	OrderIndex      int       `gorm:"not null;default:0" json:"order_index"`

	Module *CourseModule `gorm:"foreignKey:ModuleID" json:"-"`
}

func (CourseLesson) TableName() string {
	return "course_lessons"
}

type CourseAssignment struct {
	Record
	CourseID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_course_assignment" json:"course_id"`
	UserID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_course_assignment;index" json:"user_id"`
	AssignedBy *uuid.UUID `gorm:"type:uuid" json:"assigned_by,omitempty"`
	DueDate    *time.Time `json:"due_date,omitempty"`

	Course *Course `gorm:"foreignKey:CourseID" json:"course,omitempty"`
	User   *User   `gorm:"foreignKey:UserID" json:"user,omitempty"`
}

func (CourseAssignment) TableName() string {
	return "course_assignments"
}

// CourseProgress is keyed by (user, lesson); writes upsert.
type CourseProgress struct {
	Record
	UserID      uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_progress_user_lesson" json:"user_id"`
	LessonID    uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_progress_user_lesson" json:"lesson_id"`
	Completed   bool       `gorm:"not null;default:false" json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (CourseProgress) TableName() string {
	return "course_progress"
}
