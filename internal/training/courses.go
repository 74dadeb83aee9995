// Package training holds courses for staff and tracks which lessons each
// assigned user has completed.
package training

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
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrCourseNotFound    = apperr.NotFound("Course not found")
	ErrModuleNotFound    = apperr.NotFound("Module not found")
	ErrLessonNotFound    = apperr.NotFound("Lesson not found")
	ErrUserNotFound      = apperr.NotFound("User not found")
	ErrAlreadyAssigned   = apperr.Conflict("User is already assigned to this course")
	ErrNotAssigned       = apperr.Forbidden("You are not assigned to this course")
	ErrAssignmentMissing = apperr.NotFound("Assignment not found")
	ErrTitleRequired     = apperr.Validation("Title is required", map[string]string{"title": "required"})
)

type Service struct {
	db     *gorm.DB
	audit  *audit.Log
	logger *slog.Logger
}

func NewService(db *gorm.DB, auditLog *audit.Log, logger *slog.Logger) *Service {
	return &Service{db: db, audit: auditLog, logger: logger}
}

func byOrderIndex(db *gorm.DB) *gorm.DB {
	return db.Order("order_index ASC, created_at ASC")
}

type CourseInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

func (s *Service) CreateCourse(ctx context.Context, actorID uuid.UUID, in CourseInput) (*models.Course, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, ErrTitleRequired
	}
	if in.Status == "" {
		in.Status = string(models.CourseDraft)
	}
	if !models.ValidCourseStatus(in.Status) {
		return nil, apperr.Validation("Invalid status. Must be one of: draft, published, archived", map[string]string{"status": "invalid"})
	}

	course := &models.Course{
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      models.CourseStatus(in.Status),
	}
	if actorID != uuid.Nil {
		course.CreatedBy = &actorID
	}
	if err := s.db.WithContext(ctx).Create(course).Error; err != nil {
		return nil, fmt.Errorf("saving course: %w", err)
	}
	return course, nil
}

func (s *Service) UpdateCourse(ctx context.Context, courseID uuid.UUID, in CourseInput) (*models.Course, error) {
	course, err := s.loadCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if t := strings.TrimSpace(in.Title); t != "" {
		updates["title"] = t
	}
	if in.Description != "" {
		updates["description"] = strings.TrimSpace(in.Description)
	}
	if in.Status != "" {
		if !models.ValidCourseStatus(in.Status) {
			return nil, apperr.Validation("Invalid status. Must be one of: draft, published, archived", map[string]string{"status": "invalid"})
		}
		updates["status"] = in.Status
	}
	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(course).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("updating course: %w", err)
		}
	}
	return s.GetCourse(ctx, courseID)
}

func (s *Service) DeleteCourse(ctx context.Context, courseID uuid.UUID) error {
	result := s.db.WithContext(ctx).Delete(&models.Course{}, "id = ?", courseID)
	if result.Error != nil {
		return fmt.Errorf("deleting course: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCourseNotFound
	}
	return nil
}

func (s *Service) loadCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	var course models.Course
	err := s.db.WithContext(ctx).First(&course, "id = ?", courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	return &course, nil
}

// GetCourse loads a course with its modules and lessons in display order.
func (s *Service) GetCourse(ctx context.Context, courseID uuid.UUID) (*models.Course, error) {
	var course models.Course
	err := s.db.WithContext(ctx).
		Preload("Modules", byOrderIndex).
		Preload("Modules.Lessons", byOrderIndex).
		First(&course, "id = ?", courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCourseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading course: %w", err)
	}
	return &course, nil
}

func (s *Service) ListCourses(ctx context.Context, status string) ([]models.Course, error) {
	q := s.db.WithContext(ctx).Model(&models.Course{})
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var courses []models.Course
	if err := q.Order("created_at DESC").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("listing courses: %w", err)
	}
	return courses, nil
}

type ModuleInput struct {
	Title      string `json:"title"`
	OrderIndex int    `json:"order_index"`
}

func (s *Service) AddModule(ctx context.Context, courseID uuid.UUID, in ModuleInput) (*models.CourseModule, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}

	module := &models.CourseModule{CourseID: courseID, Title: strings.TrimSpace(in.Title), OrderIndex: in.OrderIndex}
	if err := s.db.WithContext(ctx).Create(module).Error; err != nil {
		return nil, fmt.Errorf("saving module: %w", err)
	}
	return module, nil
}

type LessonInput struct {
	ModuleID        uuid.UUID `json:"module_id"`
	Title           string    `json:"title"`
	Content         string    `json:"content"`
	VideoURL        string    `json:"video_url"`
	DurationMinutes int       `json:"duration_minutes"`
	OrderIndex      int       `json:"order_index"`
}

// AddLesson adds a lesson to one of the course's modules.
func (s *Service) AddLesson(ctx context.Context, courseID uuid.UUID, in LessonInput) (*models.CourseLesson, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, ErrTitleRequired
	}
	if in.DurationMinutes < 0 {
		return nil, apperr.Validation("Duration cannot be negative", map[string]string{"duration_minutes": "invalid"})
	}

	var module models.CourseModule
	err := s.db.WithContext(ctx).Where("id = ? AND course_id = ?", in.ModuleID, courseID).First(&module).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrModuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading module: %w", err)
	}

	lesson := &models.CourseLesson{
		ModuleID:        module.ID,
		Title:           strings.TrimSpace(in.Title),
		Content:         in.Content,
		VideoURL:        strings.TrimSpace(in.VideoURL),
		DurationMinutes: in.DurationMinutes,
		OrderIndex:      in.OrderIndex,
	}
	if err := s.db.WithContext(ctx).Create(lesson).Error; err != nil {
		return nil, fmt.Errorf("saving lesson: %w", err)
	}
	return lesson, nil
}

type AssignInput struct {
	UserIDs []uuid.UUID `json:"user_ids"`
	DueDate *time.Time  `json:"due_date"`
}

type AssignResult struct {
	Assigned int64 `json:"assigned"`
	Skipped  int64 `json:"skipped"`
}

// Assign gives users access to a course. Users who already hold it are
// skipped; if nobody was new the call is a Conflict.
func (s *Service) Assign(ctx context.Context, actorID, courseID uuid.UUID, in AssignInput) (*AssignResult, error) {
	if len(in.UserIDs) == 0 {
		return nil, apperr.Validation("user_ids array is required", map[string]string{"user_ids": "required"})
	}
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}

	var found int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", in.UserIDs).Count(&found).Error; err != nil {
		return nil, fmt.Errorf("checking users: %w", err)
	}
	if found != int64(len(in.UserIDs)) {
		return nil, ErrUserNotFound
	}

	rows := make([]models.CourseAssignment, 0, len(in.UserIDs))
	for _, userID := range in.UserIDs {
		a := models.CourseAssignment{CourseID: courseID, UserID: userID, DueDate: in.DueDate}
		if actorID != uuid.Nil {
			a.AssignedBy = &actorID
		}
		rows = append(rows, a)
	}

	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "user_id"}},
		DoNothing: true,
	}).Create(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("saving course assignments: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrAlreadyAssigned
	}

	s.audit.Record(ctx, actorID, audit.ActionCourseAssign, map[string]interface{}{
		"course_id": courseID,
		"user_ids":  in.UserIDs,
	})
	return &AssignResult{Assigned: result.RowsAffected, Skipped: int64(len(rows)) - result.RowsAffected}, nil
}

func (s *Service) Unassign(ctx context.Context, courseID, userID uuid.UUID) error {
	result := s.db.WithContext(ctx).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Delete(&models.CourseAssignment{})
	if result.Error != nil {
		return fmt.Errorf("removing course assignment: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAssignmentMissing
	}
	return nil
}

func (s *Service) ListAssignments(ctx context.Context, courseID uuid.UUID) ([]models.CourseAssignment, error) {
	if _, err := s.loadCourse(ctx, courseID); err != nil {
		return nil, err
	}
	var assignments []models.CourseAssignment
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("course_id = ?", courseID).
		Order("created_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("listing course assignments: %w", err)
	}
	return assignments, nil
}
