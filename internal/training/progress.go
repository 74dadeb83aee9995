package training

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Summary is a user's completion of one course.
type Summary struct {
	Total      int `json:"total_lessons"`
	Completed  int `json:"completed_lessons"`
	Percentage int `json:"percentage"`
}

// Percentage rounds completed/total to a whole percent. An empty course is
// 0%, not complete.
func Percentage(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}

func newSummary(completed, total int) Summary {
	return Summary{Total: total, Completed: completed, Percentage: Percentage(completed, total)}
}

// SetProgress marks a lesson complete or not for the user. Marking an
// already completed lesson keeps its original completion time.
func (s *Service) SetProgress(ctx context.Context, userID, lessonID uuid.UUID, completed bool) (*models.CourseProgress, error) {
	var lesson models.CourseLesson
	err := s.db.WithContext(ctx).Preload("Module").First(&lesson, "id = ?", lessonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrLessonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading lesson: %w", err)
	}
	if lesson.Module == nil {
		return nil, ErrModuleNotFound
	}

	assigned, err := s.isAssigned(ctx, userID, lesson.Module.CourseID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, ErrNotAssigned
	}

	now := time.Now().UTC()
	progress := models.CourseProgress{UserID: userID, LessonID: lessonID, Completed: completed}
	set := map[string]interface{}{"completed": completed, "updated_at": now}
	if completed {
		progress.CompletedAt = &now
		set["completed_at"] = gorm.Expr("COALESCE(course_progress.completed_at, ?)", now)
	} else {
		set["completed_at"] = nil
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "lesson_id"}},
		DoUpdates: clause.Assignments(set),
	}).Create(&progress).Error; err != nil {
		return nil, fmt.Errorf("saving progress: %w", err)
	}

	var saved models.CourseProgress
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND lesson_id = ?", userID, lessonID).
		First(&saved).Error; err != nil {
		return nil, fmt.Errorf("reloading progress: %w", err)
	}
	return &saved, nil
}

func (s *Service) isAssigned(ctx context.Context, userID, courseID uuid.UUID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.CourseAssignment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("checking course assignment: %w", err)
	}
	return count > 0, nil
}

type LessonView struct {
	ID              uuid.UUID  `json:"id"`
	Title           string     `json:"title"`
	Content         string     `json:"content,omitempty"`
	VideoURL        string     `json:"video_url,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	OrderIndex      int        `json:"order_index"`
	Completed       bool       `json:"completed"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

type ModuleView struct {
	ID         uuid.UUID    `json:"id"`
	Title      string       `json:"title"`
	OrderIndex int          `json:"order_index"`
	Lessons    []LessonView `json:"lessons"`
}

type CourseView struct {
	ID          uuid.UUID           `json:"id"`
	Title       string              `json:"title"`
	Description string              `json:"description,omitempty"`
	Status      models.CourseStatus `json:"status"`
	Modules     []ModuleView        `json:"modules"`
	Summary     Summary             `json:"progress"`
}

// CourseProgress returns the course tree annotated with the user's
// completion flags. The user must be assigned to the course.
func (s *Service) CourseProgress(ctx context.Context, userID, courseID uuid.UUID) (*CourseView, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	assigned, err := s.isAssigned(ctx, userID, courseID)
	if err != nil {
		return nil, err
	}
	if !assigned {
		return nil, ErrNotAssigned
	}

	var lessonIDs []uuid.UUID
	for _, m := range course.Modules {
		for _, l := range m.Lessons {
			lessonIDs = append(lessonIDs, l.ID)
		}
	}
	done, err := s.completedLessons(ctx, userID, lessonIDs)
	if err != nil {
		return nil, err
	}

	view := &CourseView{
		ID:          course.ID,
		Title:       course.Title,
		Description: course.Description,
		Status:      course.Status,
		Modules:     make([]ModuleView, 0, len(course.Modules)),
	}
	completed := 0
	for _, m := range course.Modules {
		mv := ModuleView{ID: m.ID, Title: m.Title, OrderIndex: m.OrderIndex, Lessons: make([]LessonView, 0, len(m.Lessons))}
		for _, l := range m.Lessons {
			lv := LessonView{
				ID:              l.ID,
				Title:           l.Title,
				Content:         l.Content,
				VideoURL:        l.VideoURL,
				DurationMinutes: l.DurationMinutes,
				OrderIndex:      l.OrderIndex,
			}
			if at, ok := done[l.ID]; ok {
				lv.Completed = true
				lv.CompletedAt = at
				completed++
			}
			mv.Lessons = append(mv.Lessons, lv)
		}
		view.Modules = append(view.Modules, mv)
	}
	view.Summary = newSummary(completed, len(lessonIDs))
	return view, nil
}

func (s *Service) completedLessons(ctx context.Context, userID uuid.UUID, lessonIDs []uuid.UUID) (map[uuid.UUID]*time.Time, error) {
	done := make(map[uuid.UUID]*time.Time)
	if len(lessonIDs) == 0 {
		return done, nil
	}

	var rows []models.CourseProgress
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND completed = ? AND lesson_id IN ?", userID, true, lessonIDs).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading progress: %w", err)
	}
	for _, r := range rows {
		done[r.LessonID] = r.CompletedAt
	}
	return done, nil
}

type MyCourse struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	AssignedAt  time.Time  `json:"assigned_at"`
	Summary     Summary    `json:"progress"`
}

// MyCourses lists the published courses assigned to the user with their
// completion summaries.
func (s *Service) MyCourses(ctx context.Context, userID uuid.UUID) ([]MyCourse, error) {
	var assignments []models.CourseAssignment
	if err := s.db.WithContext(ctx).
		Preload("Course", "status = ?", models.CoursePublished).
		Preload("Course.Modules").
		Preload("Course.Modules.Lessons").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("loading assigned courses: %w", err)
	}

	out := make([]MyCourse, 0, len(assignments))
	for _, a := range assignments {
		if a.Course == nil {
			continue
		}
		var lessonIDs []uuid.UUID
		for _, m := range a.Course.Modules {
			for _, l := range m.Lessons {
				lessonIDs = append(lessonIDs, l.ID)
			}
		}
		done, err := s.completedLessons(ctx, userID, lessonIDs)
		if err != nil {
			return nil, err
		}
		out = append(out, MyCourse{
			ID:          a.Course.ID,
			Title:       a.Course.Title,
			Description: a.Course.Description,
			DueDate:     a.DueDate,
			AssignedAt:  a.CreatedAt,
			Summary:     newSummary(len(done), len(lessonIDs)),
		})
	}
	return out, nil
}
