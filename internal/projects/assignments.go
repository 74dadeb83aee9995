package projects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
)

var (
	ErrSalespersonNotFound = apperr.NotFound("Salesperson not found")
	ErrAssignmentNotFound  = apperr.NotFound("Assignment not found for this project")
	ErrNotSeller           = apperr.Validation("Only sales staff or affiliates can be assigned", map[string]string{"salesperson_id": "not a seller"})
	ErrAlreadyAssigned     = apperr.Conflict("Already assigned")
	ErrFormPathTaken       = apperr.Conflict("Another salesperson on this project already uses this form link")
	ErrEmptySalesperson    = apperr.Validation("Salesperson name must contain at least one letter or digit", map[string]string{"salesperson_id": "name cannot form a link"})
	ErrFormNotFound        = apperr.NotFound("Form not found")
)

// AssignResult reports whether an existing inactive assignment was revived.
type AssignResult struct {
	Assignment  *models.ProjectAssignment `json:"assignment"`
	Reactivated bool                      `json:"reactivated"`
}

// Assign lets a salesperson sell a project. The form link is derived from
// the project and salesperson slugs and never changes once issued.
func (s *Service) Assign(ctx context.Context, actorID, projectID, salespersonID uuid.UUID) (*AssignResult, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var seller models.User
	err = s.db.WithContext(ctx).First(&seller, "id = ?", salespersonID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSalespersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading salesperson: %w", err)
	}
	if !seller.CanSell() {
		return nil, ErrNotSeller
	}

	var existing models.ProjectAssignment
	err = s.db.WithContext(ctx).
		Where("project_id = ? AND salesperson_id = ?", projectID, salespersonID).
		First(&existing).Error
	switch {
	case err == nil:
		if existing.Status == models.AssignmentActive {
			return nil, ErrAlreadyAssigned
		}
		if err := s.db.WithContext(ctx).Model(&existing).Update("status", models.AssignmentActive).Error; err != nil {
			return nil, fmt.Errorf("reactivating assignment: %w", err)
		}
		existing.Status = models.AssignmentActive
		s.audit.Record(ctx, actorID, audit.ActionAssignmentCreate, map[string]interface{}{
			"project_id":     projectID,
			"salesperson_id": salespersonID,
			"assignment_id":  existing.ID,
			"reactivated":    true,
		})
		return &AssignResult{Assignment: &existing, Reactivated: true}, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, fmt.Errorf("loading assignment: %w", err)
	}

	sellerSlug := Slugify(seller.Name)
	if sellerSlug == "" {
		return nil, ErrEmptySalesperson
	}
	formURL := FormPath(project.Slug, sellerSlug)

	var clash int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectAssignment{}).
		Where("project_id = ? AND form_url = ? AND salesperson_id <> ?", projectID, formURL, salespersonID).
		Count(&clash).Error; err != nil {
		return nil, fmt.Errorf("checking form link: %w", err)
	}
	if clash > 0 {
		return nil, ErrFormPathTaken
	}

	assignment := &models.ProjectAssignment{
		ProjectID:     projectID,
		SalespersonID: salespersonID,
		FormURL:       formURL,
		Status:        models.AssignmentActive,
		AssignedAt:    time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(assignment).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, s.duplicateAssignment(ctx, projectID, salespersonID)
		}
		return nil, fmt.Errorf("saving assignment: %w", err)
	}

	s.logger.Info("salesperson assigned", "project_id", projectID, "salesperson_id", salespersonID, "form_url", formURL)
	s.audit.Record(ctx, actorID, audit.ActionAssignmentCreate, map[string]interface{}{
		"project_id":       projectID,
		"project_name":     project.Name,
		"salesperson_id":   salespersonID,
		"salesperson_name": seller.Name,
		"form_url":         formURL,
	})
	return &AssignResult{Assignment: assignment}, nil
}

// duplicateAssignment names which unique key a concurrent insert beat us
// to: the salesperson's own row, or another salesperson's form link.
func (s *Service) duplicateAssignment(ctx context.Context, projectID, salespersonID uuid.UUID) error {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.ProjectAssignment{}).
		Where("project_id = ? AND salesperson_id = ?", projectID, salespersonID).
		Count(&n).Error; err != nil {
		return fmt.Errorf("checking assignment: %w", err)
	}
	if n > 0 {
		return ErrAlreadyAssigned
	}
	return ErrFormPathTaken
}

// Unassign deactivates an assignment. The row is kept so past sales still
// point at it and the same link comes back on reassignment.
func (s *Service) Unassign(ctx context.Context, actorID, projectID, assignmentID uuid.UUID) error {
	var assignment models.ProjectAssignment
	err := s.db.WithContext(ctx).
		Where("id = ? AND project_id = ?", assignmentID, projectID).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrAssignmentNotFound
	}
	if err != nil {
		return fmt.Errorf("loading assignment: %w", err)
	}

	if err := s.db.WithContext(ctx).Model(&assignment).Update("status", models.AssignmentInactive).Error; err != nil {
		return fmt.Errorf("deactivating assignment: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionAssignmentRemove, map[string]interface{}{
		"project_id":     projectID,
		"assignment_id":  assignmentID,
		"salesperson_id": assignment.SalespersonID,
	})
	return nil
}

// ListAssignments returns every assignment of a project, newest first.
func (s *Service) ListAssignments(ctx context.Context, projectID uuid.UUID) ([]models.ProjectAssignment, error) {
	if _, err := s.Get(ctx, projectID); err != nil {
		return nil, err
	}

	var assignments []models.ProjectAssignment
	if err := s.db.WithContext(ctx).
		Preload("Salesperson").
		Where("project_id = ?", projectID).
		Order("assigned_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("listing assignments: %w", err)
	}
	return assignments, nil
}

// ListForSalesperson returns the salesperson's active assignments on
// active projects.
func (s *Service) ListForSalesperson(ctx context.Context, salespersonID uuid.UUID) ([]models.ProjectAssignment, error) {
	var assignments []models.ProjectAssignment
	if err := s.db.WithContext(ctx).
		Preload("Project").
		Joins("JOIN projects ON projects.id = project_assignments.project_id AND projects.deleted_at IS NULL").
		Where("project_assignments.salesperson_id = ? AND project_assignments.status = ? AND projects.status = ?",
			salespersonID, models.AssignmentActive, models.ProjectStatusActive).
		Order("project_assignments.assigned_at DESC").
		Find(&assignments).Error; err != nil {
		return nil, fmt.Errorf("listing salesperson projects: %w", err)
	}
	return assignments, nil
}

// ResolveForm finds the active assignment behind a public form link.
func (s *Service) ResolveForm(ctx context.Context, projectSlug, salespersonSlug string) (*models.ProjectAssignment, error) {
	var assignment models.ProjectAssignment
	err := s.db.WithContext(ctx).
		Preload("Project").
		Preload("Salesperson").
		Where("form_url = ? AND status = ?", FormPath(projectSlug, salespersonSlug), models.AssignmentActive).
		First(&assignment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolving form: %w", err)
	}
	if assignment.Project == nil || assignment.Project.Status != models.ProjectStatusActive {
		return nil, ErrFormNotFound
	}
	return &assignment, nil
}
