// Package projects keeps the catalogue of sellable projects and which
// salespeople may sell them.
package projects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/internal/storage"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrProjectNotFound = apperr.NotFound("Project not found")
	ErrSlugTaken       = apperr.Conflict("A project with this name already exists")
	ErrEmptySlug       = apperr.Validation("Name must contain at least one letter or digit", map[string]string{"name": "invalid"})
)

var hundred = decimal.NewFromInt(100)

// Service manages projects and salesperson assignments.
type Service struct {
	db      *gorm.DB
	store   storage.Store
	audit   *audit.Log
	logger  *slog.Logger
	baseURL string
}

// NewService creates a project service. baseURL is prefixed to form paths
// when rendering QR codes. store may be nil.
func NewService(db *gorm.DB, store storage.Store, auditLog *audit.Log, logger *slog.Logger, baseURL string) *Service {
	return &Service{
		db:      db,
		store:   store,
		audit:   auditLog,
		logger:  logger,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

type CreateInput struct {
	Name           string          `json:"name"`
	ProjectType    string          `json:"project_type"`
	Description    string          `json:"description"`
	Price          decimal.Decimal `json:"price"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Status         string          `json:"status"`
	StripePriceID  string          `json:"stripe_price_id"`
}

type UpdateInput struct {
	Name           *string          `json:"name"`
	Description    *string          `json:"description"`
	Price          *decimal.Decimal `json:"price"`
	CommissionRate *decimal.Decimal `json:"commission_rate"`
	Status         *string          `json:"status"`
	StripePriceID  *string          `json:"stripe_price_id"`
}

func validateAmounts(price, rate decimal.Decimal) error {
	details := map[string]string{}
	if price.IsNegative() {
		details["price"] = "must not be negative"
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		details["commission_rate"] = "must be between 0 and 100"
	}
	if len(details) > 0 {
		return apperr.Validation("Invalid project pricing", details)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*models.Project, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperr.Validation("Name is required", map[string]string{"name": "required"})
	}
	slug := Slugify(name)
	if slug == "" {
		return nil, ErrEmptySlug
	}
	if in.ProjectType == "" {
		in.ProjectType = string(models.ProjectTypeVouchers)
	}
	if !models.ValidProjectType(in.ProjectType) {
		return nil, apperr.Validation("Invalid project type. Must be one of: vouchers, real_estate, services, products, other",
			map[string]string{"project_type": "invalid"})
	}
	if in.Status == "" {
		in.Status = string(models.ProjectStatusDraft)
	}
	if !models.ValidProjectStatus(in.Status) {
		return nil, apperr.Validation("Invalid status. Must be one of: draft, active, paused, completed",
			map[string]string{"status": "invalid"})
	}
	if err := validateAmounts(in.Price, in.CommissionRate); err != nil {
		return nil, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Project{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking slug: %w", err)
	}
	if count > 0 {
		return nil, ErrSlugTaken
	}

	project := &models.Project{
		Name:           name,
		Slug:           slug,
		ProjectType:    models.ProjectType(in.ProjectType),
		Description:    strings.TrimSpace(in.Description),
		Price:          in.Price.Round(2),
		CommissionRate: in.CommissionRate.Round(2),
		Status:         models.ProjectStatus(in.Status),
		StripePriceID:  strings.TrimSpace(in.StripePriceID),
	}
	if actorID != uuid.Nil {
		project.CreatedBy = &actorID
	}

	if err := s.db.WithContext(ctx).Create(project).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrSlugTaken
		}
		return nil, fmt.Errorf("saving project: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionProjectCreate, map[string]interface{}{
		"project_id": project.ID,
		"name":       project.Name,
	})
	return project, nil
}

// Update changes project details. The slug is fixed at creation so existing
// form links keep resolving after a rename.
func (s *Service) Update(ctx context.Context, actorID, projectID uuid.UUID, in UpdateInput) (*models.Project, error) {
	project, err := s.Get(ctx, projectID)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("Name is required", map[string]string{"name": "required"})
		}
		updates["name"] = name
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	price, rate := project.Price, project.CommissionRate
	if in.Price != nil {
		price = in.Price.Round(2)
		updates["price"] = price
	}
	if in.CommissionRate != nil {
		rate = in.CommissionRate.Round(2)
		updates["commission_rate"] = rate
	}
	if err := validateAmounts(price, rate); err != nil {
		return nil, err
	}
	if in.Status != nil {
		if !models.ValidProjectStatus(*in.Status) {
			return nil, apperr.Validation("Invalid status. Must be one of: draft, active, paused, completed",
				map[string]string{"status": "invalid"})
		}
		updates["status"] = *in.Status
	}
	if in.StripePriceID != nil {
		updates["stripe_price_id"] = strings.TrimSpace(*in.StripePriceID)
	}
	if len(updates) == 0 {
		return project, nil
	}

	if err := s.db.WithContext(ctx).Model(project).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("updating project: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionProjectUpdate, map[string]interface{}{
		"project_id": projectID,
		"fields":     keys(updates),
	})
	return s.Get(ctx, projectID)
}

func (s *Service) Get(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return &project, nil
}

type Filter struct {
	Status      string
	ProjectType string
}

func (s *Service) List(ctx context.Context, f Filter) ([]models.Project, error) {
	q := s.db.WithContext(ctx).Model(&models.Project{})
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ProjectType != "" {
		q = q.Where("project_type = ?", f.ProjectType)
	}

	var projects []models.Project
	if err := q.Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
