// Package customers is the admin view of everyone who has bought through a
// payment form.
package customers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/api/validation"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/auth"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrCustomerExists  = apperr.Conflict("A customer with this email already exists")
	ErrNameRequired    = apperr.Validation("Email and name are required", nil)
	ErrInvalidEmail    = apperr.Validation("Invalid email format", map[string]string{"email": "invalid"})
	ErrProjectRequired = apperr.Validation("project_id is required", map[string]string{"project_id": "required"})
	ErrProjectNotFound = apperr.NotFound("Project not found")
	ErrNothingToExport = apperr.NotFound("No transactions found for the specified criteria")
)

const sourceManual = "manual_entry"

type Service struct {
	db     *gorm.DB
	audit  *audit.Log
	logger *slog.Logger
}

func NewService(db *gorm.DB, auditLog *audit.Log, logger *slog.Logger) *Service {
	return &Service{db: db, audit: auditLog, logger: logger}
}

type Filter struct {
	Search    string
	ProjectID uuid.UUID
	Page      int
	PerPage   int
}

// List returns customers newest first. Search matches name, email or phone;
// ProjectID keeps customers with at least one sale in that project.
func (s *Service) List(ctx context.Context, f Filter) ([]models.Customer, int64, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 || f.PerPage > 200 {
		f.PerPage = 50
	}

	q := s.db.WithContext(ctx).Model(&models.Customer{})
	if search := strings.TrimSpace(f.Search); search != "" {
		like := database.ContainsPattern(search)
		q = q.Where("LOWER(name) LIKE ? "+database.LikeEscape+" OR LOWER(email) LIKE ? "+database.LikeEscape+" OR LOWER(phone) LIKE ? "+database.LikeEscape,
			like, like, like)
	}
	if f.ProjectID != uuid.Nil {
		q = q.Where("EXISTS (SELECT 1 FROM sales_transactions t WHERE t.customer_id = customers.id AND t.project_id = ? AND t.deleted_at IS NULL)", f.ProjectID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("counting customers: %w", err)
	}

	var customers []models.Customer
	if err := q.Order("created_at DESC").
		Offset((f.Page - 1) * f.PerPage).
		Limit(f.PerPage).
		Find(&customers).Error; err != nil {
		return nil, 0, fmt.Errorf("listing customers: %w", err)
	}
	return customers, total, nil
}

type CreateInput struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	City    string `json:"city"`
	Country string `json:"country"`
}

func (s *Service) Create(ctx context.Context, actorID uuid.UUID, in CreateInput) (*models.Customer, error) {
	email := auth.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	if email == "" || name == "" {
		return nil, ErrNameRequired
	}
	if !validation.IsValidEmail(email) {
		return nil, ErrInvalidEmail
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Customer{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("checking customer: %w", err)
	}
	if count > 0 {
		return nil, ErrCustomerExists
	}

	customer := &models.Customer{
		Email:   email,
		Name:    validation.CleanText(name, 120),
		Phone:   strings.TrimSpace(in.Phone),
		Address: strings.TrimSpace(in.Address),
		City:    strings.TrimSpace(in.City),
		Country: strings.TrimSpace(in.Country),
		Source:  sourceManual,
	}
	if err := s.db.WithContext(ctx).Create(customer).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrCustomerExists
		}
		return nil, fmt.Errorf("saving customer: %w", err)
	}

	s.audit.Record(ctx, actorID, audit.ActionCustomerCreate, map[string]interface{}{
		"customer_id":    customer.ID,
		"customer_email": customer.Email,
	})
	return customer, nil
}

type ExportFilter struct {
	ProjectID uuid.UUID
	From      *time.Time
	To        *time.Time
}

type exportRow struct {
	CreatedAt         time.Time
	Amount            decimal.Decimal
	CommissionAmount  decimal.Decimal
	PaymentStatus     string
	FulfillmentStatus string
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	CustomerAddress   string
	CustomerCity      string
	SalespersonName   string
	VoucherCode       *string
}

var exportHeader = []string{
	"Date", "Customer Name", "Email", "Phone", "Address", "City", "Amount",
	"Commission", "Salesperson", "Voucher Code", "Payment Status", "Fulfillment Status",
}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9]+`)

// ExportCSV writes the paid sales of a project, with their customers, as
// CSV. It returns the file and a suggested file name.
func (s *Service) ExportCSV(ctx context.Context, actorID uuid.UUID, f ExportFilter) (*bytes.Buffer, string, error) {
	if f.ProjectID == uuid.Nil {
		return nil, "", ErrProjectRequired
	}

	var project models.Project
	err := s.db.WithContext(ctx).First(&project, "id = ?", f.ProjectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrProjectNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("loading project: %w", err)
	}

	q := s.db.WithContext(ctx).Table("sales_transactions AS t").
		Select(`t.created_at, t.amount, t.commission_amount, t.payment_status, t.fulfillment_status,
			c.name AS customer_name, c.email AS customer_email, c.phone AS customer_phone,
			c.address AS customer_address, c.city AS customer_city,
			u.name AS salesperson_name, v.code AS voucher_code`).
		Joins("JOIN customers c ON c.id = t.customer_id").
		Joins("LEFT JOIN users u ON u.id = t.salesperson_id").
		Joins("LEFT JOIN voucher_codes v ON v.id = t.voucher_code_id").
		Where("t.project_id = ? AND t.payment_status = ? AND t.deleted_at IS NULL", f.ProjectID, models.PaymentSucceeded)
	if f.From != nil {
		q = q.Where("t.created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("t.created_at <= ?", f.To.UTC())
	}

	var rows []exportRow
	if err := q.Order("t.created_at DESC").Scan(&rows).Error; err != nil {
		return nil, "", fmt.Errorf("loading sales for export: %w", err)
	}
	if len(rows) == 0 {
		return nil, "", ErrNothingToExport
	}

	buf := &bytes.Buffer{}
	w := csv.NewWriter(buf)
	if err := w.Write(exportHeader); err != nil {
		return nil, "", fmt.Errorf("writing header: %w", err)
	}
	for _, r := range rows {
		code := "N/A"
		if r.VoucherCode != nil && *r.VoucherCode != "" {
			code = *r.VoucherCode
		}
		record := []string{
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.CustomerName,
			r.CustomerEmail,
			r.CustomerPhone,
			r.CustomerAddress,
			r.CustomerCity,
			r.Amount.StringFixed(2),
			r.CommissionAmount.StringFixed(2),
			r.SalespersonName,
			code,
			r.PaymentStatus,
			r.FulfillmentStatus,
		}
		if err := w.Write(record); err != nil {
			return nil, "", fmt.Errorf("writing row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, "", fmt.Errorf("flushing csv: %w", err)
	}

	meta := map[string]interface{}{
		"project_id":   project.ID,
		"project_name": project.Name,
		"record_count": len(rows),
	}
	if f.From != nil {
		meta["date_from"] = f.From.UTC()
	}
	if f.To != nil {
		meta["date_to"] = f.To.UTC()
	}
	s.audit.Record(ctx, actorID, audit.ActionCustomerExport, meta)

	name := strings.Trim(unsafeFilename.ReplaceAllString(project.Name, "-"), "-")
	filename := fmt.Sprintf("customers-%s-%d.csv", name, time.Now().UTC().Unix())
	s.logger.Info("customers exported", "project_id", project.ID, "rows", len(rows))
	return buf, filename, nil
}
