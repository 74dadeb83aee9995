package vouchers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

type Query struct {
	ProductName string
	Status      string
	Search      string
	Page        int
	Limit       int
}

func (q *Query) normalize() error {
	if q.Status != "" && !models.ValidVoucherStatus(q.Status) {
		return apperr.Validation("Invalid status. Must be one of: available, sold, expired, revoked",
			map[string]string{"status": "invalid"})
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultPageSize
	}
	if q.Limit > MaxPageSize {
		q.Limit = MaxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	return nil
}

// InventoryRow is a code joined with the sale that consumed it, if any.
type InventoryRow struct {
	ID              uuid.UUID           `json:"id"`
	Code            string              `json:"code"`
	Status          string              `json:"status"`
	ProductName     string              `json:"product_name,omitempty"`
	SoldAt          *time.Time          `json:"sold_at,omitempty"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	TransactionID   *uuid.UUID          `json:"transaction_id,omitempty"`
	Amount          decimal.NullDecimal `json:"amount"`
	CustomerName    *string             `json:"customer_name,omitempty"`
	CustomerEmail   *string             `json:"customer_email,omitempty"`
	SalespersonName *string             `json:"salesperson_name,omitempty"`
}

type Page struct {
	Items []InventoryRow `json:"items"`
	Total int64          `json:"total"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
}

// List returns a page of the project's codes, newest first.
func (s *Service) List(ctx context.Context, projectID uuid.UUID, q Query) (*Page, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}

	var total int64
	if err := s.filtered(ctx, projectID, q).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("counting vouchers: %w", err)
	}

	rows := make([]InventoryRow, 0, q.Limit)
	err := s.filtered(ctx, projectID, q).
		Select(`v.id, v.code, v.status, v.product_name, v.sold_at, v.expires_at, v.created_at,
			t.id AS transaction_id, t.amount, c.name AS customer_name, c.email AS customer_email,
			u.name AS salesperson_name`).
		Order("v.created_at DESC, v.code ASC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("listing vouchers: %w", err)
	}

	return &Page{Items: rows, Total: total, Page: q.Page, Limit: q.Limit}, nil
}

func (s *Service) filtered(ctx context.Context, projectID uuid.UUID, q Query) *gorm.DB {
	db := s.db.WithContext(ctx).
		Table("voucher_codes AS v").
		Joins("LEFT JOIN sales_transactions t ON t.id = v.transaction_id").
		Joins("LEFT JOIN customers c ON c.id = t.customer_id").
		Joins("LEFT JOIN users u ON u.id = t.salesperson_id").
		Where("v.project_id = ?", projectID)
	if q.ProductName != "" {
		db = db.Where("v.product_name = ?", q.ProductName)
	}
	if q.Status != "" {
		db = db.Where("v.status = ?", q.Status)
	}
	if q.Search != "" {
		db = db.Where("LOWER(v.code) LIKE ? "+database.LikeEscape, database.ContainsPattern(q.Search))
	}
	return db
}

type StatusCounts struct {
	Total     int64 `json:"total"`
	Available int64 `json:"available"`
	Sold      int64 `json:"sold"`
	Expired   int64 `json:"expired"`
	Revoked   int64 `json:"revoked"`
}

func (c *StatusCounts) add(status string, n int64) {
	c.Total += n
	switch models.VoucherStatus(status) {
	case models.VoucherAvailable:
		c.Available += n
	case models.VoucherSold:
		c.Sold += n
	case models.VoucherExpired:
		c.Expired += n
	case models.VoucherRevoked:
		c.Revoked += n
	}
}

type ProductSummary struct {
	ProductName string `json:"product_name"`
	StatusCounts
}

type Summary struct {
	StatusCounts
	Products []ProductSummary `json:"products"`
}

// Summary counts the project's codes by status, overall and per product.
func (s *Service) Summary(ctx context.Context, projectID uuid.UUID) (*Summary, error) {
	if _, err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	var counts []struct {
		ProductName string
		Status      string
		Count       int64
	}
	err := s.db.WithContext(ctx).Model(&models.VoucherCode{}).
		Select("COALESCE(product_name, '') AS product_name, status, COUNT(*) AS count").
		Where("project_id = ?", projectID).
		Group("product_name, status").
		Order("product_name").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("summarising vouchers: %w", err)
	}

	summary := &Summary{Products: []ProductSummary{}}
	index := make(map[string]int)
	for _, c := range counts {
		summary.add(c.Status, c.Count)

		i, ok := index[c.ProductName]
		if !ok {
			i = len(summary.Products)
			index[c.ProductName] = i
			summary.Products = append(summary.Products, ProductSummary{ProductName: c.ProductName})
		}
		summary.Products[i].add(c.Status, c.Count)
	}
	return summary, nil
}
