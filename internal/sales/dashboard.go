// Package sales computes the salesperson dashboard.
package sales

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Period bounds the "period" figures. Zero values default to the start of
// the current month and now.
type Period struct {
	From time.Time
	To   time.Time
}

func (p Period) normalize(now time.Time) Period {
	if p.To.IsZero() {
		p.To = now
	}
	if p.From.IsZero() {
		p.From = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	p.From, p.To = p.From.UTC(), p.To.UTC()
	return p
}

type KPIs struct {
	TotalSales       int64           `json:"total_sales"`
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TotalCommission  decimal.Decimal `json:"total_commission"`
	PeriodSales      int64           `json:"period_sales"`
	PeriodRevenue    decimal.Decimal `json:"period_revenue"`
	PeriodCommission decimal.Decimal `json:"period_commission"`
	ActiveProjects   int64           `json:"active_projects"`
	// ConversionRate is paid sales over all checkouts opened in the period,
	// as a percentage.
	ConversionRate decimal.Decimal `json:"conversion_rate"`
}

type ProjectSales struct {
	Name    string          `json:"name"`
	Revenue decimal.Decimal `json:"revenue"`
	Count   int64           `json:"count"`
}

type TimelinePoint struct {
	CreatedAt   time.Time       `json:"created_at"`
	Amount      decimal.Decimal `json:"amount"`
	ProjectName string          `json:"project_name"`
}

type Dashboard struct {
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	KPIs            KPIs            `json:"kpis"`
	RevenueTimeline []TimelinePoint `json:"revenue_timeline"`
	SalesByProject  []ProjectSales  `json:"sales_by_project"`
}

type saleRow struct {
	CreatedAt        time.Time
	Amount           decimal.Decimal
	CommissionAmount decimal.Decimal
	ProjectName      string
}

// Dashboard returns lifetime and period figures for one salesperson. Only
// succeeded payments count as sales.
func (s *Service) Dashboard(ctx context.Context, salespersonID uuid.UUID, p Period) (*Dashboard, error) {
	p = p.normalize(time.Now().UTC())
	db := s.db.WithContext(ctx)

	var rows []saleRow
	if err := db.Table("sales_transactions AS t").
		Select("t.created_at, t.amount, t.commission_amount, p.name AS project_name").
		Joins("LEFT JOIN projects p ON p.id = t.project_id").
		Where("t.salesperson_id = ? AND t.payment_status = ? AND t.deleted_at IS NULL", salespersonID, models.PaymentSucceeded).
		Order("t.created_at ASC").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("loading sales: %w", err)
	}

	out := &Dashboard{From: p.From, To: p.To, RevenueTimeline: []TimelinePoint{}}
	k := &out.KPIs
	byProject := map[string]*ProjectSales{}

	for _, r := range rows {
		k.TotalSales++
		k.TotalRevenue = k.TotalRevenue.Add(r.Amount)
		k.TotalCommission = k.TotalCommission.Add(r.CommissionAmount)

		if r.CreatedAt.Before(p.From) || r.CreatedAt.After(p.To) {
			continue
		}
		k.PeriodSales++
		k.PeriodRevenue = k.PeriodRevenue.Add(r.Amount)
		k.PeriodCommission = k.PeriodCommission.Add(r.CommissionAmount)

		name := r.ProjectName
		if name == "" {
			name = "Unknown"
		}
		out.RevenueTimeline = append(out.RevenueTimeline, TimelinePoint{CreatedAt: r.CreatedAt, Amount: r.Amount, ProjectName: name})
		ps, ok := byProject[name]
		if !ok {
			ps = &ProjectSales{Name: name}
			byProject[name] = ps
		}
		ps.Revenue = ps.Revenue.Add(r.Amount)
		ps.Count++
	}

	out.SalesByProject = make([]ProjectSales, 0, len(byProject))
	for _, ps := range byProject {
		out.SalesByProject = append(out.SalesByProject, *ps)
	}
	sort.Slice(out.SalesByProject, func(i, j int) bool {
		a, b := out.SalesByProject[i], out.SalesByProject[j]
		if !a.Revenue.Equal(b.Revenue) {
			return a.Revenue.GreaterThan(b.Revenue)
		}
		return a.Name < b.Name
	})

	if err := db.Model(&models.ProjectAssignment{}).
		Where("salesperson_id = ? AND status = ?", salespersonID, models.AssignmentActive).
		Count(&k.ActiveProjects).Error; err != nil {
		return nil, fmt.Errorf("counting active projects: %w", err)
	}

	var submissions int64
	if err := db.Model(&models.SalesTransaction{}).
		Where("salesperson_id = ? AND created_at >= ? AND created_at <= ?", salespersonID, p.From, p.To).
		Count(&submissions).Error; err != nil {
		return nil, fmt.Errorf("counting submissions: %w", err)
	}
	k.ConversionRate = ConversionRate(k.PeriodSales, submissions)

	return out, nil
}

// ConversionRate returns 100 * sales / submissions rounded to two places,
// or zero when there were no submissions.
func ConversionRate(sales, submissions int64) decimal.Decimal {
	if submissions <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(sales).Mul(decimal.NewFromInt(100)).Div(decimal.NewFromInt(submissions)).Round(2)
}
