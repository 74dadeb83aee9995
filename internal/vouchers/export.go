package vouchers

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const exportSheet = "Vouchers"

var exportHeader = []interface{}{
	"Code", "Status", "Product", "Expires At", "Sold At", "Customer", "Customer Email", "Salesperson", "Amount",
}

// Export renders every code matching q (ignoring paging) as an .xlsx
// workbook. It returns the file and a suggested file name.
func (s *Service) Export(ctx context.Context, projectID uuid.UUID, q Query) (*bytes.Buffer, string, error) {
	project, err := s.requireProject(ctx, projectID)
	if err != nil {
		return nil, "", err
	}
	if err := q.normalize(); err != nil {
		return nil, "", err
	}

	var rows []InventoryRow
	err = s.filtered(ctx, projectID, q).
		Select(`v.id, v.code, v.status, v.product_name, v.sold_at, v.expires_at, v.created_at,
			t.id AS transaction_id, t.amount, c.name AS customer_name, c.email AS customer_email,
			u.name AS salesperson_name`).
		Order("v.created_at ASC, v.code ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, "", fmt.Errorf("loading vouchers for export: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	idx, err := f.NewSheet(exportSheet)
	if err != nil {
		return nil, "", fmt.Errorf("creating sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})

	if err := f.SetSheetRow(exportSheet, "A1", &exportHeader); err != nil {
		return nil, "", fmt.Errorf("writing header: %w", err)
	}
	f.SetCellStyle(exportSheet, "A1", "I1", headerStyle)
	f.SetColWidth(exportSheet, "A", "A", 28)
	f.SetColWidth(exportSheet, "B", "I", 18)

	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []interface{}{
			r.Code, r.Status, r.ProductName,
			formatTime(r.ExpiresAt), formatTime(r.SoldAt),
			deref(r.CustomerName), deref(r.CustomerEmail), deref(r.SalespersonName),
			"",
		}
		if r.Amount.Valid {
			values[8] = r.Amount.Decimal.StringFixed(2)
		}
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			return nil, "", fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		return nil, "", fmt.Errorf("rendering workbook: %w", err)
	}

	name := fmt.Sprintf("vouchers-%s-%s.xlsx", project.Slug, time.Now().UTC().Format("20060102"))
	return buf, name, nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
