package vouchers

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
	"github.com/hugh/salesdesk/pkg/apperr"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const insertBatchSize = 500

var (
	ErrNotCSV        = apperr.Validation("File must be a CSV", map[string]string{"file": "must have a .csv extension"})
	ErrFileTooLarge  = apperr.Validation("File too large (max 5MB)", map[string]string{"file": "too large"})
	ErrEmptyFile     = apperr.Validation("File is empty", map[string]string{"file": "empty"})
	ErrMissingHeader = apperr.Validation("CSV must have a 'code' column", map[string]string{"file": "missing code column"})
	ErrNoCodes       = apperr.Validation("CSV contains no voucher codes", map[string]string{"file": "no rows"})
)

var unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ImportFile is an uploaded file as received from the HTTP layer.
type ImportFile struct {
	Name string
	Size int64
	Body io.Reader
}

type ImportResult struct {
	Imported   int64  `json:"imported"`
	Duplicates int64  `json:"duplicates"`
	Total      int64  `json:"total"`
	ArchiveURL string `json:"archive_url,omitempty"`
}

type parsedCode struct {
	code      string
	expiresAt *time.Time
}

// Import loads codes from a CSV file. Re-importing the same file is a no-op:
// codes already present for the project are counted as duplicates.
func (s *Service) Import(ctx context.Context, projectID, actorID uuid.UUID, file ImportFile, productName string) (*ImportResult, error) {
	if _, err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	if !strings.EqualFold(path.Ext(file.Name), ".csv") {
		return nil, ErrNotCSV
	}
	if file.Size > s.maxUpload {
		return nil, ErrFileTooLarge
	}

	raw, err := io.ReadAll(io.LimitReader(file.Body, s.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("reading upload: %w", err)
	}
	if int64(len(raw)) > s.maxUpload {
		return nil, ErrFileTooLarge
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyFile
	}

	codes, total, err := parseCSV(raw)
	if err != nil {
		return nil, err
	}

	productName = strings.TrimSpace(productName)
	rows := make([]models.VoucherCode, 0, len(codes))
	for _, c := range codes {
		rows = append(rows, models.VoucherCode{
			Record:      models.Record{ID: uuid.New()},
			ProjectID:   projectID,
			Code:        c.code,
			Status:      models.VoucherAvailable,
			ProductName: productName,
			ExpiresAt:   c.expiresAt,
		})
	}

	var imported int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "code"}},
			DoNothing: true,
		}).CreateInBatches(&rows, insertBatchSize)
		if result.Error != nil {
			return result.Error
		}
		imported = result.RowsAffected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inserting vouchers: %w", err)
	}

	res := &ImportResult{
		Imported:   imported,
		Duplicates: total - imported,
		Total:      total,
	}
	res.ArchiveURL = s.archive(ctx, projectID, file.Name, raw)

	s.logger.Info("vouchers imported",
		"project_id", projectID,
		"imported", res.Imported,
		"duplicates", res.Duplicates,
	)
	s.audit.Record(ctx, actorID, audit.ActionVoucherUpload, map[string]interface{}{
		"project_id":   projectID,
		"file_name":    file.Name,
		"product_name": productName,
		"imported":     res.Imported,
		"duplicates":   res.Duplicates,
		"total":        res.Total,
	})
	return res, nil
}

// archive keeps the raw upload for later reference. Failure only logs.
func (s *Service) archive(ctx context.Context, projectID uuid.UUID, name string, raw []byte) string {
	if s.store == nil {
		return ""
	}
	key := fmt.Sprintf("vouchers/%s/%s-%s", projectID, time.Now().UTC().Format("20060102T150405"),
		unsafeKeyChars.ReplaceAllString(path.Base(name), "_"))
	url, err := s.store.Put(ctx, key, "text/csv", raw)
	if err != nil {
		s.logger.Warn("failed to archive voucher upload", "project_id", projectID, "error", err)
		return ""
	}
	return url
}

// parseCSV reads the header, requires a code column and returns the
// normalised, de-duplicated codes in file order along with the number of
// non-blank rows read. Any row without a code fails the whole file.
func parseCSV(raw []byte) ([]parsedCode, int64, error) {
	raw = bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))

	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, 0, ErrEmptyFile
	}
	if err != nil {
		return nil, 0, apperr.Validation("Invalid CSV: "+err.Error(), nil)
	}

	codeCol, expiresCol := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "code":
			codeCol = i
		case "expires_at":
			expiresCol = i
		}
	}
	if codeCol < 0 {
		return nil, 0, ErrMissingHeader
	}

	seen := make(map[string]struct{})
	var (
		out   []parsedCode
		total int64
	)
	for row := 2; ; row++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, apperr.Validation(fmt.Sprintf("Row %d: invalid CSV: %v", row, err), nil)
		}
		if isBlank(record) {
			continue
		}

		code := ""
		if codeCol < len(record) {
			code = NormalizeCode(record[codeCol])
		}
		if code == "" {
			return nil, 0, apperr.Validation(fmt.Sprintf("Row %d: code is required", row),
				map[string]string{"row": fmt.Sprint(row)})
		}

		var expiresAt *time.Time
		if expiresCol >= 0 && expiresCol < len(record) {
			if v := strings.TrimSpace(record[expiresCol]); v != "" {
				t, err := parseExpiry(v)
				if err != nil {
					return nil, 0, apperr.Validation(fmt.Sprintf("Row %d: invalid expires_at %q", row, v),
						map[string]string{"row": fmt.Sprint(row)})
				}
				expiresAt = &t
			}
		}

		total++
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, parsedCode{code: code, expiresAt: expiresAt})
	}

	if len(out) == 0 {
		return nil, 0, ErrNoCodes
	}
	return out, total, nil
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseExpiry(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
