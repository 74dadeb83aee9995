package vouchers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/database"
	"github.com/hugh/salesdesk/internal/database/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	claimAttempts  = 5
	claimBatchSize = 5
)

// ReserveFilter narrows which code may be claimed. A zero TransactionID
// claims the code without linking it to a sale.
type ReserveFilter struct {
	ProductName   string
	TransactionID uuid.UUID
}

// Reserve claims the oldest reservable code of the project. Concurrent
// callers never receive the same code: the claim is a conditional update
// that only succeeds while the row is still available, and losers move on
// to the next candidate.
func (s *Service) Reserve(ctx context.Context, projectID uuid.UUID, f ReserveFilter) (*models.VoucherCode, error) {
	var claimed *models.VoucherCode
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		v, err := reserve(tx, projectID, f, time.Now().UTC())
		if err != nil {
			return err
		}
		claimed = v
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("voucher reserved",
		"project_id", projectID,
		"voucher_id", claimed.ID,
		"transaction_id", f.TransactionID,
	)
	return claimed, nil
}

// CountAvailable returns how many codes could be reserved right now.
func (s *Service) CountAvailable(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var count int64
	err := candidates(s.db.WithContext(ctx), projectID, "", time.Now().UTC()).
		Model(&models.VoucherCode{}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting available vouchers: %w", err)
	}
	return count, nil
}

// candidates scopes a query to codes that are available and not past their
// expiry, whether or not the sweep has run yet.
func candidates(db *gorm.DB, projectID uuid.UUID, productName string, now time.Time) *gorm.DB {
	q := db.Where("project_id = ? AND status = ? AND (expires_at IS NULL OR expires_at > ?)",
		projectID, models.VoucherAvailable, now)
	if productName != "" {
		q = q.Where("product_name = ?", productName)
	}
	return q
}

func reserve(tx *gorm.DB, projectID uuid.UUID, f ReserveFilter, now time.Time) (*models.VoucherCode, error) {
	for attempt := 0; attempt < claimAttempts; attempt++ {
		q := candidates(tx, projectID, f.ProductName, now).
			Order("created_at ASC, id ASC").
			Limit(claimBatchSize)
		if database.IsPostgres(tx) {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var batch []models.VoucherCode
		if err := q.Find(&batch).Error; err != nil {
			return nil, fmt.Errorf("selecting voucher candidates: %w", err)
		}
		if len(batch) == 0 {
			return nil, ErrNoAvailableCode
		}

		for i := range batch {
			v := &batch[i]
			updates := map[string]interface{}{
				"status":  models.VoucherSold,
				"sold_at": now,
			}
			if f.TransactionID != uuid.Nil {
				updates["transaction_id"] = f.TransactionID
			}

			result := tx.Model(&models.VoucherCode{}).
				Where("id = ? AND status = ?", v.ID, models.VoucherAvailable).
				Updates(updates)
			if result.Error != nil {
				return nil, fmt.Errorf("claiming voucher: %w", result.Error)
			}
			if result.RowsAffected != 1 {
				continue
			}

			if f.TransactionID != uuid.Nil {
				if err := link(tx, f.TransactionID, v.ID); err != nil {
					return nil, err
				}
				txID := f.TransactionID
				v.TransactionID = &txID
			}
			v.Status = models.VoucherSold
			v.SoldAt = &now
			return v, nil
		}
	}
	return nil, ErrNoAvailableCode
}

func link(tx *gorm.DB, transactionID, voucherID uuid.UUID) error {
	result := tx.Model(&models.SalesTransaction{}).
		Where("id = ? AND voucher_code_id IS NULL", transactionID).
		Update("voucher_code_id", voucherID)
	if result.Error != nil {
		return fmt.Errorf("linking voucher to transaction: %w", result.Error)
	}
	if result.RowsAffected != 1 {
		return ErrTransactionLinked
	}
	return nil
}
