package vouchers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hugh/salesdesk/internal/audit"
	"github.com/hugh/salesdesk/internal/database/models"
)

// ExpireStale moves available codes past their expiry to expired and
// returns how many changed. Reservation already skips such codes; the sweep
// only keeps the stored status honest for reporting.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	result := s.db.WithContext(ctx).Model(&models.VoucherCode{}).
		Where("status = ? AND expires_at IS NOT NULL AND expires_at <= ?", models.VoucherAvailable, now.UTC()).
		Update("status", models.VoucherExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("expiring vouchers: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.logger.Info("expired stale vouchers", "count", result.RowsAffected)
		s.audit.Record(ctx, uuid.Nil, audit.ActionVoucherExpired, map[string]interface{}{
			"count": result.RowsAffected,
		})
	}
	return result.RowsAffected, nil
}
