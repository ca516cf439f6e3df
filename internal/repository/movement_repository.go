package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/funhub/offers/internal/model"
)

// MovementRepository records voucher movements between offers
type MovementRepository struct {
	db DBExecutor
}

// NewMovementRepository creates a new movement repository
func NewMovementRepository(db DBExecutor) *MovementRepository {
	return &MovementRepository{db: db}
}

// CreateMovement writes an audit row for one moved voucher
func (r *MovementRepository) CreateMovement(ctx context.Context, movement *model.VoucherMovement) error {
	query := `
		INSERT INTO merchant_offer_voucher_movements (
			from_merchant_offer_id, to_merchant_offer_id, voucher_id, user_id, remarks, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	movement.CreatedAt = time.Now()
	err := r.db.GetContext(ctx, &movement.ID, query,
		movement.FromOfferID, movement.ToOfferID, movement.VoucherID,
		movement.UserID, movement.Remarks, movement.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create voucher movement: %w", err)
	}
	return nil
}
