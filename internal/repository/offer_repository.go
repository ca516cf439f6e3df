package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/funhub/offers/internal/model"
)

const offerColumns = `id, merchant_offer_campaign_id, schedule_id, user_id, name, description,
	fine_print, redemption_policy, fiat_price, discounted_fiat_price, point_fiat_price,
	discounted_point_fiat_price, expiry_days, quantity, status, publish_at, available_at,
	available_until, created_at, updated_at`

// OfferRepository handles merchant offer data operations
type OfferRepository struct {
	db DBExecutor
}

// NewOfferRepository creates a new offer repository
func NewOfferRepository(db DBExecutor) *OfferRepository {
	return &OfferRepository{db: db}
}

// CreateOffer creates a new offer. Quantity starts at zero; it is derived
// from the offer's vouchers by ReconcileOfferQuantity.
func (r *OfferRepository) CreateOffer(ctx context.Context, offer *model.Offer) error {
	query := `
		INSERT INTO merchant_offers (
			merchant_offer_campaign_id, schedule_id, user_id, name, description, fine_print,
			redemption_policy, fiat_price, discounted_fiat_price, point_fiat_price,
			discounted_point_fiat_price, expiry_days, quantity, status, publish_at,
			available_at, available_until, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 0, $13, $14, $15, $16, $17, $18)
		RETURNING id
	`

	now := time.Now()
	offer.CreatedAt = now
	offer.UpdatedAt = now
	offer.Quantity = 0

	err := r.db.GetContext(ctx, &offer.ID, query,
		offer.CampaignID, offer.ScheduleID, offer.UserID, offer.Name, offer.Description,
		offer.FinePrint, offer.RedemptionPolicy, offer.FiatPrice, offer.DiscountedFiatPrice,
		offer.PointFiatPrice, offer.DiscountedPointFiatPrice, offer.ExpiryDays, offer.Status,
		offer.PublishAt, offer.AvailableAt, offer.AvailableUntil, offer.CreatedAt, offer.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}

	return nil
}

// GetOffer retrieves an offer by ID
func (r *OfferRepository) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	return r.getOffer(ctx, `SELECT `+offerColumns+` FROM merchant_offers WHERE id = $1`, id)
}

// GetOfferForUpdate retrieves an offer by ID and locks its row
func (r *OfferRepository) GetOfferForUpdate(ctx context.Context, id int64) (*model.Offer, error) {
	return r.getOffer(ctx, `SELECT `+offerColumns+` FROM merchant_offers WHERE id = $1 FOR UPDATE`, id)
}

// GetOfferBySchedule retrieves the offer backed by a schedule
func (r *OfferRepository) GetOfferBySchedule(ctx context.Context, scheduleID int64) (*model.Offer, error) {
	return r.getOffer(ctx, `SELECT `+offerColumns+` FROM merchant_offers WHERE schedule_id = $1`, scheduleID)
}

func (r *OfferRepository) getOffer(ctx context.Context, query string, arg int64) (*model.Offer, error) {
	var offer model.Offer
	if err := r.db.GetContext(ctx, &offer, query, arg); err != nil {
		return nil, notFound(err, "offer")
	}
	return &offer, nil
}

// UpdateOffer saves display, pricing, window and status fields. Quantity is
// left untouched.
func (r *OfferRepository) UpdateOffer(ctx context.Context, offer *model.Offer) error {
	query := `
		UPDATE merchant_offers
		SET name = $1, description = $2, fine_print = $3, redemption_policy = $4,
			fiat_price = $5, discounted_fiat_price = $6, point_fiat_price = $7,
			discounted_point_fiat_price = $8, expiry_days = $9, status = $10,
			publish_at = $11, available_at = $12, available_until = $13, updated_at = $14
		WHERE id = $15
	`

	offer.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		offer.Name, offer.Description, offer.FinePrint, offer.RedemptionPolicy,
		offer.FiatPrice, offer.DiscountedFiatPrice, offer.PointFiatPrice,
		offer.DiscountedPointFiatPrice, offer.ExpiryDays, offer.Status,
		offer.PublishAt, offer.AvailableAt, offer.AvailableUntil, offer.UpdatedAt, offer.ID)
	if err != nil {
		return fmt.Errorf("failed to update offer: %w", err)
	}

	return expectOne(result, "offer")
}

// ReconcileOfferQuantity recomputes the cached quantity as the number of the
// offer's unclaimed vouchers and returns it.
func (r *OfferRepository) ReconcileOfferQuantity(ctx context.Context, offerID int64) (int, error) {
	query := `
		UPDATE merchant_offers
		SET quantity = (
			SELECT COUNT(*) FROM merchant_offer_vouchers
			WHERE merchant_offer_id = $1 AND owned_by_id IS NULL
		), updated_at = $2
		WHERE id = $1
		RETURNING quantity
	`

	var quantity int
	if err := r.db.GetContext(ctx, &quantity, query, offerID, time.Now()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("offer: %w", ErrNotFound)
		}
		return 0, fmt.Errorf("failed to reconcile offer quantity: %w", err)
	}
	return quantity, nil
}
