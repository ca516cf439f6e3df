package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/funhub/offers/internal/model"
)

const campaignColumns = `id, name, description, fine_print, redemption_policy,
	fiat_price, discounted_fiat_price, point_fiat_price, discounted_point_fiat_price,
	expiry_days, start_date, end_date, vouchers_count, days_per_schedule, interval_days,
	available_quantity, agreement_quantity, status, merchant_id, user_id, created_at, updated_at`

// CampaignRepository handles campaign data operations
type CampaignRepository struct {
	db DBExecutor
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db DBExecutor) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// CreateCampaign creates a new campaign
func (r *CampaignRepository) CreateCampaign(ctx context.Context, campaign *model.Campaign) error {
	query := `
		INSERT INTO merchant_offer_campaigns (
			name, description, fine_print, redemption_policy,
			fiat_price, discounted_fiat_price, point_fiat_price, discounted_point_fiat_price,
			expiry_days, start_date, end_date, vouchers_count, days_per_schedule, interval_days,
			available_quantity, agreement_quantity, status, merchant_id, user_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		RETURNING id
	`

	now := time.Now()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now

	err := r.db.GetContext(ctx, &campaign.ID, query,
		campaign.Name, campaign.Description, campaign.FinePrint, campaign.RedemptionPolicy,
		campaign.FiatPrice, campaign.DiscountedFiatPrice, campaign.PointFiatPrice, campaign.DiscountedPointFiatPrice,
		campaign.ExpiryDays, campaign.StartDate, campaign.EndDate, campaign.VouchersCount,
		campaign.DaysPerSchedule, campaign.IntervalDays, campaign.AvailableQuantity,
		campaign.AgreementQuantity, campaign.Status, campaign.MerchantID, campaign.UserID,
		campaign.CreatedAt, campaign.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetCampaign retrieves a campaign by ID
func (r *CampaignRepository) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM merchant_offer_campaigns WHERE id = $1`

	var campaign model.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		return nil, notFound(err, "campaign")
	}

	return &campaign, nil
}

// GetCampaignForUpdate retrieves a campaign by ID and locks its row
func (r *CampaignRepository) GetCampaignForUpdate(ctx context.Context, id int64) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM merchant_offer_campaigns WHERE id = $1 FOR UPDATE`

	var campaign model.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		return nil, notFound(err, "campaign")
	}

	return &campaign, nil
}

// UpdateCampaign saves the editable campaign fields
func (r *CampaignRepository) UpdateCampaign(ctx context.Context, campaign *model.Campaign) error {
	query := `
		UPDATE merchant_offer_campaigns
		SET name = $1, description = $2, fine_print = $3, redemption_policy = $4,
			fiat_price = $5, discounted_fiat_price = $6, point_fiat_price = $7,
			discounted_point_fiat_price = $8, expiry_days = $9, end_date = $10,
			agreement_quantity = $11, status = $12, updated_at = $13
		WHERE id = $14
	`

	campaign.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		campaign.Name, campaign.Description, campaign.FinePrint, campaign.RedemptionPolicy,
		campaign.FiatPrice, campaign.DiscountedFiatPrice, campaign.PointFiatPrice,
		campaign.DiscountedPointFiatPrice, campaign.ExpiryDays, campaign.EndDate,
		campaign.AgreementQuantity, campaign.Status, campaign.UpdatedAt, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	return expectOne(result, "campaign")
}
