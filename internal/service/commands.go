package service

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/schedule"
)

var validate = validator.New()

func validateCommand(cmd interface{}) error {
	if err := validate.Struct(cmd); err != nil {
		return &ValidationError{Err: err}
	}
	return nil
}

// OfferDetails are the display and pricing fields copied from a campaign to
// each of its offers.
type OfferDetails struct {
	Name                     string          `json:"name" validate:"required,max=255"`
	Description              string          `json:"description"`
	FinePrint                string          `json:"fine_print"`
	RedemptionPolicy         string          `json:"redemption_policy"`
	FiatPrice                decimal.Decimal `json:"fiat_price"`
	DiscountedFiatPrice      decimal.Decimal `json:"discounted_fiat_price"`
	PointFiatPrice           decimal.Decimal `json:"point_fiat_price"`
	DiscountedPointFiatPrice decimal.Decimal `json:"discounted_point_fiat_price"`
	ExpiryDays               int             `json:"expiry_days" validate:"gte=0"`
}

func (d OfferDetails) check() error {
	for _, p := range []decimal.Decimal{d.FiatPrice, d.DiscountedFiatPrice, d.PointFiatPrice, d.DiscountedPointFiatPrice} {
		if p.IsNegative() {
			return &ValidationError{Err: errors.New("prices must not be negative")}
		}
	}
	return nil
}

func (d OfferDetails) applyTo(c *model.Campaign) {
	c.Name = d.Name
	c.Description = d.Description
	c.FinePrint = d.FinePrint
	c.RedemptionPolicy = d.RedemptionPolicy
	c.FiatPrice = d.FiatPrice
	c.DiscountedFiatPrice = d.DiscountedFiatPrice
	c.PointFiatPrice = d.PointFiatPrice
	c.DiscountedPointFiatPrice = d.DiscountedPointFiatPrice
	c.ExpiryDays = d.ExpiryDays
}

// CampaignCreateCommand is the typed admin request to create a campaign.
type CampaignCreateCommand struct {
	OfferDetails

	StartDate           time.Time    `json:"start_date" validate:"required"`
	EndDate             *time.Time   `json:"end_date,omitempty"`
	VouchersCount       int          `json:"vouchers_count" validate:"gte=1"`
	DaysPerSchedule     int          `json:"days_per_schedule" validate:"gte=1"`
	IntervalDays        int          `json:"interval_days" validate:"gte=0"`
	QuantityPerSchedule int          `json:"available_quantity" validate:"gte=1"`
	AgreementQuantity   int          `json:"agreement_quantity" validate:"gte=0"`
	Status              model.Status `json:"status" validate:"omitempty,oneof=draft published"`
	MerchantID          *int64       `json:"merchant_id,omitempty" validate:"required_without=UserID"`
	UserID              *int64       `json:"user_id,omitempty" validate:"required_without=MerchantID"`
}

// ScheduleParams returns the generator inputs of the command.
func (c CampaignCreateCommand) ScheduleParams() schedule.Params {
	return schedule.Params{
		StartDate:           c.StartDate,
		EndDate:             c.EndDate,
		VouchersCount:       c.VouchersCount,
		DaysPerSchedule:     c.DaysPerSchedule,
		IntervalDays:        c.IntervalDays,
		QuantityPerSchedule: c.QuantityPerSchedule,
	}
}

func (c CampaignCreateCommand) campaign() *model.Campaign {
	campaign := &model.Campaign{
		StartDate:         c.StartDate,
		EndDate:           c.EndDate,
		VouchersCount:     c.VouchersCount,
		DaysPerSchedule:   c.DaysPerSchedule,
		IntervalDays:      c.IntervalDays,
		AvailableQuantity: c.QuantityPerSchedule,
		AgreementQuantity: c.AgreementQuantity,
		Status:            c.Status,
		MerchantID:        c.MerchantID,
		UserID:            c.UserID,
	}
	if campaign.Status == "" {
		campaign.Status = model.StatusDraft
	}
	c.OfferDetails.applyTo(campaign)
	return campaign
}

// ScheduleInput is one schedule row of a campaign edit. ID zero adds a new
// schedule.
type ScheduleInput struct {
	ID             int64        `json:"id"`
	PublishAt      time.Time    `json:"publish_at" validate:"required"`
	AvailableAt    time.Time    `json:"available_at" validate:"required"`
	AvailableUntil time.Time    `json:"available_until" validate:"required,gtefield=AvailableAt"`
	Quantity       int          `json:"quantity" validate:"gte=0"`
	Status         model.Status `json:"status" validate:"omitempty,oneof=draft published archived"`
}

// CampaignUpdateCommand is the typed admin request to edit a campaign.
// A nil Schedules keeps the current schedule set; a non-nil one is the full
// desired set, and existing schedules missing from it are removed.
type CampaignUpdateCommand struct {
	OfferDetails

	CampaignID        int64           `json:"campaign_id" validate:"required"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	AgreementQuantity int             `json:"agreement_quantity" validate:"gte=0"`
	Status            model.Status    `json:"status" validate:"omitempty,oneof=draft published"`
	Schedules         []ScheduleInput `json:"schedules,omitempty" validate:"omitempty,dive"`
}

func (c CampaignUpdateCommand) applyTo(campaign *model.Campaign) {
	c.OfferDetails.applyTo(campaign)
	campaign.EndDate = c.EndDate
	campaign.AgreementQuantity = c.AgreementQuantity
	if c.Status != "" {
		campaign.Status = c.Status
	}
}

// CheckoutCommand starts a claim on an offer.
type CheckoutCommand struct {
	OfferID        int64                `json:"offer_id" validate:"required"`
	UserID         int64                `json:"user_id" validate:"required"`
	PurchaseMethod model.PurchaseMethod `json:"purchase_method" validate:"required,oneof=fiat points"`
}

// MoveCommand transfers unclaimed vouchers to another offer.
type MoveCommand struct {
	VoucherIDs    []int64 `json:"voucher_ids" validate:"required,min=1,dive,gt=0"`
	TargetOfferID int64   `json:"merchant_offer_id" validate:"required"`
	ActorUserID   int64   `json:"-" validate:"required"`
	Remarks       string  `json:"remarks" validate:"max=1000"`
}
