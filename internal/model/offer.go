package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is the customer-facing sellable unit backed by one schedule.
// Quantity caches the number of unclaimed vouchers and is only written by
// reconciliation.
type Offer struct {
	ID                       int64           `db:"id" json:"id"`
	CampaignID               *int64          `db:"merchant_offer_campaign_id" json:"merchant_offer_campaign_id,omitempty"`
	ScheduleID               *int64          `db:"schedule_id" json:"schedule_id,omitempty"`
	UserID                   int64           `db:"user_id" json:"user_id"`
	Name                     string          `db:"name" json:"name"`
	Description              string          `db:"description" json:"description"`
	FinePrint                string          `db:"fine_print" json:"fine_print"`
	RedemptionPolicy         string          `db:"redemption_policy" json:"redemption_policy"`
	FiatPrice                decimal.Decimal `db:"fiat_price" json:"fiat_price"`
	DiscountedFiatPrice      decimal.Decimal `db:"discounted_fiat_price" json:"discounted_fiat_price"`
	PointFiatPrice           decimal.Decimal `db:"point_fiat_price" json:"point_fiat_price"`
	DiscountedPointFiatPrice decimal.Decimal `db:"discounted_point_fiat_price" json:"discounted_point_fiat_price"`
	ExpiryDays               int             `db:"expiry_days" json:"expiry_days"`
	Quantity                 int             `db:"quantity" json:"quantity"`
	Status                   Status          `db:"status" json:"status"`
	PublishAt                time.Time       `db:"publish_at" json:"publish_at"`
	AvailableAt              time.Time       `db:"available_at" json:"available_at"`
	AvailableUntil           time.Time       `db:"available_until" json:"available_until"`
	CreatedAt                time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time       `db:"updated_at" json:"updated_at"`
}

// Purchasable reports whether the offer can be checked out at now.
func (o *Offer) Purchasable(now time.Time) bool {
	if o.Status != StatusPublished {
		return false
	}
	return !now.Before(o.AvailableAt) && !now.After(o.AvailableUntil)
}

// CopyFromCampaign copies the display and pricing fields of c onto the offer.
func (o *Offer) CopyFromCampaign(c *Campaign) {
	id := c.ID
	o.CampaignID = &id
	o.Name = c.Name
	o.Description = c.Description
	o.FinePrint = c.FinePrint
	o.RedemptionPolicy = c.RedemptionPolicy
	o.FiatPrice = c.FiatPrice
	o.DiscountedFiatPrice = c.DiscountedFiatPrice
	o.PointFiatPrice = c.PointFiatPrice
	o.DiscountedPointFiatPrice = c.DiscountedPointFiatPrice
	o.ExpiryDays = c.ExpiryDays
}

// CopyWindow copies the availability window of s onto the offer.
func (o *Offer) CopyWindow(s *Schedule) {
	id := s.ID
	o.ScheduleID = &id
	o.PublishAt = s.PublishAt
	o.AvailableAt = s.AvailableAt
	o.AvailableUntil = s.AvailableUntil
}

// Voucher is an individual redeemable code owned by an offer.
// OwnedByID is nil while the voucher is unclaimed.
type Voucher struct {
	ID           int64     `db:"id" json:"id"`
	OfferID      int64     `db:"merchant_offer_id" json:"merchant_offer_id"`
	OwnedByID    *int64    `db:"owned_by_id" json:"owned_by_id,omitempty"`
	Code         string    `db:"code" json:"code"`
	ImportedCode *string   `db:"imported_code" json:"imported_code,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// Claimed reports whether the voucher has an owner.
func (v *Voucher) Claimed() bool {
	return v.OwnedByID != nil
}

// VoucherMovement is the audit record of an administrative voucher transfer
type VoucherMovement struct {
	ID          int64     `db:"id" json:"id"`
	FromOfferID int64     `db:"from_merchant_offer_id" json:"from_merchant_offer_id"`
	ToOfferID   int64     `db:"to_merchant_offer_id" json:"to_merchant_offer_id"`
	VoucherID   int64     `db:"voucher_id" json:"voucher_id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	Remarks     string    `db:"remarks" json:"remarks"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
