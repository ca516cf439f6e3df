package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the publication state shared by campaigns, schedules and offers.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	default:
		return false
	}
}

// Campaign represents a merchant offer campaign in the database
type Campaign struct {
	ID                       int64           `db:"id" json:"id"`
	Name                     string          `db:"name" json:"name"`
	Description              string          `db:"description" json:"description"`
	FinePrint                string          `db:"fine_print" json:"fine_print"`
	RedemptionPolicy         string          `db:"redemption_policy" json:"redemption_policy"`
	FiatPrice                decimal.Decimal `db:"fiat_price" json:"fiat_price"`
	DiscountedFiatPrice      decimal.Decimal `db:"discounted_fiat_price" json:"discounted_fiat_price"`
	PointFiatPrice           decimal.Decimal `db:"point_fiat_price" json:"point_fiat_price"`
	DiscountedPointFiatPrice decimal.Decimal `db:"discounted_point_fiat_price" json:"discounted_point_fiat_price"`
	ExpiryDays               int             `db:"expiry_days" json:"expiry_days"`
	StartDate                time.Time       `db:"start_date" json:"start_date"`
	EndDate                  *time.Time      `db:"end_date" json:"end_date,omitempty"`
	VouchersCount            int             `db:"vouchers_count" json:"vouchers_count"`
	DaysPerSchedule          int             `db:"days_per_schedule" json:"days_per_schedule"`
	IntervalDays             int             `db:"interval_days" json:"interval_days"`
	AvailableQuantity        int             `db:"available_quantity" json:"available_quantity"`
	AgreementQuantity        int             `db:"agreement_quantity" json:"agreement_quantity"`
	Status                   Status          `db:"status" json:"status"`
	MerchantID               *int64          `db:"merchant_id" json:"merchant_id,omitempty"`
	UserID                   *int64          `db:"user_id" json:"user_id,omitempty"`
	CreatedAt                time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt                time.Time       `db:"updated_at" json:"updated_at"`
}

// Schedule is one time-bounded slice of a campaign's voucher inventory
type Schedule struct {
	ID             int64     `db:"id" json:"id"`
	CampaignID     int64     `db:"merchant_offer_campaign_id" json:"merchant_offer_campaign_id"`
	PublishAt      time.Time `db:"publish_at" json:"publish_at"`
	AvailableAt    time.Time `db:"available_at" json:"available_at"`
	AvailableUntil time.Time `db:"available_until" json:"available_until"`
	Quantity       int       `db:"quantity" json:"quantity"`
	Status         Status    `db:"status" json:"status"`
	UserID         int64     `db:"user_id" json:"user_id"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Editable reports whether the schedule window lies entirely in the future.
// Schedules that have started or ended are frozen.
func (s *Schedule) Editable(now time.Time) bool {
	return s.AvailableAt.After(now) && s.AvailableUntil.After(now)
}
