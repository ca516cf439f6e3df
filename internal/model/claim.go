package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ClaimStatus is the lifecycle state of an offer claim.
type ClaimStatus string

const (
	ClaimAwaitPayment ClaimStatus = "await_payment"
	ClaimSuccess      ClaimStatus = "success"
	ClaimFailed       ClaimStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimSuccess || s == ClaimFailed
}

// PurchaseMethod is how the user pays for an offer.
type PurchaseMethod string

const (
	PurchaseFiat   PurchaseMethod = "fiat"
	PurchasePoints PurchaseMethod = "points"
)

// TransactionStatus is the payment state of a gateway transaction.
type TransactionStatus string

const (
	TransactionPending TransactionStatus = "pending"
	TransactionSuccess TransactionStatus = "success"
	TransactionFailed  TransactionStatus = "failed"
)

// Claim is a user's purchase attempt on an offer
type Claim struct {
	ID             int64           `db:"id" json:"id"`
	OfferID        int64           `db:"merchant_offer_id" json:"merchant_offer_id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	VoucherID      int64           `db:"voucher_id" json:"voucher_id"`
	Quantity       int             `db:"quantity" json:"quantity"`
	Status         ClaimStatus     `db:"status" json:"status"`
	NetAmount      decimal.Decimal `db:"net_amount" json:"net_amount"`
	PurchaseMethod PurchaseMethod  `db:"purchase_method" json:"purchase_method"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// RedemptionWindow returns the period in which a successful claim can be
// redeemed, starting at the claim time and lasting expiryDays.
func (c *Claim) RedemptionWindow(expiryDays int) (time.Time, time.Time) {
	start := c.CreatedAt
	return start, start.AddDate(0, 0, expiryDays)
}

// Transaction is a payment gateway transaction linked to a claim
type Transaction struct {
	ID                  int64             `db:"id" json:"id"`
	TransactionNo       string            `db:"transaction_no" json:"transaction_no"`
	UserID              int64             `db:"user_id" json:"user_id"`
	ClaimID             *int64            `db:"claim_id" json:"claim_id,omitempty"`
	Amount              decimal.Decimal   `db:"amount" json:"amount"`
	Gateway             string            `db:"gateway" json:"gateway"`
	Status              TransactionStatus `db:"status" json:"status"`
	GatewayRef          *string           `db:"gateway_ref" json:"gateway_ref,omitempty"`
	GatewayResponseCode *string           `db:"gateway_response_code" json:"gateway_response_code,omitempty"`
	CreatedAt           time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time         `db:"updated_at" json:"updated_at"`
}
