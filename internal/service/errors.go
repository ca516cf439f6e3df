package service

import (
	"errors"
	"fmt"
)

var (
	ErrCampaignNotFound          = errors.New("campaign not found")
	ErrCampaignArchived          = errors.New("campaign is archived")
	ErrOfferNotFound             = errors.New("offer not found")
	ErrOfferNotAvailable         = errors.New("offer is not available for purchase")
	ErrNoStock                   = errors.New("no more vouchers available")
	ErrClaimNotFound             = errors.New("claim not found")
	ErrInvalidClaimState         = errors.New("claim is no longer awaiting payment")
	ErrTransactionNotFound       = errors.New("transaction not found")
	ErrInvalidCallback           = errors.New("invalid payment callback")
	ErrHashMismatch              = errors.New("payment callback hash validation failed")
	ErrUnsupportedPurchaseMethod = errors.New("unsupported purchase method")
)

// ValidationError wraps a rejected command.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// AgreementExceededError rejects a voucher move that would take the target
// campaign past its agreement quantity.
type AgreementExceededError struct {
	AgreementQuantity int
	MaxAllowed        int
	Requested         int
}

func (e *AgreementExceededError) Error() string {
	return fmt.Sprintf("agreement quantity %d exceeded: at most %d vouchers can be moved, %d requested",
		e.AgreementQuantity, e.MaxAllowed, e.Requested)
}
