// Package payment handles the MPay gateway contract: callback payload parsing
// and secure hash computation.
package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Gateway is the name recorded on transactions paid through MPay.
const Gateway = "mpay"

// Response codes sent by the gateway.
const (
	ResponseSuccess = "0"
	ResponsePending = "PE"
)

// ErrMissingField is returned when a required callback field is absent.
var ErrMissingField = errors.New("missing callback field")

// Callback is the payload the gateway posts after a payment attempt.
type Callback struct {
	MID          string
	ResponseCode string
	AuthCode     string
	Amount       string
	InvoiceNo    string
	ResponseDesc string
	TranDate     string
	PaymentType  string
	SecureHash   string
	RefNo        string // optional mpay_ref_no
}

// Outcome classifies the response code.
type Outcome int

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
	OutcomePending
)

// Outcome returns how the callback should be applied.
func (c *Callback) Outcome() Outcome {
	switch c.ResponseCode {
	case ResponseSuccess:
		return OutcomeSuccess
	case ResponsePending:
		return OutcomePending
	default:
		return OutcomeFailure
	}
}

var requiredFields = []string{
	"mid", "responseCode", "authCode", "amt", "invno",
	"responseDesc", "tranDate", "paymentType", "securehash2",
}

// ParseCallback reads a callback from form values. Every field except
// mpay_ref_no is required.
func ParseCallback(form url.Values) (*Callback, error) {
	for _, f := range requiredFields {
		if _, ok := form[f]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, f)
		}
	}

	return &Callback{
		MID:          form.Get("mid"),
		ResponseCode: form.Get("responseCode"),
		AuthCode:     form.Get("authCode"),
		Amount:       form.Get("amt"),
		InvoiceNo:    form.Get("invno"),
		ResponseDesc: form.Get("responseDesc"),
		TranDate:     form.Get("tranDate"),
		PaymentType:  form.Get("paymentType"),
		SecureHash:   form.Get("securehash2"),
		RefNo:        form.Get("mpay_ref_no"),
	}, nil
}

// Signer computes and verifies MPay secure hashes for one merchant.
type Signer struct {
	MID     string
	HashKey string
}

// NewSigner creates a signer
func NewSigner(mid, hashKey string) *Signer {
	return &Signer{MID: mid, HashKey: hashKey}
}

// CallbackHash returns the expected securehash2 for a callback.
func (s *Signer) CallbackHash(mid, responseCode, authCode, invoiceNo, amount string) string {
	return s.sum(mid, responseCode, authCode, invoiceNo, amount)
}

// Verify reports whether the callback's securehash2 matches.
func (s *Signer) Verify(c *Callback) bool {
	want := s.CallbackHash(c.MID, c.ResponseCode, c.AuthCode, c.InvoiceNo, c.Amount)
	got := strings.ToLower(strings.TrimSpace(c.SecureHash))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// RequestHash returns the secure hash sent with an outgoing payment request.
func (s *Signer) RequestHash(invoiceNo string, amount decimal.Decimal) string {
	return s.sum(s.MID, invoiceNo, FormatAmount(amount))
}

func (s *Signer) sum(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(s.HashKey))
	for _, p := range parts {
		h.Write([]byte("|"))
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FormatAmount renders an amount the way the gateway expects it, with two decimals.
func FormatAmount(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

// Request is what the client needs to redirect the user to the gateway.
type Request struct {
	MID        string `json:"mid"`
	InvoiceNo  string `json:"invno"`
	Amount     string `json:"amt"`
	SecureHash string `json:"securehash"`
}

// NewRequest builds a signed payment request.
func (s *Signer) NewRequest(invoiceNo string, amount decimal.Decimal) Request {
	return Request{
		MID:        s.MID,
		InvoiceNo:  invoiceNo,
		Amount:     FormatAmount(amount),
		SecureHash: s.RequestHash(invoiceNo, amount),
	}
}
