package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/funhub/offers/internal/metrics"
	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/notify"
	"github.com/funhub/offers/internal/payment"
	"github.com/funhub/offers/internal/repository"
)

// CheckoutResult is a created claim awaiting payment.
type CheckoutResult struct {
	Claim       *model.Claim       `json:"claim"`
	Transaction *model.Transaction `json:"transaction"`
	Payment     payment.Request    `json:"payment"`
}

// CallbackOutcome is the result of applying a gateway callback.
type CallbackOutcome struct {
	TransactionNo       string                  `json:"transaction_no"`
	Status              model.TransactionStatus `json:"status"`
	Message             string                  `json:"message"`
	ClaimID             int64                   `json:"claim_id,omitempty"`
	OfferName           string                  `json:"offer_name,omitempty"`
	RedemptionStartDate *time.Time              `json:"redemption_start_date,omitempty"`
	RedemptionEndDate   *time.Time              `json:"redemption_end_date,omitempty"`
	Replay              bool                    `json:"replay"`
}

// Success reports whether the payment went through.
func (o *CallbackOutcome) Success() bool {
	return o.Status == model.TransactionSuccess
}

// Claims runs the claim lifecycle: checkout, gateway callbacks and
// cancellation.
type Claims struct {
	store    repository.Store
	signer   *payment.Signer
	notifier notify.Notifier
	ids      *snowflake.Node
	log      *zap.Logger
	now      func() time.Time
}

// NewClaims creates a new Claims service
func NewClaims(store repository.Store, signer *payment.Signer, notifier notify.Notifier, ids *snowflake.Node, log *zap.Logger) *Claims {
	return &Claims{
		store:    store,
		signer:   signer,
		notifier: notifier,
		ids:      ids,
		log:      log,
		now:      time.Now,
	}
}

// Checkout reserves one voucher of the offer for the user and opens a
// pending gateway transaction for it.
func (c *Claims) Checkout(ctx context.Context, cmd CheckoutCommand) (*CheckoutResult, error) {
	start := time.Now()
	status := "failed"
	defer func() {
		metrics.RecordCheckoutDuration(status, time.Since(start).Seconds())
	}()

	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if cmd.PurchaseMethod != model.PurchaseFiat {
		return nil, ErrUnsupportedPurchaseMethod
	}

	var res CheckoutResult
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		offer, err := tx.GetOfferForUpdate(ctx, cmd.OfferID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOfferNotFound
			}
			return err
		}
		if !offer.Purchasable(c.now()) {
			return ErrOfferNotAvailable
		}

		voucher, err := tx.ReserveVoucher(ctx, offer.ID, cmd.UserID)
		if err != nil {
			if errors.Is(err, repository.ErrNoAvailableVoucher) {
				return ErrNoStock
			}
			return err
		}
		if _, err := tx.ReconcileOfferQuantity(ctx, offer.ID); err != nil {
			return err
		}

		claim := &model.Claim{
			OfferID:        offer.ID,
			UserID:         cmd.UserID,
			VoucherID:      voucher.ID,
			Quantity:       1,
			Status:         model.ClaimAwaitPayment,
			NetAmount:      offer.DiscountedFiatPrice,
			PurchaseMethod: model.PurchaseFiat,
		}
		if err := tx.CreateClaim(ctx, claim); err != nil {
			return err
		}

		claimID := claim.ID
		txn := &model.Transaction{
			TransactionNo: c.ids.Generate().String(),
			UserID:        cmd.UserID,
			ClaimID:       &claimID,
			Amount:        claim.NetAmount,
			Gateway:       payment.Gateway,
			Status:        model.TransactionPending,
		}
		if err := tx.CreateTransaction(ctx, txn); err != nil {
			return err
		}

		res.Claim = claim
		res.Transaction = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	status = "success"
	metrics.RecordClaimTransition(string(model.ClaimAwaitPayment))
	res.Payment = c.signer.NewRequest(res.Transaction.TransactionNo, res.Transaction.Amount)

	c.log.Info("offer checked out",
		zap.Int64("claim_id", res.Claim.ID),
		zap.Int64("offer_id", cmd.OfferID),
		zap.Int64("user_id", cmd.UserID),
		zap.String("transaction_no", res.Transaction.TransactionNo),
	)
	return &res, nil
}

// HandleCallback verifies a gateway callback and settles the matching
// transaction and claim. Callbacks for transactions that are no longer
// pending are replays: they change nothing and report the stored outcome.
func (c *Claims) HandleCallback(ctx context.Context, cb *payment.Callback) (*CallbackOutcome, error) {
	if cb == nil {
		metrics.RecordPaymentCallback("invalid")
		return nil, ErrInvalidCallback
	}
	if !c.signer.Verify(cb) {
		c.log.Warn("payment callback hash mismatch",
			zap.String("transaction_no", cb.InvoiceNo),
			zap.String("response_code", cb.ResponseCode),
		)
		metrics.RecordPaymentCallback("hash_mismatch")
		return nil, ErrHashMismatch
	}

	var (
		out    *CallbackOutcome
		notice *notify.PurchaseNotification
	)
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.GetTransactionByNoForUpdate(ctx, cb.InvoiceNo)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrTransactionNotFound
			}
			return err
		}
		if txn.ClaimID == nil {
			return ErrClaimNotFound
		}

		claim, err := tx.GetClaimForUpdate(ctx, *txn.ClaimID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrClaimNotFound
			}
			return err
		}
		offer, err := tx.GetOffer(ctx, claim.OfferID)
		if err != nil {
			return err
		}

		if txn.Status != model.TransactionPending {
			out = outcome(txn, claim, offer)
			out.Replay = true
			return nil
		}

		result := cb.Outcome()
		if result == payment.OutcomePending {
			out = outcome(txn, claim, offer)
			return nil
		}
		if cb.Amount != payment.FormatAmount(txn.Amount) {
			return fmt.Errorf("%w: amount %s does not match %s", ErrInvalidCallback, cb.Amount, payment.FormatAmount(txn.Amount))
		}

		code := cb.ResponseCode
		txn.GatewayResponseCode = &code
		if cb.RefNo != "" {
			ref := cb.RefNo
			txn.GatewayRef = &ref
		}

		if result == payment.OutcomeSuccess {
			txn.Status = model.TransactionSuccess
			if err := tx.UpdateTransaction(ctx, txn); err != nil {
				return err
			}
			if err := tx.UpdateClaimStatus(ctx, claim.ID, model.ClaimSuccess); err != nil {
				return err
			}
			claim.Status = model.ClaimSuccess

			notice = &notify.PurchaseNotification{
				ClaimID:       claim.ID,
				OfferID:       offer.ID,
				UserID:        claim.UserID,
				VoucherID:     claim.VoucherID,
				TransactionNo: txn.TransactionNo,
				Amount:        payment.FormatAmount(txn.Amount),
				OfferName:     offer.Name,
				PurchasedAt:   c.now(),
			}
		} else {
			txn.Status = model.TransactionFailed
			if err := tx.UpdateTransaction(ctx, txn); err != nil {
				return err
			}
			if err := c.fail(ctx, tx, claim); err != nil {
				return err
			}
		}

		out = outcome(txn, claim, offer)
		return nil
	})
	if err != nil {
		metrics.RecordPaymentCallback("error")
		c.log.Error("failed to handle payment callback",
			zap.String("transaction_no", cb.InvoiceNo),
			zap.Error(err),
		)
		return nil, err
	}

	switch {
	case out.Replay:
		metrics.RecordPaymentCallback("replay")
	case out.Status == model.TransactionPending:
		metrics.RecordPaymentCallback("pending")
	default:
		metrics.RecordPaymentCallback(string(out.Status))
		if out.Success() {
			metrics.RecordClaimTransition(string(model.ClaimSuccess))
		} else {
			metrics.RecordClaimTransition(string(model.ClaimFailed))
		}
	}

	if notice != nil {
		if err := c.notifier.NotifyPurchase(ctx, *notice); err != nil {
			c.log.Error("failed to send purchase notification",
				zap.Int64("claim_id", notice.ClaimID),
				zap.Error(err),
			)
		}
	}

	c.log.Info("payment callback handled",
		zap.String("transaction_no", out.TransactionNo),
		zap.String("status", string(out.Status)),
		zap.Bool("replay", out.Replay),
	)
	return out, nil
}

// Cancel abandons a claim that is still awaiting payment and returns its
// voucher to stock. Only the claiming user can cancel.
func (c *Claims) Cancel(ctx context.Context, claimID, userID int64) (*model.Claim, error) {
	var claim *model.Claim
	err := c.store.WithTx(ctx, func(tx repository.Tx) error {
		txn, err := tx.GetTransactionByClaimForUpdate(ctx, claimID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		cl, err := tx.GetClaimForUpdate(ctx, claimID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrClaimNotFound
			}
			return err
		}
		if cl.UserID != userID {
			return ErrClaimNotFound
		}
		if cl.Status != model.ClaimAwaitPayment {
			return ErrInvalidClaimState
		}

		if txn != nil && txn.Status == model.TransactionPending {
			txn.Status = model.TransactionFailed
			if err := tx.UpdateTransaction(ctx, txn); err != nil {
				return err
			}
		}
		if err := c.fail(ctx, tx, cl); err != nil {
			return err
		}
		claim = cl
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.RecordClaimTransition(string(model.ClaimFailed))
	c.log.Info("claim cancelled", zap.Int64("claim_id", claimID), zap.Int64("user_id", userID))
	return claim, nil
}

// fail marks the claim failed and returns its voucher to the offer.
func (c *Claims) fail(ctx context.Context, tx repository.Tx, claim *model.Claim) error {
	if err := tx.UpdateClaimStatus(ctx, claim.ID, model.ClaimFailed); err != nil {
		return err
	}
	claim.Status = model.ClaimFailed

	released, err := tx.ReleaseVoucher(ctx, claim.VoucherID, claim.UserID)
	if err != nil {
		return err
	}
	if !released {
		c.log.Warn("claimed voucher no longer owned by claimant",
			zap.Int64("claim_id", claim.ID),
			zap.Int64("voucher_id", claim.VoucherID),
		)
	}

	_, err = tx.ReconcileOfferQuantity(ctx, claim.OfferID)
	return err
}

func outcome(txn *model.Transaction, claim *model.Claim, offer *model.Offer) *CallbackOutcome {
	out := &CallbackOutcome{
		TransactionNo: txn.TransactionNo,
		Status:        txn.Status,
		ClaimID:       claim.ID,
		OfferName:     offer.Name,
	}
	switch txn.Status {
	case model.TransactionSuccess:
		out.Message = "Payment successful"
		start, end := claim.RedemptionWindow(offer.ExpiryDays)
		out.RedemptionStartDate = &start
		out.RedemptionEndDate = &end
	case model.TransactionFailed:
		out.Message = "Payment failed"
	default:
		out.Message = "Payment pending"
	}
	return out
}
