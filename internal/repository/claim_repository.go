package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/funhub/offers/internal/model"
)

const (
	claimColumns = `id, merchant_offer_id, user_id, voucher_id, quantity, status, net_amount,
		purchase_method, created_at, updated_at`

	transactionColumns = `id, transaction_no, user_id, claim_id, amount, gateway, status,
		gateway_ref, gateway_response_code, created_at, updated_at`
)

// ClaimRepository handles offer claims and their payment transactions
type ClaimRepository struct {
	db DBExecutor
}

// NewClaimRepository creates a new claim repository
func NewClaimRepository(db DBExecutor) *ClaimRepository {
	return &ClaimRepository{db: db}
}

// CreateClaim creates a new claim
func (r *ClaimRepository) CreateClaim(ctx context.Context, claim *model.Claim) error {
	query := `
		INSERT INTO merchant_offer_claims (
			merchant_offer_id, user_id, voucher_id, quantity, status, net_amount,
			purchase_method, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	now := time.Now()
	claim.CreatedAt = now
	claim.UpdatedAt = now

	err := r.db.GetContext(ctx, &claim.ID, query,
		claim.OfferID, claim.UserID, claim.VoucherID, claim.Quantity, claim.Status,
		claim.NetAmount, claim.PurchaseMethod, claim.CreatedAt, claim.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create claim: %w", err)
	}

	return nil
}

// GetClaimForUpdate retrieves a claim by ID and locks its row
func (r *ClaimRepository) GetClaimForUpdate(ctx context.Context, id int64) (*model.Claim, error) {
	query := `SELECT ` + claimColumns + ` FROM merchant_offer_claims WHERE id = $1 FOR UPDATE`

	var claim model.Claim
	if err := r.db.GetContext(ctx, &claim, query, id); err != nil {
		return nil, notFound(err, "claim")
	}
	return &claim, nil
}

// UpdateClaimStatus sets the status of a claim
func (r *ClaimRepository) UpdateClaimStatus(ctx context.Context, id int64, status model.ClaimStatus) error {
	query := `UPDATE merchant_offer_claims SET status = $1, updated_at = $2 WHERE id = $3`

	result, err := r.db.ExecContext(ctx, query, status, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update claim status: %w", err)
	}
	return expectOne(result, "claim")
}

// CreateTransaction creates a new payment transaction
func (r *ClaimRepository) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	query := `
		INSERT INTO transactions (
			transaction_no, user_id, claim_id, amount, gateway, status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`

	now := time.Now()
	txn.CreatedAt = now
	txn.UpdatedAt = now

	err := r.db.GetContext(ctx, &txn.ID, query,
		txn.TransactionNo, txn.UserID, txn.ClaimID, txn.Amount, txn.Gateway, txn.Status,
		txn.CreatedAt, txn.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transaction: %w", err)
	}

	return nil
}

// GetTransactionByNoForUpdate retrieves a transaction by its number and locks its row
func (r *ClaimRepository) GetTransactionByNoForUpdate(ctx context.Context, transactionNo string) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_no = $1 FOR UPDATE`

	var txn model.Transaction
	if err := r.db.GetContext(ctx, &txn, query, transactionNo); err != nil {
		return nil, notFound(err, "transaction")
	}
	return &txn, nil
}

// GetTransactionByClaimForUpdate retrieves the transaction of a claim and locks its row
func (r *ClaimRepository) GetTransactionByClaimForUpdate(ctx context.Context, claimID int64) (*model.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE claim_id = $1 FOR UPDATE`

	var txn model.Transaction
	if err := r.db.GetContext(ctx, &txn, query, claimID); err != nil {
		return nil, notFound(err, "transaction")
	}
	return &txn, nil
}

// UpdateTransaction saves the status and gateway fields of a transaction
func (r *ClaimRepository) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $1, gateway_ref = $2, gateway_response_code = $3, updated_at = $4
		WHERE id = $5
	`

	txn.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		txn.Status, txn.GatewayRef, txn.GatewayResponseCode, txn.UpdatedAt, txn.ID)
	if err != nil {
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	return expectOne(result, "transaction")
}
