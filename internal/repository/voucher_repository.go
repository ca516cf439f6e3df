package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/funhub/offers/internal/model"
)

const voucherColumns = `id, merchant_offer_id, owned_by_id, code, imported_code, created_at, updated_at`

// voucherBatchSize keeps batch inserts under the PostgreSQL parameter limit
const voucherBatchSize = 1000

// VoucherRepository handles voucher data operations
type VoucherRepository struct {
	db DBExecutor
}

// NewVoucherRepository creates a new voucher repository
func NewVoucherRepository(db DBExecutor) *VoucherRepository {
	return &VoucherRepository{db: db}
}

// InsertVouchers creates unclaimed vouchers for an offer in batches. Codes
// that already exist are skipped and returned so the caller can regenerate them.
func (r *VoucherRepository) InsertVouchers(ctx context.Context, offerID int64, codes []string) ([]string, error) {
	now := time.Now()
	inserted := make(map[string]struct{}, len(codes))

	for i := 0; i < len(codes); i += voucherBatchSize {
		end := min(i+voucherBatchSize, len(codes))

		got, err := r.insertVoucherBatch(ctx, offerID, codes[i:end], now)
		if err != nil {
			return nil, fmt.Errorf("failed to insert voucher batch: %w", err)
		}
		for _, c := range got {
			inserted[c] = struct{}{}
		}
	}

	var rejected []string
	for _, c := range codes {
		if _, ok := inserted[c]; !ok {
			rejected = append(rejected, c)
		}
	}
	return rejected, nil
}

// insertVoucherBatch inserts a batch of vouchers using a single query
func (r *VoucherRepository) insertVoucherBatch(ctx context.Context, offerID int64, codes []string, createdAt time.Time) ([]string, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	valuesClause := make([]string, len(codes))
	args := make([]interface{}, 0, len(codes)*4)

	for i, code := range codes {
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d)",
			i*4+1, i*4+2, i*4+3, i*4+4)
		args = append(args, offerID, code, createdAt, createdAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO merchant_offer_vouchers (merchant_offer_id, code, created_at, updated_at)
		VALUES %s
		ON CONFLICT (code) DO NOTHING
		RETURNING code
	`, strings.Join(valuesClause, ", "))

	var inserted []string
	if err := r.db.SelectContext(ctx, &inserted, query, args...); err != nil {
		return nil, fmt.Errorf("failed to execute batch insert: %w", err)
	}

	return inserted, nil
}

// CountUnclaimedVouchers counts an offer's vouchers without an owner
func (r *VoucherRepository) CountUnclaimedVouchers(ctx context.Context, offerID int64) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM merchant_offer_vouchers
		WHERE merchant_offer_id = $1 AND owned_by_id IS NULL
	`, offerID)
}

// CountClaimedVouchers counts an offer's vouchers that have an owner
func (r *VoucherRepository) CountClaimedVouchers(ctx context.Context, offerID int64) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM merchant_offer_vouchers
		WHERE merchant_offer_id = $1 AND owned_by_id IS NOT NULL
	`, offerID)
}

// CountCampaignVouchers counts every voucher on any offer of a campaign
func (r *VoucherRepository) CountCampaignVouchers(ctx context.Context, campaignID int64) (int, error) {
	return r.count(ctx, `
		SELECT COUNT(*) FROM merchant_offer_vouchers v
		JOIN merchant_offers o ON o.id = v.merchant_offer_id
		WHERE o.merchant_offer_campaign_id = $1
	`, campaignID)
}

func (r *VoucherRepository) count(ctx context.Context, query string, arg int64) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, query, arg); err != nil {
		return 0, fmt.Errorf("failed to count vouchers: %w", err)
	}
	return n, nil
}

// DeleteUnclaimedVouchers deletes up to limit unclaimed vouchers of an offer,
// newest first. Claimed vouchers are never touched, nor are vouchers that a
// claim or a movement row still references.
func (r *VoucherRepository) DeleteUnclaimedVouchers(ctx context.Context, offerID int64, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	query := `
		DELETE FROM merchant_offer_vouchers
		WHERE id IN (
			SELECT v.id FROM merchant_offer_vouchers v
			WHERE v.merchant_offer_id = $1 AND v.owned_by_id IS NULL
			AND NOT EXISTS (
				SELECT 1 FROM merchant_offer_claims c WHERE c.voucher_id = v.id
			)
			AND NOT EXISTS (
				SELECT 1 FROM merchant_offer_voucher_movements m WHERE m.voucher_id = v.id
			)
			ORDER BY v.id DESC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
	`

	result, err := r.db.ExecContext(ctx, query, offerID, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete unclaimed vouchers: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// ReserveVoucher finds an unclaimed voucher of an offer using SELECT FOR
// UPDATE SKIP LOCKED and assigns it to userID
func (r *VoucherRepository) ReserveVoucher(ctx context.Context, offerID, userID int64) (*model.Voucher, error) {
	query := `
		SELECT ` + voucherColumns + `
		FROM merchant_offer_vouchers
		WHERE merchant_offer_id = $1 AND owned_by_id IS NULL
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`

	var voucher model.Voucher
	if err := r.db.GetContext(ctx, &voucher, query, offerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoAvailableVoucher
		}
		return nil, fmt.Errorf("failed to reserve voucher: %w", err)
	}

	update := `
		UPDATE merchant_offer_vouchers
		SET owned_by_id = $1, updated_at = $2
		WHERE id = $3 AND owned_by_id IS NULL
	`

	now := time.Now()
	result, err := r.db.ExecContext(ctx, update, userID, now, voucher.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark voucher as owned: %w", err)
	}
	if err := expectOne(result, "voucher"); err != nil {
		return nil, err
	}

	voucher.OwnedByID = &userID
	voucher.UpdatedAt = now
	return &voucher, nil
}

// ReleaseVoucher clears the owner of a voucher if it is still owned by userID.
// It reports whether the voucher was released.
func (r *VoucherRepository) ReleaseVoucher(ctx context.Context, voucherID, userID int64) (bool, error) {
	query := `
		UPDATE merchant_offer_vouchers
		SET owned_by_id = NULL, updated_at = $1
		WHERE id = $2 AND owned_by_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, time.Now(), voucherID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to release voucher: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// LockVouchers loads the given vouchers and locks their rows in id order
func (r *VoucherRepository) LockVouchers(ctx context.Context, ids []int64) ([]*model.Voucher, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT ` + voucherColumns + `
		FROM merchant_offer_vouchers
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`

	var vouchers []*model.Voucher
	if err := r.db.SelectContext(ctx, &vouchers, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to lock vouchers: %w", err)
	}
	return vouchers, nil
}

// MoveVoucher reassigns an unclaimed voucher to another offer
func (r *VoucherRepository) MoveVoucher(ctx context.Context, voucherID, targetOfferID int64) error {
	query := `
		UPDATE merchant_offer_vouchers
		SET merchant_offer_id = $1, updated_at = $2
		WHERE id = $3 AND owned_by_id IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, targetOfferID, time.Now(), voucherID)
	if err != nil {
		return fmt.Errorf("failed to move voucher: %w", err)
	}
	return expectOne(result, "voucher")
}
