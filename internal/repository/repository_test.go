package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funhub/offers/internal/model"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

var voucherRowColumns = []string{"id", "merchant_offer_id", "owned_by_id", "code", "imported_code", "created_at", "updated_at"}

func TestPostgresStore_WithTx(t *testing.T) {
	t.Run("commits on success", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM merchant_offer_vouchers`).
			WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectCommit()

		var got int
		err := NewPostgresStore(db).WithTx(context.Background(), func(tx Tx) error {
			var err error
			got, err = tx.CountUnclaimedVouchers(context.Background(), 7)
			return err
		})

		require.NoError(t, err)
		assert.Equal(t, 3, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err := NewPostgresStore(db).WithTx(context.Background(), func(tx Tx) error {
			return boom
		})

		assert.ErrorIs(t, err, boom)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoucherRepository_ReserveVoucher(t *testing.T) {
	t.Run("reserves the first unclaimed voucher", func(t *testing.T) {
		db, mock := newMockDB(t)
		now := time.Now()

		mock.ExpectQuery(`SELECT .* FROM merchant_offer_vouchers WHERE merchant_offer_id = \$1 AND owned_by_id IS NULL .* FOR UPDATE SKIP LOCKED`).
			WithArgs(int64(10)).
			WillReturnRows(sqlmock.NewRows(voucherRowColumns).AddRow(int64(55), int64(10), nil, "2024ABCD12", nil, now, now))
		mock.ExpectExec(`UPDATE merchant_offer_vouchers SET owned_by_id = \$1`).
			WithArgs(int64(99), sqlmock.AnyArg(), int64(55)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		v, err := NewVoucherRepository(db).ReserveVoucher(context.Background(), 10, 99)

		require.NoError(t, err)
		assert.Equal(t, int64(55), v.ID)
		require.NotNil(t, v.OwnedByID)
		assert.Equal(t, int64(99), *v.OwnedByID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports exhaustion", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
			WithArgs(int64(10)).
			WillReturnError(sql.ErrNoRows)

		v, err := NewVoucherRepository(db).ReserveVoucher(context.Background(), 10, 99)

		assert.Nil(t, v)
		assert.ErrorIs(t, err, ErrNoAvailableVoucher)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoucherRepository_InsertVouchers(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`INSERT INTO merchant_offer_vouchers .* ON CONFLICT \(code\) DO NOTHING RETURNING code`).
		WillReturnRows(sqlmock.NewRows([]string{"code"}).AddRow("2024AAAA10").AddRow("2024CCCC30"))

	rejected, err := NewVoucherRepository(db).InsertVouchers(context.Background(), 3,
		[]string{"2024AAAA10", "2024BBBB20", "2024CCCC30"})

	require.NoError(t, err)
	assert.Equal(t, []string{"2024BBBB20"}, rejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVoucherRepository_ReleaseVoucher(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec(`UPDATE merchant_offer_vouchers SET owned_by_id = NULL`).
		WithArgs(sqlmock.AnyArg(), int64(5), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := NewVoucherRepository(db).ReleaseVoucher(context.Background(), 5, 8)

	require.NoError(t, err)
	assert.False(t, released)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVoucherRepository_DeleteUnclaimedVouchers(t *testing.T) {
	db, mock := newMockDB(t)

	// referenced vouchers stay so claims and movements keep their rows
	mock.ExpectExec(`DELETE FROM merchant_offer_vouchers WHERE id IN \( SELECT v.id FROM merchant_offer_vouchers v ` +
		`WHERE v.merchant_offer_id = \$1 AND v.owned_by_id IS NULL ` +
		`AND NOT EXISTS \( SELECT 1 FROM merchant_offer_claims c WHERE c.voucher_id = v.id \) ` +
		`AND NOT EXISTS \( SELECT 1 FROM merchant_offer_voucher_movements m WHERE m.voucher_id = v.id \) ` +
		`ORDER BY v.id DESC LIMIT \$2 FOR UPDATE SKIP LOCKED \)`).
		WithArgs(int64(4), 6).
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := NewVoucherRepository(db).DeleteUnclaimedVouchers(context.Background(), 4, 6)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestVoucherRepository_DeleteUnclaimedVouchersNothingToDelete(t *testing.T) {
	db, _ := newMockDB(t)

	n, err := NewVoucherRepository(db).DeleteUnclaimedVouchers(context.Background(), 4, 0)

	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestVoucherRepository_LockVouchers(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	owner := int64(3)

	mock.ExpectQuery(`WHERE id = ANY\(\$1\) ORDER BY id ASC FOR UPDATE`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(voucherRowColumns).
			AddRow(int64(1), int64(10), nil, "2024AAAA10", nil, now, now).
			AddRow(int64(2), int64(10), owner, "2024BBBB20", nil, now, now))

	vouchers, err := NewVoucherRepository(db).LockVouchers(context.Background(), []int64{2, 1})

	require.NoError(t, err)
	require.Len(t, vouchers, 2)
	assert.False(t, vouchers[0].Claimed())
	assert.True(t, vouchers[1].Claimed())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferRepository_ReconcileOfferQuantity(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery(`UPDATE merchant_offers SET quantity = \( SELECT COUNT\(\*\) FROM merchant_offer_vouchers .* RETURNING quantity`).
		WithArgs(int64(12), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"quantity"}).AddRow(41))

	q, err := NewOfferRepository(db).ReconcileOfferQuantity(context.Background(), 12)

	require.NoError(t, err)
	assert.Equal(t, 41, q)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOfferRepository_ReconcileOfferQuantityErrors(t *testing.T) {
	t.Run("missing offer", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE merchant_offers SET quantity`).
			WithArgs(int64(12), sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		_, err := NewOfferRepository(db).ReconcileOfferQuantity(context.Background(), 12)

		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update failure", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`UPDATE merchant_offers SET quantity`).
			WithArgs(int64(12), sqlmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))

		_, err := NewOfferRepository(db).ReconcileOfferQuantity(context.Background(), 12)

		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Contains(t, err.Error(), "failed to reconcile offer quantity")
	})
}

func TestScheduleRepository_CreateSchedules(t *testing.T) {
	db, mock := newMockDB(t)
	day1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	day8 := day1.AddDate(0, 0, 7)

	// rows come back out of order and are matched by available_at
	mock.ExpectQuery(`INSERT INTO merchant_offer_campaign_schedules .* RETURNING id, available_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "available_at"}).
			AddRow(int64(21), day8).
			AddRow(int64(20), day1))

	schedules := []*model.Schedule{
		{CampaignID: 1, PublishAt: day1, AvailableAt: day1, AvailableUntil: day1.AddDate(0, 0, 6), Quantity: 50, Status: model.StatusDraft},
		{CampaignID: 1, PublishAt: day8, AvailableAt: day8, AvailableUntil: day8.AddDate(0, 0, 6), Quantity: 50, Status: model.StatusDraft},
	}

	require.NoError(t, NewScheduleRepository(db).CreateSchedules(context.Background(), schedules))
	assert.Equal(t, int64(20), schedules[0].ID)
	assert.Equal(t, int64(21), schedules[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCampaignRepository(t *testing.T) {
	t.Run("create returns id", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`INSERT INTO merchant_offer_campaigns .* RETURNING id`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

		c := &model.Campaign{
			Name:                "Coffee",
			FiatPrice:           decimal.NewFromInt(20),
			DiscountedFiatPrice: decimal.NewFromInt(10),
			StartDate:           time.Now(),
			VouchersCount:       10,
			DaysPerSchedule:     1,
			AvailableQuantity:   10,
			Status:              model.StatusDraft,
		}
		require.NoError(t, NewCampaignRepository(db).CreateCampaign(context.Background(), c))
		assert.Equal(t, int64(9), c.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("get missing campaign", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(`SELECT .* FROM merchant_offer_campaigns WHERE id = \$1`).
			WithArgs(int64(404)).
			WillReturnError(sql.ErrNoRows)

		c, err := NewCampaignRepository(db).GetCampaign(context.Background(), 404)
		assert.Nil(t, c)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update missing campaign", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(`UPDATE merchant_offer_campaigns SET`).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewCampaignRepository(db).UpdateCampaign(context.Background(), &model.Campaign{ID: 404})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClaimRepository_Transactions(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	claimID := int64(4)

	mock.ExpectQuery(`SELECT .* FROM transactions WHERE transaction_no = \$1 FOR UPDATE`).
		WithArgs("T100").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "transaction_no", "user_id", "claim_id", "amount", "gateway", "status",
			"gateway_ref", "gateway_response_code", "created_at", "updated_at",
		}).AddRow(int64(1), "T100", int64(8), claimID, "12.50", "mpay", "pending", nil, nil, now, now))
	mock.ExpectExec(`UPDATE transactions SET status = \$1`).
		WithArgs(model.TransactionSuccess, "REF1", "0", sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewClaimRepository(db)
	txn, err := repo.GetTransactionByNoForUpdate(context.Background(), "T100")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("12.50").Equal(txn.Amount))
	assert.Equal(t, model.TransactionPending, txn.Status)

	ref, code := "REF1", "0"
	txn.Status = model.TransactionSuccess
	txn.GatewayRef = &ref
	txn.GatewayResponseCode = &code
	require.NoError(t, repo.UpdateTransaction(context.Background(), txn))
	assert.NoError(t, mock.ExpectationsWereMet())
}
