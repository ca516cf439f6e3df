package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/funhub/offers/internal/model"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrNoAvailableVoucher is returned when an offer has no unclaimed voucher left.
	ErrNoAvailableVoucher = errors.New("no available vouchers")
)

// DBExecutor interface for database operations (can be *sqlx.DB or *sqlx.Tx)
type DBExecutor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Tx is the set of data operations available inside one database transaction.
// Methods suffixed ForUpdate take row locks held until the transaction ends.
type Tx interface {
	CreateCampaign(ctx context.Context, campaign *model.Campaign) error
	GetCampaign(ctx context.Context, id int64) (*model.Campaign, error)
	GetCampaignForUpdate(ctx context.Context, id int64) (*model.Campaign, error)
	UpdateCampaign(ctx context.Context, campaign *model.Campaign) error

	CreateSchedules(ctx context.Context, schedules []*model.Schedule) error
	GetSchedule(ctx context.Context, id int64) (*model.Schedule, error)
	ListSchedules(ctx context.Context, campaignID int64) ([]*model.Schedule, error)
	UpdateSchedule(ctx context.Context, schedule *model.Schedule) error

	CreateOffer(ctx context.Context, offer *model.Offer) error
	GetOffer(ctx context.Context, id int64) (*model.Offer, error)
	GetOfferForUpdate(ctx context.Context, id int64) (*model.Offer, error)
	GetOfferBySchedule(ctx context.Context, scheduleID int64) (*model.Offer, error)
	UpdateOffer(ctx context.Context, offer *model.Offer) error
	ReconcileOfferQuantity(ctx context.Context, offerID int64) (int, error)

	InsertVouchers(ctx context.Context, offerID int64, codes []string) ([]string, error)
	CountUnclaimedVouchers(ctx context.Context, offerID int64) (int, error)
	CountClaimedVouchers(ctx context.Context, offerID int64) (int, error)
	CountCampaignVouchers(ctx context.Context, campaignID int64) (int, error)
	DeleteUnclaimedVouchers(ctx context.Context, offerID int64, limit int) (int, error)
	ReserveVoucher(ctx context.Context, offerID, userID int64) (*model.Voucher, error)
	ReleaseVoucher(ctx context.Context, voucherID, userID int64) (bool, error)
	LockVouchers(ctx context.Context, ids []int64) ([]*model.Voucher, error)
	MoveVoucher(ctx context.Context, voucherID, targetOfferID int64) error

	CreateClaim(ctx context.Context, claim *model.Claim) error
	GetClaimForUpdate(ctx context.Context, id int64) (*model.Claim, error)
	UpdateClaimStatus(ctx context.Context, id int64, status model.ClaimStatus) error

	CreateTransaction(ctx context.Context, txn *model.Transaction) error
	GetTransactionByNoForUpdate(ctx context.Context, transactionNo string) (*model.Transaction, error)
	GetTransactionByClaimForUpdate(ctx context.Context, claimID int64) (*model.Transaction, error)
	UpdateTransaction(ctx context.Context, txn *model.Transaction) error

	CreateMovement(ctx context.Context, movement *model.VoucherMovement) error
}

// Store runs units of work inside database transactions.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// PostgresStore implements Store on top of sqlx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a new store
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// WithTx runs fn in a transaction, committing when fn returns nil. Any error
// or panic rolls the transaction back.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(bind(tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// repos binds every repository to the same executor.
type repos struct {
	*CampaignRepository
	*ScheduleRepository
	*OfferRepository
	*VoucherRepository
	*ClaimRepository
	*MovementRepository
}

func bind(db DBExecutor) *repos {
	return &repos{
		CampaignRepository: NewCampaignRepository(db),
		ScheduleRepository: NewScheduleRepository(db),
		OfferRepository:    NewOfferRepository(db),
		VoucherRepository:  NewVoucherRepository(db),
		ClaimRepository:    NewClaimRepository(db),
		MovementRepository: NewMovementRepository(db),
	}
}

var _ Tx = (*repos)(nil)

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return fmt.Errorf("failed to get %s: %w", what, err)
}

func expectOne(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
