package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/repository"
)

// memState is the in-memory database behind memStore.
type memState struct {
	nextID    int64
	campaigns map[int64]model.Campaign
	schedules map[int64]model.Schedule
	offers    map[int64]model.Offer
	vouchers  map[int64]model.Voucher
	claims    map[int64]model.Claim
	txns      map[int64]model.Transaction
	movements []model.VoucherMovement
}

func newMemState() *memState {
	return &memState{
		campaigns: map[int64]model.Campaign{},
		schedules: map[int64]model.Schedule{},
		offers:    map[int64]model.Offer{},
		vouchers:  map[int64]model.Voucher{},
		claims:    map[int64]model.Claim{},
		txns:      map[int64]model.Transaction{},
	}
}

// clone copies the state. Pointer fields are never written through, so a
// shallow copy of each row is enough.
func (s *memState) clone() *memState {
	c := newMemState()
	c.nextID = s.nextID
	for k, v := range s.campaigns {
		c.campaigns[k] = v
	}
	for k, v := range s.schedules {
		c.schedules[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	c.movements = append(c.movements, s.movements...)
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

// memStore is a transactional in-memory repository.Store. Transactions run
// one at a time on a copy of the state that replaces it on commit.
type memStore struct {
	mu        sync.Mutex
	state     *memState
	commits   int
	rollbacks int

	// fail, when set, is consulted before every operation.
	fail func(op string) error
}

func newMemStore() *memStore {
	return &memStore{state: newMemState()}
}

func (m *memStore) WithTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	work := m.state.clone()
	committed := false
	defer func() {
		if !committed {
			m.rollbacks++
		}
	}()

	if err := fn(&memTx{s: work, store: m}); err != nil {
		return err
	}
	m.state = work
	m.commits++
	committed = true
	return nil
}

// snapshot returns the committed state.
func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

type memTx struct {
	s     *memState
	store *memStore
}

var _ repository.Tx = (*memTx)(nil)

func (t *memTx) check(op string) error {
	if t.store.fail != nil {
		return t.store.fail(op)
	}
	return nil
}

func (t *memTx) CreateCampaign(ctx context.Context, c *model.Campaign) error {
	if err := t.check("CreateCampaign"); err != nil {
		return err
	}
	c.ID = t.s.id()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	t.s.campaigns[c.ID] = *c
	return nil
}

func (t *memTx) GetCampaign(ctx context.Context, id int64) (*model.Campaign, error) {
	if err := t.check("GetCampaign"); err != nil {
		return nil, err
	}
	c, ok := t.s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign: %w", repository.ErrNotFound)
	}
	return &c, nil
}

func (t *memTx) GetCampaignForUpdate(ctx context.Context, id int64) (*model.Campaign, error) {
	return t.GetCampaign(ctx, id)
}

func (t *memTx) UpdateCampaign(ctx context.Context, c *model.Campaign) error {
	if err := t.check("UpdateCampaign"); err != nil {
		return err
	}
	if _, ok := t.s.campaigns[c.ID]; !ok {
		return fmt.Errorf("campaign: %w", repository.ErrNotFound)
	}
	t.s.campaigns[c.ID] = *c
	return nil
}

func (t *memTx) CreateSchedules(ctx context.Context, schedules []*model.Schedule) error {
	if err := t.check("CreateSchedules"); err != nil {
		return err
	}
	for _, s := range schedules {
		s.ID = t.s.id()
		t.s.schedules[s.ID] = *s
	}
	return nil
}

func (t *memTx) GetSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	s, ok := t.s.schedules[id]
	if !ok {
		return nil, fmt.Errorf("schedule: %w", repository.ErrNotFound)
	}
	return &s, nil
}

func (t *memTx) ListSchedules(ctx context.Context, campaignID int64) ([]*model.Schedule, error) {
	var out []*model.Schedule
	for _, s := range t.s.schedules {
		if s.CampaignID == campaignID {
			s := s
			out = append(out, &s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) UpdateSchedule(ctx context.Context, s *model.Schedule) error {
	if err := t.check("UpdateSchedule"); err != nil {
		return err
	}
	t.s.schedules[s.ID] = *s
	return nil
}

func (t *memTx) CreateOffer(ctx context.Context, o *model.Offer) error {
	if err := t.check("CreateOffer"); err != nil {
		return err
	}
	o.ID = t.s.id()
	o.Quantity = 0
	t.s.offers[o.ID] = *o
	return nil
}

func (t *memTx) GetOffer(ctx context.Context, id int64) (*model.Offer, error) {
	o, ok := t.s.offers[id]
	if !ok {
		return nil, fmt.Errorf("offer: %w", repository.ErrNotFound)
	}
	return &o, nil
}

func (t *memTx) GetOfferForUpdate(ctx context.Context, id int64) (*model.Offer, error) {
	return t.GetOffer(ctx, id)
}

func (t *memTx) GetOfferBySchedule(ctx context.Context, scheduleID int64) (*model.Offer, error) {
	for _, o := range t.s.offers {
		if o.ScheduleID != nil && *o.ScheduleID == scheduleID {
			return &o, nil
		}
	}
	return nil, fmt.Errorf("offer: %w", repository.ErrNotFound)
}

// UpdateOffer keeps the stored quantity, matching the SQL repository.
func (t *memTx) UpdateOffer(ctx context.Context, o *model.Offer) error {
	if err := t.check("UpdateOffer"); err != nil {
		return err
	}
	stored, ok := t.s.offers[o.ID]
	if !ok {
		return fmt.Errorf("offer: %w", repository.ErrNotFound)
	}
	row := *o
	row.Quantity = stored.Quantity
	t.s.offers[o.ID] = row
	return nil
}

func (t *memTx) ReconcileOfferQuantity(ctx context.Context, offerID int64) (int, error) {
	if err := t.check("ReconcileOfferQuantity"); err != nil {
		return 0, err
	}
	o, ok := t.s.offers[offerID]
	if !ok {
		return 0, fmt.Errorf("offer: %w", repository.ErrNotFound)
	}
	o.Quantity = t.s.unclaimed(offerID)
	t.s.offers[offerID] = o
	return o.Quantity, nil
}

func (s *memState) unclaimed(offerID int64) int {
	n := 0
	for _, v := range s.vouchers {
		if v.OfferID == offerID && v.OwnedByID == nil {
			n++
		}
	}
	return n
}

func (s *memState) claimed(offerID int64) int {
	n := 0
	for _, v := range s.vouchers {
		if v.OfferID == offerID && v.OwnedByID != nil {
			n++
		}
	}
	return n
}

func (t *memTx) InsertVouchers(ctx context.Context, offerID int64, codes []string) ([]string, error) {
	if err := t.check("InsertVouchers"); err != nil {
		return nil, err
	}
	used := make(map[string]bool, len(t.s.vouchers))
	for _, v := range t.s.vouchers {
		used[v.Code] = true
	}
	var rejected []string
	for _, code := range codes {
		if used[code] {
			rejected = append(rejected, code)
			continue
		}
		used[code] = true
		id := t.s.id()
		t.s.vouchers[id] = model.Voucher{ID: id, OfferID: offerID, Code: code, CreatedAt: time.Now()}
	}
	return rejected, nil
}

func (t *memTx) CountUnclaimedVouchers(ctx context.Context, offerID int64) (int, error) {
	return t.s.unclaimed(offerID), nil
}

func (t *memTx) CountClaimedVouchers(ctx context.Context, offerID int64) (int, error) {
	return t.s.claimed(offerID), nil
}

func (t *memTx) CountCampaignVouchers(ctx context.Context, campaignID int64) (int, error) {
	n := 0
	for _, v := range t.s.vouchers {
		o := t.s.offers[v.OfferID]
		if o.CampaignID != nil && *o.CampaignID == campaignID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteUnclaimedVouchers(ctx context.Context, offerID int64, limit int) (int, error) {
	if err := t.check("DeleteUnclaimedVouchers"); err != nil {
		return 0, err
	}
	// vouchers still referenced by a claim or a movement row are kept
	referenced := map[int64]bool{}
	for _, c := range t.s.claims {
		referenced[c.VoucherID] = true
	}
	for _, mv := range t.s.movements {
		referenced[mv.VoucherID] = true
	}

	var ids []int64
	for id, v := range t.s.vouchers {
		if v.OfferID == offerID && v.OwnedByID == nil && !referenced[id] {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	for _, id := range ids {
		delete(t.s.vouchers, id)
	}
	return len(ids), nil
}

func (t *memTx) ReserveVoucher(ctx context.Context, offerID, userID int64) (*model.Voucher, error) {
	if err := t.check("ReserveVoucher"); err != nil {
		return nil, err
	}
	var best *model.Voucher
	for _, v := range t.s.vouchers {
		if v.OfferID == offerID && v.OwnedByID == nil && (best == nil || v.ID < best.ID) {
			v := v
			best = &v
		}
	}
	if best == nil {
		return nil, repository.ErrNoAvailableVoucher
	}
	owner := userID
	best.OwnedByID = &owner
	t.s.vouchers[best.ID] = *best
	return best, nil
}

func (t *memTx) ReleaseVoucher(ctx context.Context, voucherID, userID int64) (bool, error) {
	if err := t.check("ReleaseVoucher"); err != nil {
		return false, err
	}
	v, ok := t.s.vouchers[voucherID]
	if !ok || v.OwnedByID == nil || *v.OwnedByID != userID {
		return false, nil
	}
	v.OwnedByID = nil
	t.s.vouchers[voucherID] = v
	return true, nil
}

func (t *memTx) LockVouchers(ctx context.Context, ids []int64) ([]*model.Voucher, error) {
	var out []*model.Voucher
	for _, id := range ids {
		if v, ok := t.s.vouchers[id]; ok {
			out = append(out, &v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) MoveVoucher(ctx context.Context, voucherID, targetOfferID int64) error {
	if err := t.check("MoveVoucher"); err != nil {
		return err
	}
	v, ok := t.s.vouchers[voucherID]
	if !ok || v.OwnedByID != nil {
		return fmt.Errorf("unclaimed voucher %d: %w", voucherID, repository.ErrNotFound)
	}
	v.OfferID = targetOfferID
	t.s.vouchers[voucherID] = v
	return nil
}

func (t *memTx) CreateClaim(ctx context.Context, c *model.Claim) error {
	if err := t.check("CreateClaim"); err != nil {
		return err
	}
	c.ID = t.s.id()
	c.CreatedAt, c.UpdatedAt = time.Now(), time.Now()
	t.s.claims[c.ID] = *c
	return nil
}

func (t *memTx) GetClaimForUpdate(ctx context.Context, id int64) (*model.Claim, error) {
	c, ok := t.s.claims[id]
	if !ok {
		return nil, fmt.Errorf("claim: %w", repository.ErrNotFound)
	}
	return &c, nil
}

func (t *memTx) UpdateClaimStatus(ctx context.Context, id int64, status model.ClaimStatus) error {
	if err := t.check("UpdateClaimStatus"); err != nil {
		return err
	}
	c, ok := t.s.claims[id]
	if !ok {
		return fmt.Errorf("claim: %w", repository.ErrNotFound)
	}
	c.Status = status
	t.s.claims[id] = c
	return nil
}

func (t *memTx) CreateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := t.check("CreateTransaction"); err != nil {
		return err
	}
	txn.ID = t.s.id()
	t.s.txns[txn.ID] = *txn
	return nil
}

func (t *memTx) GetTransactionByNoForUpdate(ctx context.Context, no string) (*model.Transaction, error) {
	for _, txn := range t.s.txns {
		if txn.TransactionNo == no {
			return &txn, nil
		}
	}
	return nil, fmt.Errorf("transaction: %w", repository.ErrNotFound)
}

func (t *memTx) GetTransactionByClaimForUpdate(ctx context.Context, claimID int64) (*model.Transaction, error) {
	for _, txn := range t.s.txns {
		if txn.ClaimID != nil && *txn.ClaimID == claimID {
			return &txn, nil
		}
	}
	return nil, fmt.Errorf("transaction: %w", repository.ErrNotFound)
}

func (t *memTx) UpdateTransaction(ctx context.Context, txn *model.Transaction) error {
	if err := t.check("UpdateTransaction"); err != nil {
		return err
	}
	t.s.txns[txn.ID] = *txn
	return nil
}

func (t *memTx) CreateMovement(ctx context.Context, mv *model.VoucherMovement) error {
	if err := t.check("CreateMovement"); err != nil {
		return err
	}
	mv.ID = t.s.id()
	t.s.movements = append(t.s.movements, *mv)
	return nil
}

// seedOffer stores a published offer with n unclaimed vouchers, bypassing
// the services.
func (m *memStore) seedOffer(t *testing.T, o model.Offer, n int) int64 {
	t.Helper()
	var id int64
	require.NoError(t, m.WithTx(context.Background(), func(tx repository.Tx) error {
		if err := tx.CreateOffer(context.Background(), &o); err != nil {
			return err
		}
		id = o.ID
		codes := make([]string, n)
		for i := range codes {
			codes[i] = fmt.Sprintf("SEED%d-%d", id, i)
		}
		if _, err := tx.InsertVouchers(context.Background(), id, codes); err != nil {
			return err
		}
		_, err := tx.ReconcileOfferQuantity(context.Background(), id)
		return err
	}))
	return id
}

// requireQuantityConservation checks every offer's quantity against its
// unclaimed vouchers.
func requireQuantityConservation(t *testing.T, m *memStore) {
	t.Helper()
	s := m.snapshot()
	for id, o := range s.offers {
		require.Equal(t, s.unclaimed(id), o.Quantity, "offer %d quantity", id)
	}
}

func (s *memState) vouchersOf(offerID int64) []model.Voucher {
	var out []model.Voucher
	for _, v := range s.vouchers {
		if v.OfferID == offerID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memState) offersOf(campaignID int64) []model.Offer {
	var out []model.Offer
	for _, o := range s.offers {
		if o.CampaignID != nil && *o.CampaignID == campaignID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
