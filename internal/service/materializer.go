package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/funhub/offers/internal/metrics"
	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/repository"
	"github.com/funhub/offers/internal/schedule"
	"github.com/funhub/offers/internal/vouchercode"
)

// Result reports what a create or update run did. Counts only include work
// that was committed.
type Result struct {
	CampaignID       int64    `json:"campaign_id"`
	OfferIDs         []int64  `json:"offer_ids"`
	OffersCreated    int      `json:"offers_created"`
	OffersUpdated    int      `json:"offers_updated"`
	OffersArchived   int      `json:"offers_archived"`
	SchedulesSkipped int      `json:"schedules_skipped"`
	VouchersCreated  int      `json:"vouchers_created"`
	VouchersDeleted  int      `json:"vouchers_deleted"`
	DurationSeconds  float64  `json:"duration_seconds"`
	Success          bool     `json:"success"`
	Errors           []string `json:"errors"`
}

func (r *Result) refuse(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Materializer turns campaigns into schedules, offers and vouchers.
type Materializer struct {
	store repository.Store
	codes *vouchercode.Generator
	log   *zap.Logger
	now   func() time.Time
}

// NewMaterializer creates a new Materializer
func NewMaterializer(store repository.Store, codes *vouchercode.Generator, log *zap.Logger) *Materializer {
	return &Materializer{
		store: store,
		codes: codes,
		log:   log,
		now:   time.Now,
	}
}

// PreviewSchedules returns the slots a campaign would be split into without
// persisting anything.
func (m *Materializer) PreviewSchedules(cmd CampaignCreateCommand) ([]schedule.Slot, error) {
	slots, err := schedule.Generate(cmd.ScheduleParams())
	if err != nil {
		return nil, &ValidationError{Err: err}
	}
	return slots, nil
}

// Create stores a campaign with its schedules, then materializes one offer
// per schedule with its vouchers. The campaign and schedules are committed
// before offers are created; a failure while materializing rolls back the
// offers and vouchers only and is reported in the Result.
func (m *Materializer) Create(ctx context.Context, cmd CampaignCreateCommand, actorUserID int64) (*model.Campaign, *Result, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, nil, err
	}
	if err := cmd.OfferDetails.check(); err != nil {
		return nil, nil, err
	}
	if actorUserID <= 0 {
		return nil, nil, &ValidationError{Err: errors.New("actor user id is required")}
	}

	slots, err := schedule.Generate(cmd.ScheduleParams())
	if err != nil {
		return nil, nil, &ValidationError{Err: err}
	}

	campaign := cmd.campaign()
	var schedules []*model.Schedule
	err = m.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.CreateCampaign(ctx, campaign); err != nil {
			return err
		}

		schedules = make([]*model.Schedule, 0, len(slots))
		for _, slot := range slots {
			schedules = append(schedules, &model.Schedule{
				CampaignID:     campaign.ID,
				PublishAt:      slot.PublishAt,
				AvailableAt:    slot.AvailableAt,
				AvailableUntil: slot.AvailableUntil,
				Quantity:       slot.Quantity,
				Status:         model.StatusDraft,
				UserID:         actorUserID,
			})
		}
		return tx.CreateSchedules(ctx, schedules)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to save campaign: %w", err)
	}

	m.log.Info("campaign saved",
		zap.Int64("campaign_id", campaign.ID),
		zap.Int("schedules", len(schedules)),
	)

	result := m.run(ctx, "create", campaign.ID, func(tx repository.Tx, res *Result) error {
		for _, s := range schedules {
			n, err := m.createOffer(ctx, tx, campaign, s, actorUserID, res)
			if err != nil {
				return fmt.Errorf("schedule %d: %w", s.ID, err)
			}
			res.OffersCreated++
			res.VouchersCreated += n
		}
		return nil
	})
	return campaign, result, nil
}

// Update applies campaign metadata changes, then reconciles every schedule's
// offer and voucher stock against cmd.Schedules. Schedules whose window has
// started are frozen and left untouched.
func (m *Materializer) Update(ctx context.Context, cmd CampaignUpdateCommand, actorUserID int64) (*Result, error) {
	if err := validateCommand(cmd); err != nil {
		return nil, err
	}
	if err := cmd.OfferDetails.check(); err != nil {
		return nil, err
	}
	if actorUserID <= 0 {
		return nil, &ValidationError{Err: errors.New("actor user id is required")}
	}

	var campaign *model.Campaign
	err := m.store.WithTx(ctx, func(tx repository.Tx) error {
		c, err := tx.GetCampaignForUpdate(ctx, cmd.CampaignID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCampaignNotFound
			}
			return err
		}
		if c.Status == model.StatusArchived {
			return ErrCampaignArchived
		}

		cmd.applyTo(c)
		if err := tx.UpdateCampaign(ctx, c); err != nil {
			return err
		}
		campaign = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	result := m.run(ctx, "update", campaign.ID, func(tx repository.Tx, res *Result) error {
		return m.reconcile(ctx, tx, campaign, cmd.Schedules, actorUserID, res)
	})
	return result, nil
}

// Archive archives a campaign with all of its schedules and offers.
// Archiving an archived campaign is a no-op.
func (m *Materializer) Archive(ctx context.Context, campaignID, actorUserID int64) error {
	return m.store.WithTx(ctx, func(tx repository.Tx) error {
		campaign, err := tx.GetCampaignForUpdate(ctx, campaignID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrCampaignNotFound
			}
			return err
		}
		if campaign.Status == model.StatusArchived {
			return nil
		}

		campaign.Status = model.StatusArchived
		if err := tx.UpdateCampaign(ctx, campaign); err != nil {
			return err
		}

		schedules, err := tx.ListSchedules(ctx, campaignID)
		if err != nil {
			return err
		}
		for _, s := range schedules {
			s.Status = model.StatusArchived
			if err := tx.UpdateSchedule(ctx, s); err != nil {
				return err
			}

			offer, err := tx.GetOfferBySchedule(ctx, s.ID)
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			offer.Status = model.StatusArchived
			if err := tx.UpdateOffer(ctx, offer); err != nil {
				return err
			}
		}

		m.log.Info("campaign archived",
			zap.Int64("campaign_id", campaignID),
			zap.Int64("user_id", actorUserID),
			zap.Int("schedules", len(schedules)),
		)
		return nil
	})
}

// ReconcileOffer recomputes an offer's quantity from its unclaimed vouchers.
func (m *Materializer) ReconcileOffer(ctx context.Context, offerID int64) (int, error) {
	var quantity int
	err := m.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := tx.GetOfferForUpdate(ctx, offerID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOfferNotFound
			}
			return err
		}

		q, err := tx.ReconcileOfferQuantity(ctx, offerID)
		if err != nil {
			return err
		}
		quantity = q
		return nil
	})
	return quantity, err
}

// run executes the materialization step in its own transaction. Errors and
// panics roll the step back and are reported in the Result rather than
// returned.
func (m *Materializer) run(ctx context.Context, operation string, campaignID int64, step func(tx repository.Tx, res *Result) error) *Result {
	start := time.Now()
	res := &Result{CampaignID: campaignID}

	err := m.withRecover(func() error {
		return m.store.WithTx(ctx, func(tx repository.Tx) error {
			*res = Result{CampaignID: campaignID}
			return step(tx, res)
		})
	})

	res.DurationSeconds = time.Since(start).Seconds()
	status := "success"
	if err != nil {
		status = "failed"
		*res = Result{
			CampaignID:      campaignID,
			DurationSeconds: res.DurationSeconds,
			Errors:          []string{err.Error()},
		}
		m.log.Error("campaign materialization failed",
			zap.String("operation", operation),
			zap.Int64("campaign_id", campaignID),
			zap.Error(err),
			zap.Stack("stack"),
		)
	} else if len(res.Errors) > 0 {
		status = "partial"
	}
	res.Success = err == nil && len(res.Errors) == 0

	metrics.RecordMaterializeDuration(operation, status, res.DurationSeconds)
	metrics.RecordVouchersCreated(res.VouchersCreated)

	m.log.Info("campaign materialized",
		zap.String("operation", operation),
		zap.Int64("campaign_id", campaignID),
		zap.Int("offers_created", res.OffersCreated),
		zap.Int("offers_updated", res.OffersUpdated),
		zap.Int("offers_archived", res.OffersArchived),
		zap.Int("vouchers_created", res.VouchersCreated),
		zap.Int("vouchers_deleted", res.VouchersDeleted),
		zap.Float64("duration_seconds", res.DurationSeconds),
		zap.Bool("success", res.Success),
	)
	return res
}

func (m *Materializer) withRecover(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during materialization: %v", r)
		}
	}()
	return fn()
}

// createOffer creates the offer of schedule s and fills it with s.Quantity
// fresh vouchers. It returns the number of vouchers created.
func (m *Materializer) createOffer(ctx context.Context, tx repository.Tx, campaign *model.Campaign, s *model.Schedule, actorUserID int64, res *Result) (int, error) {
	offer := &model.Offer{
		UserID: offerOwner(campaign, actorUserID),
		Status: offerStatus(campaign, s),
	}
	offer.CopyFromCampaign(campaign)
	offer.CopyWindow(s)

	if err := tx.CreateOffer(ctx, offer); err != nil {
		return 0, err
	}
	res.OfferIDs = append(res.OfferIDs, offer.ID)

	created, err := m.fill(ctx, tx, offer.ID, s.Quantity)
	if err != nil {
		return created, err
	}

	quantity, err := tx.ReconcileOfferQuantity(ctx, offer.ID)
	if err != nil {
		return created, err
	}
	if quantity != s.Quantity {
		s.Quantity = quantity
		if err := tx.UpdateSchedule(ctx, s); err != nil {
			return created, err
		}
	}
	return created, nil
}

func (m *Materializer) fill(ctx context.Context, tx repository.Tx, offerID int64, n int) (int, error) {
	return m.codes.Unique(ctx, n, func(ctx context.Context, codes []string) ([]string, error) {
		return tx.InsertVouchers(ctx, offerID, codes)
	})
}

// reconcile brings the campaign's schedules in line with desired. A nil
// desired keeps every schedule and its voucher stock as they are and only
// refreshes the offers.
func (m *Materializer) reconcile(ctx context.Context, tx repository.Tx, campaign *model.Campaign, desired []ScheduleInput, actorUserID int64, res *Result) error {
	existing, err := tx.ListSchedules(ctx, campaign.ID)
	if err != nil {
		return err
	}

	keepStock := desired == nil
	if keepStock {
		desired = make([]ScheduleInput, 0, len(existing))
		for _, s := range existing {
			desired = append(desired, ScheduleInput{
				ID:             s.ID,
				PublishAt:      s.PublishAt,
				AvailableAt:    s.AvailableAt,
				AvailableUntil: s.AvailableUntil,
				Quantity:       s.Quantity,
				Status:         s.Status,
			})
		}
	}

	wanted := make(map[int64]ScheduleInput, len(desired))
	for _, in := range desired {
		if in.ID != 0 {
			wanted[in.ID] = in
		}
	}

	now := m.now()
	known := make(map[int64]bool, len(existing))
	for _, s := range existing {
		known[s.ID] = true

		in, keep := wanted[s.ID]
		if !keep {
			if err := m.removeSchedule(ctx, tx, s, now, res); err != nil {
				return fmt.Errorf("schedule %d: %w", s.ID, err)
			}
			continue
		}
		if err := m.updateSchedule(ctx, tx, campaign, s, in, now, keepStock, actorUserID, res); err != nil {
			return fmt.Errorf("schedule %d: %w", s.ID, err)
		}
	}

	for _, in := range desired {
		if in.ID != 0 {
			if !known[in.ID] {
				res.refuse("schedule %d does not belong to campaign %d", in.ID, campaign.ID)
			}
			continue
		}
		if err := m.addSchedule(ctx, tx, campaign, in, actorUserID, res); err != nil {
			return fmt.Errorf("new schedule: %w", err)
		}
	}
	return nil
}

// updateSchedule applies in to an existing schedule and its offer. Unless
// keepStock is set, unclaimed vouchers are created or deleted until the
// offer holds in.Quantity of them.
func (m *Materializer) updateSchedule(ctx context.Context, tx repository.Tx, campaign *model.Campaign, s *model.Schedule, in ScheduleInput, now time.Time, keepStock bool, actorUserID int64, res *Result) error {
	if s.Status == model.StatusArchived {
		if in.Status != "" && in.Status != model.StatusArchived {
			m.log.Warn("refusing to reopen archived schedule",
				zap.Int64("campaign_id", campaign.ID),
				zap.Int64("schedule_id", s.ID),
			)
			res.refuse("schedule %d is archived and cannot be reopened", s.ID)
		}
		return nil
	}
	if !s.Editable(now) {
		m.log.Debug("schedule frozen, skipping",
			zap.Int64("campaign_id", campaign.ID),
			zap.Int64("schedule_id", s.ID),
		)
		res.SchedulesSkipped++
		return nil
	}

	s.PublishAt = in.PublishAt
	s.AvailableAt = in.AvailableAt
	s.AvailableUntil = in.AvailableUntil
	if in.Status != "" {
		s.Status = in.Status
	}

	offer, err := tx.GetOfferBySchedule(ctx, s.ID)
	if errors.Is(err, repository.ErrNotFound) {
		s.Quantity = in.Quantity
		if err := tx.UpdateSchedule(ctx, s); err != nil {
			return err
		}
		n, err := m.createOffer(ctx, tx, campaign, s, actorUserID, res)
		if err != nil {
			return err
		}
		res.OffersCreated++
		res.VouchersCreated += n
		return nil
	}
	if err != nil {
		return err
	}

	offer, err = tx.GetOfferForUpdate(ctx, offer.ID)
	if err != nil {
		return err
	}
	offer.CopyFromCampaign(campaign)
	offer.CopyWindow(s)
	offer.Status = offerStatus(campaign, s)
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return err
	}

	if !keepStock {
		if err := m.adjustStock(ctx, tx, offer.ID, in.Quantity, res); err != nil {
			return err
		}
	}

	quantity, err := tx.ReconcileOfferQuantity(ctx, offer.ID)
	if err != nil {
		return err
	}
	s.Quantity = quantity
	if err := tx.UpdateSchedule(ctx, s); err != nil {
		return err
	}
	res.OffersUpdated++
	return nil
}

// adjustStock creates or deletes unclaimed vouchers until the offer holds
// quantity of them. Vouchers referenced by claims or movements are never
// deleted, so the offer may end up above quantity.
func (m *Materializer) adjustStock(ctx context.Context, tx repository.Tx, offerID int64, quantity int, res *Result) error {
	unclaimed, err := tx.CountUnclaimedVouchers(ctx, offerID)
	if err != nil {
		return err
	}

	switch delta := quantity - unclaimed; {
	case delta > 0:
		n, err := m.fill(ctx, tx, offerID, delta)
		if err != nil {
			return err
		}
		res.VouchersCreated += n
	case delta < 0:
		n, err := tx.DeleteUnclaimedVouchers(ctx, offerID, -delta)
		if err != nil {
			return err
		}
		res.VouchersDeleted += n
	}
	return nil
}

// removeSchedule archives a schedule dropped from the desired set together
// with its offer. Schedules that have started or whose offer has claimed
// vouchers are kept and the refusal is reported.
func (m *Materializer) removeSchedule(ctx context.Context, tx repository.Tx, s *model.Schedule, now time.Time, res *Result) error {
	if s.Status == model.StatusArchived {
		return nil
	}
	if !s.Editable(now) {
		m.log.Warn("refusing to remove started schedule",
			zap.Int64("campaign_id", s.CampaignID),
			zap.Int64("schedule_id", s.ID),
		)
		res.refuse("schedule %d has already started and cannot be removed", s.ID)
		return nil
	}

	offer, err := tx.GetOfferBySchedule(ctx, s.ID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	if offer != nil {
		offer, err = tx.GetOfferForUpdate(ctx, offer.ID)
		if err != nil {
			return err
		}
		claimed, err := tx.CountClaimedVouchers(ctx, offer.ID)
		if err != nil {
			return err
		}
		if claimed > 0 {
			m.log.Warn("refusing to remove schedule with claimed vouchers",
				zap.Int64("campaign_id", s.CampaignID),
				zap.Int64("schedule_id", s.ID),
				zap.Int("claimed", claimed),
			)
			res.refuse("schedule %d has %d claimed vouchers and cannot be removed", s.ID, claimed)
			return nil
		}

		offer.Status = model.StatusArchived
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}
		res.OffersArchived++
	}

	s.Status = model.StatusArchived
	return tx.UpdateSchedule(ctx, s)
}

func (m *Materializer) addSchedule(ctx context.Context, tx repository.Tx, campaign *model.Campaign, in ScheduleInput, actorUserID int64, res *Result) error {
	status := in.Status
	if status == "" {
		status = model.StatusDraft
	}
	s := &model.Schedule{
		CampaignID:     campaign.ID,
		PublishAt:      in.PublishAt,
		AvailableAt:    in.AvailableAt,
		AvailableUntil: in.AvailableUntil,
		Quantity:       in.Quantity,
		Status:         status,
		UserID:         actorUserID,
	}
	if err := tx.CreateSchedules(ctx, []*model.Schedule{s}); err != nil {
		return err
	}

	n, err := m.createOffer(ctx, tx, campaign, s, actorUserID, res)
	if err != nil {
		return err
	}
	res.OffersCreated++
	res.VouchersCreated += n
	return nil
}

// offerOwner is the merchant user when the campaign has one, otherwise the
// admin running the operation.
func offerOwner(campaign *model.Campaign, actorUserID int64) int64 {
	if campaign.UserID != nil {
		return *campaign.UserID
	}
	return actorUserID
}

func offerStatus(campaign *model.Campaign, s *model.Schedule) model.Status {
	if s.Status == model.StatusArchived || campaign.Status == model.StatusArchived {
		return model.StatusArchived
	}
	return campaign.Status
}
