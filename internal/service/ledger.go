package service

import (
	"context"
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/funhub/offers/internal/metrics"
	"github.com/funhub/offers/internal/model"
	"github.com/funhub/offers/internal/repository"
)

// Ledger moves unclaimed vouchers between offers and records each transfer.
type Ledger struct {
	store repository.Store
	log   *zap.Logger
}

// NewLedger creates a new Ledger
func NewLedger(store repository.Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Move transfers the unclaimed vouchers among cmd.VoucherIDs to the target
// offer. Claimed vouchers and vouchers already on the target are skipped.
// It returns the number of vouchers moved.
func (l *Ledger) Move(ctx context.Context, cmd MoveCommand) (int, error) {
	if err := validateCommand(cmd); err != nil {
		return 0, err
	}

	moved := 0
	err := l.store.WithTx(ctx, func(tx repository.Tx) error {
		vouchers, err := tx.LockVouchers(ctx, dedupe(cmd.VoucherIDs))
		if err != nil {
			return err
		}

		target, err := tx.GetOfferForUpdate(ctx, cmd.TargetOfferID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return ErrOfferNotFound
			}
			return err
		}

		var movable []*model.Voucher
		for _, v := range vouchers {
			if v.Claimed() || v.OfferID == target.ID {
				continue
			}
			movable = append(movable, v)
		}
		if len(movable) == 0 {
			return nil
		}

		sources := make(map[int64]*model.Offer)
		for _, v := range movable {
			if _, ok := sources[v.OfferID]; ok {
				continue
			}
			src, err := tx.GetOffer(ctx, v.OfferID)
			if err != nil {
				return err
			}
			sources[v.OfferID] = src
		}

		if err := l.checkAgreement(ctx, tx, target, movable, sources); err != nil {
			return err
		}

		fromSchedules := make(map[int64]int)
		for _, v := range movable {
			if err := tx.MoveVoucher(ctx, v.ID, target.ID); err != nil {
				return err
			}
			if err := tx.CreateMovement(ctx, &model.VoucherMovement{
				FromOfferID: v.OfferID,
				ToOfferID:   target.ID,
				VoucherID:   v.ID,
				UserID:      cmd.ActorUserID,
				Remarks:     cmd.Remarks,
			}); err != nil {
				return err
			}
			if sources[v.OfferID].ScheduleID != nil {
				fromSchedules[v.OfferID]++
			}
		}

		if _, err := tx.ReconcileOfferQuantity(ctx, target.ID); err != nil {
			return err
		}

		ids := make([]int64, 0, len(sources))
		for id := range sources {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		incoming := 0
		for _, id := range ids {
			quantity, err := tx.ReconcileOfferQuantity(ctx, id)
			if err != nil {
				return err
			}
			src := sources[id]
			if target.ScheduleID == nil || src.ScheduleID == nil {
				continue
			}
			if err := setScheduleQuantity(ctx, tx, *src.ScheduleID, quantity); err != nil {
				return err
			}
			incoming += fromSchedules[id]
		}

		if incoming > 0 {
			s, err := tx.GetSchedule(ctx, *target.ScheduleID)
			if err != nil {
				return err
			}
			s.Quantity += incoming
			if err := tx.UpdateSchedule(ctx, s); err != nil {
				return err
			}
		}

		moved = len(movable)
		return nil
	})
	if err != nil {
		return 0, err
	}

	metrics.RecordVouchersMoved(moved)
	l.log.Info("vouchers moved",
		zap.Int64("target_offer_id", cmd.TargetOfferID),
		zap.Int("requested", len(cmd.VoucherIDs)),
		zap.Int("moved", moved),
		zap.Int64("user_id", cmd.ActorUserID),
	)
	return moved, nil
}

// checkAgreement rejects the batch when vouchers arriving from other
// campaigns would exceed the target campaign's agreement quantity. A zero
// agreement quantity means no cap.
func (l *Ledger) checkAgreement(ctx context.Context, tx repository.Tx, target *model.Offer, movable []*model.Voucher, sources map[int64]*model.Offer) error {
	if target.CampaignID == nil {
		return nil
	}

	incoming := 0
	for _, v := range movable {
		src := sources[v.OfferID]
		if src.CampaignID == nil || *src.CampaignID != *target.CampaignID {
			incoming++
		}
	}
	if incoming == 0 {
		return nil
	}

	campaign, err := tx.GetCampaign(ctx, *target.CampaignID)
	if err != nil {
		return err
	}
	if campaign.AgreementQuantity <= 0 {
		return nil
	}

	current, err := tx.CountCampaignVouchers(ctx, campaign.ID)
	if err != nil {
		return err
	}
	maxAllowed := campaign.AgreementQuantity - current
	if maxAllowed < 0 {
		maxAllowed = 0
	}
	if maxAllowed < incoming {
		return &AgreementExceededError{
			AgreementQuantity: campaign.AgreementQuantity,
			MaxAllowed:        maxAllowed,
			Requested:         incoming,
		}
	}
	return nil
}

func setScheduleQuantity(ctx context.Context, tx repository.Tx, scheduleID int64, quantity int) error {
	s, err := tx.GetSchedule(ctx, scheduleID)
	if err != nil {
		return err
	}
	s.Quantity = quantity
	return tx.UpdateSchedule(ctx, s)
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
