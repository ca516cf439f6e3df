// Package schedule partitions a campaign's voucher inventory into
// time-bounded slots.
package schedule

import (
	"errors"
	"time"
)

var (
	ErrInvalidVouchersCount   = errors.New("vouchers count must be positive")
	ErrInvalidQuantity        = errors.New("quantity per schedule must be positive")
	ErrInvalidDaysPerSchedule = errors.New("days per schedule must be positive")
	ErrInvalidInterval        = errors.New("interval days must not be negative")
	ErrEndBeforeStart         = errors.New("end date is before start date")
)

// Params describes a campaign's scheduling inputs.
type Params struct {
	StartDate           time.Time
	EndDate             *time.Time
	VouchersCount       int
	DaysPerSchedule     int
	IntervalDays        int
	QuantityPerSchedule int
}

// Validate checks the parameters before generation.
func (p Params) Validate() error {
	switch {
	case p.VouchersCount < 1:
		return ErrInvalidVouchersCount
	case p.QuantityPerSchedule < 1:
		return ErrInvalidQuantity
	case p.DaysPerSchedule < 1:
		return ErrInvalidDaysPerSchedule
	case p.IntervalDays < 0:
		return ErrInvalidInterval
	case p.EndDate != nil && p.EndDate.Before(p.StartDate):
		return ErrEndBeforeStart
	}
	return nil
}

// Slot is one generated schedule.
type Slot struct {
	PublishAt      time.Time `json:"publish_at"`
	AvailableAt    time.Time `json:"available_at"`
	AvailableUntil time.Time `json:"available_until"`
	Quantity       int       `json:"quantity"`
}

// MaxSlots returns the nominal number of schedules, ceil(vouchers / quantity).
// Generate may emit fewer when the end date cuts the campaign short.
func (p Params) MaxSlots() int {
	if p.QuantityPerSchedule < 1 {
		return 0
	}
	return (p.VouchersCount + p.QuantityPerSchedule - 1) / p.QuantityPerSchedule
}

// Generate computes the ordered list of schedules for p.
func Generate(p Params) ([]Slot, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	count := p.MaxSlots()
	step := p.DaysPerSchedule + p.IntervalDays
	remaining := p.VouchersCount
	slots := make([]Slot, 0, count)

	for i := 0; i < count; i++ {
		start := p.StartDate.AddDate(0, 0, i*step)
		if p.EndDate != nil && start.After(*p.EndDate) {
			// the gap between schedules ran past the end date
			break
		}

		end := endOfDay(start.AddDate(0, 0, p.DaysPerSchedule-1))
		if p.EndDate != nil && end.After(*p.EndDate) {
			end = *p.EndDate
		}

		qty := min(p.QuantityPerSchedule, remaining)
		slots = append(slots, Slot{
			PublishAt:      start,
			AvailableAt:    start,
			AvailableUntil: end,
			Quantity:       qty,
		})
		remaining -= qty

		if remaining <= 0 || (p.EndDate != nil && !end.Before(*p.EndDate)) {
			break
		}
	}

	return slots, nil
}

// Total sums the quantities of slots.
func Total(slots []Slot) int {
	n := 0
	for _, s := range slots {
		n += s.Quantity
	}
	return n
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 0, t.Location())
}
