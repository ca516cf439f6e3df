package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestGenerate_EvenSplit(t *testing.T) {
	slots, err := Generate(Params{
		StartDate:           date(2024, 1, 1),
		VouchersCount:       100,
		DaysPerSchedule:     7,
		IntervalDays:        0,
		QuantityPerSchedule: 50,
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, 50, slots[0].Quantity)
	assert.Equal(t, 50, slots[1].Quantity)
	assert.Equal(t, date(2024, 1, 1), slots[0].AvailableAt)
	assert.Equal(t, date(2024, 1, 8), slots[1].AvailableAt)
	assert.Equal(t, 7*24*time.Hour, slots[1].AvailableAt.Sub(slots[0].AvailableAt))
	assert.Equal(t, time.Date(2024, 1, 7, 23, 59, 59, 0, time.UTC), slots[0].AvailableUntil)
	assert.Equal(t, slots[0].AvailableAt, slots[0].PublishAt)
}

func TestGenerate_Remainder(t *testing.T) {
	slots, err := Generate(Params{
		StartDate:           date(2024, 1, 1),
		VouchersCount:       105,
		DaysPerSchedule:     7,
		QuantityPerSchedule: 50,
	})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, []int{50, 50, 5}, []int{slots[0].Quantity, slots[1].Quantity, slots[2].Quantity})
	assert.Equal(t, 105, Total(slots))
}

func TestGenerate_EndDateTruncatesAndStops(t *testing.T) {
	end := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	slots, err := Generate(Params{
		StartDate:           date(2024, 1, 1),
		EndDate:             ptr(end),
		VouchersCount:       500,
		DaysPerSchedule:     7,
		QuantityPerSchedule: 50,
	})
	require.NoError(t, err)
	require.Len(t, slots, 2)

	last := slots[len(slots)-1]
	assert.Equal(t, end, last.AvailableUntil)
	assert.Equal(t, 100, Total(slots))
	assert.Less(t, Total(slots), 500)
}

func TestGenerate_IntervalGapPastEndDate(t *testing.T) {
	// first slot ends on Jan 7, next would start on Jan 13, after the end date
	slots, err := Generate(Params{
		StartDate:           date(2024, 1, 1),
		EndDate:             ptr(date(2024, 1, 10)),
		VouchersCount:       100,
		DaysPerSchedule:     7,
		IntervalDays:        5,
		QuantityPerSchedule: 10,
	})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.False(t, slots[0].AvailableUntil.Before(slots[0].AvailableAt))
}

func TestGenerate_IntervalSpacing(t *testing.T) {
	slots, err := Generate(Params{
		StartDate:           date(2024, 3, 1),
		VouchersCount:       30,
		DaysPerSchedule:     3,
		IntervalDays:        2,
		QuantityPerSchedule: 10,
	})
	require.NoError(t, err)
	require.Len(t, slots, 3)
	assert.Equal(t, date(2024, 3, 6), slots[1].AvailableAt)
	assert.Equal(t, date(2024, 3, 11), slots[2].AvailableAt)
}

func TestGenerate_SingleSchedule(t *testing.T) {
	slots, err := Generate(Params{
		StartDate:           date(2024, 1, 1),
		VouchersCount:       20,
		DaysPerSchedule:     1,
		QuantityPerSchedule: 50,
	})
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, 20, slots[0].Quantity)
	assert.Equal(t, time.Date(2024, 1, 1, 23, 59, 59, 0, time.UTC), slots[0].AvailableUntil)
}

func TestGenerate_Properties(t *testing.T) {
	cases := []Params{
		{StartDate: date(2024, 1, 1), VouchersCount: 1, DaysPerSchedule: 1, QuantityPerSchedule: 1},
		{StartDate: date(2024, 1, 1), VouchersCount: 99, DaysPerSchedule: 2, IntervalDays: 1, QuantityPerSchedule: 7},
		{StartDate: date(2024, 1, 1), EndDate: ptr(date(2024, 1, 1)), VouchersCount: 10, DaysPerSchedule: 3, QuantityPerSchedule: 3},
		{StartDate: date(2024, 2, 27), EndDate: ptr(date(2024, 3, 20)), VouchersCount: 1000, DaysPerSchedule: 4, IntervalDays: 3, QuantityPerSchedule: 40},
	}

	for _, p := range cases {
		slots, err := Generate(p)
		require.NoError(t, err)
		require.NotEmpty(t, slots)
		assert.LessOrEqual(t, len(slots), p.MaxSlots())
		assert.LessOrEqual(t, Total(slots), p.VouchersCount)

		for i, s := range slots {
			assert.GreaterOrEqual(t, s.Quantity, 0)
			assert.False(t, s.AvailableUntil.Before(s.AvailableAt), "slot %d ends before it starts", i)
			if p.EndDate != nil {
				assert.False(t, s.AvailableUntil.After(*p.EndDate))
			}
			if i > 0 {
				assert.True(t, s.AvailableAt.After(slots[i-1].AvailableAt))
				assert.True(t, s.AvailableAt.After(slots[i-1].AvailableUntil))
			}
		}

		if p.EndDate == nil {
			assert.Equal(t, p.VouchersCount, Total(slots))
		}
	}
}

func TestParams_Validate(t *testing.T) {
	base := Params{StartDate: date(2024, 1, 1), VouchersCount: 1, DaysPerSchedule: 1, QuantityPerSchedule: 1}

	p := base
	p.VouchersCount = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidVouchersCount)

	p = base
	p.QuantityPerSchedule = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidQuantity)

	p = base
	p.DaysPerSchedule = 0
	assert.ErrorIs(t, p.Validate(), ErrInvalidDaysPerSchedule)

	p = base
	p.IntervalDays = -1
	assert.ErrorIs(t, p.Validate(), ErrInvalidInterval)

	p = base
	p.EndDate = ptr(date(2023, 12, 31))
	_, err := Generate(p)
	assert.ErrorIs(t, err, ErrEndBeforeStart)
}
