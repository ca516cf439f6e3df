package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/funhub/offers/internal/model"
)

const scheduleColumns = `id, merchant_offer_campaign_id, publish_at, available_at, available_until,
	quantity, status, user_id, created_at, updated_at`

// ScheduleRepository handles campaign schedule data operations
type ScheduleRepository struct {
	db DBExecutor
}

// NewScheduleRepository creates a new schedule repository
func NewScheduleRepository(db DBExecutor) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// CreateSchedules bulk-inserts schedules and assigns their generated IDs.
// Schedules of one campaign have distinct available_at values, which is how
// returned rows are matched back to the input.
func (r *ScheduleRepository) CreateSchedules(ctx context.Context, schedules []*model.Schedule) error {
	if len(schedules) == 0 {
		return nil
	}

	now := time.Now()
	valuesClause := make([]string, len(schedules))
	args := make([]interface{}, 0, len(schedules)*9)

	for i, s := range schedules {
		s.CreatedAt = now
		s.UpdatedAt = now
		n := i * 9
		valuesClause[i] = fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			n+1, n+2, n+3, n+4, n+5, n+6, n+7, n+8, n+9)
		args = append(args, s.CampaignID, s.PublishAt, s.AvailableAt, s.AvailableUntil,
			s.Quantity, s.Status, s.UserID, s.CreatedAt, s.UpdatedAt)
	}

	query := fmt.Sprintf(`
		INSERT INTO merchant_offer_campaign_schedules (
			merchant_offer_campaign_id, publish_at, available_at, available_until,
			quantity, status, user_id, created_at, updated_at
		)
		VALUES %s
		RETURNING id, available_at
	`, strings.Join(valuesClause, ", "))

	var rows []struct {
		ID          int64     `db:"id"`
		AvailableAt time.Time `db:"available_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return fmt.Errorf("failed to insert schedules: %w", err)
	}

	ids := make(map[int64]int64, len(rows))
	for _, row := range rows {
		ids[row.AvailableAt.UnixMicro()] = row.ID
	}
	for _, s := range schedules {
		id, ok := ids[s.AvailableAt.UnixMicro()]
		if !ok {
			return fmt.Errorf("failed to match inserted schedule at %s", s.AvailableAt)
		}
		s.ID = id
	}

	return nil
}

// GetSchedule retrieves a schedule by ID
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id int64) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM merchant_offer_campaign_schedules WHERE id = $1`

	var schedule model.Schedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, notFound(err, "schedule")
	}
	return &schedule, nil
}

// ListSchedules returns a campaign's schedules ordered by availability
func (r *ScheduleRepository) ListSchedules(ctx context.Context, campaignID int64) ([]*model.Schedule, error) {
	query := `
		SELECT ` + scheduleColumns + `
		FROM merchant_offer_campaign_schedules
		WHERE merchant_offer_campaign_id = $1
		ORDER BY available_at ASC, id ASC
	`

	var schedules []*model.Schedule
	if err := r.db.SelectContext(ctx, &schedules, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	return schedules, nil
}

// UpdateSchedule saves window, quantity and status of a schedule
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule *model.Schedule) error {
	query := `
		UPDATE merchant_offer_campaign_schedules
		SET publish_at = $1, available_at = $2, available_until = $3,
			quantity = $4, status = $5, updated_at = $6
		WHERE id = $7
	`

	schedule.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		schedule.PublishAt, schedule.AvailableAt, schedule.AvailableUntil,
		schedule.Quantity, schedule.Status, schedule.UpdatedAt, schedule.ID)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	return expectOne(result, "schedule")
}
