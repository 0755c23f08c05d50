package db

import (
	"context"
	"database/sql"
	"time"

	"coachbook/internal/models"
)

// ListTemplates returns the weekly availability templates keyed by day of
// week (0 = Sunday). At most one row per day of week by schema.
func (db *DB) ListTemplates(ctx context.Context) (map[int]models.AvailabilityTemplate, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT day_of_week, start_time, end_time, is_available
		FROM availability_templates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	templates := make(map[int]models.AvailabilityTemplate)
	for rows.Next() {
		var t models.AvailabilityTemplate
		if err := rows.Scan(&t.DayOfWeek, &t.StartTime, &t.EndTime, &t.IsAvailable); err != nil {
			return nil, err
		}
		templates[t.DayOfWeek] = t
	}
	return templates, rows.Err()
}

// GetTemplate returns the template for one day of week, or nil.
func (db *DB) GetTemplate(ctx context.Context, dayOfWeek int) (*models.AvailabilityTemplate, error) {
	var t models.AvailabilityTemplate
	err := db.QueryRowContext(ctx, `
		SELECT day_of_week, start_time, end_time, is_available
		FROM availability_templates WHERE day_of_week = ?`,
		dayOfWeek,
	).Scan(&t.DayOfWeek, &t.StartTime, &t.EndTime, &t.IsAvailable)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpsertTemplate creates or replaces the template for a day of week.
// Administrative configuration; the booking core only reads templates.
func (db *DB) UpsertTemplate(ctx context.Context, t models.AvailabilityTemplate) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO availability_templates (day_of_week, start_time, end_time, is_available, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(day_of_week) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			is_available = excluded.is_available,
			updated_at = excluded.updated_at`,
		t.DayOfWeek, t.StartTime, t.EndTime, t.IsAvailable, time.Now(),
	)
	return err
}

// ListBlockedDates returns blocked dates within [from, to] as a set.
func (db *DB) ListBlockedDates(ctx context.Context, from, to string) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT date FROM blocked_dates WHERE date >= ? AND date <= ?`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blocked := make(map[string]struct{})
	for rows.Next() {
		var date string
		if err := rows.Scan(&date); err != nil {
			return nil, err
		}
		blocked[date] = struct{}{}
	}
	return blocked, rows.Err()
}

// BlockDate excludes a whole date from booking.
func (db *DB) BlockDate(ctx context.Context, date, reason string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO blocked_dates (date, reason) VALUES (?, ?)
		ON CONFLICT(date) DO UPDATE SET reason = excluded.reason`,
		date, reason,
	)
	return err
}

// UnblockDate removes a blocked date.
func (db *DB) UnblockDate(ctx context.Context, date string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM blocked_dates WHERE date = ?`, date)
	return err
}
