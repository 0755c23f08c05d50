package db

import (
	"context"
	"database/sql"
	"fmt"

	"coachbook/internal/models"
)

// AuditRow is one committed booking in the audit trail.
type AuditRow struct {
	BookingID string
	UserID    string
	UserEmail string
	Date      string
	Time      string
	Duration  int
	EventID   string
	EventURL  string
	BookedAt  string
}

// RecordBooking appends a committed booking to the audit trail. Duplicate
// ids (a retried write) are ignored.
func (db *DB) RecordBooking(ctx context.Context, userID, email string, b models.Booking) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO booking_audit (id, user_id, user_email, date, time, duration, event_id, event_url, booked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		b.ID, userID, email, b.Date, b.Time, b.Duration, b.EventID, b.EventURL, b.BookedAt,
	)
	if err != nil {
		return fmt.Errorf("insert booking audit: %w", err)
	}
	return nil
}

// ListBookingsBetween returns audit rows for dates in [from, to], ordered
// by date and time. Used by the monthly report.
func (db *DB) ListBookingsBetween(ctx context.Context, from, to string) ([]AuditRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, user_id, user_email, date, time, duration, event_id, event_url, booked_at
		FROM booking_audit
		WHERE date >= ? AND date <= ?
		ORDER BY date, time`,
		from, to,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRow
	for rows.Next() {
		var r AuditRow
		var eventID, eventURL sql.NullString
		if err := rows.Scan(&r.BookingID, &r.UserID, &r.UserEmail, &r.Date, &r.Time, &r.Duration, &eventID, &eventURL, &r.BookedAt); err != nil {
			return nil, err
		}
		r.EventID = eventID.String
		r.EventURL = eventURL.String
		out = append(out, r)
	}
	return out, rows.Err()
}
