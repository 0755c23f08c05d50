package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coachbook/internal/db"

	"github.com/rs/zerolog"
)

// ScheduleLister supplies the committed bookings for a date range.
type ScheduleLister interface {
	ListBookingsBetween(ctx context.Context, from, to string) ([]db.AuditRow, error)
}

// MessageSender delivers a plain text message to the coach.
type MessageSender interface {
	SendMessage(ctx context.Context, text string)
}

// Reminder sends the coach tomorrow's session schedule once a day.
type Reminder struct {
	bookings ScheduleLister
	sender   MessageSender
	hour     int // local hour to send at
	location *time.Location
	logger   *zerolog.Logger
}

func NewReminder(bookings ScheduleLister, sender MessageSender, hour int, location *time.Location, logger *zerolog.Logger) *Reminder {
	if hour < 0 || hour > 23 {
		hour = 18
	}
	if location == nil {
		location = time.UTC
	}
	return &Reminder{
		bookings: bookings,
		sender:   sender,
		hour:     hour,
		location: location,
		logger:   logger,
	}
}

// Run blocks until ctx is done, firing once a day at the configured hour.
func (r *Reminder) Run(ctx context.Context) {
	timer := time.NewTimer(r.untilNextHour())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			r.sendTomorrowSchedule(ctx)
			timer.Reset(24 * time.Hour)
		}
	}
}

func (r *Reminder) sendTomorrowSchedule(ctx context.Context) {
	tomorrow := time.Now().In(r.location).AddDate(0, 0, 1).Format("2006-01-02")

	rows, err := r.bookings.ListBookingsBetween(ctx, tomorrow, tomorrow)
	if err != nil {
		r.logger.Error().Err(err).Msg("reminder: list bookings")
		return
	}
	if len(rows) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Sessions tomorrow (%s):\n", tomorrow)
	for _, row := range rows {
		fmt.Fprintf(&b, "%s  %d min  %s\n", row.Time, row.Duration, row.UserEmail)
	}
	r.sender.SendMessage(ctx, b.String())
	r.logger.Info().Int("sessions", len(rows)).Str("date", tomorrow).Msg("reminder sent")
}

func (r *Reminder) untilNextHour() time.Duration {
	now := time.Now().In(r.location)
	next := time.Date(now.Year(), now.Month(), now.Day(), r.hour, 0, 0, 0, r.location)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
