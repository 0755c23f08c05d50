package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"coachbook/internal/db"

	"github.com/rs/zerolog"
)

// BookingLister supplies audit rows for a date range.
type BookingLister interface {
	ListBookingsBetween(ctx context.Context, from, to string) ([]db.AuditRow, error)
}

// DocumentSender delivers the generated report.
type DocumentSender interface {
	SendDocument(ctx context.Context, filename string, r io.Reader, caption string) error
}

// Service generates and delivers the monthly booking report.
type Service struct {
	bookings BookingLister
	sender   DocumentSender
	logger   *zerolog.Logger
}

func NewService(bookings BookingLister, sender DocumentSender, logger *zerolog.Logger) *Service {
	return &Service{bookings: bookings, sender: sender, logger: logger}
}

// Monthly builds the report for one calendar month.
func (s *Service) Monthly(ctx context.Context, year int, month time.Month) (*bytes.Buffer, string, error) {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	rows, err := s.bookings.ListBookingsBetween(ctx, first.Format("2006-01-02"), last.Format("2006-01-02"))
	if err != nil {
		return nil, "", fmt.Errorf("list bookings: %w", err)
	}

	w := NewWriter()
	defer w.Close()

	if err := w.AddSheet("Bookings"); err != nil {
		return nil, "", err
	}
	if err := w.WriteHeader([]string{"Date", "Time", "Duration", "Client", "Event"}); err != nil {
		return nil, "", err
	}
	for _, r := range rows {
		if err := w.WriteRow([]interface{}{r.Date, r.Time, r.Duration, r.UserEmail, r.EventURL}); err != nil {
			return nil, "", err
		}
	}

	var buf bytes.Buffer
	if err := w.Save(&buf); err != nil {
		return nil, "", fmt.Errorf("save report: %w", err)
	}

	filename := fmt.Sprintf("bookings-%04d-%02d.xlsx", year, month)
	return &buf, filename, nil
}

// SendMonthly generates the report and sends it to the coach.
func (s *Service) SendMonthly(ctx context.Context, year int, month time.Month) error {
	buf, filename, err := s.Monthly(ctx, year, month)
	if err != nil {
		return err
	}
	if s.sender == nil {
		return nil
	}
	caption := fmt.Sprintf("Booking report %04d-%02d", year, month)
	if err := s.sender.SendDocument(ctx, filename, buf, caption); err != nil {
		return err
	}
	s.logger.Info().Str("filename", filename).Msg("monthly report sent")
	return nil
}
