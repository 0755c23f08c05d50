// Package booking implements the commit protocol: the state machine that
// converts a selected slot plus a session credit into a persisted booking
// and an external calendar event.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coachbook/internal/availability"
	"coachbook/internal/events"
	"coachbook/internal/gcal"
	"coachbook/internal/ledger"
	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/slots"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State of one commit attempt.
type State string

const (
	StateSelected   State = "selected"
	StateValidating State = "validating"
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
)

// Stable rejection codes surfaced at the API boundary. Internal errors
// never cross it.
const (
	CodeSlotUnavailable     = "slot_unavailable"
	CodeInsufficientCredit  = "insufficient_credit"
	CodeCalendarUnavailable = "calendar_unavailable"
	CodeConflict            = "conflict"
	CodeInvalidArgument     = "invalid_argument"
	CodeInternal            = "internal"
)

// Principal is the authenticated identity supplied by the session layer.
// The commit path trusts it; request bodies never carry identity.
type Principal struct {
	UserID string
	Email  string
}

// Request is a commit request for one slot.
type Request struct {
	Date     string `json:"date"` // YYYY-MM-DD
	Time     string `json:"time"` // HH:MM
	Duration int    `json:"duration"`
}

// Result is the outcome of a commit attempt.
type Result struct {
	State            State
	Code             string // set when rejected
	Message          string
	Booking          models.Booking
	EventURL         string
	AlreadyCommitted bool // retried commit matched an existing booking
}

// EventCreator writes the booking event to the external calendar.
type EventCreator interface {
	CreateEvent(ctx context.Context, d gcal.EventDetails) (eventID, eventURL string, err error)
}

// CacheRefresher busts and recomputes one date of the availability cache
// after a rejection, so the caller immediately sees current reality.
type CacheRefresher interface {
	Refresh(ctx context.Context, date string) (models.DayAvailability, error)
}

// AuditStore records committed bookings for reporting.
type AuditStore interface {
	RecordBooking(ctx context.Context, userID, email string, b models.Booking) error
}

// Alerter pages a human when the compensating credit reversal fails. An
// un-reverted spend with no calendar event is the worst state this system
// can reach, so it must not end at a log line.
type Alerter interface {
	CompensationFailed(ctx context.Context, userID string, b models.Booking, cause error)
}

// Protocol executes commit attempts. Each attempt runs
// Selected -> Validating -> Committed | Rejected with the ordering
// guarantee: slot revalidation, then credit spend, then event creation.
type Protocol struct {
	merger    *availability.Merger
	config    availability.ConfigStore
	ledger    *ledger.Ledger
	calendar  EventCreator
	refresher CacheRefresher
	audit     AuditStore
	alerter   Alerter
	bus       *events.Bus

	location       *time.Location
	horizonDays    int
	calendarID     string
	revertAttempts int
	now            func() time.Time
	logger         *zerolog.Logger
}

// Options carries the protocol's policy knobs.
type Options struct {
	Location       *time.Location
	HorizonDays    int
	CalendarID     string
	RevertAttempts int
}

func NewProtocol(
	merger *availability.Merger,
	config availability.ConfigStore,
	creditLedger *ledger.Ledger,
	calendar EventCreator,
	refresher CacheRefresher,
	audit AuditStore,
	alerter Alerter,
	bus *events.Bus,
	opts Options,
	logger *zerolog.Logger,
) *Protocol {
	if opts.HorizonDays <= 0 {
		opts.HorizonDays = 28
	}
	if opts.RevertAttempts <= 0 {
		opts.RevertAttempts = 5
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Protocol{
		merger:         merger,
		config:         config,
		ledger:         creditLedger,
		calendar:       calendar,
		refresher:      refresher,
		audit:          audit,
		alerter:        alerter,
		bus:            bus,
		location:       opts.Location,
		horizonDays:    opts.HorizonDays,
		calendarID:     opts.CalendarID,
		revertAttempts: opts.RevertAttempts,
		now:            time.Now,
		logger:         logger,
	}
}

// WithClock substitutes the clock, for tests.
func (p *Protocol) WithClock(now func() time.Time) *Protocol {
	p.now = now
	return p
}

// Commit runs one booking attempt for the authenticated principal.
func (p *Protocol) Commit(ctx context.Context, principal Principal, req Request) (*Result, error) {
	date, err := p.validate(req)
	if err != nil {
		return p.reject(ctx, principal, req, CodeInvalidArgument, err.Error(), false), nil
	}

	// Validating: live slot recheck, bypassing the cache and failing
	// closed on any source error. A write is irreversible; a read is not.
	grid, err := p.slotGrid(ctx, date)
	if err != nil {
		p.logger.Error().Err(err).Str("date", req.Date).Msg("load booking configuration")
		return p.reject(ctx, principal, req, CodeInternal, "booking temporarily unavailable", false), nil
	}
	if !onGrid(grid, req.Time, req.Duration) {
		return p.reject(ctx, principal, req, CodeSlotUnavailable, "slot is not bookable", true), nil
	}

	busy, err := p.merger.BusyForRange(ctx, date, date.AddDate(0, 0, 1), false)
	if err != nil {
		p.logger.Error().Err(err).Str("date", req.Date).Msg("busy recheck failed, rejecting commit")
		return p.reject(ctx, principal, req, CodeCalendarUnavailable, "calendar unavailable, try again", true), nil
	}

	start, err := slots.OnDate(date, req.Time)
	if err != nil {
		return p.reject(ctx, principal, req, CodeInvalidArgument, err.Error(), false), nil
	}
	duration := time.Duration(req.Duration) * time.Minute
	if availability.IsBusy(busy, start, duration) {
		return p.reject(ctx, principal, req, CodeSlotUnavailable, "slot was just taken", true), nil
	}

	// Credit spend: cheap, local, atomic. Runs before event creation so a
	// crash between the two leaves a spent credit, never an unpaid event.
	booking := models.Booking{
		ID:       uuid.NewString(),
		Date:     req.Date,
		Time:     req.Time,
		Duration: req.Duration,
		Status:   models.BookingConfirmed,
		BookedAt: p.now(),
	}
	spend, err := p.ledger.Spend(ctx, principal.UserID, req.Duration, booking)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientCredit):
			return p.reject(ctx, principal, req, CodeInsufficientCredit, "no remaining credit for this duration", false), nil
		case errors.Is(err, ledger.ErrVersionConflict):
			return p.reject(ctx, principal, req, CodeConflict, "concurrent update, try again", false), nil
		default:
			p.logger.Error().Err(err).Str("user_id", principal.UserID).Msg("credit spend failed")
			return p.reject(ctx, principal, req, CodeInternal, "booking temporarily unavailable", false), nil
		}
	}
	if spend.Duplicate {
		// Retried commit for an already committed booking; nothing spent.
		return &Result{
			State:            StateCommitted,
			Booking:          spend.Booking,
			EventURL:         spend.Booking.EventURL,
			AlreadyCommitted: true,
		}, nil
	}

	eventID, eventURL, err := p.calendar.CreateEvent(ctx, gcal.EventDetails{
		CalendarID:  p.calendarID,
		Summary:     fmt.Sprintf("Coaching session (%d min)", req.Duration),
		Description: fmt.Sprintf("Booked by %s", principal.Email),
		Start:       start,
		End:         start.Add(duration),
		RequestID:   booking.ID,
	})
	if err != nil {
		p.compensate(ctx, principal.UserID, spend.PurchaseID, booking, err)
		return p.reject(ctx, principal, req, CodeCalendarUnavailable, "could not confirm booking, you were not charged", true), nil
	}

	booking.EventID = eventID
	booking.EventURL = eventURL
	if err := p.ledger.AttachEvent(ctx, principal.UserID, spend.PurchaseID, booking.ID, eventID, eventURL); err != nil {
		// The booking stands without the stored reference.
		p.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("attach event reference")
	}
	if p.audit != nil {
		if err := p.audit.RecordBooking(ctx, principal.UserID, principal.Email, booking); err != nil {
			p.logger.Error().Err(err).Str("booking_id", booking.ID).Msg("record booking audit")
		}
	}

	metrics.IncBookingCommitted(strconv.Itoa(req.Duration))
	p.bus.Publish(events.Event{
		Type:      events.BookingCommitted,
		UserID:    principal.UserID,
		UserEmail: principal.Email,
		Date:      req.Date,
		Time:      req.Time,
		Duration:  req.Duration,
		BookingID: booking.ID,
		EventURL:  eventURL,
	})

	return &Result{State: StateCommitted, Booking: booking, EventURL: eventURL}, nil
}

// compensate reverts the credit spend after a failed event creation,
// retrying with backoff and escalating if the reversal cannot be applied.
func (p *Protocol) compensate(ctx context.Context, userID, purchaseID string, b models.Booking, cause error) {
	p.logger.Error().Err(cause).Str("booking_id", b.ID).Msg("event creation failed, reverting credit spend")

	var lastErr error
	for attempt := 0; attempt < p.revertAttempts; attempt++ {
		lastErr = p.ledger.Revert(ctx, userID, purchaseID, b.ID)
		if lastErr == nil {
			return
		}
		p.logger.Error().Err(lastErr).Int("attempt", attempt+1).Str("booking_id", b.ID).Msg("credit reversal failed, retrying")

		select {
		case <-time.After(time.Duration(attempt+1) * time.Second):
		case <-ctx.Done():
			lastErr = ctx.Err()
			attempt = p.revertAttempts
		}
	}

	p.logger.Error().Err(lastErr).Str("user_id", userID).Str("booking_id", b.ID).Msg("credit reversal exhausted retries, manual action required")
	if p.alerter != nil {
		p.alerter.CompensationFailed(ctx, userID, b, lastErr)
	}
}

func (p *Protocol) reject(ctx context.Context, principal Principal, req Request, code, message string, refreshCache bool) *Result {
	metrics.IncBookingRejected(code)

	if refreshCache && p.refresher != nil {
		if _, err := p.refresher.Refresh(ctx, req.Date); err != nil {
			p.logger.Warn().Err(err).Str("date", req.Date).Msg("availability refresh after rejection")
		}
	}

	p.bus.Publish(events.Event{
		Type:     events.BookingRejected,
		UserID:   principal.UserID,
		Date:     req.Date,
		Time:     req.Time,
		Duration: req.Duration,
		Reason:   code,
	})

	return &Result{State: StateRejected, Code: code, Message: message}
}

// validate rejects malformed input and out-of-horizon dates before any
// I/O happens. Same-day bookings are disallowed by policy.
func (p *Protocol) validate(req Request) (time.Time, error) {
	date, err := time.ParseInLocation(models.DateFormat, req.Date, p.location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", req.Date)
	}
	if _, err := time.Parse(models.TimeFormat, req.Time); err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q, expected HH:MM", req.Time)
	}
	if req.Duration != models.Duration30 && req.Duration != models.Duration60 {
		return time.Time{}, fmt.Errorf("invalid duration %d, expected 30 or 60", req.Duration)
	}

	now := p.now().In(p.location)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.location)
	tomorrow := today.AddDate(0, 0, 1)
	horizonEnd := today.AddDate(0, 0, p.horizonDays)

	if date.Before(tomorrow) {
		return time.Time{}, fmt.Errorf("date %s is not bookable: same-day and past bookings are not allowed", req.Date)
	}
	if date.After(horizonEnd) {
		return time.Time{}, fmt.Errorf("date %s is beyond the %d-day booking horizon", req.Date, p.horizonDays)
	}
	return date, nil
}

func (p *Protocol) slotGrid(ctx context.Context, date time.Time) ([]string, error) {
	templates, err := p.config.ListTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	blocked, err := p.config.ListBlockedDates(ctx, date.Format(models.DateFormat), date.Format(models.DateFormat))
	if err != nil {
		return nil, fmt.Errorf("list blocked dates: %w", err)
	}

	tpl, ok := templates[int(date.Weekday())]
	if !ok {
		return nil, nil
	}
	return slots.Generate(date, &tpl, blocked)
}

// onGrid checks that the requested start is a generated slot and, for a
// 60-minute booking, that the following half hour is on the grid too.
func onGrid(grid []string, t string, duration int) bool {
	idx := -1
	for i, g := range grid {
		if g == t {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	if duration == models.Duration60 {
		return idx+1 < len(grid)
	}
	return true
}
