// Package gcal talks to Google Calendar: FreeBusy for busy-interval reads
// and Events.Insert for the booking write.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"coachbook/internal/models"

	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

// EventDetails describes the calendar event created for a committed booking.
type EventDetails struct {
	CalendarID  string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
	RequestID   string // client-side id for tracing, not an API dedupe key
}

// Client wraps the Calendar API with a rate limiter so bursts of
// availability reads cannot trip the per-minute quota.
type Client struct {
	svc      *calendar.Service
	limiter  *rate.Limiter
	timezone string
}

// New builds a client from a service-account credentials file.
func New(ctx context.Context, credentialsPath, timezone string) (*Client, error) {
	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.JWTConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	svc, err := calendar.NewService(ctx, option.WithTokenSource(conf.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return NewWithService(svc, timezone), nil
}

// NewWithService wraps an already-built calendar service, for tests.
func NewWithService(svc *calendar.Service, timezone string) *Client {
	return &Client{
		svc:      svc,
		limiter:  rate.NewLimiter(rate.Limit(5), 10),
		timezone: timezone,
	}
}

// ListBusy queries busy periods for all sources in one FreeBusy call. The
// returned map has an entry per source that answered; the error is non-nil
// if the whole call failed or any individual calendar reported an error,
// so callers can fail open (display) or closed (commit) as they choose.
func (c *Client) ListBusy(ctx context.Context, sourceIDs []string, from, to time.Time) (map[string][]models.BusyInterval, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req := &calendar.FreeBusyRequest{
		TimeMin:  from.Format(time.RFC3339),
		TimeMax:  to.Format(time.RFC3339),
		TimeZone: c.timezone,
	}
	for _, id := range sourceIDs {
		req.Items = append(req.Items, &calendar.FreeBusyRequestItem{Id: id})
	}

	resp, err := c.svc.Freebusy.Query(req).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("freebusy query: %w", err)
	}

	busy := make(map[string][]models.BusyInterval, len(sourceIDs))
	var errs []error
	for _, id := range sourceIDs {
		cal, ok := resp.Calendars[id]
		if !ok {
			errs = append(errs, fmt.Errorf("source %s: no answer", id))
			continue
		}
		if len(cal.Errors) > 0 {
			errs = append(errs, fmt.Errorf("source %s: %s", id, cal.Errors[0].Reason))
			continue
		}

		intervals := make([]models.BusyInterval, 0, len(cal.Busy))
		for _, period := range cal.Busy {
			start, err := time.Parse(time.RFC3339, period.Start)
			if err != nil {
				errs = append(errs, fmt.Errorf("source %s: parse start: %w", id, err))
				continue
			}
			end, err := time.Parse(time.RFC3339, period.End)
			if err != nil {
				errs = append(errs, fmt.Errorf("source %s: parse end: %w", id, err))
				continue
			}
			intervals = append(intervals, models.BusyInterval{Start: start, End: end, Source: id})
		}
		busy[id] = intervals
	}
	return busy, errors.Join(errs...)
}

// CreateEvent inserts the booking event and returns its id and link.
func (c *Client) CreateEvent(ctx context.Context, d EventDetails) (eventID, eventURL string, err error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", "", err
	}

	event := &calendar.Event{
		Summary:     d.Summary,
		Description: d.Description,
		Start:       &calendar.EventDateTime{DateTime: d.Start.Format(time.RFC3339), TimeZone: c.timezone},
		End:         &calendar.EventDateTime{DateTime: d.End.Format(time.RFC3339), TimeZone: c.timezone},
	}

	created, err := c.svc.Events.Insert(d.CalendarID, event).Context(ctx).Do()
	if err != nil {
		return "", "", fmt.Errorf("insert event: %w", err)
	}
	return created.Id, created.HtmlLink, nil
}
