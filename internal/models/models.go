// Package models defines the core domain types shared across the booking core.
package models

import "time"

// DateFormat and TimeFormat are the canonical wire formats for dates and
// slot start times.
const (
	DateFormat = "2006-01-02"
	TimeFormat = "15:04"
)

// Duration classes supported for session credits, in minutes.
const (
	Duration30 = 30
	Duration60 = 60
)

// Purchase statuses.
const (
	PurchaseActive    = "active"
	PurchaseCancelled = "cancelled"
)

// Booking statuses.
const (
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
	BookingReverted  = "reverted"
)

// Booking is a committed session. Created only by a successful commit;
// immutable afterwards except for a status transition.
type Booking struct {
	ID       string    `json:"id"`
	Date     string    `json:"date"` // YYYY-MM-DD
	Time     string    `json:"time"` // HH:MM
	Duration int       `json:"duration"`
	Status   string    `json:"status"`
	BookedAt time.Time `json:"booked_at"`
	EventID  string    `json:"event_id,omitempty"`
	EventURL string    `json:"event_url,omitempty"`
}

// Purchase is one credit-ledger record. The payment webhook creates it with
// SessionsUsed = 0; the booking commit increments SessionsUsed and appends
// a Booking. Invariant: 0 <= SessionsUsed <= SessionsTotal.
type Purchase struct {
	ID            string    `json:"id"`
	DurationClass int       `json:"duration_class"` // 30 or 60
	SessionsTotal int       `json:"sessions_total"`
	SessionsUsed  int       `json:"sessions_used"`
	Status        string    `json:"status"`
	PurchaseDate  time.Time `json:"purchase_date"`
	PaymentRef    string    `json:"payment_ref,omitempty"` // payment-processor idempotency key
	Bookings      []Booking `json:"bookings,omitempty"`
}

// Remaining returns the unspent credits on this purchase; zero for
// cancelled purchases.
func (p *Purchase) Remaining() int {
	if p.Status != PurchaseActive {
		return 0
	}
	n := p.SessionsTotal - p.SessionsUsed
	if n < 0 {
		return 0
	}
	return n
}

// User is the unit of credit accounting. Purchases are an embedded
// aggregate guarded by Version for optimistic concurrency.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Purchases []Purchase `json:"purchases"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// AvailabilityTemplate is the weekly opening window for one day of week
// (0 = Sunday, matching time.Weekday). At most one row per day of week.
type AvailabilityTemplate struct {
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"` // HH:MM
	EndTime     string `json:"end_time"`   // HH:MM
	IsAvailable bool   `json:"is_available"`
}

// BlockedDate excludes a whole calendar date from booking.
type BlockedDate struct {
	Date   string `json:"date"` // YYYY-MM-DD
	Reason string `json:"reason,omitempty"`
}

// BusyInterval is one committed period on an external calendar source.
// Fetched fresh per cache miss, never persisted. Half-open [Start, End).
type BusyInterval struct {
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	Source string    `json:"source"`
}

// Overlaps reports whether the half-open interval [start, end) intersects
// this busy interval.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && end.After(b.Start)
}

// Slot is one bookable half-hour start time on a date, with the fact of
// whether the following half hour is also free (the 60-minute capability).
type Slot struct {
	Time      string `json:"time"` // HH:MM
	CanBook30 bool   `json:"can_book_30"`
	CanBook60 bool   `json:"can_book_60"`
}

// DayAvailability is the computed slot list for one date.
type DayAvailability struct {
	Date       string    `json:"date"`
	Timezone   string    `json:"timezone"`
	Slots      []Slot    `json:"slots"`
	ComputedAt time.Time `json:"computed_at"`
}
