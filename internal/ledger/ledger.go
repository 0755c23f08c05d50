// Package ledger derives session credits from a user's purchase records
// and performs the atomic spend at booking commit time.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"coachbook/internal/metrics"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrInsufficientCredit means no active purchase of the requested
	// duration class has remaining sessions.
	ErrInsufficientCredit = errors.New("insufficient credit")

	// ErrVersionConflict is returned by Store implementations when the
	// conditional write lost an optimistic-concurrency race.
	ErrVersionConflict = errors.New("purchase ledger version conflict")
)

// Store is the persistent user/purchase aggregate. UpdatePurchases must be
// a single conditional write: it succeeds only if the stored version still
// equals expectedVersion, otherwise it returns ErrVersionConflict. That
// conditional write is the only serialization primitive the ledger needs.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpdatePurchases(ctx context.Context, userID string, expectedVersion int64, purchases []models.Purchase) error
}

// Remaining sums unspent credits per duration class over active purchases.
// Pure function of the purchase list.
func Remaining(purchases []models.Purchase) map[int]int {
	byDuration := map[int]int{
		models.Duration30: 0,
		models.Duration60: 0,
	}
	for i := range purchases {
		p := &purchases[i]
		byDuration[p.DurationClass] += p.Remaining()
	}
	return byDuration
}

// SpendResult reports the outcome of a spend.
type SpendResult struct {
	PurchaseID string
	Booking    models.Booking

	// Duplicate is true when an identical active booking already existed
	// for (date, time); no credit was spent and Booking is the existing
	// record. This is what makes a retried commit idempotent.
	Duplicate bool
}

// Ledger performs credit reads and atomic spends against the Store.
type Ledger struct {
	store      Store
	maxRetries int
	logger     *zerolog.Logger
}

func New(store Store, maxRetries int, logger *zerolog.Logger) *Ledger {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Ledger{store: store, maxRetries: maxRetries, logger: logger}
}

// RemainingCredits returns the user's unspent credits by duration class.
func (l *Ledger) RemainingCredits(ctx context.Context, userID string) (map[int]int, error) {
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return Remaining(user.Purchases), nil
}

// Spend consumes one credit of the given duration class and appends the
// booking to the chosen purchase, in a single conditional write. Credits
// are consumed oldest purchase first (earliest purchase date, then lowest
// id). The eligibility check runs inside the read-modify-write loop, so
// two concurrent spends of the last credit cannot both succeed: the loser
// re-reads and finds no credit left.
func (l *Ledger) Spend(ctx context.Context, userID string, durationClass int, booking models.Booking) (*SpendResult, error) {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get user: %w", err)
		}

		if existing := findActiveBooking(user.Purchases, booking.Date, booking.Time); existing != nil {
			return &SpendResult{Booking: *existing, Duplicate: true}, nil
		}

		idx := pickPurchase(user.Purchases, durationClass)
		if idx < 0 {
			return nil, ErrInsufficientCredit
		}

		purchases := clonePurchases(user.Purchases)
		purchases[idx].SessionsUsed++
		purchases[idx].Bookings = append(purchases[idx].Bookings, booking)

		err = l.store.UpdatePurchases(ctx, userID, user.Version, purchases)
		if err == nil {
			return &SpendResult{PurchaseID: purchases[idx].ID, Booking: booking}, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, fmt.Errorf("update purchases: %w", err)
		}

		metrics.IncSpendConflict()
		l.logger.Debug().Str("user_id", userID).Int("attempt", attempt).Msg("spend lost optimistic write race, retrying")
	}
	return nil, fmt.Errorf("spend: %w", ErrVersionConflict)
}

// Revert is the compensating action for a spend whose calendar event could
// not be created: it decrements the purchase's used counter and marks the
// booking reverted. Conflicts are retried; any other failure is returned
// so the caller can keep retrying, since an un-reverted spend with no
// event is the worst state this system can be in.
func (l *Ledger) Revert(ctx context.Context, userID, purchaseID, bookingID string) error {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		purchases := clonePurchases(user.Purchases)
		if !revertBooking(purchases, purchaseID, bookingID) {
			// Already reverted or never applied; nothing to undo.
			return nil
		}

		err = l.store.UpdatePurchases(ctx, userID, user.Version, purchases)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("update purchases: %w", err)
		}
		metrics.IncSpendConflict()
	}
	return fmt.Errorf("revert spend: %w", ErrVersionConflict)
}

// AttachEvent records the external calendar event reference on a committed
// booking. Best effort from the protocol's point of view: the booking is
// valid without it, so callers may log and move on if retries run out.
func (l *Ledger) AttachEvent(ctx context.Context, userID, purchaseID, bookingID, eventID, eventURL string) error {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		purchases := clonePurchases(user.Purchases)
		if !setEventRef(purchases, purchaseID, bookingID, eventID, eventURL) {
			return nil
		}

		err = l.store.UpdatePurchases(ctx, userID, user.Version, purchases)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("update purchases: %w", err)
		}
		metrics.IncSpendConflict()
	}
	return fmt.Errorf("attach event: %w", ErrVersionConflict)
}

// Grant appends a purchase credited by the payment webhook. Idempotent on
// the payment reference: a retried grant with a known ref is a no-op.
func (l *Ledger) Grant(ctx context.Context, userID string, purchase models.Purchase) error {
	for attempt := 0; attempt <= l.maxRetries; attempt++ {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}

		if purchase.PaymentRef != "" {
			for i := range user.Purchases {
				if user.Purchases[i].PaymentRef == purchase.PaymentRef {
					return nil
				}
			}
		}

		purchases := append(clonePurchases(user.Purchases), purchase)
		err = l.store.UpdatePurchases(ctx, userID, user.Version, purchases)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("update purchases: %w", err)
		}
		metrics.IncSpendConflict()
	}
	return fmt.Errorf("grant purchase: %w", ErrVersionConflict)
}

// pickPurchase returns the index of the purchase to spend from, or -1.
func pickPurchase(purchases []models.Purchase, durationClass int) int {
	type candidate struct {
		idx  int
		date time.Time
		id   string
	}
	var candidates []candidate
	for i := range purchases {
		p := &purchases[i]
		if p.DurationClass != durationClass || p.Remaining() == 0 {
			continue
		}
		candidates = append(candidates, candidate{idx: i, date: p.PurchaseDate, id: p.ID})
	}
	if len(candidates) == 0 {
		return -1
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].date.Equal(candidates[j].date) {
			return candidates[i].date.Before(candidates[j].date)
		}
		return candidates[i].id < candidates[j].id
	})
	return candidates[0].idx
}

func findActiveBooking(purchases []models.Purchase, date, timeStr string) *models.Booking {
	for i := range purchases {
		for j := range purchases[i].Bookings {
			b := &purchases[i].Bookings[j]
			if b.Date == date && b.Time == timeStr && b.Status == models.BookingConfirmed {
				return b
			}
		}
	}
	return nil
}

func revertBooking(purchases []models.Purchase, purchaseID, bookingID string) bool {
	for i := range purchases {
		if purchases[i].ID != purchaseID {
			continue
		}
		for j := range purchases[i].Bookings {
			b := &purchases[i].Bookings[j]
			if b.ID == bookingID && b.Status == models.BookingConfirmed {
				b.Status = models.BookingReverted
				if purchases[i].SessionsUsed > 0 {
					purchases[i].SessionsUsed--
				}
				return true
			}
		}
	}
	return false
}

func setEventRef(purchases []models.Purchase, purchaseID, bookingID, eventID, eventURL string) bool {
	for i := range purchases {
		if purchases[i].ID != purchaseID {
			continue
		}
		for j := range purchases[i].Bookings {
			b := &purchases[i].Bookings[j]
			if b.ID == bookingID && b.EventID == "" {
				b.EventID = eventID
				b.EventURL = eventURL
				return true
			}
		}
	}
	return false
}

func clonePurchases(purchases []models.Purchase) []models.Purchase {
	out := make([]models.Purchase, len(purchases))
	copy(out, purchases)
	for i := range out {
		out[i].Bookings = append([]models.Booking(nil), out[i].Bookings...)
	}
	return out
}
