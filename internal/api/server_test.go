package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"coachbook/internal/availability"
	"coachbook/internal/booking"
	"coachbook/internal/events"
	"coachbook/internal/gcal"
	"coachbook/internal/ledger"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type memStore struct {
	mu    sync.Mutex
	users map[string]*models.User
}

func (s *memStore) GetUser(_ context.Context, userID string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, errors.New("user not found")
	}
	cp := *u
	cp.Purchases = append([]models.Purchase(nil), u.Purchases...)
	return &cp, nil
}

func (s *memStore) UpdatePurchases(_ context.Context, userID string, expectedVersion int64, purchases []models.Purchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.users[userID]
	if u.Version != expectedVersion {
		return ledger.ErrVersionConflict
	}
	u.Purchases = append([]models.Purchase(nil), purchases...)
	u.Version++
	return nil
}

func (s *memStore) EnsureUser(_ context.Context, userID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = &models.User{ID: userID, Email: email}
	}
	return nil
}

type fakeAvailability struct {
	day models.DayAvailability
	err error
}

func (f *fakeAvailability) GetAvailability(_ context.Context, date string) (models.DayAvailability, error) {
	if f.err != nil {
		return models.DayAvailability{}, f.err
	}
	day := f.day
	day.Date = date
	return day, nil
}

func (f *fakeAvailability) Refresh(ctx context.Context, date string) (models.DayAvailability, error) {
	return f.GetAvailability(ctx, date)
}

func (f *fakeAvailability) Preload(_ context.Context, days int) (int, error) {
	if days <= 0 || days > 28 {
		days = 28
	}
	return days, f.err
}

func (f *fakeAvailability) Horizon() int            { return 28 }
func (f *fakeAvailability) CacheTTL() time.Duration { return 5 * time.Minute }

type fakeLister struct {
	busy map[string][]models.BusyInterval
	err  error
}

func (f *fakeLister) ListBusy(_ context.Context, _ []string, _, _ time.Time) (map[string][]models.BusyInterval, error) {
	return f.busy, f.err
}

type fakeConfig struct{}

func (fakeConfig) ListTemplates(_ context.Context) (map[int]models.AvailabilityTemplate, error) {
	templates := make(map[int]models.AvailabilityTemplate)
	for dow := 0; dow < 7; dow++ {
		templates[dow] = models.AvailabilityTemplate{
			DayOfWeek: dow, StartTime: "09:00", EndTime: "17:00", IsAvailable: true,
		}
	}
	return templates, nil
}

func (fakeConfig) ListBlockedDates(_ context.Context, _, _ string) (map[string]struct{}, error) {
	return nil, nil
}

type fakeCalendar struct{ err error }

func (f *fakeCalendar) CreateEvent(_ context.Context, d gcal.EventDetails) (string, string, error) {
	if f.err != nil {
		return "", "", f.err
	}
	return "evt-1", "https://calendar.example/evt-1", nil
}

type apiHarness struct {
	handler  http.Handler
	store    *memStore
	lister   *fakeLister
	calendar *fakeCalendar
}

var apiClock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := zerolog.Nop()

	store := &memStore{users: map[string]*models.User{
		"alice": {
			ID:    "alice",
			Email: "alice@example.com",
			Purchases: []models.Purchase{{
				ID:            "pur-1",
				DurationClass: models.Duration30,
				SessionsTotal: 5,
				Status:        models.PurchaseActive,
				PurchaseDate:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
			}},
		},
	}}
	lister := &fakeLister{}
	calendar := &fakeCalendar{}

	merger := availability.NewMerger(lister, []string{"booking"}, &logger)
	creditLedger := ledger.New(store, 3, &logger)
	protocol := booking.NewProtocol(
		merger, fakeConfig{}, creditLedger, calendar, nil, nil, nil, events.NewBus(),
		booking.Options{CalendarID: "coach@example.com", RevertAttempts: 1},
		&logger,
	).WithClock(func() time.Time { return apiClock })

	server := NewHTTPServer(&fakeAvailability{}, protocol, creditLedger, store, &logger)
	return &apiHarness{handler: server.Handler(), store: store, lister: lister, calendar: calendar}
}

func doRequest(h http.Handler, method, target string, body any, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if authed {
		req.Header.Set("X-User-ID", "alice")
		req.Header.Set("X-User-Email", "alice@example.com")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetAvailability(t *testing.T) {
	h := newAPIHarness(t)

	rec := doRequest(h.handler, http.MethodGet, "/api/v1/availability/2026-03-02", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	var day models.DayAvailability
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &day))
	assert.Equal(t, "2026-03-02", day.Date)
}

func TestGetAvailabilityBadDate(t *testing.T) {
	h := newAPIHarness(t)
	rec := doRequest(h.handler, http.MethodGet, "/api/v1/availability/tomorrow", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPreload(t *testing.T) {
	h := newAPIHarness(t)
	rec := doRequest(h.handler, http.MethodPost, "/api/v1/availability/preload", PreloadRequest{WindowDays: 7}, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp PreloadResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 7, resp.DaysLoaded)
	assert.Equal(t, 300, resp.ExpiresIn)
}

func TestCommitRequiresAuth(t *testing.T) {
	h := newAPIHarness(t)
	rec := doRequest(h.handler, http.MethodPost, "/api/v1/bookings",
		booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 30}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCommitSuccess(t *testing.T) {
	h := newAPIHarness(t)
	rec := doRequest(h.handler, http.MethodPost, "/api/v1/bookings",
		booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 30}, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CommitResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.BookingID)
	assert.Equal(t, "https://calendar.example/evt-1", resp.EventURL)
}

func TestCommitRejectionStatuses(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(h *apiHarness)
		req      booking.Request
		status   int
		wantCode string
	}{
		{
			name:     "invalid argument",
			prepare:  func(*apiHarness) {},
			req:      booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 45},
			status:   http.StatusBadRequest,
			wantCode: booking.CodeInvalidArgument,
		},
		{
			name: "slot unavailable",
			prepare: func(h *apiHarness) {
				h.lister.busy = map[string][]models.BusyInterval{"booking": {{
					Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
					End:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
				}}}
			},
			req:      booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 30},
			status:   http.StatusConflict,
			wantCode: booking.CodeSlotUnavailable,
		},
		{
			name:     "insufficient credit",
			prepare:  func(h *apiHarness) { h.store.users["alice"].Purchases = nil },
			req:      booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 30},
			status:   http.StatusConflict,
			wantCode: booking.CodeInsufficientCredit,
		},
		{
			name:     "calendar unreachable",
			prepare:  func(h *apiHarness) { h.lister.err = errors.New("timeout") },
			req:      booking.Request{Date: "2026-03-02", Time: "10:00", Duration: 30},
			status:   http.StatusServiceUnavailable,
			wantCode: booking.CodeCalendarUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAPIHarness(t)
			tt.prepare(h)

			rec := doRequest(h.handler, http.MethodPost, "/api/v1/bookings", tt.req, true)
			assert.Equal(t, tt.status, rec.Code)

			var resp CommitResponse
			assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantCode, resp.Code)
		})
	}
}

func TestCommitRejectsIdentityInBody(t *testing.T) {
	h := newAPIHarness(t)
	body := map[string]any{"date": "2026-03-02", "time": "10:00", "duration": 30, "user_id": "mallory"}
	rec := doRequest(h.handler, http.MethodPost, "/api/v1/bookings", body, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "unknown fields are rejected")
}

func TestCredits(t *testing.T) {
	h := newAPIHarness(t)

	rec := doRequest(h.handler, http.MethodGet, "/api/v1/credits", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp CreditsResponse
	assert.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, map[string]int{"30": 5, "60": 0}, resp.ByDuration)
}

func TestCreditsRequiresAuth(t *testing.T) {
	h := newAPIHarness(t)
	rec := doRequest(h.handler, http.MethodGet, "/api/v1/credits", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
