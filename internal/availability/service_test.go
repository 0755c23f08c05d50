package availability

import (
	"context"
	"testing"
	"time"

	"coachbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeConfig struct {
	templates map[int]models.AvailabilityTemplate
	blocked   map[string]struct{}
}

func (f *fakeConfig) ListTemplates(_ context.Context) (map[int]models.AvailabilityTemplate, error) {
	return f.templates, nil
}

func (f *fakeConfig) ListBlockedDates(_ context.Context, _, _ string) (map[string]struct{}, error) {
	return f.blocked, nil
}

func allWeekTemplates(start, end string) map[int]models.AvailabilityTemplate {
	templates := make(map[int]models.AvailabilityTemplate)
	for dow := 0; dow < 7; dow++ {
		templates[dow] = models.AvailabilityTemplate{
			DayOfWeek:   dow,
			StartTime:   start,
			EndTime:     end,
			IsAvailable: true,
		}
	}
	return templates
}

func newTestService(lister *fakeLister, cfg *fakeConfig, clock time.Time) *Service {
	logger := zerolog.Nop()
	cache := NewCache(5 * time.Minute).WithClock(func() time.Time { return clock })
	merger := NewMerger(lister, []string{"work", "personal"}, &logger)
	svc := NewService(cache, merger, cfg, time.UTC, 28, &logger)
	return svc.WithClock(func() time.Time { return clock })
}

func TestPreloadQueriesSourcesOnce(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	svc := newTestService(lister, &fakeConfig{templates: allWeekTemplates("09:00", "17:00")}, clock)

	loaded, err := svc.Preload(context.Background(), 0)
	assert.NoError(t, err)
	assert.Equal(t, 28, loaded)
	assert.Equal(t, 1, lister.calls, "one busy query for the whole window")

	// Every date in the window is now served from cache.
	for d := 1; d <= 28; d++ {
		date := clock.AddDate(0, 0, d).Format(models.DateFormat)
		day, err := svc.GetAvailability(context.Background(), date)
		assert.NoError(t, err)
		assert.Equal(t, date, day.Date)
	}
	assert.Equal(t, 1, lister.calls, "cached reads must not hit the sources")
}

func TestGetAvailabilityComputesOnMiss(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	svc := newTestService(lister, &fakeConfig{templates: allWeekTemplates("09:00", "11:00")}, clock)

	day, err := svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)
	assert.Equal(t, 1, lister.calls)
	assert.Len(t, day.Slots, 4)

	_, err = svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)
	assert.Equal(t, 1, lister.calls, "second read served from cache")
}

func TestGetAvailabilityInvalidDate(t *testing.T) {
	svc := newTestService(&fakeLister{}, &fakeConfig{}, time.Now())
	_, err := svc.GetAvailability(context.Background(), "03/02/2026")
	assert.Error(t, err)
}

func TestComputeDaySubtractsBusy(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{busy: map[string][]models.BusyInterval{
		"work": {{
			Start: time.Date(2026, 3, 2, 9, 15, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 2, 9, 45, 0, 0, time.UTC),
		}},
	}}
	svc := newTestService(lister, &fakeConfig{templates: allWeekTemplates("09:00", "11:00")}, clock)

	day, err := svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)

	times := make([]string, 0, len(day.Slots))
	for _, s := range day.Slots {
		times = append(times, s.Time)
	}
	// 09:00 and 09:30 both overlap [09:15, 09:45).
	assert.Equal(t, []string{"10:00", "10:30"}, times)
}

func TestComputeDayHourCapability(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{busy: map[string][]models.BusyInterval{
		"work": {{
			Start: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
		}},
	}}
	svc := newTestService(lister, &fakeConfig{templates: allWeekTemplates("09:00", "11:00")}, clock)

	day, err := svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)

	byTime := make(map[string]models.Slot)
	for _, s := range day.Slots {
		byTime[s.Time] = s
	}

	assert.True(t, byTime["09:00"].CanBook30)
	assert.True(t, byTime["09:00"].CanBook60, "09:00-10:00 fully free")
	assert.True(t, byTime["09:30"].CanBook30)
	assert.False(t, byTime["09:30"].CanBook60, "10:00 half is busy")
	assert.NotContains(t, byTime, "10:00")
	assert.True(t, byTime["10:30"].CanBook30)
	assert.False(t, byTime["10:30"].CanBook60, "last grid slot cannot host an hour")
}

func TestComputeDayBlockedDate(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := &fakeConfig{
		templates: allWeekTemplates("09:00", "17:00"),
		blocked:   map[string]struct{}{"2026-03-02": {}},
	}
	svc := newTestService(&fakeLister{}, cfg, clock)

	day, err := svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)
	assert.Empty(t, day.Slots)
}

func TestRefreshRecomputes(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lister := &fakeLister{}
	svc := newTestService(lister, &fakeConfig{templates: allWeekTemplates("09:00", "11:00")}, clock)

	_, err := svc.GetAvailability(context.Background(), "2026-03-02")
	assert.NoError(t, err)
	assert.Equal(t, 1, lister.calls)

	// The slot gets taken; a refresh must see it without waiting for TTL.
	lister.busy = map[string][]models.BusyInterval{
		"work": {{
			Start: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		}},
	}
	day, err := svc.Refresh(context.Background(), "2026-03-02")
	assert.NoError(t, err)
	assert.Equal(t, 2, lister.calls)
	for _, s := range day.Slots {
		assert.NotEqual(t, "09:00", s.Time)
	}
}
