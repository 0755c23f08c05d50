package availability

import (
	"context"
	"fmt"
	"time"

	"coachbook/internal/metrics"
	"coachbook/internal/models"
	"coachbook/internal/slots"

	"github.com/rs/zerolog"
)

// ConfigStore supplies the administrative booking configuration.
type ConfigStore interface {
	ListTemplates(ctx context.Context) (map[int]models.AvailabilityTemplate, error)
	ListBlockedDates(ctx context.Context, from, to string) (map[string]struct{}, error)
}

// Service is the cache-backed availability read path. Display reads go
// through the cache and fail open on source errors; the booking commit
// path bypasses this service entirely and talks to the Merger directly.
type Service struct {
	cache    *Cache
	merger   *Merger
	config   ConfigStore
	location *time.Location
	horizon  int // days
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewService(cache *Cache, merger *Merger, config ConfigStore, location *time.Location, horizonDays int, logger *zerolog.Logger) *Service {
	if horizonDays <= 0 {
		horizonDays = 28
	}
	return &Service{
		cache:    cache,
		merger:   merger,
		config:   config,
		location: location,
		horizon:  horizonDays,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock substitutes the clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Horizon returns the preload window length in days.
func (s *Service) Horizon() int { return s.horizon }

// CacheTTL returns the cache entry lifetime.
func (s *Service) CacheTTL() time.Duration { return s.cache.TTL() }

// GetAvailability returns the slot list for one date, from cache when
// possible, computing and caching on miss.
func (s *Service) GetAvailability(ctx context.Context, date string) (models.DayAvailability, error) {
	if _, err := time.ParseInLocation(models.DateFormat, date, s.location); err != nil {
		return models.DayAvailability{}, fmt.Errorf("invalid date %q: %w", date, err)
	}

	if day, ok := s.cache.Get(ctx, date); ok {
		metrics.IncCacheHit()
		return day, nil
	}
	metrics.IncCacheMiss()
	return s.compute(ctx, date)
}

// Refresh discards the cache entry for a date and recomputes it. Used
// after a commit rejection so the caller immediately sees current reality.
func (s *Service) Refresh(ctx context.Context, date string) (models.DayAvailability, error) {
	if _, err := time.ParseInLocation(models.DateFormat, date, s.location); err != nil {
		return models.DayAvailability{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	s.cache.Invalidate(ctx, date)
	return s.compute(ctx, date)
}

// Invalidate drops one date from the cache without recomputing. Wired to
// the booking.committed event so display reads pick up the new busy state.
func (s *Service) Invalidate(ctx context.Context, date string) {
	s.cache.Invalidate(ctx, date)
}

// Preload computes and caches the whole rolling window in one batch: one
// busy-interval query per source for the entire range instead of one per
// day. Returns the number of days loaded.
func (s *Service) Preload(ctx context.Context, days int) (int, error) {
	if days <= 0 || days > s.horizon {
		days = s.horizon
	}

	start := s.windowStart()
	end := start.AddDate(0, 0, days)

	templates, blocked, err := s.loadConfig(ctx, start, end)
	if err != nil {
		return 0, err
	}

	busy, err := s.merger.BusyForRange(ctx, start, end, true)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
		tpl := templateFor(templates, d)
		day, err := s.computeDay(d, tpl, blocked, busy)
		if err != nil {
			return loaded, err
		}
		s.cache.Put(ctx, day)
		loaded++
	}
	return loaded, nil
}

func (s *Service) compute(ctx context.Context, date string) (models.DayAvailability, error) {
	d, err := time.ParseInLocation(models.DateFormat, date, s.location)
	if err != nil {
		return models.DayAvailability{}, err
	}
	dayEnd := d.AddDate(0, 0, 1)

	templates, blocked, err := s.loadConfig(ctx, d, dayEnd)
	if err != nil {
		return models.DayAvailability{}, err
	}

	busy, err := s.merger.BusyForRange(ctx, d, dayEnd, true)
	if err != nil {
		return models.DayAvailability{}, err
	}

	day, err := s.computeDay(d, templateFor(templates, d), blocked, busy)
	if err != nil {
		return models.DayAvailability{}, err
	}
	s.cache.Put(ctx, day)
	return day, nil
}

func (s *Service) loadConfig(ctx context.Context, from, to time.Time) (map[int]models.AvailabilityTemplate, map[string]struct{}, error) {
	templates, err := s.config.ListTemplates(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("list templates: %w", err)
	}
	blocked, err := s.config.ListBlockedDates(ctx, from.Format(models.DateFormat), to.Format(models.DateFormat))
	if err != nil {
		return nil, nil, fmt.Errorf("list blocked dates: %w", err)
	}
	return templates, blocked, nil
}

// computeDay subtracts busy intervals from the template grid. A slot is
// listed only when its own half hour is free; CanBook60 additionally
// requires the following half hour to be on the grid and free.
func (s *Service) computeDay(date time.Time, tpl *models.AvailabilityTemplate, blocked map[string]struct{}, busy map[string][]models.BusyInterval) (models.DayAvailability, error) {
	grid, err := slots.Generate(date, tpl, blocked)
	if err != nil {
		return models.DayAvailability{}, fmt.Errorf("generate slots for %s: %w", date.Format(models.DateFormat), err)
	}

	day := models.DayAvailability{
		Date:       date.Format(models.DateFormat),
		Timezone:   s.location.String(),
		ComputedAt: s.now(),
	}

	for i, t := range grid {
		start, err := slots.OnDate(date, t)
		if err != nil {
			return models.DayAvailability{}, err
		}
		if IsBusy(busy, start, slots.Granularity) {
			continue
		}
		nextOnGrid := i+1 < len(grid)
		day.Slots = append(day.Slots, models.Slot{
			Time:      t,
			CanBook30: true,
			CanBook60: nextOnGrid && !IsBusy(busy, start, 2*slots.Granularity),
		})
	}
	return day, nil
}

func (s *Service) windowStart() time.Time {
	now := s.now().In(s.location)
	// Same-day bookings are disallowed, so the window starts tomorrow.
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.location).AddDate(0, 0, 1)
}

func templateFor(templates map[int]models.AvailabilityTemplate, date time.Time) *models.AvailabilityTemplate {
	tpl, ok := templates[int(date.Weekday())]
	if !ok {
		return nil
	}
	return &tpl
}
