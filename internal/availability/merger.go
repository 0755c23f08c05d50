package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"coachbook/internal/metrics"
	"coachbook/internal/models"

	"github.com/rs/zerolog"
)

// BusyLister fetches busy intervals from external calendar sources.
// The returned map holds one entry per source that answered; the error is
// non-nil when any source could not be queried (the map still carries the
// sources that did answer). Callers decide whether a partial answer is
// acceptable.
type BusyLister interface {
	ListBusy(ctx context.Context, sourceIDs []string, from, to time.Time) (map[string][]models.BusyInterval, error)
}

// Merger fetches and normalizes busy intervals for a date range. Intervals
// are merged within a source only; sources stay separate because each
// calendar represents independently owned commitments.
type Merger struct {
	lister  BusyLister
	sources []string
	logger  *zerolog.Logger
}

func NewMerger(lister BusyLister, sources []string, logger *zerolog.Logger) *Merger {
	return &Merger{lister: lister, sources: sources, logger: logger}
}

// BusyForRange returns merged busy intervals per source for [from, to].
// With failOpen true an unreachable source contributes no intervals and the
// call succeeds on whatever did answer; with failOpen false any source
// failure fails the whole call. Reads degrade gracefully, commits must not.
func (m *Merger) BusyForRange(ctx context.Context, from, to time.Time, failOpen bool) (map[string][]models.BusyInterval, error) {
	busy, err := m.lister.ListBusy(ctx, m.sources, from, to)
	if err != nil {
		if !failOpen {
			metrics.IncBusyQuery("error")
			return nil, fmt.Errorf("list busy: %w", err)
		}
		m.logger.Warn().Err(err).Msg("busy source unreachable, treating as free for display")
		metrics.IncBusyQuery("degraded")
	} else {
		metrics.IncBusyQuery("ok")
	}

	merged := make(map[string][]models.BusyInterval, len(busy))
	for source, intervals := range busy {
		merged[source] = mergeIntervals(intervals)
	}
	return merged, nil
}

// mergeIntervals collapses overlapping or adjacent intervals into a minimal
// sorted set.
func mergeIntervals(intervals []models.BusyInterval) []models.BusyInterval {
	if len(intervals) <= 1 {
		return intervals
	}

	sorted := append([]models.BusyInterval(nil), intervals...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []models.BusyInterval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// IsBusy reports whether the half-open slot [start, start+duration)
// overlaps any interval of any source. Logical OR across sources.
func IsBusy(busy map[string][]models.BusyInterval, start time.Time, duration time.Duration) bool {
	end := start.Add(duration)
	for _, intervals := range busy {
		for _, iv := range intervals {
			if iv.Overlaps(start, end) {
				return true
			}
		}
	}
	return false
}
