package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"coachbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	busy  map[string][]models.BusyInterval
	err   error
	calls int
}

func (f *fakeLister) ListBusy(_ context.Context, _ []string, _, _ time.Time) (map[string][]models.BusyInterval, error) {
	f.calls++
	return f.busy, f.err
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 2, hour, minute, 0, 0, time.UTC)
}

func TestMergeIntervals(t *testing.T) {
	tests := []struct {
		name     string
		input    []models.BusyInterval
		expected []models.BusyInterval
	}{
		{
			name: "overlapping collapse",
			input: []models.BusyInterval{
				{Start: at(9, 0), End: at(10, 0)},
				{Start: at(9, 30), End: at(10, 30)},
			},
			expected: []models.BusyInterval{
				{Start: at(9, 0), End: at(10, 30)},
			},
		},
		{
			name: "adjacent collapse",
			input: []models.BusyInterval{
				{Start: at(9, 0), End: at(9, 30)},
				{Start: at(9, 30), End: at(10, 0)},
			},
			expected: []models.BusyInterval{
				{Start: at(9, 0), End: at(10, 0)},
			},
		},
		{
			name: "disjoint stay separate",
			input: []models.BusyInterval{
				{Start: at(14, 0), End: at(15, 0)},
				{Start: at(9, 0), End: at(10, 0)},
			},
			expected: []models.BusyInterval{
				{Start: at(9, 0), End: at(10, 0)},
				{Start: at(14, 0), End: at(15, 0)},
			},
		},
		{
			name: "contained absorbed",
			input: []models.BusyInterval{
				{Start: at(9, 0), End: at(12, 0)},
				{Start: at(10, 0), End: at(11, 0)},
			},
			expected: []models.BusyInterval{
				{Start: at(9, 0), End: at(12, 0)},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mergeIntervals(tt.input)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestBusyForRangeKeepsSourcesSeparate(t *testing.T) {
	logger := zerolog.Nop()
	lister := &fakeLister{busy: map[string][]models.BusyInterval{
		"work":     {{Start: at(9, 0), End: at(10, 0)}},
		"personal": {{Start: at(9, 30), End: at(11, 0)}},
	}}
	m := NewMerger(lister, []string{"work", "personal"}, &logger)

	busy, err := m.BusyForRange(context.Background(), at(0, 0), at(23, 59), true)
	assert.NoError(t, err)
	assert.Len(t, busy, 2)
	assert.Len(t, busy["work"], 1)
	assert.Len(t, busy["personal"], 1)
}

func TestBusyForRangeFailOpen(t *testing.T) {
	logger := zerolog.Nop()
	lister := &fakeLister{
		busy: map[string][]models.BusyInterval{
			"work": {{Start: at(9, 0), End: at(10, 0)}},
		},
		err: errors.New("personal calendar unreachable"),
	}
	m := NewMerger(lister, []string{"work", "personal"}, &logger)

	busy, err := m.BusyForRange(context.Background(), at(0, 0), at(23, 59), true)
	assert.NoError(t, err)
	assert.Len(t, busy, 1, "surviving source still contributes")
}

func TestBusyForRangeFailClosed(t *testing.T) {
	logger := zerolog.Nop()
	lister := &fakeLister{err: errors.New("calendar unreachable")}
	m := NewMerger(lister, []string{"work"}, &logger)

	_, err := m.BusyForRange(context.Background(), at(0, 0), at(23, 59), false)
	assert.Error(t, err)
}

func TestIsBusy(t *testing.T) {
	busy := map[string][]models.BusyInterval{
		"work": {{Start: at(9, 15), End: at(9, 45)}},
	}

	tests := []struct {
		name     string
		start    time.Time
		duration time.Duration
		expected bool
	}{
		{"partial overlap at slot start", at(9, 0), 30 * time.Minute, true},
		{"partial overlap at slot end", at(9, 30), 30 * time.Minute, true},
		{"slot before interval", at(8, 30), 30 * time.Minute, false},
		{"slot ends where interval starts", at(8, 45), 30 * time.Minute, false},
		{"slot starts where interval ends", at(9, 45), 30 * time.Minute, false},
		{"hour slot spanning interval", at(9, 0), 60 * time.Minute, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsBusy(busy, tt.start, tt.duration))
		})
	}
}

func TestIsBusyAnySource(t *testing.T) {
	busy := map[string][]models.BusyInterval{
		"work":     nil,
		"personal": {{Start: at(10, 0), End: at(10, 30)}},
	}
	assert.True(t, IsBusy(busy, at(10, 0), 30*time.Minute))
	assert.False(t, IsBusy(busy, at(11, 0), 30*time.Minute))
}
