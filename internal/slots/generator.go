// Package slots generates the canonical bookable slot grid for a date.
// Generation is pure: for a fixed template and blocked-date set the output
// is identical on every call, which is what makes it cacheable.
package slots

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"coachbook/internal/models"
)

// Granularity is the fixed slot step. Templates are expected to be aligned
// to it; misaligned template ends simply truncate the grid.
const Granularity = 30 * time.Minute

// Generate returns the ordered half-hour start times within the template's
// open interval [start, end) for the given date. A blocked date, a missing
// template, or is_available = false yields an empty grid. A template with
// start == end yields no slots.
func Generate(date time.Time, tpl *models.AvailabilityTemplate, blocked map[string]struct{}) ([]string, error) {
	if tpl == nil || !tpl.IsAvailable {
		return nil, nil
	}
	if _, ok := blocked[date.Format(models.DateFormat)]; ok {
		return nil, nil
	}

	start, err := OnDate(date, tpl.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start time: %w", err)
	}
	end, err := OnDate(date, tpl.EndTime)
	if err != nil {
		return nil, fmt.Errorf("parse end time: %w", err)
	}

	var times []string
	for cursor := start; cursor.Add(Granularity).Before(end) || cursor.Add(Granularity).Equal(end); cursor = cursor.Add(Granularity) {
		times = append(times, cursor.Format(models.TimeFormat))
	}
	return times, nil
}

// OnDate combines a date with an "HH:MM" time-of-day in the date's location.
func OnDate(date time.Time, timeStr string) (time.Time, error) {
	parts := strings.Split(timeStr, ":")
	if len(parts) < 2 {
		return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid hour: %w", err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid minute: %w", err)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return time.Time{}, fmt.Errorf("time out of range: %s", timeStr)
	}

	return time.Date(date.Year(), date.Month(), date.Day(), hour, minute, 0, 0, date.Location()), nil
}
