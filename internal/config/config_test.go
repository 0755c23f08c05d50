package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
database:
  path: `+filepath.Join(t.TempDir(), "test.db")+`
calendar:
  booking_calendar_id: coach@example.com
  timezone: Europe/Berlin
availability:
  cache_ttl_seconds: 120
  horizon_days: 14
booking:
  spend_max_retries: 5
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, "coach@example.com", cfg.Calendar.BookingCalendarID)
	assert.Equal(t, 2*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 14, cfg.HorizonDays())
	assert.Equal(t, 5, cfg.Booking.SpendMaxRetries)

	loc, err := cfg.Location()
	assert.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: `+filepath.Join(t.TempDir(), "test.db")+`
calendar:
  booking_calendar_id: coach@example.com
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "UTC", cfg.Calendar.Timezone)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL())
	assert.Equal(t, 28, cfg.HorizonDays())
	assert.Equal(t, []string{"coach@example.com"}, cfg.Calendar.Sources,
		"booking calendar doubles as the busy source when none configured")
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_COACH_CALENDAR", "env-coach@example.com")
	path := writeConfig(t, `
database:
  path: `+filepath.Join(t.TempDir(), "test.db")+`
calendar:
  booking_calendar_id: ${TEST_COACH_CALENDAR}
  sources:
    - ${TEST_COACH_CALENDAR}
    - personal@example.com
`)

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "env-coach@example.com", cfg.Calendar.BookingCalendarID)
	assert.Equal(t, []string{"env-coach@example.com", "personal@example.com"}, cfg.Calendar.Sources)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLocationInvalid(t *testing.T) {
	cfg := &Config{}
	cfg.Calendar.Timezone = "Mars/Olympus"
	_, err := cfg.Location()
	assert.Error(t, err)
}
