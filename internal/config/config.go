package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Calendar struct {
		CredentialsPath   string   `yaml:"credentials_path"`
		Sources           []string `yaml:"sources"`            // busy-time calendars, all respected
		BookingCalendarID string   `yaml:"booking_calendar_id"` // where committed events land
		Timezone          string   `yaml:"timezone"`
	} `yaml:"calendar"`

	Availability struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
		HorizonDays     int `yaml:"horizon_days"`
	} `yaml:"availability"`

	Booking struct {
		SpendMaxRetries int `yaml:"spend_max_retries"`
		RevertAttempts  int `yaml:"revert_attempts"`
	} `yaml:"booking"`

	Telegram struct {
		BotToken     string `yaml:"bot_token"`
		CoachChatID  int64  `yaml:"coach_chat_id"`
		ReminderHour int    `yaml:"reminder_hour"`
	} `yaml:"telegram"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		StoragePath   string `yaml:"storage_path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/coachbook.db"
	}
	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "UTC"
	}
	if len(cfg.Calendar.Sources) == 0 && cfg.Calendar.BookingCalendarID != "" {
		// The booking calendar's own events count as busy time.
		cfg.Calendar.Sources = []string{cfg.Calendar.BookingCalendarID}
	}
	if cfg.Backup.Enabled && cfg.Backup.StoragePath == "" {
		cfg.Backup.StoragePath = "data/backups"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// CacheTTL returns the availability-cache entry lifetime.
func (c *Config) CacheTTL() time.Duration {
	if c.Availability.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Availability.CacheTTLSeconds) * time.Second
}

// HorizonDays returns the booking horizon length.
func (c *Config) HorizonDays() int {
	if c.Availability.HorizonDays <= 0 {
		return 28
	}
	return c.Availability.HorizonDays
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Calendar.Timezone, err)
	}
	return loc, nil
}
