package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env"
	"gopkg.in/yaml.v3"

	"eventcal/internal/atomicfile"
)

// Store backends for local persistence.
const (
	StoreFile   = "file"
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// FeedConfig describes the remote feeds the service consumes.
type FeedConfig struct {
	// EventsURL serves the category -> events JSON document.
	EventsURL string `yaml:"events_url" json:"events_url" env:"EVENTCAL_EVENTS_URL"`
	// TimezonesURL serves the selectable timezone list.
	TimezonesURL string `yaml:"timezones_url" json:"timezones_url" env:"EVENTCAL_TIMEZONES_URL"`
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"EVENTCAL_FEED_TIMEOUT"`
	// Retries is the number of additional attempts after a failed fetch.
	Retries int `yaml:"retries" json:"retries" env:"EVENTCAL_FEED_RETRIES"`
	// CacheDir stores the last good response per URL for fallback.
	CacheDir string `yaml:"cache_dir" json:"cache_dir" env:"EVENTCAL_CACHE_DIR"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen" env:"EVENTCAL_LISTEN"`

	// Production switches logging to the JSON production encoder.
	Production bool `yaml:"production" json:"production" env:"EVENTCAL_PRODUCTION"`

	// BaseURL is the externally visible URL, used for back-links in exports.
	BaseURL string `yaml:"base_url" json:"base_url" env:"EVENTCAL_BASE_URL"`

	Feed FeedConfig `yaml:"feed" json:"feed"`

	// SourceTimezone is the IANA zone floating feed times are expressed in.
	// Persisted settings override it once the user picks one.
	SourceTimezone string `yaml:"source_timezone" json:"source_timezone"`

	// DisplayTimezone is the default IANA zone used for time-of-day filtering.
	DisplayTimezone string `yaml:"display_timezone" json:"display_timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic feed refetch.
	RefreshCron string `yaml:"refresh" json:"refresh" env:"EVENTCAL_REFRESH"`

	// CustomHorizonDays bounds how far repeating custom events are expanded.
	CustomHorizonDays int `yaml:"custom_horizon_days" json:"custom_horizon_days"`

	// Store selects the key-value backend: file, memory or redis.
	Store string `yaml:"store" json:"store" env:"EVENTCAL_STORE"`
	// DataDir is the directory of the file store.
	DataDir string `yaml:"data_dir" json:"data_dir" env:"EVENTCAL_DATA_DIR"`
	// RedisURL is the redis address for the redis store.
	RedisURL string `yaml:"redis_url" json:"redis_url" env:"EVENTCAL_REDIS_URL"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		Feed: FeedConfig{
			EventsURL:    "https://raw.githubusercontent.com/bigfoott/ScrapedDuck/data/events.json",
			TimezonesURL: "https://raw.githubusercontent.com/dmfilipenko/timezones.json/master/timezones.json",
			Timeout:      15 * time.Second,
			Retries:      2,
			CacheDir:     "./var/feed-cache",
		},
		SourceTimezone:    "UTC",
		DisplayTimezone:   "UTC",
		RefreshCron:       "*/15 * * * *",
		CustomHorizonDays: 365,
		Store:             StoreFile,
		DataDir:           "./var/data",
		RedisURL:          "redis://127.0.0.1:6379",
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Feed.EventsURL == "" {
		c.Feed.EventsURL = def.Feed.EventsURL
	}
	if c.Feed.TimezonesURL == "" {
		c.Feed.TimezonesURL = def.Feed.TimezonesURL
	}
	if c.Feed.Timeout <= 0 {
		c.Feed.Timeout = def.Feed.Timeout
	}
	if c.Feed.Retries < 0 {
		c.Feed.Retries = 0
	}
	if c.Feed.CacheDir == "" {
		c.Feed.CacheDir = def.Feed.CacheDir
	}
	if c.SourceTimezone == "" {
		c.SourceTimezone = def.SourceTimezone
	}
	if c.DisplayTimezone == "" {
		c.DisplayTimezone = def.DisplayTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.CustomHorizonDays <= 0 {
		c.CustomHorizonDays = def.CustomHorizonDays
	}
	switch c.Store {
	case StoreFile, StoreMemory, StoreRedis:
	default:
		// Unknown value; fall back to the file store.
		c.Store = StoreFile
	}
	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	if c.RedisURL == "" {
		c.RedisURL = def.RedisURL
	}
}

// Validate reports configuration values that cannot be defaulted.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.SourceTimezone); err != nil {
		return fmt.Errorf("source_timezone %q: %w", c.SourceTimezone, err)
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("display_timezone %q: %w", c.DisplayTimezone, err)
	}
	return nil
}

// Load loads configuration from the given YAML path and applies
// EVENTCAL_* environment overrides on top.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := readFile(path)
	if err != nil {
		return cfg, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays EVENTCAL_* variables. env does not descend into nested
// structs, so the feed section is parsed separately.
func applyEnv(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	if err := env.Parse(&cfg.Feed); err != nil {
		return fmt.Errorf("env overrides (feed): %w", err)
	}
	return nil
}

func readFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, ".eventcal-config-*.tmp")
}
