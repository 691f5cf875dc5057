package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides, e.g. GROUPSCHED_LISTEN.
const EnvPrefix = "GROUPSCHED"

// ICSConfig describes an external calendar a group subscribes to. Its
// events are fed into conflict detection alongside the group's own.
type ICSConfig struct {
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// GroupID is the group whose conflict checks include this feed.
	GroupID string `yaml:"group_id" json:"group_id"`
	Name    string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RecurrenceConfig bounds series expansion.
type RecurrenceConfig struct {
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`
	// ClampToLastDay moves monthly dates that don't exist (the 31st in
	// April) to the month's last day instead of skipping the month.
	ClampToLastDay *bool `yaml:"clamp_to_last_day,omitempty" json:"clamp_to_last_day,omitempty"`
}

// AvailabilityConfig bounds per-member slots.
type AvailabilityConfig struct {
	MaxSlotsPerMember int `yaml:"max_slots_per_member" json:"max_slots_per_member"`
}

// ForecastConfig tunes turnout prediction.
type ForecastConfig struct {
	DefaultShowRate float64 `yaml:"default_show_rate" json:"default_show_rate"`
	HistoryMonths   int     `yaml:"history_months" json:"history_months"`

	// RefreshCron is a cron-style schedule (e.g. "*/15 * * * *") for
	// recomputing cached show-rates.
	RefreshCron string `yaml:"refresh" json:"refresh"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that series times of day are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// StorePath is the SQLite file holding slots and attendance history.
	StorePath string `yaml:"store_path" json:"store_path"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	Recurrence   RecurrenceConfig   `yaml:"recurrence" json:"recurrence"`
	Availability AvailabilityConfig `yaml:"availability" json:"availability"`
	Forecast     ForecastConfig     `yaml:"forecast" json:"forecast"`

	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// Env holds the overrides read from the environment. Empty means unset.
type Env struct {
	Listen    string `envconfig:"LISTEN"`
	StorePath string `envconfig:"STORE_PATH"`
	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
	Timezone  string `envconfig:"TIMEZONE"`
}

const (
	defaultListen    = "127.0.0.1:8080"
	defaultTimezone  = "Asia/Seoul"
	defaultStorePath = "groupsched.db"
	defaultRefresh   = "*/15 * * * *"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	clamp := true
	return &Config{
		Listen:      defaultListen,
		Timezone:    defaultTimezone,
		LogLevel:    "info",
		LogFormat:   "console",
		StorePath:   defaultStorePath,
		CORSOrigins: []string{},
		Recurrence: RecurrenceConfig{
			MaxOccurrences: 52,
			ClampToLastDay: &clamp,
		},
		Availability: AvailabilityConfig{MaxSlotsPerMember: 21},
		Forecast: ForecastConfig{
			DefaultShowRate: 0.85,
			HistoryMonths:   3,
			RefreshCron:     defaultRefresh,
		},
		ICS:       []ICSConfig{},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	switch c.LogLevel {
	case "debug", "info", "error":
	default:
		c.LogLevel = "info"
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		c.LogFormat = "console"
	}
	if c.StorePath == "" {
		c.StorePath = defaultStorePath
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}

	if c.Recurrence.MaxOccurrences <= 0 {
		c.Recurrence.MaxOccurrences = 52
	}
	if c.Recurrence.ClampToLastDay == nil {
		clamp := true
		c.Recurrence.ClampToLastDay = &clamp
	}
	if c.Availability.MaxSlotsPerMember <= 0 {
		c.Availability.MaxSlotsPerMember = 21
	}
	if c.Forecast.DefaultShowRate <= 0 {
		c.Forecast.DefaultShowRate = 0.85
	}
	if c.Forecast.HistoryMonths <= 0 {
		c.Forecast.HistoryMonths = 3
	}
	if c.Forecast.RefreshCron == "" {
		c.Forecast.RefreshCron = defaultRefresh
	} else if _, err := cron.ParseStandard(c.Forecast.RefreshCron); err != nil {
		c.Forecast.RefreshCron = defaultRefresh
	}

	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
}

// Location resolves Timezone, falling back to UTC when the zone is unknown.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ApplyEnv overlays any GROUPSCHED_* environment variables onto c.
func (c *Config) ApplyEnv() error {
	var env Env
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return errors.Wrap(err, "read environment")
	}
	if env.Listen != "" {
		c.Listen = env.Listen
	}
	if env.StorePath != "" {
		c.StorePath = env.StorePath
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.LogFormat != "" {
		c.LogFormat = env.LogFormat
	}
	if env.Timezone != "" {
		c.Timezone = env.Timezone
	}
	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms (creating the parent directory) and returned.
//   - Otherwise the YAML is read and defaults are filled in.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "create config dir")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	tmp, err := os.CreateTemp(dir, ".groupsched-config-*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp config")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp config")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp config")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "chmod temp config")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "replace %s", path)
	}
	return nil
}

// Save is a convenience method that delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
