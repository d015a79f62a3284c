package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"agendacal/internal/agenda"
	appLog "agendacal/internal/log"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint, a file:// URL or a plain path.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label shown in the UI.
	Name string `yaml:"name" json:"name"`
	// Color is applied to events that do not carry their own.
	Color string `yaml:"color,omitempty" json:"color,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	// Driver is "ics", "sqlite" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the sqlite file path or postgres connection string.
	DSN string `yaml:"dsn" json:"dsn"`
	// CacheDir holds the HTTP cache of ICS subscriptions.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`
	// ImportPastDays / ImportFutureDays bound what an ICS import copies into
	// the SQL table, relative to today.
	ImportPastDays   int `yaml:"import_past_days" json:"import_past_days"`
	ImportFutureDays int `yaml:"import_future_days" json:"import_future_days"`
}

// WindowConfig tunes the agenda window.
type WindowConfig struct {
	MaxChunks        int `yaml:"max_chunks" json:"max_chunks"`
	IdealRows        int `yaml:"ideal_rows" json:"ideal_rows"`
	MinSpanDays      int `yaml:"min_span_days" json:"min_span_days"`
	MaxSpanDays      int `yaml:"max_span_days" json:"max_span_days"`
	PrefetchBoundary int `yaml:"prefetch_boundary" json:"prefetch_boundary"`
	// RetryBudget is the number of widenings of an empty fetch. Zero means
	// the default; a negative value disables widening.
	RetryBudget int `yaml:"retry_budget" json:"retry_budget"`
}

// CaptureConfig controls the headless PNG capture of the agenda page.
type CaptureConfig struct {
	Output string `yaml:"output" json:"output"`
	Width  int    `yaml:"width" json:"width"`
	Height int    `yaml:"height" json:"height"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone (e.g. "Asia/Seoul").
	// Julian days are computed in this zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// for reloading the store and refreshing the window.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// HideDeclined starts the window with declined events filtered out.
	HideDeclined bool `yaml:"hide_declined" json:"hide_declined"`

	// SelfEmails are the attendee addresses treated as the viewer.
	SelfEmails []string `yaml:"self_emails" json:"self_emails"`

	Store   StoreConfig   `yaml:"store" json:"store"`
	Window  WindowConfig  `yaml:"window" json:"window"`
	Capture CaptureConfig `yaml:"capture" json:"capture"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:      "127.0.0.1:8080",
		Timezone:    "Local",
		RefreshCron: "*/15 * * * *",
		LogLevel:    "info",
		SelfEmails:  []string{},
		ICS:         []ICSConfig{},
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.SelfEmails == nil {
		c.SelfEmails = []string{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics%d", i+1)
		}
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = "ics"
	}
	if c.Store.CacheDir == "" {
		c.Store.CacheDir = "./var/ics-cache"
	}
	if c.Store.Driver == "sqlite" && c.Store.DSN == "" {
		c.Store.DSN = "./var/agenda.db"
	}
	if c.Store.ImportPastDays <= 0 {
		c.Store.ImportPastDays = 90
	}
	if c.Store.ImportFutureDays <= 0 {
		c.Store.ImportFutureDays = 365
	}

	def := agenda.DefaultOptions()
	if c.Window.MaxChunks <= 0 {
		c.Window.MaxChunks = def.MaxChunks
	}
	if c.Window.IdealRows <= 0 {
		c.Window.IdealRows = def.IdealRows
	}
	if c.Window.MinSpanDays <= 0 {
		c.Window.MinSpanDays = def.MinSpanDays
	}
	if c.Window.MaxSpanDays < c.Window.MinSpanDays {
		c.Window.MaxSpanDays = max(def.MaxSpanDays, c.Window.MinSpanDays)
	}
	if c.Window.PrefetchBoundary <= 0 {
		c.Window.PrefetchBoundary = def.PrefetchBoundary
	}
	if c.Window.RetryBudget == 0 {
		c.Window.RetryBudget = def.RetryBudget
	}

	if c.Capture.Output == "" {
		c.Capture.Output = "./var/agenda.png"
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = 800
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 1280
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "ics", "sqlite":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	seen := map[string]bool{}
	for _, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("ics %s: url is empty", src.ID))
		}
		if seen[src.ID] {
			errs = append(errs, fmt.Errorf("ics %s: duplicate id", src.ID))
		}
		seen[src.ID] = true
	}
	return errors.Join(errs...)
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// WindowOptions converts the window section into agenda options.
func (c *Config) WindowOptions(loc *time.Location) agenda.Options {
	opts := agenda.DefaultOptions()
	opts.MaxChunks = c.Window.MaxChunks
	opts.IdealRows = c.Window.IdealRows
	opts.MinSpanDays = c.Window.MinSpanDays
	opts.MaxSpanDays = c.Window.MaxSpanDays
	opts.ResetSpanDays = c.Window.MinSpanDays
	opts.PrefetchBoundary = c.Window.PrefetchBoundary
	opts.RetryBudget = max(c.Window.RetryBudget, 0)
	opts.HideDeclined = c.HideDeclined
	opts.Location = loc
	return opts
}

// Load loads configuration from the given YAML path.
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

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			appLog.Info("config not found, writing defaults", "path", path)
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
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

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".agendacal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
