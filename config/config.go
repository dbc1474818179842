// Package config builds the process-wide configuration for the
// ingestion core: vendor credentials, polling cadence, cache bounds,
// and the watch-list filters that drive store admission.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polarityio/dataminr-pulse-limited/core"
)

// WatchEntry is the shape setListsToWatch/setAlertTypesToWatch accept:
// either a bare string or a {value, display} pair from the host's UI.
type WatchEntry struct {
	Value   string `json:"value" yaml:"value"`
	Display string `json:"display,omitempty" yaml:"display,omitempty"`
}

// Config holds every option spec.md §6 enumerates plus the
// process-wide constants it names, assembled with three-layer
// priority: defaults, then environment variables, then functional
// options (highest).
type Config struct {
	URL          string `json:"url" env:"DATAMINR_URL"`
	ClientID     string `json:"clientId" env:"DATAMINR_CLIENT_ID"`
	ClientSecret string `json:"clientSecret" env:"DATAMINR_CLIENT_SECRET"`

	// PollInterval is the alerts-poll period; minimum 30s, enforced in Validate.
	PollInterval time.Duration `json:"pollInterval" env:"DATAMINR_POLL_INTERVAL" default:"60s"`

	// Timezone is an optional render hint passed through to the renderer.
	Timezone string `json:"timezone" env:"DATAMINR_TIMEZONE"`

	// ListsToWatch/AlertTypesToWatch are normalized at NewConfig time
	// into ListIDs/AlertTypes below; the raw entries stay here only to
	// support LoadFromFile round-tripping.
	ListsToWatch      []WatchEntry `json:"setListsToWatch,omitempty" yaml:"setListsToWatch,omitempty"`
	AlertTypesToWatch []WatchEntry `json:"setAlertTypesToWatch,omitempty" yaml:"setAlertTypesToWatch,omitempty"`

	// ListIDs is the normalized read-time list-id filter (empty = no filter).
	ListIDs []string `json:"-" yaml:"-"`
	// AlertTypes is the normalized, lowercased admission-time type filter.
	AlertTypes []string `json:"-" yaml:"-"`

	// Process-wide constants (spec.md §6).
	CacheMaxAgeMs           int64  `json:"-" env:"DATAMINR_CACHE_MAX_AGE_MS" default:"259200000"` // 72h
	CacheMaxItems           int    `json:"-" env:"DATAMINR_CACHE_MAX_ITEMS" default:"100"`
	DefaultPageSize         int    `json:"-" env:"DATAMINR_DEFAULT_PAGE_SIZE" default:"10"`
	MaxPageSize             int    `json:"-" env:"DATAMINR_MAX_PAGE_SIZE" default:"100"`
	MaxPages                int    `json:"-" env:"DATAMINR_MAX_PAGES" default:"50"`
	ListsPollInterval       time.Duration `json:"-" env:"DATAMINR_LISTS_POLL_INTERVAL" default:"5m"`
	TrialMode               bool   `json:"-" env:"DATAMINR_TRIAL_MODE" default:"false"`
	MaxQueueSize            int    `json:"-" env:"DATAMINR_MAX_QUEUE_SIZE" default:"12"`
	QueueRequestTimeoutMs   int64  `json:"-" env:"DATAMINR_QUEUE_REQUEST_TIMEOUT_MS" default:"120000"`
	MaxRetries              int    `json:"-" env:"DATAMINR_MAX_RETRIES" default:"3"`
	HMACMode                bool   `json:"-" env:"DATAMINR_HMAC_MODE" default:"false"`
	DownloadURL             string `json:"-" env:"DATAMINR_DOWNLOAD_URL"`

	logger core.Logger
}

// DefaultAlertTypesToWatch is the admission filter set when the host
// never configures one (spec.md §3).
var DefaultAlertTypesToWatch = []string{"flash", "urgent"}

// Option customizes a Config during NewConfig. Options run last and
// win over both defaults and environment variables.
type Option func(*Config) error

func DefaultConfig() *Config {
	return &Config{
		PollInterval:          60 * time.Second,
		CacheMaxAgeMs:         72 * 60 * 60 * 1000,
		CacheMaxItems:         100,
		DefaultPageSize:       10,
		MaxPageSize:           100,
		MaxPages:              50,
		ListsPollInterval:     5 * time.Minute,
		TrialMode:             false,
		MaxQueueSize:          12,
		QueueRequestTimeoutMs: 120_000,
		MaxRetries:            3,
		AlertTypes:            append([]string(nil), DefaultAlertTypesToWatch...),
	}
}

// LoadFromEnv overlays DATAMINR_* environment variables onto c, each
// read explicitly by name: only variables that are actually set
// override the current value.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("DATAMINR_URL"); v != "" {
		c.URL = v
	}
	if v := os.Getenv("DATAMINR_CLIENT_ID"); v != "" {
		c.ClientID = v
	}
	if v := os.Getenv("DATAMINR_CLIENT_SECRET"); v != "" {
		c.ClientSecret = v
	}
	if v := os.Getenv("DATAMINR_TIMEZONE"); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv("DATAMINR_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PollInterval = d
		} else if secs, err := strconv.Atoi(v); err == nil {
			c.PollInterval = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("DATAMINR_CACHE_MAX_AGE_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.CacheMaxAgeMs = n
		}
	}
	if v := os.Getenv("DATAMINR_CACHE_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.CacheMaxItems = n
		}
	}
	if v := os.Getenv("DATAMINR_DEFAULT_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.DefaultPageSize = n
		}
	}
	if v := os.Getenv("DATAMINR_MAX_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPageSize = n
		}
	}
	if v := os.Getenv("DATAMINR_MAX_PAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxPages = n
		}
	}
	if v := os.Getenv("DATAMINR_LISTS_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ListsPollInterval = d
		}
	}
	if v := os.Getenv("DATAMINR_TRIAL_MODE"); v != "" {
		c.TrialMode = parseBool(v)
	}
	if v := os.Getenv("DATAMINR_MAX_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxQueueSize = n
		}
	}
	if v := os.Getenv("DATAMINR_QUEUE_REQUEST_TIMEOUT_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.QueueRequestTimeoutMs = n
		}
	}
	if v := os.Getenv("DATAMINR_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("DATAMINR_HMAC_MODE"); v != "" {
		c.HMACMode = parseBool(v)
	}
	if v := os.Getenv("DATAMINR_DOWNLOAD_URL"); v != "" {
		c.DownloadURL = v
	}
	if v := os.Getenv("DATAMINR_ALERT_TYPES"); v != "" {
		c.AlertTypes = normalizeStrings(parseStringList(v))
	}
	if v := os.Getenv("DATAMINR_LIST_IDS"); v != "" {
		c.ListIDs = parseStringList(v)
	}
	return nil
}

// LoadFromFile overlays a JSON or YAML document onto c — chiefly the
// setListsToWatch/setAlertTypesToWatch overrides, though any other
// field the document names is overlaid too — and re-derives
// ListIDs/AlertTypes from the watch entries. Extensions other than .json/.yaml/.yml
// are rejected as an invalid configuration, matching the teacher's
// config loader's extension allowlist.
func (c *Config) LoadFromFile(path string) error {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("unsupported config file extension %s: %w", ext, core.ErrInvalidConfiguration)
	}

	if !filepath.IsAbs(cleanPath) {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		cleanPath = filepath.Join(wd, cleanPath)
	}

	data, err := os.ReadFile(cleanPath) // nosec G304 -- path validated and cleaned above
	if err != nil {
		return fmt.Errorf("read config file %s: %w", cleanPath, err)
	}

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse JSON config file: %w", core.ErrInvalidConfiguration)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse YAML config file: %w", core.ErrInvalidConfiguration)
		}
	}

	c.AlertTypes = normalizeWatchEntries(c.AlertTypesToWatch)
	if len(c.AlertTypes) == 0 {
		c.AlertTypes = append([]string(nil), DefaultAlertTypesToWatch...)
	}
	c.ListIDs = normalizeWatchEntries(c.ListsToWatch)
	return nil
}

// Validate enforces spec.md §6's option constraints.
func (c *Config) Validate() error {
	if c.URL == "" {
		return core.NewOpError("config.Validate", "config", core.ErrMissingConfiguration)
	}
	if strings.HasSuffix(c.URL, "/") {
		return core.NewOpError("config.Validate", "config", core.ErrInvalidConfiguration)
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return core.NewOpError("config.Validate", "config", core.ErrMissingConfiguration)
	}
	if c.PollInterval < 30*time.Second {
		return core.NewOpError("config.Validate", "config", core.ErrInvalidConfiguration)
	}
	return nil
}

// NewConfig assembles a Config from defaults, then the environment,
// then opts, validating the result. Matches the teacher's NewConfig
// three-layer priority exactly.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if len(cfg.AlertTypes) == 0 {
		cfg.AlertTypes = append([]string(nil), DefaultAlertTypesToWatch...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func parseStringList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseBool(s string) bool {
	v, _ := strconv.ParseBool(s)
	return v
}

// normalizeStrings lowercases and dedupes a raw type-name list.
func normalizeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// normalizeWatchEntries flattens WatchEntry.Value into the plain
// string set downstream code consumes — spec.md §9's "intertwined
// alert-type normalization" design note: strings and {value,display}
// objects collapse to one shape at the boundary.
func normalizeWatchEntries(entries []WatchEntry) []string {
	raw := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Value != "" {
			raw = append(raw, e.Value)
		}
	}
	return normalizeStrings(raw)
}
