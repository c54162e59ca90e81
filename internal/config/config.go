// Package config handles application configuration from a YAML file plus
// environment variable overrides for file locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultProfileName is the profile every feed falls back to.
const DefaultProfileName = "default"

// FeedSettings controls the polling engine.
type FeedSettings struct {
	SearchWindowDays      int  `yaml:"search_window"`
	SearchIntervalMinutes int  `yaml:"search_interval"`
	SearchOnStartup       bool `yaml:"search_on_startup"`
	FloodCap              int  `yaml:"flood_cap"`
	FetchTimeoutSeconds   int  `yaml:"fetch_timeout"`
}

// SearchWindow returns the seen-entry retention period.
func (f FeedSettings) SearchWindow() time.Duration {
	return time.Duration(f.SearchWindowDays) * 24 * time.Hour
}

// SearchInterval returns the pause between fetch cycles.
func (f FeedSettings) SearchInterval() time.Duration {
	return time.Duration(f.SearchIntervalMinutes) * time.Minute
}

// FetchTimeout returns the per-feed HTTP deadline.
func (f FeedSettings) FetchTimeout() time.Duration {
	return time.Duration(f.FetchTimeoutSeconds) * time.Second
}

// Profile holds the notification settings of one named profile. Fields are
// pointers so the resolver can distinguish "unset" from a zero value when
// merging a profile over the default one.
type Profile struct {
	Launcher           *string  `yaml:"launcher"`
	LaunchArgs         []string `yaml:"launch_args"`
	Transience         *bool    `yaml:"transience"`
	PersistOnClick     *bool    `yaml:"persist_on_click"`
	Urgency            *int     `yaml:"urgency"`
	TimeoutMS          *int     `yaml:"timeout"`
	EntryAge           *bool    `yaml:"entry_age"`
	DownloadThumbnails *bool    `yaml:"download_thumbnails"`
	RequirePatterns    []string `yaml:"require_patterns"`
	ExcludePatterns    []string `yaml:"exclude_patterns"`
}

// Config holds the application configuration.
type Config struct {
	Feed     FeedSettings       `yaml:"feed"`
	Profiles map[string]Profile `yaml:"profiles"`

	URLsPath     string `yaml:"-"`
	DatabasePath string `yaml:"-"`
	TmpDir       string `yaml:"-"`
	LogLevel     string `yaml:"-"`
}

// Load reads the YAML config file and applies environment overrides.
// A missing or invalid config file is a fatal startup error.
func Load() (*Config, error) {
	path := envOrDefault("FEEDBELL_CONFIG", "./config.yaml")

	cfg := &Config{
		Feed: FeedSettings{
			SearchWindowDays:      1,
			SearchIntervalMinutes: 30,
			SearchOnStartup:       true,
			FloodCap:              10,
			FetchTimeoutSeconds:   10,
		},
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}
	if _, ok := cfg.Profiles[DefaultProfileName]; !ok {
		cfg.Profiles[DefaultProfileName] = Profile{}
	}

	cfg.URLsPath = envOrDefault("FEEDBELL_URLS", "./urls")
	cfg.DatabasePath = envOrDefault("DATABASE_PATH", "./data/feedbell.db")
	cfg.TmpDir = envOrDefault("FEEDBELL_TMP_DIR", filepath.Join(os.TempDir(), "feedbell"))
	cfg.LogLevel = envOrDefault("LOG_LEVEL", "info")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Feed.SearchWindowDays <= 0 {
		return fmt.Errorf("feed.search_window must be positive, got %d", c.Feed.SearchWindowDays)
	}
	if c.Feed.SearchIntervalMinutes <= 0 {
		return fmt.Errorf("feed.search_interval must be positive, got %d", c.Feed.SearchIntervalMinutes)
	}
	if c.Feed.FloodCap < 0 {
		return fmt.Errorf("feed.flood_cap must not be negative, got %d", c.Feed.FloodCap)
	}
	if c.Feed.FetchTimeoutSeconds <= 0 {
		return fmt.Errorf("feed.fetch_timeout must be positive, got %d", c.Feed.FetchTimeoutSeconds)
	}
	for name, p := range c.Profiles {
		if p.Urgency != nil && (*p.Urgency < 0 || *p.Urgency > 2) {
			return fmt.Errorf("profile %q: urgency must be 0, 1 or 2, got %d", name, *p.Urgency)
		}
		if p.TimeoutMS != nil && *p.TimeoutMS < -1 {
			return fmt.Errorf("profile %q: timeout must be >= -1, got %d", name, *p.TimeoutMS)
		}
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
