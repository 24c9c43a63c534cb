// SPDX-FileCopyrightText: 2026 Bonial International GmbH
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Name is used for the environment variable prefix and the data directory.
const Name = "kev-tracker"

const (
	DefaultFeedURL         = "https://www.cisa.gov/sites/default/files/feeds/known_exploited_vulnerabilities.json"
	DefaultFallbackFeedURL = "https://raw.githubusercontent.com/cisagov/kev-data/main/known_exploited_vulnerabilities.json"
	DefaultEPSSURL         = "https://api.first.org/data/v1/epss"
	DefaultNVDURL          = "https://services.nvd.nist.gov/rest/json/cves/2.0"

	// DefaultNVDMinInterval keeps unauthenticated clients under the NVD
	// limit of 5 requests in a rolling 30 second window.
	DefaultNVDMinInterval = 6 * time.Second

	cacheFilename   = "data_cache.json"
	archiveDirname  = "Legacy"
	redactedMarker  = "******"
	nvdAPIKeyEnvVar = "NVD_API_KEY"
)

// Config is the complete runtime configuration. It is built once by the CLI
// and handed to each component explicitly.
type Config struct {
	Feed  Feed  `yaml:"feed" json:"feed" mapstructure:"feed"`
	EPSS  EPSS  `yaml:"epss" json:"epss" mapstructure:"epss"`
	NVD   NVD   `yaml:"nvd" json:"nvd" mapstructure:"nvd"`
	Cache Cache `yaml:"cache" json:"cache" mapstructure:"cache"`
	HTTP  HTTP  `yaml:"http" json:"http" mapstructure:"http"`
	Watch Watch `yaml:"watch" json:"watch" mapstructure:"watch"`
	Log   Log   `yaml:"log" json:"log" mapstructure:"log"`
}

type Feed struct {
	URL         string `yaml:"url" json:"url" mapstructure:"url"`
	FallbackURL string `yaml:"fallback_url" json:"fallback_url" mapstructure:"fallback_url"`
}

type EPSS struct {
	URL string `yaml:"url" json:"url" mapstructure:"url"`
}

type NVD struct {
	URL         string        `yaml:"url" json:"url" mapstructure:"url"`
	APIKey      string        `yaml:"api_key" json:"api_key" mapstructure:"api_key"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval" mapstructure:"min_interval"`
	// PaceOnlyOnMiss waits MinInterval only after lookups that produced no
	// score instead of after every lookup.
	PaceOnlyOnMiss bool `yaml:"pace_only_on_miss" json:"pace_only_on_miss" mapstructure:"pace_only_on_miss"`
}

type Cache struct {
	Path       string `yaml:"path" json:"path" mapstructure:"path"`
	ArchiveDir string `yaml:"archive_dir" json:"archive_dir" mapstructure:"archive_dir"`
}

type HTTP struct {
	Timeout time.Duration `yaml:"timeout" json:"timeout" mapstructure:"timeout"`
}

type Watch struct {
	Interval time.Duration `yaml:"interval" json:"interval" mapstructure:"interval"`
	Listen   string        `yaml:"listen" json:"listen" mapstructure:"listen"`
}

type Log struct {
	Level  string `yaml:"level" json:"level" mapstructure:"level"`
	Format string `yaml:"format" json:"format" mapstructure:"format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Feed: Feed{
			URL:         DefaultFeedURL,
			FallbackURL: DefaultFallbackFeedURL,
		},
		EPSS: EPSS{URL: DefaultEPSSURL},
		NVD: NVD{
			URL:         DefaultNVDURL,
			MinInterval: DefaultNVDMinInterval,
		},
		Cache: Cache{
			Path: filepath.Join(xdg.DataHome, Name, cacheFilename),
		},
		HTTP: HTTP{Timeout: 60 * time.Second},
		Watch: Watch{
			Interval: 12 * time.Hour,
			Listen:   ":8084",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// NewViper returns a viper instance reading KEV_TRACKER_* environment
// variables, e.g. KEV_TRACKER_CACHE_PATH for cache.path.
func NewViper() *viper.Viper {
	v := viper.NewWithOptions(
		viper.EnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_")),
	)
	v.SetEnvPrefix(strings.ReplaceAll(Name, "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load resolves the configuration from defaults, an optional YAML file,
// the environment and any flags already bound to v.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setDefaults(v, Default())

	// the NVD key is usually provisioned under its conventional name
	if err := v.BindEnv("nvd.api_key", "KEV_TRACKER_NVD_API_KEY", nvdAPIKeyEnvVar); err != nil {
		return nil, fmt.Errorf("binding %s: %w", nvdAPIKeyEnvVar, err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding configuration: %w", err)
	}

	if cfg.Cache.ArchiveDir == "" {
		cfg.Cache.ArchiveDir = filepath.Join(filepath.Dir(cfg.Cache.Path), archiveDirname)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("feed.fallback_url", d.Feed.FallbackURL)
	v.SetDefault("epss.url", d.EPSS.URL)
	v.SetDefault("nvd.url", d.NVD.URL)
	v.SetDefault("nvd.api_key", d.NVD.APIKey)
	v.SetDefault("nvd.min_interval", d.NVD.MinInterval)
	v.SetDefault("nvd.pace_only_on_miss", d.NVD.PaceOnlyOnMiss)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.archive_dir", d.Cache.ArchiveDir)
	v.SetDefault("http.timeout", d.HTTP.Timeout)
	v.SetDefault("watch.interval", d.Watch.Interval)
	v.SetDefault("watch.listen", d.Watch.Listen)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks the options the components cannot work without.
func (c *Config) Validate() error {
	var result *multierror.Error
	if c.Feed.URL == "" {
		result = multierror.Append(result, errors.New("feed.url must not be empty"))
	}
	if c.EPSS.URL == "" {
		result = multierror.Append(result, errors.New("epss.url must not be empty"))
	}
	if c.NVD.URL == "" {
		result = multierror.Append(result, errors.New("nvd.url must not be empty"))
	}
	if c.NVD.MinInterval < 0 {
		result = multierror.Append(result, errors.New("nvd.min_interval must not be negative"))
	}
	if c.Cache.Path == "" {
		result = multierror.Append(result, errors.New("cache.path must not be empty"))
	}
	if c.HTTP.Timeout <= 0 {
		result = multierror.Append(result, errors.New("http.timeout must be positive"))
	}
	if c.Watch.Interval <= 0 {
		result = multierror.Append(result, errors.New("watch.interval must be positive"))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		result = multierror.Append(result, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// String renders the configuration as YAML with secrets masked.
func (c Config) String() string {
	if c.NVD.APIKey != "" {
		c.NVD.APIKey = redactedMarker
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return c.plainString()
	}
	return string(out)
}

// plainString formats c without going through String.
func (c Config) plainString() string {
	type plain Config
	return fmt.Sprintf("%+v", plain(c))
}
