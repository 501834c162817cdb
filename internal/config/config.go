// Package config loads and validates the application configuration from
// YAML, applying defaults for anything unspecified.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/tiercache/tiercache/pkg/errors"
	"github.com/tiercache/tiercache/pkg/types"
)

// Configuration represents the complete application configuration.
type Configuration struct {
	Cache      CacheConfig      `yaml:"cache"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
}

// CacheConfig configures the cache service and its tiers.
type CacheConfig struct {
	DefaultTTL   time.Duration    `yaml:"default_ttl"`
	DefaultTier  string           `yaml:"default_tier"`
	PersistOnSet bool             `yaml:"persist_on_set"`
	File         FileTierConfig   `yaml:"file"`
	SQLite       SQLiteTierConfig `yaml:"sqlite"`
}

// FileTierConfig configures the file-backed tier.
type FileTierConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
	Quota     string `yaml:"quota"`
}

// SQLiteTierConfig configures the SQLite-backed tier.
type SQLiteTierConfig struct {
	Path string `yaml:"path"`
}

// MonitoringConfig configures the metrics endpoint.
type MonitoringConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// APIConfig configures the outbound platform client.
type APIConfig struct {
	Endpoint          string        `yaml:"endpoint"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// DefaultConfiguration returns the configuration used when nothing is
// specified.
func DefaultConfiguration() *Configuration {
	return &Configuration{
		Cache: CacheConfig{
			DefaultTTL:  5 * time.Minute,
			DefaultTier: string(types.TierMemory),
			File: FileTierConfig{
				Directory: "/var/cache/tiercache",
				Prefix:    "tiercache_",
				Quota:     "5MB",
			},
			SQLite: SQLiteTierConfig{
				Path: "/var/cache/tiercache/cache.db",
			},
		},
		Monitoring: MonitoringConfig{
			Enabled: false,
			Port:    9090,
			Path:    "/metrics",
		},
		API: APIConfig{
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           30 * time.Second,
		},
	}
}

// Load reads a YAML configuration file, fills in defaults, and validates
// the result.
func Load(path string) (*Configuration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigLoad, errors.CategoryConfiguration,
			"failed to read configuration file "+path)
	}

	cfg := DefaultConfiguration()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeConfigLoad, errors.CategoryConfiguration,
			"failed to parse configuration file "+path)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Configuration) applyDefaults() {
	defaults := DefaultConfiguration()

	if c.Cache.DefaultTTL <= 0 {
		c.Cache.DefaultTTL = defaults.Cache.DefaultTTL
	}
	if c.Cache.DefaultTier == "" {
		c.Cache.DefaultTier = defaults.Cache.DefaultTier
	}
	if c.Cache.File.Directory == "" {
		c.Cache.File.Directory = defaults.Cache.File.Directory
	}
	if c.Cache.File.Prefix == "" {
		c.Cache.File.Prefix = defaults.Cache.File.Prefix
	}
	if c.Cache.File.Quota == "" {
		c.Cache.File.Quota = defaults.Cache.File.Quota
	}
	if c.Cache.SQLite.Path == "" {
		c.Cache.SQLite.Path = defaults.Cache.SQLite.Path
	}
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = defaults.Monitoring.Port
	}
	if c.Monitoring.Path == "" {
		c.Monitoring.Path = defaults.Monitoring.Path
	}
	if c.API.RequestsPerSecond <= 0 {
		c.API.RequestsPerSecond = defaults.API.RequestsPerSecond
	}
	if c.API.Burst <= 0 {
		c.API.Burst = defaults.API.Burst
	}
	if c.API.Timeout <= 0 {
		c.API.Timeout = defaults.API.Timeout
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Configuration) Validate() error {
	switch types.Tier(c.Cache.DefaultTier) {
	case types.TierMemory, types.TierFile, types.TierSQLite:
	default:
		return errors.Newf(errors.CodeInvalidConfig, errors.CategoryConfiguration,
			"unknown default tier %q", c.Cache.DefaultTier)
	}

	if _, err := ParseSize(c.Cache.File.Quota); err != nil {
		return err
	}

	if c.Monitoring.Enabled && (c.Monitoring.Port < 1 || c.Monitoring.Port > 65535) {
		return errors.Newf(errors.CodeInvalidConfig, errors.CategoryConfiguration,
			"invalid monitoring port %d", c.Monitoring.Port)
	}

	return nil
}

// FileQuotaBytes returns the parsed file-tier quota.
func (c *Configuration) FileQuotaBytes() int64 {
	size, err := ParseSize(c.Cache.File.Quota)
	if err != nil {
		return 0
	}
	return size
}

// ParseSize converts a human-readable size string such as "5MB" or "512KB"
// into bytes. A bare number is taken as bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" {
		return 0, errors.New(errors.CodeInvalidConfig, errors.CategoryConfiguration,
			"empty size string")
	}

	multiplier := int64(1)
	switch {
	case strings.HasSuffix(s, "GB"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "GB")
	case strings.HasSuffix(s, "MB"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "MB")
	case strings.HasSuffix(s, "KB"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "KB")
	case strings.HasSuffix(s, "B"):
		s = strings.TrimSuffix(s, "B")
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || value < 0 {
		return 0, errors.New(errors.CodeInvalidConfig, errors.CategoryConfiguration,
			fmt.Sprintf("invalid size string %q", s))
	}

	return int64(value * float64(multiplier)), nil
}
