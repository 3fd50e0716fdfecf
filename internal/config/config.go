// Package config loads server settings from an optional YAML file and
// lets environment variables override them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/dopamine/market-sim/internal/kv"
)

// Config holds every setting cmd/server and cmd/simctl read.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Market struct {
		TickIntervalMS int             `yaml:"tick_interval_ms"`
		AlertThreshold decimal.Decimal `yaml:"alert_threshold"` // percent
		AlertLimit     int             `yaml:"alert_limit"`
		RosterPath     string          `yaml:"roster_path"` // empty uses the built-in roster
		Seed           int64           `yaml:"seed"`        // zero seeds from the clock
	} `yaml:"market"`

	Storage struct {
		Backend     string `yaml:"backend"` // empty picks from the URLs below
		RedisURL    string `yaml:"redis_url"`
		RedisPrefix string `yaml:"redis_prefix"`
		DatabaseURL string `yaml:"database_url"`
		SQLitePath  string `yaml:"sqlite_path"`
		CacheTTLSec int    `yaml:"cache_ttl_sec"`
	} `yaml:"storage"`

	Accounts struct {
		InviteCodes []string `yaml:"invite_codes"` // empty uses the defaults
	} `yaml:"accounts"`

	Admin struct {
		Secret      string `yaml:"secret"` // empty disables the admin routes
		TokenTTLSec int    `yaml:"token_ttl_sec"`
	} `yaml:"admin"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"` // optional rotated log file
	} `yaml:"logging"`
}

// Default returns the settings used when no file is given.
func Default() *Config {
	var cfg Config
	cfg.Server.Port = "8080"
	cfg.Market.TickIntervalMS = 1500
	cfg.Market.AlertThreshold = decimal.NewFromInt(5)
	cfg.Market.AlertLimit = 3
	cfg.Storage.RedisPrefix = "marketsim:"
	cfg.Storage.CacheTTLSec = 30
	cfg.Admin.TokenTTLSec = 900
	cfg.Logging.Level = "info"
	return &cfg
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := overrideWithEnv(cfg); err != nil {
		return nil, err
	}
	cfg.inferBackend()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("port must be numeric: %q", c.Server.Port)
	}
	if c.Market.TickIntervalMS <= 0 {
		return errors.New("tick interval must be positive")
	}
	if !c.Market.AlertThreshold.IsPositive() {
		return errors.New("alert threshold must be positive")
	}
	if c.Market.AlertLimit < 0 {
		return errors.New("alert limit must not be negative")
	}

	switch c.Storage.Backend {
	case kv.BackendMemory:
	case kv.BackendRedis:
		if c.Storage.RedisURL == "" {
			return errors.New("redis backend requires redis_url")
		}
	case kv.BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("postgres backend requires database_url")
		}
	case kv.BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("sqlite backend requires sqlite_path")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.CacheTTLSec < 0 {
		return errors.New("cache ttl must not be negative")
	}
	if c.Admin.TokenTTLSec <= 0 {
		return errors.New("admin token ttl must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return nil
}

// TickInterval is the time between market ticks.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Market.TickIntervalMS) * time.Millisecond
}

// AdminTokenTTL is the lifetime of an admin unlock token.
func (c *Config) AdminTokenTTL() time.Duration {
	return time.Duration(c.Admin.TokenTTLSec) * time.Second
}

// KVOptions converts the storage section for kv.Open.
func (c *Config) KVOptions() kv.Options {
	return kv.Options{
		Backend:     c.Storage.Backend,
		RedisURL:    c.Storage.RedisURL,
		RedisPrefix: c.Storage.RedisPrefix,
		DatabaseURL: c.Storage.DatabaseURL,
		SQLitePath:  c.Storage.SQLitePath,
		CacheTTL:    time.Duration(c.Storage.CacheTTLSec) * time.Second,
	}
}

// inferBackend picks a backend from the configured URLs when none is named:
// a database wins, then sqlite, then redis alone, then memory.
func (c *Config) inferBackend() {
	if c.Storage.Backend != "" {
		c.Storage.Backend = strings.ToLower(c.Storage.Backend)
		return
	}
	switch {
	case c.Storage.DatabaseURL != "":
		c.Storage.Backend = kv.BackendPostgres
	case c.Storage.SQLitePath != "":
		c.Storage.Backend = kv.BackendSQLite
	case c.Storage.RedisURL != "":
		c.Storage.Backend = kv.BackendRedis
	default:
		c.Storage.Backend = kv.BackendMemory
	}
}

// overrideWithEnv replaces settings whose environment variable is set.
func overrideWithEnv(cfg *Config) error {
	strs := map[string]*string{
		"PORT":            &cfg.Server.Port,
		"ROSTER_PATH":     &cfg.Market.RosterPath,
		"STORAGE_BACKEND": &cfg.Storage.Backend,
		"REDIS_URL":       &cfg.Storage.RedisURL,
		"DATABASE_URL":    &cfg.Storage.DatabaseURL,
		"SQLITE_PATH":     &cfg.Storage.SQLitePath,
		"ADMIN_SECRET":    &cfg.Admin.Secret,
		"LOG_LEVEL":       &cfg.Logging.Level,
		"LOG_FILE":        &cfg.Logging.File,
	}
	for name, dst := range strs {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("TICK_INTERVAL: %w", err)
		}
		cfg.Market.TickIntervalMS = int(d / time.Millisecond)
	}
	if v := os.Getenv("INVITE_CODES"); v != "" {
		var codes []string
		for _, c := range strings.Split(v, ",") {
			if c = strings.TrimSpace(c); c != "" {
				codes = append(codes, c)
			}
		}
		cfg.Accounts.InviteCodes = codes
	}
	return nil
}
