package trustkit

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config is the file-backed configuration for a trustkit deployment.
//
// Configuration is loaded from a single YAML file. Environment variables
// prefixed TRUSTKIT_ override individual keys after the file is read.
type Config struct {
	Database   DatabaseConfig `yaml:"database"`
	Redis      RedisConfig    `yaml:"redis"`
	Cache      CacheConfig    `yaml:"cache"`
	Trust      TrustConfig    `yaml:"trust"`
	Screen     ScreenConfig   `yaml:"screen"`
	Superusers []string       `yaml:"superusers"`
	Invites    InviteConfig   `yaml:"invites"`
	Server     ServerConfig   `yaml:"server"`
	Log        LogConfig      `yaml:"log"`
}

// DatabaseConfig configures the Postgres connection.
type DatabaseConfig struct {
	URL  string     `yaml:"url"`
	Pool PoolConfig `yaml:"pool"`
}

// RedisConfig enables the shared permission cache when URL is set.
type RedisConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// CacheConfig bounds permission cache staleness.
type CacheConfig struct {
	TTL  time.Duration `yaml:"ttl"`
	Size int           `yaml:"size"`
}

// ScreenConfig selects the content screen's attribution mode.
type ScreenConfig struct {
	Mode ScreenMode `yaml:"mode"`
}

// InviteConfig configures invite codes and redemption throttling.
type InviteConfig struct {
	CodeLength int `yaml:"code_length"`
	// RedeemRate is redemptions per second allowed per user.
	RedeemRate  float64 `yaml:"redeem_rate"`
	RedeemBurst int     `yaml:"redeem_burst"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Listen          string        `yaml:"listen"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() Config {
	return Config{
		Database: DatabaseConfig{Pool: DefaultPoolConfig()},
		Cache:    CacheConfig{TTL: 30 * time.Second, Size: 10000},
		Trust:    DefaultTrustConfig(),
		Screen:   ScreenConfig{Mode: ScreenModeMostSevere},
		Invites: InviteConfig{
			CodeLength:  DefaultInviteCodeLength,
			RedeemRate:  DefaultRedeemRate,
			RedeemBurst: DefaultRedeemBurst,
		},
		Server: ServerConfig{Listen: ":8080", ShutdownTimeout: 15 * time.Second},
		Log:    LogConfig{Level: "info", Format: "text"},
	}
}

// LoadConfig reads path over the defaults, applies environment overrides
// and validates the result. An empty path loads defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("TRUSTKIT_DATABASE_URL", &c.Database.URL)
	integer("TRUSTKIT_DATABASE_MAX_OPEN", &c.Database.Pool.MaxOpenConnections)
	integer("TRUSTKIT_DATABASE_MAX_IDLE", &c.Database.Pool.MaxIdleConnections)
	str("TRUSTKIT_REDIS_URL", &c.Redis.URL)
	duration("TRUSTKIT_CACHE_TTL", &c.Cache.TTL)
	integer("TRUSTKIT_CACHE_SIZE", &c.Cache.Size)
	integer("TRUSTKIT_TRUST_INITIAL_SCORE", &c.Trust.InitialScore)
	integer("TRUSTKIT_TRUST_WATCH_THRESHOLD", &c.Trust.WatchThreshold)
	integer("TRUSTKIT_INVITES_CODE_LENGTH", &c.Invites.CodeLength)
	str("TRUSTKIT_LISTEN", &c.Server.Listen)
	duration("TRUSTKIT_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)
	str("TRUSTKIT_LOG_LEVEL", &c.Log.Level)
	str("TRUSTKIT_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("TRUSTKIT_SCREEN_MODE"); ok && v != "" {
		c.Screen.Mode = ScreenMode(v)
	}
	if v, ok := lookup("TRUSTKIT_SUPERUSERS"); ok && v != "" {
		c.Superusers = nil
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				c.Superusers = append(c.Superusers, id)
			}
		}
	}
	return errors.Join(errs...)
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if err := c.Trust.Validate(); err != nil {
		return err
	}
	if _, err := ParseScreenMode(string(c.Screen.Mode)); err != nil {
		return err
	}
	if err := c.Database.Pool.Validate(); err != nil {
		return err
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative")
	}
	if c.Invites.CodeLength < 8 {
		return fmt.Errorf("invites.code_length must be at least 8")
	}
	if c.Invites.RedeemRate < 0 || c.Invites.RedeemBurst < 0 {
		return fmt.Errorf("invite redemption throttle must not be negative")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	for _, id := range c.Superusers {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("superusers must not contain empty ids")
		}
	}
	return nil
}

// NewLogger builds a logrus logger from the log settings.
func (c *Config) NewLogger() *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(c.Log.Level); err == nil {
		log.SetLevel(level)
	}
	if c.Log.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// ServiceOptions translates the configuration into Service options.
// The cache, metrics and logger are wired by the caller.
func (c *Config) ServiceOptions() []Option {
	mode, _ := ParseScreenMode(string(c.Screen.Mode))
	return []Option{
		WithTrustConfig(c.Trust),
		WithScreen(NewScreen(mode, nil)),
		WithSuperusers(c.Superusers...),
		WithInviteCodeLength(c.Invites.CodeLength),
	}
}
