// Package config loads the TOML configuration describing every pool
// the process runs, plus the metrics listener, and bootstraps the
// registry from it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/smartpool-go/smartpool/lib/errors"
	"github.com/smartpool-go/smartpool/lib/mysqlconn"
	"github.com/smartpool-go/smartpool/lib/pool"
	"github.com/smartpool-go/smartpool/lib/proxy"
	"github.com/smartpool-go/smartpool/lib/redisconn"
	"github.com/smartpool-go/smartpool/lib/registry"
)

// Default configuration values
const (
	DefaultMetricsListen  = "127.0.0.1:9090"
	DefaultMinCount       = 1
	DefaultMaxCount       = 10
	DefaultMaxIdleSeconds = 60
	DefaultCleanInterval  = 100
)

// Supported pool drivers.
const (
	DriverMySQL = "mysql"
	DriverRedis = "redis"
)

// Config holds all configuration for a smartpool process.
type Config struct {
	Metrics MetricsConfig         `toml:"metrics"`
	Pools   map[string]PoolConfig `toml:"pools"`
}

// MetricsConfig contains metrics endpoint settings.
type MetricsConfig struct {
	// Enabled controls whether the metrics listener is started
	Enabled bool `toml:"enabled"`
	// Listen is the address to bind the metrics server to
	Listen string `toml:"listen"`
}

// PoolConfig describes one named pool and its backend.
type PoolConfig struct {
	// Driver selects the backend, "mysql" or "redis"
	Driver string `toml:"driver"`
	// Addr is the backend address (host:port)
	Addr string `toml:"addr"`
	// User is the MySQL account name
	User string `toml:"user"`
	// Password is the backend password
	Password string `toml:"password"`
	// Database is the MySQL schema name
	Database string `toml:"database"`
	// DB is the Redis database index
	DB int `toml:"db"`
	// MinCount is the floor the cleaner never evicts below. Omitted
	// means DefaultMinCount; an explicit 0 allows draining to empty.
	MinCount *int `toml:"min_count"`
	// MaxCount is the hard capacity
	MaxCount int `toml:"max_count"`
	// MaxIdleSeconds is the idle age beyond which resources are evicted
	MaxIdleSeconds int `toml:"max_idle_seconds"`
	// CleanInterval is the number of acquisitions between cleanup
	// passes. Omitted means DefaultCleanInterval; an explicit 0
	// disables periodic cleanup.
	CleanInterval *int `toml:"clean_interval"`
	// Cooperative disables internal locking for single-goroutine use
	Cooperative bool `toml:"cooperative"`
}

// DefaultConfig returns a Config with sensible defaults and no pools.
func DefaultConfig() *Config {
	return &Config{
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  DefaultMetricsListen,
		},
		Pools: map[string]PoolConfig{},
	}
}

// DefaultPoolConfig returns the per-pool defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinCount:       intRef(DefaultMinCount),
		MaxCount:       DefaultMaxCount,
		MaxIdleSeconds: DefaultMaxIdleSeconds,
		CleanInterval:  intRef(DefaultCleanInterval),
	}
}

// intRef is used for the pool fields where zero is meaningful, so TOML
// can distinguish an omitted key from an explicit 0.
func intRef(v int) *int {
	return &v
}

// LoadConfig reads configuration from a TOML file.
// If the file doesn't exist, it returns the default configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyPoolDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes the configuration to a TOML file.
// It creates the parent directory if it doesn't exist.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// applyPoolDefaults fills unset sizing fields in each pool section.
// Zero is a meaningful value for min_count and clean_interval, so only
// absent keys are defaulted there.
func (c *Config) applyPoolDefaults() {
	for name, pc := range c.Pools {
		if pc.MinCount == nil {
			pc.MinCount = intRef(DefaultMinCount)
		}
		if pc.MaxCount == 0 {
			pc.MaxCount = DefaultMaxCount
		}
		if pc.MaxIdleSeconds == 0 {
			pc.MaxIdleSeconds = DefaultMaxIdleSeconds
		}
		if pc.CleanInterval == nil {
			pc.CleanInterval = intRef(DefaultCleanInterval)
		}
		c.Pools[name] = pc
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return errors.Wrap("metrics.listen is required", errors.ErrConfiguration)
	}
	for name, pc := range c.Pools {
		switch pc.Driver {
		case DriverMySQL, DriverRedis:
		default:
			return errors.Wrap(
				fmt.Sprintf("pools.%s.driver must be %q or %q", name, DriverMySQL, DriverRedis),
				errors.ErrConfiguration)
		}
		if pc.Addr == "" {
			return errors.Wrap(
				fmt.Sprintf("pools.%s.addr is required", name),
				errors.ErrConfiguration)
		}
		if pc.minCount() > pc.MaxCount {
			return errors.Wrap(
				fmt.Sprintf("pools.%s.min_count exceeds max_count", name),
				errors.ErrConfiguration)
		}
	}
	return nil
}

// minCount resolves the floor, defaulting when the key was omitted.
func (pc PoolConfig) minCount() int {
	if pc.MinCount == nil {
		return DefaultMinCount
	}
	return *pc.MinCount
}

// cleanInterval resolves the cleanup cadence, defaulting when the key
// was omitted.
func (pc PoolConfig) cleanInterval() int {
	if pc.CleanInterval == nil {
		return DefaultCleanInterval
	}
	return *pc.CleanInterval
}

// PoolSettings converts a pool section to the pool's own config type.
func (pc PoolConfig) PoolSettings() pool.Config {
	return pool.Config{
		MinCount:      pc.minCount(),
		MaxCount:      pc.MaxCount,
		MaxIdleTime:   time.Duration(pc.MaxIdleSeconds) * time.Second,
		CleanInterval: pc.cleanInterval(),
		Cooperative:   pc.Cooperative,
	}
}

// factory builds the backend factory for a pool section.
func (pc PoolConfig) factory() (pool.Factory[proxy.Client], error) {
	switch pc.Driver {
	case DriverMySQL:
		return mysqlconn.Factory(mysqlconn.Config{
			Addr:     pc.Addr,
			User:     pc.User,
			Password: pc.Password,
			Database: pc.Database,
		})
	case DriverRedis:
		return redisconn.Factory(redisconn.Config{
			Addr:     pc.Addr,
			Password: pc.Password,
			DB:       pc.DB,
		}), nil
	default:
		return nil, errors.Wrap("unknown driver "+pc.Driver, errors.ErrConfiguration)
	}
}

// OpenPools builds every configured pool and registers its proxy.
// Pools are created in name order so startup logs are stable; no
// backend connection is made until first acquisition.
func OpenPools(cfg *Config, reg *registry.Registry) error {
	names := make([]string, 0, len(cfg.Pools))
	for name := range cfg.Pools {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		pc := cfg.Pools[name]
		factory, err := pc.factory()
		if err != nil {
			return errors.Wrap("pool "+name, err)
		}
		p, err := pool.New(name, factory, pc.PoolSettings())
		if err != nil {
			return errors.Wrap("pool "+name, err)
		}
		if err := reg.Init(proxy.New(p)); err != nil {
			return err
		}
		log.WithField("pool", name).
			WithField("driver", pc.Driver).
			WithField("max_count", pc.MaxCount).
			Info("pool configured")
	}
	return nil
}
