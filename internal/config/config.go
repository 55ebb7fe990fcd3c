// internal/config/config.go
package config

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var ErrInvalidConfig = errors.New("invalid config")

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Config holds the server settings.
type Config struct {
	Addr                string        `yaml:"addr"`
	Debug               bool          `yaml:"debug"`
	Namespace           string        `yaml:"namespace"`
	Store               StoreConfig   `yaml:"store"`
	CreateRatePerMinute float64       `yaml:"create_rate_per_minute"`
	CreateBurst         int           `yaml:"create_burst"`
	OTLPEndpoint        string        `yaml:"otlp_endpoint"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the settings used when nothing else is configured.
func Default() Config {
	return Config{
		Addr:                ":8080",
		Namespace:           "library",
		Store:               StoreConfig{Driver: DriverMemory},
		CreateRatePerMinute: 60,
		CreateBurst:         10,
		ShutdownTimeout:     10 * time.Second,
	}
}

// Load reads path (when not empty) over the defaults, then applies the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	c.Addr = cmp.Or(getenv("LIBRARY_ADDR"), c.Addr)
	c.Namespace = cmp.Or(getenv("LIBRARY_NAMESPACE"), c.Namespace)
	c.Store.Driver = cmp.Or(getenv("LIBRARY_STORE_DRIVER"), c.Store.Driver)
	c.Store.DSN = cmp.Or(getenv("LIBRARY_STORE_DSN"), c.Store.DSN)
	c.OTLPEndpoint = cmp.Or(getenv("OTEL_EXPORTER_OTLP_ENDPOINT"), c.OTLPEndpoint)

	if v := getenv("LIBRARY_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: LIBRARY_DEBUG: %v", ErrInvalidConfig, err)
		}
		c.Debug = debug
	}
	return nil
}

// Validate reports the first setting the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	case c.Namespace == "":
		return fmt.Errorf("%w: namespace is empty", ErrInvalidConfig)
	case c.CreateRatePerMinute < 0:
		return fmt.Errorf("%w: create_rate_per_minute is negative", ErrInvalidConfig)
	case c.CreateRatePerMinute > 0 && c.CreateBurst < 1:
		return fmt.Errorf("%w: create_burst must be at least 1", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn is required for %s", ErrInvalidConfig, c.Store.Driver)
		}
	default:
		return fmt.Errorf("%w: unknown store driver %q", ErrInvalidConfig, c.Store.Driver)
	}
	return nil
}

// CreateLimiter returns the limiter for library creation, nil when unlimited.
func (c Config) CreateLimiter() *rate.Limiter {
	if c.CreateRatePerMinute == 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(c.CreateRatePerMinute/60), c.CreateBurst)
}
