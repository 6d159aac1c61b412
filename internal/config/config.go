// Package config loads smartview settings from TOML and builds the
// process logger.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/roach88/smartview/internal/engine"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Engine   EngineConfig   `toml:"engine"`
	Library  LibraryConfig  `toml:"library"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// DatabaseConfig contains store settings.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// EngineConfig contains controller settings.
type EngineConfig struct {
	Workers     int             `toml:"workers"`
	TimeRefresh string          `toml:"time_refresh"`
	RateLimit   RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig mirrors engine.RateLimitConfig.
type RateLimitConfig struct {
	EventsMax    int           `toml:"events_max"`
	Interval     time.Duration `toml:"interval"`
	CPUMax       float64       `toml:"cpu_max"`
	RefreshTicks int           `toml:"refresh_ticks"`
	TickPeriod   time.Duration `toml:"tick_period"`
}

// LibraryConfig contains media settings.
type LibraryConfig struct {
	MediaRoot string `toml:"media_root"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// LoadConfig reads and parses a TOML configuration file. Keys missing
// from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded
// example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile writes the embedded example config to path. It
// refuses to overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks value ranges. Cron syntax is checked when the engine
// is built.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Engine.Workers < 1 {
		errs = append(errs, fmt.Errorf("engine.workers must be at least 1, got %d", c.Engine.Workers))
	}
	rl := c.Engine.RateLimit
	if rl.EventsMax < 0 {
		errs = append(errs, fmt.Errorf("engine.rate_limit.events_max must not be negative, got %d", rl.EventsMax))
	}
	if rl.EventsMax > 0 {
		if rl.Interval <= 0 {
			errs = append(errs, errors.New("engine.rate_limit.interval must be positive"))
		}
		if rl.TickPeriod <= 0 {
			errs = append(errs, errors.New("engine.rate_limit.tick_period must be positive"))
		}
		if rl.RefreshTicks < 1 {
			errs = append(errs, errors.New("engine.rate_limit.refresh_ticks must be at least 1"))
		}
	}
	if rl.CPUMax < 0 || rl.CPUMax > 1 {
		errs = append(errs, fmt.Errorf("engine.rate_limit.cpu_max must be within [0, 1], got %g", rl.CPUMax))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// EngineRateLimit converts the rate limit section for the controller.
func (c *Config) EngineRateLimit() engine.RateLimitConfig {
	rl := c.Engine.RateLimit
	return engine.RateLimitConfig{
		EventsMax:    rl.EventsMax,
		Interval:     rl.Interval,
		CPUMax:       rl.CPUMax,
		RefreshTicks: rl.RefreshTicks,
		TickPeriod:   rl.TickPeriod,
	}
}

// EngineOptions returns the controller options the config determines.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithWorkers(c.Engine.Workers),
		engine.WithTimeRefresh(c.Engine.TimeRefresh),
		engine.WithRateLimit(c.EngineRateLimit()),
	}
}
