// Package config loads the server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at the YAML config file.
const FileEnv = "LIBRARIUM_CONFIG"

// Supported store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Port            string        `yaml:"port"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Store        StoreConfig        `yaml:"store"`
	Log          LogConfig          `yaml:"log"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Registration RegistrationConfig `yaml:"registration"`
}

type StoreConfig struct {
	Driver       string `yaml:"driver"`
	DatabaseURL  string `yaml:"database_url"`
	DatabaseName string `yaml:"database_name"`
	SQLitePath   string `yaml:"sqlite_path"`
	MaxOpenConns int    `yaml:"max_open_conns"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
}

type LogConfig struct {
	// Format is "json" or "console".
	Format string `yaml:"format"`
	Level  string `yaml:"level"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// RegistrationConfig limits member registrations. A PerMinute of 0 disables
// the limit.
type RegistrationConfig struct {
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		Port:            "8000",
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		Store: StoreConfig{
			Driver:          DriverSQLite,
			SQLitePath:      "librarium.db",
			MaxOpenConns:    10,
			ConnectTimeout:  30 * time.Second,
			BreakerFailures: 5,
			BreakerTimeout:  30 * time.Second,
		},
		Log: LogConfig{
			Format: "json",
			Level:  "info",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "librarium",
		},
		Registration: RegistrationConfig{
			PerMinute: 5,
			Burst:     5,
		},
	}
}

// Load builds the configuration from defaults, the file named by
// LIBRARIUM_CONFIG and the environment, in that order.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.loadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) loadEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Store.Driver = getEnv("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = getEnv("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.DatabaseName = getEnv("DATABASE_NAME", c.Store.DatabaseName)
	c.Store.SQLitePath = getEnv("SQLITE_PATH", c.Store.SQLitePath)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Telemetry.ServiceName = getEnv("OTEL_SERVICE_NAME", c.Telemetry.ServiceName)
	c.Telemetry.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.Telemetry.OTLPEndpoint)

	var err error
	if c.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", c.RequestTimeout); err != nil {
		return err
	}
	if c.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout); err != nil {
		return err
	}
	if c.Store.MaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", c.Store.MaxOpenConns); err != nil {
		return err
	}
	if c.Registration.PerMinute, err = getInt("REGISTRATION_PER_MINUTE", c.Registration.PerMinute); err != nil {
		return err
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres, DriverPgx:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store driver %s requires DATABASE_URL", c.Store.Driver)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("store driver sqlite3 requires SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Port == "" {
		return errors.New("port must not be empty")
	}
	if c.Registration.PerMinute < 0 {
		return errors.New("registration per_minute must not be negative")
	}
	return nil
}

// DSN returns the connection string for the configured SQL driver.
func (s StoreConfig) DSN() string {
	if s.Driver == DriverSQLite {
		return s.SQLitePath
	}
	return s.DatabaseURL
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
