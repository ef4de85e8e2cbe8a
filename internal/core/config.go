package core

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// RedisConfig holds the connection settings for the Redis cache backend.
// Variables: VITALS_REDIS_ADDR, VITALS_REDIS_PASSWORD, VITALS_REDIS_DB, VITALS_REDIS_PREFIX.
type RedisConfig struct {
	Addr     string `envconfig:"ADDR" default:"localhost:6379"`
	Password string `envconfig:"PASSWORD" default:""`
	DB       int    `envconfig:"DB" default:"0"`
	Prefix   string `envconfig:"PREFIX" default:"vitals"`
}

// Config is the complete runtime configuration. It is filled from the
// environment (prefix VITALS) and then adjusted by command-line flags.
type Config struct {
	BaseURL         string        `envconfig:"BASE_URL" default:"https://fhir-open-api.smarthealthit.org"`
	HTTPTimeout     time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	IdentifierLabel string        `envconfig:"IDENTIFIER_LABEL" default:"SMART Hospital MRN"`

	CacheRoot    string      `envconfig:"CACHE_ROOT"`
	CacheEnabled bool        `envconfig:"CACHE_ENABLED" default:"true"`
	CacheBackend string      `envconfig:"CACHE_BACKEND" default:"filesystem"`
	Redis        RedisConfig `envconfig:"REDIS"`

	MinCount   int    `envconfig:"MIN_COUNT" default:"50"`
	DateLayout string `envconfig:"DATE_LAYOUT" default:"2006-01-02"`
	StartDate  string `envconfig:"START_DATE" default:"2005-01-01"`
	StopDate   string `envconfig:"STOP_DATE" default:"2007-01-01"`
	Parallel   int    `envconfig:"PARALLEL" default:"1"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	Telemetry string `envconfig:"TELEMETRY" default:"none"`
}

// LoadConfig reads .env files (if any) into the environment and then
// decodes the VITALS_* variables into a Config.
func LoadConfig(envFiles ...string) (Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = CacheRoot()
	}
	return cfg, nil
}

// Validate checks the fields that later stages assume are well formed.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("config: base URL is empty")
	}
	switch c.CacheBackend {
	case CacheBackendFilesystem, CacheBackendRedis:
	default:
		return fmt.Errorf("config: unknown cache backend %q", c.CacheBackend)
	}
	if c.MinCount < 0 {
		return fmt.Errorf("config: min count must not be negative")
	}
	start, stop, err := c.Window()
	if err != nil {
		return err
	}
	if !start.Before(stop) {
		return fmt.Errorf("config: start date %s is not before stop date %s", FormatDate(start), FormatDate(stop))
	}
	return nil
}

// Window parses StartDate and StopDate. Both accept the flexible forms
// understood by ParseDateSpec.
func (c Config) Window() (time.Time, time.Time, error) {
	start, err := ParseDateSpec(c.StartDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: start date: %w", err)
	}
	stop, err := ParseDateSpec(c.StopDate, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("config: stop date: %w", err)
	}
	return start, stop, nil
}
