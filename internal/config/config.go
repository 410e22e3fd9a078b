package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"parking-allocator/internal/parking"
)

type Config struct {
	Mode string
	Port string

	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	LogLevel       string

	HourlyRate float64
	LotsFile   string

	DatabaseURL     string
	RedisURL        string
	OpenSessionTTL  time.Duration
	AMQPURL         string
	AMQPQueue       string
	RefreshInterval time.Duration
	PersistMaxTries uint

	SimulationEnabled  bool
	SimulationInterval time.Duration
	SimulationLot      string

	ShellUserID string
	ShellRole   parking.Role
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error

	rate, err := envOrFloat("HOURLY_RATE", 5.0)
	errs = append(errs, err)
	ttl, err := envOrDuration("OPEN_SESSION_TTL", 24*time.Hour)
	errs = append(errs, err)
	refresh, err := envOrDuration("REFRESH_INTERVAL", 3*time.Second)
	errs = append(errs, err)
	tries, err := envOrInt("PERSIST_MAX_TRIES", 3)
	errs = append(errs, err)
	simEnabled, err := envOrBool("SIMULATION_ENABLED", false)
	errs = append(errs, err)
	simInterval, err := envOrDuration("SIMULATION_INTERVAL", 5*time.Millisecond)
	errs = append(errs, err)
	role, err := parking.ParseRole(getEnv("SHELL_ROLE", "admin"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	cfg := &Config{
		Mode:               getEnv("MODE", "cli"),
		Port:               getEnv("PORT", "8080"),
		ServiceName:        getEnv("OTEL_SERVICE_NAME", "parking-allocator"),
		ServiceVersion:     getEnv("SERVICE_VERSION", "1.0.0"),
		Environment:        getEnv("ENVIRONMENT", "development"),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HourlyRate:         rate,
		LotsFile:           getEnv("LOTS_FILE", ""),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		OpenSessionTTL:     ttl,
		AMQPURL:            getEnv("AMQP_URL", ""),
		AMQPQueue:          getEnv("AMQP_QUEUE", "parking.sessions"),
		RefreshInterval:    refresh,
		SimulationEnabled:  simEnabled,
		SimulationInterval: simInterval,
		SimulationLot:      getEnv("SIMULATION_LOT", ""),
		ShellUserID:        getEnv("SHELL_USER_ID", "operator"),
		ShellRole:          role,
	}
	if tries > 0 {
		cfg.PersistMaxTries = uint(tries)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Mode {
	case "cli", "server", "both":
	default:
		return fmt.Errorf("invalid MODE %q: must be cli, server, or both", c.Mode)
	}
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if err := parking.ValidateRate(c.HourlyRate); err != nil {
		return fmt.Errorf("HOURLY_RATE: %w", err)
	}
	if c.PersistMaxTries == 0 {
		return errors.New("PERSIST_MAX_TRIES must be at least 1")
	}
	if c.RefreshInterval <= 0 {
		return errors.New("REFRESH_INTERVAL must be positive")
	}
	if c.SimulationEnabled && c.SimulationInterval <= 0 {
		return errors.New("SIMULATION_INTERVAL must be positive")
	}
	return nil
}

// Override applies command-line values on top of the environment.
func (c *Config) Override(mode, port string) error {
	if mode != "" {
		c.Mode = mode
	}
	if port != "" {
		c.Port = port
	}
	return c.validate()
}

// Retry returns the persistence retry policy.
func (c *Config) Retry() parking.RetryPolicy {
	p := parking.DefaultRetryPolicy()
	p.MaxTries = c.PersistMaxTries
	return p
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func envOrInt(key string, defaultValue int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envOrFloat(key string, defaultValue float64) (float64, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s: %w", key, parking.ErrInvalidRate)
	}
	return v, nil
}

func envOrBool(key string, defaultValue bool) (bool, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}

func envOrDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return v, nil
}
