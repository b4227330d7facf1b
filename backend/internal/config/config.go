// Package config loads process settings from .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/validator.v2"
)

// DevJWTSecret is used when JWT_SECRET is unset. Never run with it outside development.
const DevJWTSecret = "!!replace-this-dev-only-jwt-secret!!"

// Drivers selectable with LEDGER_DRIVER.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	HTTPAddr    string `validate:"nonzero"`
	Driver      string `validate:"regexp=^(postgres|sqlite|memory)$"`
	DatabaseURL string
	SQLitePath  string

	JWTSecret string `validate:"min=16"`
	JWTIssuer string
	JWTTTL    time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	Log Log
}

type Log struct {
	Level      string `validate:"regexp=^(debug|info|warn|error)$"`
	File       string // empty means stdout only
	MaxSizeMB  int    `validate:"min=1"`
	MaxBackups int    `validate:"min=0"`
	MaxAgeDays int    `validate:"min=0"`
}

// InsecureSecret reports whether the built-in development secret is in use.
func (c *Config) InsecureSecret() bool { return c.JWTSecret == DevJWTSecret }

// KafkaEnabled reports whether trade events should go to Kafka.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// Load reads the given .env files (default ".env") without overriding
// variables already set, then builds and validates the Config. A missing
// .env file is not an error.
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the Config from the process environment alone.
func FromEnv() (*Config, error) {
	var errs []error
	c := &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		Driver:       strings.ToLower(getEnv("LEDGER_DRIVER", DriverSQLite)),
		DatabaseURL:  getEnv("DATABASE_URL", ""),
		SQLitePath:   getEnv("SQLITE_PATH", "papertrade.db"),
		JWTSecret:    getEnv("JWT_SECRET", DevJWTSecret),
		JWTIssuer:    getEnv("JWT_ISSUER", "papertrade"),
		JWTTTL:       getEnvDuration("JWT_TTL", 24*time.Hour, &errs),
		KafkaBrokers: splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "papertrade.trades"),
		Log: Log{
			Level:      strings.ToLower(getEnv("LOG_LEVEL", "info")),
			File:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100, &errs),
			MaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5, &errs),
			MaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 28, &errs),
		},
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks field constraints and the driver-specific requirements.
func (c *Config) Validate() error {
	if err := validator.Validate(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Driver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("invalid config: DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("invalid config: SQLITE_PATH is required for the sqlite driver")
		}
	}
	if c.KafkaEnabled() && c.KafkaTopic == "" {
		return errors.New("invalid config: KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func getEnvInt(key string, def int, errs *[]error) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return i
}

func getEnvDuration(key string, def time.Duration, errs *[]error) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
