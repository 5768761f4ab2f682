/*
Package config loads server settings from the environment.

PURPOSE:
  One Config struct built at startup. A .env file in the working directory
  is read first (godotenv) and never overrides variables already set.
  Command-line flags in cmd/server override the result.

VARIABLES:
  PORT                        HTTP port (8080)
  APP_ENV                     development | production (development)
  DB_DRIVER                   sqlite3 | pgx (sqlite3)
  DB_DSN                      file path or postgres URL (fuelstock.db)
  REDIS_ADDR                  empty: in-process tank locks
  REDIS_PASSWORD, REDIS_DB
  LOCK_TTL_SECONDS            Redis lock TTL (10)
  AUTH_SECRET                 HS256 secret; empty: X-Actor-ID header only
  ALLOWED_ORIGINS             comma separated CORS origins
  ALERT_THRESHOLD             low-stock level % (20)
  RECOVERY_THRESHOLD          recovery level % (30)
  DISCREPANCY_TOLERANCE       liters (1; 0 falls back to the default)
  RECONCILE_INTERVAL_MINUTES  0 disables the scheduler (60)
  TANKS_FILE                  JSON tank seed loaded at startup

Malformed numbers are reported together, not one at a time.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

type Config struct {
	Port   int
	Env    string
	Driver string
	DSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration

	AuthSecret     string
	AllowedOrigins []string

	AlertThreshold       int
	RecoveryThreshold    int
	DiscrepancyTolerance decimal.Decimal
	ReconcileInterval    time.Duration

	TanksFile string
}

// Load reads .env (if present) and the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(getenv func(string) string) (Config, error) {
	var errs error
	env := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}
	num := func(key string, fallback int) int {
		raw := env(key, "")
		if raw == "" {
			return fallback
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %q is not an integer", key, raw))
			return fallback
		}
		return n
	}

	cfg := Config{
		Port:              num("PORT", 8080),
		Env:               env("APP_ENV", "development"),
		Driver:            env("DB_DRIVER", "sqlite3"),
		DSN:               env("DB_DSN", "fuelstock.db"),
		RedisAddr:         env("REDIS_ADDR", ""),
		RedisPassword:     getenv("REDIS_PASSWORD"),
		RedisDB:           num("REDIS_DB", 0),
		LockTTL:           time.Duration(num("LOCK_TTL_SECONDS", 10)) * time.Second,
		AuthSecret:        strings.TrimSpace(getenv("AUTH_SECRET")),
		AllowedOrigins:    splitList(env("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		AlertThreshold:    num("ALERT_THRESHOLD", 20),
		RecoveryThreshold: num("RECOVERY_THRESHOLD", 30),
		ReconcileInterval: time.Duration(num("RECONCILE_INTERVAL_MINUTES", 60)) * time.Minute,
		TanksFile:         env("TANKS_FILE", ""),
	}

	tol, err := decimal.NewFromString(env("DISCREPANCY_TOLERANCE", "1"))
	if err != nil {
		errs = multierr.Append(errs, fmt.Errorf("DISCREPANCY_TOLERANCE: %w", err))
		tol = decimal.NewFromInt(1)
	}
	cfg.DiscrepancyTolerance = tol

	errs = multierr.Append(errs, cfg.Validate())
	return cfg, errs
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	var errs error
	switch c.Driver {
	case "sqlite3", "pgx":
	default:
		errs = multierr.Append(errs, fmt.Errorf("DB_DRIVER: %q is not sqlite3 or pgx", c.Driver))
	}
	if c.Port < 1 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("PORT: %d out of range", c.Port))
	}
	if c.AlertThreshold < 0 || c.AlertThreshold > 100 {
		errs = multierr.Append(errs, fmt.Errorf("ALERT_THRESHOLD: %d not in 0..100", c.AlertThreshold))
	}
	if c.RecoveryThreshold <= c.AlertThreshold {
		errs = multierr.Append(errs, fmt.Errorf("RECOVERY_THRESHOLD: %d must exceed ALERT_THRESHOLD %d",
			c.RecoveryThreshold, c.AlertThreshold))
	}
	if c.DiscrepancyTolerance.IsNegative() {
		errs = multierr.Append(errs, fmt.Errorf("DISCREPANCY_TOLERANCE: must not be negative"))
	}
	if c.ReconcileInterval < 0 {
		errs = multierr.Append(errs, fmt.Errorf("RECONCILE_INTERVAL_MINUTES: must not be negative"))
	}
	return errs
}

// Address returns the listen address.
func (c Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
