// Package config holds the engine's runtime configuration: a flat struct
// populated from flags/environment, validated once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Config is configuration to start the transfer engine.
type Config struct {
	Mode string // "dev" or "prod"
	Addr string
	Port int

	// Document-store driver backing Task/TaskExecution/ScheduleConfig.
	StoreDriver string // "postgres" or "sqlite"
	StoreDSN    string

	// Source and Target relational database DSNs the Connection Manager pools.
	SourceDSN string
	TargetDSN string

	// Pool tuning (connection.Manager), shared by every named server pool.
	PoolMinConns       int
	PoolMaxConns       int
	PoolIdleTimeout    time.Duration
	PoolAcquireTimeout time.Duration
	PoolHealthInterval time.Duration

	// Retry tuning (retry.Executor defaults; a task may override).
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	RetryFactor       float64
	RetryMaxAttempts  int

	// Per-task wall-clock timeout default, loaded and defaulted here only:
	// it is not passed to the executor, so a task without its own Timeout
	// runs without a wall-clock limit.
	DefaultTaskTimeout time.Duration

	// Default daily fire hour for the scheduler, "HH:MM" 24h local time.
	ScheduleHour    string
	ScheduleEnabled bool
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// FromEnv fills unset fields from TRANSFER_* environment variables,
// falling back to the engine's built-in defaults.
func (c *Config) FromEnv() {
	if c.Mode == "" {
		c.Mode = getEnvOrDefault("TRANSFER_MODE", "dev")
	}
	if c.StoreDriver == "" {
		c.StoreDriver = getEnvOrDefault("TRANSFER_STORE_DRIVER", "sqlite")
	}
	if c.StoreDSN == "" {
		c.StoreDSN = getEnvOrDefault("TRANSFER_STORE_DSN", "")
	}
	if c.SourceDSN == "" {
		c.SourceDSN = getEnvOrDefault("TRANSFER_SOURCE_DSN", "")
	}
	if c.TargetDSN == "" {
		c.TargetDSN = getEnvOrDefault("TRANSFER_TARGET_DSN", "")
	}
	if c.PoolMinConns == 0 {
		c.PoolMinConns = getEnvOrDefaultInt("TRANSFER_POOL_MIN_CONNS", 1)
	}
	if c.PoolMaxConns == 0 {
		c.PoolMaxConns = getEnvOrDefaultInt("TRANSFER_POOL_MAX_CONNS", 10)
	}
	if c.PoolIdleTimeout == 0 {
		c.PoolIdleTimeout = getEnvOrDefaultDuration("TRANSFER_POOL_IDLE_TIMEOUT", 5*time.Minute)
	}
	if c.PoolAcquireTimeout == 0 {
		c.PoolAcquireTimeout = getEnvOrDefaultDuration("TRANSFER_POOL_ACQUIRE_TIMEOUT", 10*time.Second)
	}
	if c.PoolHealthInterval == 0 {
		c.PoolHealthInterval = getEnvOrDefaultDuration("TRANSFER_POOL_HEALTH_INTERVAL", 30*time.Second)
	}
	if c.RetryInitialDelay == 0 {
		c.RetryInitialDelay = getEnvOrDefaultDuration("TRANSFER_RETRY_INITIAL_DELAY", 200*time.Millisecond)
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = getEnvOrDefaultDuration("TRANSFER_RETRY_MAX_DELAY", 10*time.Second)
	}
	if c.RetryFactor == 0 {
		c.RetryFactor = 2.0
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = getEnvOrDefaultInt("TRANSFER_RETRY_MAX_ATTEMPTS", 5)
	}
	if c.DefaultTaskTimeout == 0 {
		c.DefaultTaskTimeout = getEnvOrDefaultDuration("TRANSFER_DEFAULT_TASK_TIMEOUT", 5*time.Minute)
	}
	if c.ScheduleHour == "" {
		c.ScheduleHour = getEnvOrDefault("TRANSFER_SCHEDULE_HOUR", "02:00")
	}
	c.ScheduleEnabled = getEnvOrDefaultBool("TRANSFER_SCHEDULE_ENABLED", true)
}

// Validate checks the configuration is internally consistent enough to
// start the engine. It does not attempt to connect to anything.
func (c *Config) Validate() error {
	if c.StoreDriver != "postgres" && c.StoreDriver != "sqlite" {
		return errors.Errorf("invalid store driver %q: must be postgres or sqlite", c.StoreDriver)
	}
	if c.StoreDSN == "" {
		return errors.New("store DSN is required")
	}
	if c.SourceDSN == "" {
		return errors.New("source DSN is required")
	}
	if c.TargetDSN == "" {
		return errors.New("target DSN is required")
	}
	if c.PoolMaxConns < c.PoolMinConns {
		return errors.Errorf("pool max conns (%d) must be >= min conns (%d)", c.PoolMaxConns, c.PoolMinConns)
	}
	if _, _, err := ParseHHMM(c.ScheduleHour); err != nil {
		return errors.Wrap(err, "invalid schedule hour")
	}
	return nil
}

// ParseHHMM parses a 24-hour "HH:MM" string into hour/minute components.
func ParseHHMM(hhmm string) (hour, minute int, err error) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", hhmm)
	}
	hour, err = strconv.Atoi(hhmm[0:2])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", hhmm)
	}
	minute, err = strconv.Atoi(hhmm[3:5])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", hhmm)
	}
	return hour, minute, nil
}

func (c *Config) IsDev() bool {
	return c.Mode != "prod"
}
