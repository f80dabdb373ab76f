// Package config holds the service configuration. Values come from the
// environment with defaults matching the reconciliation constants the
// gateways were tuned against.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	// DefaultInitialDelay is both the orchestrator's grace wait before
	// the first lookup and the base of the poller's backoff schedule.
	DefaultInitialDelay = 1500 * time.Millisecond
	// DefaultMaxDelay caps the backoff between poll attempts.
	DefaultMaxDelay = 3000 * time.Millisecond
	// DefaultMultiplier grows the backoff delay per attempt.
	DefaultMultiplier = 1.2
	// DefaultMaxRetries bounds the poll loop; at most MaxRetries+1
	// lookup calls are issued per run.
	DefaultMaxRetries = 10
)

// Config carries everything cmd/server needs to wire the engine.
type Config struct {
	ListenAddr    string
	LookupBaseURL string
	RedisAddr     string
	PendingTTL    time.Duration

	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int
}

// Load builds a Config from the environment, falling back to defaults.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:    envOr("LISTEN_ADDR", ":8080"),
		LookupBaseURL: envOr("LOOKUP_BASE_URL", "http://localhost:8081"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		PendingTTL:    30 * time.Minute,
		InitialDelay:  DefaultInitialDelay,
		MaxDelay:      DefaultMaxDelay,
		Multiplier:    DefaultMultiplier,
		MaxRetries:    DefaultMaxRetries,
	}

	if v := os.Getenv("RECONCILE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Config{}, fmt.Errorf("config: invalid RECONCILE_MAX_RETRIES %q", v)
		}
		cfg.MaxRetries = n
	}
	if v := os.Getenv("RECONCILE_INITIAL_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("config: invalid RECONCILE_INITIAL_DELAY_MS %q", v)
		}
		cfg.InitialDelay = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("RECONCILE_MAX_DELAY_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			return Config{}, fmt.Errorf("config: invalid RECONCILE_MAX_DELAY_MS %q", v)
		}
		cfg.MaxDelay = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv("PENDING_TTL_MINUTES"); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m <= 0 {
			return Config{}, fmt.Errorf("config: invalid PENDING_TTL_MINUTES %q", v)
		}
		cfg.PendingTTL = time.Duration(m) * time.Minute
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
