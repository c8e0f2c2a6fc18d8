// Package config loads service configuration from LUMORA_* environment
// variables. Everything has a workable default except the signing secret,
// which must be provided explicitly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"lumora.app/internal/ratelimit"
	"lumora.app/internal/tokenvault"
)

// Config holds the full runtime configuration for the API process.
type Config struct {
	Addr string

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthSecret string
	AuthIssuer string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	JanitorInterval time.Duration

	LimiterFailMode ratelimit.FailMode
	VaultFailMode   tokenvault.FailMode

	BackstopBurst     int
	BackstopPerSecond int

	// RateOverrides replaces individual tier limits; tiers without an
	// override keep their built-in policy.
	RateOverrides map[string]ratelimit.Policy
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg := Config{
		Addr:          envStr("LUMORA_ADDR", ":8080"),
		PGDSN:         os.Getenv("LUMORA_PG_DSN"),
		RedisAddr:     os.Getenv("LUMORA_REDIS_ADDR"),
		RedisPassword: os.Getenv("LUMORA_REDIS_PASSWORD"),
		AuthSecret:    os.Getenv("LUMORA_AUTH_SECRET"),
		AuthIssuer:    envStr("LUMORA_AUTH_ISSUER", "lumora"),
	}

	if cfg.AuthSecret == "" {
		return Config{}, fmt.Errorf("LUMORA_AUTH_SECRET is required")
	}

	var err error
	if cfg.RedisDB, err = envInt("LUMORA_REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.AccessTTL, err = envDuration("LUMORA_ACCESS_TTL", 15*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RefreshTTL, err = envDuration("LUMORA_REFRESH_TTL", 30*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.JanitorInterval, err = envDuration("LUMORA_JANITOR_INTERVAL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.BackstopBurst, err = envInt("LUMORA_BACKSTOP_BURST", 50); err != nil {
		return Config{}, err
	}
	if cfg.BackstopPerSecond, err = envInt("LUMORA_BACKSTOP_PER_SECOND", 25); err != nil {
		return Config{}, err
	}

	cfg.LimiterFailMode = ratelimit.FailMode(envStr("LUMORA_LIMITER_FAIL_MODE", string(ratelimit.FailModeAllow)))
	if !cfg.LimiterFailMode.Valid() {
		return Config{}, fmt.Errorf("LUMORA_LIMITER_FAIL_MODE: unknown mode %q", cfg.LimiterFailMode)
	}
	cfg.VaultFailMode = tokenvault.FailMode(envStr("LUMORA_VAULT_FAIL_MODE", string(tokenvault.FailModeAllow)))
	if !cfg.VaultFailMode.Valid() {
		return Config{}, fmt.Errorf("LUMORA_VAULT_FAIL_MODE: unknown mode %q", cfg.VaultFailMode)
	}

	if cfg.RateOverrides, err = loadRateOverrides(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Tier overrides use a compact "count/window" notation, e.g.
// LUMORA_RATE_AUTH=10/15m.
var rateEnvVars = map[string]string{
	"LUMORA_RATE_AUTH":    ratelimit.TierAuth,
	"LUMORA_RATE_AI_ANON": ratelimit.TierAIAnonymous,
	"LUMORA_RATE_AI_AUTH": ratelimit.TierAIAuthenticated,
	"LUMORA_RATE_GENERAL": ratelimit.TierGeneral,
}

func loadRateOverrides() (map[string]ratelimit.Policy, error) {
	overrides := make(map[string]ratelimit.Policy)
	for env, tier := range rateEnvVars {
		raw := strings.TrimSpace(os.Getenv(env))
		if raw == "" {
			continue
		}
		policy, err := parsePolicy(tier, raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", env, err)
		}
		overrides[tier] = policy
	}
	if len(overrides) == 0 {
		return nil, nil
	}
	return overrides, nil
}

func parsePolicy(tier, raw string) (ratelimit.Policy, error) {
	parts := strings.SplitN(raw, "/", 2)
	if len(parts) != 2 {
		return ratelimit.Policy{}, fmt.Errorf("expected count/window, got %q", raw)
	}
	count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || count <= 0 {
		return ratelimit.Policy{}, fmt.Errorf("invalid request count %q", parts[0])
	}
	window, err := time.ParseDuration(strings.TrimSpace(parts[1]))
	if err != nil || window <= 0 {
		return ratelimit.Policy{}, fmt.Errorf("invalid window %q", parts[1])
	}
	return ratelimit.Policy{Tier: tier, MaxRequests: count, Window: window}, nil
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive", key)
	}
	return d, nil
}
