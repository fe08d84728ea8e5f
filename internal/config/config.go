// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// NLU providers.
const (
	NLURule   = "rule"
	NLUOllama = "ollama"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	DBPath         string
	AuditDir       string
	SanctionDir    string
	RegistryPath   string // empty = built-in reference customers
	SessionTTL     time.Duration
	AllowedOrigins []string
	NLU            NLUConfig
	Lock           LockConfig
	RateLimit      RateLimitConfig
	Breaker        BreakerConfig
}

// NLUConfig selects and tunes the intent interpreter.
type NLUConfig struct {
	Provider    string
	OllamaURL   string
	OllamaModel string
	Timeout     time.Duration
}

// LockConfig selects the per-session lock backend.
type LockConfig struct {
	Backend   string
	RedisAddr string
	TTL       time.Duration
	Wait      time.Duration
}

// RateLimitConfig controls per-client request limiting. RPS <= 0 disables it.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// BreakerConfig tunes the circuit breakers around external lookups.
type BreakerConfig struct {
	MaxFailures uint32
	OpenTimeout time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DBPath:         getEnv("DB_PATH", "./data/lendflow.db"),
		AuditDir:       getEnv("AUDIT_DIR", "./data/audit"),
		SanctionDir:    getEnv("SANCTION_DIR", "./data/sanctions"),
		RegistryPath:   getEnv("REGISTRY_PATH", ""),
		SessionTTL:     getEnvDuration("SESSION_TTL", 24*time.Hour),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		NLU: NLUConfig{
			Provider:    strings.ToLower(getEnv("NLU_PROVIDER", NLURule)),
			OllamaURL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
			OllamaModel: getEnv("OLLAMA_MODEL", "llama3.2"),
			Timeout:     getEnvDuration("NLU_TIMEOUT", 10*time.Second),
		},
		Lock: LockConfig{
			Backend:   strings.ToLower(getEnv("LOCK_BACKEND", LockMemory)),
			RedisAddr: getEnv("REDIS_ADDR", "localhost:6379"),
			TTL:       getEnvDuration("LOCK_TTL", 30*time.Second),
			Wait:      getEnvDuration("LOCK_WAIT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
			Burst: getEnvInt("RATE_LIMIT_BURST", 10),
		},
		Breaker: BreakerConfig{
			MaxFailures: uint32(max(getEnvInt("BREAKER_MAX_FAILURES", 3), 0)),
			OpenTimeout: getEnvDuration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.AuditDir == "" {
		return fmt.Errorf("AUDIT_DIR cannot be empty")
	}
	if c.SanctionDir == "" {
		return fmt.Errorf("SANCTION_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	switch c.NLU.Provider {
	case NLURule:
	case NLUOllama:
		if c.NLU.OllamaURL == "" || c.NLU.OllamaModel == "" {
			return fmt.Errorf("OLLAMA_URL and OLLAMA_MODEL are required when NLU_PROVIDER=ollama")
		}
	default:
		return fmt.Errorf("NLU_PROVIDER must be %q or %q, got %q", NLURule, NLUOllama, c.NLU.Provider)
	}
	switch c.Lock.Backend {
	case LockMemory:
	case LockRedis:
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when LOCK_BACKEND=redis")
		}
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockMemory, LockRedis, c.Lock.Backend)
	}
	if c.Lock.Wait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be > 0")
	}
	if c.Lock.TTL < c.Lock.Wait {
		return fmt.Errorf("LOCK_TTL must be >= LOCK_WAIT")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be > 0 when rate limiting is enabled")
	}
	if c.Breaker.MaxFailures == 0 {
		return fmt.Errorf("BREAKER_MAX_FAILURES must be > 0")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// getEnvList splits a comma-separated value, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
