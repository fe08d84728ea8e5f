package shared

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig tunes the circuit breakers guarding external calls.
type BreakerConfig struct {
	MaxConsecutiveFailures uint32
	OpenTimeout            time.Duration
	Interval               time.Duration
}

// DefaultBreakerConfig trips after three consecutive failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxConsecutiveFailures: 3,
		OpenTimeout:            30 * time.Second,
		Interval:               time.Minute,
	}
}

// NewBreaker builds a named circuit breaker that logs state changes.
func NewBreaker(name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConsecutiveFailures == 0 {
		cfg.MaxConsecutiveFailures = DefaultBreakerConfig().MaxConsecutiveFailures
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     name,
		Interval: cfg.Interval,
		Timeout:  cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// IsBreakerOpen reports whether err was produced by a rejecting breaker.
func IsBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
