package bureau

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/kyc"
	"github.com/ashureev/lendflow/internal/shared"
	"github.com/ashureev/lendflow/internal/underwriting"
	"github.com/sony/gobreaker"
)

// GuardedRegistry wraps a registry in a circuit breaker.
type GuardedRegistry struct {
	next kyc.Registry
	cb   *gobreaker.CircuitBreaker
}

// NewGuardedRegistry guards next with a breaker.
func NewGuardedRegistry(next kyc.Registry, cfg shared.BreakerConfig, logger *slog.Logger) *GuardedRegistry {
	return &GuardedRegistry{next: next, cb: shared.NewBreaker("customer-registry", cfg, logger)}
}

// LookupByPAN delegates to the wrapped registry unless the breaker is open.
func (g *GuardedRegistry) LookupByPAN(ctx context.Context, pan string) (*domain.CustomerRecord, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.LookupByPAN(ctx, pan)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrLookupFailed, err)
	}
	rec, _ := out.(*domain.CustomerRecord)
	return rec, nil
}

// GuardedScores wraps a score provider in a circuit breaker.
type GuardedScores struct {
	next underwriting.ScoreProvider
	cb   *gobreaker.CircuitBreaker
}

// NewGuardedScores guards next with a breaker.
func NewGuardedScores(next underwriting.ScoreProvider, cfg shared.BreakerConfig, logger *slog.Logger) *GuardedScores {
	return &GuardedScores{next: next, cb: shared.NewBreaker("credit-score", cfg, logger)}
}

// Score delegates to the wrapped provider unless the breaker is open.
func (g *GuardedScores) Score(ctx context.Context, customerID string) (int, error) {
	out, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Score(ctx, customerID)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrLookupFailed, err)
	}
	return out.(int), nil
}
