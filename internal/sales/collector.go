// Package sales turns a loan requirement into an indicative quote.
package sales

import (
	"fmt"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
)

// Collector produces indicative quotes from the rate bracket table.
type Collector struct{}

// NewCollector creates a requirement collector.
func NewCollector() *Collector {
	return &Collector{}
}

// Quote prices a principal over a tenure at the midpoint of its bracket.
func (c *Collector) Quote(principal int64, tenureMonths int) (domain.SalesQuote, error) {
	if principal <= 0 {
		return domain.SalesQuote{}, fmt.Errorf("%w: principal must be positive, got %d", domain.ErrValidation, principal)
	}
	if tenureMonths <= 0 {
		return domain.SalesQuote{}, fmt.Errorf("%w: tenure must be positive, got %d", domain.ErrValidation, tenureMonths)
	}

	bracket := finance.InterestBracket(principal)
	return domain.SalesQuote{
		Principal:     principal,
		TenureMonths:  tenureMonths,
		IndicativeEMI: finance.EMI(float64(principal), bracket.Mid(), tenureMonths),
		RateRange:     bracket,
	}, nil
}
