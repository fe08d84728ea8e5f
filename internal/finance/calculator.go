// Package finance implements the rate bracket table and installment math.
package finance

import (
	"math"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/shopspring/decimal"
)

const (
	smallLoanCeiling = 300_000
	midLoanCeiling   = 1_000_000
)

// InterestBracket returns the indicative annual rate band for a principal.
// It feeds the SALES quote only and is independent of underwriting.
func InterestBracket(principal int64) domain.RateRange {
	switch {
	case principal < smallLoanCeiling:
		return domain.RateRange{Low: 13, High: 15}
	case principal <= midLoanCeiling:
		return domain.RateRange{Low: 11.5, High: 14}
	default:
		return domain.RateRange{Low: 10.5, High: 13}
	}
}

// EMI returns the equal monthly installment for an amortizing loan.
// A zero tenure yields 0; a zero rate yields principal/months with no
// compounding. Otherwise the result is rounded to two decimals.
func EMI(principal float64, annualRatePercent float64, tenureMonths int) float64 {
	if tenureMonths == 0 {
		return 0
	}
	r := annualRatePercent / 1200
	if r == 0 {
		return principal / float64(tenureMonths)
	}
	growth := math.Pow(1+r, float64(tenureMonths))
	return Round2(principal * r * growth / (growth - 1))
}

// TotalInterest returns the interest paid over the tenure for a given EMI.
func TotalInterest(emi float64, tenureMonths int, principal float64) float64 {
	total := decimal.NewFromFloat(emi).Mul(decimal.NewFromInt(int64(tenureMonths)))
	f, _ := total.Sub(decimal.NewFromFloat(principal)).Round(2).Float64()
	return f
}

// Round2 rounds half away from zero to two decimal places.
func Round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
