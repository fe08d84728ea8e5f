package sales

import (
	"errors"
	"testing"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
)

func TestQuoteUsesBracketMidpoint(t *testing.T) {
	q, err := NewCollector().Quote(500_000, 36)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if q.RateRange != (domain.RateRange{Low: 11.5, High: 14}) {
		t.Errorf("unexpected range %+v", q.RateRange)
	}
	if want := finance.EMI(500_000, 12.75, 36); q.IndicativeEMI != want {
		t.Errorf("IndicativeEMI = %v, want %v", q.IndicativeEMI, want)
	}
	if q.Principal != 500_000 || q.TenureMonths != 36 {
		t.Errorf("quote did not echo request: %+v", q)
	}
}

func TestQuoteRejectsNonPositiveInputs(t *testing.T) {
	tests := []struct {
		principal int64
		months    int
	}{
		{0, 12},
		{-1, 12},
		{100_000, 0},
		{100_000, -6},
	}

	for _, tt := range tests {
		_, err := NewCollector().Quote(tt.principal, tt.months)
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("Quote(%d, %d) err = %v, want ErrValidation", tt.principal, tt.months, err)
		}
	}
}
