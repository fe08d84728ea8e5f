// Package underwriting applies the deterministic credit eligibility rules
// and composes the final interest rate.
package underwriting

import (
	"context"
	"fmt"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
)

const (
	BaseRate = 11.0
	MinRate  = 9.5
	MaxRate  = 18.0

	// MinScore is the lowest credit score that can be approved.
	MinScore = 700

	// MaxEMIShare is the largest fraction of monthly income an EMI may take.
	MaxEMIShare = 0.5

	creditStepPoints = 50
	creditStepRate   = -0.5
	tenureFreeYears  = 3
	tenureYearlyRate = 0.2
)

// ScoreProvider returns a deterministic credit score for a customer.
type ScoreProvider interface {
	Score(ctx context.Context, customerID string) (int, error)
}

// Application is the input to an underwriting decision.
type Application struct {
	CustomerID    string
	Principal     int64
	TenureMonths  int
	MonthlyIncome int64
	IndicativeEMI float64
}

func (a Application) validate() error {
	switch {
	case a.CustomerID == "":
		return fmt.Errorf("%w: customer id is required", domain.ErrValidation)
	case a.Principal <= 0:
		return fmt.Errorf("%w: principal is required", domain.ErrValidation)
	case a.TenureMonths <= 0:
		return fmt.Errorf("%w: tenure is required", domain.ErrValidation)
	case a.MonthlyIncome <= 0:
		return fmt.Errorf("%w: monthly income is required", domain.ErrValidation)
	case a.IndicativeEMI <= 0:
		return fmt.Errorf("%w: indicative emi is required", domain.ErrValidation)
	}
	return nil
}

// Engine makes underwriting decisions.
type Engine struct {
	scores ScoreProvider
}

// NewEngine creates an engine that pulls scores from scores.
func NewEngine(scores ScoreProvider) *Engine {
	return &Engine{scores: scores}
}

// Evaluate decides an application. Rejections are results, not errors.
func (e *Engine) Evaluate(ctx context.Context, app Application) (domain.UnderwritingResult, error) {
	if err := app.validate(); err != nil {
		return domain.UnderwritingResult{}, err
	}

	score, err := e.scores.Score(ctx, app.CustomerID)
	if err != nil {
		return domain.UnderwritingResult{}, fmt.Errorf("%w: credit score: %v", domain.ErrLookupFailed, err)
	}

	decision, approved, reason, maxEligible := Decide(score, app.MonthlyIncome, app.Principal, app.IndicativeEMI)
	components, final := ComposeRate(score, app.TenureMonths)

	return domain.UnderwritingResult{
		Decision:          decision,
		Reason:            reason,
		ApprovedPrincipal: approved,
		MaxEligible:       maxEligible,
		CreditScore:       score,
		Rate:              components,
		FinalRate:         final,
		RiskGrade:         RiskGrade(score),
	}, nil
}

// Decide applies the eligibility rules in order: score threshold,
// affordability, then the eligibility cap.
func Decide(score int, income, principal int64, emi float64) (domain.Decision, int64, domain.ReasonCode, int64) {
	maxEligible := MaxEligible(score, income)
	if score < MinScore {
		return domain.DecisionRejected, 0, domain.ReasonBelowThreshold, maxEligible
	}
	if emi > float64(income)*MaxEMIShare {
		return domain.DecisionRejected, 0, domain.ReasonEMIExceedsAffordability, maxEligible
	}
	if principal > maxEligible {
		return domain.DecisionConditional, maxEligible, domain.ReasonCappedToMaxEligible, maxEligible
	}
	return domain.DecisionApproved, principal, domain.ReasonNone, maxEligible
}

// MaxEligible returns the largest principal a score and income qualify for.
// Bracket boundaries are inclusive.
func MaxEligible(score int, income int64) int64 {
	switch {
	case score >= 750 && income >= 75_000:
		return 2_000_000
	case score >= 700 && income >= 50_000:
		return 1_000_000
	default:
		return 500_000
	}
}

// ComposeRate returns the rate components and the final bounded rate.
// Components are rounded before the sum is clamped; clamping comes last.
func ComposeRate(score int, tenureMonths int) (domain.RateComponents, float64) {
	var credit float64
	if score > MinScore {
		credit = creditStepRate * float64((score-MinScore)/creditStepPoints)
	}

	var tenure float64
	if years := tenureMonths / 12; years > tenureFreeYears {
		tenure = tenureYearlyRate * float64(years-tenureFreeYears)
	}

	c := domain.RateComponents{
		Base:             BaseRate,
		CreditAdjustment: finance.Round2(credit),
		TenureAdjustment: finance.Round2(tenure),
	}
	return c, finance.Round2(finance.Clamp(c.Sum(), MinRate, MaxRate))
}

// RiskGrade bands a credit score for reporting. It never affects decisions.
func RiskGrade(score int) string {
	switch {
	case score >= 750:
		return "A+"
	case score >= 725:
		return "A"
	case score >= 700:
		return "B+"
	case score >= 675:
		return "B"
	default:
		return "C+"
	}
}
