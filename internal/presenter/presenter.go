// Package presenter turns structured stage results into customer-facing
// text. It never decides anything; the orchestrator and the workers do.
package presenter

import (
	"fmt"
	"strings"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
)

// Presenter renders customer messages.
type Presenter interface {
	Welcome() string
	Clarify(stage domain.Stage, missing []string) string
	QuoteReady(q domain.SalesQuote) string
	KYCVerified(k domain.KYCResult) string
	KYCFailed(k domain.KYCResult) string
	Decision(u domain.UnderwritingResult, requested int64) string
	Sanctioned(s domain.SanctionRecord) string
	Retry(stage domain.Stage) string
	Closing(stage domain.Stage) string
}

// Plain is the default plain-text presenter.
type Plain struct {
	// Brand is the lender name used in greetings.
	Brand string
}

// NewPlain returns a plain-text presenter for brand.
func NewPlain(brand string) *Plain {
	if brand == "" {
		brand = "LendFlow"
	}
	return &Plain{Brand: brand}
}

func (p *Plain) Welcome() string {
	return fmt.Sprintf("Welcome to %s! I can help you apply for a personal loan.\n"+
		"To get started, please tell me:\n"+
		"1. How much do you need?\n"+
		"2. Over what tenure would you like to repay (in years or months)?", p.Brand)
}

func (p *Plain) Clarify(stage domain.Stage, missing []string) string {
	if len(missing) > 0 {
		return fmt.Sprintf("I need a bit more information. Please provide your %s.", joinAnd(missing))
	}
	switch stage {
	case domain.StageSales:
		return "I didn't quite catch that. Could you tell me:\n" +
			"- The loan amount you need (e.g. '5 lakhs')\n" +
			"- The tenure you prefer (e.g. '3 years')"
	case domain.StageKYC:
		return "I need your KYC details to proceed. Please provide:\n" +
			"- Your full name\n" +
			"- Your PAN number (format: ABCDE1234F)\n" +
			"- Your employment type (SALARIED/SELF_EMPLOYED/BUSINESS)"
	}
	return "I'm not sure I understood. Could you rephrase that?"
}

func (p *Plain) QuoteReady(q domain.SalesQuote) string {
	return fmt.Sprintf("Great! For Rs. %s over %d months, your estimated EMI is around Rs. %s "+
		"at an interest rate between %s and %s.\n\n"+
		"Next, let's verify your identity. Please provide:\n"+
		"1. Your full name\n"+
		"2. Your PAN number\n"+
		"3. Your employment type (SALARIED/SELF_EMPLOYED/BUSINESS)",
		finance.FormatAmount(float64(q.Principal)),
		q.TenureMonths,
		finance.FormatAmount(q.IndicativeEMI),
		finance.FormatRate(q.RateRange.Low),
		finance.FormatRate(q.RateRange.High),
	)
}

func (p *Plain) KYCVerified(k domain.KYCResult) string {
	return "Thank you, your details have been verified. Checking your eligibility now..."
}

func (p *Plain) KYCFailed(k domain.KYCResult) string {
	flags := make([]string, len(k.RiskFlags))
	for i, f := range k.RiskFlags {
		flags[i] = string(f)
	}
	return fmt.Sprintf("I'm sorry, we couldn't verify your details (%s). "+
		"Please contact our support team for assistance.", strings.Join(flags, ", "))
}

func (p *Plain) Decision(u domain.UnderwritingResult, requested int64) string {
	var b strings.Builder
	switch u.Decision {
	case domain.DecisionRejected:
		b.WriteString("We regret that your loan application could not be approved at this time. ")
		switch u.Reason {
		case domain.ReasonBelowThreshold:
			fmt.Fprintf(&b, "Your credit score of %d is below our minimum requirement. ", u.CreditScore)
		case domain.ReasonEMIExceedsAffordability:
			b.WriteString("The monthly installment would exceed half of your monthly income. ")
		}
		b.WriteString("Please contact our support team, who can review other options with you.")
		return b.String()
	case domain.DecisionConditional:
		b.WriteString("Good news! Your loan has been conditionally approved.\n\n")
	default:
		b.WriteString("Congratulations! Your loan has been approved.\n\n")
	}

	fmt.Fprintf(&b, "Credit Score: %d (Risk Grade: %s)\n", u.CreditScore, u.RiskGrade)
	fmt.Fprintf(&b, "Approved Amount: Rs. %s", finance.FormatAmount(float64(u.ApprovedPrincipal)))
	if u.Decision == domain.DecisionConditional {
		fmt.Fprintf(&b, " (reduced from the requested Rs. %s)", finance.FormatAmount(float64(requested)))
	}
	fmt.Fprintf(&b, "\nInterest Rate: %s per annum\n", finance.FormatRate(u.FinalRate))
	b.WriteString(RateBreakdown(u.Rate))
	return b.String()
}

// RateBreakdown explains how the final rate was composed, omitting zero
// adjustments: "Rate Breakdown: Base 11% -0.5% (credit score adjustment)".
func RateBreakdown(c domain.RateComponents) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rate Breakdown: Base %s", finance.FormatRate(c.Base))
	if c.CreditAdjustment != 0 {
		fmt.Fprintf(&b, " %s (credit score adjustment)", signed(c.CreditAdjustment))
	}
	if c.TenureAdjustment != 0 {
		fmt.Fprintf(&b, " %s (tenure adjustment)", signed(c.TenureAdjustment))
	}
	return b.String()
}

func (p *Plain) Sanctioned(s domain.SanctionRecord) string {
	return fmt.Sprintf("Your sanction letter is ready.\n\n"+
		"Sanction ID: %s\n"+
		"Document: %s\n"+
		"Valid for: %d days\n"+
		"Final EMI: Rs. %s per month\n\n"+
		"Thank you for choosing %s! Our loan officer will contact you to complete the documentation.",
		s.SanctionID, s.DocumentRef, s.ValidityDays, finance.FormatAmount(s.FinalEMI), p.Brand)
}

func (p *Plain) Retry(stage domain.Stage) string {
	switch stage {
	case domain.StageSales:
		return "Sorry, something went wrong while preparing your quote. Please send the loan amount and tenure again."
	case domain.StageKYC:
		return "Sorry, we couldn't complete the verification just now. Please send your name, PAN and employment type again."
	}
	return "Sorry, something went wrong on our side. Please send any message to try again."
}

func (p *Plain) Closing(stage domain.Stage) string {
	if stage == domain.StageCompleted {
		return fmt.Sprintf("Your loan application is complete. Thank you for choosing %s!", p.Brand)
	}
	return "This application is closed. Please contact our support team for more information."
}

func signed(v float64) string {
	s := finance.FormatRate(v)
	if v > 0 {
		return "+" + s
	}
	return s
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
