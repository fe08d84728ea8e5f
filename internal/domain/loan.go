package domain

import "time"

// RateRange is an indicative annual interest rate band in percent.
type RateRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Mid returns the midpoint of the band.
func (r RateRange) Mid() float64 {
	return (r.Low + r.High) / 2
}

// SalesQuote is the indicative offer produced at the SALES stage.
type SalesQuote struct {
	Principal     int64     `json:"principal"`
	TenureMonths  int       `json:"tenure_months"`
	IndicativeEMI float64   `json:"indicative_emi"`
	RateRange     RateRange `json:"rate_range"`
}

// EmploymentType is the customer's employment category.
type EmploymentType string

const (
	EmploymentSalaried     EmploymentType = "SALARIED"
	EmploymentSelfEmployed EmploymentType = "SELF_EMPLOYED"
	EmploymentBusiness     EmploymentType = "BUSINESS"
	EmploymentUnknown      EmploymentType = "UNKNOWN"
)

// KYCStatus is the outcome of identity verification.
type KYCStatus string

const (
	KYCVerified KYCStatus = "VERIFIED"
	KYCFailed   KYCStatus = "FAILED"
)

// RiskFlag is a code raised during KYC.
type RiskFlag string

const (
	FlagInvalidPANFormat       RiskFlag = "INVALID_PAN_FORMAT"
	FlagCustomerNotFound       RiskFlag = "CUSTOMER_NOT_FOUND"
	FlagDataMismatch           RiskFlag = "DATA_MISMATCH"
	FlagLowIncome              RiskFlag = "LOW_INCOME"
	FlagEmploymentTypeMismatch RiskFlag = "EMPLOYMENT_TYPE_MISMATCH"
)

// KYCResult is the outcome of the KYC stage. Flags keep detection order.
type KYCResult struct {
	Status         KYCStatus      `json:"status"`
	EmploymentType EmploymentType `json:"employment_type"`
	MonthlyIncome  int64          `json:"monthly_income"`
	RiskFlags      []RiskFlag     `json:"risk_flags"`
}

// Verified returns true when the result allows underwriting to run.
func (k KYCResult) Verified() bool {
	return k.Status == KYCVerified
}

// CustomerRecord is an entry in the customer registry.
type CustomerRecord struct {
	CustomerID     string         `json:"customer_id" yaml:"customer_id"`
	Name           string         `json:"name" yaml:"name"`
	PAN            string         `json:"pan" yaml:"pan"`
	EmploymentType EmploymentType `json:"employment_type" yaml:"employment_type"`
	MonthlyIncome  int64          `json:"monthly_income" yaml:"monthly_income"`
	Employer       string         `json:"employer,omitempty" yaml:"employer,omitempty"`
}

// Decision is the underwriting verdict.
type Decision string

const (
	DecisionApproved    Decision = "APPROVED"
	DecisionConditional Decision = "CONDITIONAL"
	DecisionRejected    Decision = "REJECTED"
)

// ReasonCode is a machine-readable cause attached to a decision.
type ReasonCode string

const (
	ReasonNone                    ReasonCode = ""
	ReasonBelowThreshold          ReasonCode = "below_threshold"
	ReasonEMIExceedsAffordability ReasonCode = "emi_exceeds_affordability"
	ReasonCappedToMaxEligible     ReasonCode = "capped_to_max_eligible"
)

// RateComponents are the independent terms of the final interest rate,
// each rounded to two decimals.
type RateComponents struct {
	Base             float64 `json:"base"`
	CreditAdjustment float64 `json:"credit_adjustment"`
	TenureAdjustment float64 `json:"tenure_adjustment"`
}

// Sum returns the unclamped rate.
func (c RateComponents) Sum() float64 {
	return c.Base + c.CreditAdjustment + c.TenureAdjustment
}

// UnderwritingResult is the structured credit decision. It carries no prose.
type UnderwritingResult struct {
	Decision          Decision       `json:"decision"`
	Reason            ReasonCode     `json:"reason,omitempty"`
	ApprovedPrincipal int64          `json:"approved_principal"`
	MaxEligible       int64          `json:"max_eligible"`
	CreditScore       int            `json:"credit_score"`
	Rate              RateComponents `json:"rate_components"`
	FinalRate         float64        `json:"final_rate"`
	RiskGrade         string         `json:"risk_grade"`
}

// SanctionRecord references the issued sanction letter.
type SanctionRecord struct {
	SanctionID   string    `json:"sanction_id"`
	DocumentRef  string    `json:"document_ref"`
	FinalEMI     float64   `json:"final_emi"`
	ValidityDays int       `json:"validity_days"`
	IssuedAt     time.Time `json:"issued_at"`
}
