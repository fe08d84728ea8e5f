// Package nlu interprets free-text customer turns: intent detection and
// entity extraction. Implementations are interchangeable behind Interpreter.
package nlu

import (
	"context"

	"github.com/ashureev/lendflow/internal/domain"
)

// ConfidenceThreshold is the minimum confidence for acting on an intent.
const ConfidenceThreshold = 0.7

// Intent names recognised across stages.
const (
	IntentNone    = "none"
	IntentUnknown = "unknown"

	IntentProvideLoanAmount   = "provide_loan_amount"
	IntentProvideTenure       = "provide_tenure"
	IntentConfirmLoanDetails  = "confirm_loan_details"
	IntentModifyLoanRequest   = "modify_loan_request"
	IntentProvidePAN          = "provide_pan"
	IntentProvideEmployment   = "provide_employment"
	IntentProvideIncome       = "provide_income"
	IntentConfirmKYC          = "confirm_kyc"
	IntentDownloadLetter      = "download_letter"
	IntentAcceptOffer         = "accept_offer"
	IntentRequestModification = "request_modification"
)

// stageIntents lists the intents a customer can express at each stage.
// UNDERWRITING and the terminal stages have none.
var stageIntents = map[domain.Stage][]string{
	domain.StageSales: {
		IntentProvideLoanAmount,
		IntentProvideTenure,
		IntentConfirmLoanDetails,
		IntentModifyLoanRequest,
	},
	domain.StageKYC: {
		IntentProvidePAN,
		IntentProvideEmployment,
		IntentProvideIncome,
		IntentConfirmKYC,
	},
	domain.StageSanction: {
		IntentDownloadLetter,
		IntentAcceptOffer,
		IntentRequestModification,
	},
}

// StageIntents returns the intents valid at stage.
func StageIntents(stage domain.Stage) []string {
	return stageIntents[stage]
}

// Intent is a classified customer turn.
type Intent struct {
	Name                  string  `json:"intent"`
	Confidence            float64 `json:"confidence"`
	RequiresClarification bool    `json:"requires_clarification"`
}

// newIntent applies the confidence threshold.
func newIntent(name string, confidence float64) Intent {
	return Intent{
		Name:                  name,
		Confidence:            confidence,
		RequiresClarification: confidence < ConfidenceThreshold,
	}
}

// Entities are the fields extracted from a turn. Zero values mean absent.
type Entities struct {
	Amount         int64  `json:"amount,omitempty"`
	TenureMonths   int    `json:"tenure_months,omitempty"`
	Name           string `json:"name,omitempty"`
	PAN            string `json:"pan,omitempty"`
	EmploymentType string `json:"employment_type,omitempty"`
	MonthlyIncome  int64  `json:"monthly_income,omitempty"`
}

// MissingLoanFields lists the SALES fields not present.
func (e Entities) MissingLoanFields() []string {
	var missing []string
	if e.Amount <= 0 {
		missing = append(missing, "loan amount")
	}
	if e.TenureMonths <= 0 {
		missing = append(missing, "tenure")
	}
	return missing
}

// MissingKYCFields lists the KYC fields not present.
func (e Entities) MissingKYCFields() []string {
	var missing []string
	if e.Name == "" {
		missing = append(missing, "full name")
	}
	if e.PAN == "" {
		missing = append(missing, "PAN number")
	}
	if e.EmploymentType == "" {
		missing = append(missing, "employment type")
	}
	return missing
}

// Interpreter classifies customer turns and extracts their fields.
type Interpreter interface {
	DetectIntent(ctx context.Context, text string, stage domain.Stage, history []domain.Turn) (Intent, error)
	ExtractEntities(ctx context.Context, text string, intent string) (Entities, error)
}
