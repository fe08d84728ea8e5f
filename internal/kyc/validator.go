// Package kyc verifies applicant identity against the customer registry.
package kyc

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ashureev/lendflow/internal/domain"
)

// LowIncomeThreshold is the monthly income below which LOW_INCOME is raised.
const LowIncomeThreshold = 25_000

var panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

// Registry resolves customer records by PAN. A nil record with a nil error
// means no customer is registered under that PAN.
type Registry interface {
	LookupByPAN(ctx context.Context, pan string) (*domain.CustomerRecord, error)
}

// Applicant is the customer-stated identity.
type Applicant struct {
	Name           string
	PAN            string
	EmploymentType string
}

// Verification is the validator output: the KYC result plus the registry
// identity it was matched to, if any.
type Verification struct {
	Result     domain.KYCResult
	CustomerID string
}

// Validator checks PAN format and cross-checks the registry.
type Validator struct {
	registry Registry
}

// NewValidator creates a validator backed by registry.
func NewValidator(registry Registry) *Validator {
	return &Validator{registry: registry}
}

// ValidPAN reports whether pan has the 5 letters, 4 digits, 1 letter shape.
func ValidPAN(pan string) bool {
	return panPattern.MatchString(pan)
}

// Validate verifies the applicant. Business failures are returned as a
// FAILED result; only missing input and registry errors return an error.
func (v *Validator) Validate(ctx context.Context, a Applicant) (Verification, error) {
	name := strings.TrimSpace(a.Name)
	pan := strings.ToUpper(strings.TrimSpace(a.PAN))
	stated := domain.EmploymentType(strings.ToUpper(strings.TrimSpace(a.EmploymentType)))

	if name == "" || pan == "" || stated == "" {
		return Verification{}, fmt.Errorf("%w: name, pan and employment type are required", domain.ErrValidation)
	}

	if !ValidPAN(pan) {
		return failed(domain.EmploymentUnknown, domain.FlagInvalidPANFormat), nil
	}

	rec, err := v.registry.LookupByPAN(ctx, pan)
	if err != nil {
		return Verification{}, fmt.Errorf("%w: registry lookup: %v", domain.ErrLookupFailed, err)
	}
	if rec == nil {
		return failed(stated, domain.FlagCustomerNotFound), nil
	}

	// Both the name and the stated employment type must agree with the record.
	if !namesMatch(name, rec.Name) || rec.EmploymentType != stated {
		out := failed(stated, domain.FlagDataMismatch)
		out.CustomerID = rec.CustomerID
		return out, nil
	}

	var flags []domain.RiskFlag
	if rec.MonthlyIncome < LowIncomeThreshold {
		flags = append(flags, domain.FlagLowIncome)
	}

	return Verification{
		Result: domain.KYCResult{
			Status:         domain.KYCVerified,
			EmploymentType: rec.EmploymentType,
			MonthlyIncome:  rec.MonthlyIncome,
			RiskFlags:      flags,
		},
		CustomerID: rec.CustomerID,
	}, nil
}

func failed(emp domain.EmploymentType, flag domain.RiskFlag) Verification {
	return Verification{Result: domain.KYCResult{
		Status:         domain.KYCFailed,
		EmploymentType: emp,
		RiskFlags:      []domain.RiskFlag{flag},
	}}
}

// namesMatch accepts a case-insensitive containment in either direction.
func namesMatch(stated, registered string) bool {
	a := strings.ToLower(strings.Join(strings.Fields(stated), " "))
	b := strings.ToLower(strings.Join(strings.Fields(registered), " "))
	return strings.Contains(a, b) || strings.Contains(b, a)
}
