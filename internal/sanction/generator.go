// Package sanction produces sanction letters for approved loans.
package sanction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/ashureev/lendflow/internal/finance"
	"github.com/google/uuid"
)

// ValidityDays is how long a sanction offer stays open.
const ValidityDays = 30

// Request carries the approved terms to put on the letter.
type Request struct {
	SessionID    string
	CustomerID   string
	CustomerName string
	Principal    int64
	TenureMonths int
	AnnualRate   float64
	EMI          float64
	RiskGrade    string
	Decision     domain.Decision
}

func (r Request) validate() error {
	if r.SessionID == "" || r.Principal <= 0 || r.TenureMonths <= 0 || r.EMI <= 0 {
		return fmt.Errorf("%w: sanction request needs session, principal, tenure and emi", domain.ErrValidation)
	}
	return nil
}

// Document identifies a rendered letter.
type Document struct {
	Reference    string
	SanctionID   string
	ValidityDays int
	IssuedAt     time.Time
}

// Generator renders sanction documents.
type Generator interface {
	Render(ctx context.Context, req Request) (Document, error)
}

// NewSanctionID returns "SL" + yyyymmdd + six upper-case hex characters.
func NewSanctionID(now time.Time) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "SL" + now.Format("20060102") + strings.ToUpper(id[:6])
}

var letterTemplate = template.Must(template.New("letter").Parse(`LOAN SANCTION LETTER

Sanction ID:    {{.SanctionID}}
Date:           {{.Date}}
Customer:       {{.CustomerName}}{{if .CustomerID}} ({{.CustomerID}}){{end}}
Reference:      {{.SessionID}}

We are pleased to sanction your personal loan on the following terms:

  Loan amount:       Rs. {{.Principal}}
  Tenure:            {{.TenureMonths}} months
  Interest rate:     {{.Rate}} per annum
  Monthly EMI:       Rs. {{.EMI}}
  Total interest:    Rs. {{.TotalInterest}}
  Total repayable:   Rs. {{.TotalRepayable}}
  Risk grade:        {{.RiskGrade}}
{{if .Conditional}}
The sanctioned amount is the maximum you are currently eligible for.
{{end}}
This offer is valid for {{.ValidityDays}} days, until {{.ValidUntil}}.
Disbursement is subject to signing the loan agreement.
`))

type letterData struct {
	SanctionID     string
	Date           string
	CustomerName   string
	CustomerID     string
	SessionID      string
	Principal      string
	TenureMonths   int
	Rate           string
	EMI            string
	TotalInterest  string
	TotalRepayable string
	RiskGrade      string
	Conditional    bool
	ValidityDays   int
	ValidUntil     string
}

// FileGenerator writes plain-text letters to <dir>/<session>.txt.
type FileGenerator struct {
	dir string
	now func() time.Time
}

// NewFileGenerator creates dir if needed.
func NewFileGenerator(dir string) (*FileGenerator, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sanction directory: %w", err)
	}
	return &FileGenerator{dir: dir, now: time.Now}, nil
}

// Render writes the letter and returns its path as the document reference.
func (g *FileGenerator) Render(ctx context.Context, req Request) (Document, error) {
	if err := req.validate(); err != nil {
		return Document{}, err
	}
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}

	issued := g.now().UTC()
	doc := Document{
		SanctionID:   NewSanctionID(issued),
		ValidityDays: ValidityDays,
		IssuedAt:     issued,
	}

	totalInterest := finance.TotalInterest(req.EMI, req.TenureMonths, float64(req.Principal))
	data := letterData{
		SanctionID:     doc.SanctionID,
		Date:           issued.Format("02 Jan 2006"),
		CustomerName:   req.CustomerName,
		CustomerID:     req.CustomerID,
		SessionID:      req.SessionID,
		Principal:      finance.FormatAmount(float64(req.Principal)),
		TenureMonths:   req.TenureMonths,
		Rate:           finance.FormatRate(req.AnnualRate),
		EMI:            finance.FormatAmount(req.EMI),
		TotalInterest:  finance.FormatAmount(totalInterest),
		TotalRepayable: finance.FormatAmount(float64(req.Principal) + totalInterest),
		RiskGrade:      req.RiskGrade,
		Conditional:    req.Decision == domain.DecisionConditional,
		ValidityDays:   ValidityDays,
		ValidUntil:     issued.AddDate(0, 0, ValidityDays).Format("02 Jan 2006"),
	}

	var b strings.Builder
	if err := letterTemplate.Execute(&b, data); err != nil {
		return Document{}, fmt.Errorf("render sanction letter: %w", err)
	}

	path := filepath.Join(g.dir, filepath.Base(req.SessionID)+".txt")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return Document{}, fmt.Errorf("write sanction letter: %w", err)
	}
	doc.Reference = path
	return doc, nil
}
