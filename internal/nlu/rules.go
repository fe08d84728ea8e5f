package nlu

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ashureev/lendflow/internal/domain"
	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	// signatureConfidence is granted to an intent whose defining entity is
	// present in the turn, however few of its keyword patterns match.
	signatureConfidence = 0.8
	multiMatchBoost     = 1.5
	minRawAmount        = 10_000
)

var intentPatterns = map[string][]*regexp.Regexp{
	IntentProvideLoanAmount: compile(
		`\b\d+(?:\.\d+)?\s*(?:lakhs?|lacs?|l|crores?|cr)\b`,
		`\b\d{1,2}[,\s]?\d{2}[,\s]?\d{3}\b`,
		`\bneed\s+(?:a\s+)?loan\b`,
		`\bwant\s+(?:a\s+)?loan\b`,
		`\bget\s+(?:a\s+)?loan\b`,
	),
	IntentProvideTenure: compile(
		`\b\d+\s*(?:years?|yrs?)\b`,
		`\b\d+\s*(?:months?|mos?)\b`,
		`\bfor\s+\d+\s*(?:years?|yrs?)\b`,
		`\btenure\b`,
	),
	IntentConfirmLoanDetails: compile(`\byes\b`, `\bconfirm\b`, `\bok(?:ay)?\b`, `\bagree\b`, `\bproceed\b`),
	IntentModifyLoanRequest:  compile(`\bchange\b`, `\bmodify\b`, `\binstead\b`),
	IntentProvidePAN: compile(
		`\b[a-z]{5}\d{4}[a-z]\b`,
		`\bpan\b`,
	),
	IntentProvideEmployment: compile(
		`\bsalaried\b`,
		`\bself[\s_-]?employed\b`,
		`\bbusiness\b`,
		`\bwork(?:s|ing)?\s+(?:at|for|in)\b`,
	),
	IntentProvideIncome: compile(
		`\b(?:salary|income)\b`,
		`\bearn(?:s|ing)?\b`,
		`\bper\s+month\b`,
	),
	IntentConfirmKYC:          compile(`\byes\b`, `\bconfirm\b`, `\bcorrect\b`),
	IntentDownloadLetter:      compile(`\bdownload\b`, `\bget\s+(?:the\s+)?letter\b`, `\bsend\s+(?:me\s+)?(?:the\s+)?letter\b`),
	IntentAcceptOffer:         compile(`\baccept\b`, `\bagree\b`, `\byes\b`, `\bproceed\b`),
	IntentRequestModification: compile(`\bchange\b`, `\bmodify\b`, `\breduce\b`, `\blower\b`),
}

var (
	lakhAmount   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:lakhs?|lacs?|l)\b`)
	croreAmount  = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*(?:crores?|cr)\b`)
	plainNumber  = regexp.MustCompile(`\d[\d,]*`)
	tenureYears  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:years?|yrs?)\b`)
	tenureMonths = regexp.MustCompile(`(?i)\b(\d+)\s*(?:months?|mos?)\b`)
	strictPAN    = regexp.MustCompile(`(?i)\b([a-z]{5}\d{4}[a-z])\b`)
	labelledPAN  = regexp.MustCompile(`(?i)\bpan\b(?:\s+(?:is|number|no|card)\b\.?)*\s*[:#-]?\s*([a-z0-9]+)`)
	selfEmployed = regexp.MustCompile(`(?i)\bself[\s_-]?employed\b`)
	salaried     = regexp.MustCompile(`(?i)\bsalaried\b`)
	business     = regexp.MustCompile(`(?i)\bbusiness\b`)
	incomeAfter  = regexp.MustCompile(`(?i)\b(?:salary|income|earn(?:s|ing)?)\b\D{0,15}?(\d[\d,]*)`)
	incomeBefore = regexp.MustCompile(`(?i)(\d[\d,]*)\s*(?:per|a|/)\s*month\b`)
	nameIntro    = regexp.MustCompile(`(?i)\b(?:my name is|name is|name:|i am|i'm|this is)\s+([a-z][a-z.'-]*(?:\s+[a-z][a-z.'-]*){0,2})`)
)

var nameStopwords = map[string]bool{
	"my": true, "name": true, "is": true, "i": true, "am": true, "pan": true, "and": true,
	"the": true, "employment": true, "type": true, "salaried": true, "business": true,
	"self": true, "employed": true, "self-employed": true, "hi": true, "hello": true,
	"number": true, "income": true, "salary": true, "work": true, "at": true, "for": true,
	"in": true, "with": true, "card": true, "a": true, "here": true, "details": true,
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

// Rules is the keyword and regular-expression interpreter. It has no
// external dependencies and is the fallback for every other interpreter.
type Rules struct{}

// NewRules creates the rule-based interpreter.
func NewRules() *Rules {
	return &Rules{}
}

// DetectIntent scores each intent valid at stage by the share of its
// patterns that match, boosted when several match.
func (r *Rules) DetectIntent(_ context.Context, text string, stage domain.Stage, _ []domain.Turn) (Intent, error) {
	candidates := StageIntents(stage)
	if len(candidates) == 0 {
		return newIntent(IntentNone, 1), nil
	}

	best, bestScore := IntentUnknown, 0.0
	for _, name := range candidates {
		score := patternScore(text, intentPatterns[name])
		if hasSignature(text, name) && score < signatureConfidence {
			score = signatureConfidence
		}
		if score > bestScore {
			best, bestScore = name, score
		}
	}

	if bestScore == 0 {
		return newIntent(IntentUnknown, 0), nil
	}
	return newIntent(best, bestScore), nil
}

func patternScore(text string, patterns []*regexp.Regexp) float64 {
	if len(patterns) == 0 {
		return 0
	}
	matches := 0
	for _, p := range patterns {
		if p.MatchString(text) {
			matches++
		}
	}
	score := float64(matches) / float64(len(patterns))
	if matches > 1 {
		score *= multiMatchBoost
	}
	if score > 1 {
		score = 1
	}
	return score
}

func hasSignature(text, intent string) bool {
	switch intent {
	case IntentProvideLoanAmount:
		return extractAmount(text) > 0
	case IntentProvideTenure:
		return extractTenure(text) > 0
	case IntentProvidePAN:
		return extractPAN(text) != ""
	case IntentProvideEmployment:
		return extractEmployment(text) != ""
	}
	return false
}

// ExtractEntities pulls the fields relevant to intent out of text. An
// unrecognised intent extracts every field.
func (r *Rules) ExtractEntities(_ context.Context, text string, intent string) (Entities, error) {
	var e Entities
	loan, kyc := true, true
	switch intent {
	case IntentProvideLoanAmount, IntentProvideTenure, IntentConfirmLoanDetails, IntentModifyLoanRequest:
		kyc = false
	case IntentProvidePAN, IntentProvideEmployment, IntentProvideIncome, IntentConfirmKYC:
		loan = false
	}

	if loan {
		e.Amount = extractAmount(text)
		e.TenureMonths = extractTenure(text)
	}
	if kyc {
		e.PAN = extractPAN(text)
		e.EmploymentType = extractEmployment(text)
		e.Name = extractName(text)
		e.MonthlyIncome = extractIncome(text)
	}
	return e, nil
}

func extractAmount(text string) int64 {
	if m := croreAmount.FindStringSubmatch(text); m != nil {
		return scaled(m[1], 10_000_000)
	}
	if m := lakhAmount.FindStringSubmatch(text); m != nil {
		return scaled(m[1], 100_000)
	}
	for _, raw := range plainNumber.FindAllString(text, -1) {
		if n := parseGrouped(raw); n >= minRawAmount {
			return n
		}
	}
	return 0
}

func scaled(num string, unit int64) int64 {
	d, err := decimal.NewFromString(num)
	if err != nil {
		return 0
	}
	return d.Mul(decimal.NewFromInt(unit)).IntPart()
}

func parseGrouped(raw string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(strings.Trim(raw, ","), ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func extractTenure(text string) int {
	if m := tenureYears.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n * 12
	}
	if m := tenureMonths.FindStringSubmatch(text); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

// extractPAN prefers a well-formed PAN anywhere in the text and otherwise
// takes the alphanumeric token labelled as the PAN, so malformed values
// still reach validation.
func extractPAN(text string) string {
	if m := strictPAN.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	if m := labelledPAN.FindStringSubmatch(text); m != nil && strings.ContainsAny(m[1], "0123456789") {
		return strings.ToUpper(m[1])
	}
	return ""
}

func extractEmployment(text string) string {
	switch {
	case selfEmployed.MatchString(text):
		return string(domain.EmploymentSelfEmployed)
	case salaried.MatchString(text):
		return string(domain.EmploymentSalaried)
	case business.MatchString(text):
		return string(domain.EmploymentBusiness)
	}
	return ""
}

func extractIncome(text string) int64 {
	for _, re := range []*regexp.Regexp{incomeAfter, incomeBefore} {
		if m := re.FindStringSubmatch(text); m != nil {
			if n := parseGrouped(m[1]); n > 0 {
				return n
			}
		}
	}
	return 0
}

func extractName(text string) string {
	if m := nameIntro.FindStringSubmatch(text); m != nil {
		if name := leadingNameWords(strings.Fields(m[1])); name != "" {
			return name
		}
	}

	// Fall back to the first run of capitalised words.
	var run []string
	for _, w := range strings.FieldsFunc(text, isNameSeparator) {
		if isCapitalisedWord(w) && !nameStopwords[strings.ToLower(w)] {
			run = append(run, w)
			if len(run) == 3 {
				break
			}
			continue
		}
		if len(run) > 0 {
			break
		}
	}
	return strings.Join(run, " ")
}

func leadingNameWords(words []string) string {
	var kept []string
	caser := cases.Title(language.English)
	for _, w := range words {
		if nameStopwords[strings.ToLower(w)] {
			break
		}
		kept = append(kept, caser.String(w))
	}
	return strings.Join(kept, " ")
}

func isNameSeparator(r rune) bool {
	return !unicode.IsLetter(r) && r != '\'' && r != '-'
}

// isCapitalisedWord matches "Rajesh" but not "PAN" or "rajesh".
func isCapitalisedWord(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 || !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if unicode.IsLower(r) {
			return true
		}
	}
	return false
}
