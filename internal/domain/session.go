package domain

import (
	"time"
)

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSystem   Role = "system"
)

// Turn is a single message in the conversation transcript.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds the full state of one loan origination conversation.
type Session struct {
	ID           string              `json:"session_id"`
	Stage        Stage               `json:"stage"`
	CustomerID   string              `json:"customer_id,omitempty"`
	CustomerName string              `json:"customer_name,omitempty"`
	Quote        *SalesQuote         `json:"quote,omitempty"`
	KYC          *KYCResult          `json:"kyc,omitempty"`
	Underwriting *UnderwritingResult `json:"underwriting,omitempty"`
	Sanction     *SanctionRecord     `json:"sanction,omitempty"`
	Turns        []Turn              `json:"turns"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`

	// Version is incremented by the store on every successful save and
	// guards against lost updates.
	Version int64 `json:"version"`
}

// NewSession returns a session at the SALES stage.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Stage:     StageSales,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RecordTurn appends a turn to the transcript.
func (s *Session) RecordTurn(role Role, text string, at time.Time) Turn {
	t := Turn{Role: role, Text: text, Timestamp: at}
	s.Turns = append(s.Turns, t)
	return t
}

// RecentTurns returns the last n turns of the transcript.
func (s *Session) RecentTurns(n int) []Turn {
	if n >= len(s.Turns) {
		return s.Turns
	}
	return s.Turns[len(s.Turns)-n:]
}

// Clone returns a copy whose result pointers and transcript can be modified
// without affecting s.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = append([]Turn(nil), s.Turns...)
	if s.Quote != nil {
		q := *s.Quote
		c.Quote = &q
	}
	if s.KYC != nil {
		k := *s.KYC
		k.RiskFlags = append([]RiskFlag(nil), s.KYC.RiskFlags...)
		c.KYC = &k
	}
	if s.Underwriting != nil {
		u := *s.Underwriting
		c.Underwriting = &u
	}
	if s.Sanction != nil {
		r := *s.Sanction
		c.Sanction = &r
	}
	return &c
}

// Summary is a compact view of a session for operators and audits.
type Summary struct {
	SessionID         string    `json:"session_id"`
	Stage             Stage     `json:"stage"`
	CustomerID        string    `json:"customer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	TurnCount         int       `json:"turn_count"`
	HasQuote          bool      `json:"has_quote"`
	HasKYC            bool      `json:"has_kyc"`
	HasUnderwriting   bool      `json:"has_underwriting"`
	SanctionIssued    bool      `json:"sanction_issued"`
	SanctionID        string    `json:"sanction_id,omitempty"`
	ApprovedPrincipal int64     `json:"approved_principal,omitempty"`
}

// Summarize builds the session summary.
func (s *Session) Summarize() Summary {
	sum := Summary{
		SessionID:       s.ID,
		Stage:           s.Stage,
		CustomerID:      s.CustomerID,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		TurnCount:       len(s.Turns),
		HasQuote:        s.Quote != nil,
		HasKYC:          s.KYC != nil,
		HasUnderwriting: s.Underwriting != nil,
		SanctionIssued:  s.Sanction != nil,
	}
	if s.Sanction != nil {
		sum.SanctionID = s.Sanction.SanctionID
	}
	if s.Underwriting != nil {
		sum.ApprovedPrincipal = s.Underwriting.ApprovedPrincipal
	}
	return sum
}
