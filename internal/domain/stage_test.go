package domain

import (
	"testing"
	"time"
)

var allStages = []Stage{StageSales, StageKYC, StageUnderwriting, StageSanction, StageCompleted, StageFailed}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Stage
		want     bool
	}{
		{StageNone, StageSales, true},
		{StageNone, StageKYC, false},
		{StageSales, StageKYC, true},
		{StageKYC, StageUnderwriting, true},
		{StageUnderwriting, StageSanction, true},
		{StageSanction, StageCompleted, true},
		{StageSales, StageUnderwriting, false},
		{StageKYC, StageSales, false},
		{StageSanction, StageKYC, false},
		{StageSales, StageFailed, true},
		{StageKYC, StageFailed, true},
		{StageUnderwriting, StageFailed, true},
		{StageSanction, StageFailed, false},
		{StageCompleted, StageFailed, false},
		{StageFailed, StageSales, false},
		{StageSales, Stage("BOGUS"), false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTransitionsNeverRevisitEarlierStage(t *testing.T) {
	for _, from := range allStages {
		for _, to := range allStages {
			if !CanTransition(from, to) || to == StageFailed {
				continue
			}
			if stageRank[to] <= stageRank[from] {
				t.Errorf("transition %s -> %s moves backwards", from, to)
			}
		}
	}
}

func TestTerminalStagesAreAbsorbing(t *testing.T) {
	for _, from := range []Stage{StageCompleted, StageFailed} {
		for _, to := range allStages {
			if CanTransition(from, to) {
				t.Errorf("terminal stage %s allowed transition to %s", from, to)
			}
		}
	}
}

func TestSessionCloneIsIndependent(t *testing.T) {
	now := time.Now()
	s := NewSession("sess_1", now)
	s.RecordTurn(RoleCustomer, "hello", now)
	s.KYC = &KYCResult{Status: KYCVerified, RiskFlags: []RiskFlag{FlagLowIncome}}

	c := s.Clone()
	c.RecordTurn(RoleSystem, "hi", now)
	c.KYC.RiskFlags[0] = FlagDataMismatch
	c.Stage = StageKYC

	if len(s.Turns) != 1 {
		t.Errorf("expected original transcript untouched, got %d turns", len(s.Turns))
	}
	if s.KYC.RiskFlags[0] != FlagLowIncome {
		t.Errorf("expected original flags untouched, got %v", s.KYC.RiskFlags)
	}
	if s.Stage != StageSales {
		t.Errorf("expected original stage SALES, got %s", s.Stage)
	}
}

func TestSummarize(t *testing.T) {
	s := NewSession("sess_2", time.Now())
	s.RecordTurn(RoleSystem, "welcome", time.Now())
	s.Quote = &SalesQuote{Principal: 500000, TenureMonths: 36}
	s.Underwriting = &UnderwritingResult{Decision: DecisionApproved, ApprovedPrincipal: 500000}

	sum := s.Summarize()
	if sum.TurnCount != 1 || !sum.HasQuote || sum.HasKYC || !sum.HasUnderwriting || sum.SanctionIssued {
		t.Errorf("unexpected summary: %+v", sum)
	}
	if sum.ApprovedPrincipal != 500000 {
		t.Errorf("expected approved principal 500000, got %d", sum.ApprovedPrincipal)
	}
}
