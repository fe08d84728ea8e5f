// Package domain contains core domain types for the loan origination flow.
package domain

// Stage is a step of the loan origination conversation.
type Stage string

const (
	// StageNone marks the absence of a stage; it only appears as the
	// origin of the first audit transition.
	StageNone         Stage = "NONE"
	StageSales        Stage = "SALES"
	StageKYC          Stage = "KYC"
	StageUnderwriting Stage = "UNDERWRITING"
	StageSanction     Stage = "SANCTION"
	StageCompleted    Stage = "COMPLETED"
	StageFailed       Stage = "FAILED"
)

// stageRank orders the non-failed stages along the happy path.
var stageRank = map[Stage]int{
	StageSales:        1,
	StageKYC:          2,
	StageUnderwriting: 3,
	StageSanction:     4,
	StageCompleted:    5,
}

// Valid reports whether s is a known session stage.
func (s Stage) Valid() bool {
	if s == StageFailed {
		return true
	}
	_, ok := stageRank[s]
	return ok
}

// IsTerminal returns true for stages that accept no further transition.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// CanTransition reports whether a session may move from one stage to another.
// Stages advance one step at a time; FAILED is reachable from SALES, KYC and
// UNDERWRITING. Terminal stages never change.
func CanTransition(from, to Stage) bool {
	if from.IsTerminal() || !to.Valid() {
		return false
	}
	if from == StageNone {
		return to == StageSales
	}
	if to == StageFailed {
		return from == StageSales || from == StageKYC || from == StageUnderwriting
	}
	return stageRank[to] == stageRank[from]+1
}
