// Package risk implements rule-based risk scoring for UPI transactions and
// free-text messages.
//
// Transactions are scored against a per-entity sliding window of recent
// activity (velocity, repeated amounts) plus static rules on amount, merchant,
// location and payment notes. Messages are scored for scam markers: urgency
// keywords, links that do not belong to a trusted bank, large amounts and bank
// names paired with foreign links. Scores range from 0 (safe) to 100.
//
// Scoring is fail-open. An unexpected error inside a scorer yields a fixed
// LOW assessment that is safe to proceed, and the error is logged, never
// returned. A scorer fault must not block a payment; callers that need
// fail-closed behavior should treat the FallbackSignal as indeterminate.
package risk

import (
	"context"
	"strings"
	"time"
)

// Level is the coarse risk bucket derived from a score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Kind identifies what was scored.
type Kind string

const (
	KindTransaction Kind = "transaction"
	KindMessage     Kind = "message"
)

// Score bounds and level thresholds.
const (
	MinScore = 0
	MaxScore = 100

	LowMax    = 30
	MediumMax = 70
)

const (
	// NoIssuesSignal is reported when no rule fired.
	NoIssuesSignal = "No issues detected"
	// FallbackSignal marks the fail-open assessment.
	FallbackSignal = "fallback safe response due to error"
)

// LevelFor maps a score to its level: ≤30 LOW, ≤70 MEDIUM, otherwise HIGH.
func LevelFor(score int) Level {
	switch {
	case score <= LowMax:
		return LevelLow
	case score <= MediumMax:
		return LevelMedium
	default:
		return LevelHigh
	}
}

// Safe reports whether a caller may proceed at this level. Only LOW is safe.
func (l Level) Safe() bool { return l == LevelLow }

// Rank orders levels for threshold comparisons.
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 2
	case LevelMedium:
		return 1
	default:
		return 0
	}
}

// ParseLevel accepts a level name in any case. Unknown names map to LOW.
func ParseLevel(s string) Level {
	switch Level(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelHigh:
		return LevelHigh
	case LevelMedium:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Signal is one fired rule.
type Signal struct {
	Description string
	Weight      int
}

// RiskAssessment is the result of scoring one transaction or message.
type RiskAssessment struct {
	ID            string    `json:"id"`
	SubjectID     string    `json:"subjectId"`
	EntityID      string    `json:"entityId"`
	Kind          Kind      `json:"kind"`
	Score         int       `json:"score"`
	Level         Level     `json:"level"`
	Signals       []string  `json:"signals"`
	SafeToProceed bool      `json:"safeToProceed"`
	EvaluatedAt   time.Time `json:"evaluatedAt"`
}

// Report joins the signals with newlines.
func (a RiskAssessment) Report() string {
	if len(a.Signals) == 0 {
		return NoIssuesSignal
	}
	return strings.Join(a.Signals, "\n")
}

// IsFallback reports whether this is the fail-open assessment.
func (a RiskAssessment) IsFallback() bool {
	return len(a.Signals) == 1 && a.Signals[0] == FallbackSignal
}

// Fallback returns the fixed fail-open assessment.
func Fallback(kind Kind, subjectID string) RiskAssessment {
	return RiskAssessment{
		SubjectID:     subjectID,
		Kind:          kind,
		Score:         0,
		Level:         LevelLow,
		Signals:       []string{FallbackSignal},
		SafeToProceed: true,
	}
}

// assess sums signal weights into an assessment.
func assess(kind Kind, subjectID string, signals []Signal) RiskAssessment {
	total := 0
	descriptions := make([]string, 0, len(signals))
	for _, s := range signals {
		total += s.Weight
		descriptions = append(descriptions, s.Description)
	}
	if len(descriptions) == 0 {
		descriptions = append(descriptions, NoIssuesSignal)
	}

	score := clamp(total)
	level := LevelFor(score)
	return RiskAssessment{
		SubjectID:     subjectID,
		Kind:          kind,
		Score:         score,
		Level:         level,
		Signals:       descriptions,
		SafeToProceed: level.Safe(),
	}
}

func clamp(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// Store persists risk assessments for the audit trail.
type Store interface {
	Record(ctx context.Context, assessment *RiskAssessment) error
	ListByEntity(ctx context.Context, entityID string, limit int, opts ...ListOption) ([]*RiskAssessment, error)
}
