// Package analyzer defines the pluggable risk analyzers that the orchestrator
// fans a query out to.
//
// An analyzer never returns an error. Failures surface as a Result with the
// UNKNOWN verdict or, for generative analyzers, as the local heuristic result
// marked with a "fallback heuristics:" prefix.
package analyzer

import (
	"context"
	"errors"
	"strings"

	"github.com/mbd888/guardian/internal/risk"
)

// Verdict is an analyzer's classification of a query.
type Verdict string

const (
	VerdictSafe       Verdict = "SAFE"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictDanger     Verdict = "DANGER"
	VerdictUnknown    Verdict = "UNKNOWN"
)

var (
	// ErrMalformedResponse means the upstream model answered with text that
	// is not a usable verdict object.
	ErrMalformedResponse = errors.New("analyzer: malformed model response")
	// ErrUpstreamStatus means the upstream model returned a non-2xx status.
	ErrUpstreamStatus = errors.New("analyzer: upstream returned error status")
)

// Result is one analyzer's answer.
type Result struct {
	AnalyzerName string  `json:"agent_name"`
	Confidence   float64 `json:"confidence"`
	Analysis     string  `json:"analysis"`
	Verdict      Verdict `json:"verdict"`
}

// Analyzer inspects a query and returns a verdict. qctx carries optional
// caller-supplied context and may be nil.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, query string, qctx map[string]any) Result
}

// VerdictFor maps a risk level onto a verdict.
func VerdictFor(l risk.Level) Verdict {
	switch l {
	case risk.LevelHigh:
		return VerdictDanger
	case risk.LevelMedium:
		return VerdictSuspicious
	default:
		return VerdictSafe
	}
}

// ParseVerdict accepts a verdict name in any case. The second return is
// false for anything other than SAFE, SUSPICIOUS or DANGER.
func ParseVerdict(s string) (Verdict, bool) {
	switch v := Verdict(strings.ToUpper(strings.TrimSpace(s))); v {
	case VerdictSafe, VerdictSuspicious, VerdictDanger:
		return v, true
	default:
		return VerdictUnknown, false
	}
}

// Unknown builds an UNKNOWN result with zero confidence.
func Unknown(name, analysis string) Result {
	return Result{
		AnalyzerName: name,
		Confidence:   0,
		Analysis:     analysis,
		Verdict:      VerdictUnknown,
	}
}

func clampConfidence(c float64) float64 {
	if c != c || c < 0 { // NaN
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
