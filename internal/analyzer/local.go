package analyzer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mbd888/guardian/internal/risk"
)

// Local answers from the rule-based scam scorer. It needs no network and is
// the fallback for every generative analyzer.
type Local struct {
	name   string
	scorer *risk.ScamScorer
}

// NewLocal wraps scorer under the given analyzer name.
func NewLocal(name string, scorer *risk.ScamScorer) *Local {
	return &Local{name: name, scorer: scorer}
}

func (l *Local) Name() string { return l.name }

// Analyze scores the query plus any string values in qctx.
func (l *Local) Analyze(ctx context.Context, query string, qctx map[string]any) Result {
	if l.scorer == nil {
		return Unknown(l.name, "heuristic scorer not configured")
	}
	a := l.scorer.Score(ctx, withContext(query, qctx))
	return Result{
		AnalyzerName: l.name,
		Confidence:   clampConfidence(float64(a.Score) / float64(risk.MaxScore)),
		Analysis:     a.Report(),
		Verdict:      VerdictFor(a.Level),
	}
}

// withContext appends the string values of qctx to query, ordered by key so
// the same input always scores the same.
func withContext(query string, qctx map[string]any) string {
	if len(qctx) == 0 {
		return query
	}
	keys := make([]string, 0, len(qctx))
	for k := range qctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(query)
	for _, k := range keys {
		var s string
		switch v := qctx[k].(type) {
		case string:
			s = v
		case fmt.Stringer:
			s = v.String()
		default:
			continue
		}
		if s == "" {
			continue
		}
		b.WriteString("\n")
		b.WriteString(s)
	}
	return b.String()
}
