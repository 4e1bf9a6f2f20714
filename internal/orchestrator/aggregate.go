package orchestrator

import "github.com/mbd888/guardian/internal/analyzer"

// Summaries reported for each aggregate verdict.
const (
	SummaryDanger     = "Analysis Complete. HIGH RISK DETECTED. Please proceed with extreme caution or abort."
	SummarySuspicious = "Analysis Complete. Potential risks identified. Review details carefully."
	SummarySafe       = "Analysis Complete. No immediate threats detected based on current analysis."
	SummaryIncomplete = "Analysis Incomplete. No analyzer returned a definitive verdict; the risk could not be determined."
)

// AggregateResponse is the combined answer for one query. The JSON names
// are consumed by the web frontend.
type AggregateResponse struct {
	Summary string            `json:"orchestrator_summary"`
	Verdict analyzer.Verdict  `json:"verdict"`
	Details []analyzer.Result `json:"agent_details"`
}

// Aggregate reduces analyzer results to one verdict. Any DANGER wins, then
// any SUSPICIOUS, then any SAFE. If every result is UNKNOWN (or there are
// none) the outcome is UNKNOWN. Details keep the input order.
func Aggregate(results []analyzer.Result) AggregateResponse {
	var danger, suspicious, safe bool
	for _, r := range results {
		switch r.Verdict {
		case analyzer.VerdictDanger:
			danger = true
		case analyzer.VerdictSuspicious:
			suspicious = true
		case analyzer.VerdictSafe:
			safe = true
		}
	}

	details := make([]analyzer.Result, len(results))
	copy(details, results)

	resp := AggregateResponse{Details: details}
	switch {
	case danger:
		resp.Verdict, resp.Summary = analyzer.VerdictDanger, SummaryDanger
	case suspicious:
		resp.Verdict, resp.Summary = analyzer.VerdictSuspicious, SummarySuspicious
	case safe:
		resp.Verdict, resp.Summary = analyzer.VerdictSafe, SummarySafe
	default:
		resp.Verdict, resp.Summary = analyzer.VerdictUnknown, SummaryIncomplete
	}
	return resp
}
