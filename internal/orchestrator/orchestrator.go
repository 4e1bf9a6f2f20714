// Package orchestrator runs a query through every configured analyzer
// concurrently and reduces their verdicts into one answer.
//
// Analyzers that miss the deadline or panic are reported as UNKNOWN in their
// own slot; the call itself only fails when nothing is configured or the
// caller goes away.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/guardian/internal/analyzer"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/traces"
)

// DefaultDeadline bounds how long Process waits for analyzers.
const DefaultDeadline = 8 * time.Second

// ErrNoAnalyzers is returned by Process when the orchestrator is empty.
var ErrNoAnalyzers = errors.New("orchestrator: no analyzers configured")

// Orchestrator fans queries out to a fixed analyzer set.
type Orchestrator struct {
	analyzers []analyzer.Analyzer
	deadline  time.Duration
	logger    *slog.Logger
}

// New creates an orchestrator. A non-positive deadline uses DefaultDeadline.
func New(analyzers []analyzer.Analyzer, deadline time.Duration, logger *slog.Logger) *Orchestrator {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Orchestrator{
		analyzers: append([]analyzer.Analyzer(nil), analyzers...),
		deadline:  deadline,
		logger:    logger,
	}
}

// Analyzers returns the analyzer names in dispatch order.
func (o *Orchestrator) Analyzers() []string {
	names := make([]string, len(o.analyzers))
	for i, a := range o.analyzers {
		names[i] = a.Name()
	}
	return names
}

// Deadline returns the per-query wait limit.
func (o *Orchestrator) Deadline() time.Duration { return o.deadline }

type slot struct {
	index  int
	result analyzer.Result
}

// Process runs query through every analyzer and aggregates the results in
// dispatch order.
func (o *Orchestrator) Process(ctx context.Context, query string, qctx map[string]any) (AggregateResponse, error) {
	if len(o.analyzers) == 0 {
		return AggregateResponse{}, ErrNoAnalyzers
	}
	if err := ctx.Err(); err != nil {
		return AggregateResponse{}, fmt.Errorf("orchestrator: %w", err)
	}

	ctx, span := traces.StartSpan(ctx, "orchestrator.process")
	defer span.End()

	dctx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	// Buffered so late analyzers never block after Process returns.
	ch := make(chan slot, len(o.analyzers))
	for i, a := range o.analyzers {
		go o.run(dctx, i, a, query, qctx, ch)
	}

	results := make([]analyzer.Result, len(o.analyzers))
	filled := make([]bool, len(o.analyzers))
	received := 0

wait:
	for received < len(o.analyzers) {
		select {
		case s := <-ch:
			results[s.index] = s.result
			filled[s.index] = true
			received++
		case <-dctx.Done():
			if err := ctx.Err(); err != nil {
				traces.RecordError(span, err)
				return AggregateResponse{}, fmt.Errorf("orchestrator: %w", err)
			}
			break wait
		}
	}

	for i, ok := range filled {
		if ok {
			continue
		}
		name := o.analyzers[i].Name()
		metrics.AnalyzerTimeoutsTotal.WithLabelValues(name).Inc()
		o.logger.Warn("analyzer missed deadline", "analyzer", name, "deadline", o.deadline)
		results[i] = analyzer.Unknown(name, fmt.Sprintf("analyzer %q did not respond within %s", name, o.deadline))
	}

	resp := Aggregate(results)
	for _, r := range resp.Details {
		metrics.AnalyzerResultsTotal.WithLabelValues(r.AnalyzerName, string(r.Verdict)).Inc()
	}
	metrics.AggregateVerdictsTotal.WithLabelValues(string(resp.Verdict)).Inc()
	span.SetAttributes(traces.Verdict(string(resp.Verdict)))
	return resp, nil
}

// run executes one analyzer and always delivers exactly one slot.
func (o *Orchestrator) run(ctx context.Context, i int, a analyzer.Analyzer, query string, qctx map[string]any, ch chan<- slot) {
	name := a.Name()
	start := time.Now()

	ctx, span := traces.StartSpan(ctx, "analyzer.analyze", traces.Analyzer(name))
	defer span.End()

	defer func() {
		metrics.AnalyzerDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if r := recover(); r != nil {
			err := fmt.Errorf("analyzer %q failed: %v", name, r)
			traces.RecordError(span, err)
			o.logger.Error("analyzer panicked", "analyzer", name, "panic", r)
			ch <- slot{index: i, result: analyzer.Unknown(name, err.Error())}
		}
	}()

	res := a.Analyze(ctx, query, qctx)
	if res.AnalyzerName == "" {
		res.AnalyzerName = name
	}
	span.SetAttributes(traces.Verdict(string(res.Verdict)))
	ch <- slot{index: i, result: res}
}
