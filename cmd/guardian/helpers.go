package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mbd888/guardian/internal/analyzer"
	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/config"
	"github.com/mbd888/guardian/internal/orchestrator"
	"github.com/mbd888/guardian/internal/registry"
	"github.com/mbd888/guardian/internal/risk"
)

// newEngine builds an in-memory engine over the selected registry.
func newEngine(logger *slog.Logger) (*risk.Engine, error) {
	reg, err := loadRegistry(registryPath)
	if err != nil {
		return nil, err
	}
	return risk.NewEngine(reg, risk.NewMemoryStore(), logger), nil
}

func loadRegistry(path string) (*registry.Registry, error) {
	if path == "" {
		return registry.Default()
	}
	reg, err := registry.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}
	return reg, nil
}

// newOrchestrator wires the default analyzer set from the same settings the
// server reads, .env included. Without an API key the generative analyzers
// report UNKNOWN and only the heuristics decide.
func newOrchestrator(engine *risk.Engine, logger *slog.Logger) (*orchestrator.Orchestrator, error) {
	gen, err := config.LoadGenAI()
	if err != nil {
		return nil, fmt.Errorf("generative config: %w", err)
	}
	breaker := circuitbreaker.New(5, 30*time.Second)
	analyzers := analyzer.Defaults(gen.Analyzer(), engine.Scam(), breaker, logger)
	return orchestrator.New(analyzers, gen.Deadline, logger), nil
}

func writeAggregate(w io.Writer, resp orchestrator.AggregateResponse) {
	fmt.Fprintf(w, "\nVerdict: %s\n%s\n", resp.Verdict, resp.Summary)
	for _, d := range resp.Details {
		fmt.Fprintf(w, "  %s: %s (confidence %.2f)\n", d.AnalyzerName, d.Verdict, d.Confidence)
	}
}
