package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mbd888/guardian/internal/circuitbreaker"
	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/retry"
	"github.com/mbd888/guardian/internal/traces"
)

// FallbackPrefix marks a generative result that was answered by the local
// heuristics instead of the model.
const FallbackPrefix = "fallback heuristics: "

// MissingKeyAnalysis is reported when no API key is configured.
const MissingKeyAnalysis = "API key missing"

// Retry policy for model calls.
const (
	GenerativeAttempts   = 2
	GenerativeRetryDelay = 200 * time.Millisecond

	// fallbackReserve is held back from the caller's deadline so a model
	// call that runs out of time still leaves room for the heuristic answer.
	fallbackReserve = 250 * time.Millisecond
)

// AttemptBudget is the longest a model call can take with the given
// per-attempt timeout: every attempt timing out, plus the retry delay with
// its maximum jitter, plus the fallback reserve.
func AttemptBudget(timeout time.Duration) time.Duration {
	return GenerativeAttempts*timeout + GenerativeRetryDelay*5/4 + fallbackReserve
}

// GenerativeConfig configures the Gemini generateContent client.
type GenerativeConfig struct {
	APIKey   string
	Model    string
	Endpoint string        // e.g. https://generativelanguage.googleapis.com/v1beta
	Timeout  time.Duration // per HTTP attempt
}

// Generative asks a Gemini model for a verdict using a persona prompt.
type Generative struct {
	name     string
	persona  string
	cfg      GenerativeConfig
	client   *http.Client
	breaker  *circuitbreaker.Breaker
	fallback Analyzer
	logger   *slog.Logger

	maxAttempts int
	baseDelay   time.Duration
}

// NewGenerative creates a generative analyzer. breaker and fallback may be
// nil; without a fallback, upstream failures yield UNKNOWN.
func NewGenerative(name, persona string, cfg GenerativeConfig, breaker *circuitbreaker.Breaker, fallback Analyzer, logger *slog.Logger) *Generative {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 6 * time.Second
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	return &Generative{
		name:        name,
		persona:     persona,
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		breaker:     breaker,
		fallback:    fallback,
		logger:      logger,
		maxAttempts: GenerativeAttempts,
		baseDelay:   GenerativeRetryDelay,
	}
}

func (g *Generative) Name() string { return g.name }

// Analyze asks the model for a verdict and falls back to the local
// heuristics on any upstream or parse failure.
func (g *Generative) Analyze(ctx context.Context, query string, qctx map[string]any) Result {
	if g.cfg.APIKey == "" {
		return Unknown(g.name, MissingKeyAnalysis)
	}

	ctx, span := traces.StartSpan(ctx, "analyzer.generate", traces.Analyzer(g.name))
	defer span.End()

	prompt := buildPrompt(g.persona, query, qctx)

	callCtx := ctx
	if dl, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithDeadline(ctx, dl.Add(-fallbackReserve))
		defer cancel()
	}

	var text string
	call := func() error {
		return retry.Do(callCtx, g.maxAttempts, g.baseDelay, func() error {
			var err error
			text, err = g.generate(callCtx, prompt)
			return err
		})
	}

	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(g.name, call)
	} else {
		err = call()
	}
	if err != nil {
		traces.RecordError(span, err)
		return g.fallbackResult(ctx, query, qctx, reasonFor(err), err)
	}

	res, err := parseModelOutput(g.name, text)
	if err != nil {
		traces.RecordError(span, err)
		return g.fallbackResult(ctx, query, qctx, "malformed", err)
	}
	span.SetAttributes(traces.Verdict(string(res.Verdict)))
	return res
}

func (g *Generative) fallbackResult(ctx context.Context, query string, qctx map[string]any, reason string, cause error) Result {
	metrics.AnalyzerFallbacksTotal.WithLabelValues(g.name, reason).Inc()
	g.logger.Warn("generative analyzer fell back to heuristics",
		"analyzer", g.name, "reason", reason, "error", cause)

	if g.fallback == nil {
		return Unknown(g.name, fmt.Sprintf("analysis unavailable: %v", cause))
	}
	res := g.fallback.Analyze(ctx, query, qctx)
	res.AnalyzerName = g.name
	res.Analysis = FallbackPrefix + res.Analysis
	return res
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, ErrUpstreamStatus):
		return "status"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "transport"
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// generate performs one generateContent call and returns the concatenated
// candidate text. Non-transient statuses are marked permanent.
func (g *Generative) generate(ctx context.Context, prompt string) (string, error) {
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	body.GenerationConfig.Temperature = 0.2
	body.GenerationConfig.MaxOutputTokens = 512
	body.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(body)
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", g.cfg.Endpoint, url.PathEscape(g.cfg.Model))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.cfg.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := fmt.Errorf("%w: status %d: %s", ErrUpstreamStatus, resp.StatusCode, truncate(string(raw), 200))
		if retry.Transient(resp.StatusCode) {
			return "", statusErr
		}
		return "", retry.Permanent(statusErr)
	}

	var out geminiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", retry.Permanent(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if len(out.Candidates) == 0 {
		return "", retry.Permanent(fmt.Errorf("%w: no candidates", ErrMalformedResponse))
	}

	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// parseModelOutput decodes {confidence, analysis, verdict} from model text.
func parseModelOutput(name, text string) (Result, error) {
	var parsed struct {
		Confidence float64 `json:"confidence"`
		Analysis   string  `json:"analysis"`
		Verdict    string  `json:"verdict"`
	}
	if err := json.Unmarshal([]byte(StripCodeFences(text)), &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	verdict, ok := ParseVerdict(parsed.Verdict)
	if !ok {
		return Result{}, fmt.Errorf("%w: verdict %q", ErrMalformedResponse, parsed.Verdict)
	}
	analysis := strings.TrimSpace(parsed.Analysis)
	if analysis == "" {
		analysis = "No analysis provided"
	}
	return Result{
		AnalyzerName: name,
		Confidence:   clampConfidence(parsed.Confidence),
		Analysis:     analysis,
		Verdict:      verdict,
	}, nil
}

// StripCodeFences removes a leading ```json or ``` fence and a trailing ```
// fence from model output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.Contains(s[:nl], "{") {
			s = s[nl+1:] // drop the language tag line
		} else {
			s = strings.TrimPrefix(s, "json")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
