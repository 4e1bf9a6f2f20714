package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mbd888/guardian/internal/analyzer"
	"github.com/mbd888/guardian/internal/config"
	"github.com/mbd888/guardian/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:             "0",
		Env:              "development",
		LogLevel:         "error",
		LogFormat:        "text",
		AllowedOrigins:   []string{"*"},
		RateLimitRPM:     600,
		HistorySize:      config.DefaultHistorySize,
		AnalyzerDeadline: 3 * time.Second,
		GenAITimeout:     time.Second,
		GeminiModel:      config.DefaultGeminiModel,
		GeminiEndpoint:   "http://127.0.0.1:1",
	}
}

// newTestServer creates a server without a Gemini key, so only the local
// heuristics produce verdicts.
func newTestServer(t *testing.T, cfg *config.Config, opts ...Option) *Server {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	s, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() {
		s.rateLimiter.Stop()
		s.engine.Wait()
	})
	return s
}

func do(s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	s.router.ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestRootEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp["status"] != "running" || resp["service"] != "UPI Guardian Backend" {
		t.Errorf("unexpected root response %v", resp)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/health", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}

	if resp.Status != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp.Status)
	}
	if len(resp.Checks) != 3 {
		t.Errorf("Expected 3 checks, got %+v", resp.Checks)
	}
	want := []string{analyzer.FraudAgentName, analyzer.ScamAgentName, analyzer.HeuristicScamAgentName}
	if len(resp.Analyzers) != len(want) {
		t.Fatalf("Expected analyzers %v, got %v", want, resp.Analyzers)
	}
	for i, name := range want {
		if resp.Analyzers[i] != name {
			t.Errorf("analyzer %d = %q, want %q", i, resp.Analyzers[i], name)
		}
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/health/live", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/health/ready", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte("guardian_")) {
		t.Error("Expected guardian metrics in exposition")
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestCoreRoutesRegistered(t *testing.T) {
	s := newTestServer(t, nil)

	routes := s.router.Routes()
	expected := []string{
		"GET:/",
		"GET:/health",
		"GET:/health/live",
		"GET:/health/ready",
		"GET:/metrics",
		"GET:/ws",
		"POST:/analyze",
		"POST:/v1/analyze",
		"POST:/v1/transactions/analyze",
		"POST:/v1/messages/analyze",
		"POST:/v1/batch",
		"GET:/v1/entities/:entity/assessments",
		"GET:/v1/registry",
		"GET:/v1/admin/entities/:entity/window",
		"DELETE:/v1/admin/entities/:entity/window",
		"GET:/v1/admin/circuits",
		"POST:/v1/admin/circuits/:analyzer/reset",
		"GET:/v1/admin/stream",
	}

	routeSet := make(map[string]bool)
	for _, route := range routes {
		routeSet[route.Method+":"+route.Path] = true
	}

	for _, e := range expected {
		if !routeSet[e] {
			t.Errorf("Core route %s not registered", e)
		}
	}
}

// ---------------------------------------------------------------------------
// End-to-end analysis
// ---------------------------------------------------------------------------

func TestAnalyzeWithoutKeyFallsBackToHeuristics(t *testing.T) {
	s := newTestServer(t, nil)

	body := `{"query":"Your account XXXX1234 has been debited with ₹50,000. Click here: http://fakebank.link OTP:123456"}`
	w := do(s, "POST", "/analyze", body)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Summary string `json:"orchestrator_summary"`
		Verdict string `json:"verdict"`
		Details []struct {
			Name     string `json:"agent_name"`
			Verdict  string `json:"verdict"`
			Analysis string `json:"analysis"`
		} `json:"agent_details"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response: %v", err)
	}
	if resp.Verdict != "DANGER" {
		t.Errorf("Expected DANGER, got %s", resp.Verdict)
	}
	if len(resp.Details) != 3 {
		t.Fatalf("Expected 3 analyzer details, got %d", len(resp.Details))
	}
	if resp.Details[0].Verdict != "UNKNOWN" || resp.Details[0].Analysis != analyzer.MissingKeyAnalysis {
		t.Errorf("Expected missing-key UNKNOWN from FraudAgent, got %+v", resp.Details[0])
	}
}

func TestTransactionWindowIsPerEntity(t *testing.T) {
	s := newTestServer(t, nil)

	ts := time.Now().UTC().Format(time.RFC3339)
	tx := func(entity string) string {
		return `{"entity_id":"` + entity + `","transaction":{"amount":100,"timestamp":"` + ts + `"}}`
	}

	for i := 0; i < 2; i++ {
		if w := do(s, "POST", "/v1/transactions/analyze", tx("alice")); w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
	}
	if w := do(s, "POST", "/v1/transactions/analyze", tx("bob")); w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	if got := len(s.engine.Window("alice")); got != 2 {
		t.Errorf("alice window = %d, want 2", got)
	}
	if got := len(s.engine.Window("bob")); got != 1 {
		t.Errorf("bob window = %d, want 1", got)
	}
}

// ---------------------------------------------------------------------------
// Auth and rate limiting
// ---------------------------------------------------------------------------

func TestAPIKeysProtectV1(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"gk_test_key"}
	s := newTestServer(t, cfg)

	if w := do(s, "GET", "/v1/registry", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without key, got %d", w.Code)
	}
	if w := do(s, "GET", "/v1/registry", "", "Authorization", "Bearer gk_test_key"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with key, got %d", w.Code)
	}
	// Health stays public
	if w := do(s, "GET", "/health/live", ""); w.Code != http.StatusOK {
		t.Errorf("Expected 200 for liveness, got %d", w.Code)
	}
}

func TestAlertStreamRequiresKey(t *testing.T) {
	cfg := testConfig()
	cfg.APIKeys = []string{"gk_test_key"}
	s := newTestServer(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go s.realtimeHub.Run(ctx)

	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("Expected unauthenticated upgrade to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("Expected 401 for unauthenticated upgrade, got %v", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Authorization": {"Bearer gk_test_key"}})
	if err != nil {
		t.Fatalf("Keyed upgrade failed: %v", err)
	}
	_ = conn.Close()
}

func TestAdminRoutesRequireSecret(t *testing.T) {
	cfg := testConfig()
	cfg.AdminSecret = "ops-secret"
	s := newTestServer(t, cfg)

	if w := do(s, "GET", "/v1/admin/circuits", ""); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without secret, got %d", w.Code)
	}
	if w := do(s, "GET", "/v1/admin/circuits", "", "X-Admin-Secret", "ops-secret"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with secret, got %d", w.Code)
	}

	// Without a secret or API keys nobody is an admin.
	open := newTestServer(t, nil)
	if w := do(open, "GET", "/v1/admin/circuits", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with admin disabled, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitRPM = 6 // burst of 5
	s := newTestServer(t, cfg)

	limited := false
	for i := 0; i < 10; i++ {
		if w := do(s, "GET", "/v1/registry", ""); w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Error("Expected a 429 after exhausting the burst")
	}
	if w := do(s, "GET", "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", w.Code)
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, nil)

	w := do(s, "GET", "/", "", "X-Request-ID", "req-123")
	if w.Header().Get("X-Request-ID") != "req-123" {
		t.Errorf("Expected request ID to be echoed, got %q", w.Header().Get("X-Request-ID"))
	}
	if w := do(s, "GET", "/", ""); len(w.Header().Get("X-Request-ID")) != 32 {
		t.Errorf("Expected a generated 32-char request ID, got %q", w.Header().Get("X-Request-ID"))
	}
}

func TestBadRegistryPath(t *testing.T) {
	cfg := testConfig()
	cfg.RegistryPath = "/nonexistent/banks.yaml"
	if _, err := New(cfg, WithLogger(logging.Discard())); err == nil {
		t.Error("Expected error for missing registry file")
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	s := newTestServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Shutdown() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown returned %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Shutdown did not return")
	}
}
