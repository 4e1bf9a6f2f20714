package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clk := &fakeClock{t: time.Unix(1765101600, 0)}
	l.now = clk.now
	return l, clk
}

func TestLimiterAllow(t *testing.T) {
	limiter, clk := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	key := "203.0.113.7"

	// Should allow burst size requests immediately
	for i := 0; i < 5; i++ {
		if ok, _ := limiter.Allow(key); !ok {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}

	// Next request should be denied with a wait of about one token
	ok, wait := limiter.Allow(key)
	if ok {
		t.Error("Request after burst should be denied")
	}
	if wait <= 0 || wait > time.Second {
		t.Errorf("expected wait in (0, 1s], got %v", wait)
	}

	// 1 second = 1 token at 60/min
	clk.advance(time.Second)
	if ok, _ := limiter.Allow(key); !ok {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	if ok, _ := limiter.Allow("client-a"); ok {
		t.Error("Client A should be rate limited")
	}
	if ok, _ := limiter.Allow("client-b"); !ok {
		t.Error("Client B should not be rate limited")
	}
	if limiter.Clients() != 2 {
		t.Errorf("expected 2 tracked clients, got %d", limiter.Clients())
	}
}

func TestLimiterBucketIsCapped(t *testing.T) {
	limiter, clk := newTestLimiter(t, Config{RequestsPerMinute: 600, BurstSize: 2})

	limiter.Allow("k")
	clk.advance(time.Hour)

	allowed := 0
	for i := 0; i < 10; i++ {
		if ok, _ := limiter.Allow("k"); ok {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("idle time should refill only up to the burst, allowed %d", allowed)
	}
}

func TestFromRPM(t *testing.T) {
	tests := []struct {
		rpm       int
		wantRPM   int
		wantBurst int
	}{
		{120, 120, 20},
		{12, 12, 5},
		{0, 120, 20},
	}
	for _, tt := range tests {
		cfg := FromRPM(tt.rpm)
		if cfg.RequestsPerMinute != tt.wantRPM || cfg.BurstSize != tt.wantBurst {
			t.Errorf("FromRPM(%d) = %+v", tt.rpm, cfg)
		}
		if cfg.CleanupInterval != time.Minute {
			t.Errorf("Expected 1 minute cleanup interval, got %v", cfg.CleanupInterval)
		}
	}
	if DefaultConfig() != FromRPM(120) {
		t.Error("DefaultConfig should match FromRPM(120)")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	r := gin.New()
	r.Use(limiter.Middleware(func(c *gin.Context) string { return c.GetHeader("X-Caller") }))
	r.GET("/v1/registry", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(caller string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/registry", nil)
		req.Header.Set("X-Caller", caller)
		r.ServeHTTP(w, req)
		return w
	}

	if w := do("alice"); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := do("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if w := do("bob"); w.Code != http.StatusOK {
		t.Errorf("other caller should pass, got %d", w.Code)
	}
}
