package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

// noopValidator allows any URL (including loopback) for test servers.
func noopValidator(_ string) error { return nil }

// newTestDispatcher skips SSRF checks for localhost test servers and keeps
// retries fast.
func newTestDispatcher(secret string, urls ...string) *Dispatcher {
	d := NewDispatcher(urls, secret, nil)
	d.urlValidator = noopValidator
	d.baseDelay = time.Millisecond
	return d
}

func testEvent() *Event {
	return &Event{
		ID:        "evt_1",
		Type:      EventAlertRaised,
		Timestamp: time.Unix(1765101600, 0),
		Data:      map[string]interface{}{"level": "HIGH", "score": 80},
	}
}

func TestSign(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)

	sig := Sign(payload, "secret123")
	if len(sig) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sig))
	}
	if !Verify(payload, "secret123", sig) {
		t.Error("signature should verify with the same secret")
	}
	if Verify(payload, "other", sig) {
		t.Error("signature should not verify with a different secret")
	}
	if Verify(payload, "secret123", "not-hex") {
		t.Error("malformed signature should not verify")
	}
}

func TestDispatch_SignsAndSetsHeaders(t *testing.T) {
	type captured struct {
		body      []byte
		event     string
		timestamp string
		signature string
	}
	got := make(chan captured, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{
			body:      body,
			event:     r.Header.Get(HeaderEvent),
			timestamp: r.Header.Get(HeaderTimestamp),
			signature: r.Header.Get(HeaderSignature),
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := newTestDispatcher("s3cret", srv.URL)
	if err := d.Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	c := <-got
	if c.event != string(EventAlertRaised) {
		t.Errorf("event header = %q", c.event)
	}
	if c.timestamp != strconv.FormatInt(1765101600, 10) {
		t.Errorf("timestamp header = %q", c.timestamp)
	}
	if !Verify(c.body, "s3cret", c.signature) {
		t.Error("signature header does not match body")
	}

	var ev Event
	if err := json.Unmarshal(c.body, &ev); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if ev.ID != "evt_1" || ev.Data["level"] != "HIGH" {
		t.Errorf("unexpected payload %+v", ev)
	}
}

func TestDispatch_UnsignedWithoutSecret(t *testing.T) {
	var signature atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature.Store(r.Header.Get(HeaderSignature))
	}))
	defer srv.Close()

	if err := newTestDispatcher("", srv.URL).Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if s, _ := signature.Load().(string); s != "" {
		t.Errorf("expected no signature, got %q", s)
	}
}

func TestDispatch_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := newTestDispatcher("", srv.URL).Dispatch(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestDispatch_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := newTestDispatcher("", srv.URL).Dispatch(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected an error for 400")
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 attempt, got %d", calls.Load())
	}
}

func TestDispatch_OneFailingEndpointDoesNotBlockOthers(t *testing.T) {
	var okCalls atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		okCalls.Add(1)
	}))
	defer good.Close()
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer bad.Close()

	d := newTestDispatcher("", good.URL, bad.URL)
	if d.Endpoints() != 2 {
		t.Fatalf("Endpoints() = %d", d.Endpoints())
	}
	err := d.Dispatch(context.Background(), testEvent())
	if err == nil {
		t.Fatal("expected joined error from the failing endpoint")
	}
	if okCalls.Load() != 1 {
		t.Errorf("good endpoint should still be called once, got %d", okCalls.Load())
	}
}

func TestDispatch_ValidatorRejects(t *testing.T) {
	d := newTestDispatcher("", "http://10.0.0.1/hook")
	blocked := errors.New("private addresses are not allowed")
	d.urlValidator = func(string) error { return blocked }

	err := d.Dispatch(context.Background(), testEvent())
	if !errors.Is(err, blocked) {
		t.Fatalf("expected validator error, got %v", err)
	}
}
