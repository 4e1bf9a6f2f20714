package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/guardian/internal/risk"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	time.Sleep(20 * time.Millisecond)
	return h
}

func highAlert(entity string) *Event {
	return &Event{Type: EventTransactionAssessed, Timestamp: time.Now(), EntityID: entity, Level: risk.LevelHigh}
}

// ---------------------------------------------------------------------------
// Subscription filter tests
// ---------------------------------------------------------------------------

func TestSubscription_Matches(t *testing.T) {
	tests := []struct {
		name  string
		sub   Subscription
		event *Event
		want  bool
	}{
		{"all events", Subscription{AllEvents: true}, &Event{Type: EventMessageAssessed, Level: risk.LevelLow}, true},
		{"empty passes everything", Subscription{}, highAlert("anyone"), true},
		{"type match", Subscription{EventTypes: []EventType{EventTransactionAssessed}}, &Event{Type: EventTransactionAssessed}, true},
		{"type mismatch", Subscription{EventTypes: []EventType{EventTransactionAssessed}}, &Event{Type: EventMessageAssessed}, false},
		{"watched entity", Subscription{EntityIDs: []string{"user-42"}}, highAlert("user-42"), true},
		{"other entity", Subscription{EntityIDs: []string{"user-42"}}, highAlert("user-7"), false},
		{"below min level", Subscription{MinLevel: "medium"}, &Event{Level: risk.LevelLow}, false},
		{"at min level", Subscription{MinLevel: "medium"}, &Event{Level: risk.LevelMedium}, true},
		{"above min level", Subscription{MinLevel: "medium"}, &Event{Level: risk.LevelHigh}, true},
		{"aggregate has no level", Subscription{MinLevel: "HIGH"}, &Event{Type: EventAggregateVerdict}, true},
		{
			"all filters combined",
			Subscription{EventTypes: []EventType{EventTransactionAssessed}, EntityIDs: []string{"user-42"}, MinLevel: "HIGH"},
			highAlert("user-42"),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.sub.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_RegisterBroadcastUnregister(t *testing.T) {
	h := startHub(t)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{AllEvents: true}}
	h.register <- client
	time.Sleep(20 * time.Millisecond)

	if got := h.Stats().ConnectedClients; got != 1 {
		t.Fatalf("Expected 1 connected client, got %d", got)
	}

	h.Broadcast(highAlert("user-1"))
	select {
	case msg := <-client.send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Type != EventTransactionAssessed || ev.EntityID != "user-1" || ev.Level != risk.LevelHigh {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for broadcast")
	}

	h.unregister <- client
	time.Sleep(20 * time.Millisecond)

	stats := h.Stats()
	if stats.ConnectedClients != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %d", stats.ConnectedClients)
	}
	if stats.PeakClients != 1 || stats.TotalClients != 1 {
		t.Errorf("Expected peak and total 1, got %+v", stats)
	}
	if stats.TotalEvents != 1 {
		t.Errorf("Expected 1 total event, got %d", stats.TotalEvents)
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := startHub(t)

	client := &Client{hub: h, send: make(chan []byte, 8), sub: Subscription{MinLevel: "HIGH"}}
	h.register <- client
	time.Sleep(20 * time.Millisecond)

	h.Broadcast(&Event{Type: EventMessageAssessed, Level: risk.LevelLow})
	time.Sleep(50 * time.Millisecond)
	select {
	case <-client.send:
		t.Error("Client should NOT receive a LOW event")
	default:
	}

	h.Broadcast(highAlert("user-1"))
	select {
	case <-client.send:
	case <-time.After(time.Second):
		t.Error("Client should receive the HIGH event")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Hub did not stop after context cancellation")
	}

	// Upgrades after shutdown are refused.
	w := httptest.NewRecorder()
	h.HandleWebSocket(w, httptest.NewRequest("GET", "/ws", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after shutdown, got %d", w.Code)
	}
}

func TestHub_WebSocketSubscription(t *testing.T) {
	h := startHub(t)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.WriteJSON(Subscription{EntityIDs: []string{"user-42"}}); err != nil {
		t.Fatalf("write subscription: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(highAlert("user-7"))
	h.Broadcast(highAlert("user-42"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.EntityID != "user-42" {
		t.Errorf("expected only user-42 events, got %q", ev.EntityID)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://console.example"})

	req := httptest.NewRequest("GET", "http://api.example/ws", nil)
	if !check(req) {
		t.Error("requests without Origin should pass")
	}

	req.Header.Set("Origin", "https://console.example")
	if !check(req) {
		t.Error("allowed origin should pass")
	}

	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("unlisted origin should be rejected")
	}

	if !originChecker(nil)(req) {
		t.Error("empty list should accept any origin")
	}
}
