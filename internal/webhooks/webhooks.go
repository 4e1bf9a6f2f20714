// Package webhooks delivers risk alerts to external services.
//
// Endpoints are configured statically (ALERT_WEBHOOK_URLS). Every payload is
// signed with HMAC-SHA256 when a secret is set, and transient failures are
// retried with backoff.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/metrics"
	"github.com/mbd888/guardian/internal/retry"
	"github.com/mbd888/guardian/internal/security"
)

// EventType represents the type of webhook event
type EventType string

const (
	EventAlertRaised EventType = "alert.raised"
)

// Header names set on every delivery.
const (
	HeaderEvent     = "X-Guardian-Event"
	HeaderTimestamp = "X-Guardian-Timestamp"
	HeaderSignature = "X-Guardian-Signature"
)

// Event represents a webhook event
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Dispatcher sends webhook events to a fixed set of endpoints.
type Dispatcher struct {
	urls         []string
	secret       string
	client       *http.Client
	logger       *slog.Logger
	urlValidator func(string) error
	maxAttempts  int
	baseDelay    time.Duration
}

// NewDispatcher creates a dispatcher for urls. secret may be empty to send
// unsigned payloads.
func NewDispatcher(urls []string, secret string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		urls:   append([]string(nil), urls...),
		secret: secret,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:       logger,
		urlValidator: security.ValidateEndpointURL,
		maxAttempts:  3,
		baseDelay:    500 * time.Millisecond,
	}
}

// Endpoints returns the number of configured endpoints.
func (d *Dispatcher) Endpoints() int { return len(d.urls) }

// Dispatch sends event to every endpoint concurrently and waits for all
// deliveries. It returns the joined delivery errors.
func (d *Dispatcher) Dispatch(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, u := range d.urls {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			if err := d.deliver(ctx, u, event, payload); err != nil {
				metrics.AlertDeliveriesTotal.WithLabelValues("failure").Inc()
				d.logger.Warn("webhook delivery failed", "url", u, "event", event.ID, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", u, err))
				mu.Unlock()
				return
			}
			metrics.AlertDeliveriesTotal.WithLabelValues("success").Inc()
		}(u)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, url string, event *Event, payload []byte) error {
	// Re-validate at send time; DNS may have changed since startup.
	if err := d.urlValidator(url); err != nil {
		return fmt.Errorf("endpoint rejected: %w", err)
	}

	return retry.Do(ctx, d.maxAttempts, d.baseDelay, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set(HeaderEvent, string(event.Type))
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(event.Timestamp.Unix(), 10))
		if d.secret != "" {
			req.Header.Set(HeaderSignature, Sign(payload, d.secret))
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		statusErr := fmt.Errorf("status %d", resp.StatusCode)
		if retry.Transient(resp.StatusCode) {
			return statusErr
		}
		return retry.Permanent(statusErr)
	})
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(payload []byte, secret, signature string) bool {
	expected, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hmac.Equal(h.Sum(nil), expected)
}
