// Package notify turns risk assessments into user-facing alerts and fans them
// out to the realtime stream and alert webhooks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/guardian/internal/idgen"
	"github.com/mbd888/guardian/internal/realtime"
	"github.com/mbd888/guardian/internal/risk"
	"github.com/mbd888/guardian/internal/webhooks"
)

// Broadcaster publishes events to live subscribers.
type Broadcaster interface {
	Broadcast(event *realtime.Event)
}

// Dispatcher delivers events to external endpoints.
type Dispatcher interface {
	Dispatch(ctx context.Context, event *webhooks.Event) error
}

// Format renders the alert text shown to the payer.
func Format(a risk.RiskAssessment) string {
	subject := a.SubjectID
	if subject == "" {
		subject = "N/A"
	}
	safe := "NO"
	if a.SafeToProceed {
		safe = "YES"
	}
	return fmt.Sprintf("[ALERT] %s\nRisk Level: %s\nSafe to Proceed: %s\nDetails:\n%s",
		subject, a.Level, safe, a.Report())
}

// Notifier fans alerts out to the configured sinks. Either sink may be nil.
// All methods are fire-and-forget: sink errors are logged but never returned.
type Notifier struct {
	hub     Broadcaster
	hooks   Dispatcher
	logger  *slog.Logger
	timeout time.Duration

	pending sync.WaitGroup
}

// New creates a notifier.
func New(hub Broadcaster, hooks Dispatcher, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Notifier{
		hub:     hub,
		hooks:   hooks,
		logger:  logger,
		timeout: 30 * time.Second,
	}
}

// Notify publishes the assessment and returns its formatted alert. Every
// assessment is streamed; only MEDIUM and HIGH reach the webhooks.
func (n *Notifier) Notify(a risk.RiskAssessment) string {
	text := Format(a)
	if n == nil {
		return text
	}

	if n.hub != nil {
		n.hub.Broadcast(&realtime.Event{
			Type:      eventTypeFor(a.Kind),
			Timestamp: a.EvaluatedAt,
			EntityID:  a.EntityID,
			Level:     a.Level,
			Data: map[string]interface{}{
				"assessment":   a,
				"notification": text,
			},
		})
	}

	if n.hooks != nil && a.Level != risk.LevelLow {
		event := &webhooks.Event{
			ID:        idgen.WithPrefix("evt_"),
			Type:      webhooks.EventAlertRaised,
			Timestamp: a.EvaluatedAt,
			Data: map[string]interface{}{
				"assessmentId":  a.ID,
				"subjectId":     a.SubjectID,
				"entityId":      a.EntityID,
				"kind":          a.Kind,
				"score":         a.Score,
				"level":         a.Level,
				"signals":       a.Signals,
				"safeToProceed": a.SafeToProceed,
				"notification":  text,
			},
		}
		n.pending.Add(1)
		go func() {
			defer n.pending.Done()
			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()
			if err := n.hooks.Dispatch(ctx, event); err != nil {
				n.logger.Warn("alert delivery failed", "assessment", a.ID, "level", a.Level, "error", err)
			}
		}()
	}

	return text
}

// Verdict streams an orchestrated verdict. payload is sent as the event data.
func (n *Notifier) Verdict(entityID string, payload any) {
	if n == nil || n.hub == nil {
		return
	}
	n.hub.Broadcast(&realtime.Event{
		Type:      realtime.EventAggregateVerdict,
		Timestamp: time.Now(),
		EntityID:  entityID,
		Data:      payload,
	})
}

// Wait blocks until in-flight webhook deliveries finish.
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.pending.Wait()
}

func eventTypeFor(k risk.Kind) realtime.EventType {
	if k == risk.KindMessage {
		return realtime.EventMessageAssessed
	}
	return realtime.EventTransactionAssessed
}
