// Package admin provides operator endpoints for remediating scoring state:
// clearing an entity's transaction window after a disputed flag and
// resetting tripped generative-analyzer circuits.
package admin

import (
	"github.com/mbd888/guardian/internal/realtime"
	"github.com/mbd888/guardian/internal/risk"
)

// WindowStore exposes the per-entity transaction windows.
type WindowStore interface {
	Window(entityID string) []risk.Transaction
	ResetWindow(entityID string) bool
}

// CircuitController exposes the analyzer circuit breaker.
type CircuitController interface {
	OpenKeys() []string
	Reset(key string) bool
}

// StreamStats reports alert-stream subscriber counts.
type StreamStats interface {
	Stats() realtime.Stats
}

// WindowView is the response for an entity's window.
type WindowView struct {
	EntityID     string             `json:"entity_id"`
	Transactions []risk.Transaction `json:"transactions"`
	Count        int                `json:"count"`
}
