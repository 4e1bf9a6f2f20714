// Package auth provides API key authentication for the guardian API.
//
// Authentication model:
//   - Keys are configured statically (API_KEYS) and never stored in clear;
//     the manager keeps only their SHA-256 hashes.
//   - With no keys configured, auth is disabled and /v1 is open.
//   - Health, metrics and the frontend's /analyze route stay public.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// Errors
var (
	ErrNoAPIKey      = errors.New("API key required")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// APIKey identifies a configured key without revealing it.
type APIKey struct {
	ID   string `json:"id"` // "ak_" + first 8 hex chars of the hash
	Hash string `json:"-"`
}

// Manager validates API keys against the configured set.
type Manager struct {
	keys []*APIKey
}

// NewManager hashes the raw keys. Blank entries are ignored.
func NewManager(rawKeys []string) *Manager {
	m := &Manager{}
	seen := make(map[string]bool)
	for _, raw := range rawKeys {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		h := hashKey(raw)
		if seen[h] {
			continue
		}
		seen[h] = true
		m.keys = append(m.keys, &APIKey{ID: "ak_" + h[:8], Hash: h})
	}
	return m
}

// Enabled reports whether any key is configured.
func (m *Manager) Enabled() bool {
	return m != nil && len(m.keys) > 0
}

// Len returns the number of configured keys.
func (m *Manager) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// ValidateKey checks a raw key, optionally prefixed with "Bearer ", and
// returns its metadata. Every configured hash is compared in constant time.
func (m *Manager) ValidateKey(rawKey string) (*APIKey, error) {
	rawKey = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rawKey), "Bearer "))
	if rawKey == "" {
		return nil, ErrNoAPIKey
	}
	if m == nil {
		return nil, ErrInvalidAPIKey
	}

	h := []byte(hashKey(rawKey))
	var match *APIKey
	for _, k := range m.keys {
		if subtle.ConstantTimeCompare(h, []byte(k.Hash)) == 1 {
			match = k
		}
	}
	if match == nil {
		return nil, ErrInvalidAPIKey
	}
	return match, nil
}

func hashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
