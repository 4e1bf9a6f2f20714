// Package idgen generates identifiers for assessments, alerts and requests.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random version 4 UUID in canonical form.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by 32 hex chars (a dashless UUID),
// e.g. "asm_0f8c2d...".
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether s is a canonical UUID. Used to accept upstream
// X-Request-ID values as-is.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
