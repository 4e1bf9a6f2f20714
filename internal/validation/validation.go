// Package validation provides input validation for the guardian API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// Field limits.
const (
	MaxQueryLength  = 10000
	MaxNotesLength  = 1000
	MaxEntityLength = 128
	MaxBatchItems   = 100
)

// entityRegex accepts opaque entity IDs and UPI virtual payment addresses
// such as "alice@okhdfc".
var entityRegex = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidEntityID checks if a string is a usable entity ID
func IsValidEntityID(id string) bool {
	return entityRegex.MatchString(id)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, "\x00", "")

	// Cut on a rune boundary so multi-byte text (₹, Devanagari) stays valid.
	if len(s) > maxLen {
		cut := maxLen
		for cut > 0 && !isRuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate validates a request and returns errors
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidEntity checks an optional entity ID
func ValidEntity(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidEntityID(value) {
			return &ValidationError{Field: field, Message: "must be 1-128 characters of letters, digits and . _ : @ -"}
		}
		return nil
	}
}

// MaxLength checks if a field exceeds max length
func MaxLength(field, value string, max int) func() *ValidationError {
	return func() *ValidationError {
		if len(value) > max {
			return &ValidationError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// MaxItems checks the length of a list field
func MaxItems(field string, n, max int) func() *ValidationError {
	return func() *ValidationError {
		if n > max {
			return &ValidationError{Field: field, Message: "too many items"}
		}
		return nil
	}
}

// ValidAmount checks an optional amount: present, a number, and not negative.
func ValidAmount(field string, value *decimal.Decimal) func() *ValidationError {
	return func() *ValidationError {
		if value == nil {
			return &ValidationError{Field: field, Message: "is required"}
		}
		if value.IsNegative() {
			return &ValidationError{Field: field, Message: "must not be negative"}
		}
		return nil
	}
}

// EntityParamMiddleware validates the :entity URL parameter on routes that use it.
func EntityParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("entity")
		if id != "" && !IsValidEntityID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_entity",
				"message": "entity must be 1-128 characters of letters, digits and . _ : @ -",
			})
			return
		}
		c.Next()
	}
}
