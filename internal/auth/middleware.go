package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ContextKeyAPIKey is the key for storing the API key in gin context
const ContextKeyAPIKey = "apiKey"

// Middleware extracts and validates the API key from the request.
// Sets apiKey in context if valid; never rejects.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			if key, err := m.ValidateKey(apiKey); err == nil {
				c.Set(ContextKeyAPIKey, key)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a valid key. It passes everything
// through when auth is disabled.
func RequireAuth(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.Enabled() {
			c.Next()
			return
		}
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer <key>' header.",
			})
			return
		}
		c.Next()
	}
}

// AdminSecretHeader carries the operator secret for /v1/admin routes.
const AdminSecretHeader = "X-Admin-Secret"

// RequireAdmin guards operator routes. With a secret configured the request
// must carry it in X-Admin-Secret. Without one, any authenticated API key is
// accepted, so admin routes stay closed when auth is disabled too.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			if !IsAuthenticated(c) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Admin routes require an API key or ADMIN_SECRET.",
				})
				return
			}
			c.Next()
			return
		}
		got := c.GetHeader(AdminSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Invalid or missing admin secret.",
			})
			return
		}
		c.Next()
	}
}

// GetAPIKey returns the API key from context (if authenticated)
func GetAPIKey(c *gin.Context) (*APIKey, bool) {
	key, exists := c.Get(ContextKeyAPIKey)
	if !exists {
		return nil, false
	}
	k, ok := key.(*APIKey)
	return k, ok
}

// IsAuthenticated checks if the request is authenticated
func IsAuthenticated(c *gin.Context) bool {
	_, exists := c.Get(ContextKeyAPIKey)
	return exists
}

// CallerKey identifies the caller for rate limiting: the key ID when
// authenticated, otherwise the client IP.
func CallerKey(c *gin.Context) string {
	if k, ok := GetAPIKey(c); ok {
		return "key:" + k.ID
	}
	return "ip:" + c.ClientIP()
}
