package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyAPIKey is the gin context key for the validated key.
	ContextKeyAPIKey = "apiKey"
	// ContextKeyUserID is the gin context key for the caller's user id.
	ContextKeyUserID = "authUserID"
)

// Middleware extracts and validates the API key from the request and,
// if valid, stores the key and caller id in the context. It never
// rejects; pair with RequireAuth on protected routes.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("Authorization")
		if apiKey == "" {
			apiKey = c.GetHeader("X-API-Key")
		}

		if apiKey != "" {
			key, err := m.ValidateKey(c.Request.Context(), apiKey)
			if err == nil {
				c.Set(ContextKeyAPIKey, key)
				c.Set(ContextKeyUserID, key.UserID)
			}
		}

		c.Next()
	}
}

// RequireAuth rejects requests without a validated key.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, exists := c.Get(ContextKeyAPIKey); !exists {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "API key required. Include 'Authorization: Bearer dk_...' header.",
			})
			return
		}
		c.Next()
	}
}

// CallerID returns the authenticated user's id, or "" if anonymous.
func CallerID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}
