// Package auth verifies bearer tokens issued by an external identity
// provider against a shared HMAC secret and exposes the verified subject
// id as the request's owner id. Everything about the identity provider
// itself (issuance, rotation, user management) is out of scope; this
// package only consumes a signed token.
package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"

	"videobrief/internal/config"
)

// Verifier checks a bearer token's HS256 signature and extracts the
// subject claim.
type Verifier struct {
	secret []byte
}

// New builds a Verifier from the configured shared secret.
func New(cfg config.AuthConfig) *Verifier {
	return &Verifier{secret: []byte(cfg.SharedSecret)}
}

// Subject parses and verifies tokenString, returning the subject claim.
func (v *Verifier) Subject(tokenString string) (string, error) {
	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", fmt.Errorf("token missing subject claim")
	}
	return sub, nil
}

// Middleware extracts and verifies the bearer token on every request,
// setting "owner_id" in the gin context on success. Tokens that fail
// verification yield 401; absence of a subject yields 401.
func Middleware(v *Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			slog.Warn("missing authorization header", "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			c.Abort()
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			c.Abort()
			return
		}

		sub, err := v.Subject(tokenString)
		if err != nil {
			slog.Warn("token verification failed", "error", err, "path", c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		c.Set("owner_id", sub)
		c.Next()
	}
}

// OwnerID is a helper to read the verified owner id set by Middleware.
func OwnerID(c *gin.Context) (string, error) {
	ownerID, exists := c.Get("owner_id")
	if !exists {
		return "", fmt.Errorf("request is not authenticated")
	}
	ownerIDStr, ok := ownerID.(string)
	if !ok {
		return "", fmt.Errorf("invalid owner id type")
	}
	return ownerIDStr, nil
}
