// Package jwt authenticates API callers with HMAC-signed bearer tokens and
// scopes them to the accounts listed in their claims.
package jwt

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	claimsKey = "claims"
	// RoleAdmin may act on any account.
	RoleAdmin = "admin"
)

// Claims carries the subject plus the accounts it may operate.
type Claims struct {
	Sub      string   `json:"sub"`
	Accounts []string `json:"accounts,omitempty"`
	Role     string   `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// CanAccess reports whether the caller may act on accountID.
func (c *Claims) CanAccess(accountID string) bool {
	if c == nil {
		return false
	}
	return c.Role == RoleAdmin || slices.Contains(c.Accounts, accountID)
}

// Sign issues a token for claims valid for ttl.
func Sign(secret string, claims Claims, ttl time.Duration) (string, error) {
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	if claims.Subject == "" {
		claims.Subject = claims.Sub
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parse(secret, raw string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// Middleware rejects requests without a valid bearer token with 401.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		claims, err := parse(secret, raw)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaims returns the claims stored by Middleware.
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// RequireAccount aborts with 403 when the caller's claims do not cover the
// account named by the given route parameter. Without claims on the context
// (auth disabled) the request passes.
func RequireAccount(param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := GetClaims(c)
		if !ok {
			c.Next()
			return
		}
		if !claims.CanAccess(c.Param(param)) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account not permitted"})
			return
		}
		c.Next()
	}
}

// Authorize is the handler-level form of RequireAccount, for account ids
// that arrive in a body or query string.
func Authorize(c *gin.Context, accountID string) bool {
	claims, ok := GetClaims(c)
	if !ok {
		return true
	}
	if claims.CanAccess(accountID) {
		return true
	}
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account not permitted"})
	return false
}
