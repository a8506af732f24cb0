package jwt_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
)

const secret = "test-secret"

func router() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	g := r.Group("/", jwt.Middleware(secret))
	g.GET("/accounts/:accountId", jwt.RequireAccount("accountId"), func(c *gin.Context) {
		claims, _ := jwt.GetClaims(c)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Sub})
	})
	return r
}

func do(t *testing.T, r http.Handler, path, auth string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	member, err := jwt.Sign(secret, jwt.Claims{Sub: "u1", Accounts: []string{"acct-1"}}, time.Hour)
	require.NoError(t, err)
	admin, err := jwt.Sign(secret, jwt.Claims{Sub: "ops", Role: jwt.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	forged, err := jwt.Sign("other-secret", jwt.Claims{Sub: "u1", Accounts: []string{"acct-1"}}, time.Hour)
	require.NoError(t, err)
	expired, err := jwt.Sign(secret, jwt.Claims{Sub: "u1", Accounts: []string{"acct-1"}}, -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		auth string
		want int
	}{
		{"missing header", "/accounts/acct-1", "", http.StatusUnauthorized},
		{"wrong scheme", "/accounts/acct-1", "Basic abc", http.StatusUnauthorized},
		{"bad signature", "/accounts/acct-1", "Bearer " + forged, http.StatusUnauthorized},
		{"expired", "/accounts/acct-1", "Bearer " + expired, http.StatusUnauthorized},
		{"member own account", "/accounts/acct-1", "Bearer " + member, http.StatusOK},
		{"member other account", "/accounts/acct-2", "Bearer " + member, http.StatusForbidden},
		{"admin any account", "/accounts/acct-2", "Bearer " + admin, http.StatusOK},
	}

	r := router()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, do(t, r, tt.path, tt.auth).Code)
		})
	}
}

func TestClaims_CanAccess(t *testing.T) {
	t.Parallel()

	var nilClaims *jwt.Claims
	assert.False(t, nilClaims.CanAccess("a"))
	assert.True(t, (&jwt.Claims{Accounts: []string{"a"}}).CanAccess("a"))
	assert.False(t, (&jwt.Claims{Accounts: []string{"a"}}).CanAccess("b"))
}
