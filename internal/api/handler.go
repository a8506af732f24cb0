// Package api is the settings and control HTTP API.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	infragin "github.com/jonesrussell/north-cloud/sniper/infrastructure/gin"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/sse"
	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/policy"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

const apiPrefix = "/api/v1"

type Handler struct {
	policies  *policy.Store
	sessions  *session.Manager
	admission *admission.Controller
	queue     *queue.Queue
	audit     *audit.Log
	broker    sse.Broker
	heartbeat time.Duration
	log       logger.Logger
}

type Deps struct {
	Policies  *policy.Store
	Sessions  *session.Manager
	Admission *admission.Controller
	Queue     *queue.Queue
	Audit     *audit.Log
	// Broker is optional; without it /events is not mounted.
	Broker    sse.Broker
	Heartbeat time.Duration
	Log       logger.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		policies:  d.Policies,
		sessions:  d.Sessions,
		admission: d.Admission,
		queue:     d.Queue,
		audit:     d.Audit,
		broker:    d.Broker,
		heartbeat: d.Heartbeat,
		log:       d.Log,
	}
}

// Routes mounts every endpoint under /api/v1. An empty secret disables
// authentication.
func (h *Handler) Routes(jwtSecret string) func(*gin.Engine) {
	return func(router *gin.Engine) {
		v1 := infragin.ProtectedGroup(router, apiPrefix, jwtSecret)

		accounts := v1.Group("/accounts/:accountId", jwt.RequireAccount("accountId"))
		accounts.GET("/policy", h.GetPolicy)
		accounts.PUT("/policy", h.PutPolicy)
		accounts.POST("/policy/reset", h.ResetPolicy)
		accounts.GET("/auth/status", h.AuthStatus)
		accounts.GET("/sessions", h.ListSessions)
		accounts.POST("/sessions", h.ConnectSession)
		accounts.POST("/evaluate", h.Evaluate)
		accounts.GET("/usage", h.Usage)

		v1.POST("/sessions/:sessionId/test", h.TestSession)
		v1.POST("/sessions/:sessionId/invalidate", h.InvalidateSession)

		v1.POST("/jobs", h.Enqueue)
		v1.GET("/jobs", h.ListJobs)
		v1.GET("/jobs/:id", h.GetJob)
		v1.GET("/jobs/:id/items", h.ListItems)
		v1.POST("/jobs/:id/pause", h.PauseJob)
		v1.POST("/jobs/:id/resume", h.ResumeJob)
		v1.POST("/jobs/:id/cancel", h.CancelJob)
		v1.POST("/items/:id/cancel", h.CancelItem)

		v1.GET("/audit", h.ListAudit)
		if h.broker != nil {
			v1.GET("/events", sse.Handler(h.broker, h.log, h.heartbeat, h.eventOptions))
		}
	}
}

// respondError maps domain errors to status codes. Anything unrecognised is
// logged and reported as 500 without detail.
func (h *Handler) respondError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": verr.Fields})
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, session.ErrNoConnectedSession):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, domain.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict"})
	case errors.Is(err, domain.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
	case errors.Is(err, domain.ErrAuthenticationFailed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication_failed"})
	default:
		h.log.Error("Request failed",
			logger.String("path", c.FullPath()),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

func badRequest(c *gin.Context, field, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": gin.H{field: msg}})
}

// scopeAccount returns the accountId query filter. Callers limited to
// specific accounts must name one of them.
func scopeAccount(c *gin.Context) (string, bool) {
	accountID := c.Query("accountId")
	claims, ok := jwt.GetClaims(c)
	if !ok || claims.Role == jwt.RoleAdmin {
		return accountID, true
	}
	if accountID == "" {
		badRequest(c, "accountId", "is required")
		return "", false
	}
	return accountID, jwt.Authorize(c, accountID)
}

func intQuery(c *gin.Context, key string) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		badRequest(c, key, "must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func (h *Handler) eventOptions(c *gin.Context) []sse.ClientOption {
	accountID, ok := scopeAccount(c)
	if !ok {
		return nil
	}
	return []sse.ClientOption{sse.WithAccountFilter(accountID)}
}
