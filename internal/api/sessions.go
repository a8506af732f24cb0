package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/session"
)

type connectRequest struct {
	Credential    string                 `json:"credential"    binding:"required"`
	Provider      domain.SessionProvider `json:"provider"`
	CookieAgeDays int                    `json:"cookieAgeDays"`
}

type invalidateRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) AuthStatus(c *gin.Context) {
	report, err := h.sessions.Status(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.List(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "count": len(sessions)})
}

// ConnectSession never echoes the credential back.
func (h *Handler) ConnectSession(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "credential", "is required")
		return
	}

	s, err := h.sessions.Connect(c.Request.Context(), c.Param("accountId"), []byte(req.Credential), session.ConnectMetadata{
		Provider:      req.Provider,
		CookieAgeDays: req.CookieAgeDays,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// sessionFor loads a session and checks the caller may act on its account.
func (h *Handler) sessionFor(c *gin.Context) (*domain.Session, bool) {
	s, err := h.sessions.Get(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if !jwt.Authorize(c, s.AccountID) {
		return nil, false
	}
	return s, true
}

func (h *Handler) TestSession(c *gin.Context) {
	s, ok := h.sessionFor(c)
	if !ok {
		return
	}
	result, err := h.sessions.Test(c.Request.Context(), s.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) InvalidateSession(c *gin.Context) {
	s, ok := h.sessionFor(c)
	if !ok {
		return
	}
	var req invalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "body", err.Error())
			return
		}
	}
	if req.Reason == "" {
		req.Reason = "user"
	}

	updated, err := h.sessions.Invalidate(c.Request.Context(), s.ID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Session invalidated",
		logger.AccountID(updated.AccountID),
		logger.SessionID(updated.ID),
		logger.Reason(req.Reason),
	)
	c.JSON(http.StatusOK, updated)
}
