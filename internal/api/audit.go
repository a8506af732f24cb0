package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/internal/audit"
)

// ListAudit reads records after the "after" sequence number.
func (h *Handler) ListAudit(c *gin.Context) {
	accountID, ok := scopeAccount(c)
	if !ok {
		return
	}
	after, ok := intQuery(c, "after")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}

	page, err := h.audit.List(c.Request.Context(), audit.Cursor{
		AccountID: accountID,
		After:     int64(after),
		Limit:     limit,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}
