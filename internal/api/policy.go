package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

func (h *Handler) GetPolicy(c *gin.Context) {
	p, err := h.policies.Get(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Header("ETag", strconv.Quote(strconv.FormatInt(p.Version, 10)))
	c.JSON(http.StatusOK, p)
}

// PutPolicy replaces the policy. The expected version comes from If-Match
// when present, otherwise from the body.
func (h *Handler) PutPolicy(c *gin.Context) {
	accountID := c.Param("accountId")

	var p domain.Policy
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if match := c.GetHeader("If-Match"); match != "" {
		v, err := strconv.ParseInt(strings.Trim(match, `"W/`), 10, 64)
		if err != nil {
			badRequest(c, "If-Match", "must be a policy version")
			return
		}
		p.Version = v
	}

	saved, err := h.policies.Put(c.Request.Context(), accountID, &p)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.Header("ETag", strconv.Quote(strconv.FormatInt(saved.Version, 10)))
	c.JSON(http.StatusOK, saved)
}

func (h *Handler) ResetPolicy(c *gin.Context) {
	p, err := h.policies.ResetToDefaults(c.Request.Context(), c.Param("accountId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}
