package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/internal/admission"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
)

type evaluateRequest struct {
	ActionType domain.ActionType `json:"actionType"`
	SourceKey  string            `json:"sourceKey"`
	TargetRef  string            `json:"targetRef"`
	DryRun     *bool             `json:"dryRun"`
}

// Evaluate runs admission for one hypothetical action. dryRun defaults to
// true so the endpoint does not consume quota unless asked to.
func (h *Handler) Evaluate(c *gin.Context) {
	var req evaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	dryRun := req.DryRun == nil || *req.DryRun

	d, err := h.admission.Evaluate(c.Request.Context(), admission.Request{
		AccountID:  c.Param("accountId"),
		ActionType: req.ActionType,
		SourceKey:  req.SourceKey,
		TargetRef:  req.TargetRef,
		DryRun:     dryRun,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *Handler) Usage(c *gin.Context) {
	u, err := h.admission.Usage(c.Request.Context(), c.Param("accountId"), c.Query("sourceKey"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
