package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/sniper/infrastructure/jwt"
	"github.com/jonesrussell/north-cloud/sniper/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/sniper/internal/domain"
	"github.com/jonesrussell/north-cloud/sniper/internal/queue"
)

type jobResponse struct {
	*domain.Job
	Summary domain.JobSummary `json:"summary"`
}

func (h *Handler) Enqueue(c *gin.Context) {
	var req queue.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "body", err.Error())
		return
	}
	if req.AccountID != "" && !jwt.Authorize(c, req.AccountID) {
		return
	}

	job, err := h.queue.Enqueue(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	summary, err := h.queue.Summary(c.Request.Context(), job.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, jobResponse{Job: job, Summary: summary})
}

func (h *Handler) ListJobs(c *gin.Context) {
	accountID, ok := scopeAccount(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}

	jobs, total, err := h.queue.ListJobs(c.Request.Context(), queue.JobFilter{
		AccountID: accountID,
		JobType:   domain.JobType(c.Query("jobType")),
		Status:    domain.JobStatus(c.Query("status")),
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "total": total, "limit": limit, "offset": offset})
}

// jobFor loads the job named by :id and checks account access.
func (h *Handler) jobFor(c *gin.Context) (*domain.Job, bool) {
	job, err := h.queue.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	if !jwt.Authorize(c, job.AccountID) {
		return nil, false
	}
	return job, true
}

func (h *Handler) respondJob(c *gin.Context, job *domain.Job) {
	summary, err := h.queue.Summary(c.Request.Context(), job.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, jobResponse{Job: job, Summary: summary})
}

func (h *Handler) GetJob(c *gin.Context) {
	job, ok := h.jobFor(c)
	if !ok {
		return
	}
	h.respondJob(c, job)
}

func (h *Handler) ListItems(c *gin.Context) {
	job, ok := h.jobFor(c)
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}

	items, total, err := h.queue.ListItems(c.Request.Context(), queue.ItemFilter{
		JobID:  job.ID,
		Status: domain.ItemStatus(c.Query("status")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

func (h *Handler) PauseJob(c *gin.Context) {
	h.controlJob(c, "paused", func(id string) (*domain.Job, error) {
		return h.queue.PauseJob(c.Request.Context(), id, domain.PauseUser)
	})
}

func (h *Handler) ResumeJob(c *gin.Context) {
	h.controlJob(c, "resumed", func(id string) (*domain.Job, error) {
		return h.queue.ResumeJob(c.Request.Context(), id)
	})
}

func (h *Handler) CancelJob(c *gin.Context) {
	h.controlJob(c, "cancelled", func(id string) (*domain.Job, error) {
		return h.queue.CancelJob(c.Request.Context(), id)
	})
}

func (h *Handler) controlJob(c *gin.Context, verb string, op func(id string) (*domain.Job, error)) {
	job, ok := h.jobFor(c)
	if !ok {
		return
	}
	updated, err := op(job.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Job "+verb, logger.AccountID(updated.AccountID), logger.JobID(updated.ID))
	h.respondJob(c, updated)
}

func (h *Handler) CancelItem(c *gin.Context) {
	item, err := h.queue.GetItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if !jwt.Authorize(c, item.AccountID) {
		return
	}

	updated, err := h.queue.CancelItem(c.Request.Context(), item.ID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.log.Info("Item cancelled", logger.AccountID(updated.AccountID), logger.ItemID(updated.ID))
	c.JSON(http.StatusOK, updated)
}
