package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lammesen/netops-be/internal/api/dto"
	"github.com/lammesen/netops-be/internal/dispatcher"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"
)

const timeFormat = time.RFC3339

// CreateJob handles POST /api/v1/jobs.
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	if !job.Type(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown job_type"})
		return
	}
	if req.ScheduledFor != nil && req.ScheduledFor.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scheduled_for must be in the future"})
		return
	}

	jb, err := h.control.Create(c.Request.Context(), dispatcher.CreateParams{
		Type:         job.Type(req.JobType),
		TargetSpec:   req.TargetSpec,
		Payload:      req.Payload,
		RequestedBy:  req.RequestedBy,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.JobRef{JobID: jb.ID, Status: string(jb.Status)})
}

// RetryJob handles POST /api/v1/jobs/:job_id/retry.
func (h *JobHandler) RetryJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	retry, err := h.control.Retry(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, dto.JobRef{JobID: retry.ID, Status: string(retry.Status)})
}

// CancelJob handles POST /api/v1/jobs/:job_id/cancel.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	if err := h.control.Cancel(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, dto.CancelJobResponse{Status: string(job.StatusCancelled)})
}

// GetJob handles GET /api/v1/jobs/:job_id. Returns the stored job with its
// per-host results, the resync surface for observers that reconnect.
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	if _, err := uuid.Parse(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "job_id must be a valid UUID"})
		return
	}

	jb, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toJobDTO(jb))
}

// ListJobs handles GET /api/v1/jobs with filtering and cursor pagination.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query parameters"})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = 20
	}
	if req.PageSize > 100 {
		req.PageSize = 100
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
		return
	}

	jobs, err := h.store.List(c.Request.Context(), store.Filter{
		Status:      req.Status,
		Type:        req.JobType,
		RequestedBy: req.RequestedBy,
		PageSize:    req.PageSize,
		Cursor:      cursor,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	resp := dto.ListJobsResponse{Jobs: make([]dto.JobDTO, len(jobs))}
	for i := range jobs {
		resp.Jobs[i] = toJobDTO(&jobs[i])
	}

	if hasMore {
		last := jobs[len(jobs)-1]
		resp.NextCursor = EncodeJobCursor(&store.Cursor{
			RequestedAt: last.RequestedAt,
			JobID:       last.ID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
