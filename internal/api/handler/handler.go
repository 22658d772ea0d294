package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lammesen/netops-be/internal/channel"
	"github.com/lammesen/netops-be/internal/dispatcher"
	"github.com/lammesen/netops-be/internal/job"
	"github.com/lammesen/netops-be/internal/store"

	"github.com/lammesen/netops-be/internal/api/dto"
)

// JobControl is the create/retry/cancel surface the handlers call into.
// Implemented by the dispatcher.
type JobControl interface {
	Create(ctx context.Context, p dispatcher.CreateParams) (*job.Job, error)
	Retry(ctx context.Context, jobID string) (*job.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// Dependencies holds all dependencies needed by handlers.
type Dependencies struct {
	Logger  *slog.Logger
	Store   store.Store
	Control JobControl
	Hub     *channel.Hub
}

// JobHandler handles job-related HTTP requests.
type JobHandler struct {
	logger  *slog.Logger
	store   store.Store
	control JobControl
	hub     *channel.Hub
}

// NewJobHandler creates a new JobHandler instance.
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		store:   deps.Store,
		control: deps.Control,
		hub:     deps.Hub,
	}
}

// respondError maps domain errors to HTTP status codes with a reason.
func (h *JobHandler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, job.ErrInvalidState), errors.Is(err, job.ErrRetryWindowExpired):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func toJobDTO(jb *job.Job) dto.JobDTO {
	d := dto.JobDTO{
		JobID:       jb.ID,
		JobType:     string(jb.Type),
		Status:      string(jb.Status),
		TargetSpec:  jb.TargetSpec,
		Payload:     jb.Payload,
		RequestedBy: jb.RequestedBy,
		RequestedAt: jb.RequestedAt.Format(timeFormat),
		Error:       jb.Error,
	}
	if jb.ScheduledFor != nil {
		d.ScheduledFor = jb.ScheduledFor.Format(timeFormat)
	}
	if jb.StartedAt != nil {
		d.StartedAt = jb.StartedAt.Format(timeFormat)
	}
	if jb.FinishedAt != nil {
		d.FinishedAt = jb.FinishedAt.Format(timeFormat)
	}
	if jb.Summary != nil {
		if data, err := json.Marshal(jb.Summary); err == nil {
			d.ResultSummary = data
		}
	}
	return d
}
