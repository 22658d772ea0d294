package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/lammesen/netops-be/internal/job"
)

// StreamEvents handles GET /api/v1/jobs/:job_id/events. It bridges the
// job's live update channel onto an SSE stream: the current aggregate
// status first, then events as they happen, ending after the complete
// event. Disconnecting observers are unsubscribed automatically; they
// resynchronize via GetJob on reconnect.
func (h *JobHandler) StreamEvents(c *gin.Context) {
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

	sub := h.hub.Subscribe(jb.ID, jb.Status)
	defer h.hub.Unsubscribe(jb.ID, sub)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	h.logger.Debug("Observer subscribed", slog.String("job_id", jb.ID))

	for {
		ev, ok := sub.Next(c.Request.Context())
		if !ok {
			return
		}

		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("Failed to encode live event",
				slog.String("job_id", jb.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if _, err := c.Writer.Write(append(append([]byte("data: "), data...), '\n', '\n')); err != nil {
			h.logger.Debug("Observer disconnected", slog.String("job_id", jb.ID))
			return
		}
		c.Writer.Flush()

		if ev.Kind == job.EventComplete {
			return
		}
	}
}
