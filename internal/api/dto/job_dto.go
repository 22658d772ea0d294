package dto

import (
	"encoding/json"
	"time"
)

type CreateJobRequest struct {
	JobType      string          `json:"job_type" binding:"required"`
	TargetSpec   json.RawMessage `json:"target_spec" binding:"required"`
	Payload      json.RawMessage `json:"payload"`
	RequestedBy  string          `json:"requested_by"`
	ScheduledFor *time.Time      `json:"scheduled_for"`
}

// JobRef is the create/retry response: just enough to follow the job.
type JobRef struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

type CancelJobResponse struct {
	Status string `json:"status"`
}

type ListJobsRequest struct {
	Status      string `form:"status"`
	JobType     string `form:"job_type"`
	RequestedBy string `form:"requested_by"`
	PageSize    int    `form:"page_size"`
	Cursor      string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string          `json:"job_id"`
	JobType       string          `json:"job_type"`
	Status        string          `json:"status"`
	TargetSpec    json.RawMessage `json:"target_spec,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	RequestedBy   string          `json:"requested_by,omitempty"`
	RequestedAt   string          `json:"requested_at"`
	ScheduledFor  string          `json:"scheduled_for,omitempty"`
	StartedAt     string          `json:"started_at,omitempty"`
	FinishedAt    string          `json:"finished_at,omitempty"`
	Error         string          `json:"error,omitempty"`
	ResultSummary json.RawMessage `json:"result_summary,omitempty"`
}
