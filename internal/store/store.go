package store

import (
	"context"
	"time"

	"github.com/lammesen/netops-be/internal/job"
)

// Filter narrows List results. Zero-valued fields are ignored.
type Filter struct {
	Status      string
	Type        string
	RequestedBy string
	PageSize    int
	Cursor      *Cursor
}

// Cursor marks a position in the (requested_at, job_id) descending order
// used for pagination.
type Cursor struct {
	RequestedAt time.Time
	JobID       string
}

// Fields carries the optional columns an UpdateStatus call may set
// alongside the status itself.
type Fields struct {
	StartedAt *time.Time
	Error     string
}

// Store is the durable record of jobs. UpdateStatus is atomic and rejects
// illegal transitions with job.ErrInvalidState; finished_at is set iff the
// new status is terminal.
type Store interface {
	Create(ctx context.Context, jb *job.Job) error
	Get(ctx context.Context, jobID string) (*job.Job, error)
	List(ctx context.Context, filter Filter) ([]job.Job, error)
	UpdateStatus(ctx context.Context, jobID string, to job.Status, fields Fields) error
	UpdateSummary(ctx context.Context, jobID string, summary *job.Summary) error
}
