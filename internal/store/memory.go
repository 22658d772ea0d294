package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/lammesen/netops-be/internal/job"
)

// Memory is an in-process Store with the same transition semantics as the
// PostgreSQL implementation. It backs component tests and single-node dev
// setups that run without a database.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*job.Job
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*job.Job)}
}

func (m *Memory) Create(ctx context.Context, jb *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *jb
	m.jobs[jb.ID] = &cp
	return nil
}

func (m *Memory) Get(ctx context.Context, jobID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	jb, ok := m.jobs[jobID]
	if !ok {
		return nil, job.ErrJobNotFound
	}
	return copyJob(jb), nil
}

func (m *Memory) List(ctx context.Context, filter Filter) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var jobs []job.Job
	for _, jb := range m.jobs {
		if filter.Status != "" && string(jb.Status) != filter.Status {
			continue
		}
		if filter.Type != "" && string(jb.Type) != filter.Type {
			continue
		}
		if filter.RequestedBy != "" && jb.RequestedBy != filter.RequestedBy {
			continue
		}
		if filter.Cursor != nil && !before(jb, filter.Cursor) {
			continue
		}
		jobs = append(jobs, *copyJob(jb))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if !jobs[i].RequestedAt.Equal(jobs[j].RequestedAt) {
			return jobs[i].RequestedAt.After(jobs[j].RequestedAt)
		}
		return jobs[i].ID > jobs[j].ID
	})

	if filter.PageSize > 0 && len(jobs) > filter.PageSize+1 {
		jobs = jobs[:filter.PageSize+1]
	}

	return jobs, nil
}

func (m *Memory) UpdateStatus(ctx context.Context, jobID string, to job.Status, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jb, ok := m.jobs[jobID]
	if !ok {
		return job.ErrJobNotFound
	}
	if !job.CanTransition(jb.Status, to) {
		return job.ErrInvalidState
	}

	jb.Status = to
	if fields.StartedAt != nil {
		jb.StartedAt = fields.StartedAt
	}
	if fields.Error != "" {
		jb.Error = fields.Error
	}
	if to.Terminal() {
		now := time.Now().UTC()
		jb.FinishedAt = &now
	}
	return nil
}

func (m *Memory) UpdateSummary(ctx context.Context, jobID string, summary *job.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	jb, ok := m.jobs[jobID]
	if !ok {
		return job.ErrJobNotFound
	}
	jb.Summary = copySummary(summary)
	return nil
}

func before(jb *job.Job, c *Cursor) bool {
	if jb.RequestedAt.Equal(c.RequestedAt) {
		return jb.ID < c.JobID
	}
	return jb.RequestedAt.Before(c.RequestedAt)
}

func copyJob(jb *job.Job) *job.Job {
	cp := *jb
	cp.TargetSpec = append(json.RawMessage(nil), jb.TargetSpec...)
	cp.Payload = append(json.RawMessage(nil), jb.Payload...)
	cp.Summary = copySummary(jb.Summary)
	return &cp
}

func copySummary(s *job.Summary) *job.Summary {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Hosts = make(map[string]job.HostResult, len(s.Hosts))
	for h, r := range s.Hosts {
		cp.Hosts[h] = r
	}
	return &cp
}
