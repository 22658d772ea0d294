package job

import "time"

// HostStatus is the lifecycle state of one host's work within a job.
type HostStatus string

const (
	HostQueued  HostStatus = "queued"
	HostRunning HostStatus = "running"
	HostSuccess HostStatus = "success"
	HostFailed  HostStatus = "failed"
	HostPartial HostStatus = "partial"
)

// Terminal reports whether h is a final host state.
func (h HostStatus) Terminal() bool {
	switch h {
	case HostSuccess, HostFailed, HostPartial:
		return true
	}
	return false
}

// HostResult is the in-progress or terminal outcome for one host. It is
// created when the host's executor starts, mutated only by that executor,
// and immutable once terminal.
type HostResult struct {
	Status     HostStatus        `json:"status"`
	Error      string            `json:"error,omitempty"`
	Output     map[string]string `json:"output,omitempty"`
	Diff       string            `json:"diff,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
}

// Counts is the aggregate tally over all expected hosts of a job.
type Counts struct {
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Partial int `json:"partial"`
	Queued  int `json:"queued"`
	Running int `json:"running"`
	Total   int `json:"total"`
}

// Summary holds per-host results and the derived aggregate counts. It is
// persisted as the job's result_summary.
type Summary struct {
	Hosts  map[string]HostResult `json:"hosts"`
	Counts Counts                `json:"counts"`
}

// NewSummary seeds a summary with every expected host in the queued state.
func NewSummary(hosts []string) *Summary {
	s := &Summary{Hosts: make(map[string]HostResult, len(hosts))}
	for _, h := range hosts {
		s.Hosts[h] = HostResult{Status: HostQueued}
	}
	s.Recount()
	return s
}

// Recount recomputes Counts from the per-host results.
func (s *Summary) Recount() {
	c := Counts{Total: len(s.Hosts)}
	for _, r := range s.Hosts {
		switch r.Status {
		case HostSuccess:
			c.Success++
		case HostFailed:
			c.Failed++
		case HostPartial:
			c.Partial++
		case HostRunning:
			c.Running++
		default:
			c.Queued++
		}
	}
	s.Counts = c
}

// Done reports whether every expected host has reached a terminal state.
func (s *Summary) Done() bool {
	return s.Counts.Queued == 0 && s.Counts.Running == 0
}

// Aggregate derives the job-level status from the multiset of host
// statuses: success if all hosts succeeded, failed if all hosts failed,
// partial otherwise. While any host is non-terminal the job stays running.
// The result is independent of host completion order.
func (s *Summary) Aggregate() Status {
	if !s.Done() {
		return StatusRunning
	}
	switch {
	case s.Counts.Success == s.Counts.Total:
		return StatusSuccess
	case s.Counts.Failed == s.Counts.Total:
		return StatusFailed
	default:
		return StatusPartial
	}
}
