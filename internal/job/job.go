package job

import (
	"encoding/json"
	"time"
)

// Type identifies the operation a job performs against its target devices.
type Type string

const (
	TypeRunCommands     Type = "run_commands"
	TypeConfigBackup    Type = "config_backup"
	TypeDeployConfig    Type = "deploy_config"
	TypeComplianceCheck Type = "compliance_check"
)

// Valid reports whether t is a known job type.
func (t Type) Valid() bool {
	switch t {
	case TypeRunCommands, TypeConfigBackup, TypeDeployConfig, TypeComplianceCheck:
		return true
	}
	return false
}

// Status is the job-level lifecycle state.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSuccess   Status = "success"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a final state. No transition leaves a
// terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// transitions is the full set of legal status edges:
// scheduled → queued → running → {success, partial, failed},
// plus scheduled → cancelled and queued → cancelled.
var transitions = map[Status][]Status{
	StatusScheduled: {StatusQueued, StatusCancelled},
	StatusQueued:    {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusSuccess, StatusPartial, StatusFailed},
}

// CanTransition reports whether the edge from → to is legal.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LegalSources returns the statuses a job may be in for a transition to
// the given status to be legal. Used by stores to guard updates atomically.
func LegalSources(to Status) []Status {
	var sources []Status
	for from, nexts := range transitions {
		for _, next := range nexts {
			if next == to {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// Job is one logical operation dispatched against a resolved set of target
// devices. The stored record is the single source of truth for its status.
type Job struct {
	ID           string          `db:"job_id" json:"job_id"`
	Type         Type            `db:"job_type" json:"job_type"`
	Status       Status          `db:"status" json:"status"`
	TargetSpec   json.RawMessage `db:"target_spec" json:"target_spec"`
	Payload      json.RawMessage `db:"payload" json:"payload"`
	RequestedBy  string          `db:"requested_by" json:"requested_by"`
	RequestedAt  time.Time       `db:"requested_at" json:"requested_at"`
	ScheduledFor *time.Time      `db:"scheduled_for" json:"scheduled_for,omitempty"`
	StartedAt    *time.Time      `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time      `db:"finished_at" json:"finished_at,omitempty"`
	Error        string          `db:"error_message" json:"error,omitempty"`
	Summary      *Summary        `db:"-" json:"result_summary,omitempty"`
}
