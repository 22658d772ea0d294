package device

import (
	"context"
	"fmt"
	"time"

	"github.com/lammesen/netops-be/internal/job"
)

// SimulatedAutomation is a deterministic stand-in for the real device
// automation client, used for local development and demos. It produces
// canned output per command and honors context cancellation, so timeout
// and cancellation paths behave as they do against real devices.
type SimulatedAutomation struct {
	Latency time.Duration
}

func (s *SimulatedAutomation) Run(ctx context.Context, host Host, req Request) (*Result, error) {
	latency := s.Latency
	if latency <= 0 {
		latency = 50 * time.Millisecond
	}

	select {
	case <-time.After(latency):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	switch req.Type {
	case job.TypeRunCommands:
		out := make(map[string]string, len(req.Commands))
		for _, cmd := range req.Commands {
			out[cmd] = fmt.Sprintf("%s# %s\nok", host.Name, cmd)
		}
		return &Result{Output: out}, nil

	case job.TypeConfigBackup:
		return &Result{
			Output: map[string]string{"show running-config": "! simulated config for " + host.Name},
		}, nil

	case job.TypeDeployConfig:
		return &Result{Diff: fmt.Sprintf("--- %s/running\n+++ %s/candidate\n+%s", host.Name, host.Name, req.Config)}, nil

	case job.TypeComplianceCheck:
		return &Result{Output: map[string]string{req.RuleSet: "compliant"}}, nil

	default:
		return nil, fmt.Errorf("unsupported job type %q", req.Type)
	}
}
