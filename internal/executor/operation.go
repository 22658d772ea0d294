package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lammesen/netops-be/internal/device"
	"github.com/lammesen/netops-be/internal/job"
)

// LogFunc emits one host-scoped log line onto the job's live channel.
type LogFunc func(level job.LogLevel, message string)

// Operation is the job-type-specific work performed against a single host.
// Implementations validate their payload, delegate the device interaction
// to the automation client, and return its structured result.
type Operation interface {
	Execute(ctx context.Context, host device.Host, payload json.RawMessage, logf LogFunc) (*device.Result, error)
}

// Operations builds the job-type → operation lookup table over the given
// automation client.
func Operations(auto device.Automation) map[job.Type]Operation {
	return map[job.Type]Operation{
		job.TypeRunCommands:     &runCommands{auto: auto},
		job.TypeConfigBackup:    &configBackup{auto: auto},
		job.TypeDeployConfig:    &deployConfig{auto: auto},
		job.TypeComplianceCheck: &complianceCheck{auto: auto},
	}
}

type runCommands struct {
	auto device.Automation
}

func (o *runCommands) Execute(ctx context.Context, host device.Host, payload json.RawMessage, logf LogFunc) (*device.Result, error) {
	var p struct {
		Commands []string `json:"commands"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid run_commands payload: %w", err)
	}
	if len(p.Commands) == 0 {
		return nil, fmt.Errorf("run_commands payload has no commands")
	}

	logf(job.LevelInfo, fmt.Sprintf("running %d command(s)", len(p.Commands)))
	return o.auto.Run(ctx, host, device.Request{
		Type:     job.TypeRunCommands,
		Commands: p.Commands,
	})
}

type configBackup struct {
	auto device.Automation
}

func (o *configBackup) Execute(ctx context.Context, host device.Host, payload json.RawMessage, logf LogFunc) (*device.Result, error) {
	logf(job.LevelInfo, "collecting running configuration")
	return o.auto.Run(ctx, host, device.Request{Type: job.TypeConfigBackup})
}

type deployConfig struct {
	auto device.Automation
}

func (o *deployConfig) Execute(ctx context.Context, host device.Host, payload json.RawMessage, logf LogFunc) (*device.Result, error) {
	var p struct {
		Config string `json:"config"`
		DryRun bool   `json:"dry_run"`
	}
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("invalid deploy_config payload: %w", err)
	}
	if p.Config == "" {
		return nil, fmt.Errorf("deploy_config payload has no config")
	}

	if p.DryRun {
		logf(job.LevelInfo, "computing candidate config diff (dry run)")
	} else {
		logf(job.LevelInfo, "deploying candidate configuration")
	}
	return o.auto.Run(ctx, host, device.Request{
		Type:   job.TypeDeployConfig,
		Config: p.Config,
		DryRun: p.DryRun,
	})
}

type complianceCheck struct {
	auto device.Automation
}

func (o *complianceCheck) Execute(ctx context.Context, host device.Host, payload json.RawMessage, logf LogFunc) (*device.Result, error) {
	var p struct {
		RuleSet string `json:"rule_set"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("invalid compliance_check payload: %w", err)
		}
	}
	if p.RuleSet == "" {
		p.RuleSet = "default"
	}

	logf(job.LevelInfo, fmt.Sprintf("evaluating compliance rule set %q", p.RuleSet))
	return o.auto.Run(ctx, host, device.Request{
		Type:    job.TypeComplianceCheck,
		RuleSet: p.RuleSet,
	})
}
