package device

import (
	"context"
	"encoding/json"

	"github.com/lammesen/netops-be/internal/job"
)

// Host is a single target device within a job's resolved target set.
// Hosts are keyed by Name in job result summaries.
type Host struct {
	Name     string `json:"name" yaml:"name"`
	Address  string `json:"address" yaml:"address"`
	Site     string `json:"site" yaml:"site"`
	Role     string `json:"role" yaml:"role"`
	Vendor   string `json:"vendor" yaml:"vendor"`
	Platform string `json:"platform" yaml:"platform"`
}

// TargetSpec filters the inventory down to a concrete host list. Explicit
// Hosts take precedence; otherwise every non-empty filter must match.
type TargetSpec struct {
	Hosts    []string `json:"hosts,omitempty"`
	Site     string   `json:"site,omitempty"`
	Role     string   `json:"role,omitempty"`
	Vendor   string   `json:"vendor,omitempty"`
	Platform string   `json:"platform,omitempty"`
}

// Inventory resolves a target spec to the concrete host list at dispatch
// time.
type Inventory interface {
	Resolve(ctx context.Context, spec json.RawMessage) ([]Host, error)
}

// Request carries the operation-specific parameters for one device
// interaction, already validated against the job type.
type Request struct {
	Type     job.Type
	Commands []string
	Config   string
	DryRun   bool
	RuleSet  string
}

// Result is the structured outcome of one device interaction. Output maps
// command (or check name) to captured text; Diff carries a config diff for
// backup/deploy operations.
type Result struct {
	Output map[string]string
	Diff   string
}

// Automation performs the device interaction for one host. Implementations
// are synchronous from the executor's point of view and must honor ctx
// cancellation for timeouts.
type Automation interface {
	Run(ctx context.Context, host Host, req Request) (*Result, error)
}
