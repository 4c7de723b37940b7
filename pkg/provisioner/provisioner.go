// Package provisioner defines the boundary between stackctl's orchestration
// core and the external provisioning engine that realizes each unit.
package provisioner

import (
	"context"
	"io"
)

// Provisioner runs plan/apply/destroy for a single unit working directory.
// Implementations do not retry; retry policy belongs to the operator.
type Provisioner interface {
	// Name returns the provisioner identifier (e.g. "opentofu").
	Name() string

	// Plan previews changes without applying them.
	Plan(ctx context.Context, req Request) (*Result, error)

	// Apply applies the unit and returns its outputs.
	Apply(ctx context.Context, req Request) (*Result, error)

	// Destroy tears down the unit's resources.
	Destroy(ctx context.Context, req Request) error
}

// Request describes one unit execution.
type Request struct {
	// Key is the canonical unit key, used for logging and error context.
	Key string

	// WorkDir is the unit directory the engine runs in.
	WorkDir string

	// Source is the module source from the unit configuration. Forwarded
	// opaquely; the engine decides what it means.
	Source string

	// Inputs are the unit's resolved inputs.
	Inputs map[string]interface{}

	// Environment contains extra environment variables for the execution.
	Environment map[string]string

	// Stdout/Stderr receive streamed command output. May be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// PlanSummary counts planned changes by action.
type PlanSummary struct {
	Create  int
	Update  int
	Delete  int
	Replace int
}

// Result is the outcome of a plan or apply.
type Result struct {
	// Outputs are the unit outputs reported by the engine. Empty for plan.
	Outputs map[string]interface{}

	// Plan summarizes planned changes. Nil for apply.
	Plan *PlanSummary
}
