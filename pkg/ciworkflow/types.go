// Package ciworkflow renders CI pipeline definitions from a unit dependency
// graph. Each unit becomes one job and dependency edges become job ordering
// constraints, so independent units run in parallel on the CI side as well.
// It supports multiple CI providers (GitHub Actions, GitLab CI, CircleCI).
package ciworkflow

import "fmt"

// OutputType identifies the CI provider to generate for.
type OutputType string

const (
	TypeGitHubActions OutputType = "github-actions"
	TypeGitLabCI      OutputType = "gitlab-ci"
	TypeCircleCI      OutputType = "circleci"
)

// ValidOutputTypes returns all valid output type values.
func ValidOutputTypes() []string {
	return []string{
		string(TypeGitHubActions),
		string(TypeGitLabCI),
		string(TypeCircleCI),
	}
}

// NewGenerator returns the generator for a CI provider.
func NewGenerator(t OutputType) (Generator, error) {
	switch t {
	case TypeGitHubActions:
		return NewGitHubActionsGenerator(), nil
	case TypeGitLabCI:
		return NewGitLabCIGenerator(), nil
	case TypeCircleCI:
		return NewCircleCIGenerator(), nil
	default:
		return nil, fmt.Errorf("unknown CI provider %q (valid: %v)", t, ValidOutputTypes())
	}
}

// Workflow is the intermediate representation of a CI pipeline.
// Provider generators consume this to produce provider-specific YAML.
type Workflow struct {
	// Name is the workflow display name (e.g., "Deploy infrastructure").
	Name string

	// Tier is the configuration tier the pipeline targets.
	Tier string

	// Jobs is the topologically ordered list of deploy jobs.
	Jobs []Job

	// TeardownJobs holds jobs for the teardown pipeline, in reverse
	// dependency order.
	TeardownJobs []Job

	// EnvVars are pipeline-level environment variables. Keys are env var
	// names, values are literals or provider expressions
	// (e.g., "${{ vars.STACKCTL_TIER }}" for GitHub Actions).
	EnvVars map[string]string

	// Secrets lists environment variable names that must be configured as
	// CI secrets, used to generate setup comments.
	Secrets []string

	// InstallVersion is the stackctl version to install in CI jobs.
	InstallVersion string
}

// Job represents a single CI job in the pipeline.
type Job struct {
	// ID is the unique job identifier (e.g., "networking-vpc").
	ID string

	// Name is the human-readable job name.
	Name string

	// UnitKey is the unit this job applies or destroys.
	UnitKey string

	// DependsOn lists job IDs this job waits for.
	DependsOn []string

	// Steps contains explicit steps; when empty, Command is used.
	Steps []Step

	// Command is the stackctl invocation for this job.
	Command string
}

// Step represents a single step within a CI job.
type Step struct {
	// Name is the step display name.
	Name string

	// Run is the shell command to execute.
	Run string

	// Uses is a CI action reference (GitHub Actions specific).
	Uses string

	// With contains action inputs (GitHub Actions specific).
	With map[string]string
}

// Generator is the interface for CI provider-specific pipeline generators.
type Generator interface {
	// Generate produces the deploy pipeline file content.
	Generate(w Workflow) ([]byte, error)

	// GenerateTeardown produces the teardown pipeline file content, or nil
	// when the workflow has no teardown jobs.
	GenerateTeardown(w Workflow) ([]byte, error)

	// DefaultOutputPath returns the conventional output path for this provider.
	DefaultOutputPath() string

	// DefaultTeardownOutputPath returns the conventional teardown output path.
	DefaultTeardownOutputPath() string
}
