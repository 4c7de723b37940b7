// Package types defines the data structures for stackctl state.
package types

import (
	"time"
)

// UnitState is the persisted record of a unit's last successful apply.
type UnitState struct {
	// Key is the canonical unit key within its tree.
	Key string `json:"key"`

	// Source is the module source the provisioning engine ran.
	Source string `json:"source,omitempty"`

	// Tier the unit was applied under.
	Tier string `json:"tier,omitempty"`

	// Inputs are the resolved inputs the apply ran with.
	Inputs map[string]interface{} `json:"inputs,omitempty"`

	// Outputs are the outputs the provisioning engine reported.
	Outputs map[string]interface{} `json:"outputs,omitempty"`

	AppliedAt time.Time `json:"applied_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunStatus is the terminal status of a run or of one unit within a run.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
	RunStatusCancelled RunStatus = "cancelled"
)

// UnitResult records the outcome of one unit within a run.
type UnitResult struct {
	Key      string        `json:"key"`
	Status   RunStatus     `json:"status"`
	Error    string        `json:"error,omitempty"`
	Started  time.Time     `json:"started,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

// RunRecord is the persisted report of one orchestrated run.
type RunRecord struct {
	// ID uniquely identifies the run.
	ID string `json:"id"`

	// Mode is the operation the run performed: plan, apply, or destroy.
	Mode string `json:"mode"`

	// Tier the run executed under.
	Tier string `json:"tier,omitempty"`

	// Root is the configuration tree root the run operated on.
	Root string `json:"root,omitempty"`

	Status     RunStatus    `json:"status"`
	Results    []UnitResult `json:"results,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}
