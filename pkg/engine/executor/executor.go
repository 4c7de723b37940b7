// Package executor runs execution plans over the unit dependency graph.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/graph"
)

// UnitStatus tracks a unit through the execution state machine.
type UnitStatus string

const (
	StatusPending   UnitStatus = "pending"
	StatusReady     UnitStatus = "ready"
	StatusRunning   UnitStatus = "running"
	StatusSucceeded UnitStatus = "succeeded"
	StatusFailed    UnitStatus = "failed"
	StatusSkipped   UnitStatus = "skipped"
)

// Options configures the executor.
type Options struct {
	// Parallelism is the max number of units running concurrently within a
	// layer. Defaults to 4.
	Parallelism int

	// FailFast stops scheduling new units after the first failure. In-flight
	// units always run to completion; unstarted units stay Pending. Without
	// FailFast, only the failed unit's transitive dependents are skipped.
	FailFast bool

	// Reverse gates each unit on its dependents instead of its
	// dependencies. Destroy runs set it together with reversed layers so a
	// unit only goes down after every unit depending on it is gone.
	Reverse bool
}

// DefaultOptions returns default executor options.
func DefaultOptions() Options {
	return Options{
		Parallelism: 4,
	}
}

// UnitResult contains the result of executing a single unit.
type UnitResult struct {
	Key      string
	Status   UnitStatus
	Error    error
	Started  time.Time
	Duration time.Duration
}

// Result contains the results of an execution.
type Result struct {
	Success  bool
	Duration time.Duration
	Results  map[string]*UnitResult
}

// RunFunc executes one unit. The context carries the unit's timeout when
// the unit declares one.
type RunFunc func(ctx context.Context, key string) error

// Executor runs units layer by layer: strict ordering across layers, a
// bounded worker pool within each layer.
type Executor struct {
	graph   *graph.Graph
	options Options
}

// NewExecutor creates a new executor over a dependency graph.
func NewExecutor(g *graph.Graph, options Options) *Executor {
	if options.Parallelism <= 0 {
		options.Parallelism = 4
	}
	return &Executor{
		graph:   g,
		options: options,
	}
}

// Execute runs the given layers in order. Cancelling ctx stops new units
// from starting; units already running complete, so run functions receive a
// context that survives the cancellation (bounded by the unit timeout).
func (e *Executor) Execute(ctx context.Context, layers [][]string, run RunFunc) *Result {
	startTime := time.Now()
	logger := zerolog.Ctx(ctx)

	result := &Result{
		Success: true,
		Results: make(map[string]*UnitResult),
	}
	for _, layer := range layers {
		for _, key := range layer {
			result.Results[key] = &UnitResult{Key: key, Status: StatusPending}
		}
	}

	var mu sync.Mutex
	failed := false

	for _, layer := range layers {
		sem := make(chan struct{}, e.options.Parallelism)
		var wg sync.WaitGroup

		for _, key := range layer {
			mu.Lock()
			state := e.nextState(ctx, key, result, failed)
			result.Results[key].Status = state
			if state == StatusSkipped {
				result.Results[key].Error = e.skipReason(ctx, key, result)
			}
			mu.Unlock()

			if state != StatusReady {
				continue
			}

			wg.Add(1)
			sem <- struct{}{}
			go func(key string) {
				defer wg.Done()
				defer func() { <-sem }()

				// Units still waiting on a worker slot when fail-fast trips
				// never start.
				mu.Lock()
				if failed && e.options.FailFast {
					result.Results[key].Status = StatusPending
					mu.Unlock()
					return
				}
				if ctx.Err() != nil {
					result.Results[key].Status = StatusSkipped
					result.Results[key].Error = errors.CancelledError(key)
					mu.Unlock()
					return
				}
				result.Results[key].Status = StatusRunning
				mu.Unlock()

				unitResult := e.runUnit(ctx, key, run)

				mu.Lock()
				result.Results[key] = unitResult
				if unitResult.Status == StatusFailed {
					failed = true
					result.Success = false
					logger.Error().Str("unit", key).Err(unitResult.Error).Msg("unit failed")
				} else {
					logger.Debug().Str("unit", key).Dur("duration", unitResult.Duration).Msg("unit finished")
				}
				mu.Unlock()
			}(key)
		}

		wg.Wait()
	}

	mu.Lock()
	for _, r := range result.Results {
		if r.Status == StatusFailed || (r.Status == StatusSkipped && r.Error != nil) {
			result.Success = false
		}
	}
	mu.Unlock()

	result.Duration = time.Since(startTime)
	return result
}

// nextState decides what to do with a unit when its layer is scheduled.
// Callers hold the result lock.
func (e *Executor) nextState(ctx context.Context, key string, result *Result, failed bool) UnitStatus {
	node := e.graph.GetNode(key)
	if node != nil && node.Unit != nil && node.Unit.Skip {
		return StatusSkipped
	}

	// Nothing new starts once the run is cancelled or fail-fast tripped.
	if ctx.Err() != nil {
		return StatusSkipped
	}
	if failed && e.options.FailFast {
		return StatusPending
	}

	if node != nil {
		for _, dep := range e.gates(node) {
			depResult, ok := result.Results[dep]
			if !ok {
				// Gate outside the executed selection; assume satisfied.
				continue
			}
			switch {
			case depResult.Status == StatusSucceeded:
			case depResult.Status == StatusSkipped && depResult.Error == nil:
				// Units skipped by their own skip flag satisfy dependents;
				// units skipped because of an upstream failure do not.
			default:
				return StatusSkipped
			}
		}
	}

	return StatusReady
}

// gates returns the units that must complete before this one may run: its
// dependencies in forward runs, its dependents in reverse runs.
func (e *Executor) gates(node *graph.Node) []string {
	if e.options.Reverse {
		return node.DependedOnBy
	}
	return node.DependsOn
}

// skipReason explains why a unit was skipped, nil for a unit-level skip flag.
func (e *Executor) skipReason(ctx context.Context, key string, result *Result) error {
	node := e.graph.GetNode(key)
	if node != nil && node.Unit != nil && node.Unit.Skip {
		return nil
	}
	if ctx.Err() != nil {
		return errors.CancelledError(key)
	}
	if node != nil {
		for _, dep := range e.gates(node) {
			if depResult, ok := result.Results[dep]; ok {
				if depResult.Status == StatusFailed || (depResult.Status == StatusSkipped && depResult.Error != nil) {
					msg := "upstream unit " + dep + " did not succeed"
					if e.options.Reverse {
						msg = "dependent unit " + dep + " was not destroyed"
					}
					return errors.New(errors.ErrCodeExecution, msg).WithUnit(key)
				}
			}
		}
	}
	return errors.CancelledError(key)
}

// runUnit executes one unit with its timeout applied. The run context is
// detached from the outer cancellation so an in-flight unit completes even
// when the operator aborts mid-run.
func (e *Executor) runUnit(ctx context.Context, key string, run RunFunc) *UnitResult {
	unitResult := &UnitResult{
		Key:     key,
		Status:  StatusRunning,
		Started: time.Now(),
	}

	runCtx := context.WithoutCancel(ctx)

	var timeout time.Duration
	if node := e.graph.GetNode(key); node != nil && node.Unit != nil {
		timeout = node.Unit.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, timeout)
		defer cancel()
	}

	err := run(runCtx, key)
	unitResult.Duration = time.Since(unitResult.Started)

	switch {
	case err == nil:
		unitResult.Status = StatusSucceeded
	case timeout > 0 && runCtx.Err() == context.DeadlineExceeded:
		unitResult.Status = StatusFailed
		unitResult.Error = errors.TimeoutError(key, timeout.String())
	default:
		unitResult.Status = StatusFailed
		unitResult.Error = err
	}

	return unitResult
}
