// Package engine orchestrates runs over a configuration tree: it loads
// units, resolves their values, builds the dependency graph, and drives the
// provisioning engine layer by layer.
package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/davidthor/stackctl/pkg/engine/executor"
	"github.com/davidthor/stackctl/pkg/envfile"
	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/generate"
	"github.com/davidthor/stackctl/pkg/graph"
	"github.com/davidthor/stackctl/pkg/logs"
	"github.com/davidthor/stackctl/pkg/oci"
	"github.com/davidthor/stackctl/pkg/outputs"
	"github.com/davidthor/stackctl/pkg/provisioner"
	"github.com/davidthor/stackctl/pkg/registry"
	"github.com/davidthor/stackctl/pkg/resolver"
	"github.com/davidthor/stackctl/pkg/schema/unit"
	"github.com/davidthor/stackctl/pkg/secrets"
	"github.com/davidthor/stackctl/pkg/state"
	"github.com/davidthor/stackctl/pkg/state/types"
)

// Mode is the operation a run performs.
type Mode string

const (
	ModePlan    Mode = "plan"
	ModeApply   Mode = "apply"
	ModeDestroy Mode = "destroy"
)

// Options configures an engine.
type Options struct {
	// WorkingDir is the configuration tree root.
	WorkingDir string

	// Tier is the resolution tier (e.g. "dev", "prod").
	Tier string

	// Units restricts the run to the given unit keys. The engine pulls in
	// what correctness requires: upstream dependencies for plan and apply,
	// downstream dependents for destroy. Empty means every unit.
	Units []string

	// Parallelism bounds concurrent units within a layer.
	Parallelism int

	// FailFast stops scheduling new units after the first failure.
	FailFast bool

	// Provisioner names the registered provisioning engine. Defaults to
	// "opentofu".
	Provisioner string

	// State persists unit outputs and run records. May be nil, in which
	// case nothing is persisted and dependency outputs come from the
	// current pass or declared mocks only.
	State state.Manager

	// ModuleCache resolves oci:// unit sources to local directories.
	// Defaults to the cache under ~/.stackctl/modules.
	ModuleCache *registry.Cache

	// Stdout and Stderr receive streamed provisioner output. May be nil.
	Stdout io.Writer
	Stderr io.Writer
}

// UnitReport is the outcome of one unit within a run.
type UnitReport struct {
	Key      string                     `json:"key" yaml:"key"`
	Status   executor.UnitStatus        `json:"status" yaml:"status"`
	Error    string                     `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration              `json:"duration,omitempty" yaml:"duration,omitempty"`
	Plan     *provisioner.PlanSummary   `json:"plan,omitempty" yaml:"plan,omitempty"`
	Outputs  map[string]interface{}     `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

// Report summarizes one orchestrated run.
type Report struct {
	RunID    string        `json:"run_id" yaml:"run_id"`
	Mode     Mode          `json:"mode" yaml:"mode"`
	Tier     string        `json:"tier,omitempty" yaml:"tier,omitempty"`
	Success  bool          `json:"success" yaml:"success"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Units    []UnitReport  `json:"units" yaml:"units"`
}

// Engine runs operations over one loaded configuration tree.
type Engine struct {
	options Options
	tree    *unit.Tree
	graph   *graph.Graph

	// The resolver memoizes include files and is not safe for concurrent
	// use; executor workers serialize resolution through resolveMu.
	resolver  *resolver.Resolver
	resolveMu sync.Mutex

	// The default module cache touches the home directory, so it is only
	// opened when a run actually hits an oci:// source.
	modules     *registry.Cache
	modulesErr  error
	modulesOnce sync.Once
}

// New loads the configuration tree under options.WorkingDir and builds its
// dependency graph.
func New(options Options) (*Engine, error) {
	if options.Provisioner == "" {
		options.Provisioner = "opentofu"
	}

	tree, err := unit.NewLoader().LoadTree(options.WorkingDir)
	if err != nil {
		return nil, err
	}

	g, err := graph.Build(tree)
	if err != nil {
		return nil, err
	}

	return &Engine{
		options:  options,
		tree:     tree,
		graph:    g,
		resolver: resolver.NewResolver(tree.Root),
	}, nil
}

// Tree returns the loaded configuration tree.
func (e *Engine) Tree() *unit.Tree {
	return e.tree
}

// Graph returns the unit dependency graph.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Run executes the tree in the given mode and returns a report. The report
// is also persisted as a run record when a state manager is configured.
func (e *Engine) Run(ctx context.Context, mode Mode) (*Report, error) {
	logger := zerolog.Ctx(ctx)
	started := time.Now()

	plan, err := e.buildPlan(mode)
	if err != nil {
		return nil, err
	}

	prov, err := provisioner.Get(e.options.Provisioner)
	if err != nil {
		return nil, err
	}

	// Tree-level .env chain feeds the provisioning engine's environment.
	environ, err := envfile.Load(e.tree.Root, e.options.Tier)
	if err != nil {
		return nil, err
	}

	if e.options.State != nil {
		lock, err := e.options.State.Lock(ctx, state.LockScope{
			Operation: string(mode),
			Who:       lockHolder(),
		})
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Unlock(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release state lock")
			}
		}()
	}

	store := outputs.NewStore(e.options.State, storeMode(mode))

	// Parallel units share one output stream; the multiplexer keeps their
	// lines intact and prefixed with the unit key.
	var mux *logs.Multiplexer
	if e.options.Stdout != nil {
		mux = logs.NewMultiplexer(e.options.Stdout, logs.Options{})
	}

	var mu sync.Mutex
	plans := make(map[string]*provisioner.PlanSummary)
	applied := make(map[string]map[string]interface{})

	exec := executor.NewExecutor(e.graph, executor.Options{
		Parallelism: e.options.Parallelism,
		FailFast:    e.options.FailFast,
		Reverse:     mode == ModeDestroy,
	})

	logger.Info().
		Str("mode", string(mode)).
		Str("tier", e.options.Tier).
		Int("units", len(plan.Selection)).
		Msg("starting run")

	result := exec.Execute(ctx, plan.Layers, func(runCtx context.Context, key string) error {
		ru, err := e.resolveUnit(key, store)
		if err != nil {
			return err
		}

		if _, err := generate.Emit(ru); err != nil {
			return err
		}

		// Inputs may carry ${secret:...} references. The provisioner gets
		// the resolved values; persisted state keeps the references.
		inputs, err := secrets.DefaultManager().ResolveSecrets(runCtx, ru.InputsGo())
		if err != nil {
			return errors.ResolutionError(key, "failed to resolve secret references", err)
		}

		// Units may reference versioned module bundles instead of local
		// directories.
		source := ru.Source
		if oci.IsOCISource(source) {
			cache, err := e.moduleCache()
			if err != nil {
				return err
			}
			if source, err = cache.Resolve(runCtx, source); err != nil {
				return err
			}
		}

		req := provisioner.Request{
			Key:         key,
			WorkDir:     ru.Dir,
			Source:      source,
			Inputs:      inputs,
			Environment: environ,
			Stdout:      e.options.Stdout,
			Stderr:      e.options.Stderr,
		}
		if mux != nil {
			w := mux.Writer(key)
			defer w.Close()
			req.Stdout = w
			req.Stderr = w
		}

		switch mode {
		case ModePlan:
			res, err := prov.Plan(runCtx, req)
			if err != nil {
				return err
			}
			mu.Lock()
			plans[key] = res.Plan
			mu.Unlock()

		case ModeApply:
			res, err := prov.Apply(runCtx, req)
			if err != nil {
				return err
			}
			store.Record(key, res.Outputs)
			mu.Lock()
			applied[key] = res.Outputs
			mu.Unlock()
			if e.options.State != nil {
				return e.options.State.SaveUnit(runCtx, &types.UnitState{
					Key:     key,
					Source:  ru.Source,
					Tier:    e.options.Tier,
					Inputs:  ru.InputsGo(),
					Outputs: res.Outputs,
				})
			}

		case ModeDestroy:
			if err := prov.Destroy(runCtx, req); err != nil {
				return err
			}
			if e.options.State != nil {
				return e.options.State.DeleteUnit(runCtx, key)
			}

		default:
			return errors.New(errors.ErrCodeExecution, fmt.Sprintf("unknown mode %q", mode))
		}
		return nil
	})

	report := e.buildReport(mode, plan, result, plans, applied)
	report.Duration = time.Since(started)

	if e.options.State != nil {
		if err := e.saveRunRecord(context.WithoutCancel(ctx), report, started); err != nil {
			logger.Warn().Err(err).Msg("failed to persist run record")
		}
	}

	logger.Info().
		Str("mode", string(mode)).
		Bool("success", report.Success).
		Dur("duration", report.Duration).
		Msg("run finished")

	return report, nil
}

// ValidationIssue is one unit that failed resolution.
type ValidationIssue struct {
	Key   string `json:"key" yaml:"key"`
	Error string `json:"error" yaml:"error"`
}

// Validate resolves every selected unit with dependency outputs replaced by
// unknown placeholders and collects the failures. Nothing is executed.
func (e *Engine) Validate(ctx context.Context) ([]ValidationIssue, error) {
	plan, err := e.buildPlan(ModePlan)
	if err != nil {
		return nil, err
	}

	store := outputs.NewStore(nil, outputs.ModeValidate)

	var issues []ValidationIssue
	for _, layer := range plan.Layers {
		for _, key := range layer {
			if _, err := e.resolveUnit(key, store); err != nil {
				issues = append(issues, ValidationIssue{Key: key, Error: err.Error()})
			}
		}
	}
	return issues, nil
}

// Outputs returns a unit's outputs: persisted state when available,
// otherwise resolution fails for units that were never applied.
func (e *Engine) Outputs(ctx context.Context, key string) (map[string]interface{}, error) {
	if _, ok := e.tree.Units[key]; !ok {
		return nil, errors.NotFoundError("unit", key)
	}
	if e.options.State == nil {
		return nil, errors.New(errors.ErrCodeBackend, "no state backend configured")
	}
	out, err := e.options.State.GetOutputs(ctx, key)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, errors.New(errors.ErrCodeMissingOutput, "unit has never been applied").WithUnit(key)
	}
	return out, nil
}

func (e *Engine) moduleCache() (*registry.Cache, error) {
	e.modulesOnce.Do(func() {
		if e.options.ModuleCache != nil {
			e.modules = e.options.ModuleCache
			return
		}
		e.modules, e.modulesErr = registry.New()
	})
	return e.modules, e.modulesErr
}

func (e *Engine) resolveUnit(key string, store *outputs.Store) (*resolver.ResolvedUnit, error) {
	node := e.graph.GetNode(key)
	if node == nil || node.Unit == nil {
		return nil, errors.NotFoundError("unit", key)
	}

	e.resolveMu.Lock()
	defer e.resolveMu.Unlock()
	return e.resolver.ResolveUnit(node.Unit, resolver.Options{
		Tier:    e.options.Tier,
		Outputs: store,
	})
}

func (e *Engine) buildReport(mode Mode, plan *Plan, result *executor.Result, plans map[string]*provisioner.PlanSummary, applied map[string]map[string]interface{}) *Report {
	report := &Report{
		RunID:   uuid.New().String(),
		Mode:    mode,
		Tier:    e.options.Tier,
		Success: result.Success,
	}

	for _, layer := range plan.Layers {
		for _, key := range layer {
			r := result.Results[key]
			ur := UnitReport{
				Key:      key,
				Status:   r.Status,
				Duration: r.Duration,
				Plan:     plans[key],
				Outputs:  applied[key],
			}
			if r.Error != nil {
				ur.Error = r.Error.Error()
			}
			report.Units = append(report.Units, ur)
		}
	}
	return report
}

func (e *Engine) saveRunRecord(ctx context.Context, report *Report, started time.Time) error {
	record := &types.RunRecord{
		ID:         report.RunID,
		Mode:       string(report.Mode),
		Tier:       report.Tier,
		Root:       e.tree.Root,
		Status:     types.RunStatusSucceeded,
		StartedAt:  started,
		FinishedAt: started.Add(report.Duration),
	}
	if !report.Success {
		record.Status = types.RunStatusFailed
	}

	for _, u := range report.Units {
		record.Results = append(record.Results, types.UnitResult{
			Key:      u.Key,
			Status:   runStatus(u.Status),
			Error:    u.Error,
			Duration: u.Duration,
		})
	}
	return e.options.State.SaveRun(ctx, record)
}

func runStatus(s executor.UnitStatus) types.RunStatus {
	switch s {
	case executor.StatusSucceeded:
		return types.RunStatusSucceeded
	case executor.StatusFailed:
		return types.RunStatusFailed
	case executor.StatusSkipped:
		return types.RunStatusSkipped
	default:
		return types.RunStatusCancelled
	}
}

func storeMode(mode Mode) outputs.Mode {
	if mode == ModePlan {
		return outputs.ModeDryRun
	}
	return outputs.ModeApply
}

func lockHolder() string {
	host, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s", user, host)
}
