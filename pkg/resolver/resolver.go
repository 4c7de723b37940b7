// Package resolver evaluates unit configurations: include chains, locals,
// and input expressions, producing fully resolved units ready for planning.
package resolver

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// OutputProvider supplies dependency outputs during resolution. The provider
// decides between real, persisted, and mocked outputs; mocks is the
// dependency's evaluated mock_outputs value (NilVal when undeclared).
type OutputProvider interface {
	DependencyOutputs(u *unit.Unit, dep unit.Dependency, mocks cty.Value) (cty.Value, error)
}

// Options controls a resolution pass.
type Options struct {
	// Tier is the resolution tier value exposed to expressions (e.g. "dev",
	// "prod"). Include-file resolution is memoized per tier.
	Tier string

	// Outputs supplies dependency outputs. When nil, every dependency
	// resolves to an unknown placeholder, which validate mode relies on.
	Outputs OutputProvider
}

// ResolvedUnit is a unit with every expression evaluated and its include
// chain merged.
type ResolvedUnit struct {
	Unit *unit.Unit

	// Key and Dir mirror the unit for convenience.
	Key string
	Dir string

	// Source is the evaluated module source for the provisioning engine.
	Source string

	// Locals are the unit's evaluated local values.
	Locals cty.Value

	// Inputs is the merged input object: include chain first (in include
	// order), the unit's own inputs last.
	Inputs cty.Value

	// EvalContext is the evaluation scope the inputs were produced in. The
	// artifact emitter renders generate templates against it.
	EvalContext *hcl.EvalContext
}

// InputsGo returns the resolved inputs as plain Go values, keyed by input
// name, for handing to the provisioning engine.
func (r *ResolvedUnit) InputsGo() map[string]interface{} {
	out, _ := FromCty(r.Inputs).(map[string]interface{})
	if out == nil {
		out = make(map[string]interface{})
	}
	return out
}

// resolvedFile is a fully evaluated include-chain file.
type resolvedFile struct {
	Locals cty.Value
	Inputs cty.Value
}

// Resolver evaluates unit configurations against a configuration tree.
type Resolver struct {
	root  string
	funcs map[string]function.Function

	// memo caches resolved include files by path and tier. Parent files are
	// shared by many units, and their resolution is unit-independent.
	memo map[string]*resolvedFile
}

// NewResolver creates a resolver for the tree rooted at root.
func NewResolver(root string) *Resolver {
	return &Resolver{
		root:  root,
		funcs: standardFunctions(),
		memo:  make(map[string]*resolvedFile),
	}
}

// ResolveUnit evaluates a unit's include chain, locals, and inputs.
func (r *Resolver) ResolveUnit(u *unit.Unit, opts Options) (*ResolvedUnit, error) {
	ctx, includes, err := r.fileScope(u.Config, opts.Tier)
	if err != nil {
		return nil, err
	}

	locals, err := r.evalLocals(u.Config, ctx)
	if err != nil {
		return nil, resolutionErr(u.Key, u.Config.Path, err)
	}
	ctx.Variables["local"] = locals

	deps, err := r.resolveDependencies(u, ctx, opts)
	if err != nil {
		return nil, err
	}
	ctx.Variables["dependency"] = deps

	own := cty.EmptyObjectVal
	if u.Config.InputsExpr != nil {
		val, diags := u.Config.InputsExpr.Value(ctx)
		if diags.HasErrors() {
			return nil, resolutionErr(u.Key, u.Config.Path, fmt.Errorf("inputs: %s", diags.Error()))
		}
		own = val
	}

	inputs := cty.EmptyObjectVal
	for _, inc := range includes {
		inputs = mergeValues(inputs, inc.Inputs)
	}
	inputs = mergeValues(inputs, own)

	resolved := &ResolvedUnit{
		Unit:        u,
		Key:         u.Key,
		Dir:         u.Dir,
		Locals:      locals,
		Inputs:      inputs,
		EvalContext: ctx,
	}

	if u.SourceExpr != nil {
		val, diags := u.SourceExpr.Value(ctx)
		if diags.HasErrors() {
			return nil, resolutionErr(u.Key, u.Config.Path, fmt.Errorf("source: %s", diags.Error()))
		}
		if val.Type() != cty.String {
			return nil, resolutionErr(u.Key, u.Config.Path, fmt.Errorf("source must be a string"))
		}
		resolved.Source = val.AsString()
	}

	return resolved, nil
}

// resolveFile evaluates an include-chain file, memoized by path and tier.
// Include files cannot reference dependency outputs; only unit.hcl can.
func (r *Resolver) resolveFile(f *unit.File, tier string) (*resolvedFile, error) {
	key := f.Path + "\x00" + tier
	if cached, ok := r.memo[key]; ok {
		return cached, nil
	}

	ctx, includes, err := r.fileScope(f, tier)
	if err != nil {
		return nil, err
	}

	locals, err := r.evalLocals(f, ctx)
	if err != nil {
		return nil, resolutionErr("", f.Path, err)
	}
	ctx.Variables["local"] = locals

	own := cty.EmptyObjectVal
	if f.InputsExpr != nil {
		val, diags := f.InputsExpr.Value(ctx)
		if diags.HasErrors() {
			return nil, resolutionErr("", f.Path, fmt.Errorf("inputs: %s", diags.Error()))
		}
		own = val
	}

	inputs := cty.EmptyObjectVal
	for _, inc := range includes {
		inputs = mergeValues(inputs, inc.Inputs)
	}
	inputs = mergeValues(inputs, own)

	resolved := &resolvedFile{Locals: locals, Inputs: inputs}
	r.memo[key] = resolved
	return resolved, nil
}

// fileScope builds the base evaluation scope for a file: tier, unit
// metadata, the function library, and the file's resolved includes exposed
// as include.<label>. The includes are also returned in declaration order
// for input merging.
func (r *Resolver) fileScope(f *unit.File, tier string) (*hcl.EvalContext, []*resolvedFile, error) {
	includeVals := make(map[string]cty.Value)
	var ordered []*resolvedFile

	for _, inc := range f.Includes {
		resolved, err := r.resolveFile(inc.Target, tier)
		if err != nil {
			return nil, nil, err
		}
		ordered = append(ordered, resolved)
		includeVals[inc.Label] = cty.ObjectVal(map[string]cty.Value{
			"locals": resolved.Locals,
			"inputs": resolved.Inputs,
		})
	}

	includeVal := cty.EmptyObjectVal
	if len(includeVals) > 0 {
		includeVal = cty.ObjectVal(includeVals)
	}

	ctx := &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"tier":    cty.StringVal(tier),
			"unit":    r.fileMeta(f),
			"include": includeVal,
			"local":   cty.EmptyObjectVal,
		},
		Functions: r.funcs,
	}
	return ctx, ordered, nil
}

// fileMeta builds the unit.* metadata object for a file's directory.
func (r *Resolver) fileMeta(f *unit.File) cty.Value {
	rel, err := filepath.Rel(r.root, f.Dir)
	if err != nil || rel == "." {
		rel = ""
	}
	return cty.ObjectVal(map[string]cty.Value{
		"path": cty.StringVal(filepath.ToSlash(rel)),
		"name": cty.StringVal(filepath.Base(f.Dir)),
		"dir":  cty.StringVal(f.Dir),
	})
}

// resolveDependencies evaluates each dependency's mock_outputs in the unit's
// scope and asks the output provider for the value to expose as
// dependency.<name>.outputs.
func (r *Resolver) resolveDependencies(u *unit.Unit, ctx *hcl.EvalContext, opts Options) (cty.Value, error) {
	if len(u.Dependencies) == 0 {
		return cty.EmptyObjectVal, nil
	}

	deps := make(map[string]cty.Value, len(u.Dependencies))
	for _, dep := range u.Dependencies {
		mocks := cty.NilVal
		if dep.MockOutputsExpr != nil {
			val, diags := dep.MockOutputsExpr.Value(ctx)
			if diags.HasErrors() {
				return cty.NilVal, resolutionErr(u.Key, u.Config.Path,
					fmt.Errorf("dependency %q: mock_outputs: %s", dep.Name, diags.Error()))
			}
			mocks = val
		}

		var outputs cty.Value
		if opts.Outputs == nil {
			outputs = cty.UnknownVal(cty.DynamicPseudoType)
		} else {
			val, err := opts.Outputs.DependencyOutputs(u, dep, mocks)
			if err != nil {
				return cty.NilVal, err
			}
			outputs = val
		}

		deps[dep.Name] = cty.ObjectVal(map[string]cty.Value{
			"outputs": outputs,
		})
	}

	return cty.ObjectVal(deps), nil
}

// evalLocals evaluates a file's locals in reference order. Locals may
// reference each other through local.<name>; a reference cycle is reported
// with the full chain.
func (r *Resolver) evalLocals(f *unit.File, ctx *hcl.EvalContext) (cty.Value, error) {
	if len(f.Locals) == 0 {
		return cty.EmptyObjectVal, nil
	}

	refs := make(map[string][]string, len(f.Locals))
	for name, expr := range f.Locals {
		for _, traversal := range expr.Variables() {
			if traversal.RootName() != "local" || len(traversal) < 2 {
				continue
			}
			if attr, ok := traversal[1].(hcl.TraverseAttr); ok {
				if _, declared := f.Locals[attr.Name]; declared {
					refs[name] = append(refs[name], attr.Name)
				}
			}
		}
		sort.Strings(refs[name])
	}

	order, err := localOrder(f.Locals, refs)
	if err != nil {
		return cty.NilVal, err
	}

	values := make(map[string]cty.Value, len(f.Locals))
	for _, name := range order {
		if len(values) > 0 {
			ctx.Variables["local"] = cty.ObjectVal(values)
		}
		val, diags := f.Locals[name].Value(ctx)
		if diags.HasErrors() {
			return cty.NilVal, fmt.Errorf("local %q: %s", name, diags.Error())
		}
		values[name] = val
	}

	return cty.ObjectVal(values), nil
}

// localOrder returns a deterministic evaluation order for locals, with
// dependencies before dependents. Cycles surface with the reference chain.
func localOrder(locals map[string]hcl.Expression, refs map[string][]string) ([]string, error) {
	names := make([]string, 0, len(locals))
	for name := range locals {
		names = append(names, name)
	}
	sort.Strings(names)

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(names))
	var order []string

	var visit func(name string, chain []string) error
	visit = func(name string, chain []string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			cycle := append(chain, name)
			start := 0
			for i, n := range cycle {
				if n == name {
					start = i
					break
				}
			}
			return fmt.Errorf("local value cycle: %s", joinChain(cycle[start:]))
		}
		state[name] = visiting
		next := append(append([]string{}, chain...), name)
		for _, ref := range refs[name] {
			if err := visit(ref, next); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, name := range names {
		if err := visit(name, nil); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func joinChain(chain []string) string {
	out := ""
	for i, name := range chain {
		if i > 0 {
			out += " -> "
		}
		out += name
	}
	return out
}

func resolutionErr(unitKey, file string, err error) error {
	return errors.ResolutionError(unitKey, fmt.Sprintf("failed to resolve %s", file), err)
}
