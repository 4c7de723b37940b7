// Package outputs resolves dependency outputs for unit resolution: real
// outputs from the current pass, persisted outputs from state, or declared
// mocks, in that order.
package outputs

import (
	"context"
	"sync"

	"github.com/zclconf/go-cty/cty"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/resolver"
	"github.com/davidthor/stackctl/pkg/schema/unit"
	"github.com/davidthor/stackctl/pkg/state"
)

// Mode selects how missing outputs are handled.
type Mode string

const (
	// ModeApply requires outputs: a dependency with neither real, persisted,
	// nor mocked outputs is an error.
	ModeApply Mode = "apply"

	// ModeDryRun tolerates missing outputs with unknown placeholders, since
	// nothing is applied during the pass.
	ModeDryRun Mode = "dry-run"

	// ModeValidate resolves every dependency to an unknown placeholder.
	ModeValidate Mode = "validate"
)

// Kind tags how a dependency's outputs were obtained.
type Kind string

const (
	KindReal        Kind = "real"
	KindMocked      Kind = "mocked"
	KindUnavailable Kind = "unavailable"
)

// Resolution is the outcome of resolving one dependency edge.
type Resolution struct {
	Kind  Kind
	Value cty.Value
}

// Store resolves dependency outputs and collects outputs produced during the
// current pass. It is safe for concurrent use by executor workers.
type Store struct {
	mode    Mode
	manager state.Manager

	mu      sync.RWMutex
	results map[string]map[string]interface{}
}

// NewStore creates a store for one orchestrated pass. manager may be nil,
// in which case no persisted outputs are consulted.
func NewStore(manager state.Manager, mode Mode) *Store {
	return &Store{
		mode:    mode,
		manager: manager,
		results: make(map[string]map[string]interface{}),
	}
}

// Record stores outputs produced by a unit during the current pass. They
// take precedence over persisted outputs and mocks for downstream units.
func (s *Store) Record(key string, outputs map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key] = outputs
}

// PassOutputs returns outputs recorded during the current pass, or nil.
func (s *Store) PassOutputs(key string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outputs, ok := s.results[key]
	return outputs, ok
}

// Resolve resolves one dependency edge for a unit.
func (s *Store) Resolve(u *unit.Unit, dep unit.Dependency, mocks cty.Value) (Resolution, error) {
	// Sequencing-only edges never expose outputs.
	if dep.SkipOutputs {
		return Resolution{Kind: KindUnavailable, Value: cty.UnknownVal(cty.DynamicPseudoType)}, nil
	}

	if s.mode == ModeValidate {
		return Resolution{Kind: KindUnavailable, Value: cty.UnknownVal(cty.DynamicPseudoType)}, nil
	}

	if outputs, ok := s.PassOutputs(dep.TargetKey); ok {
		return Resolution{Kind: KindReal, Value: resolver.ToCty(toIface(outputs))}, nil
	}

	if s.manager != nil {
		persisted, err := s.manager.GetOutputs(context.Background(), dep.TargetKey)
		if err != nil {
			return Resolution{}, errors.BackendError(s.manager.Backend().Type(), "read outputs", err).WithUnit(u.Key)
		}
		if persisted != nil {
			return Resolution{Kind: KindReal, Value: resolver.ToCty(toIface(persisted))}, nil
		}
	}

	if mocks != cty.NilVal && !mocks.IsNull() {
		return Resolution{Kind: KindMocked, Value: mocks}, nil
	}

	if s.mode == ModeDryRun {
		return Resolution{Kind: KindUnavailable, Value: cty.UnknownVal(cty.DynamicPseudoType)}, nil
	}

	return Resolution{}, errors.MissingOutputError(u.Key, dep.Name)
}

// DependencyOutputs implements resolver.OutputProvider.
func (s *Store) DependencyOutputs(u *unit.Unit, dep unit.Dependency, mocks cty.Value) (cty.Value, error) {
	res, err := s.Resolve(u, dep, mocks)
	if err != nil {
		return cty.NilVal, err
	}
	return res.Value, nil
}

func toIface(m map[string]interface{}) interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
