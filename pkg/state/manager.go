// Package state provides persisted unit outputs and run records for stackctl.
package state

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/davidthor/stackctl/pkg/state/backend"
	"github.com/davidthor/stackctl/pkg/state/types"
)

// Manager provides high-level state operations over a storage backend.
type Manager interface {
	// Unit operations
	GetUnit(ctx context.Context, key string) (*types.UnitState, error)
	SaveUnit(ctx context.Context, state *types.UnitState) error
	DeleteUnit(ctx context.Context, key string) error
	ListUnits(ctx context.Context) ([]string, error)

	// GetOutputs returns a unit's persisted outputs, or nil when the unit
	// has never been applied.
	GetOutputs(ctx context.Context, key string) (map[string]interface{}, error)

	// Run record operations
	SaveRun(ctx context.Context, record *types.RunRecord) error
	GetRun(ctx context.Context, id string) (*types.RunRecord, error)
	ListRuns(ctx context.Context) ([]string, error)

	// Lock acquires the tree-wide execution lock.
	Lock(ctx context.Context, scope LockScope) (backend.Lock, error)

	// Backend returns the underlying storage backend.
	Backend() backend.Backend
}

// LockScope describes who is locking and why.
type LockScope struct {
	Operation string
	Who       string
}

// manager implements the Manager interface.
type manager struct {
	backend backend.Backend
}

// NewManager creates a new state manager with the given backend.
func NewManager(b backend.Backend) Manager {
	return &manager{backend: b}
}

// NewManagerFromConfig creates a new state manager from backend configuration.
func NewManagerFromConfig(config backend.Config) (Manager, error) {
	b, err := backend.Create(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend: %w", err)
	}
	return NewManager(b), nil
}

func (m *manager) Backend() backend.Backend {
	return m.backend
}

func (m *manager) GetUnit(ctx context.Context, key string) (*types.UnitState, error) {
	var state types.UnitState
	if err := m.readJSON(ctx, unitPath(key), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (m *manager) SaveUnit(ctx context.Context, state *types.UnitState) error {
	if state.Key == "" {
		return fmt.Errorf("unit state has no key")
	}
	now := time.Now()
	if state.AppliedAt.IsZero() {
		state.AppliedAt = now
	}
	state.UpdatedAt = now
	return m.writeJSON(ctx, unitPath(state.Key), state)
}

func (m *manager) DeleteUnit(ctx context.Context, key string) error {
	return m.backend.Delete(ctx, unitPath(key))
}

func (m *manager) ListUnits(ctx context.Context) ([]string, error) {
	paths, err := m.backend.List(ctx, "units")
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, p := range paths {
		p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "units/")
		if strings.HasSuffix(p, ".json") {
			keys = append(keys, strings.TrimSuffix(p, ".json"))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *manager) GetOutputs(ctx context.Context, key string) (map[string]interface{}, error) {
	state, err := m.GetUnit(ctx, key)
	if err != nil {
		if err == backend.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	return state.Outputs, nil
}

func (m *manager) SaveRun(ctx context.Context, record *types.RunRecord) error {
	if record.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	return m.writeJSON(ctx, runPath(record.ID), record)
}

func (m *manager) GetRun(ctx context.Context, id string) (*types.RunRecord, error) {
	var record types.RunRecord
	if err := m.readJSON(ctx, runPath(id), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func (m *manager) ListRuns(ctx context.Context) ([]string, error) {
	paths, err := m.backend.List(ctx, "runs")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, p := range paths {
		p = strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "runs/")
		if strings.HasSuffix(p, ".json") {
			ids = append(ids, strings.TrimSuffix(p, ".json"))
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *manager) Lock(ctx context.Context, scope LockScope) (backend.Lock, error) {
	return m.backend.Lock(ctx, "tree", backend.LockInfo{
		Operation: scope.Operation,
		Who:       scope.Who,
	})
}

func (m *manager) readJSON(ctx context.Context, statePath string, out interface{}) error {
	reader, err := m.backend.Read(ctx, statePath)
	if err != nil {
		return err
	}
	defer reader.Close()

	if err := json.NewDecoder(reader).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", statePath, err)
	}
	return nil
}

func (m *manager) writeJSON(ctx context.Context, statePath string, in interface{}) error {
	data, err := json.MarshalIndent(in, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", statePath, err)
	}
	return m.backend.Write(ctx, statePath, bytes.NewReader(data))
}

func unitPath(key string) string {
	return path.Join("units", key+".json")
}

func runPath(id string) string {
	return path.Join("runs", id+".json")
}
