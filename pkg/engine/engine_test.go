package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/stackctl/pkg/engine/executor"
	"github.com/davidthor/stackctl/pkg/provisioner"
	"github.com/davidthor/stackctl/pkg/provisioner/mock"
	"github.com/davidthor/stackctl/pkg/registry"
	"github.com/davidthor/stackctl/pkg/state"
	"github.com/davidthor/stackctl/pkg/state/backend"
	_ "github.com/davidthor/stackctl/pkg/state/backend/local"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, contents := range files {
		target := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(target), 0755))
		require.NoError(t, os.WriteFile(target, []byte(contents), 0644))
	}
	return root
}

func registerMock(t *testing.T) *mock.Provisioner {
	t.Helper()
	m := &mock.Provisioner{}
	provisioner.Register(t.Name(), func() (provisioner.Provisioner, error) {
		return m, nil
	})
	return m
}

func stateManager(t *testing.T) state.Manager {
	t.Helper()
	m, err := state.NewManagerFromConfig(backend.Config{
		Type:     "local",
		Settings: map[string]string{"path": t.TempDir()},
	})
	require.NoError(t, err)
	return m
}

const vpcUnit = `
source = "modules/vpc"

inputs = {
  cidr = "10.0.0.0/16"
}
`

const appUnit = `
source = "modules/app"

dependency "vpc" {
  config_path = "../vpc"

  mock_outputs = {
    vpc_id = "vpc-mock"
  }
}

inputs = {
  vpc_id = dependency.vpc.outputs.vpc_id
}
`

func TestRun_ApplyPropagatesRealOutputs(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"app/unit.hcl": appUnit,
	})

	m := registerMock(t)
	m.ApplyFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		if req.Key == "vpc" {
			return &provisioner.Result{Outputs: map[string]interface{}{"vpc_id": "vpc-12345"}}, nil
		}
		return &provisioner.Result{Outputs: map[string]interface{}{}}, nil
	}

	e, err := New(Options{
		WorkingDir:  root,
		Tier:        "dev",
		Provisioner: t.Name(),
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"vpc", "app"}, m.CallKeys())

	// The downstream unit sees the upstream's real outputs, not its mocks.
	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "vpc-12345", calls[1].Req.Inputs["vpc_id"])
	assert.Equal(t, "modules/app", calls[1].Req.Source)
}

func TestRun_ApplyPersistsStateAndRunRecord(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
	})

	m := registerMock(t)
	m.ApplyFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		return &provisioner.Result{Outputs: map[string]interface{}{"vpc_id": "vpc-12345"}}, nil
	}

	sm := stateManager(t)
	e, err := New(Options{
		WorkingDir:  root,
		Tier:        "dev",
		Provisioner: t.Name(),
		State:       sm,
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeApply)
	require.NoError(t, err)
	require.True(t, report.Success)

	ctx := context.Background()
	us, err := sm.GetUnit(ctx, "vpc")
	require.NoError(t, err)
	assert.Equal(t, "dev", us.Tier)
	assert.Equal(t, "modules/vpc", us.Source)
	assert.Equal(t, "vpc-12345", us.Outputs["vpc_id"])

	record, err := sm.GetRun(ctx, report.RunID)
	require.NoError(t, err)
	assert.Equal(t, "apply", record.Mode)
	require.Len(t, record.Results, 1)
	assert.Equal(t, "vpc", record.Results[0].Key)

	out, err := e.Outputs(ctx, "vpc")
	require.NoError(t, err)
	assert.Equal(t, "vpc-12345", out["vpc_id"])
}

func TestRun_PlanUsesMocksAndSummaries(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"app/unit.hcl": appUnit,
	})

	m := registerMock(t)
	m.PlanFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		return &provisioner.Result{Plan: &provisioner.PlanSummary{Create: 2}}, nil
	}

	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModePlan)
	require.NoError(t, err)
	assert.True(t, report.Success)

	// Nothing applied, so the dependency resolves from mock_outputs.
	calls := m.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "plan", calls[0].Op)
	assert.Equal(t, "vpc-mock", calls[1].Req.Inputs["vpc_id"])

	for _, u := range report.Units {
		require.NotNil(t, u.Plan, u.Key)
		assert.Equal(t, 2, u.Plan.Create)
	}
}

func TestRun_DestroyReversesOrderAndDeletesState(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"app/unit.hcl": appUnit,
	})

	sm := stateManager(t)
	m := registerMock(t)
	m.ApplyFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		return &provisioner.Result{Outputs: map[string]interface{}{"vpc_id": "vpc-12345"}}, nil
	}

	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
		State:       sm,
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ModeApply)
	require.NoError(t, err)

	m2 := &mock.Provisioner{}
	provisioner.Register(t.Name(), func() (provisioner.Provisioner, error) { return m2, nil })

	report, err := e.Run(context.Background(), ModeDestroy)
	require.NoError(t, err)
	assert.True(t, report.Success)

	// Dependents go down before their dependencies.
	assert.Equal(t, []string{"app", "vpc"}, m2.CallKeys())

	units, err := sm.ListUnits(context.Background())
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestRun_UnitFilterPullsInDependencies(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl":   vpcUnit,
		"app/unit.hcl":   appUnit,
		"other/unit.hcl": `source = "modules/other"`,
	})

	m := registerMock(t)
	m.ApplyFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		if req.Key == "vpc" {
			return &provisioner.Result{Outputs: map[string]interface{}{"vpc_id": "vpc-12345"}}, nil
		}
		return &provisioner.Result{}, nil
	}
	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
		Units:       []string{"app"},
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.True(t, report.Success)

	// The filter closes over upstream dependencies and leaves the rest out.
	assert.Equal(t, []string{"vpc", "app"}, m.CallKeys())
	assert.Len(t, report.Units, 2)
}

func TestRun_DestroyFilterPullsInDependents(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"app/unit.hcl": appUnit,
	})

	m := registerMock(t)
	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
		Units:       []string{"vpc"},
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeDestroy)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, []string{"app", "vpc"}, m.CallKeys())
}

func TestRun_FailureSkipsDependents(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"app/unit.hcl": appUnit,
	})

	m := registerMock(t)
	m.ApplyFunc = func(ctx context.Context, req provisioner.Request) (*provisioner.Result, error) {
		return nil, assert.AnError
	}

	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.False(t, report.Success)

	byKey := make(map[string]UnitReport)
	for _, u := range report.Units {
		byKey[u.Key] = u
	}
	assert.Equal(t, executor.StatusFailed, byKey["vpc"].Status)
	assert.Equal(t, executor.StatusSkipped, byKey["app"].Status)
	assert.NotEmpty(t, byKey["app"].Error)

	// The failed unit's apply is the only provisioner call.
	assert.Equal(t, []string{"vpc"}, m.CallKeys())
}

func TestRun_UnknownUnitFilter(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
	})

	registerMock(t)
	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
		Units:       []string{"nope"},
	})
	require.NoError(t, err)

	_, err = e.Run(context.Background(), ModeApply)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestValidate_CollectsResolutionFailures(t *testing.T) {
	root := writeTree(t, map[string]string{
		"vpc/unit.hcl": vpcUnit,
		"bad/unit.hcl": `
source = "modules/bad"

inputs = {
  broken = local.does_not_exist
}
`,
	})

	registerMock(t)
	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
	})
	require.NoError(t, err)

	issues, err := e.Validate(context.Background())
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "bad", issues[0].Key)
	assert.NotEmpty(t, issues[0].Error)
}

func TestRun_OCISourceResolvesThroughCache(t *testing.T) {
	root := writeTree(t, map[string]string{
		"app/unit.hcl": `source = "oci://ghcr.io/org/modules/app:v1"`,
	})

	cache, err := registry.NewWithRoot(t.TempDir())
	require.NoError(t, err)
	bundleDir := cache.PathFor("ghcr.io/org/modules/app:v1")
	require.NoError(t, os.MkdirAll(bundleDir, 0755))
	require.NoError(t, cache.AddBuilt("ghcr.io/org/modules/app:v1", bundleDir))

	m := registerMock(t)

	e, err := New(Options{
		WorkingDir:  root,
		Provisioner: t.Name(),
		ModuleCache: cache,
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), ModeApply)
	require.NoError(t, err)
	assert.True(t, report.Success)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, bundleDir, calls[0].Req.Source)
}
