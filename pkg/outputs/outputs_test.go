package outputs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/schema/unit"
	"github.com/davidthor/stackctl/pkg/state"
	"github.com/davidthor/stackctl/pkg/state/backend/local"
	statetypes "github.com/davidthor/stackctl/pkg/state/types"
)

func testUnit() (*unit.Unit, unit.Dependency) {
	dep := unit.Dependency{Name: "vpc", ConfigPath: "../vpc", TargetKey: "dev/vpc"}
	u := &unit.Unit{
		Key:          "dev/app",
		Dependencies: []unit.Dependency{dep},
	}
	return u, dep
}

func testStateManager(t *testing.T) state.Manager {
	t.Helper()
	b, err := local.NewBackend(map[string]string{"path": t.TempDir()})
	require.NoError(t, err)
	return state.NewManager(b)
}

func TestResolve_PassOutputsWinOverMocks(t *testing.T) {
	u, dep := testUnit()
	store := NewStore(nil, ModeApply)
	mocks := cty.ObjectVal(map[string]cty.Value{"vpc_id": cty.StringVal("mock")})

	// Before the dependency has applied, mocks are used.
	res, err := store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, KindMocked, res.Kind)
	assert.Equal(t, "mock", res.Value.GetAttr("vpc_id").AsString())

	// Once the dependency applies within the pass, its real outputs win.
	store.Record("dev/vpc", map[string]interface{}{"vpc_id": "vpc-123"})

	res, err = store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, KindReal, res.Kind)
	assert.Equal(t, "vpc-123", res.Value.GetAttr("vpc_id").AsString())
}

func TestResolve_PersistedOutputs(t *testing.T) {
	u, dep := testUnit()
	manager := testStateManager(t)
	require.NoError(t, manager.SaveUnit(context.Background(), &statetypes.UnitState{
		Key:     "dev/vpc",
		Outputs: map[string]interface{}{"vpc_id": "vpc-old"},
	}))

	store := NewStore(manager, ModeApply)

	// Persisted outputs beat mocks.
	mocks := cty.ObjectVal(map[string]cty.Value{"vpc_id": cty.StringVal("mock")})
	res, err := store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, KindReal, res.Kind)
	assert.Equal(t, "vpc-old", res.Value.GetAttr("vpc_id").AsString())

	// Pass outputs beat persisted outputs.
	store.Record("dev/vpc", map[string]interface{}{"vpc_id": "vpc-new"})
	res, err = store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, "vpc-new", res.Value.GetAttr("vpc_id").AsString())
}

func TestResolve_MissingOutputsError(t *testing.T) {
	u, dep := testUnit()
	store := NewStore(nil, ModeApply)

	_, err := store.Resolve(u, dep, cty.NilVal)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeMissingOutput))
}

func TestResolve_DryRunTolerates(t *testing.T) {
	u, dep := testUnit()
	store := NewStore(nil, ModeDryRun)

	res, err := store.Resolve(u, dep, cty.NilVal)
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, res.Kind)
	assert.False(t, res.Value.IsKnown())

	// Mocks are still preferred over placeholders in dry-run.
	mocks := cty.ObjectVal(map[string]cty.Value{"vpc_id": cty.StringVal("mock")})
	res, err = store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, KindMocked, res.Kind)
}

func TestResolve_ValidatePlaceholders(t *testing.T) {
	u, dep := testUnit()
	store := NewStore(nil, ModeValidate)

	// Even declared mocks resolve to placeholders in validate mode.
	mocks := cty.ObjectVal(map[string]cty.Value{"vpc_id": cty.StringVal("mock")})
	res, err := store.Resolve(u, dep, mocks)
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, res.Kind)
	assert.False(t, res.Value.IsKnown())
}

func TestResolve_SkipOutputs(t *testing.T) {
	u, dep := testUnit()
	dep.SkipOutputs = true
	store := NewStore(nil, ModeApply)

	res, err := store.Resolve(u, dep, cty.NilVal)
	require.NoError(t, err)
	assert.Equal(t, KindUnavailable, res.Kind)
}
