package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// writeTree materializes a file map under a temp dir and loads it.
func writeTree(t *testing.T, files map[string]string) (*unit.Tree, string) {
	t.Helper()
	root := t.TempDir()
	for rel, contents := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	}
	tree, err := unit.NewLoader().LoadTree(root)
	require.NoError(t, err)
	return tree, tree.Root
}

func TestResolveUnit_IncludeChainMerge(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"root.hcl": `
inputs = {
  region = "us-east1"
  tags = {
    team = "platform"
    env  = "none"
  }
  zones = ["a", "b"]
}
`,
		"dev/vpc/unit.hcl": `
include "root" {
  name = "root.hcl"
}

inputs = {
  tags = {
    env = "dev"
  }
  zones = ["c"]
}
`,
	})

	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/vpc"], Options{Tier: "dev"})
	require.NoError(t, err)

	inputs := resolved.InputsGo()

	// Scalar from the parent survives untouched.
	assert.Equal(t, "us-east1", inputs["region"])

	// Maps deep-merge: untouched keys survive, overridden keys win.
	tags := inputs["tags"].(map[string]interface{})
	assert.Equal(t, "platform", tags["team"])
	assert.Equal(t, "dev", tags["env"])

	// Lists are replaced wholesale, never concatenated.
	assert.Equal(t, []interface{}{"c"}, inputs["zones"])
}

func TestResolveUnit_LocalsAndIncludeScope(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"root.hcl": `
locals {
  project = "acme"
}

inputs = {
  project = local.project
}
`,
		"dev/app/unit.hcl": `
include "root" {
  name = "root.hcl"
}

locals {
  name_prefix = "${include.root.locals.project}-${tier}"
  full_name   = "${local.name_prefix}-${unit.name}"
}

inputs = {
  name = local.full_name
  path = unit.path
}
`,
	})

	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "dev"})
	require.NoError(t, err)

	inputs := resolved.InputsGo()
	assert.Equal(t, "acme", inputs["project"])
	assert.Equal(t, "acme-dev-app", inputs["name"])
	assert.Equal(t, "dev/app", inputs["path"])
}

func TestResolveUnit_LocalCycle(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"dev/app/unit.hcl": `
locals {
  a = local.b
  b = local.a
}
`,
	})

	r := NewResolver(root)
	_, err := r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "dev"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
	assert.Contains(t, err.Error(), "a -> b -> a")
}

func TestResolveUnit_AppendConcatenates(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"dev/app/unit.hcl": `
locals {
  base = ["a", "b"]
}

inputs = {
  zones = append(local.base, "c")
}
`,
	})

	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "dev"})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b", "c"}, resolved.InputsGo()["zones"])
}

func TestResolveUnit_CidrFunctions(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"dev/net/unit.hcl": `
inputs = {
  subnet  = cidrsubnet("10.0.0.0/16", 8, 2)
  gateway = cidrhost("10.0.2.0/24", 1)
}
`,
	})

	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/net"], Options{Tier: "dev"})
	require.NoError(t, err)

	inputs := resolved.InputsGo()
	assert.Equal(t, "10.0.2.0/24", inputs["subnet"])
	assert.Equal(t, "10.0.2.1", inputs["gateway"])
}

func TestResolveUnit_TierTernary(t *testing.T) {
	files := map[string]string{
		"dev/app/unit.hcl": `
inputs = {
  instances = tier == "prod" ? 3 : 1
}
`,
	}

	tree, root := writeTree(t, files)
	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "dev"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), resolved.InputsGo()["instances"])

	tree, root = writeTree(t, files)
	r = NewResolver(root)
	resolved, err = r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "prod"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolved.InputsGo()["instances"])
}

type staticOutputs struct {
	outputs map[string]cty.Value
}

func (s *staticOutputs) DependencyOutputs(u *unit.Unit, dep unit.Dependency, mocks cty.Value) (cty.Value, error) {
	if val, ok := s.outputs[dep.TargetKey]; ok {
		return val, nil
	}
	if mocks != cty.NilVal {
		return mocks, nil
	}
	return cty.UnknownVal(cty.DynamicPseudoType), nil
}

func TestResolveUnit_DependencyOutputs(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"dev/vpc/unit.hcl": `
inputs = {
  cidr = "10.0.0.0/16"
}
`,
		"dev/app/unit.hcl": `
dependency "vpc" {
  config_path = "../vpc"

  mock_outputs = {
    vpc_id = "mock-vpc"
  }
}

inputs = {
  vpc_id = dependency.vpc.outputs.vpc_id
}
`,
	})

	r := NewResolver(root)
	app := tree.Units["dev/app"]

	// With no real outputs, the provider falls back to the mocks it is handed.
	resolved, err := r.ResolveUnit(app, Options{Tier: "dev", Outputs: &staticOutputs{}})
	require.NoError(t, err)
	assert.Equal(t, "mock-vpc", resolved.InputsGo()["vpc_id"])

	// Real outputs take precedence over mocks.
	provider := &staticOutputs{outputs: map[string]cty.Value{
		"dev/vpc": cty.ObjectVal(map[string]cty.Value{
			"vpc_id": cty.StringVal("vpc-123"),
		}),
	}}
	resolved, err = r.ResolveUnit(app, Options{Tier: "dev", Outputs: provider})
	require.NoError(t, err)
	assert.Equal(t, "vpc-123", resolved.InputsGo()["vpc_id"])
}

func TestResolveUnit_ValidateModeUnknownPlaceholders(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"dev/vpc/unit.hcl": `
inputs = {}
`,
		"dev/app/unit.hcl": `
dependency "vpc" {
  config_path = "../vpc"
}

inputs = {
  vpc_id = dependency.vpc.outputs.vpc_id
}
`,
	})

	r := NewResolver(root)
	resolved, err := r.ResolveUnit(tree.Units["dev/app"], Options{Tier: "dev"})
	require.NoError(t, err)

	// Unknown dependency outputs resolve structurally but carry no value.
	assert.False(t, resolved.Inputs.GetAttr("vpc_id").IsKnown())
	assert.Nil(t, resolved.InputsGo()["vpc_id"])
}

func TestResolveFile_MemoizedPerTier(t *testing.T) {
	tree, root := writeTree(t, map[string]string{
		"root.hcl": `
inputs = {
  label = tier
}
`,
		"dev/a/unit.hcl": `
include "root" {
  name = "root.hcl"
}
`,
		"dev/b/unit.hcl": `
include "root" {
  name = "root.hcl"
}
`,
	})

	r := NewResolver(root)
	a, err := r.ResolveUnit(tree.Units["dev/a"], Options{Tier: "dev"})
	require.NoError(t, err)
	b, err := r.ResolveUnit(tree.Units["dev/b"], Options{Tier: "dev"})
	require.NoError(t, err)

	assert.Equal(t, "dev", a.InputsGo()["label"])
	assert.Equal(t, "dev", b.InputsGo()["label"])
	assert.Len(t, r.memo, 1)

	c, err := r.ResolveUnit(tree.Units["dev/a"], Options{Tier: "prod"})
	require.NoError(t, err)
	assert.Equal(t, "prod", c.InputsGo()["label"])
	assert.Len(t, r.memo, 2)
}
