package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// makeTree builds a tree from a map of unit key to dependency keys.
func makeTree(deps map[string][]string) *unit.Tree {
	tree := &unit.Tree{
		Root:  "/tree",
		Units: make(map[string]*unit.Unit),
	}
	for key, targets := range deps {
		u := &unit.Unit{
			Key:    key,
			Dir:    "/tree/" + key,
			Config: &unit.File{Path: "/tree/" + key + "/unit.hcl"},
		}
		for _, target := range targets {
			u.Dependencies = append(u.Dependencies, unit.Dependency{
				Name:      target,
				TargetKey: target,
			})
		}
		tree.Units[key] = u
	}
	return tree
}

func TestBuild_TopologicalOrder(t *testing.T) {
	tree := makeTree(map[string][]string{
		"vpc":      nil,
		"db":       {"vpc"},
		"cache":    {"vpc"},
		"app":      {"db", "cache"},
		"frontend": {"app"},
	})

	g, err := Build(tree)
	require.NoError(t, err)

	sorted, err := g.TopologicalSort()
	require.NoError(t, err)

	position := make(map[string]int, len(sorted))
	for i, node := range sorted {
		position[node.Key] = i
	}

	assert.Less(t, position["vpc"], position["db"])
	assert.Less(t, position["vpc"], position["cache"])
	assert.Less(t, position["db"], position["app"])
	assert.Less(t, position["cache"], position["app"])
	assert.Less(t, position["app"], position["frontend"])

	// Ties break lexicographically.
	assert.Less(t, position["cache"], position["db"])
}

func TestBuild_Layers(t *testing.T) {
	tree := makeTree(map[string][]string{
		"vpc":   nil,
		"iam":   nil,
		"db":    {"vpc"},
		"cache": {"vpc", "iam"},
		"app":   {"db", "cache"},
	})

	g, err := Build(tree)
	require.NoError(t, err)

	layers, err := g.Layers()
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"iam", "vpc"},
		{"cache", "db"},
		{"app"},
	}, layers)
}

func TestBuild_DeterministicAcrossRuns(t *testing.T) {
	deps := map[string][]string{
		"a": nil,
		"b": nil,
		"c": {"a", "b"},
		"d": {"a"},
		"e": {"c", "d"},
	}

	first, err := Build(makeTree(deps))
	require.NoError(t, err)
	firstSorted, err := first.TopologicalSort()
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		g, err := Build(makeTree(deps))
		require.NoError(t, err)
		sorted, err := g.TopologicalSort()
		require.NoError(t, err)
		require.Len(t, sorted, len(firstSorted))
		for j := range sorted {
			assert.Equal(t, firstSorted[j].Key, sorted[j].Key)
		}
	}
}

func TestBuild_CycleReportsFullPath(t *testing.T) {
	tree := makeTree(map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"a"},
		"d": nil,
	})

	_, err := Build(tree)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeCycle))
	assert.Equal(t, []string{"a", "b", "c", "a"}, errors.CyclePath(err))
}

func TestBuild_SelfCycle(t *testing.T) {
	tree := makeTree(map[string][]string{
		"a": {"a"},
	})

	_, err := Build(tree)
	require.Error(t, err)
	assert.Equal(t, []string{"a", "a"}, errors.CyclePath(err))
}

func TestReverseTopologicalSort(t *testing.T) {
	tree := makeTree(map[string][]string{
		"vpc": nil,
		"db":  {"vpc"},
		"app": {"db"},
	})

	g, err := Build(tree)
	require.NoError(t, err)

	sorted, err := g.ReverseTopologicalSort()
	require.NoError(t, err)

	keys := make([]string, len(sorted))
	for i, node := range sorted {
		keys[i] = node.Key
	}
	assert.Equal(t, []string{"app", "db", "vpc"}, keys)
}

func TestDescendants(t *testing.T) {
	tree := makeTree(map[string][]string{
		"vpc":      nil,
		"db":       {"vpc"},
		"app":      {"db"},
		"frontend": {"app"},
		"other":    nil,
	})

	g, err := Build(tree)
	require.NoError(t, err)

	assert.Equal(t, []string{"app", "db", "frontend"}, g.Descendants("vpc"))
	assert.Empty(t, g.Descendants("frontend"))
	assert.Empty(t, g.Descendants("other"))
}

func TestAncestors(t *testing.T) {
	tree := makeTree(map[string][]string{
		"vpc": nil,
		"db":  {"vpc"},
		"app": {"db"},
	})

	g, err := Build(tree)
	require.NoError(t, err)

	assert.Equal(t, []string{"db", "vpc"}, g.Ancestors("app"))
	assert.Empty(t, g.Ancestors("vpc"))
}
