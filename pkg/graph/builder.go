package graph

import (
	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// Build constructs the dependency graph for a configuration tree. Every
// declared dependency contributes an ordering edge; skip_outputs edges order
// execution the same way, they only skip output resolution.
func Build(tree *unit.Tree) (*Graph, error) {
	g := NewGraph()

	for _, key := range tree.Keys() {
		if err := g.AddNode(NewNode(tree.Units[key])); err != nil {
			return nil, errors.LoadError(tree.Units[key].Config.Path, err)
		}
	}

	for _, key := range tree.Keys() {
		u := tree.Units[key]
		for _, dep := range u.Dependencies {
			if err := g.AddEdge(u.Key, dep.TargetKey); err != nil {
				return nil, errors.LoadError(u.Config.Path, err).WithUnit(u.Key)
			}
		}
	}

	// Surface cycles at build time rather than on first traversal.
	if _, err := g.Layers(); err != nil {
		return nil, err
	}

	return g, nil
}
