// Package graph provides dependency graph construction and traversal for
// stackctl units.
package graph

import (
	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// Node represents a unit in the dependency graph.
type Node struct {
	// Key is the canonical unit key, unique within the graph.
	Key string

	// Unit is the discovered unit this node represents.
	Unit *unit.Unit

	// DependsOn holds keys of nodes this node depends on.
	DependsOn []string

	// DependedOnBy holds keys of nodes that depend on this node.
	DependedOnBy []string
}

// NewNode creates a graph node for a unit.
func NewNode(u *unit.Unit) *Node {
	return &Node{
		Key:          u.Key,
		Unit:         u,
		DependsOn:    []string{},
		DependedOnBy: []string{},
	}
}

// AddDependency records a dependency edge on this node.
func (n *Node) AddDependency(key string) {
	for _, dep := range n.DependsOn {
		if dep == key {
			return
		}
	}
	n.DependsOn = append(n.DependsOn, key)
}

// AddDependent records a dependent edge on this node.
func (n *Node) AddDependent(key string) {
	for _, dep := range n.DependedOnBy {
		if dep == key {
			return
		}
	}
	n.DependedOnBy = append(n.DependedOnBy, key)
}
