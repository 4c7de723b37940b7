package graph

import (
	"fmt"
	"sort"

	"github.com/davidthor/stackctl/pkg/errors"
)

// Graph is a directed acyclic graph over unit keys. Edges point from a
// dependent unit to the units it depends on.
type Graph struct {
	Nodes map[string]*Node
}

// NewGraph creates a new empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes: make(map[string]*Node),
	}
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node *Node) error {
	if _, exists := g.Nodes[node.Key]; exists {
		return fmt.Errorf("node %s already exists", node.Key)
	}
	g.Nodes[node.Key] = node
	return nil
}

// GetNode returns a node by key, or nil.
func (g *Graph) GetNode(key string) *Node {
	return g.Nodes[key]
}

// Keys returns all node keys in lexicographic order.
func (g *Graph) Keys() []string {
	keys := make([]string, 0, len(g.Nodes))
	for k := range g.Nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// AddEdge adds a dependency edge from dependent to dependency.
func (g *Graph) AddEdge(dependentKey, dependencyKey string) error {
	dependent := g.GetNode(dependentKey)
	if dependent == nil {
		return fmt.Errorf("dependent node %s not found", dependentKey)
	}

	dependency := g.GetNode(dependencyKey)
	if dependency == nil {
		return fmt.Errorf("dependency node %s not found", dependencyKey)
	}

	dependent.AddDependency(dependencyKey)
	dependency.AddDependent(dependentKey)

	return nil
}

// TopologicalSort returns nodes in topological order (dependencies first).
// Ties break lexicographically by key, so the order is stable across runs.
func (g *Graph) TopologicalSort() ([]*Node, error) {
	layers, err := g.Layers()
	if err != nil {
		return nil, err
	}

	var result []*Node
	for _, layer := range layers {
		for _, key := range layer {
			result = append(result, g.Nodes[key])
		}
	}
	return result, nil
}

// ReverseTopologicalSort returns nodes in reverse order (dependents first),
// the order destroy operations run in.
func (g *Graph) ReverseTopologicalSort() ([]*Node, error) {
	sorted, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(sorted)-1; i < j; i, j = i+1, j-1 {
		sorted[i], sorted[j] = sorted[j], sorted[i]
	}

	return sorted, nil
}

// Layers returns unit keys grouped into execution layers: layer N contains
// units whose dependencies all sit in layers < N. Keys within a layer are
// sorted lexicographically. Units in the same layer may run concurrently.
func (g *Graph) Layers() ([][]string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for key, node := range g.Nodes {
		inDegree[key] = len(node.DependsOn)
	}

	var current []string
	for key, degree := range inDegree {
		if degree == 0 {
			current = append(current, key)
		}
	}
	sort.Strings(current)

	var layers [][]string
	processed := 0
	for len(current) > 0 {
		layers = append(layers, current)
		processed += len(current)

		var next []string
		for _, key := range current {
			for _, dependent := range g.Nodes[key].DependedOnBy {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	if processed != len(g.Nodes) {
		cycle := g.findCycle()
		return nil, errors.CycleError("dependency", cycle)
	}

	return layers, nil
}

// findCycle locates one dependency cycle and returns its full path, first
// node repeated at the end (e.g. [A B C A]). The cycle is rotated to start
// at its lexicographically smallest member so reporting is deterministic.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(g.Nodes))

	var cycle []string
	var visit func(key string, stack []string) bool
	visit = func(key string, stack []string) bool {
		switch state[key] {
		case done:
			return false
		case visiting:
			start := 0
			for i, k := range stack {
				if k == key {
					start = i
					break
				}
			}
			cycle = append(append([]string{}, stack[start:]...), key)
			return true
		}
		state[key] = visiting
		next := append(append([]string{}, stack...), key)

		deps := append([]string{}, g.Nodes[key].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			if visit(dep, next) {
				return true
			}
		}
		state[key] = done
		return false
	}

	for _, key := range g.Keys() {
		if visit(key, nil) {
			break
		}
	}

	return rotateCycle(cycle)
}

// rotateCycle rotates a cycle path [x.. y.. x] so it starts and ends at its
// lexicographically smallest member.
func rotateCycle(cycle []string) []string {
	if len(cycle) < 2 {
		return cycle
	}

	members := cycle[:len(cycle)-1]
	smallest := 0
	for i, key := range members {
		if key < members[smallest] {
			smallest = i
		}
	}

	rotated := make([]string, 0, len(cycle))
	for i := 0; i < len(members); i++ {
		rotated = append(rotated, members[(smallest+i)%len(members)])
	}
	return append(rotated, members[smallest])
}

// Descendants returns the keys of every node reachable by following
// dependent edges from the given keys, excluding the keys themselves.
// These are the units that cannot run once an upstream unit fails.
func (g *Graph) Descendants(keys ...string) []string {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		seen[key] = true
	}

	var result []string
	queue := append([]string{}, keys...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		node := g.GetNode(key)
		if node == nil {
			continue
		}
		for _, dependent := range node.DependedOnBy {
			if !seen[dependent] {
				seen[dependent] = true
				result = append(result, dependent)
				queue = append(queue, dependent)
			}
		}
	}

	sort.Strings(result)
	return result
}

// Ancestors returns the keys of every node reachable by following
// dependency edges from the given keys, excluding the keys themselves.
func (g *Graph) Ancestors(keys ...string) []string {
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		seen[key] = true
	}

	var result []string
	queue := append([]string{}, keys...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		node := g.GetNode(key)
		if node == nil {
			continue
		}
		for _, dep := range node.DependsOn {
			if !seen[dep] {
				seen[dep] = true
				result = append(result, dep)
				queue = append(queue, dep)
			}
		}
	}

	sort.Strings(result)
	return result
}
