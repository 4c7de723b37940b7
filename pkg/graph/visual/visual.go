// Package visual renders dependency graphs as Mermaid flowcharts or
// Graphviz DOT for the graph command and generated run reports.
package visual

import (
	"fmt"
	"strings"

	"github.com/davidthor/stackctl/pkg/graph"
)

// MermaidOptions controls how a graph is rendered to a Mermaid flowchart.
type MermaidOptions struct {
	// Direction is the flowchart direction: "TD" (top-down) or "LR"
	// (left-right). Defaults to "TD" if empty.
	Direction string

	// Title is an optional diagram title.
	Title string
}

// RenderMermaid generates a Mermaid flowchart from a dependency graph. The
// output can be embedded in Markdown or pasted into any Mermaid renderer.
func RenderMermaid(g *graph.Graph, opts MermaidOptions) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var b strings.Builder
	if opts.Title != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", opts.Title)
	}
	fmt.Fprintf(&b, "flowchart %s\n", direction)

	for _, node := range sorted {
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", sanitizeID(node.Key), node.Key)
	}
	b.WriteString("\n")

	for _, node := range sorted {
		for _, dep := range node.DependsOn {
			fmt.Fprintf(&b, "    %s --> %s\n", sanitizeID(dep), sanitizeID(node.Key))
		}
	}

	return b.String(), nil
}

// RenderDOT generates a Graphviz DOT digraph from a dependency graph. Edges
// point from a dependency to its dependents, the direction work flows in.
func RenderDOT(g *graph.Graph) (string, error) {
	if g == nil {
		return "", fmt.Errorf("graph is nil")
	}

	sorted, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("failed to sort graph: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph units {\n")
	b.WriteString("    rankdir = \"TB\";\n")

	for _, node := range sorted {
		fmt.Fprintf(&b, "    %q;\n", node.Key)
	}

	for _, node := range sorted {
		for _, dep := range node.DependsOn {
			fmt.Fprintf(&b, "    %q -> %q;\n", dep, node.Key)
		}
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// sanitizeID makes a unit key safe for use as a Mermaid node identifier.
func sanitizeID(key string) string {
	replacer := strings.NewReplacer("/", "_", "-", "_", ".", "_", " ", "_")
	return replacer.Replace(key)
}
