package engine

import (
	"sort"

	"github.com/davidthor/stackctl/pkg/errors"
)

// Plan is the ordered execution plan for one run: the selected units and
// the dependency layers restricted to that selection.
type Plan struct {
	Mode Mode

	// Selection is the set of unit keys the run executes.
	Selection map[string]bool

	// Layers are the graph layers filtered to the selection. For destroy
	// the layer order is reversed so dependents go down before their
	// dependencies.
	Layers [][]string
}

// buildPlan computes the selection and layering for a run. An explicit unit
// filter is closed over what correctness requires: upstream dependencies
// for plan and apply, downstream dependents for destroy.
func (e *Engine) buildPlan(mode Mode) (*Plan, error) {
	selection := make(map[string]bool)

	if len(e.options.Units) == 0 {
		for key := range e.tree.Units {
			selection[key] = true
		}
	} else {
		for _, key := range e.options.Units {
			if _, ok := e.tree.Units[key]; !ok {
				return nil, errors.NotFoundError("unit", key)
			}
			selection[key] = true

			var closure []string
			if mode == ModeDestroy {
				closure = e.graph.Descendants(key)
			} else {
				closure = e.graph.Ancestors(key)
			}
			for _, k := range closure {
				selection[k] = true
			}
		}
	}

	layers, err := e.graph.Layers()
	if err != nil {
		return nil, err
	}

	var filtered [][]string
	for _, layer := range layers {
		var keep []string
		for _, key := range layer {
			if selection[key] {
				keep = append(keep, key)
			}
		}
		if len(keep) > 0 {
			sort.Strings(keep)
			filtered = append(filtered, keep)
		}
	}

	if mode == ModeDestroy {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	return &Plan{
		Mode:      mode,
		Selection: selection,
		Layers:    filtered,
	}, nil
}
