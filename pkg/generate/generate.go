// Package generate renders a unit's generate blocks into files in the
// unit's working directory immediately before execution.
package generate

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zclconf/go-cty/cty"

	"github.com/davidthor/stackctl/pkg/errors"
	"github.com/davidthor/stackctl/pkg/resolver"
	"github.com/davidthor/stackctl/pkg/schema/unit"
)

// Emit renders every generate block of a resolved unit and writes the
// results under the unit directory. Rendering is deterministic, so emitting
// twice without configuration changes produces byte-identical files; an
// unchanged file is not rewritten. Returns the paths that were written.
func Emit(ru *resolver.ResolvedUnit) ([]string, error) {
	var written []string

	for _, gen := range ru.Unit.Generates {
		contents, err := render(ru, gen)
		if err != nil {
			return written, err
		}

		target, err := targetPath(ru.Dir, gen.Path)
		if err != nil {
			return written, errors.ResolutionError(ru.Key, fmt.Sprintf("generate %q", gen.Label), err)
		}

		existing, readErr := os.ReadFile(target)
		exists := readErr == nil

		if exists {
			switch gen.IfExists {
			case unit.CollisionSkip:
				continue
			case unit.CollisionError:
				return written, errors.New(errors.ErrCodeExecution,
					fmt.Sprintf("generate %q: %s already exists", gen.Label, gen.Path)).WithUnit(ru.Key)
			}
			if bytes.Equal(existing, contents) {
				continue
			}
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return written, errors.New(errors.ErrCodeExecution,
				fmt.Sprintf("generate %q: %v", gen.Label, err)).WithUnit(ru.Key)
		}
		if err := os.WriteFile(target, contents, 0644); err != nil {
			return written, errors.New(errors.ErrCodeExecution,
				fmt.Sprintf("generate %q: %v", gen.Label, err)).WithUnit(ru.Key)
		}
		written = append(written, target)
	}

	return written, nil
}

// render evaluates a generate template against the unit's resolved scope.
func render(ru *resolver.ResolvedUnit, gen unit.Generate) ([]byte, error) {
	val, diags := gen.ContentsExpr.Value(ru.EvalContext)
	if diags.HasErrors() {
		return nil, errors.ResolutionError(ru.Key,
			fmt.Sprintf("generate %q: contents", gen.Label), fmt.Errorf("%s", diags.Error()))
	}
	if val.Type() != cty.String || val.IsNull() || !val.IsKnown() {
		return nil, errors.ResolutionError(ru.Key,
			fmt.Sprintf("generate %q: contents must be a known string", gen.Label), nil)
	}
	return []byte(val.AsString()), nil
}

// targetPath joins a generate path to the unit directory and rejects paths
// that escape it.
func targetPath(dir, genPath string) (string, error) {
	target := filepath.Clean(filepath.Join(dir, filepath.FromSlash(genPath)))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the unit directory", genPath)
	}
	return target, nil
}
