// Package unit provides discovery and parsing of stackctl unit configurations.
package unit

import (
	"sort"
	"time"

	"github.com/hashicorp/hcl/v2"
)

// UnitFileName is the marker file that makes a directory a unit.
const UnitFileName = "unit.hcl"

// CollisionPolicy controls what the artifact emitter does when a generated
// file already exists in a unit's working directory.
type CollisionPolicy string

const (
	CollisionOverwrite CollisionPolicy = "overwrite"
	CollisionSkip      CollisionPolicy = "skip"
	CollisionError     CollisionPolicy = "error"
)

// File is one parsed configuration file in an include chain: either a
// unit.hcl or a parent configuration referenced by an include block.
// Expressions are kept unevaluated; the resolver owns evaluation order.
type File struct {
	// Path is the absolute path of the file.
	Path string

	// Dir is the directory containing the file.
	Dir string

	// Includes are the file's ordered include references, resolved to their
	// parsed targets during load.
	Includes []Include

	// Locals maps local value names to their unevaluated expressions.
	Locals map[string]hcl.Expression

	// InputsExpr is the file's inputs object expression, nil when absent.
	InputsExpr hcl.Expression
}

// Include is an ordered edge from a configuration file to a parent
// configuration. Later includes override earlier ones during merge.
type Include struct {
	// Label is the include block's label, used to expose the parent's
	// locals as include.<label>.locals in child expressions.
	Label string

	// Path is the resolved absolute path of the included file.
	Path string

	// Target is the parsed included file, assembled by the loader.
	Target *File

	// DeclRange locates the include block for diagnostics.
	DeclRange hcl.Range
}

// Dependency is an edge from a unit to another unit's output namespace.
type Dependency struct {
	// Name is the dependency block label, referenced as
	// dependency.<name>.outputs in input expressions.
	Name string

	// ConfigPath is the target unit directory as written (relative to the
	// declaring unit's directory).
	ConfigPath string

	// TargetKey is the canonical key of the target unit, filled by the loader.
	TargetKey string

	// MockOutputsExpr is the caller-supplied mock output map, nil when the
	// dependency declares none. Evaluated lazily by the resolver.
	MockOutputsExpr hcl.Expression

	// SkipOutputs marks a sequencing-only edge: it orders execution but the
	// dependent never reads the upstream unit's outputs.
	SkipOutputs bool

	// DeclRange locates the dependency block for diagnostics.
	DeclRange hcl.Range
}

// Generate is a template for a computed, unit-local file that is rendered
// against the resolved unit immediately before execution.
type Generate struct {
	// Label identifies the generate block.
	Label string

	// Path is the output file path, relative to the unit directory.
	Path string

	// IfExists is the collision policy for an existing file.
	IfExists CollisionPolicy

	// ContentsExpr is the template expression producing the file contents.
	ContentsExpr hcl.Expression
}

// Unit is one deployable configuration node discovered in the tree.
type Unit struct {
	// Key is the canonical slash-separated path of the unit directory
	// relative to the tree root (e.g. "dev/us-east1/networking/vpc").
	Key string

	// Dir is the absolute path of the unit directory.
	Dir string

	// Config is the unit's own configuration file with its assembled
	// include chain.
	Config *File

	// SourceExpr is the module source handed to the provisioning engine.
	// Kept as an expression since it commonly references locals.
	SourceExpr hcl.Expression

	// Skip excludes the unit from execution while leaving it discoverable.
	Skip bool

	// Timeout is the per-unit execution deadline, zero for none.
	Timeout time.Duration

	// Dependencies are the unit's declared cross-unit edges.
	Dependencies []Dependency

	// Generates are the unit's generated-artifact templates.
	Generates []Generate
}

// Tree is the result of discovering a configuration tree.
type Tree struct {
	// Root is the absolute path of the tree root.
	Root string

	// Units maps canonical unit keys to discovered units.
	Units map[string]*Unit
}

// Keys returns the unit keys in lexicographic order.
func (t *Tree) Keys() []string {
	keys := make([]string, 0, len(t.Units))
	for k := range t.Units {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
