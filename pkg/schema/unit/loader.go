package unit

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/davidthor/stackctl/pkg/errors"
)

// Loader discovers units in a filesystem tree and assembles each unit's
// include chain. No expression evaluation or merging happens here.
type Loader struct {
	parser *Parser

	// files memoizes assembled include-chain files by absolute path, since
	// the same parent configuration is typically included by many units.
	files map[string]*File
}

// NewLoader creates a new tree loader.
func NewLoader() *Loader {
	return &Loader{
		parser: NewParser(),
		files:  make(map[string]*File),
	}
}

// LoadTree walks the tree rooted at root, parses every unit definition file,
// and resolves each unit's include chain and dependency targets.
func (l *Loader) LoadTree(root string) (*Tree, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.LoadError(root, err)
	}

	tree := &Tree{
		Root:  absRoot,
		Units: make(map[string]*Unit),
	}

	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Skip hidden directories and provisioning engine caches.
			name := d.Name()
			if path != absRoot && (strings.HasPrefix(name, ".") || name == ".terraform") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Name() != UnitFileName {
			return nil
		}

		u, raw, parseErr := l.parser.ParseUnitFile(path)
		if parseErr != nil {
			return parseErr
		}

		if assembleErr := l.assemble(raw, absRoot, []string{path}); assembleErr != nil {
			return assembleErr
		}

		key, keyErr := unitKey(absRoot, u.Dir)
		if keyErr != nil {
			return errors.LoadError(path, keyErr)
		}
		u.Key = key
		tree.Units[key] = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := l.resolveDependencyTargets(tree); err != nil {
		return nil, err
	}

	return tree, nil
}

// assemble resolves a file's include references, loading and assembling each
// target recursively. The visiting chain carries the absolute file paths on
// the current include path for cycle detection.
func (l *Loader) assemble(raw *rawFile, root string, visiting []string) error {
	seen := make(map[string]bool, len(raw.Includes))

	for i := range raw.Includes {
		inc := &raw.Includes[i]

		if seen[inc.Label] {
			return errors.LoadError(raw.File.Path, fmt.Errorf("duplicate include label %q", inc.Label))
		}
		seen[inc.Label] = true

		targetPath, err := l.resolveIncludeTarget(raw.File, inc, root)
		if err != nil {
			return err
		}

		for j, p := range visiting {
			if p == targetPath {
				cycle := append(append([]string{}, visiting[j:]...), targetPath)
				return errors.CycleError("include", cycle)
			}
		}

		target, err := l.loadFile(targetPath, root, append(visiting, targetPath))
		if err != nil {
			return err
		}

		raw.File.Includes = append(raw.File.Includes, Include{
			Label:     inc.Label,
			Path:      targetPath,
			Target:    target,
			DeclRange: inc.DeclRange,
		})
	}

	return nil
}

// loadFile parses and assembles an include target, memoized by absolute path.
func (l *Loader) loadFile(path, root string, visiting []string) (*File, error) {
	if f, ok := l.files[path]; ok {
		return f, nil
	}

	raw, err := l.parser.ParseFile(path)
	if err != nil {
		return nil, err
	}

	if err := l.assemble(raw, root, visiting); err != nil {
		return nil, err
	}

	l.files[path] = raw.File
	return raw.File, nil
}

// resolveIncludeTarget turns an include reference into an absolute file path.
// Explicit paths are resolved relative to the declaring file; named includes
// search ancestor directories (nearest first) up to the tree root.
func (l *Loader) resolveIncludeTarget(from *File, inc *rawInclude, root string) (string, error) {
	if inc.Path != "" {
		target := inc.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(from.Dir, target)
		}
		target = filepath.Clean(target)
		if _, err := os.Stat(target); err != nil {
			return "", errors.LoadError(from.Path, fmt.Errorf("include %q: %s does not exist", inc.Label, target))
		}
		return target, nil
	}

	// Start at the parent directory so a file never includes itself.
	dir := filepath.Dir(from.Dir)
	for {
		candidate := filepath.Join(dir, inc.Name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		if dir == root || dir == filepath.Dir(dir) {
			break
		}
		dir = filepath.Dir(dir)
	}

	return "", errors.LoadError(from.Path, fmt.Errorf("include %q: no ancestor of %s contains %s", inc.Label, from.Dir, inc.Name))
}

// resolveDependencyTargets maps every dependency's config_path to the
// canonical key of a discovered unit.
func (l *Loader) resolveDependencyTargets(tree *Tree) error {
	for _, u := range tree.Units {
		for i := range u.Dependencies {
			dep := &u.Dependencies[i]

			targetDir := dep.ConfigPath
			if !filepath.IsAbs(targetDir) {
				targetDir = filepath.Join(u.Dir, targetDir)
			}
			targetDir = filepath.Clean(targetDir)

			key, err := unitKey(tree.Root, targetDir)
			if err != nil {
				return errors.LoadError(u.Config.Path, fmt.Errorf("dependency %q: %w", dep.Name, err))
			}

			if _, ok := tree.Units[key]; !ok {
				return errors.LoadError(u.Config.Path,
					fmt.Errorf("dependency %q: no unit found at %s", dep.Name, dep.ConfigPath)).WithUnit(u.Key)
			}
			dep.TargetKey = key
		}
	}
	return nil
}

// unitKey computes the canonical key for a unit directory: its
// slash-separated path relative to the tree root.
func unitKey(root, dir string) (string, error) {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside the tree rooted at %s", dir, root)
	}
	return filepath.ToSlash(rel), nil
}

func dirOf(path string) string {
	return filepath.Dir(path)
}
