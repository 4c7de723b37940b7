// Package registry maintains the local module cache. Module bundles pulled
// from OCI registries (and bundles built locally) are unpacked under a cache
// root and tracked in a JSON index keyed by reference.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/davidthor/stackctl/pkg/oci"
)

// ModuleSource indicates how a module entered the cache.
type ModuleSource string

const (
	SourceBuilt  ModuleSource = "built"
	SourcePulled ModuleSource = "pulled"
)

// ModuleEntry is one cached module bundle.
type ModuleEntry struct {
	// Reference is the full OCI reference (e.g. ghcr.io/org/vpc:v1.0.0).
	Reference string `json:"reference"`

	// Repository and Tag are the parsed reference parts.
	Repository string `json:"repository"`
	Tag        string `json:"tag"`

	// Source indicates whether the bundle was built locally or pulled.
	Source ModuleSource `json:"source"`

	// CreatedAt is when the entry was added to the cache.
	CreatedAt time.Time `json:"createdAt"`

	// CachePath is the directory holding the unpacked bundle.
	CachePath string `json:"cachePath"`
}

// Cache is the local module cache.
type Cache struct {
	mu     sync.Mutex
	root   string
	client *oci.Client
}

// DefaultRoot returns the conventional cache location.
func DefaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".stackctl", "modules"), nil
}

// New opens the cache at the default location.
func New() (*Cache, error) {
	root, err := DefaultRoot()
	if err != nil {
		return nil, err
	}
	return NewWithRoot(root)
}

// NewWithRoot opens a cache rooted at the given directory.
func NewWithRoot(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &Cache{root: root, client: oci.NewClient()}, nil
}

// Resolve maps a unit source to a local module directory. OCI sources are
// pulled into the cache on first use; later runs reuse the cached bundle.
func (c *Cache) Resolve(ctx context.Context, source string) (string, error) {
	reference := oci.TrimSource(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, err := c.get(reference); err == nil {
		if _, statErr := os.Stat(entry.CachePath); statErr == nil {
			return entry.CachePath, nil
		}
	}

	dest := c.PathFor(reference)
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("failed to create module directory: %w", err)
	}
	if err := c.client.Pull(ctx, reference, dest); err != nil {
		os.RemoveAll(dest)
		return "", err
	}

	if err := c.add(newEntry(reference, SourcePulled, dest)); err != nil {
		return "", err
	}
	return dest, nil
}

// AddBuilt records a locally built bundle in the cache index.
func (c *Cache) AddBuilt(reference, cachePath string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(newEntry(reference, SourceBuilt, cachePath))
}

// Get returns the cache entry for a reference.
func (c *Cache) Get(reference string) (*ModuleEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.get(reference)
}

// List returns all cached modules, most recent first.
func (c *Cache) List() ([]ModuleEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.load()
	if err != nil {
		return nil, err
	}
	sort.Slice(index.Modules, func(i, j int) bool {
		return index.Modules[i].CreatedAt.After(index.Modules[j].CreatedAt)
	})
	return index.Modules, nil
}

// Remove drops an entry from the index and deletes its unpacked bundle.
func (c *Cache) Remove(reference string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, err := c.load()
	if err != nil {
		return err
	}

	kept := index.Modules[:0]
	for _, entry := range index.Modules {
		if entry.Reference != reference {
			kept = append(kept, entry)
			continue
		}
		if entry.CachePath != "" && strings.HasPrefix(entry.CachePath, c.root) {
			os.RemoveAll(entry.CachePath)
		}
	}
	index.Modules = kept
	return c.save(index)
}

// Clear empties the cache index and removes all unpacked bundles.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(filepath.Join(c.root, "cache")); err != nil {
		return fmt.Errorf("failed to remove cache contents: %w", err)
	}
	return c.save(&index{Version: "v1", Modules: []ModuleEntry{}})
}

// PathFor returns the deterministic unpack directory for a reference.
func (c *Cache) PathFor(reference string) string {
	r := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return filepath.Join(c.root, "cache", r.Replace(reference))
}

func newEntry(reference string, source ModuleSource, cachePath string) ModuleEntry {
	entry := ModuleEntry{
		Reference: reference,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		CachePath: cachePath,
	}
	if parsed, err := oci.ParseReference(reference); err == nil {
		entry.Repository = parsed.Repository
		if parsed.Registry != "" {
			entry.Repository = parsed.Registry + "/" + parsed.Repository
		}
		entry.Tag = parsed.Tag
	}
	return entry
}

// index is the JSON document stored at the cache root.
type index struct {
	Version string        `json:"version"`
	Modules []ModuleEntry `json:"modules"`
}

func (c *Cache) indexPath() string {
	return filepath.Join(c.root, "index.json")
}

func (c *Cache) load() (*index, error) {
	data, err := os.ReadFile(c.indexPath())
	if os.IsNotExist(err) {
		return &index{Version: "v1", Modules: []ModuleEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache index: %w", err)
	}

	var idx index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse cache index: %w", err)
	}
	return &idx, nil
}

func (c *Cache) save(idx *index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	// Write-then-rename keeps the index readable by concurrent stackctl runs.
	tmp := c.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	if err := os.Rename(tmp, c.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to update cache index: %w", err)
	}
	return nil
}

func (c *Cache) add(entry ModuleEntry) error {
	idx, err := c.load()
	if err != nil {
		return err
	}

	found := false
	for i, existing := range idx.Modules {
		if existing.Reference == entry.Reference {
			idx.Modules[i] = entry
			found = true
			break
		}
	}
	if !found {
		idx.Modules = append(idx.Modules, entry)
	}
	return c.save(idx)
}

func (c *Cache) get(reference string) (*ModuleEntry, error) {
	idx, err := c.load()
	if err != nil {
		return nil, err
	}
	for i := range idx.Modules {
		if idx.Modules[i].Reference == reference {
			return &idx.Modules[i], nil
		}
	}
	return nil, fmt.Errorf("module %q not found in local cache", reference)
}
