// Package backend defines the storage interface for stackctl state and the
// registry of backend implementations.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned when a state path does not exist.
var ErrNotFound = errors.New("state not found")

// ErrLocked is returned when a state path is already locked.
var ErrLocked = errors.New("state is locked")

// Backend is the storage interface all state backends implement. Paths are
// slash-separated and relative to the backend's configured root.
type Backend interface {
	// Type returns the backend type name (e.g. "local", "s3").
	Type() string

	// Read returns a reader for the data at path, or ErrNotFound.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Write stores data at path, replacing any existing content.
	Write(ctx context.Context, path string, data io.Reader) error

	// Delete removes the data at path. Deleting a missing path is a no-op.
	Delete(ctx context.Context, path string) error

	// List returns all paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether data exists at path.
	Exists(ctx context.Context, path string) (bool, error)

	// Lock acquires an advisory lock on path. A held, non-stale lock makes
	// this fail with a *LockError wrapping ErrLocked.
	Lock(ctx context.Context, path string, info LockInfo) (Lock, error)
}

// Lock is a held advisory lock.
type Lock interface {
	// ID is the unique lock identifier.
	ID() string

	// Unlock releases the lock.
	Unlock(ctx context.Context) error

	// Info returns the lock metadata.
	Info() LockInfo
}

// LockInfo describes a held or requested lock.
type LockInfo struct {
	// ID uniquely identifies the lock. Assigned by the backend.
	ID string `json:"id"`

	// Path is the locked state path.
	Path string `json:"path"`

	// Operation is what the holder is doing (e.g. "apply", "destroy").
	Operation string `json:"operation,omitempty"`

	// Who identifies the lock holder (e.g. user@host).
	Who string `json:"who,omitempty"`

	// Created is when the lock was acquired. See StaleLockAge.
	Created time.Time `json:"created"`
}

// StaleLockAge is how old a lock may grow before another holder may break
// it. Object stores have no cross-provider compare-and-swap, so stale-lock
// takeover is how a crashed run's lock gets cleared.
const StaleLockAge = time.Hour

// Stale reports whether the lock is old enough to break.
func (i LockInfo) Stale() bool {
	return !i.Created.IsZero() && time.Since(i.Created) > StaleLockAge
}

// LockError reports a failed lock acquisition with the competing holder.
type LockError struct {
	Info LockInfo
	Err  error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("state is locked by %s", e.Info.ID)
	if e.Info.Who != "" {
		msg += fmt.Sprintf(" (held by %s", e.Info.Who)
		if e.Info.Operation != "" {
			msg += fmt.Sprintf(" during %s", e.Info.Operation)
		}
		msg += ")"
	}
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Err
}

// Factory constructs a backend from its string configuration.
type Factory func(config map[string]string) (Backend, error)

// Config selects and configures a backend.
type Config struct {
	// Type is the registered backend type name. Defaults to "local".
	Type string

	// Settings holds backend-specific configuration.
	Settings map[string]string
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a backend factory available under the given type name.
// Backends call this from init(), so importing a backend package for side
// effects is enough to enable it.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("state backend %q registered twice", name))
	}
	registry[name] = factory
}

// Create constructs a backend from configuration.
func Create(cfg Config) (Backend, error) {
	name := cfg.Type
	if name == "" {
		name = "local"
	}

	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown state backend %q (registered: %v)", name, Registered())
	}

	return factory(cfg.Settings)
}

// Registered returns the registered backend type names in sorted order.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
