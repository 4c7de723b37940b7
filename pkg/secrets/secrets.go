// Package secrets resolves ${secret:...} references in unit inputs through
// a prioritized chain of secret providers.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrSecretNotFound is returned when no provider holds the requested secret.
var ErrSecretNotFound = errors.New("secret not found")

// Provider supplies secret values from one source.
type Provider interface {
	// Name returns the provider identifier (e.g. "env", "file").
	Name() string

	// Get returns the secret value, or ErrSecretNotFound.
	Get(ctx context.Context, key string) (string, error)

	// GetBatch returns the subset of keys the provider holds.
	GetBatch(ctx context.Context, keys []string) (map[string]string, error)

	// List returns the keys matching the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Set stores a secret value.
	Set(ctx context.Context, key, value string) error

	// Delete removes a secret.
	Delete(ctx context.Context, key string) error
}

// Manager resolves secrets through registered providers in priority order.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	priority  []string
	cache     *secretCache
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		priority:  []string{},
		cache:     newSecretCache(),
	}
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// DefaultManager returns the process-wide manager with the env provider
// registered.
func DefaultManager() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager()
		defaultManager.RegisterProvider(NewEnvProvider())
	})
	return defaultManager
}

// RegisterProvider adds a provider at the end of the priority order.
func (m *Manager) RegisterProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
	m.priority = append(m.priority, p.Name())
}

// SetPriority replaces the provider lookup order.
func (m *Manager) SetPriority(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priority = append([]string{}, names...)
}

// Get resolves a secret through the providers in priority order, caching
// the result.
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	if value, ok := m.cache.get(key); ok {
		return value, nil
	}

	m.mu.RLock()
	order := append([]string{}, m.priority...)
	m.mu.RUnlock()

	for _, name := range order {
		m.mu.RLock()
		p, ok := m.providers[name]
		m.mu.RUnlock()
		if !ok {
			continue
		}

		value, err := p.Get(ctx, key)
		if err == nil {
			m.cache.set(key, value)
			return value, nil
		}
		if !errors.Is(err, ErrSecretNotFound) {
			return "", fmt.Errorf("provider %s: %w", name, err)
		}
	}

	return "", fmt.Errorf("secret %q: %w", key, ErrSecretNotFound)
}

// GetFromProvider resolves a secret through one named provider.
func (m *Manager) GetFromProvider(ctx context.Context, provider, key string) (string, error) {
	m.mu.RLock()
	p, ok := m.providers[provider]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown secret provider %q", provider)
	}
	return p.Get(ctx, key)
}

// GetBatch resolves the subset of keys that exist; missing keys are omitted.
func (m *Manager) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	results := make(map[string]string)
	for _, key := range keys {
		value, err := m.Get(ctx, key)
		if err != nil {
			if errors.Is(err, ErrSecretNotFound) {
				continue
			}
			return nil, err
		}
		results[key] = value
	}
	return results, nil
}

// ClearCache drops all cached secret values.
func (m *Manager) ClearCache() {
	m.cache.clear()
}

// ResolveSecrets walks a value tree and substitutes ${secret:key} and
// ${secret:provider:key} references, including inline occurrences within
// larger strings.
func (m *Manager) ResolveSecrets(ctx context.Context, data map[string]interface{}) (map[string]interface{}, error) {
	resolved, err := m.resolveValue(ctx, data)
	if err != nil {
		return nil, err
	}
	return resolved.(map[string]interface{}), nil
}

func (m *Manager) resolveValue(ctx context.Context, value interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return m.resolveString(ctx, v)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			resolved, err := m.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := m.resolveValue(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}

const secretRefPrefix = "${secret:"

func (m *Manager) resolveString(ctx context.Context, s string) (string, error) {
	var sb strings.Builder
	for {
		start := strings.Index(s, secretRefPrefix)
		if start < 0 {
			sb.WriteString(s)
			return sb.String(), nil
		}

		end := strings.Index(s[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unclosed secret reference in %q", s)
		}
		end += start

		ref := s[start+len(secretRefPrefix) : end]

		var value string
		var err error
		if provider, key, ok := strings.Cut(ref, ":"); ok {
			value, err = m.GetFromProvider(ctx, provider, key)
		} else {
			value, err = m.Get(ctx, ref)
		}
		if err != nil {
			return "", err
		}

		sb.WriteString(s[:start])
		sb.WriteString(value)
		s = s[end+1:]
	}
}

// secretCache is a concurrency-safe value cache.
type secretCache struct {
	mu     sync.RWMutex
	values map[string]string
}

func newSecretCache() *secretCache {
	return &secretCache{values: make(map[string]string)}
}

func (c *secretCache) get(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.values[key]
	return value, ok
}

func (c *secretCache) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

func (c *secretCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]string)
}
