package secrets

import (
	"context"
	"os"
	"strings"
	"sync"
)

// DefaultEnvPrefix is the environment variable prefix the env provider
// searches before falling back to the raw key name.
const DefaultEnvPrefix = "STACKCTL_SECRET_"

// EnvProvider reads secrets from environment variables. The key
// "db-password" maps to STACKCTL_SECRET_DB_PASSWORD; keys that look like
// environment variable names are also tried verbatim.
type EnvProvider struct {
	prefix string
}

// NewEnvProvider creates an env provider with the default prefix.
func NewEnvProvider() *EnvProvider {
	return NewEnvProviderWithPrefix(DefaultEnvPrefix)
}

// NewEnvProviderWithPrefix creates an env provider with a custom prefix.
func NewEnvProviderWithPrefix(prefix string) *EnvProvider {
	return &EnvProvider{prefix: prefix}
}

func (p *EnvProvider) Name() string { return "env" }

// envName converts a secret key to its prefixed environment variable name.
func (p *EnvProvider) envName(key string) string {
	upper := strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
	return p.prefix + upper
}

// keyName converts a prefixed environment variable name back to a key.
func (p *EnvProvider) keyName(envVar string) string {
	name := strings.TrimPrefix(envVar, p.prefix)
	return strings.ToLower(strings.ReplaceAll(name, "_", "-"))
}

func (p *EnvProvider) Get(ctx context.Context, key string) (string, error) {
	if value, ok := os.LookupEnv(p.envName(key)); ok {
		return value, nil
	}
	if value, ok := os.LookupEnv(key); ok {
		return value, nil
	}
	return "", ErrSecretNotFound
}

func (p *EnvProvider) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	results := make(map[string]string)
	for _, key := range keys {
		if value, err := p.Get(ctx, key); err == nil {
			results[key] = value
		}
	}
	return results, nil
}

func (p *EnvProvider) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	for _, env := range os.Environ() {
		name, _, _ := strings.Cut(env, "=")
		if !strings.HasPrefix(name, p.prefix) {
			continue
		}
		key := p.keyName(name)
		if prefix == "" || strings.HasPrefix(key, strings.ToLower(prefix)) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (p *EnvProvider) Set(ctx context.Context, key, value string) error {
	return os.Setenv(p.envName(key), value)
}

func (p *EnvProvider) Delete(ctx context.Context, key string) error {
	return os.Unsetenv(p.envName(key))
}

// FileProvider serves secrets from an in-memory map, typically loaded from
// a local secrets file.
type FileProvider struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// NewFileProvider creates a file provider over the given values.
func NewFileProvider(secrets map[string]string) *FileProvider {
	if secrets == nil {
		secrets = make(map[string]string)
	}
	return &FileProvider{secrets: secrets}
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if value, ok := p.secrets[key]; ok {
		return value, nil
	}
	return "", ErrSecretNotFound
}

func (p *FileProvider) GetBatch(ctx context.Context, keys []string) (map[string]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	results := make(map[string]string)
	for _, key := range keys {
		if value, ok := p.secrets[key]; ok {
			results[key] = value
		}
	}
	return results, nil
}

func (p *FileProvider) List(ctx context.Context, prefix string) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var keys []string
	for key := range p.secrets {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.secrets[key] = value
	return nil
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.secrets, key)
	return nil
}
