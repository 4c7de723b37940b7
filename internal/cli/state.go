package cli

import (
	"os"
	"strings"

	"github.com/davidthor/stackctl/pkg/state"
	"github.com/davidthor/stackctl/pkg/state/backend"
)

const (
	// EnvStateBackend selects the state backend type.
	EnvStateBackend = "STACKCTL_STATE_BACKEND"

	// EnvStatePrefix is the prefix for backend-specific settings, e.g.
	// STACKCTL_STATE_PATH or STACKCTL_STATE_BUCKET.
	EnvStatePrefix = "STACKCTL_STATE_"
)

// createStateManager builds a state manager from CLI flags and environment
// variables.
//
// Precedence (highest to lowest):
//  1. --backend / --backend-config flags
//  2. STACKCTL_STATE_* environment variables
//  3. local backend with default settings
func createStateManager(backendType string, backendConfig []string) (state.Manager, error) {
	effectiveBackend := "local"
	effectiveConfig := make(map[string]string)

	if envBackend := os.Getenv(EnvStateBackend); envBackend != "" {
		effectiveBackend = envBackend
	}

	// Backend-specific env vars: STACKCTL_STATE_PATH becomes "path",
	// STACKCTL_STATE_BUCKET becomes "bucket", and so on.
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, EnvStatePrefix) && !strings.HasPrefix(env, EnvStateBackend) {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				key := strings.ToLower(strings.TrimPrefix(parts[0], EnvStatePrefix))
				effectiveConfig[key] = parts[1]
			}
		}
	}

	if backendType != "" {
		effectiveBackend = backendType
	}

	for _, c := range backendConfig {
		parts := strings.SplitN(c, "=", 2)
		if len(parts) == 2 {
			effectiveConfig[parts[0]] = parts[1]
		}
	}

	return state.NewManagerFromConfig(backend.Config{
		Type:     effectiveBackend,
		Settings: effectiveConfig,
	})
}
