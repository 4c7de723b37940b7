// Package envfile loads dotenv-style files into the environment handed to
// the provisioning engine. Files are layered: .env, .env.local, .env.<tier>,
// .env.<tier>.local, with later files overriding earlier ones.
package envfile

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
)

// Load reads the env file chain from dir for the given tier. Missing files
// are skipped; a tree without env files yields an empty map.
func Load(dir, tier string) (map[string]string, error) {
	vars := make(map[string]string)

	chain := []string{".env", ".env.local"}
	if tier != "" {
		chain = append(chain, ".env."+tier, ".env."+tier+".local")
	}

	for _, name := range chain {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		if err := parseEnvFile(content, vars); err != nil {
			return nil, err
		}
	}

	return vars, nil
}

// parseEnvFile parses KEY=value lines into vars, overriding existing keys.
// Blank lines and #-comments are skipped, an optional "export " prefix is
// stripped, and single or double quotes around the value are removed.
func parseEnvFile(content []byte, vars map[string]string) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}

		value = strings.TrimSpace(value)
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		vars[key] = value
	}
	return scanner.Err()
}
