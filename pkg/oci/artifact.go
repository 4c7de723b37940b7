// Package oci packages provisioner modules as OCI artifacts so unit sources
// can reference versioned bundles in any OCI registry.
package oci

import (
	"strings"
)

// SourcePrefix marks a unit source as an OCI reference.
const SourcePrefix = "oci://"

// Media types for stackctl module bundles.
const (
	MediaTypeModuleConfig = "application/vnd.stackctl.module.config.v1+json"
	MediaTypeModuleLayer  = "application/vnd.stackctl.module.layer.v1.tar+gzip"
)

// IsOCISource reports whether a unit source references an OCI artifact.
func IsOCISource(source string) bool {
	return strings.HasPrefix(source, SourcePrefix)
}

// TrimSource strips the oci:// prefix from a unit source.
func TrimSource(source string) string {
	return strings.TrimPrefix(source, SourcePrefix)
}

// Artifact represents a module bundle pushed to or pulled from a registry.
type Artifact struct {
	// Reference is the OCI reference (repo:tag).
	Reference string

	// Config is the marshaled ModuleConfig.
	Config []byte

	// Layers holds the bundle content, one tar.gz layer per artifact.
	Layers []Layer
}

// Layer is a single content layer in a module artifact.
type Layer struct {
	MediaType string
	Size      int64
	Data      []byte
}

// ModuleConfig is the configuration document stored alongside a module bundle.
type ModuleConfig struct {
	SchemaVersion string `json:"schemaVersion"`
	Name          string `json:"name"`
	Provisioner   string `json:"provisioner,omitempty"`
	BuildTime     string `json:"buildTime,omitempty"`
}

// Reference is a parsed OCI reference.
type Reference struct {
	Registry   string // e.g. "ghcr.io"
	Repository string // e.g. "myorg/modules/vpc"
	Tag        string // e.g. "v1.0.0"
	Digest     string // e.g. "sha256:abc123..."
}

// ParseReference splits an OCI reference into its parts. References without
// a tag or digest default to "latest".
func ParseReference(ref string) (*Reference, error) {
	result := &Reference{}

	if rest, digest, ok := strings.Cut(ref, "@"); ok {
		result.Digest = digest
		ref = rest
	}

	if idx := strings.LastIndex(ref, ":"); idx != -1 {
		// A colon followed by a slash is a registry port, not a tag.
		if !strings.Contains(ref[idx+1:], "/") {
			result.Tag = ref[idx+1:]
			ref = ref[:idx]
		}
	}
	if result.Tag == "" && result.Digest == "" {
		result.Tag = "latest"
	}

	host, repo, ok := strings.Cut(ref, "/")
	if ok && (strings.Contains(host, ".") || strings.Contains(host, ":") || host == "localhost") {
		result.Registry = host
		result.Repository = repo
	} else {
		result.Repository = ref
	}

	return result, nil
}

// String returns the full reference string.
func (r *Reference) String() string {
	result := r.Repository
	if r.Registry != "" {
		result = r.Registry + "/" + result
	}
	if r.Tag != "" {
		result += ":" + r.Tag
	}
	if r.Digest != "" {
		result += "@" + r.Digest
	}
	return result
}
