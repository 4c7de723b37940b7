package oci

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTarEntry(t *testing.T, buf *bytes.Buffer, name, content string) {
	t.Helper()
	tw := tar.NewWriter(buf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}))
	_, err := tw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tw.Close())
}

func TestIsOCISource(t *testing.T) {
	assert.True(t, IsOCISource("oci://ghcr.io/org/modules/vpc:v1"))
	assert.False(t, IsOCISource("modules/vpc"))
	assert.False(t, IsOCISource("./modules/vpc"))

	assert.Equal(t, "ghcr.io/org/modules/vpc:v1", TrimSource("oci://ghcr.io/org/modules/vpc:v1"))
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want Reference
	}{
		{
			name: "full reference",
			ref:  "ghcr.io/org/modules/vpc:v1.0.0",
			want: Reference{Registry: "ghcr.io", Repository: "org/modules/vpc", Tag: "v1.0.0"},
		},
		{
			name: "no tag defaults to latest",
			ref:  "ghcr.io/org/modules/vpc",
			want: Reference{Registry: "ghcr.io", Repository: "org/modules/vpc", Tag: "latest"},
		},
		{
			name: "digest reference",
			ref:  "ghcr.io/org/vpc@sha256:abc123",
			want: Reference{Registry: "ghcr.io", Repository: "org/vpc", Digest: "sha256:abc123"},
		},
		{
			name: "registry with port",
			ref:  "localhost:5000/vpc:dev",
			want: Reference{Registry: "localhost:5000", Repository: "vpc", Tag: "dev"},
		},
		{
			name: "bare repository",
			ref:  "org/vpc:v2",
			want: Reference{Repository: "org/vpc", Tag: "v2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReference(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestReference_String(t *testing.T) {
	r := Reference{Registry: "ghcr.io", Repository: "org/vpc", Tag: "v1"}
	assert.Equal(t, "ghcr.io/org/vpc:v1", r.String())

	r = Reference{Repository: "org/vpc", Digest: "sha256:abc"}
	assert.Equal(t, "org/vpc@sha256:abc", r.String())
}

func TestBuildFromDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.tf"), []byte(`resource "x" "y" {}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "templates"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "templates", "user_data.sh"), []byte("#!/bin/sh\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".terraform"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".terraform", "lock.json"), []byte("{}"), 0o644))

	client := NewClient()
	artifact, err := client.BuildFromDirectory(context.Background(), dir, "ghcr.io/org/vpc:v1", ModuleConfig{
		Name:        "vpc",
		Provisioner: "opentofu",
	})
	require.NoError(t, err)

	assert.Equal(t, "ghcr.io/org/vpc:v1", artifact.Reference)
	require.Len(t, artifact.Layers, 1)
	assert.Equal(t, MediaTypeModuleLayer, artifact.Layers[0].MediaType)
	assert.Equal(t, int64(len(artifact.Layers[0].Data)), artifact.Layers[0].Size)

	var config ModuleConfig
	require.NoError(t, json.Unmarshal(artifact.Config, &config))
	assert.Equal(t, "vpc", config.Name)
	assert.Equal(t, "opentofu", config.Provisioner)
	assert.Equal(t, "v1", config.SchemaVersion)
	assert.NotEmpty(t, config.BuildTime)

	// Unpack the layer and verify excluded dirs were dropped.
	dest := t.TempDir()
	gz, err := gzip.NewReader(bytes.NewReader(artifact.Layers[0].Data))
	require.NoError(t, err)
	require.NoError(t, extractTar(gz, dest))

	assert.FileExists(t, filepath.Join(dest, "main.tf"))
	assert.FileExists(t, filepath.Join(dest, "templates", "user_data.sh"))
	assert.NoFileExists(t, filepath.Join(dest, ".terraform", "lock.json"))
}

func TestExtractTar_RejectsTraversal(t *testing.T) {
	var buf bytes.Buffer
	writeTarEntry(t, &buf, "../escape.txt", "boom")

	err := extractTar(&buf, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tar path")
}

func TestShouldExclude(t *testing.T) {
	assert.True(t, shouldExclude(".git/config"))
	assert.True(t, shouldExclude(filepath.Join("sub", ".terraform", "modules")))
	assert.True(t, shouldExclude(".hidden"))
	assert.False(t, shouldExclude(".terraform-version"))
	assert.False(t, shouldExclude("main.tf"))
	assert.False(t, shouldExclude(filepath.Join("templates", "user_data.sh")))
}
