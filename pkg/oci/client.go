package oci

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/google/go-containerregistry/pkg/v1/static"
	"github.com/google/go-containerregistry/pkg/v1/types"
)

// Client pushes and pulls module bundles against OCI registries using the
// ambient Docker credential chain.
type Client struct {
	auth authn.Keychain
}

// NewClient creates a client with the default keychain.
func NewClient() *Client {
	return &Client{auth: authn.DefaultKeychain}
}

// Push uploads a module artifact to the registry.
func (c *Client) Push(ctx context.Context, artifact *Artifact) error {
	ref, err := name.ParseReference(artifact.Reference)
	if err != nil {
		return fmt.Errorf("invalid reference: %w", err)
	}

	img := empty.Image
	for _, layer := range artifact.Layers {
		l := static.NewLayer(layer.Data, types.MediaType(MediaTypeModuleLayer))
		img, err = mutate.AppendLayers(img, l)
		if err != nil {
			return fmt.Errorf("failed to append layer: %w", err)
		}
	}

	if err := remote.Write(ref, img, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to push %s: %w", artifact.Reference, err)
	}
	return nil
}

// Pull downloads a module artifact and unpacks its layers into destDir.
func (c *Client) Pull(ctx context.Context, reference, destDir string) error {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return fmt.Errorf("invalid reference: %w", err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return registryError(reference, err)
	}

	layers, err := img.Layers()
	if err != nil {
		return fmt.Errorf("failed to get layers: %w", err)
	}

	for _, layer := range layers {
		rc, err := layer.Uncompressed()
		if err != nil {
			return fmt.Errorf("failed to uncompress layer: %w", err)
		}
		if err := extractTar(rc, destDir); err != nil {
			rc.Close()
			return fmt.Errorf("failed to extract layer: %w", err)
		}
		rc.Close()
	}

	return nil
}

// PullConfig fetches only the config document of a module artifact.
func (c *Client) PullConfig(ctx context.Context, reference string) ([]byte, error) {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return nil, fmt.Errorf("invalid reference: %w", err)
	}

	img, err := remote.Image(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return nil, registryError(reference, err)
	}

	configFile, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}
	return json.Marshal(configFile)
}

// Exists checks whether a reference resolves in the registry.
func (c *Client) Exists(ctx context.Context, reference string) (bool, error) {
	ref, err := name.ParseReference(reference)
	if err != nil {
		return false, fmt.Errorf("invalid reference: %w", err)
	}

	if _, err := remote.Head(ref, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return false, nil
	}
	return true, nil
}

// Tag pushes an existing artifact under an additional tag.
func (c *Client) Tag(ctx context.Context, srcRef, destRef string) error {
	src, err := name.ParseReference(srcRef)
	if err != nil {
		return fmt.Errorf("invalid source reference: %w", err)
	}
	dest, err := name.ParseReference(destRef)
	if err != nil {
		return fmt.Errorf("invalid destination reference: %w", err)
	}

	img, err := remote.Image(src, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx))
	if err != nil {
		return registryError(srcRef, err)
	}

	if err := remote.Write(dest, img, remote.WithAuthFromKeychain(c.auth), remote.WithContext(ctx)); err != nil {
		return fmt.Errorf("failed to tag: %w", err)
	}
	return nil
}

// BuildFromDirectory bundles a module directory into a single-layer artifact.
func (c *Client) BuildFromDirectory(ctx context.Context, dir, reference string, config ModuleConfig) (*Artifact, error) {
	if config.SchemaVersion == "" {
		config.SchemaVersion = "v1"
	}
	if config.BuildTime == "" {
		config.BuildTime = time.Now().UTC().Format(time.RFC3339)
	}

	tarData, err := createTarGz(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to bundle %s: %w", dir, err)
	}

	configData, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	return &Artifact{
		Reference: reference,
		Config:    configData,
		Layers: []Layer{{
			MediaType: MediaTypeModuleLayer,
			Size:      int64(len(tarData)),
			Data:      tarData,
		}},
	}, nil
}

// registryError translates registry transport errors into actionable messages.
func registryError(reference string, err error) error {
	var transportErr *transport.Error
	if errors.As(err, &transportErr) {
		for _, diagnostic := range transportErr.Errors {
			switch diagnostic.Code {
			case transport.ManifestUnknownErrorCode:
				return fmt.Errorf("module not found: %s does not exist or the tag is invalid", reference)
			case transport.NameUnknownErrorCode:
				return fmt.Errorf("repository not found: %s does not exist in the registry", reference)
			case transport.UnauthorizedErrorCode:
				return fmt.Errorf("authentication required: you may need to log in to access %s", reference)
			case transport.DeniedErrorCode:
				return fmt.Errorf("access denied: you don't have permission to pull %s", reference)
			}
		}
		if transportErr.StatusCode == http.StatusNotFound {
			return fmt.Errorf("module not found: %s does not exist in the registry", reference)
		}
	}
	return fmt.Errorf("failed to pull %s: %w", reference, err)
}

// extractTar unpacks a tar stream into destDir, rejecting path traversal.
func extractTar(r io.Reader, destDir string) error {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar header: %w", err)
		}

		target := filepath.Join(destDir, header.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("invalid tar path: %s", header.Name)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create parent directory: %w", err)
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file: %w", err)
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return fmt.Errorf("failed to write file: %w", err)
			}
			f.Close()
		}
	}

	return nil
}

// excludedDirs are never bundled into module artifacts.
var excludedDirs = map[string]bool{
	".terraform": true,
	".stackctl":  true,
	".git":       true,
	".cache":     true,
	".DS_Store":  true,
}

func shouldExclude(relPath string) bool {
	for _, part := range strings.Split(relPath, string(filepath.Separator)) {
		if excludedDirs[part] {
			return true
		}
	}
	// Hidden files are skipped except dotfiles modules legitimately ship.
	base := filepath.Base(relPath)
	if strings.HasPrefix(base, ".") && base != ".terraform-version" {
		return true
	}
	return false
}

// createTarGz archives a module directory into an in-memory tar.gz.
func createTarGz(srcDir string) ([]byte, error) {
	f, err := os.CreateTemp("", "stackctl-bundle-*.tar.gz")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := f.Name()
	defer os.Remove(tmpPath)

	gw := gzip.NewWriter(f)
	tw := tar.NewWriter(gw)

	walkErr := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}

		if shouldExclude(relPath) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinks are not portable across bundle consumers; skip them.
		if info.Mode()&os.ModeSymlink != 0 {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return fmt.Errorf("failed to create header: %w", err)
		}
		header.Name = relPath

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write header: %w", err)
		}

		if info.Mode().IsRegular() {
			file, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open file: %w", err)
			}
			defer file.Close()
			if _, err := io.Copy(tw, file); err != nil {
				return fmt.Errorf("failed to copy file: %w", err)
			}
		}

		return nil
	})

	if closeErr := tw.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if closeErr := gw.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if closeErr := f.Close(); walkErr == nil {
		walkErr = closeErr
	}
	if walkErr != nil {
		return nil, walkErr
	}

	return os.ReadFile(tmpPath)
}
