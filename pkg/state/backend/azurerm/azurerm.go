// Package azurerm implements a state backend on Azure Blob Storage.
package azurerm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/google/uuid"

	"github.com/davidthor/stackctl/pkg/state/backend"
)

func init() {
	backend.Register("azurerm", NewBackend)
}

// Backend stores state blobs in an Azure Storage container, optionally
// under a blob prefix.
type Backend struct {
	client        *azblob.Client
	containerName string
	prefix        string
}

// NewBackend constructs the backend from its string settings. Recognized
// keys: storage_account_name and container_name (required), key (blob
// prefix), endpoint (Azurite), and one of access_key, sas_token, or
// connection_string; without any of those, DefaultAzureCredential applies.
func NewBackend(cfg map[string]string) (backend.Backend, error) {
	account := cfg["storage_account_name"]
	if account == "" {
		return nil, fmt.Errorf("azurerm backend requires 'storage_account_name' configuration")
	}
	containerName := cfg["container_name"]
	if containerName == "" {
		return nil, fmt.Errorf("azurerm backend requires 'container_name' configuration")
	}

	client, err := newClient(account, cfg)
	if err != nil {
		return nil, err
	}

	return &Backend{
		client:        client,
		containerName: containerName,
		prefix:        cfg["key"],
	}, nil
}

func newClient(account string, cfg map[string]string) (*azblob.Client, error) {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	if endpoint := cfg["endpoint"]; endpoint != "" {
		serviceURL = endpoint
	}

	switch {
	case cfg["access_key"] != "":
		cred, err := azblob.NewSharedKeyCredential(account, cfg["access_key"])
		if err != nil {
			return nil, fmt.Errorf("failed to create shared key credential: %w", err)
		}
		client, err := azblob.NewClientWithSharedKeyCredential(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
		return client, nil

	case cfg["sas_token"] != "":
		sas := strings.TrimPrefix(cfg["sas_token"], "?")
		sep := "?"
		if strings.Contains(serviceURL, "?") {
			sep = "&"
		}
		client, err := azblob.NewClientWithNoCredential(serviceURL+sep+sas, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
		return client, nil

	case cfg["connection_string"] != "":
		client, err := azblob.NewClientFromConnectionString(cfg["connection_string"], nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
		return client, nil

	default:
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create default Azure credential: %w", err)
		}
		client, err := azblob.NewClient(serviceURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure client: %w", err)
		}
		return client, nil
	}
}

func (b *Backend) Type() string {
	return "azurerm"
}

func (b *Backend) Read(ctx context.Context, statePath string) (io.ReadCloser, error) {
	key := b.blobName(statePath)

	resp, err := b.client.DownloadStream(ctx, b.containerName, key, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob %s/%s: %w", b.containerName, key, err)
	}
	return resp.Body, nil
}

func (b *Backend) Write(ctx context.Context, statePath string, data io.Reader) error {
	key := b.blobName(statePath)

	content, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to buffer state: %w", err)
	}
	return b.upload(ctx, key, content)
}

func (b *Backend) Delete(ctx context.Context, statePath string) error {
	key := b.blobName(statePath)

	// Deleting a missing blob is a no-op.
	_, err := b.client.DeleteBlob(ctx, b.containerName, key, nil)
	if err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to delete blob %s/%s: %w", b.containerName, key, err)
	}
	return nil
}

func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	fullPrefix := b.blobName(prefix)

	var paths []string
	pager := b.client.NewListBlobsFlatPager(b.containerName, &container.ListBlobsFlatOptions{
		Prefix: &fullPrefix,
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs under %s/%s: %w", b.containerName, fullPrefix, err)
		}
		for _, item := range page.Segment.BlobItems {
			if item.Name != nil {
				paths = append(paths, b.relativePath(*item.Name))
			}
		}
	}
	return paths, nil
}

func (b *Backend) Exists(ctx context.Context, statePath string) (bool, error) {
	key := b.blobName(statePath)

	blobClient := b.client.ServiceClient().NewContainerClient(b.containerName).NewBlobClient(key)
	if _, err := blobClient.GetProperties(ctx, nil); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check blob %s/%s: %w", b.containerName, key, err)
	}
	return true, nil
}

func (b *Backend) Lock(ctx context.Context, statePath string, info backend.LockInfo) (backend.Lock, error) {
	lockKey := b.blobName(statePath + ".lock")

	if existing, err := b.readLock(ctx, lockKey); err == nil && !existing.Stale() {
		return nil, &backend.LockError{Info: existing, Err: backend.ErrLocked}
	}

	info.ID = uuid.New().String()
	info.Path = statePath
	info.Created = time.Now()

	lockData, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock info: %w", err)
	}
	if err := b.upload(ctx, lockKey, lockData); err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	return &lock{backend: b, key: lockKey, info: info}, nil
}

func (b *Backend) upload(ctx context.Context, key string, content []byte) error {
	_, err := b.client.UploadBuffer(ctx, b.containerName, key, content, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: contentTypeJSON(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to write blob %s/%s: %w", b.containerName, key, err)
	}
	return nil
}

func (b *Backend) readLock(ctx context.Context, key string) (backend.LockInfo, error) {
	resp, err := b.client.DownloadStream(ctx, b.containerName, key, nil)
	if err != nil {
		return backend.LockInfo{}, err
	}
	defer resp.Body.Close()

	var info backend.LockInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return backend.LockInfo{}, err
	}
	return info, nil
}

func (b *Backend) blobName(statePath string) string {
	if b.prefix == "" {
		return statePath
	}
	return path.Join(b.prefix, statePath)
}

func (b *Backend) relativePath(key string) string {
	if b.prefix == "" {
		return key
	}
	return strings.TrimPrefix(key, b.prefix+"/")
}

// isNotFound matches both the modeled BlobNotFound error code and a bare
// 404 on property requests.
func isNotFound(err error) bool {
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return true
	}
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func contentTypeJSON() *string {
	ct := "application/json"
	return &ct
}

// lock is a held advisory lock backed by a .lock blob.
type lock struct {
	backend *Backend
	key     string
	info    backend.LockInfo
}

func (l *lock) ID() string {
	return l.info.ID
}

func (l *lock) Info() backend.LockInfo {
	return l.info
}

func (l *lock) Unlock(ctx context.Context) error {
	_, err := l.backend.client.DeleteBlob(ctx, l.backend.containerName, l.key, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

var _ backend.Backend = (*Backend)(nil)
