package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/davidthor/stackctl/pkg/state/backend"
)

// fakeObjectStore speaks just enough of the S3 REST API (path-style) for
// the backend to run against it.
type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeObjectStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(trimmed, "/")
	if bucket == "" {
		http.Error(w, "missing bucket", http.StatusBadRequest)
		return
	}

	if key == "" && r.URL.Query().Get("list-type") == "2" {
		f.list(w, r.URL.Query().Get("prefix"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>no such key</Message></Error>`))
			return
		}
		_, _ = w.Write(data)
	case http.MethodHead:
		if _, ok := f.objects[key]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		f.objects[key] = data
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (f *fakeObjectStore) list(w http.ResponseWriter, prefix string) {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
	for key := range f.objects {
		if strings.HasPrefix(key, prefix) {
			sb.WriteString("<Contents><Key>" + key + "</Key></Contents>")
		}
	}
	sb.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write([]byte(sb.String()))
}

func newTestBackend(t *testing.T, cfg map[string]string) (*Backend, *fakeObjectStore) {
	t.Helper()
	store := &fakeObjectStore{objects: make(map[string][]byte)}
	server := httptest.NewServer(store)
	t.Cleanup(server.Close)

	settings := map[string]string{
		"bucket":           "test-bucket",
		"endpoint":         server.URL,
		"access_key":       "test-key",
		"secret_key":       "test-secret",
		"force_path_style": "true",
	}
	for k, v := range cfg {
		settings[k] = v
	}

	b, err := NewBackend(settings)
	if err != nil {
		t.Fatalf("failed to create backend: %v", err)
	}
	return b.(*Backend), store
}

func TestNewBackend_RequiresBucket(t *testing.T) {
	_, err := NewBackend(map[string]string{"region": "us-east-1"})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket") {
		t.Errorf("expected error to mention bucket, got: %v", err)
	}
}

func TestBackend_Type(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	if b.Type() != "s3" {
		t.Errorf("expected type 's3', got %q", b.Type())
	}
}

func TestBackend_ReadWriteDelete(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	ctx := context.Background()

	data := []byte(`{"outputs":{"vpc_id":"vpc-12345"}}`)
	if err := b.Write(ctx, "units/vpc.json", bytes.NewReader(data)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	reader, err := b.Read(ctx, "units/vpc.json")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	got, err := io.ReadAll(reader)
	reader.Close()
	if err != nil {
		t.Fatalf("read body failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("expected %s, got %s", data, got)
	}

	exists, err := b.Exists(ctx, "units/vpc.json")
	if err != nil || !exists {
		t.Fatalf("expected object to exist, got exists=%v err=%v", exists, err)
	}

	if err := b.Delete(ctx, "units/vpc.json"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	// Deleting again is a no-op.
	if err := b.Delete(ctx, "units/vpc.json"); err != nil {
		t.Fatalf("repeat delete failed: %v", err)
	}

	if _, err := b.Read(ctx, "units/vpc.json"); !errors.Is(err, backend.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	exists, err = b.Exists(ctx, "units/vpc.json")
	if err != nil || exists {
		t.Errorf("expected object to be gone, got exists=%v err=%v", exists, err)
	}
}

func TestBackend_ListReturnsRelativePaths(t *testing.T) {
	b, _ := newTestBackend(t, map[string]string{"key": "stackctl/state"})
	ctx := context.Background()

	for _, p := range []string{"units/vpc.json", "units/app.json", "runs/r1.json"} {
		if err := b.Write(ctx, p, bytes.NewReader([]byte("{}"))); err != nil {
			t.Fatalf("write %s failed: %v", p, err)
		}
	}

	paths, err := b.List(ctx, "units")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 paths, got %d: %v", len(paths), paths)
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, "units/") {
			t.Errorf("expected path relative to the configured prefix, got %q", p)
		}
	}
}

func TestBackend_LockConflict(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	ctx := context.Background()

	held, err := b.Lock(ctx, "units/vpc", backend.LockInfo{Who: "user-a", Operation: "apply"})
	if err != nil {
		t.Fatalf("first lock failed: %v", err)
	}
	if held.ID() == "" {
		t.Error("expected lock to carry an ID")
	}

	_, err = b.Lock(ctx, "units/vpc", backend.LockInfo{Who: "user-b", Operation: "destroy"})
	if !errors.Is(err, backend.ErrLocked) {
		t.Fatalf("expected ErrLocked for held lock, got %v", err)
	}
	var lockErr *backend.LockError
	if !errors.As(err, &lockErr) {
		t.Fatal("expected a *backend.LockError")
	}
	if lockErr.Info.Who != "user-a" {
		t.Errorf("expected conflict to report the holder, got %q", lockErr.Info.Who)
	}

	if err := held.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	relock, err := b.Lock(ctx, "units/vpc", backend.LockInfo{Who: "user-b"})
	if err != nil {
		t.Fatalf("lock after unlock failed: %v", err)
	}
	_ = relock.Unlock(ctx)
}

func TestBackend_LockBreaksStaleLock(t *testing.T) {
	b, _ := newTestBackend(t, nil)
	ctx := context.Background()

	stale, err := json.Marshal(backend.LockInfo{
		ID:      "stale-lock",
		Path:    "units/vpc",
		Who:     "crashed-run",
		Created: time.Now().Add(-backend.StaleLockAge - time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Write(ctx, "units/vpc.lock", bytes.NewReader(stale)); err != nil {
		t.Fatalf("failed to seed stale lock: %v", err)
	}

	held, err := b.Lock(ctx, "units/vpc", backend.LockInfo{Who: "user-a"})
	if err != nil {
		t.Fatalf("expected stale lock to be broken, got %v", err)
	}
	if held.Info().Who != "user-a" {
		t.Errorf("expected new holder, got %q", held.Info().Who)
	}
}

func TestObjectKey(t *testing.T) {
	tests := []struct {
		prefix string
		path   string
		want   string
	}{
		{"", "units/vpc.json", "units/vpc.json"},
		{"stackctl", "units/vpc.json", "stackctl/units/vpc.json"},
		{"env/prod", "runs/r1.json", "env/prod/runs/r1.json"},
	}
	for _, tt := range tests {
		b := &Backend{prefix: tt.prefix}
		if got := b.objectKey(tt.path); got != tt.want {
			t.Errorf("objectKey(%q) with prefix %q = %q, want %q", tt.path, tt.prefix, got, tt.want)
		}
		if rel := b.relativePath(tt.want); rel != tt.path {
			t.Errorf("relativePath(%q) with prefix %q = %q, want %q", tt.want, tt.prefix, rel, tt.path)
		}
	}
}
