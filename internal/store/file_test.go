package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

func TestFileIndexStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileIndexStore(t.TempDir())

	doc := []byte(`{"id":"a1","keyHash":"cafe","provider":"openai"}`)
	if err := s.Put(ctx, "api_keys", "a1", doc); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, "api_keys", "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(doc) {
		t.Errorf("Get = %s, want %s", got, doc)
	}

	if _, err := s.Get(ctx, "api_keys", "missing"); !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
}

func TestFileIndexStoreSanitizesID(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewFileIndexStore(base)

	id := "../../etc/passwd"
	if err := s.Put(ctx, "api_keys", id, []byte(`{"id":"x"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// The document must land inside the base dir, not above it.
	if _, err := os.Stat(filepath.Join(base, "index", "api_keys")); err != nil {
		t.Fatalf("collection dir missing: %v", err)
	}
	got, err := s.Get(ctx, "api_keys", id)
	if err != nil {
		t.Fatalf("Get with hostile id: %v", err)
	}
	if string(got) != `{"id":"x"}` {
		t.Errorf("Get = %s", got)
	}
}

func TestFileIndexStoreGetAllOfMissingCollection(t *testing.T) {
	s := NewFileIndexStore(t.TempDir())

	docs, err := s.GetAll(context.Background(), "never_written")
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if docs != nil {
		t.Errorf("GetAll = %v, want nil", docs)
	}
}

func TestFileIndexStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewFileIndexStore(t.TempDir())

	if err := s.Put(ctx, "api_keys", "a1", []byte(`{"id":"a1","keyHash":"h1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "api_keys", "a2", []byte(`{"id":"a2","keyHash":"h2"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	matches, err := s.Query(ctx, "api_keys", "keyHash", "h2")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("Query returned %d docs, want 1", len(matches))
	}
}

func TestFileIndexStorePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions only")
	}

	ctx := context.Background()
	base := t.TempDir()
	s := NewFileIndexStore(base)

	if err := s.Put(ctx, "api_keys", "a1", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := os.Stat(filepath.Join(base, "index", "api_keys", "a1.json"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("document perm = %o, want 0600", perm)
	}

	dirInfo, err := os.Stat(filepath.Join(base, "index", "api_keys"))
	if err != nil {
		t.Fatalf("Stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0700 {
		t.Errorf("collection dir perm = %o, want 0700", perm)
	}
}

func TestFileBlobStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileBlobStore(t.TempDir())

	if err := s.Set(ctx, "blob_a1", []byte("ciphertext")); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "blob_a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "ciphertext" {
		t.Errorf("Get = %q", got)
	}

	if _, err := s.Get(ctx, "blob_missing"); !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	if err := s.Remove(ctx, "blob_a1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := s.Remove(ctx, "blob_a1"); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestFileBlobStoreHashesKeys(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	s := NewFileBlobStore(base)

	key := "blob_openai-123/../sneaky"
	if err := s.Set(ctx, key, []byte("v")); err != nil {
		t.Fatalf("Set: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(base, "blobs"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("blobs dir has %d entries, want 1", len(entries))
	}
	name := entries[0].Name()
	if filepath.Ext(name) != ".bin" || len(name) != 64+len(".bin") {
		t.Errorf("blob filename %q is not a hex digest", name)
	}
}
