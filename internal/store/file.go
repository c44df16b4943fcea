package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

// FileIndexStore keeps one JSON file per document under
// <base>/index/<collection>/<id>.json.
type FileIndexStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileIndexStore creates a file-backed index store rooted at baseDir.
func NewFileIndexStore(baseDir string) *FileIndexStore {
	return &FileIndexStore{baseDir: baseDir}
}

// DefaultDataDir resolves the vault data directory: $KEYHAVEN_DATA_DIR,
// then XDG_DATA_HOME, then ~/.local/share, then the temp dir.
func DefaultDataDir() string {
	if dir := os.Getenv("KEYHAVEN_DATA_DIR"); dir != "" {
		return dir
	}
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "keyhaven")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "keyhaven")
	}
	return filepath.Join(os.TempDir(), "keyhaven")
}

func (s *FileIndexStore) collectionDir(collection string) string {
	return filepath.Join(s.baseDir, "index", sanitizeFilename(collection))
}

func (s *FileIndexStore) docPath(collection, id string) string {
	return filepath.Join(s.collectionDir(collection), sanitizeFilename(id)+".json")
}

func (s *FileIndexStore) Put(_ context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.collectionDir(collection)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "put", Key: id, Err: err}
	}
	if err := os.WriteFile(s.docPath(collection, id), doc, 0600); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "put", Key: id, Err: err}
	}
	return nil
}

func (s *FileIndexStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := os.ReadFile(s.docPath(collection, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s/%s", kherrors.ErrNotFound, collection, id)
		}
		return nil, &kherrors.StoreError{Backend: "file", Op: "get", Key: id, Err: err}
	}
	return doc, nil
}

func (s *FileIndexStore) Query(ctx context.Context, collection, field, value string) ([][]byte, error) {
	docs, err := s.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	var out [][]byte
	for _, doc := range docs {
		if docFieldEquals(doc, field, value) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *FileIndexStore) GetAll(_ context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.collectionDir(collection))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &kherrors.StoreError{Backend: "file", Op: "getAll", Key: collection, Err: err}
	}

	var out [][]byte
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		doc, err := os.ReadFile(filepath.Join(s.collectionDir(collection), entry.Name()))
		if err != nil {
			return nil, &kherrors.StoreError{Backend: "file", Op: "getAll", Key: entry.Name(), Err: err}
		}
		out = append(out, doc)
	}
	return out, nil
}

func (s *FileIndexStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.docPath(collection, id)); err != nil && !os.IsNotExist(err) {
		return &kherrors.StoreError{Backend: "file", Op: "delete", Key: id, Err: err}
	}
	return nil
}

func (s *FileIndexStore) Ping(context.Context) error {
	return os.MkdirAll(filepath.Join(s.baseDir, "index"), 0700)
}

// FileBlobStore keeps one file per blob under <base>/blobs. Blob keys
// are hashed into filenames so arbitrary key content stays path-safe.
type FileBlobStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileBlobStore creates a file-backed blob store rooted at baseDir.
func NewFileBlobStore(baseDir string) *FileBlobStore {
	return &FileBlobStore{baseDir: baseDir}
}

func (s *FileBlobStore) blobPath(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.baseDir, "blobs", hex.EncodeToString(sum[:])+".bin")
}

func (s *FileBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, err := os.ReadFile(s.blobPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: blob %s", kherrors.ErrNotFound, key)
		}
		return nil, &kherrors.StoreError{Backend: "file", Op: "get", Key: key, Err: err}
	}
	return value, nil
}

func (s *FileBlobStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.baseDir, "blobs"), 0700); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "set", Key: key, Err: err}
	}
	if err := os.WriteFile(s.blobPath(key), value, 0600); err != nil {
		return &kherrors.StoreError{Backend: "file", Op: "set", Key: key, Err: err}
	}
	return nil
}

func (s *FileBlobStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
		return &kherrors.StoreError{Backend: "file", Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *FileBlobStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		value, err := s.Get(ctx, key)
		if err != nil {
			continue
		}
		out[key] = value
	}
	return out, nil
}

func (s *FileBlobStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *FileBlobStore) Ping(context.Context) error {
	return os.MkdirAll(filepath.Join(s.baseDir, "blobs"), 0700)
}

// sanitizeFilename keeps ids path-safe.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", ":", "_")
	return replacer.Replace(name)
}
