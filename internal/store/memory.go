package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

// MemoryIndexStore is an in-memory IndexStore used for tests and
// ephemeral sessions.
type MemoryIndexStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryIndexStore creates an empty in-memory index store.
func NewMemoryIndexStore() *MemoryIndexStore {
	return &MemoryIndexStore{collections: make(map[string]map[string][]byte)}
}

func (s *MemoryIndexStore) Put(_ context.Context, collection, id string, doc []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string][]byte)
	}
	s.collections[collection][id] = append([]byte(nil), doc...)
	return nil
}

func (s *MemoryIndexStore) Get(_ context.Context, collection, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", kherrors.ErrNotFound, collection, id)
	}
	return append([]byte(nil), doc...), nil
}

func (s *MemoryIndexStore) Query(_ context.Context, collection, field, value string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out [][]byte
	for _, doc := range s.collections[collection] {
		if docFieldEquals(doc, field, value) {
			out = append(out, append([]byte(nil), doc...))
		}
	}
	return out, nil
}

func (s *MemoryIndexStore) GetAll(_ context.Context, collection string) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]byte, 0, len(s.collections[collection]))
	for _, doc := range s.collections[collection] {
		out = append(out, append([]byte(nil), doc...))
	}
	return out, nil
}

func (s *MemoryIndexStore) Delete(_ context.Context, collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[collection], id)
	return nil
}

func (s *MemoryIndexStore) Ping(context.Context) error { return nil }

// MemoryBlobStore is an in-memory BlobStore.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: blob %s", kherrors.ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (s *MemoryBlobStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryBlobStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

func (s *MemoryBlobStore) GetBatch(ctx context.Context, keys []string) (map[string][]byte, error) {
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

func (s *MemoryBlobStore) SetBatch(ctx context.Context, entries map[string][]byte) error {
	for key, value := range entries {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryBlobStore) Ping(context.Context) error { return nil }

// docFieldEquals reports whether the document's top-level field renders
// equal to value. Non-string scalars compare through fmt.Sprint.
func docFieldEquals(doc []byte, field, value string) bool {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(doc, &m); err != nil {
		return false
	}
	raw, ok := m[field]
	if !ok {
		return false
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str == value
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	return fmt.Sprint(v) == value
}
