package store

import (
	"context"
	"errors"
	"testing"

	kherrors "github.com/keyhaven/keyhaven/internal/errors"
)

func TestMemoryIndexStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIndexStore()

	doc := []byte(`{"id":"a1","keyHash":"deadbeef","name":"prod"}`)
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
}

func TestMemoryIndexStoreGetNotFound(t *testing.T) {
	s := NewMemoryIndexStore()

	_, err := s.Get(context.Background(), "api_keys", "missing")
	if !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestMemoryIndexStoreQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIndexStore()

	docs := map[string]string{
		"a1": `{"id":"a1","keyHash":"hash-one","provider":"openai"}`,
		"a2": `{"id":"a2","keyHash":"hash-two","provider":"openai"}`,
		"a3": `{"id":"a3","keyHash":"hash-one","provider":"google"}`,
	}
	for id, doc := range docs {
		if err := s.Put(ctx, "api_keys", id, []byte(doc)); err != nil {
			t.Fatalf("Put %s: %v", id, err)
		}
	}

	matches, err := s.Query(ctx, "api_keys", "keyHash", "hash-one")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(matches) != 2 {
		t.Errorf("Query returned %d docs, want 2", len(matches))
	}

	none, err := s.Query(ctx, "api_keys", "keyHash", "hash-missing")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("Query for absent value returned %d docs, want 0", len(none))
	}
}

func TestMemoryIndexStoreDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIndexStore()

	if err := s.Put(ctx, "api_keys", "a1", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, "api_keys", "a1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "api_keys", "a1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
	if _, err := s.Get(ctx, "api_keys", "a1"); !errors.Is(err, kherrors.ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryIndexStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIndexStore()

	if err := s.Put(ctx, "api_keys", "a1", []byte(`{"id":"a1"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "api_keys", "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got[0] = 'X'

	again, err := s.Get(ctx, "api_keys", "a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again[0] == 'X' {
		t.Error("mutating a returned document changed stored state")
	}
}

func TestMemoryBlobStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlobStore()

	if err := s.Set(ctx, "blob_a1", []byte{1, 2, 3}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "blob_a1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 3 || got[0] != 1 {
		t.Errorf("Get = %v, want [1 2 3]", got)
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

func TestMemoryBlobStoreGetBatchSkipsMissing(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryBlobStore()

	if err := s.SetBatch(ctx, map[string][]byte{
		"blob_a1": []byte("one"),
		"blob_a2": []byte("two"),
	}); err != nil {
		t.Fatalf("SetBatch: %v", err)
	}

	got, err := s.GetBatch(ctx, []string{"blob_a1", "blob_missing", "blob_a2"})
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("GetBatch returned %d entries, want 2", len(got))
	}
	if string(got["blob_a1"]) != "one" {
		t.Errorf("blob_a1 = %q, want %q", got["blob_a1"], "one")
	}
	if _, ok := got["blob_missing"]; ok {
		t.Error("GetBatch included a missing key")
	}
}

func TestDocFieldEquals(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
		value string
		want  bool
	}{
		{"string match", `{"provider":"openai"}`, "provider", "openai", true},
		{"string mismatch", `{"provider":"openai"}`, "provider", "google", false},
		{"absent field", `{"provider":"openai"}`, "status", "active", false},
		{"numeric field", `{"count":3}`, "count", "3", true},
		{"nested field not reachable", `{"metadata":{"provider":"openai"}}`, "provider", "openai", false},
		{"invalid json", `not-json`, "provider", "openai", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := docFieldEquals([]byte(tt.doc), tt.field, tt.value); got != tt.want {
				t.Errorf("docFieldEquals(%s, %s, %s) = %v, want %v", tt.doc, tt.field, tt.value, got, tt.want)
			}
		})
	}
}
