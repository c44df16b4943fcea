// Package store defines the persistence collaborators used by the
// vault: a structured index store for metadata documents and a blob
// store for encrypted payloads. Backends range from in-memory to SQL
// databases and cloud secret managers.
package store

import "context"

// IndexStore persists JSON documents by collection and id and supports
// field-match queries over top-level document fields.
type IndexStore interface {
	Put(ctx context.Context, collection, id string, doc []byte) error
	// Get returns errors.ErrNotFound (wrapped) for a missing id.
	Get(ctx context.Context, collection, id string) ([]byte, error)
	// Query returns documents whose top-level field equals value.
	Query(ctx context.Context, collection, field, value string) ([][]byte, error)
	GetAll(ctx context.Context, collection string) ([][]byte, error)
	Delete(ctx context.Context, collection, id string) error
	// Ping checks reachability without touching data.
	Ping(ctx context.Context) error
}

// BlobStore persists opaque byte values by key.
type BlobStore interface {
	// Get returns errors.ErrNotFound (wrapped) for a missing key.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// GetBatch returns the present subset; missing keys are skipped.
	GetBatch(ctx context.Context, keys []string) (map[string][]byte, error)
	SetBatch(ctx context.Context, entries map[string][]byte) error
	Ping(ctx context.Context) error
}
