// Package store defines the persistent-store and content-addressed-cache
// interfaces the correlation core depends on (spec.md §6), with concrete
// adapters for bbolt, Postgres, Redis, and S3.
package store

import "context"

// KV is a small JSON-document key-value interface, the persistence
// boundary the ledger, run reports, and cost-projector moving averages all
// go through. A single flat keyspace with colon-namespaced keys (e.g.
// "ledger:202507") keeps every backend implementation trivial.
type KV interface {
	// PutJSON marshals value and stores it under key.
	PutJSON(ctx context.Context, key string, value interface{}) error
	// GetJSON unmarshals the value stored under key into dest. ok is false
	// and dest is untouched if key does not exist.
	GetJSON(ctx context.Context, key string, dest interface{}) (ok bool, err error)
	// Delete removes key. It is not an error if key does not exist.
	Delete(ctx context.Context, key string) error
	// Close releases any underlying resources (file handles, connections).
	Close() error
}

// Blob is a content-addressed binary object store, used for archived run
// reports and embedding batch dumps (spec.md §6).
type Blob interface {
	// Put stores data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error
	// Get retrieves the object stored under key. ok is false if it does
	// not exist.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	// Delete removes the object at key. Not an error if absent.
	Delete(ctx context.Context, key string) error
}

// Cache is the embedding-vector content-addressed cache spec.md §4.4/§6
// describes, keyed `hex(fingerprint) + ":" + hex(model_id)`.
type Cache interface {
	// Get returns the cached vector for key, if present.
	Get(ctx context.Context, key string) (vector []float32, ok bool, err error)
	// Put stores vector under key.
	Put(ctx context.Context, key string, vector []float32) error
	// Close releases underlying resources.
	Close() error
}
