// Package kv defines the abstract key-value store the relay persists into.
// Production substitutes a durable backend (Redis or Firestore); tests use
// the in-memory implementation in this package.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for an absent (or expired) key.
var ErrNotFound = errors.New("kv: key not found")

// Store is the minimal contract the relay needs from its stores: plain
// get/put/delete plus a paginated prefix scan for registry-wide sweeps.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A ttl of zero means no expiry; otherwise
	// the expiry is fixed at write time and the key vanishes once it passes.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// ListByPrefix returns up to limit keys sharing the prefix, along with a
	// continuation cursor. Callers pass the returned cursor back in until it
	// comes back empty, which means the scan is exhausted.
	ListByPrefix(ctx context.Context, prefix, cursor string, limit int) ([]string, string, error)
}
