// Package kv provides the key-value stores local state is persisted in.
// Values are opaque byte blobs (JSON documents in practice).
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get for keys that were never set.
var ErrNotFound = errors.New("kv: key not found")

// Store is a single-writer key-value store with full-overwrite semantics.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
