// Package storage defines the durable key/value store the harvester uses for
// checkpoints (budget ledger, run state). Backends live in subpackages.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the key has never been written.
var ErrNotFound = errors.New("storage: key not found")

// Store persists opaque values under string keys.
type Store interface {
	// Put writes value under key, replacing any previous value.
	Put(ctx context.Context, key string, value []byte) error
	// Get returns the value stored under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
}
