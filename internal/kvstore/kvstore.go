// Package kvstore provides the durable key-value layer the auth core writes
// through. The core keeps whole tables as JSON documents, one per key, so the
// contract is a minimal Get/Set/Delete.
package kvstore

import (
	"context"
	"errors"
)

// ErrStorage wraps any underlying persistence failure. Callers propagate it
// without retrying; retry is a caller/UI decision.
var ErrStorage = errors.New("storage failure")

// Store is the durable key-value storage contract.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set writes value under key synchronously.
	Set(ctx context.Context, key string, value string) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
