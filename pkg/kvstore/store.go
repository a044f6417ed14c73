package kvstore

import (
	"context"
	"errors"
)

var (
	// ErrKeyNotFound indicates the key has no stored value.
	ErrKeyNotFound = errors.New("kvstore: key not found")

	// ErrWriteFailed indicates a set did not durably complete.
	ErrWriteFailed = errors.New("kvstore: write failed")

	// ErrInvalidKey indicates an empty or otherwise unusable key.
	ErrInvalidKey = errors.New("kvstore: invalid key")
)

// Store is a durable local key-value store. Implementations must not return
// success from Set before the write is durable; callers such as the crisis
// override controller rely on that to guarantee state survives a process
// restart.
type Store interface {
	// Get returns the stored value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set durably stores value under key.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
