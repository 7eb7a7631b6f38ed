package storage

import (
	"context"
	"errors"
	"time"
)

// Logical collections persisted by the local store
const (
	KeyInventoryItems   = "inventoryItems"
	KeyPendingMutations = "pendingMutations"
)

var (
	// ErrItemNotFound is returned when no item matches the lookup key
	ErrItemNotFound = errors.New("item not found")

	// ErrStorageFailure wraps every failure of the underlying storage medium.
	// Operations returning it must not be retried silently.
	ErrStorageFailure = errors.New("local storage failure")
)

// KeyValueStore is the durable on-device persistence the local store is built on.
// Set must not return before the value is durable.
type KeyValueStore interface {
	// Get returns the stored value and whether the key has ever been written
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set durably replaces the value stored under key
	Set(ctx context.Context, key string, value []byte) error

	// Close releases the underlying resources
	Close() error
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrItemNotFound)
}

// StorageStats provides information about the local store
type StorageStats struct {
	ItemCount     int       `json:"itemCount"`
	PendingCount  int       `json:"pendingCount"`
	InitializedAt time.Time `json:"initializedAt"`
	Driver        string    `json:"driver"`
}
