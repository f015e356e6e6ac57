// Package cache keeps recently downloaded chunks on local disk.
//
// Keys are derived from the storage system ID and chunk name (see [Key]),
// so a chunk re-uploaded to a different backend never hits a stale entry.
// Entries carry an optional expiry; expired or unreadable entries are
// treated as misses and removed.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque byte values with an optional TTL.
type Cache interface {
	// Get returns the value for key and whether it was found.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key. A ttl of zero or less never expires.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases resources held by the cache.
	Close() error
}

// Key returns the cache key for a chunk stored on storageID.
func Key(storageID, chunkName string) string {
	return "chunk:" + storageID + ":" + chunkName
}
