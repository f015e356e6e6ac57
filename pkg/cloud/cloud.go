// Package cloud defines the contract every chunk storage backend fulfils.
//
// A backend stores opaque serialized chunks under flat object names. The
// implementations live in subpackages, one per provider:
//
//	dropbox  Dropbox account (dropbox-sdk-go-unofficial)
//	gdrive   Google Drive folder (google.golang.org/api/drive/v3)
//	s3       S3 or S3-compatible bucket (aws-sdk-go-v2)
//	redis    Redis keyspace (go-redis)
//	mongo    MongoDB GridFS bucket (mongo-driver)
//	local    directory on disk
//	memory   in-process map, for tests and dry runs
//
// Every backend reports a storage system ID of the form "provider:identity"
// (for example "dropbox:dbid:AAH4f99..."). The ID is recorded in chunk
// metadata and must stay stable for the lifetime of the stored data.
package cloud

import (
	"context"
	"errors"
)

// Unlimited is returned by FreeSpace when a backend has no known quota.
const Unlimited int64 = -1

// ErrChunkNotFound is returned (wrapped) by GetChunk and DeleteChunk when the
// object does not exist.
var ErrChunkNotFound = errors.New("chunk not found")

// ErrQuotaExceeded is returned (wrapped) by UploadChunk when the object
// does not fit into the backend's remaining quota.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Storage is a chunk storage backend.
type Storage interface {
	// UploadChunk stores data under name, replacing any existing object.
	UploadChunk(ctx context.Context, name string, data []byte) error
	// GetChunk returns the object stored under name.
	GetChunk(ctx context.Context, name string) ([]byte, error)
	// DeleteChunk removes the object stored under name.
	DeleteChunk(ctx context.Context, name string) error
	// FreeSpace reports the remaining capacity in bytes, or Unlimited.
	FreeSpace(ctx context.Context) (int64, error)
	// ID returns the storage system ID ("provider:identity").
	ID() string
	// Provider returns the provider name, e.g. "dropbox".
	Provider() string
}

// Closer is implemented by backends holding connections that must be
// released.
type Closer interface {
	Close() error
}

// Close closes s if it implements Closer.
func Close(s Storage) error {
	if c, ok := s.(Closer); ok {
		return c.Close()
	}
	return nil
}
