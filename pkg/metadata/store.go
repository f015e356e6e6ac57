// Package metadata records which files exist, how they were chunked, and
// where each chunk is stored.
//
// Two implementations are provided: [SQLiteStore] for single-node use and
// [PostgresStore] for deployments where several storageX processes share
// one catalogue. Both honour the same contract:
//
//   - AddFile registers a pending file with zero size and zero chunks.
//   - AddChunk inserts the chunk row and bumps the file's size and chunk
//     count in one transaction, creating a pending file row if none exists.
//   - CompleteFile marks the file complete and records its whole-file
//     checksum. Only complete files are downloadable.
//   - DeleteFile removes the file and all its chunk rows.
package metadata

import (
	"context"
	"time"

	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
)

// Status is the lifecycle state of a file record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusComplete Status = "complete"
)

// FileMetadata describes one stored file.
type FileMetadata struct {
	FileName   string    `json:"file_name"`
	TotalSize  int64     `json:"total_size"`
	ChunkCount int       `json:"chunk_count"`
	Checksum   string    `json:"checksum,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// Complete reports whether the file finished uploading.
func (f *FileMetadata) Complete() bool { return f.Status == StatusComplete }

// ChunkMetadata describes one stored chunk.
type ChunkMetadata struct {
	ChunkName string `json:"chunk_name"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size"`
	Checksum  string `json:"checksum"` // hex SHA-256 of the chunk data
	Index     uint64 `json:"index"`
	StorageID string `json:"storage_id"`
}

// Store is the metadata catalogue.
type Store interface {
	AddFile(ctx context.Context, fileName string) error
	AddChunk(ctx context.Context, chunk ChunkMetadata) error
	CompleteFile(ctx context.Context, fileName, checksum string) error

	GetFile(ctx context.Context, fileName string) (*FileMetadata, error)
	GetChunk(ctx context.Context, chunkName string) (*ChunkMetadata, error)
	ListFiles(ctx context.Context) ([]FileMetadata, error)
	// ListChunks returns the chunks of fileName ordered by index.
	ListChunks(ctx context.Context, fileName string) ([]ChunkMetadata, error)

	FileExists(ctx context.Context, fileName string) (bool, error)
	ChunkExists(ctx context.Context, chunkName string) (bool, error)

	DeleteFile(ctx context.Context, fileName string) error
	DeleteChunk(ctx context.Context, chunkName string) error

	Close() error
}

// Open opens the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.MetadataConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite, "":
		return NewSQLiteStore(ctx, cfg.DBPath)
	case config.DriverPostgres:
		return NewPostgresStore(ctx, cfg.DSN)
	default:
		return nil, serrors.New(serrors.ErrCodeInvalidConfig, "unknown metadata driver %q", cfg.Driver)
	}
}

func fileNotFound(name string) error {
	return serrors.New(serrors.ErrCodeFileNotFound, "file %s not found", name)
}

func chunkNotFound(name string) error {
	return serrors.New(serrors.ErrCodeChunkNotFound, "chunk %s not found", name)
}
