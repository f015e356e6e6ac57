package metadata

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS files (
	file_name   TEXT PRIMARY KEY,
	total_size  INTEGER NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS chunks (
	chunk_name TEXT PRIMARY KEY,
	file_name  TEXT NOT NULL REFERENCES files(file_name),
	size       INTEGER NOT NULL,
	checksum   TEXT NOT NULL,
	idx        INTEGER NOT NULL,
	storage_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_file_idx ON chunks(file_name, idx);
`

// SQLiteStore is a Store backed by a local SQLite database.
//
// SQLite serializes writers anyway, so the pool is limited to a single
// connection and reads and writes are coordinated with an RWMutex.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, serrors.New(serrors.ErrCodeInvalidConfig, "sqlite path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "create metadata directory")
		}
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "open %s", path)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "apply schema")
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) AddFile(ctx context.Context, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO files (file_name, status, created_at) VALUES (?, ?, ?)`,
		fileName, string(StatusPending), time.Now().UTC())
	if isSQLiteConstraint(err) {
		return serrors.New(serrors.ErrCodeFileExists, "file %s already exists", fileName)
	}
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "add file %s", fileName)
	}
	return nil
}

func (s *SQLiteStore) AddChunk(ctx context.Context, c ChunkMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO files (file_name, status, created_at) VALUES (?, ?, ?) ON CONFLICT(file_name) DO NOTHING`,
		c.FileName, string(StatusPending), time.Now().UTC())
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "add file %s", c.FileName)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE files SET total_size = total_size + ?, chunk_count = chunk_count + 1 WHERE file_name = ?`,
		c.Size, c.FileName)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "update file %s", c.FileName)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO chunks (chunk_name, file_name, size, checksum, idx, storage_id) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ChunkName, c.FileName, c.Size, c.Checksum, int64(c.Index), c.StorageID)
	if isSQLiteConstraint(err) {
		return serrors.New(serrors.ErrCodeChunkExists, "chunk %s already exists", c.ChunkName)
	}
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "add chunk %s", c.ChunkName)
	}

	if err := tx.Commit(); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "commit chunk %s", c.ChunkName)
	}
	return nil
}

func (s *SQLiteStore) CompleteFile(ctx context.Context, fileName, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE files SET status = ?, checksum = ? WHERE file_name = ?`,
		string(StatusComplete), checksum, fileName)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "complete file %s", fileName)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fileNotFound(fileName)
	}
	return nil
}

func (s *SQLiteStore) GetFile(ctx context.Context, fileName string) (*FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT file_name, total_size, chunk_count, checksum, status, created_at FROM files WHERE file_name = ?`,
		fileName)
	f, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fileNotFound(fileName)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "get file %s", fileName)
	}
	return f, nil
}

func (s *SQLiteStore) GetChunk(ctx context.Context, chunkName string) (*ChunkMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT chunk_name, file_name, size, checksum, idx, storage_id FROM chunks WHERE chunk_name = ?`,
		chunkName)
	c, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chunkNotFound(chunkName)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "get chunk %s", chunkName)
	}
	return c, nil
}

func (s *SQLiteStore) ListFiles(ctx context.Context) ([]FileMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT file_name, total_size, chunk_count, checksum, status, created_at FROM files ORDER BY file_name`)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "list files")
	}
	defer rows.Close()

	var files []FileMetadata
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "scan file")
		}
		files = append(files, *f)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "list files")
	}
	return files, nil
}

func (s *SQLiteStore) ListChunks(ctx context.Context, fileName string) ([]ChunkMetadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT chunk_name, file_name, size, checksum, idx, storage_id FROM chunks WHERE file_name = ? ORDER BY idx`,
		fileName)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "list chunks of %s", fileName)
	}
	defer rows.Close()

	var chunks []ChunkMetadata
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "scan chunk")
		}
		chunks = append(chunks, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "list chunks of %s", fileName)
	}
	return chunks, nil
}

func (s *SQLiteStore) FileExists(ctx context.Context, fileName string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM files WHERE file_name = ?`, fileName)
}

func (s *SQLiteStore) ChunkExists(ctx context.Context, chunkName string) (bool, error) {
	return s.exists(ctx, `SELECT 1 FROM chunks WHERE chunk_name = ?`, chunkName)
}

func (s *SQLiteStore) exists(ctx context.Context, query, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, query, key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, serrors.Wrap(serrors.ErrCodeMetadata, err, "lookup %s", key)
	}
	return true, nil
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "begin transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE file_name = ?`, fileName); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "delete chunks of %s", fileName)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE file_name = ?`, fileName)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "delete file %s", fileName)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fileNotFound(fileName)
	}
	if err := tx.Commit(); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "commit delete of %s", fileName)
	}
	return nil
}

// DeleteChunk removes a chunk row and takes it back out of its file's
// size and chunk count.
func (s *SQLiteStore) DeleteChunk(ctx context.Context, chunkName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "begin transaction")
	}
	defer tx.Rollback()

	var fileName string
	var size int64
	err = tx.QueryRowContext(ctx, `SELECT file_name, size FROM chunks WHERE chunk_name = ?`, chunkName).Scan(&fileName, &size)
	if errors.Is(err, sql.ErrNoRows) {
		return chunkNotFound(chunkName)
	}
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "get chunk %s", chunkName)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE chunk_name = ?`, chunkName); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "delete chunk %s", chunkName)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET total_size = total_size - ?, chunk_count = chunk_count - 1 WHERE file_name = ?`,
		size, fileName); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "update file %s", fileName)
	}
	if err := tx.Commit(); err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "commit delete of %s", chunkName)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func isSQLiteConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFile(row scanner) (*FileMetadata, error) {
	var f FileMetadata
	var status string
	if err := row.Scan(&f.FileName, &f.TotalSize, &f.ChunkCount, &f.Checksum, &status, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.Status = Status(status)
	return &f, nil
}

func scanChunk(row scanner) (*ChunkMetadata, error) {
	var c ChunkMetadata
	var idx int64
	if err := row.Scan(&c.ChunkName, &c.FileName, &c.Size, &c.Checksum, &idx, &c.StorageID); err != nil {
		return nil, err
	}
	c.Index = uint64(idx)
	return &c, nil
}

var _ Store = (*SQLiteStore)(nil)
