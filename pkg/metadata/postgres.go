package metadata

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS files (
	file_name   TEXT PRIMARY KEY,
	total_size  BIGINT NOT NULL DEFAULT 0,
	chunk_count INTEGER NOT NULL DEFAULT 0,
	checksum    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS chunks (
	chunk_name TEXT PRIMARY KEY,
	file_name  TEXT NOT NULL REFERENCES files(file_name) ON DELETE CASCADE,
	size       BIGINT NOT NULL,
	checksum   TEXT NOT NULL,
	idx        BIGINT NOT NULL,
	storage_id TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chunks_file_idx ON chunks(file_name, idx);
`

// PostgresStore is a Store backed by PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to dsn and applies the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "parse postgres dsn")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "create postgres pool")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "apply schema")
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) AddFile(ctx context.Context, fileName string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (file_name, status, created_at) VALUES ($1, $2, $3)`,
		fileName, string(StatusPending), time.Now().UTC())
	if isUniqueViolation(err) {
		return serrors.New(serrors.ErrCodeFileExists, "file %s already exists", fileName)
	}
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "add file %s", fileName)
	}
	return nil
}

func (s *PostgresStore) AddChunk(ctx context.Context, c ChunkMetadata) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO files (file_name, status, created_at) VALUES ($1, $2, $3) ON CONFLICT (file_name) DO NOTHING`,
			c.FileName, string(StatusPending), time.Now().UTC())
		if err != nil {
			return serrors.Wrap(serrors.ErrCodeMetadata, err, "add file %s", c.FileName)
		}

		_, err = tx.Exec(ctx,
			`UPDATE files SET total_size = total_size + $1, chunk_count = chunk_count + 1 WHERE file_name = $2`,
			c.Size, c.FileName)
		if err != nil {
			return serrors.Wrap(serrors.ErrCodeMetadata, err, "update file %s", c.FileName)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO chunks (chunk_name, file_name, size, checksum, idx, storage_id) VALUES ($1, $2, $3, $4, $5, $6)`,
			c.ChunkName, c.FileName, c.Size, c.Checksum, int64(c.Index), c.StorageID)
		if isUniqueViolation(err) {
			return serrors.New(serrors.ErrCodeChunkExists, "chunk %s already exists", c.ChunkName)
		}
		if err != nil {
			return serrors.Wrap(serrors.ErrCodeMetadata, err, "add chunk %s", c.ChunkName)
		}
		return nil
	})
}

func (s *PostgresStore) CompleteFile(ctx context.Context, fileName, checksum string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE files SET status = $1, checksum = $2 WHERE file_name = $3`,
		string(StatusComplete), checksum, fileName)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "complete file %s", fileName)
	}
	if tag.RowsAffected() == 0 {
		return fileNotFound(fileName)
	}
	return nil
}

func (s *PostgresStore) GetFile(ctx context.Context, fileName string) (*FileMetadata, error) {
	f, err := scanFile(s.pool.QueryRow(ctx,
		`SELECT file_name, total_size, chunk_count, checksum, status, created_at FROM files WHERE file_name = $1`,
		fileName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fileNotFound(fileName)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "get file %s", fileName)
	}
	return f, nil
}

func (s *PostgresStore) GetChunk(ctx context.Context, chunkName string) (*ChunkMetadata, error) {
	c, err := scanChunk(s.pool.QueryRow(ctx,
		`SELECT chunk_name, file_name, size, checksum, idx, storage_id FROM chunks WHERE chunk_name = $1`,
		chunkName))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chunkNotFound(chunkName)
	}
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeMetadata, err, "get chunk %s", chunkName)
	}
	return c, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context) ([]FileMetadata, error) {
	rows, err := s.pool.Query(ctx,
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

func (s *PostgresStore) ListChunks(ctx context.Context, fileName string) ([]ChunkMetadata, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_name, file_name, size, checksum, idx, storage_id FROM chunks WHERE file_name = $1 ORDER BY idx`,
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

func (s *PostgresStore) FileExists(ctx context.Context, fileName string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM files WHERE file_name = $1)`, fileName).Scan(&ok)
	if err != nil {
		return false, serrors.Wrap(serrors.ErrCodeMetadata, err, "lookup file %s", fileName)
	}
	return ok, nil
}

func (s *PostgresStore) ChunkExists(ctx context.Context, chunkName string) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM chunks WHERE chunk_name = $1)`, chunkName).Scan(&ok)
	if err != nil {
		return false, serrors.Wrap(serrors.ErrCodeMetadata, err, "lookup chunk %s", chunkName)
	}
	return ok, nil
}

// DeleteFile removes the file; its chunk rows go with it through the
// foreign key cascade.
func (s *PostgresStore) DeleteFile(ctx context.Context, fileName string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE file_name = $1`, fileName)
	if err != nil {
		return serrors.Wrap(serrors.ErrCodeMetadata, err, "delete file %s", fileName)
	}
	if tag.RowsAffected() == 0 {
		return fileNotFound(fileName)
	}
	return nil
}

func (s *PostgresStore) DeleteChunk(ctx context.Context, chunkName string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var fileName string
		var size int64
		err := tx.QueryRow(ctx,
			`DELETE FROM chunks WHERE chunk_name = $1 RETURNING file_name, size`, chunkName).Scan(&fileName, &size)
		if errors.Is(err, pgx.ErrNoRows) {
			return chunkNotFound(chunkName)
		}
		if err != nil {
			return serrors.Wrap(serrors.ErrCodeMetadata, err, "delete chunk %s", chunkName)
		}
		_, err = tx.Exec(ctx,
			`UPDATE files SET total_size = total_size - $1, chunk_count = chunk_count - 1 WHERE file_name = $2`,
			size, fileName)
		if err != nil {
			return serrors.Wrap(serrors.ErrCodeMetadata, err, "update file %s", fileName)
		}
		return nil
	})
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ Store = (*PostgresStore)(nil)
