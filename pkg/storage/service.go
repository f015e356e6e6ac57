// Package storage orchestrates file uploads and downloads.
//
// The [Service] ties the chunker, the storage manager and the metadata store
// together. An upload streams the input through the chunker, places every
// chunk on a backend and records where it went; a download reads the chunk
// list back from metadata, fetches and verifies every chunk, and writes the
// file in order. A failed upload leaves nothing behind.
package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/storagex/pkg/chunker"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/manager"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/observability"
)

// Options configures a Service.
type Options struct {
	UploadWorkers   int // concurrent chunk uploads; default 4
	DownloadWorkers int // concurrent chunk downloads; default 4
	Logger          *log.Logger
}

// Service stores and retrieves files.
type Service struct {
	chunker  *chunker.FileChunker
	meta     metadata.Store
	mgr      *manager.Manager
	logger   *log.Logger
	uploads  int
	download int

	// mu serializes writers (upload, delete); downloads take the read lock.
	mu sync.RWMutex
}

// FileInfo is a file record together with its chunks.
type FileInfo struct {
	File   metadata.FileMetadata    `json:"file"`
	Chunks []metadata.ChunkMetadata `json:"chunks"`
}

// New creates a Service.
func New(fc *chunker.FileChunker, meta metadata.Store, mgr *manager.Manager, opts Options) *Service {
	s := &Service{
		chunker:  fc,
		meta:     meta,
		mgr:      mgr,
		logger:   opts.Logger,
		uploads:  opts.UploadWorkers,
		download: opts.DownloadWorkers,
	}
	if s.logger == nil {
		s.logger = log.New(io.Discard)
	}
	if s.uploads <= 0 {
		s.uploads = 4
	}
	if s.download <= 0 {
		s.download = 4
	}
	return s
}

// placed records where a chunk was stored, for rollback.
type placed struct {
	storageID string
	name      string
}

// UploadFile uploads the file at path under its base name.
func (s *Service) UploadFile(ctx context.Context, path string) (*metadata.FileMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, serrors.Wrap(serrors.ErrCodeNotFound, err, "open %s", path)
		}
		return nil, serrors.Wrap(serrors.ErrCodeInvalidInput, err, "open %s", path)
	}
	defer f.Close()
	return s.Upload(ctx, filepath.Base(path), f)
}

// Upload stores the contents of r as name.
func (s *Service) Upload(ctx context.Context, name string, r io.Reader) (_ *metadata.FileMetadata, err error) {
	if err := serrors.ValidateFileName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	var (
		size   int64
		chunks int
	)
	observability.Storage().OnUploadStart(ctx, name)
	defer func() {
		observability.Storage().OnUploadComplete(ctx, name, size, chunks, time.Since(start), err)
	}()

	exists, err := s.meta.FileExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, serrors.New(serrors.ErrCodeFileExists, "file %s already exists", name)
	}
	if err := s.meta.AddFile(ctx, name); err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		uploaded []placed
	)
	rollback := func(cause error) error {
		rctx := context.WithoutCancel(ctx)
		s.logger.Warn("upload failed, rolling back", "file", name, "chunks", len(uploaded), "err", cause)
		errs := []error{cause}
		for _, p := range uploaded {
			if err := s.mgr.DeleteChunk(rctx, p.storageID, p.name); err != nil && !serrors.Is(err, serrors.ErrCodeChunkNotFound) {
				errs = append(errs, err)
			}
		}
		if err := s.meta.DeleteFile(rctx, name); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	hasher := sha256.New()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.uploads)

	var streamErr error
	seen := make(map[string]bool)
	for c := range s.chunker.Stream(gctx, io.TeeReader(r, hasher), name) {
		if c.Err != nil {
			streamErr = serrors.Wrap(serrors.ErrCodeInvalidInput, c.Err, "read %s", name)
			break
		}
		if seen[c.Name] {
			streamErr = serrors.New(serrors.ErrCodeChunkExists, "duplicate chunk %s", c.Name)
			break
		}
		seen[c.Name] = true
		size += int64(len(c.Data))
		chunks++

		g.Go(func() error {
			st, err := s.mgr.UploadChunk(gctx, &c)
			if err != nil {
				return err
			}
			mu.Lock()
			uploaded = append(uploaded, placed{storageID: st.ID(), name: c.Name})
			mu.Unlock()
			return s.meta.AddChunk(gctx, metadata.ChunkMetadata{
				ChunkName: c.Name,
				FileName:  name,
				Size:      int64(len(c.Data)),
				Checksum:  c.ChecksumHex(),
				Index:     c.Index,
				StorageID: st.ID(),
			})
		})
	}
	werr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, rollback(err)
	}
	if err := errors.Join(streamErr, werr); err != nil {
		return nil, rollback(err)
	}

	if err := s.meta.CompleteFile(ctx, name, hex.EncodeToString(hasher.Sum(nil))); err != nil {
		return nil, rollback(err)
	}
	s.logger.Debug("stored file", "file", name, "bytes", size, "chunks", chunks)
	return s.meta.GetFile(ctx, name)
}

// Download writes the contents of name to w and returns the number of bytes
// written. All chunks are fetched and verified before anything is written.
func (s *Service) Download(ctx context.Context, name string, w io.Writer) (n int64, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := time.Now()
	observability.Storage().OnDownloadStart(ctx, name)
	defer func() {
		observability.Storage().OnDownloadComplete(ctx, name, n, time.Since(start), err)
	}()

	data, err := s.fetch(ctx, name)
	if err != nil {
		return 0, err
	}
	for _, d := range data {
		m, err := w.Write(d)
		n += int64(m)
		if err != nil {
			return n, serrors.Wrap(serrors.ErrCodeInternal, err, "write %s", name)
		}
	}
	return n, nil
}

// fetch returns the verified data of every chunk of name, in index order.
func (s *Service) fetch(ctx context.Context, name string) ([][]byte, error) {
	f, err := s.meta.GetFile(ctx, name)
	if err != nil {
		return nil, err
	}
	if !f.Complete() {
		return nil, serrors.New(serrors.ErrCodeFileIncomplete, "file %s has not finished uploading", name)
	}
	chunks, err := s.meta.ListChunks(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(chunks) != f.ChunkCount {
		return nil, serrors.New(serrors.ErrCodeFileIncomplete, "file %s: %d of %d chunks recorded", name, len(chunks), f.ChunkCount)
	}
	for i, c := range chunks {
		if c.Index != uint64(i) {
			return nil, serrors.New(serrors.ErrCodeFileIncomplete, "file %s: chunk index %d missing", name, i)
		}
	}

	data := make([][]byte, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.download)
	for i, cm := range chunks {
		g.Go(func() error {
			c, err := s.mgr.GetChunk(gctx, cm.StorageID, cm.ChunkName)
			if err != nil {
				return err
			}
			if c.Index != cm.Index || c.ChecksumHex() != cm.Checksum {
				return serrors.New(serrors.ErrCodeChecksumMismatch,
					"chunk %s does not match its metadata", cm.ChunkName)
			}
			data[i] = c.Data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if f.Checksum != "" {
		h := sha256.New()
		for _, d := range data {
			h.Write(d)
		}
		if got := hex.EncodeToString(h.Sum(nil)); got != f.Checksum {
			return nil, serrors.New(serrors.ErrCodeChecksumMismatch, "file %s: checksum %s, want %s", name, got, f.Checksum)
		}
	}
	return data, nil
}

// DownloadFile downloads name to path, replacing path only on success.
func (s *Service) DownloadFile(ctx context.Context, name, path string) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".storagex-*")
	if err != nil {
		return 0, serrors.Wrap(serrors.ErrCodeInternal, err, "create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	n, err := s.Download(ctx, name, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = serrors.Wrap(serrors.ErrCodeInternal, cerr, "close %s", tmp.Name())
	}
	if err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, serrors.Wrap(serrors.ErrCodeInternal, err, "rename to %s", path)
	}
	return n, nil
}

// Bytes downloads name into memory.
func (s *Service) Bytes(ctx context.Context, name string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := s.Download(ctx, name, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Verify fetches and checks every chunk of name without writing it anywhere.
func (s *Service) Verify(ctx context.Context, name string) (int64, error) {
	return s.Download(ctx, name, io.Discard)
}

// Delete removes every chunk of name and then its metadata. Chunk failures
// do not stop the deletion; they are returned joined.
func (s *Service) Delete(ctx context.Context, name string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chunks, err := s.meta.ListChunks(ctx, name)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		if _, err := s.meta.GetFile(ctx, name); err != nil {
			return err
		}
	}
	defer func() {
		observability.Storage().OnDelete(ctx, name, len(chunks), err)
	}()

	var errs []error
	for _, c := range chunks {
		err := s.mgr.DeleteChunk(ctx, c.StorageID, c.ChunkName)
		switch {
		case err == nil:
		case serrors.Is(err, serrors.ErrCodeChunkNotFound):
			s.logger.Debug("chunk already gone", "chunk", c.ChunkName, "storage", c.StorageID)
		default:
			s.logger.Warn("chunk delete failed", "chunk", c.ChunkName, "storage", c.StorageID, "err", err)
			errs = append(errs, err)
		}
	}
	metaErr := s.meta.DeleteFile(ctx, name)
	switch {
	case len(errs) > 0:
		return serrors.Wrap(serrors.ErrCodeNetwork, errors.Join(append(errs, metaErr)...), "delete %s incomplete", name)
	case metaErr != nil:
		return serrors.Wrap(serrors.ErrCodeMetadata, metaErr, "delete %s", name)
	}
	return nil
}

// List returns every file record.
func (s *Service) List(ctx context.Context) ([]metadata.FileMetadata, error) {
	return s.meta.ListFiles(ctx)
}

// Stat returns the file record and chunk list of name.
func (s *Service) Stat(ctx context.Context, name string) (*FileInfo, error) {
	f, err := s.meta.GetFile(ctx, name)
	if err != nil {
		return nil, err
	}
	chunks, err := s.meta.ListChunks(ctx, name)
	if err != nil {
		return nil, err
	}
	return &FileInfo{File: *f, Chunks: chunks}, nil
}

// Status reports the configured backends.
func (s *Service) Status(ctx context.Context) []manager.BackendStatus {
	return s.mgr.Status(ctx)
}
