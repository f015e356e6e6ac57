// Package local stores chunks as files in a directory.
package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "local"

var errBadName = errors.New("object name must be a plain file name")

// Storage is a directory-backed backend.
type Storage struct {
	dir   string
	quota int64
}

// New creates the directory if needed. A quota of zero or less means
// unlimited.
func New(dir string, quota int64) (*Storage, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	return &Storage{dir: abs, quota: quota}, nil
}

func (s *Storage) ID() string       { return provider + ":" + s.dir }
func (s *Storage) Provider() string { return provider }

// Dir returns the absolute storage directory.
func (s *Storage) Dir() string { return s.dir }

func (s *Storage) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", errBadName
	}
	return filepath.Join(s.dir, name), nil
}

// UploadChunk writes to a temporary file and renames it into place, so a
// reader never sees a partial object.
func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(name)
	if err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	if s.quota > 0 {
		used, err := s.used()
		if err != nil {
			return cloud.WrapError(provider, cloud.OpUpload, name, err)
		}
		if info, err := os.Stat(path); err == nil {
			used -= info.Size()
		}
		if used+int64(len(data)) > s.quota {
			return cloud.WrapError(provider, cloud.OpUpload, name, cloud.ErrQuotaExceeded)
		}
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	if err := tmp.Close(); err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	return cloud.WrapError(provider, cloud.OpUpload, name, os.Rename(tmp.Name(), path))
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(name)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, err)
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.ErrChunkNotFound)
	}
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, err)
	}
	return data, nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.path(name)
	if err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, err)
	}
	err = os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cloud.WrapError(provider, cloud.OpDelete, name, cloud.ErrChunkNotFound)
	}
	return cloud.WrapError(provider, cloud.OpDelete, name, err)
}

func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	if s.quota <= 0 {
		return cloud.Unlimited, nil
	}
	used, err := s.used()
	if err != nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", err)
	}
	return max(s.quota-used, 0), nil
}

func (s *Storage) used() (int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".upload-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

var _ cloud.Storage = (*Storage)(nil)
