// Package memory provides an in-process chunk backend.
//
// It is used by tests and by dry runs (a [[cloud.memory]] config entry).
// Fail injects errors into subsequent operations so that callers' retry,
// failover and rollback paths can be exercised.
package memory

import (
	"context"
	"sync"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "memory"

// Storage keeps chunks in a map.
type Storage struct {
	name  string
	quota int64

	mu     sync.RWMutex
	chunks map[string][]byte
	used   int64
	faults map[string][]error
	calls  map[string]int
}

// New creates a backend with ID "memory:<name>". A quota of zero or less
// means unlimited.
func New(name string, quota int64) *Storage {
	return &Storage{
		name:   name,
		quota:  quota,
		chunks: make(map[string][]byte),
		faults: make(map[string][]error),
		calls:  make(map[string]int),
	}
}

func (s *Storage) ID() string       { return provider + ":" + s.name }
func (s *Storage) Provider() string { return provider }

// Fail queues errs to be returned, one per call, by the next operations of
// kind op (one of the cloud.Op* constants).
func (s *Storage) Fail(op string, errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], errs...)
}

// Calls returns how many times op has been invoked.
func (s *Storage) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// Len returns the number of stored chunks.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Has reports whether name is stored.
func (s *Storage) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.chunks[name]
	return ok
}

// Corrupt flips a byte of the stored object, for checksum tests.
func (s *Storage) Corrupt(name string, offset int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.chunks[name]
	if !ok || offset >= len(b) {
		return false
	}
	b[offset] ^= 0xff
	return true
}

// fault records the call and pops the next injected error for op.
// Must be called with mu held.
func (s *Storage) fault(op string) error {
	s.calls[op]++
	q := s.faults[op]
	if len(q) == 0 {
		return nil
	}
	s.faults[op] = q[1:]
	return q[0]
}

func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(cloud.OpUpload); err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}

	delta := int64(len(data)) - int64(len(s.chunks[name]))
	if s.quota > 0 && s.used+delta > s.quota {
		return cloud.WrapError(provider, cloud.OpUpload, name, cloud.ErrQuotaExceeded)
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.chunks[name] = buf
	s.used += delta
	return nil
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(cloud.OpDownload); err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, err)
	}
	b, ok := s.chunks[name]
	if !ok {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.ErrChunkNotFound)
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(cloud.OpDelete); err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, err)
	}
	b, ok := s.chunks[name]
	if !ok {
		return cloud.WrapError(provider, cloud.OpDelete, name, cloud.ErrChunkNotFound)
	}
	s.used -= int64(len(b))
	delete(s.chunks, name)
	return nil
}

func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fault(cloud.OpQuota); err != nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", err)
	}
	if s.quota <= 0 {
		return cloud.Unlimited, nil
	}
	return s.quota - s.used, nil
}

var _ cloud.Storage = (*Storage)(nil)
