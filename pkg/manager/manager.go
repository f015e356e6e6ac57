// Package manager places chunks on storage backends and reads them back.
//
// A [Manager] owns the ordered list of configured backends. Uploads go to
// the backend chosen by the placement strategy and fail over to the next
// candidate when a backend keeps failing; reads go to the backend recorded
// in chunk metadata, through an optional local chunk cache.
package manager

import (
	"cmp"
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/storagex/pkg/cache"
	"github.com/matzehuels/storagex/pkg/chunker"
	"github.com/matzehuels/storagex/pkg/cloud"
	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/observability"
)

// Manager routes chunk operations to storage backends. It is safe for
// concurrent use.
type Manager struct {
	placement string
	cache     cache.Cache
	cacheTTL  time.Duration
	logger    *log.Logger
	attempts  int
	delay     time.Duration
	freeTTL   time.Duration

	mu       sync.RWMutex
	backends []cloud.Storage
	next     int // round-robin cursor
	free     map[string]freeEntry
}

// freeEntry is a remembered FreeSpace answer, debited as chunks are placed.
type freeEntry struct {
	bytes int64
	at    time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPlacement selects the placement strategy (config.Placement*).
func WithPlacement(p string) Option {
	return func(m *Manager) {
		if p != "" {
			m.placement = p
		}
	}
}

// WithCache enables read-through caching of downloaded chunks.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(m *Manager) {
		if c != nil {
			m.cache = c
			m.cacheTTL = ttl
		}
	}
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRetry sets the per-backend retry policy for chunk operations.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.attempts = attempts
		m.delay = delay
	}
}

// WithFreeSpaceTTL sets how long a backend's reported free space is reused
// before the backend is asked again. Zero asks on every chunk.
func WithFreeSpaceTTL(d time.Duration) Option {
	return func(m *Manager) {
		m.freeTTL = d
	}
}

// New creates a Manager with no backends.
func New(opts ...Option) *Manager {
	m := &Manager{
		placement: config.PlacementFirst,
		cache:     cache.NewNullCache(),
		logger:    log.New(io.Discard),
		attempts:  3,
		delay:     500 * time.Millisecond,
		freeTTL:   30 * time.Second,
		free:      make(map[string]freeEntry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add appends s to the backend list. It returns false and leaves the list
// unchanged if a backend with the same ID is already registered.
func (m *Manager) Add(s cloud.Storage) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.backends {
		if b.ID() == s.ID() {
			m.logger.Debug("duplicate backend ignored", "storage", s.ID())
			return false
		}
	}
	m.backends = append(m.backends, s)
	return true
}

// Backends returns a copy of the backend list in registration order.
func (m *Manager) Backends() []cloud.Storage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.backends)
}

// Lookup returns the backend with the given storage ID, or nil.
func (m *Manager) Lookup(id string) cloud.Storage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, b := range m.backends {
		if b.ID() == id {
			return b
		}
	}
	return nil
}

func (m *Manager) lookup(id string) (cloud.Storage, error) {
	if s := m.Lookup(id); s != nil {
		return s, nil
	}
	return nil, serrors.New(serrors.ErrCodeStorageNotFound, "storage system %s is not configured", id)
}

// UploadChunk serializes c and stores it on the first candidate backend
// that accepts it, retrying transient failures on each backend before
// moving on. It returns the backend holding the chunk.
func (m *Manager) UploadChunk(ctx context.Context, c *chunker.Chunk) (cloud.Storage, error) {
	data := c.Bytes()
	candidates, err := m.candidates(ctx, int64(len(data)))
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, s := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		err := cloud.Retry(ctx, m.attempts, m.delay, func() error {
			return s.UploadChunk(ctx, c.Name, data)
		})
		observability.Chunk().OnChunkUpload(ctx, s.ID(), c.Name, len(data), time.Since(start), err)
		if err == nil {
			m.debit(s.ID(), int64(len(data)))
			return s, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		observability.Chunk().OnFailover(ctx, c.Name, s.ID(), err)
		errs = append(errs, err)
	}
	return nil, serrors.Wrap(serrors.ErrCodeNetwork, errors.Join(errs...),
		"upload %s failed on %d backend(s)", c.Name, len(candidates))
}

type spaceInfo struct {
	s     cloud.Storage
	free  int64
	known bool
}

// candidates returns the backends eligible for a payload of size bytes,
// ordered by the placement strategy.
func (m *Manager) candidates(ctx context.Context, size int64) ([]cloud.Storage, error) {
	m.mu.Lock()
	backends := slices.Clone(m.backends)
	start := 0
	if m.placement == config.PlacementRoundRobin && len(backends) > 0 {
		start = m.next % len(backends)
		m.next++
	}
	m.mu.Unlock()

	if len(backends) == 0 {
		return nil, serrors.New(serrors.ErrCodeNoStorage, "no storage systems configured")
	}
	backends = append(backends[start:], backends[:start]...)

	infos := make([]spaceInfo, 0, len(backends))
	for _, s := range backends {
		free, err := m.freeSpace(ctx, s)
		if err != nil {
			m.logger.Debug("free space unknown", "storage", s.ID(), "err", err)
			infos = append(infos, spaceInfo{s: s})
			continue
		}
		if free != cloud.Unlimited && free < size {
			m.logger.Debug("backend full, skipping", "storage", s.ID(), "free", free, "need", size)
			continue
		}
		infos = append(infos, spaceInfo{s: s, free: free, known: true})
	}
	if len(infos) == 0 {
		return nil, serrors.New(serrors.ErrCodeStorageFull, "no backend has %d bytes free", size)
	}

	if m.placement == config.PlacementMostFree {
		slices.SortStableFunc(infos, func(a, b spaceInfo) int {
			return cmp.Compare(rank(b), rank(a))
		})
	}

	out := make([]cloud.Storage, len(infos))
	for i, in := range infos {
		out[i] = in.s
	}
	return out, nil
}

// freeSpace returns the free bytes of s, reusing a recent answer so that
// placing many chunks does not query provider quota APIs once per chunk.
// Failed lookups are not remembered.
func (m *Manager) freeSpace(ctx context.Context, s cloud.Storage) (int64, error) {
	id := s.ID()
	m.mu.RLock()
	e, ok := m.free[id]
	m.mu.RUnlock()
	if ok && time.Since(e.at) < m.freeTTL {
		return e.bytes, nil
	}

	free, err := s.FreeSpace(ctx)
	if err != nil {
		m.forget(id)
		return 0, err
	}
	m.remember(id, free)
	return free, nil
}

func (m *Manager) remember(id string, free int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.free[id] = freeEntry{bytes: free, at: time.Now()}
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.free, id)
}

// debit subtracts n placed bytes from the remembered free space of id.
func (m *Manager) debit(id string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.free[id]
	if !ok || e.bytes == cloud.Unlimited {
		return
	}
	e.bytes = max(e.bytes-n, 0)
	m.free[id] = e
}

// rank orders backends for most-free placement: unlimited first, then by
// free bytes, unknown last.
func rank(in spaceInfo) int64 {
	switch {
	case !in.known:
		return -2
	case in.free == cloud.Unlimited:
		return 1<<63 - 1
	default:
		return in.free
	}
}

// GetChunk fetches and parses chunk name from storageID. Verified chunks
// are cached; a cached entry that no longer parses is evicted and fetched
// again.
func (m *Manager) GetChunk(ctx context.Context, storageID, name string) (*chunker.Chunk, error) {
	s, err := m.lookup(storageID)
	if err != nil {
		return nil, err
	}

	key := cache.Key(storageID, name)
	start := time.Now()
	if b, hit, err := m.cache.Get(ctx, key); err == nil && hit {
		if c, err := parse(b); err == nil {
			c.Name = name
			observability.Cache().OnCacheHit(ctx, key)
			observability.Chunk().OnChunkDownload(ctx, storageID, name, len(b), true, time.Since(start), nil)
			return c, nil
		}
		_ = m.cache.Delete(ctx, key)
	}
	observability.Cache().OnCacheMiss(ctx, key)

	var b []byte
	err = cloud.Retry(ctx, m.attempts, m.delay, func() error {
		var err error
		b, err = s.GetChunk(ctx, name)
		return err
	})
	if err != nil {
		observability.Chunk().OnChunkDownload(ctx, storageID, name, 0, false, time.Since(start), err)
		if errors.Is(err, cloud.ErrChunkNotFound) {
			return nil, serrors.Wrap(serrors.ErrCodeChunkNotFound, err, "chunk %s missing from %s", name, storageID)
		}
		return nil, serrors.Wrap(serrors.ErrCodeNetwork, err, "download chunk %s", name)
	}

	c, err := parse(b)
	observability.Chunk().OnChunkDownload(ctx, storageID, name, len(b), false, time.Since(start), err)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeChecksumMismatch, err, "chunk %s from %s", name, storageID)
	}
	if err := m.cache.Set(ctx, key, b, m.cacheTTL); err != nil {
		m.logger.Debug("cache write failed", "key", key, "err", err)
	} else {
		observability.Cache().OnCacheSet(ctx, key, len(b))
	}
	c.Name = name
	return c, nil
}

func parse(b []byte) (*chunker.Chunk, error) {
	c, err := chunker.Parse(b)
	if err != nil {
		return nil, err
	}
	if err := c.Verify(); err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteChunk removes chunk name from storageID and evicts it from the cache.
func (m *Manager) DeleteChunk(ctx context.Context, storageID, name string) error {
	s, err := m.lookup(storageID)
	if err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, cache.Key(storageID, name)); err != nil {
		m.logger.Debug("cache evict failed", "chunk", name, "err", err)
	}
	err = cloud.Retry(ctx, m.attempts, m.delay, func() error {
		return s.DeleteChunk(ctx, name)
	})
	if err == nil {
		m.forget(storageID)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, cloud.ErrChunkNotFound):
		return serrors.Wrap(serrors.ErrCodeChunkNotFound, err, "chunk %s missing from %s", name, storageID)
	default:
		return serrors.Wrap(serrors.ErrCodeNetwork, err, "delete chunk %s", name)
	}
}

// BackendStatus describes one backend for display.
type BackendStatus struct {
	ID       string `json:"id"`
	Provider string `json:"provider"`
	Free     int64  `json:"free"` // cloud.Unlimited when unknown or unbounded
	Error    string `json:"error,omitempty"`
}

// Status reports each backend's free space in registration order.
func (m *Manager) Status(ctx context.Context) []BackendStatus {
	backends := m.Backends()
	out := make([]BackendStatus, len(backends))
	for i, s := range backends {
		out[i] = BackendStatus{ID: s.ID(), Provider: s.Provider(), Free: cloud.Unlimited}
		free, err := s.FreeSpace(ctx)
		if err != nil {
			m.forget(s.ID())
			out[i].Error = err.Error()
			continue
		}
		m.remember(s.ID(), free)
		out[i].Free = free
	}
	return out
}

// Close closes every backend that holds connections.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.Backends() {
		if err := cloud.Close(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
