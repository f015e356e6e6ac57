// Package observability provides hooks for metrics, tracing, and logging.
//
// Libraries emit events through the registered hooks without depending on
// any observability backend. The defaults are no-ops; the CLI registers
// [LogHooks] so that -v turns storage events into debug logs, and other
// frontends can register metrics or tracing implementations instead.
//
// Register hooks at application startup:
//
//	observability.SetStorageHooks(observability.NewLogHooks(logger))
//
// Libraries call hooks to emit events:
//
//	observability.Storage().OnUploadStart(ctx, name)
//	// ... upload ...
//	observability.Storage().OnUploadComplete(ctx, name, size, chunks, time.Since(start), err)
package observability

import (
	"context"
	"sync"
	"time"
)

// StorageHooks receives file-level events from the storage service.
type StorageHooks interface {
	OnUploadStart(ctx context.Context, file string)
	OnUploadComplete(ctx context.Context, file string, size int64, chunks int, duration time.Duration, err error)

	OnDownloadStart(ctx context.Context, file string)
	OnDownloadComplete(ctx context.Context, file string, size int64, duration time.Duration, err error)

	OnDelete(ctx context.Context, file string, chunks int, err error)
}

// ChunkHooks receives chunk-level events from the storage manager.
type ChunkHooks interface {
	// OnChunkUpload records a chunk upload attempt on one backend.
	OnChunkUpload(ctx context.Context, storageID, chunk string, size int, duration time.Duration, err error)

	// OnChunkDownload records a chunk read; cached is true for cache hits.
	OnChunkDownload(ctx context.Context, storageID, chunk string, size int, cached bool, duration time.Duration, err error)

	// OnFailover records that chunk is moving on from a failed backend.
	OnFailover(ctx context.Context, chunk, failedID string, err error)
}

// CacheHooks receives events from cache operations.
type CacheHooks interface {
	OnCacheHit(ctx context.Context, key string)
	OnCacheMiss(ctx context.Context, key string)
	OnCacheSet(ctx context.Context, key string, size int)
}

// HTTPHooks receives events from the HTTP service.
type HTTPHooks interface {
	OnRequest(ctx context.Context, requestID, method, path string, status int, bytes int, duration time.Duration)
}

// NoopStorageHooks is a no-op implementation of StorageHooks.
type NoopStorageHooks struct{}

func (NoopStorageHooks) OnUploadStart(context.Context, string) {}
func (NoopStorageHooks) OnUploadComplete(context.Context, string, int64, int, time.Duration, error) {
}
func (NoopStorageHooks) OnDownloadStart(context.Context, string)                                {}
func (NoopStorageHooks) OnDownloadComplete(context.Context, string, int64, time.Duration, error) {}
func (NoopStorageHooks) OnDelete(context.Context, string, int, error)                           {}

// NoopChunkHooks is a no-op implementation of ChunkHooks.
type NoopChunkHooks struct{}

func (NoopChunkHooks) OnChunkUpload(context.Context, string, string, int, time.Duration, error) {}
func (NoopChunkHooks) OnChunkDownload(context.Context, string, string, int, bool, time.Duration, error) {
}
func (NoopChunkHooks) OnFailover(context.Context, string, string, error) {}

// NoopCacheHooks is a no-op implementation of CacheHooks.
type NoopCacheHooks struct{}

func (NoopCacheHooks) OnCacheHit(context.Context, string)      {}
func (NoopCacheHooks) OnCacheMiss(context.Context, string)     {}
func (NoopCacheHooks) OnCacheSet(context.Context, string, int) {}

// NoopHTTPHooks is a no-op implementation of HTTPHooks.
type NoopHTTPHooks struct{}

func (NoopHTTPHooks) OnRequest(context.Context, string, string, string, int, int, time.Duration) {}

var (
	storageHooks StorageHooks = NoopStorageHooks{}
	chunkHooks   ChunkHooks   = NoopChunkHooks{}
	cacheHooks   CacheHooks   = NoopCacheHooks{}
	httpHooks    HTTPHooks    = NoopHTTPHooks{}
	hooksMu      sync.RWMutex
)

// SetStorageHooks registers custom storage hooks. Nil is ignored.
func SetStorageHooks(h StorageHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		storageHooks = h
	}
}

// SetChunkHooks registers custom chunk hooks. Nil is ignored.
func SetChunkHooks(h ChunkHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		chunkHooks = h
	}
}

// SetCacheHooks registers custom cache hooks. Nil is ignored.
func SetCacheHooks(h CacheHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		cacheHooks = h
	}
}

// SetHTTPHooks registers custom HTTP hooks. Nil is ignored.
func SetHTTPHooks(h HTTPHooks) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	if h != nil {
		httpHooks = h
	}
}

// Storage returns the registered storage hooks.
func Storage() StorageHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return storageHooks
}

// Chunk returns the registered chunk hooks.
func Chunk() ChunkHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return chunkHooks
}

// Cache returns the registered cache hooks.
func Cache() CacheHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return cacheHooks
}

// HTTP returns the registered HTTP hooks.
func HTTP() HTTPHooks {
	hooksMu.RLock()
	defer hooksMu.RUnlock()
	return httpHooks
}

// Reset restores all hooks to their no-op defaults.
// This is primarily useful for testing.
func Reset() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	storageHooks = NoopStorageHooks{}
	chunkHooks = NoopChunkHooks{}
	cacheHooks = NoopCacheHooks{}
	httpHooks = NoopHTTPHooks{}
}
