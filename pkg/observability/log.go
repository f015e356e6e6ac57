package observability

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// LogHooks implements every hook interface by writing debug (or, for
// failures, warn) entries to a charm logger.
type LogHooks struct {
	logger *log.Logger
}

// NewLogHooks returns hooks that log to logger.
func NewLogHooks(logger *log.Logger) *LogHooks {
	return &LogHooks{logger: logger}
}

// Register installs h for every hook category.
func (h *LogHooks) Register() {
	SetStorageHooks(h)
	SetChunkHooks(h)
	SetCacheHooks(h)
	SetHTTPHooks(h)
}

func (h *LogHooks) OnUploadStart(_ context.Context, file string) {
	h.logger.Debug("upload started", "file", file)
}

func (h *LogHooks) OnUploadComplete(_ context.Context, file string, size int64, chunks int, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("upload failed", "file", file, "chunks", chunks, "duration", d.Round(time.Millisecond), "err", err)
		return
	}
	h.logger.Debug("upload complete", "file", file, "bytes", size, "chunks", chunks, "duration", d.Round(time.Millisecond))
}

func (h *LogHooks) OnDownloadStart(_ context.Context, file string) {
	h.logger.Debug("download started", "file", file)
}

func (h *LogHooks) OnDownloadComplete(_ context.Context, file string, size int64, d time.Duration, err error) {
	if err != nil {
		h.logger.Warn("download failed", "file", file, "duration", d.Round(time.Millisecond), "err", err)
		return
	}
	h.logger.Debug("download complete", "file", file, "bytes", size, "duration", d.Round(time.Millisecond))
}

func (h *LogHooks) OnDelete(_ context.Context, file string, chunks int, err error) {
	if err != nil {
		h.logger.Warn("delete incomplete", "file", file, "chunks", chunks, "err", err)
		return
	}
	h.logger.Debug("deleted", "file", file, "chunks", chunks)
}

func (h *LogHooks) OnChunkUpload(_ context.Context, storageID, chunk string, size int, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("chunk upload failed", "chunk", chunk, "storage", storageID, "err", err)
		return
	}
	h.logger.Debug("chunk stored", "chunk", chunk, "storage", storageID, "bytes", size, "duration", d.Round(time.Millisecond))
}

func (h *LogHooks) OnChunkDownload(_ context.Context, storageID, chunk string, size int, cached bool, d time.Duration, err error) {
	if err != nil {
		h.logger.Debug("chunk read failed", "chunk", chunk, "storage", storageID, "err", err)
		return
	}
	h.logger.Debug("chunk read", "chunk", chunk, "storage", storageID, "bytes", size, "cached", cached, "duration", d.Round(time.Millisecond))
}

func (h *LogHooks) OnFailover(_ context.Context, chunk, failedID string, err error) {
	h.logger.Warn("backend failed, trying next", "chunk", chunk, "storage", failedID, "err", err)
}

func (h *LogHooks) OnCacheHit(_ context.Context, key string) {
	h.logger.Debug("cache hit", "key", key)
}

func (h *LogHooks) OnCacheMiss(_ context.Context, key string) {
	h.logger.Debug("cache miss", "key", key)
}

func (h *LogHooks) OnCacheSet(_ context.Context, key string, size int) {
	h.logger.Debug("cache set", "key", key, "bytes", size)
}

func (h *LogHooks) OnRequest(_ context.Context, requestID, method, path string, status, bytes int, d time.Duration) {
	h.logger.Info("request", "id", requestID, "method", method, "path", path, "status", status, "bytes", bytes, "duration", d.Round(time.Microsecond))
}

var (
	_ StorageHooks = (*LogHooks)(nil)
	_ ChunkHooks   = (*LogHooks)(nil)
	_ CacheHooks   = (*LogHooks)(nil)
	_ HTTPHooks    = (*LogHooks)(nil)
)
