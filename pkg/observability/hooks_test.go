package observability

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNoopHooksDoNotPanic(t *testing.T) {
	ctx := context.Background()

	s := NoopStorageHooks{}
	s.OnUploadStart(ctx, "a.txt")
	s.OnUploadComplete(ctx, "a.txt", 10, 1, time.Second, nil)
	s.OnDownloadStart(ctx, "a.txt")
	s.OnDownloadComplete(ctx, "a.txt", 10, time.Second, nil)
	s.OnDelete(ctx, "a.txt", 1, nil)

	c := NoopChunkHooks{}
	c.OnChunkUpload(ctx, "memory:x", "a.txt-chunk-0", 10, time.Second, nil)
	c.OnChunkDownload(ctx, "memory:x", "a.txt-chunk-0", 10, true, time.Second, nil)
	c.OnFailover(ctx, "a.txt-chunk-0", "memory:x", errors.New("boom"))

	k := NoopCacheHooks{}
	k.OnCacheHit(ctx, "k")
	k.OnCacheMiss(ctx, "k")
	k.OnCacheSet(ctx, "k", 10)

	NoopHTTPHooks{}.OnRequest(ctx, "id", "GET", "/healthz", 200, 2, time.Millisecond)
}

func TestGlobalHooksRegistry(t *testing.T) {
	Reset()
	defer Reset()

	if _, ok := Storage().(NoopStorageHooks); !ok {
		t.Error("Storage() should return NoopStorageHooks by default")
	}
	if _, ok := Chunk().(NoopChunkHooks); !ok {
		t.Error("Chunk() should return NoopChunkHooks by default")
	}
	if _, ok := Cache().(NoopCacheHooks); !ok {
		t.Error("Cache() should return NoopCacheHooks by default")
	}
	if _, ok := HTTP().(NoopHTTPHooks); !ok {
		t.Error("HTTP() should return NoopHTTPHooks by default")
	}

	custom := &testStorageHooks{}
	SetStorageHooks(custom)
	if Storage() != custom {
		t.Error("SetStorageHooks should set custom hooks")
	}
	SetStorageHooks(nil)
	if Storage() != custom {
		t.Error("SetStorageHooks(nil) should be ignored")
	}

	Reset()
	if _, ok := Storage().(NoopStorageHooks); !ok {
		t.Error("Reset() should restore NoopStorageHooks")
	}
}

func TestLogHooks(t *testing.T) {
	Reset()
	defer Reset()

	var buf bytes.Buffer
	logger := log.NewWithOptions(&buf, log.Options{Level: log.DebugLevel})
	h := NewLogHooks(logger)
	h.Register()

	ctx := context.Background()
	Storage().OnUploadComplete(ctx, "report.pdf", 2048, 3, time.Second, nil)
	Chunk().OnFailover(ctx, "report.pdf-chunk-1", "dropbox:abc", errors.New("rate limited"))
	Cache().OnCacheHit(ctx, "chunk:x")
	HTTP().OnRequest(ctx, "req-1", "GET", "/api/v1/files", 200, 10, time.Millisecond)

	out := buf.String()
	for _, want := range []string{"upload complete", "report.pdf", "backend failed", "dropbox:abc", "cache hit", "req-1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

func TestLogHooksRespectLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewLogHooks(log.NewWithOptions(&buf, log.Options{Level: log.InfoLevel}))
	h.OnChunkUpload(context.Background(), "memory:x", "c", 1, time.Millisecond, nil)
	if buf.Len() != 0 {
		t.Errorf("debug events should be hidden at info level, got %q", buf.String())
	}
	h.OnUploadComplete(context.Background(), "f", 0, 0, 0, errors.New("boom"))
	if !strings.Contains(buf.String(), "upload failed") {
		t.Errorf("failures should be logged at info level, got %q", buf.String())
	}
}

type testStorageHooks struct{ NoopStorageHooks }
