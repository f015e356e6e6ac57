// Package cloudtest holds a behavioural test suite shared by all backends.
package cloudtest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/matzehuels/storagex/pkg/cloud"
)

// Run exercises the cloud.Storage contract against s. Object names are
// prefixed with a per-run token so the suite can run against shared
// live backends.
func Run(t *testing.T, s cloud.Storage) {
	t.Helper()
	ctx := context.Background()
	prefix := fmt.Sprintf("cloudtest-%d", time.Now().UnixNano())

	t.Run("id", func(t *testing.T) {
		id := s.ID()
		if !strings.HasPrefix(id, s.Provider()+":") {
			t.Errorf("ID() = %q, want prefix %q", id, s.Provider()+":")
		}
		if len(id) <= len(s.Provider())+1 {
			t.Errorf("ID() = %q has no identity part", id)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		name := prefix + "-chunk-0"
		data := []byte("chunk payload \x00\x01\x02")
		if err := s.UploadChunk(ctx, name, data); err != nil {
			t.Fatalf("UploadChunk() error: %v", err)
		}
		t.Cleanup(func() { _ = s.DeleteChunk(ctx, name) })

		got, err := s.GetChunk(ctx, name)
		if err != nil {
			t.Fatalf("GetChunk() error: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("GetChunk() = %q, want %q", got, data)
		}
	})

	t.Run("overwrite", func(t *testing.T) {
		name := prefix + "-chunk-1"
		if err := s.UploadChunk(ctx, name, []byte("first")); err != nil {
			t.Fatalf("UploadChunk() error: %v", err)
		}
		t.Cleanup(func() { _ = s.DeleteChunk(ctx, name) })
		if err := s.UploadChunk(ctx, name, []byte("second")); err != nil {
			t.Fatalf("second UploadChunk() error: %v", err)
		}
		got, err := s.GetChunk(ctx, name)
		if err != nil {
			t.Fatalf("GetChunk() error: %v", err)
		}
		if string(got) != "second" {
			t.Errorf("GetChunk() = %q, want %q", got, "second")
		}
	})

	t.Run("delete", func(t *testing.T) {
		name := prefix + "-chunk-2"
		if err := s.UploadChunk(ctx, name, []byte("x")); err != nil {
			t.Fatalf("UploadChunk() error: %v", err)
		}
		if err := s.DeleteChunk(ctx, name); err != nil {
			t.Fatalf("DeleteChunk() error: %v", err)
		}
		if _, err := s.GetChunk(ctx, name); !errors.Is(err, cloud.ErrChunkNotFound) {
			t.Errorf("GetChunk() after delete error = %v, want ErrChunkNotFound", err)
		}
	})

	t.Run("missing", func(t *testing.T) {
		if _, err := s.GetChunk(ctx, prefix+"-missing"); !errors.Is(err, cloud.ErrChunkNotFound) {
			t.Errorf("GetChunk(missing) error = %v, want ErrChunkNotFound", err)
		}
	})

	t.Run("free space", func(t *testing.T) {
		free, err := s.FreeSpace(ctx)
		if err != nil {
			t.Fatalf("FreeSpace() error: %v", err)
		}
		if free < 0 && free != cloud.Unlimited {
			t.Errorf("FreeSpace() = %d, want >= 0 or Unlimited", free)
		}
	})
}
