package cli

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCacheDirFromConfig(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)
	c := New(io.Discard, LogInfo)
	c.configPath = cfgPath

	got, err := c.cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}
	if want := filepath.Join(dir, "cache"); got != want {
		t.Errorf("cacheDir() = %q, want %q", got, want)
	}
}

func TestCacheDirXDG(t *testing.T) {
	customCache := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", customCache)

	c := New(io.Discard, LogInfo)
	c.configPath = filepath.Join(t.TempDir(), "missing.toml")

	got, err := c.cacheDir()
	if err != nil {
		t.Fatalf("cacheDir() error: %v", err)
	}
	if want := filepath.Join(customCache, appName, "chunks"); got != want {
		t.Errorf("cacheDir() with XDG_CACHE_HOME = %q, want %q", got, want)
	}
}

func TestOpenCacheMissingDir(t *testing.T) {
	cfgPath, dir := writeTestConfig(t)
	c := New(io.Discard, LogInfo)
	c.configPath = cfgPath

	fc, got, ok, err := c.openCache()
	if err != nil {
		t.Fatal(err)
	}
	if ok || fc != nil {
		t.Error("openCache() should report a missing directory")
	}
	if got != filepath.Join(dir, "cache") {
		t.Errorf("dir = %q", got)
	}
	if _, err := os.Stat(got); !os.IsNotExist(err) {
		t.Error("openCache() must not create the directory")
	}
}
