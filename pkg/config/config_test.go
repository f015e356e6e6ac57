package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	serrors "github.com/matzehuels/storagex/pkg/errors"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load() error = %v, want fs.ErrNotExist", err)
	}
	if cfg == nil {
		t.Fatal("Load() returned nil config for a missing file")
	}
	if cfg.ChunkSize != DefaultChunkSize {
		t.Errorf("ChunkSize = %d, want %d", cfg.ChunkSize, DefaultChunkSize)
	}
	if cfg.Metadata.Driver != DriverSQLite || cfg.Metadata.DBPath != DefaultDBPath {
		t.Errorf("Metadata = %+v, want sqlite at %s", cfg.Metadata, DefaultDBPath)
	}
	if cfg.Parallel.Upload != DefaultUploadWorkers || cfg.Parallel.Download != DefaultDownloadWorkers {
		t.Errorf("Parallel = %+v", cfg.Parallel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"chunk_size": 4096,
		"placement": "round-robin",
		"log": {"debug": true},
		"metadata": {"db_path": "meta.db"},
		"cloud": {
			"dropbox_access_tokens": ["TOKEN_A"],
			"local": [{"dir": "/tmp/a"}, {"dir": "/tmp/b", "quota": 100}]
		}
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.ChunkSize != 4096 {
		t.Errorf("ChunkSize = %d, want 4096", cfg.ChunkSize)
	}
	if cfg.Placement != PlacementRoundRobin {
		t.Errorf("Placement = %q", cfg.Placement)
	}
	if !cfg.Log.Debug {
		t.Error("Log.Debug = false, want true")
	}
	if cfg.Metadata.DBPath != "meta.db" || cfg.Metadata.Driver != DriverSQLite {
		t.Errorf("Metadata = %+v", cfg.Metadata)
	}
	if len(cfg.Cloud.Local) != 2 || cfg.Cloud.Local[1].Quota != 100 {
		t.Errorf("Cloud.Local = %+v", cfg.Cloud.Local)
	}
	if len(cfg.Cloud.DropboxAccessTokens) != 1 || cfg.Cloud.DropboxAccessTokens[0] != "TOKEN_A" {
		t.Errorf("DropboxAccessTokens = %v", cfg.Cloud.DropboxAccessTokens)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
chunk_size = 2048

[metadata]
driver = "postgres"
dsn = "postgres://localhost/storagex"

[[cloud.s3]]
bucket = "chunks"
region = "eu-west-1"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Metadata.Driver != DriverPostgres || cfg.Metadata.DSN == "" {
		t.Errorf("Metadata = %+v", cfg.Metadata)
	}
	if len(cfg.Cloud.S3) != 1 || cfg.Cloud.S3[0].Bucket != "chunks" {
		t.Errorf("Cloud.S3 = %+v", cfg.Cloud.S3)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("STORAGEX_CHUNK_SIZE", "8192")
	t.Setenv("STORAGEX_METADATA_DB_PATH", "/data/env.db")

	cfg, _ := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if cfg.ChunkSize != 8192 {
		t.Errorf("ChunkSize = %d, want 8192", cfg.ChunkSize)
	}
	if cfg.Metadata.DBPath != "/data/env.db" {
		t.Errorf("DBPath = %q, want /data/env.db", cfg.Metadata.DBPath)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail on malformed JSON")
	}
	if cfg != nil {
		t.Error("Load() should return nil config on decode failure")
	}
	if !serrors.Is(err, serrors.ErrCodeInvalidConfig) {
		t.Errorf("error code = %q, want %q", serrors.GetCode(err), serrors.ErrCodeInvalidConfig)
	}
}

func TestLookupSecrets(t *testing.T) {
	t.Setenv("TEST_DROPBOX_TOKEN", "secret-token")
	t.Setenv("TEST_REDIS_PW", "hunter2")

	cfg := Default()
	cfg.Cloud.DropboxAccessTokens = []string{"TEST_DROPBOX_TOKEN", "", "TEST_UNSET_VAR_XYZ"}
	cfg.Cloud.Redis = []RedisConfig{
		{Addr: "localhost:6379", PasswordEnv: "TEST_REDIS_PW"},
		{Addr: "localhost:6380"},
	}

	warnings := LookupSecrets(cfg)
	if len(warnings) != 2 {
		t.Errorf("got %d warnings %v, want 2", len(warnings), warnings)
	}
	want := []string{"secret-token", "", ""}
	for i, w := range want {
		if cfg.Cloud.DropboxAccessTokens[i] != w {
			t.Errorf("token %d = %q, want %q", i, cfg.Cloud.DropboxAccessTokens[i], w)
		}
	}
	if cfg.Cloud.Redis[0].Password != "hunter2" {
		t.Errorf("redis password = %q, want hunter2", cfg.Cloud.Redis[0].Password)
	}
	if cfg.BackendCount() != 3 {
		t.Errorf("BackendCount() = %d, want 3", cfg.BackendCount())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"chunk too small", func(c *Config) { c.ChunkSize = 48 }},
		{"zero upload workers", func(c *Config) { c.Parallel.Upload = 0 }},
		{"bad placement", func(c *Config) { c.Placement = "random" }},
		{"bad driver", func(c *Config) { c.Metadata.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Metadata.Driver = DriverPostgres }},
		{"sqlite without path", func(c *Config) { c.Metadata.DBPath = "" }},
		{"bad ttl", func(c *Config) { c.Cache.TTL = "soon" }},
		{"s3 without bucket", func(c *Config) { c.Cloud.S3 = []S3Config{{Region: "us-east-1"}} }},
		{"gdrive without folder", func(c *Config) { c.Cloud.GDrive = []GDriveConfig{{CredentialsFile: "c.json"}} }},
		{"local without dir", func(c *Config) { c.Cloud.Local = []LocalConfig{{}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !serrors.Is(err, serrors.ErrCodeInvalidConfig) {
				t.Errorf("code = %q, want %q", serrors.GetCode(err), serrors.ErrCodeInvalidConfig)
			}
		})
	}
}

func TestWriteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.ChunkSize = 65536
	cfg.Cloud.Local = []LocalConfig{{Dir: "/srv/chunks", Quota: 1 << 30}}
	cfg.Cloud.Redis = []RedisConfig{{Addr: "redis:6379", PasswordEnv: "REDIS_PW", Password: "leak"}}

	if err := Write(cfg, path, false); err != nil {
		t.Fatalf("Write() error: %v", err)
	}
	if err := Write(cfg, path, false); !serrors.Is(err, serrors.ErrCodeFileExists) {
		t.Errorf("second Write() error = %v, want FILE_EXISTS", err)
	}
	if err := Write(cfg, path, true); err != nil {
		t.Errorf("forced Write() error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "leak") {
		t.Error("resolved password must not be written")
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.ChunkSize != 65536 {
		t.Errorf("ChunkSize = %d, want 65536", got.ChunkSize)
	}
	if len(got.Cloud.Local) != 1 || got.Cloud.Local[0].Dir != "/srv/chunks" {
		t.Errorf("Cloud.Local = %+v", got.Cloud.Local)
	}
	if len(got.Cloud.Redis) != 1 || got.Cloud.Redis[0].PasswordEnv != "REDIS_PW" {
		t.Errorf("Cloud.Redis = %+v", got.Cloud.Redis)
	}
}

func TestWriteRejectsNonTOML(t *testing.T) {
	err := Write(Default(), filepath.Join(t.TempDir(), "config.json"), false)
	if !serrors.Is(err, serrors.ErrCodeUnsupported) {
		t.Errorf("Write(.json) error = %v, want UNSUPPORTED", err)
	}
}
