// Package config loads storageX configuration.
//
// Configuration is read with viper from a JSON, TOML or YAML file (chosen by
// extension) and may be overridden per key by STORAGEX_* environment
// variables, e.g. STORAGEX_CHUNK_SIZE or STORAGEX_METADATA_DB_PATH.
//
// Provider credentials are never stored in the file directly. Dropbox
// tokens and the Redis password are given as the *names* of environment
// variables and resolved by [LookupSecrets] at load time.
//
// A minimal TOML configuration:
//
//	chunk_size = 1048576
//	placement  = "most-free"
//
//	[metadata]
//	driver  = "sqlite"
//	db_path = "metadata.db"
//
//	[cloud]
//	dropbox_access_tokens = ["DROPBOX_ACCESS_TOKEN"]
//
//	[[cloud.local]]
//	dir = "/var/lib/storagex/chunks"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/matzehuels/storagex/pkg/chunker"
	serrors "github.com/matzehuels/storagex/pkg/errors"
)

// Metadata drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Placement strategies for new chunks.
const (
	PlacementFirst      = "first"
	PlacementMostFree   = "most-free"
	PlacementRoundRobin = "round-robin"
)

// Config is the complete storageX configuration.
type Config struct {
	ChunkSize int            `mapstructure:"chunk_size" toml:"chunk_size"`
	Placement string         `mapstructure:"placement" toml:"placement"`
	Parallel  ParallelConfig `mapstructure:"parallel" toml:"parallel"`
	Log       LogConfig      `mapstructure:"log" toml:"log"`
	Metadata  MetadataConfig `mapstructure:"metadata" toml:"metadata"`
	Cloud     CloudConfig    `mapstructure:"cloud" toml:"cloud"`
	Cache     CacheConfig    `mapstructure:"cache" toml:"cache"`
	Server    ServerConfig   `mapstructure:"server" toml:"server"`
	Diagram   DiagramConfig  `mapstructure:"diagram" toml:"diagram"`
}

// ParallelConfig bounds the number of concurrent chunk transfers per file.
type ParallelConfig struct {
	Upload   int `mapstructure:"upload" toml:"upload"`
	Download int `mapstructure:"download" toml:"download"`
}

// LogConfig configures logging.
type LogConfig struct {
	Debug bool `mapstructure:"debug" toml:"debug"`
}

// MetadataConfig selects and configures the metadata store.
type MetadataConfig struct {
	Driver string `mapstructure:"driver" toml:"driver"`
	DBPath string `mapstructure:"db_path" toml:"db_path"`
	DSN    string `mapstructure:"dsn" toml:"dsn,omitempty"`
}

// CloudConfig lists the storage backends. Every entry becomes one backend;
// a configuration may mix providers and repeat them.
type CloudConfig struct {
	// DropboxAccessTokens holds environment variable names, resolved to
	// tokens by LookupSecrets.
	DropboxAccessTokens []string       `mapstructure:"dropbox_access_tokens" toml:"dropbox_access_tokens,omitempty"`
	GDrive              []GDriveConfig `mapstructure:"gdrive" toml:"gdrive,omitempty"`
	S3                  []S3Config     `mapstructure:"s3" toml:"s3,omitempty"`
	Redis               []RedisConfig  `mapstructure:"redis" toml:"redis,omitempty"`
	Mongo               []MongoConfig  `mapstructure:"mongo" toml:"mongo,omitempty"`
	Local               []LocalConfig  `mapstructure:"local" toml:"local,omitempty"`
	Memory              []MemoryConfig `mapstructure:"memory" toml:"memory,omitempty"`
}

// GDriveConfig configures a Google Drive folder backend.
type GDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file" toml:"credentials_file"`
	FolderID        string `mapstructure:"folder_id" toml:"folder_id"`
}

// S3Config configures an S3 (or S3-compatible) bucket backend.
type S3Config struct {
	Bucket   string `mapstructure:"bucket" toml:"bucket"`
	Region   string `mapstructure:"region" toml:"region,omitempty"`
	Prefix   string `mapstructure:"prefix" toml:"prefix,omitempty"`
	Endpoint string `mapstructure:"endpoint" toml:"endpoint,omitempty"`
}

// RedisConfig configures a Redis backend.
type RedisConfig struct {
	Addr        string `mapstructure:"addr" toml:"addr"`
	PasswordEnv string `mapstructure:"password_env" toml:"password_env,omitempty"`
	DB          int    `mapstructure:"db" toml:"db"`
	Prefix      string `mapstructure:"prefix" toml:"prefix,omitempty"`

	// Password is resolved from PasswordEnv and never written back.
	Password string `mapstructure:"-" toml:"-"`
}

// MongoConfig configures a MongoDB GridFS backend.
type MongoConfig struct {
	URI      string `mapstructure:"uri" toml:"uri"`
	Database string `mapstructure:"database" toml:"database"`
	Bucket   string `mapstructure:"bucket" toml:"bucket,omitempty"`
}

// LocalConfig configures a local directory backend.
type LocalConfig struct {
	Dir   string `mapstructure:"dir" toml:"dir"`
	Quota int64  `mapstructure:"quota" toml:"quota,omitempty"`
}

// MemoryConfig configures an in-process backend, useful for dry runs.
type MemoryConfig struct {
	Name  string `mapstructure:"name" toml:"name"`
	Quota int64  `mapstructure:"quota" toml:"quota,omitempty"`
}

// CacheConfig configures the local cache of downloaded chunks.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled"`
	Dir     string `mapstructure:"dir" toml:"dir,omitempty"`
	TTL     string `mapstructure:"ttl" toml:"ttl"`
}

// TTLDuration parses TTL. An empty or zero TTL means entries never expire.
func (c CacheConfig) TTLDuration() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	return time.ParseDuration(c.TTL)
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// DiagramConfig configures the architecture diagram.
type DiagramConfig struct {
	Title     string `mapstructure:"title" toml:"title"`
	Direction string `mapstructure:"direction" toml:"direction"`
	Format    string `mapstructure:"format" toml:"format"`
	OutDir    string `mapstructure:"out_dir" toml:"out_dir,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ChunkSize: DefaultChunkSize,
		Placement: PlacementFirst,
		Parallel: ParallelConfig{
			Upload:   DefaultUploadWorkers,
			Download: DefaultDownloadWorkers,
		},
		Log: LogConfig{Debug: DefaultLogDebug},
		Metadata: MetadataConfig{
			Driver: DriverSQLite,
			DBPath: DefaultDBPath,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     DefaultCacheDir(),
			TTL:     DefaultCacheTTL,
		},
		Server: ServerConfig{Addr: DefaultServerAddr},
		Diagram: DiagramConfig{
			Title:     DefaultDiagramTitle,
			Direction: "LR",
			Format:    "png",
		},
	}
}

// setDefaults registers every scalar default with viper so that environment
// overrides apply even when the key is absent from the file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("placement", d.Placement)
	v.SetDefault("parallel.upload", d.Parallel.Upload)
	v.SetDefault("parallel.download", d.Parallel.Download)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("metadata.driver", d.Metadata.Driver)
	v.SetDefault("metadata.db_path", d.Metadata.DBPath)
	v.SetDefault("metadata.dsn", d.Metadata.DSN)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("diagram.title", d.Diagram.Title)
	v.SetDefault("diagram.direction", d.Diagram.Direction)
	v.SetDefault("diagram.format", d.Diagram.Format)
	v.SetDefault("diagram.out_dir", d.Diagram.OutDir)
}

// Load reads the configuration at path and applies environment overrides.
//
// If the file does not exist, Load returns the defaults (with environment
// overrides applied) together with an error matching fs.ErrNotExist, so
// callers can warn and carry on. Any other read or decode error returns a
// nil config.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())
	v.SetEnvPrefix("STORAGEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var readErr error
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "read config %s", path)
			}
			readErr = fmt.Errorf("config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "decode config %s", path)
	}
	return cfg, readErr
}

// LookupSecrets resolves secret references in place and returns a warning
// for every reference that could not be resolved. Unresolved references are
// cleared so that no backend is built from a variable name.
func LookupSecrets(cfg *Config) []string {
	var warnings []string
	for i, name := range cfg.Cloud.DropboxAccessTokens {
		switch {
		case name == "":
			warnings = append(warnings, fmt.Sprintf("dropbox access token %d is empty", i))
		case os.Getenv(name) == "":
			warnings = append(warnings, fmt.Sprintf("environment variable %s for dropbox access token %d is not set", name, i))
			cfg.Cloud.DropboxAccessTokens[i] = ""
		default:
			cfg.Cloud.DropboxAccessTokens[i] = os.Getenv(name)
		}
	}
	for i := range cfg.Cloud.Redis {
		r := &cfg.Cloud.Redis[i]
		if r.PasswordEnv == "" {
			continue
		}
		if pw := os.Getenv(r.PasswordEnv); pw != "" {
			r.Password = pw
		} else {
			warnings = append(warnings, fmt.Sprintf("environment variable %s for redis %s is not set", r.PasswordEnv, r.Addr))
		}
	}
	return warnings
}

// Validate checks the configuration for values no component can work with.
func (c *Config) Validate() error {
	if c.ChunkSize <= chunker.HeaderSize {
		return serrors.New(serrors.ErrCodeInvalidConfig, "chunk_size %d must exceed the %d byte chunk header", c.ChunkSize, chunker.HeaderSize)
	}
	if c.Parallel.Upload < 1 || c.Parallel.Download < 1 {
		return serrors.New(serrors.ErrCodeInvalidConfig, "parallel.upload and parallel.download must be at least 1")
	}
	switch c.Placement {
	case PlacementFirst, PlacementMostFree, PlacementRoundRobin:
	default:
		return serrors.New(serrors.ErrCodeInvalidConfig, "unknown placement %q (must be first, most-free or round-robin)", c.Placement)
	}
	switch c.Metadata.Driver {
	case DriverSQLite:
		if c.Metadata.DBPath == "" {
			return serrors.New(serrors.ErrCodeInvalidConfig, "metadata.db_path is required for sqlite")
		}
	case DriverPostgres:
		if c.Metadata.DSN == "" {
			return serrors.New(serrors.ErrCodeInvalidConfig, "metadata.dsn is required for postgres")
		}
	default:
		return serrors.New(serrors.ErrCodeInvalidConfig, "unknown metadata driver %q", c.Metadata.Driver)
	}
	if _, err := c.Cache.TTLDuration(); err != nil {
		return serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "cache.ttl")
	}
	for i, s := range c.Cloud.S3 {
		if s.Bucket == "" {
			return serrors.New(serrors.ErrCodeInvalidConfig, "cloud.s3[%d].bucket is required", i)
		}
	}
	for i, g := range c.Cloud.GDrive {
		if g.FolderID == "" {
			return serrors.New(serrors.ErrCodeInvalidConfig, "cloud.gdrive[%d].folder_id is required", i)
		}
	}
	for i, l := range c.Cloud.Local {
		if l.Dir == "" {
			return serrors.New(serrors.ErrCodeInvalidConfig, "cloud.local[%d].dir is required", i)
		}
	}
	return nil
}

// BackendCount returns the number of configured backends, counting only
// Dropbox tokens that resolved to a value.
func (c *Config) BackendCount() int {
	n := len(c.Cloud.GDrive) + len(c.Cloud.S3) + len(c.Cloud.Redis) +
		len(c.Cloud.Mongo) + len(c.Cloud.Local) + len(c.Cloud.Memory)
	for _, t := range c.Cloud.DropboxAccessTokens {
		if t != "" {
			n++
		}
	}
	return n
}

// DefaultPath returns the XDG config location (~/.config/storagex/config.toml).
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName, "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("config", "config.toml")
	}
	return filepath.Join(home, ".config", appName, "config.toml")
}

// DefaultCacheDir returns the XDG cache location (~/.cache/storagex/chunks).
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, appName, "chunks")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".cache", appName, "chunks")
}
