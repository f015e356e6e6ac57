// Package app assembles the storageX services from a configuration.
//
// A [Bundle] is what the CLI commands and the HTTP server operate on: the
// chunker, metadata store, chunk cache, storage manager and storage
// service, built once per process and closed together.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/storagex/pkg/cache"
	"github.com/matzehuels/storagex/pkg/chunker"
	"github.com/matzehuels/storagex/pkg/cloud"
	"github.com/matzehuels/storagex/pkg/cloud/dropbox"
	"github.com/matzehuels/storagex/pkg/cloud/gdrive"
	"github.com/matzehuels/storagex/pkg/cloud/local"
	"github.com/matzehuels/storagex/pkg/cloud/memory"
	"github.com/matzehuels/storagex/pkg/cloud/mongo"
	"github.com/matzehuels/storagex/pkg/cloud/redis"
	"github.com/matzehuels/storagex/pkg/cloud/s3"
	"github.com/matzehuels/storagex/pkg/config"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/manager"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

// Bundle holds the services built from one configuration.
type Bundle struct {
	Config   *config.Config
	Logger   *log.Logger
	Chunker  *chunker.FileChunker
	Metadata metadata.Store
	Cache    cache.Cache
	Manager  *manager.Manager
	Storage  *storage.Service
}

// NewBundle validates cfg and builds every service. Backends that fail to
// connect are logged and skipped; if none connect the error lists every
// failure under NO_STORAGE_CONFIGURED.
func NewBundle(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Bundle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ttl, err := cfg.Cache.TTLDuration()
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "cache.ttl %q", cfg.Cache.TTL)
	}
	fc, err := chunker.New(cfg.ChunkSize)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "chunk_size")
	}

	backends, errs := Backends(ctx, cfg)
	for _, err := range errs {
		logger.Warn("storage backend unavailable", "err", err)
	}
	if len(backends) == 0 {
		if len(errs) > 0 {
			return nil, serrors.Wrap(serrors.ErrCodeNoStorage, errors.Join(errs...), "no storage backend could be reached")
		}
		return nil, serrors.New(serrors.ErrCodeNoStorage, "no storage backends configured")
	}

	b := &Bundle{Config: cfg, Logger: logger, Chunker: fc}
	b.Cache, err = newCache(cfg.Cache)
	if err != nil {
		closeAll(backends)
		return nil, err
	}
	b.Manager = manager.New(
		manager.WithPlacement(cfg.Placement),
		manager.WithLogger(logger),
		manager.WithCache(b.Cache, ttl),
	)
	for _, s := range backends {
		if !b.Manager.Add(s) {
			logger.Warn("duplicate storage backend ignored", "storage", s.ID())
			_ = cloud.Close(s)
		}
	}

	b.Metadata, err = metadata.Open(ctx, cfg.Metadata)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.Storage = storage.New(fc, b.Metadata, b.Manager, storage.Options{
		UploadWorkers:   cfg.Parallel.Upload,
		DownloadWorkers: cfg.Parallel.Download,
		Logger:          logger,
	})
	logger.Debug("services ready", "backends", len(b.Manager.Backends()), "metadata", cfg.Metadata.Driver, "cache", cfg.Cache.Enabled)
	return b, nil
}

func newCache(cfg config.CacheConfig) (cache.Cache, error) {
	if !cfg.Enabled {
		return cache.NewNullCache(), nil
	}
	dir := cfg.Dir
	if dir == "" {
		dir = config.DefaultCacheDir()
	}
	c, err := cache.NewFileCache(dir)
	if err != nil {
		return nil, serrors.Wrap(serrors.ErrCodeInvalidConfig, err, "cache dir %s", dir)
	}
	return c, nil
}

// Backends connects every backend listed in cfg.Cloud, in the order
// Dropbox, Google Drive, S3, Redis, MongoDB, local, memory. Connection
// failures are returned alongside the backends that did connect.
func Backends(ctx context.Context, cfg *config.Config) ([]cloud.Storage, []error) {
	var (
		out  []cloud.Storage
		errs []error
	)
	add := func(s cloud.Storage, err error, what string) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", what, err))
			return
		}
		out = append(out, s)
	}

	for i, auth := range cloud.AuthConfigFromCloudConfig(&cfg.Cloud) {
		s, err := dropbox.New(ctx, auth, "")
		add(s, err, fmt.Sprintf("dropbox[%d]", i))
	}
	for i, g := range cfg.Cloud.GDrive {
		s, err := gdrive.New(ctx, gdrive.Options{CredentialsFile: g.CredentialsFile, FolderID: g.FolderID})
		add(s, err, fmt.Sprintf("gdrive[%d]", i))
	}
	for i, c := range cfg.Cloud.S3 {
		s, err := s3.New(ctx, s3.Options{Bucket: c.Bucket, Region: c.Region, Prefix: c.Prefix, Endpoint: c.Endpoint})
		add(s, err, fmt.Sprintf("s3[%d]", i))
	}
	for i, c := range cfg.Cloud.Redis {
		s, err := redis.New(ctx, redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB, Prefix: c.Prefix})
		add(s, err, fmt.Sprintf("redis[%d]", i))
	}
	for i, c := range cfg.Cloud.Mongo {
		s, err := mongo.New(ctx, mongo.Options{URI: c.URI, Database: c.Database, Bucket: c.Bucket})
		add(s, err, fmt.Sprintf("mongo[%d]", i))
	}
	for i, c := range cfg.Cloud.Local {
		s, err := local.New(c.Dir, c.Quota)
		add(s, err, fmt.Sprintf("local[%d]", i))
	}
	for _, c := range cfg.Cloud.Memory {
		add(memory.New(c.Name, c.Quota), nil, "memory")
	}
	return out, errs
}

func closeAll(backends []cloud.Storage) {
	for _, s := range backends {
		_ = cloud.Close(s)
	}
}

// Close releases the metadata store, the backends and the cache.
func (b *Bundle) Close() error {
	var errs []error
	if b.Metadata != nil {
		errs = append(errs, b.Metadata.Close())
	}
	if b.Manager != nil {
		errs = append(errs, b.Manager.Close())
	}
	if b.Cache != nil {
		errs = append(errs, b.Cache.Close())
	}
	return errors.Join(errs...)
}
