// Package redis stores chunks as Redis string values.
package redis

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "redis"

// DefaultPrefix namespaces chunk keys.
const DefaultPrefix = "storagex:chunk:"

// Options configures the backend.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Storage is a Redis-backed backend.
type Storage struct {
	client *redis.Client
	opts   Options
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Storage, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	return &Storage{client: client, opts: opts}, nil
}

func (s *Storage) ID() string {
	return fmt.Sprintf("%s:%s/%d/%s", provider, s.opts.Addr, s.opts.DB, strings.TrimSuffix(s.opts.Prefix, ":"))
}

func (s *Storage) Provider() string { return provider }

func (s *Storage) key(name string) string { return s.opts.Prefix + name }

func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	err := s.client.Set(ctx, s.key(name), data, 0).Err()
	return cloud.WrapError(provider, cloud.OpUpload, name, classify(err))
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.ErrChunkNotFound)
	}
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, classify(err))
	}
	return data, nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	n, err := s.client.Del(ctx, s.key(name)).Result()
	if err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, classify(err))
	}
	if n == 0 {
		return cloud.WrapError(provider, cloud.OpDelete, name, cloud.ErrChunkNotFound)
	}
	return nil
}

// FreeSpace is maxmemory minus used_memory. A server without maxmemory
// reports Unlimited.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	info, err := s.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", classify(err))
	}
	free, err := freeFromInfo(info)
	return free, cloud.WrapError(provider, cloud.OpQuota, "", err)
}

// Close closes the client.
func (s *Storage) Close() error {
	return s.client.Close()
}

// freeFromInfo computes free memory from an INFO memory reply.
func freeFromInfo(info string) (int64, error) {
	fields := map[string]int64{}
	sc := bufio.NewScanner(strings.NewReader(info))
	for sc.Scan() {
		k, v, ok := strings.Cut(strings.TrimSpace(sc.Text()), ":")
		if !ok || (k != "used_memory" && k != "maxmemory") {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse %s: %w", k, err)
		}
		fields[k] = n
	}
	used, ok := fields["used_memory"]
	if !ok {
		return 0, errors.New("INFO reply has no used_memory")
	}
	if fields["maxmemory"] == 0 {
		return cloud.Unlimited, nil
	}
	return max(fields["maxmemory"]-used, 0), nil
}

// classify marks network failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return cloud.Retryable(err)
	}
	return err
}

var _ cloud.Storage = (*Storage)(nil)
