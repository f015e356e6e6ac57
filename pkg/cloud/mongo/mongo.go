// Package mongo stores chunks in a MongoDB GridFS bucket.
package mongo

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "mongo"

// DefaultBucket is the GridFS bucket name used when none is configured.
const DefaultBucket = "storagex"

// Options configures the backend.
type Options struct {
	URI      string
	Database string
	Bucket   string
}

// Storage is a GridFS-backed backend.
//
// GridFS buckets carry per-bucket read and write deadlines rather than
// taking a context, so operations are serialized to apply the caller's
// deadline safely.
type Storage struct {
	client *mongo.Client
	bucket *gridfs.Bucket
	id     string

	mu sync.Mutex
}

// New connects to MongoDB and opens the bucket.
func New(ctx context.Context, opts Options) (*Storage, error) {
	if opts.Bucket == "" {
		opts.Bucket = DefaultBucket
	}
	clientOpts := options.Client().ApplyURI(opts.URI)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	bucket, err := gridfs.NewBucket(client.Database(opts.Database), options.GridFSBucket().SetName(opts.Bucket))
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	return &Storage{
		client: client,
		bucket: bucket,
		id:     fmt.Sprintf("%s:%s/%s/%s", provider, strings.Join(clientOpts.Hosts, ","), opts.Database, opts.Bucket),
	}, nil
}

func (s *Storage) ID() string       { return s.id }
func (s *Storage) Provider() string { return provider }

// deadline returns the context deadline, or the zero time (no deadline).
func deadline(ctx context.Context) time.Time {
	d, _ := ctx.Deadline()
	return d
}

// UploadChunk writes a new revision and then removes older revisions, so
// the object is never absent during an overwrite.
func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bucket.SetWriteDeadline(deadline(ctx)); err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	id, err := s.bucket.UploadFromStream(name, bytes.NewReader(data))
	if err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, classify(err))
	}
	if err := s.deleteRevisions(ctx, name, &id); err != nil {
		return cloud.WrapError(provider, cloud.OpUpload, name, err)
	}
	return nil
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bucket.SetReadDeadline(deadline(ctx)); err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, err)
	}
	var buf bytes.Buffer
	if _, err := s.bucket.DownloadToStreamByName(name, &buf); err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.ErrChunkNotFound)
		}
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, classify(err))
	}
	return buf.Bytes(), nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.deleteRevisionsCount(ctx, name, nil)
	if err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, err)
	}
	if n == 0 {
		return cloud.WrapError(provider, cloud.OpDelete, name, cloud.ErrChunkNotFound)
	}
	return nil
}

// FreeSpace reports Unlimited; GridFS has no per-bucket quota.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	return cloud.Unlimited, nil
}

// Close disconnects the client.
func (s *Storage) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Storage) deleteRevisions(ctx context.Context, name string, keep *primitive.ObjectID) error {
	_, err := s.deleteRevisionsCount(ctx, name, keep)
	return err
}

// deleteRevisionsCount deletes every file named name except keep and
// returns how many were deleted. Must be called with mu held.
func (s *Storage) deleteRevisionsCount(ctx context.Context, name string, keep *primitive.ObjectID) (int, error) {
	filter := bson.M{"filename": name}
	if keep != nil {
		filter["_id"] = bson.M{"$ne": *keep}
	}
	cur, err := s.bucket.FindContext(ctx, filter)
	if err != nil {
		return 0, classify(err)
	}
	defer cur.Close(ctx)

	var files []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cur.All(ctx, &files); err != nil {
		return 0, classify(err)
	}
	for _, f := range files {
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			return 0, classify(err)
		}
	}
	return len(files), nil
}

// classify marks network and timeout failures as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return cloud.Retryable(err)
	}
	return err
}

var _ cloud.Storage = (*Storage)(nil)
