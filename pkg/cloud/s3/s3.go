// Package s3 stores chunks as objects in an S3 bucket.
//
// Any S3-compatible store (MinIO, Ceph RGW, R2) can be used by setting a
// custom endpoint, in which case path-style addressing is enabled.
// Credentials come from the default AWS chain (environment, shared config,
// instance role).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "s3"

// Options configures the backend.
type Options struct {
	Bucket   string
	Region   string
	Prefix   string
	Endpoint string
}

// API is the subset of the S3 client used by Storage.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Storage is an S3-backed backend.
type Storage struct {
	api  API
	opts Options
}

// New loads the default AWS configuration and creates a client.
func New(ctx context.Context, opts Options) (*Storage, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithAPI(client, opts), nil
}

// NewWithAPI creates a backend over an existing client.
func NewWithAPI(api API, opts Options) *Storage {
	return &Storage{api: api, opts: opts}
}

// ID is "s3:<bucket>/<prefix>", qualified with the endpoint host for
// S3-compatible stores.
func (s *Storage) ID() string {
	id := s.opts.Bucket
	if s.opts.Prefix != "" {
		id += "/" + s.opts.Prefix
	}
	if s.opts.Endpoint != "" {
		if u, err := url.Parse(s.opts.Endpoint); err == nil && u.Host != "" {
			id = u.Host + "/" + id
		}
	}
	return provider + ":" + id
}

func (s *Storage) Provider() string { return provider }

func (s *Storage) key(name string) string {
	if s.opts.Prefix == "" {
		return name
	}
	return path.Join(s.opts.Prefix, name)
}

func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.opts.Bucket),
		Key:           aws.String(s.key(name)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/octet-stream"),
	})
	return cloud.WrapError(provider, cloud.OpUpload, name, classify(err))
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, classify(err))
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.Retryable(err))
	}
	return data, nil
}

// DeleteChunk checks for the object first; S3 deletes succeed silently for
// missing keys.
func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	_, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(name)),
	})
	if err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, classify(err))
	}
	_, err = s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.opts.Bucket),
		Key:    aws.String(s.key(name)),
	})
	return cloud.WrapError(provider, cloud.OpDelete, name, classify(err))
}

// FreeSpace reports Unlimited; buckets have no fixed capacity.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	return cloud.Unlimited, nil
}

// classify maps missing-object errors to cloud.ErrChunkNotFound and marks
// throttling and server errors as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return fmt.Errorf("%w: %v", cloud.ErrChunkNotFound, err)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %v", cloud.ErrChunkNotFound, err)
		case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable", "Throttling":
			return cloud.Retryable(err)
		}
		if apiErr.ErrorFault() == smithy.FaultServer {
			return cloud.Retryable(err)
		}
	}
	return err
}

var _ cloud.Storage = (*Storage)(nil)
