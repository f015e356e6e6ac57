// Package dropbox stores chunks as files in a Dropbox account.
package dropbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/users"

	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "dropbox"

// FilesAPI is the subset of the Dropbox files client used by Storage.
type FilesAPI interface {
	Upload(arg *files.UploadArg, content io.Reader) (*files.FileMetadata, error)
	Download(arg *files.DownloadArg) (*files.FileMetadata, io.ReadCloser, error)
	DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error)
}

// UsersAPI is the subset of the Dropbox users client used by Storage.
type UsersAPI interface {
	GetCurrentAccount() (*users.FullAccount, error)
	GetSpaceUsage() (*users.SpaceUsage, error)
}

// Storage is a Dropbox backend. Objects live under a root folder.
type Storage struct {
	files FilesAPI
	users UsersAPI
	root  string
	id    string
}

// New connects with auth.DropboxAccessToken and resolves the account ID,
// which becomes the storage system ID.
func New(ctx context.Context, auth cloud.AuthConfig, root string) (*Storage, error) {
	if auth.DropboxAccessToken == "" {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", errors.New("access token is empty"))
	}
	cfg := dropbox.Config{
		Token:    auth.DropboxAccessToken,
		LogLevel: dropbox.LogOff,
	}
	return NewWithAPI(ctx, files.New(cfg), users.New(cfg), root)
}

// NewWithAPI creates a backend over existing clients.
func NewWithAPI(ctx context.Context, f FilesAPI, u UsersAPI, root string) (*Storage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var acct *users.FullAccount
	err := cloud.RetryWithBackoff(ctx, func() error {
		var err error
		acct, err = u.GetCurrentAccount()
		return classify(err)
	})
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}
	if acct == nil || acct.AccountId == "" {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", errors.New("account has no ID"))
	}
	return &Storage{
		files: f,
		users: u,
		root:  path.Join("/", root),
		id:    provider + ":" + acct.AccountId,
	}, nil
}

func (s *Storage) ID() string       { return s.id }
func (s *Storage) Provider() string { return provider }

func (s *Storage) path(name string) string { return path.Join(s.root, name) }

// UploadChunk uploads in overwrite mode.
func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	arg := files.NewUploadArg(s.path(name))
	arg.Mode = &files.WriteMode{Tagged: dropbox.Tagged{Tag: files.WriteModeOverwrite}}
	_, err := s.files.Upload(arg, bytes.NewReader(data))
	return cloud.WrapError(provider, cloud.OpUpload, name, classify(err))
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, content, err := s.files.Download(files.NewDownloadArg(s.path(name)))
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, classify(err))
	}
	defer content.Close()
	data, err := io.ReadAll(content)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.Retryable(err))
	}
	return data, nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.files.DeleteV2(files.NewDeleteArg(s.path(name)))
	return cloud.WrapError(provider, cloud.OpDelete, name, classify(err))
}

// FreeSpace is the allocation minus usage. For team accounts the team
// allocation and team usage are used.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	usage, err := s.users.GetSpaceUsage()
	if err != nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", classify(err))
	}
	return freeSpace(usage)
}

func freeSpace(u *users.SpaceUsage) (int64, error) {
	if u == nil || u.Allocation == nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", errors.New("no allocation in space usage"))
	}
	var allocated, used uint64
	switch u.Allocation.Tag {
	case users.SpaceAllocationIndividual:
		if u.Allocation.Individual == nil {
			return 0, cloud.WrapError(provider, cloud.OpQuota, "", errors.New("individual allocation missing"))
		}
		allocated, used = u.Allocation.Individual.Allocated, u.Used
	case users.SpaceAllocationTeam:
		if u.Allocation.Team == nil {
			return 0, cloud.WrapError(provider, cloud.OpQuota, "", errors.New("team allocation missing"))
		}
		allocated, used = u.Allocation.Team.Allocated, u.Allocation.Team.Used
	default:
		return cloud.Unlimited, nil
	}
	if used >= allocated {
		return 0, nil
	}
	return int64(allocated - used), nil
}

// classify maps Dropbox "not_found" path errors to cloud.ErrChunkNotFound
// and marks rate limiting and transient server errors as retryable. The SDK
// reports endpoint errors through per-route types, so the summary string is
// the common denominator.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "not_found"):
		return fmt.Errorf("%w: %v", cloud.ErrChunkNotFound, err)
	case strings.Contains(msg, "too_many_requests"),
		strings.Contains(msg, "too_many_write_operations"),
		strings.Contains(msg, "internal_error"):
		return cloud.Retryable(err)
	}
	return err
}

var _ cloud.Storage = (*Storage)(nil)
