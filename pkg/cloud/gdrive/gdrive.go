// Package gdrive stores chunks as files in a Google Drive folder.
//
// Authentication uses a service account or OAuth credentials file; when no
// file is configured, Application Default Credentials are used.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/matzehuels/storagex/pkg/buildinfo"
	"github.com/matzehuels/storagex/pkg/cloud"
)

const provider = "gdrive"

// Options configures the backend.
type Options struct {
	CredentialsFile string
	FolderID        string
}

// Storage is a Google Drive backend.
type Storage struct {
	srv    *drive.Service
	folder string
	id     string
}

// New creates the Drive client and resolves the account identity.
func New(ctx context.Context, opts Options) (*Storage, error) {
	if opts.FolderID == "" {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", errors.New("folder ID is required"))
	}
	clientOpts := []option.ClientOption{
		option.WithScopes(drive.DriveScope),
		option.WithUserAgent(buildinfo.UserAgent()),
	}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	srv, err := drive.NewService(ctx, clientOpts...)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", err)
	}

	about, err := srv.About.Get().Fields("user(permissionId)").Context(ctx).Do()
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpConnect, "", classify(err))
	}
	account := "unknown"
	if about.User != nil && about.User.PermissionId != "" {
		account = about.User.PermissionId
	}
	return &Storage{
		srv:    srv,
		folder: opts.FolderID,
		id:     fmt.Sprintf("%s:%s/%s", provider, account, opts.FolderID),
	}, nil
}

func (s *Storage) ID() string       { return s.id }
func (s *Storage) Provider() string { return provider }

// lookup returns the Drive file ID for name in the folder.
func (s *Storage) lookup(ctx context.Context, name string) (string, error) {
	list, err := s.srv.Files.List().
		Q(query(name, s.folder)).
		Fields("files(id)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify(err)
	}
	if len(list.Files) == 0 {
		return "", cloud.ErrChunkNotFound
	}
	return list.Files[0].Id, nil
}

// UploadChunk updates the existing file in place or creates a new one.
func (s *Storage) UploadChunk(ctx context.Context, name string, data []byte) error {
	id, err := s.lookup(ctx, name)
	switch {
	case err == nil:
		_, err = s.srv.Files.Update(id, &drive.File{}).
			Media(bytes.NewReader(data)).
			Context(ctx).
			Do()
	case errors.Is(err, cloud.ErrChunkNotFound):
		_, err = s.srv.Files.Create(&drive.File{Name: name, Parents: []string{s.folder}}).
			Media(bytes.NewReader(data)).
			Context(ctx).
			Do()
	}
	return cloud.WrapError(provider, cloud.OpUpload, name, classify(err))
}

func (s *Storage) GetChunk(ctx context.Context, name string) ([]byte, error) {
	id, err := s.lookup(ctx, name)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, err)
	}
	resp, err := s.srv.Files.Get(id).Context(ctx).Download()
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, classify(err))
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cloud.WrapError(provider, cloud.OpDownload, name, cloud.Retryable(err))
	}
	return data, nil
}

func (s *Storage) DeleteChunk(ctx context.Context, name string) error {
	id, err := s.lookup(ctx, name)
	if err != nil {
		return cloud.WrapError(provider, cloud.OpDelete, name, err)
	}
	err = s.srv.Files.Delete(id).Context(ctx).Do()
	return cloud.WrapError(provider, cloud.OpDelete, name, classify(err))
}

// FreeSpace is the account storage limit minus usage. Accounts without a
// limit (some Workspace plans) report Unlimited.
func (s *Storage) FreeSpace(ctx context.Context) (int64, error) {
	about, err := s.srv.About.Get().Fields("storageQuota").Context(ctx).Do()
	if err != nil {
		return 0, cloud.WrapError(provider, cloud.OpQuota, "", classify(err))
	}
	q := about.StorageQuota
	if q == nil || q.Limit == 0 {
		return cloud.Unlimited, nil
	}
	return max(q.Limit-q.Usage, 0), nil
}

// query builds a Drive search expression matching name in folder.
func query(name, folder string) string {
	return fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false", escape(name), escape(folder))
}

// escape quotes a value for use inside a single-quoted Drive query string.
func escape(s string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(s)
}

// classify maps 404 to cloud.ErrChunkNotFound and marks rate limiting and
// server errors as retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		switch {
		case gErr.Code == http.StatusNotFound:
			return fmt.Errorf("%w: %v", cloud.ErrChunkNotFound, err)
		case gErr.Code == http.StatusTooManyRequests, gErr.Code >= 500:
			return cloud.Retryable(err)
		}
	}
	return err
}

var _ cloud.Storage = (*Storage)(nil)
