package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/matzehuels/storagex/pkg/chunker"
	"github.com/matzehuels/storagex/pkg/cloud/memory"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/manager"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

type mockFiles struct{ mock.Mock }

func (m *mockFiles) Upload(ctx context.Context, name string, r io.Reader) (*metadata.FileMetadata, error) {
	args := m.Called(ctx, name, r)
	f, _ := args.Get(0).(*metadata.FileMetadata)
	return f, args.Error(1)
}

func (m *mockFiles) Download(ctx context.Context, name string, w io.Writer) (int64, error) {
	args := m.Called(ctx, name, w)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockFiles) Delete(ctx context.Context, name string) error {
	return m.Called(ctx, name).Error(0)
}

func (m *mockFiles) List(ctx context.Context) ([]metadata.FileMetadata, error) {
	args := m.Called(ctx)
	f, _ := args.Get(0).([]metadata.FileMetadata)
	return f, args.Error(1)
}

func (m *mockFiles) Stat(ctx context.Context, name string) (*storage.FileInfo, error) {
	args := m.Called(ctx, name)
	f, _ := args.Get(0).(*storage.FileInfo)
	return f, args.Error(1)
}

func (m *mockFiles) Status(ctx context.Context) []manager.BackendStatus {
	return m.Called(ctx).Get(0).([]manager.BackendStatus)
}

func newService(t *testing.T) *storage.Service {
	t.Helper()
	ctx := context.Background()
	fc, err := chunker.New(chunker.HeaderSize + 32)
	require.NoError(t, err)
	meta, err := metadata.NewSQLiteStore(ctx, filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { meta.Close() })
	mgr := manager.New()
	mgr.Add(memory.New("test", 0))
	return storage.New(fc, meta, mgr, storage.Options{})
}

func do(t *testing.T, h http.Handler, method, path string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestFileLifecycle(t *testing.T) {
	srv := New(newService(t), nil, nil)
	content := strings.Repeat("0123456789", 20)

	w := do(t, srv, http.MethodPut, "/api/v1/files/notes.txt", strings.NewReader(content))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var fm metadata.FileMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fm))
	assert.Equal(t, "notes.txt", fm.FileName)
	assert.Equal(t, int64(200), fm.TotalSize)
	assert.Equal(t, metadata.StatusComplete, fm.Status)

	w = do(t, srv, http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var files []metadata.FileMetadata
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &files))
	require.Len(t, files, 1)

	w = do(t, srv, http.MethodGet, "/api/v1/files/notes.txt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, content, w.Body.String())
	assert.Equal(t, "application/octet-stream", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "notes.txt")

	w = do(t, srv, http.MethodGet, "/api/v1/files/notes.txt/chunks", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info storage.FileInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Len(t, info.Chunks, 7)
	assert.Equal(t, "memory:test", info.Chunks[0].StorageID)

	w = do(t, srv, http.MethodPut, "/api/v1/files/notes.txt", strings.NewReader("again"))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "FILE_EXISTS", decodeError(t, w).Code)

	w = do(t, srv, http.MethodDelete, "/api/v1/files/notes.txt", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/files/notes.txt", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "FILE_NOT_FOUND", decodeError(t, w).Code)
}

func TestEmptyListIsArray(t *testing.T) {
	srv := New(newService(t), nil, nil)
	w := do(t, srv, http.MethodGet, "/api/v1/files", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestEmptyFileDownload(t *testing.T) {
	srv := New(newService(t), nil, nil)
	w := do(t, srv, http.MethodPut, "/api/v1/files/empty", bytes.NewReader(nil))
	require.Equal(t, http.StatusCreated, w.Code)

	w = do(t, srv, http.MethodGet, "/api/v1/files/empty", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, w.Body.Len())
}

func TestUploadInvalidName(t *testing.T) {
	srv := New(newService(t), nil, nil)
	w := do(t, srv, http.MethodPut, "/api/v1/files/.hidden", strings.NewReader("x"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "INVALID_INPUT", decodeError(t, w).Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
		code string
	}{
		{serrors.New(serrors.ErrCodeFileIncomplete, "pending"), http.StatusConflict, "FILE_INCOMPLETE"},
		{serrors.New(serrors.ErrCodeChecksumMismatch, "bad"), http.StatusBadGateway, "CHECKSUM_MISMATCH"},
		{serrors.New(serrors.ErrCodeStorageNotFound, "gone"), http.StatusNotFound, "STORAGE_NOT_FOUND"},
		{serrors.New(serrors.ErrCodeNoStorage, "none"), http.StatusServiceUnavailable, "NO_STORAGE_CONFIGURED"},
		{serrors.New(serrors.ErrCodeStorageFull, "full"), http.StatusInsufficientStorage, "STORAGE_FULL"},
		{serrors.New(serrors.ErrCodeMetadata, "db locked"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{errors.New("plain"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			files := new(mockFiles)
			files.On("Download", mock.Anything, "f", mock.Anything).Return(int64(0), tt.err)

			w := do(t, New(files, nil, nil), http.MethodGet, "/api/v1/files/f", nil)
			assert.Equal(t, tt.want, w.Code)
			body := decodeError(t, w)
			assert.Equal(t, tt.code, body.Code)
			if tt.want == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body.Message)
			}
			files.AssertExpectations(t)
		})
	}
}

func TestBackends(t *testing.T) {
	files := new(mockFiles)
	files.On("Status", mock.Anything).Return([]manager.BackendStatus{
		{ID: "s3:bucket", Provider: "s3", Free: -1},
	})

	w := do(t, New(files, nil, nil), http.MethodGet, "/api/v1/backends", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"id":"s3:bucket","provider":"s3","free":-1}]`, w.Body.String())
}

func TestDiagram(t *testing.T) {
	srv := New(new(mockFiles), nil, nil)

	w := do(t, srv, http.MethodGet, "/api/v1/diagram?format=dot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "graphviz")
	assert.Contains(t, w.Body.String(), "StorageManager (Cloud Ops)")

	w = do(t, srv, http.MethodGet, "/api/v1/diagram", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/svg+xml", w.Header().Get("Content-Type"))

	w = do(t, srv, http.MethodGet, "/api/v1/diagram?format=gif", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "UNSUPPORTED", decodeError(t, w).Code)
}

func TestHealthAndRequestID(t *testing.T) {
	srv := New(new(mockFiles), nil, nil)

	w := do(t, srv, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Len(t, w.Header().Get(HeaderRequestID), 36, "generated request IDs are UUIDs")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(HeaderRequestID, "caller-id")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, "caller-id", rec.Header().Get(HeaderRequestID))
}

func TestUnknownRoutes(t *testing.T) {
	srv := New(new(mockFiles), nil, nil)

	w := do(t, srv, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decodeError(t, w).Code)

	w = do(t, srv, http.MethodPost, "/api/v1/backends", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestPanicRecovery(t *testing.T) {
	files := new(mockFiles)
	files.On("List", mock.Anything).Run(func(mock.Arguments) { panic("boom") })

	w := do(t, New(files, nil, nil), http.MethodGet, "/api/v1/files", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, w).Code)
}
