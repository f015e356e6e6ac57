// Package server exposes the storage service over HTTP.
//
// Routes:
//
//	GET    /healthz
//	GET    /api/v1/files
//	PUT    /api/v1/files/{name}         raw body is the file content
//	GET    /api/v1/files/{name}         file content
//	GET    /api/v1/files/{name}/chunks  file record and chunk placement
//	DELETE /api/v1/files/{name}
//	GET    /api/v1/backends
//	GET    /api/v1/diagram?format=svg|png|jpg|dot
//
// Errors are returned as {"code": "...", "message": "..."} with the HTTP
// status derived from the error code.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/storagex/pkg/buildinfo"
	"github.com/matzehuels/storagex/pkg/diagram"
	serrors "github.com/matzehuels/storagex/pkg/errors"
	"github.com/matzehuels/storagex/pkg/manager"
	"github.com/matzehuels/storagex/pkg/metadata"
	"github.com/matzehuels/storagex/pkg/storage"
)

// Files is the subset of the storage service the server needs.
type Files interface {
	Upload(ctx context.Context, name string, r io.Reader) (*metadata.FileMetadata, error)
	Download(ctx context.Context, name string, w io.Writer) (int64, error)
	Delete(ctx context.Context, name string) error
	List(ctx context.Context) ([]metadata.FileMetadata, error)
	Stat(ctx context.Context, name string) (*storage.FileInfo, error)
	Status(ctx context.Context) []manager.BackendStatus
}

var _ Files = (*storage.Service)(nil)

// Server serves the HTTP API.
type Server struct {
	files   Files
	diagram func() *diagram.Diagram
	logger  *log.Logger
	router  chi.Router
}

// New creates a Server. arch supplies the diagram served at
// /api/v1/diagram; nil serves [diagram.Architecture].
func New(files Files, arch func() *diagram.Diagram, logger *log.Logger) *Server {
	if arch == nil {
		arch = diagram.Architecture
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}
	s := &Server{files: files, diagram: arch, logger: logger}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID, s.logRequests, s.recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/files", s.handleList)
		r.Route("/files/{name}", func(r chi.Router) {
			r.Put("/", s.handleUpload)
			r.Get("/", s.handleDownload)
			r.Delete("/", s.handleDelete)
			r.Get("/chunks", s.handleChunks)
		})
		r.Get("/backends", s.handleBackends)
		r.Get("/diagram", s.handleDiagram)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, serrors.New(serrors.ErrCodeNotFound, "no route for %s %s", r.Method, r.URL.Path))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: r.Method + " not allowed"})
	})
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	files, err := s.files.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if files == nil {
		files = []metadata.FileMetadata{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	f, err := s.files.Upload(r.Context(), chi.URLParam(r, "name"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	// Download verifies every chunk before the first write, so errors can
	// still be reported with a proper status.
	hw := &headerWriter{w: w, name: name}
	if _, err := s.files.Download(r.Context(), name, hw); err != nil {
		if hw.wrote {
			s.logger.Error("download aborted mid-stream", "file", name, "err", err)
			return
		}
		writeError(w, err)
		return
	}
	hw.writeHeader()
}

// headerWriter sets the download headers on the first write.
type headerWriter struct {
	w     http.ResponseWriter
	name  string
	wrote bool
}

func (h *headerWriter) writeHeader() {
	if h.wrote {
		return
	}
	h.wrote = true
	h.w.Header().Set("Content-Type", "application/octet-stream")
	h.w.Header().Set("Content-Disposition", `attachment; filename="`+h.name+`"`)
	h.w.WriteHeader(http.StatusOK)
}

func (h *headerWriter) Write(p []byte) (int, error) {
	h.writeHeader()
	return h.w.Write(p)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	info, err := s.files.Stat(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.files.Status(r.Context()))
}

var contentTypes = map[diagram.Format]string{
	diagram.FormatSVG: "image/svg+xml",
	diagram.FormatPNG: "image/png",
	diagram.FormatJPG: "image/jpeg",
	diagram.FormatDOT: "text/vnd.graphviz; charset=utf-8",
}

func (s *Server) handleDiagram(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = string(diagram.FormatSVG)
	}
	format, err := diagram.ParseFormat(name)
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := diagram.Render(r.Context(), s.diagram(), format)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypes[format])
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
