// Package chi serves the cmskit HTTP API on a chi router. Collection paths
// contain slashes, so they travel in the "path" query parameter.
package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	collectionuc "github.com/kailas-cloud/cmskit/internal/usecase/collection"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	healthuc "github.com/kailas-cloud/cmskit/internal/usecase/health"
	"github.com/kailas-cloud/cmskit/internal/usecase/upload"
)

const maxBatchSize = 100

// Registry resolves collection definitions by path.
type Registry interface {
	ByPath(path string) (domcol.Collection, error)
}

// FileStore stores uploads and serves them back.
type FileStore interface {
	upload.StorageSource
	Open(p string) (*os.File, error)
}

// Server holds the HTTP handlers of the API.
type Server struct {
	registry      Registry
	collections   *collectionuc.Service
	entities      *entityuc.Service
	health        *healthuc.Service
	files         FileStore
	maxUpload     int64
	flash         time.Duration
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	registry Registry,
	collections *collectionuc.Service,
	entities *entityuc.Service,
	health *healthuc.Service,
) *Server {
	return &Server{
		registry:      registry,
		collections:   collections,
		entities:      entities,
		health:        health,
		maxUpload:     32 << 20,
		errorHandlers: defaultErrorHandlers(),
	}
}

// WithFiles enables uploads and file serving. maxBytes <= 0 keeps the
// default request limit.
func (s *Server) WithFiles(files FileStore, maxBytes int64) *Server {
	s.files = files
	if maxBytes > 0 {
		s.maxUpload = maxBytes
	}
	return s
}

// WithSavedFlash sets how long a saved field reports Saved.
func (s *Server) WithSavedFlash(d time.Duration) *Server {
	s.flash = d
	return s
}

// Mount registers the API routes on r.
func (s *Server) Mount(r chi.Router) {
	r.Get("/health", s.HealthCheck)
	r.Handle("/metrics", promhttp.Handler())
	if s.files != nil {
		r.Get("/files/*", s.ServeFile)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/collections", s.ListCollections)
		r.Get("/schema", s.GetSchema)
		r.Get("/form", s.GetForm)
		r.Get("/table", s.GetTable)
		r.Get("/export", s.Export)
		if s.files != nil {
			r.Post("/uploads", s.Upload)
		}

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.ListEntities)
			r.Post("/", s.CreateEntity)
			r.Post("/bulk-delete", s.BulkDelete)
			r.Get("/{id}", s.GetEntity)
			r.Put("/{id}", s.SaveEntity)
			r.Delete("/{id}", s.DeleteEntity)
			r.Patch("/{id}/fields/{field}", s.PatchField)
		})
	})
}

// Handler returns a router serving the API.
func (s *Server) Handler(middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middlewares...)
	s.Mount(r)
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status": report.Status,
		"checks": report.Checks,
	})
}

// ListCollections handles GET /api/v1/collections.
func (s *Server) ListCollections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items": s.collections.List(r.Context()),
	})
}

// GetSchema handles GET /api/v1/schema?path=&id=.
func (s *Server) GetSchema(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	view, err := s.collections.Schema(r.Context(), colPath, r.URL.Query().Get("id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetForm handles GET /api/v1/form?path=&id=.
func (s *Server) GetForm(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	form, err := s.collections.Form(r.Context(), colPath, r.URL.Query().Get("id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, form)
}

// GetTable handles GET /api/v1/table?path=&size=.
func (s *Server) GetTable(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	var size layout.CollectionSize
	if raw := r.URL.Query().Get("size"); raw != "" {
		if size, err = layout.ParseCollectionSize(raw); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
	}
	table, err := s.collections.Table(r.Context(), colPath, q, size)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// Export handles GET /api/v1/export?path=.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	var buf bytes.Buffer
	if err := s.collections.Export(r.Context(), &buf, colPath, q); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	name := path.Base(domentity.NormalizePath(colPath)) + ".csv"
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// requirePath reads the collection path query parameter.
func requirePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := domentity.NormalizePath(r.URL.Query().Get("path"))
	if p == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query parameter path is required")
		return "", false
	}
	return p, true
}

// queryFromRequest reads order_by, order, limit, start_after and
// filter.<field> parameters. Filter values are JSON literals, falling back
// to plain strings.
func queryFromRequest(r *http.Request) (domentity.Query, error) {
	v := r.URL.Query()
	q := domentity.Query{
		OrderBy:    v.Get("order_by"),
		Order:      domentity.Order(v.Get("order")),
		StartAfter: v.Get("start_after"),
	}
	if raw := v.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domentity.Query{}, fmt.Errorf("limit must be an integer")
		}
		q.Limit = n
	}
	for key, values := range v {
		field, ok := strings.CutPrefix(key, "filter.")
		if !ok || field == "" || len(values) == 0 {
			continue
		}
		if q.Filter == nil {
			q.Filter = make(map[string]any)
		}
		var parsed any
		if err := json.Unmarshal([]byte(values[0]), &parsed); err != nil {
			parsed = values[0]
		}
		q.Filter[field] = parsed
	}
	if err := q.Validate(); err != nil {
		return domentity.Query{}, err
	}
	return q, nil
}

// authorize fails with ErrPermissionDenied unless allowed accepts the
// permissions of the principal on the collection.
func (s *Server) authorize(
	ctx context.Context, colPath string, action string, allowed func(auth.Permissions) bool,
) error {
	p, err := s.collections.Permissions(ctx, colPath)
	if err != nil {
		return err
	}
	if !allowed(p) {
		return fmt.Errorf("%s %s: %w", action, colPath, domain.ErrPermissionDenied)
	}
	return nil
}
