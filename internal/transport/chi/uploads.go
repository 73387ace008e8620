package chi

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/logger"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	"github.com/kailas-cloud/cmskit/internal/usecase/upload"
)

// uploadFormField is the multipart field carrying the dropped files.
const uploadFormField = "files"

// UploadResponse is the state of a storage field after its uploads
// finished. Failed uploads stay in Items with an error.
type UploadResponse struct {
	Field   string           `json:"field"`
	Value   any              `json:"value"`
	Items   []upload.Item    `json:"items"`
	Outcome entityuc.Outcome `json:"outcome,omitempty"`
}

// Upload handles POST /api/v1/uploads?path=&field=&id=&save=. The files of
// the multipart form are dropped on the storage field; with save=true and
// an entity id the resulting value is written through the save pipeline.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	field, id := q.Get("field"), q.Get("id")
	if field == "" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "query parameter field is required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[uploadFormField]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "no files in form field "+uploadFormField)
		return
	}

	ctx := r.Context()
	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	allowed := canEdit
	if id == "" {
		allowed = canCreate
	}
	if err := s.authorize(ctx, colPath, "upload", allowed); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	values := map[string]any{}
	if id != "" {
		e, err := s.entities.Get(ctx, colPath, id)
		if err != nil {
			s.handleDomainError(w, r, err)
			return
		}
		values = e.Values
	}
	props, err := c.Schema().Resolve(colPath, id, values, values)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	prop, ok := props.Get(field)
	if !ok {
		s.handleDomainError(w, r, fmt.Errorf("field %q: %w", field, domain.ErrNotFound))
		return
	}

	f, err := upload.NewField(upload.FieldConfig{
		Name:     field,
		Property: prop,
		EntityID: id,
		Values:   values,
		Storage:  s.files,
		Logger:   logger.FromContext(ctx),
	}, values[field])
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer f.Unmount()

	files, closeAll, err := openParts(headers)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	defer closeAll()

	if err := f.Drop(ctx, files...); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	f.Wait()

	resp := UploadResponse{Field: field, Value: f.Value(), Items: f.Items()}
	if id != "" && q.Get("save") == "true" {
		res := s.entities.SaveField(ctx, c.Schema(), colPath, id, field, resp.Value, entityuc.SaveListener{})
		if !res.Mutated() {
			s.handleDomainError(w, r, res.Err)
			return
		}
		resp.Outcome = res.Outcome
	}
	logger.FromContext(ctx).Info("Upload handled",
		zap.String("path", colPath),
		zap.String("field", field),
		zap.Int("files", len(files)),
	)
	writeJSON(w, http.StatusOK, resp)
}

func openParts(headers []*multipart.FileHeader) ([]*upload.File, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	files := make([]*upload.File, 0, len(headers))
	for _, h := range headers {
		body, err := h.Open()
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open %s: %w", h.Filename, err)
		}
		opened = append(opened, body)
		files = append(files, &upload.File{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Size:        h.Size,
			Body:        body,
		})
	}
	return files, closeAll, nil
}

// ServeFile handles GET /files/*.
func (s *Server) ServeFile(w http.ResponseWriter, r *http.Request) {
	p := chi.URLParam(r, "*")
	f, err := s.files.Open(p)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if fi.IsDir() {
		writeError(w, http.StatusNotFound, CodeNotFound, domain.ErrNotFound.Error())
		return
	}
	http.ServeContent(w, r, path.Base(p), fi.ModTime(), f)
}
