package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	dombatch "github.com/kailas-cloud/cmskit/internal/domain/batch"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
	"github.com/kailas-cloud/cmskit/internal/logger"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
	"github.com/kailas-cloud/cmskit/internal/usecase/table"
)

// EntityResponse is an entity. Warning is set when the entity was written
// but a post hook failed.
type EntityResponse struct {
	domentity.Entity
	Outcome entityuc.Outcome `json:"outcome,omitempty"`
	Warning *ErrorResponse   `json:"warning,omitempty"`
}

// SaveEntityRequest is the body of create and save requests.
type SaveEntityRequest struct {
	ID     string           `json:"id,omitempty"`
	Status domentity.Status `json:"status,omitempty"`
	Values map[string]any   `json:"values"`
}

// PatchFieldRequest is the body of a single field edit.
type PatchFieldRequest struct {
	Value any `json:"value"`
}

// BulkDeleteRequest lists the entities to delete.
type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

// BatchResultItem is the outcome of one entity of a bulk operation.
type BatchResultItem struct {
	ID     string              `json:"id"`
	Status dombatch.ItemStatus `json:"status"`
	Error  *ErrorResponse      `json:"error,omitempty"`
}

// BulkDeleteResponse summarises a bulk delete.
type BulkDeleteResponse struct {
	Outcome   dombatch.Outcome  `json:"outcome"`
	Items     []BatchResultItem `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// ListEntities handles GET /api/v1/entities?path=.
func (s *Server) ListEntities(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	q, err := queryFromRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	if _, err := s.registry.ByPath(colPath); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	list, err := s.entities.List(r.Context(), colPath, q)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

// GetEntity handles GET /api/v1/entities/{id}?path=.
func (s *Server) GetEntity(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	if _, err := s.registry.ByPath(colPath); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	e, err := s.entities.Get(r.Context(), colPath, chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EntityResponse{Entity: e})
}

// CreateEntity handles POST /api/v1/entities?path=. New entities and
// copies both require the create permission.
func (s *Server) CreateEntity(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req SaveEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	status := domentity.StatusNew
	switch req.Status {
	case "", domentity.StatusNew:
	case domentity.StatusCopy:
		status = domentity.StatusCopy
	default:
		writeError(w, http.StatusBadRequest, CodeBadRequest,
			fmt.Sprintf("status must be %q or %q", domentity.StatusNew, domentity.StatusCopy))
		return
	}

	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), colPath, "create", canCreate); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if req.ID != "" {
		_, err := s.entities.Get(r.Context(), colPath, req.ID)
		switch {
		case err == nil:
			s.handleDomainError(w, r, fmt.Errorf("entity %s/%s: %w", colPath, req.ID, domain.ErrAlreadyExists))
			return
		case !errors.Is(err, domain.ErrNotFound):
			s.handleDomainError(w, r, err)
			return
		}
	}

	res := s.entities.Save(r.Context(), entityuc.SaveRequest{
		Path:   colPath,
		ID:     req.ID,
		Values: req.Values,
		Status: status,
		Schema: c.Schema(),
	})
	s.writeResult(w, r, http.StatusCreated, res)
}

// SaveEntity handles PUT /api/v1/entities/{id}?path=.
func (s *Server) SaveEntity(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req SaveEntityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), colPath, "edit", canEdit); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	current, err := s.entities.Get(r.Context(), colPath, chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res := s.entities.Save(r.Context(), entityuc.SaveRequest{
		Path:           current.Path,
		ID:             current.ID,
		Values:         req.Values,
		PreviousValues: current.Values,
		Status:         domentity.StatusExisting,
		Schema:         c.Schema(),
	})
	s.writeResult(w, r, http.StatusOK, res)
}

// FieldResponse is the state of an edited field after the edit settled.
type FieldResponse struct {
	table.CellSnapshot
	Outcome entityuc.Outcome `json:"outcome,omitempty"`
	Warning *ErrorResponse   `json:"warning,omitempty"`
}

// PatchField handles PATCH /api/v1/entities/{id}/fields/{field}?path=.
// The edit runs through a table cell: the value is validated against the
// field's sub-schema and, when valid and changed, saved through the full
// save pipeline.
func (s *Server) PatchField(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req PatchFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	ctx := r.Context()
	id, field := chi.URLParam(r, "id"), chi.URLParam(r, "field")

	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.authorize(ctx, colPath, "edit", canEdit); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	e, err := s.entities.Get(ctx, colPath, id)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	props, err := c.Schema().Resolve(e.Path, e.ID, e.Values, e.Values)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	v, err := validation.Compile(props, s.entities.UniqueValidator(e.Path, e.ID))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	sub, ok := v.Field(field)
	if !ok {
		s.handleDomainError(w, r, fmt.Errorf("field %q: %w", field, domain.ErrNotFound))
		return
	}

	var res entityuc.Result
	cell := table.NewCell(table.CellConfig{
		Path:      e.Path,
		EntityID:  e.ID,
		Field:     field,
		Committed: e.Values[field],
		Schema:    sub,
		ReadOnly:  sub.Property().IsReadOnly(),
		Saver: table.SaveFunc(func(ctx context.Context, req table.SaveRequest) error {
			res = s.entities.SaveField(ctx, c.Schema(),
				req.Path, req.EntityID, req.Field, req.Value, entityuc.SaveListener{})
			if res.Outcome == entityuc.OutcomePostHookError {
				return nil
			}
			return res.Err
		}),
		Flash:  s.flash,
		Logger: logger.FromContext(ctx),
	})
	defer cell.Unmount()

	if err := cell.SetValue(ctx, req.Value); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	cell.Wait()

	snap := cell.Snapshot()
	if snap.Err != nil {
		s.handleDomainError(w, r, snap.Err)
		return
	}
	resp := FieldResponse{CellSnapshot: snap, Outcome: res.Outcome}
	if res.Outcome == entityuc.OutcomePostHookError {
		resp.Warning = warning(res.Err)
	}
	writeJSON(w, http.StatusOK, resp)
}

// DeleteEntity handles DELETE /api/v1/entities/{id}?path=.
func (s *Server) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), colPath, "delete", canDelete); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	e, err := s.entities.Get(r.Context(), colPath, chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	res := s.entities.Delete(r.Context(), entityuc.DeleteRequest{Entity: e, Schema: c.Schema()})
	if res.OK() {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.writeResult(w, r, http.StatusOK, res)
}

// BulkDelete handles POST /api/v1/entities/bulk-delete?path=. Entities
// that cannot be fetched are reported as failed items.
func (s *Server) BulkDelete(w http.ResponseWriter, r *http.Request) {
	colPath, ok := requirePath(w, r)
	if !ok {
		return
	}
	var req BulkDeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 || len(req.IDs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, CodeBadRequest,
			fmt.Sprintf("ids count must be between 1 and %d", maxBatchSize))
		return
	}
	c, err := s.registry.ByPath(colPath)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if err := s.authorize(r.Context(), colPath, "delete", canDelete); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	var missing []dombatch.Result
	entities := make([]domentity.Entity, 0, len(req.IDs))
	for _, id := range req.IDs {
		e, err := s.entities.Get(r.Context(), colPath, id)
		if err != nil {
			missing = append(missing, dombatch.NewError(id, err))
			continue
		}
		entities = append(entities, e)
	}

	bulk := s.entities.BulkDelete(r.Context(), entities, c.Schema(), entityuc.DeleteListener{})
	results := append(bulk.Batch(), missing...)

	resp := BulkDeleteResponse{Outcome: dombatch.Aggregate(results), Items: make([]BatchResultItem, len(results))}
	for i, res := range results {
		resp.Items[i] = batchResultItem(res)
		if res.Status() == dombatch.StatusOK {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	logger.FromContext(r.Context()).Info("Bulk delete handled",
		zap.String("path", colPath),
		zap.String("outcome", string(resp.Outcome)),
		zap.Int("failed", resp.Failed),
	)
	writeJSON(w, http.StatusOK, resp)
}

// writeResult writes the outcome of a save or delete pipeline. A failed
// post hook still answers with the written entity, carrying a warning.
func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, okStatus int, res entityuc.Result) {
	switch res.Outcome {
	case entityuc.OutcomeSuccess:
		writeJSON(w, okStatus, EntityResponse{Entity: res.Entity, Outcome: res.Outcome})
	case entityuc.OutcomePostHookError:
		writeJSON(w, okStatus, EntityResponse{Entity: res.Entity, Outcome: res.Outcome, Warning: warning(res.Err)})
	default:
		s.handleDomainError(w, r, res.Err)
	}
}

func canCreate(p auth.Permissions) bool { return p.Create }
func canEdit(p auth.Permissions) bool { return p.Edit }
func canDelete(p auth.Permissions) bool { return p.Delete }

func warning(err error) *ErrorResponse {
	resp := &ErrorResponse{Code: CodeHookFailed, Message: safeDomainMessage(err)}
	var hookErr *domain.HookError
	if errors.As(err, &hookErr) {
		resp.Stage = hookErr.Stage
	}
	return resp
}

func batchResultItem(r dombatch.Result) BatchResultItem {
	item := BatchResultItem{ID: r.ID(), Status: r.Status()}
	if r.Err() != nil {
		item.Error = &ErrorResponse{
			Code:    batchErrorCode(r.Err()),
			Message: safeDomainMessage(r.Err()),
		}
	}
	return item
}

func batchErrorCode(err error) ErrorCode {
	var hookErr *domain.HookError
	switch {
	case errors.As(err, &hookErr):
		return CodeHookFailed
	case errors.Is(err, domain.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return CodeForbidden
	case errors.Is(err, domain.ErrInvalidPath):
		return CodeInvalidPath
	default:
		return CodeInternalError
	}
}
