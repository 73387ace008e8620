// Package collection turns collection definitions and entities into the
// render-ready views served to editors: resolved schemas, form widget
// trees, table rows and CSV exports.
package collection

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/export"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	"github.com/kailas-cloud/cmskit/internal/domain/widget"
	"github.com/kailas-cloud/cmskit/internal/logger"
)

// Service builds collection views.
type Service struct {
	registry   Registry
	entities   Entities
	authz      auth.Authorizer
	dispatcher *widget.Dispatcher
}

// New creates a view service. Every principal gets full permissions until
// WithAuthorizer is called.
func New(registry Registry, entities Entities) *Service {
	return &Service{
		registry:   registry,
		entities:   entities,
		authz:      auth.AllowAll{},
		dispatcher: widget.NewDispatcher(),
	}
}

// WithAuthorizer sets the permission source.
func (s *Service) WithAuthorizer(a auth.Authorizer) *Service {
	if a != nil {
		s.authz = a
	}
	return s
}

// WithDispatcher sets the widget dispatcher, e.g. one knowing custom
// field components.
func (s *Service) WithDispatcher(d *widget.Dispatcher) *Service {
	if d != nil {
		s.dispatcher = d
	}
	return s
}

// Summary describes a collection for navigation.
type Summary struct {
	Path           string                `json:"path"`
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Group          string                `json:"group,omitempty"`
	Size           layout.CollectionSize `json:"size"`
	Permissions    auth.Permissions      `json:"permissions"`
	Subcollections []Summary             `json:"subcollections,omitempty"`
}

// List summarizes the root collections with the permissions of the
// principal in ctx.
func (s *Service) List(ctx context.Context) []Summary {
	roots := s.registry.Registry().All()
	out := make([]Summary, 0, len(roots))
	for _, c := range roots {
		out = append(out, s.summary(ctx, c, c.Path()))
	}
	return out
}

func (s *Service) summary(ctx context.Context, c domcol.Collection, template string) Summary {
	sum := Summary{
		Path:        c.Path(),
		Name:        c.Name(),
		Description: c.Description(),
		Group:       c.Group(),
		Size:        c.Size(),
		Permissions: s.permissions(ctx, c, template),
	}
	for _, sub := range c.Subcollections() {
		sum.Subcollections = append(sum.Subcollections, s.summary(ctx, sub, template+"/"+sub.Path()))
	}
	return sum
}

// Permissions returns what the principal in ctx may do on the collection
// at path.
func (s *Service) Permissions(ctx context.Context, path string) (auth.Permissions, error) {
	c, err := s.registry.ByPath(path)
	if err != nil {
		return auth.Permissions{}, fmt.Errorf("get collection: %w", err)
	}
	return s.permissions(ctx, c, TemplatePath(path)), nil
}

func (s *Service) permissions(ctx context.Context, c domcol.Collection, template string) auth.Permissions {
	p, _ := auth.FromContext(ctx)
	return c.Permissions(s.authz.Permissions(p, template))
}

// TemplatePath strips entity ids from a collection path:
// "sites/es/locales" becomes "sites/locales".
func TemplatePath(path string) string {
	segments := strings.Split(domentity.NormalizePath(path), "/")
	out := make([]string, 0, (len(segments)+1)/2)
	for i := 0; i < len(segments); i += 2 {
		out = append(out, segments[i])
	}
	return strings.Join(out, "/")
}

// SchemaView is a collection schema resolved for one entity.
type SchemaView struct {
	Path        string               `json:"path"`
	EntityID    string               `json:"entity_id,omitempty"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	CustomID    domcol.CustomID      `json:"custom_id"`
	Properties  *property.Properties `json:"properties"`
	Permissions auth.Permissions     `json:"permissions"`
}

// Schema resolves the schema of the collection at path. With an entity id
// the builders see the stored values of that entity.
func (s *Service) Schema(ctx context.Context, path, entityID string) (SchemaView, error) {
	c, err := s.registry.ByPath(path)
	if err != nil {
		return SchemaView{}, fmt.Errorf("get collection: %w", err)
	}
	path = domentity.NormalizePath(path)

	var values map[string]any
	if entityID != "" {
		e, err := s.entities.Get(ctx, path, entityID)
		if err != nil {
			return SchemaView{}, err
		}
		values = e.Values
	}
	sc := c.Schema()
	props, err := sc.Resolve(path, entityID, values, values)
	if err != nil {
		return SchemaView{}, fmt.Errorf("resolve schema: %w", err)
	}
	return SchemaView{
		Path:        path,
		EntityID:    entityID,
		Name:        sc.Name,
		Description: sc.Description,
		CustomID:    sc.CustomID,
		Properties:  props,
		Permissions: s.permissions(ctx, c, TemplatePath(path)),
	}, nil
}

// Form is the widget tree of an entity editor.
type Form struct {
	Path        string           `json:"path"`
	EntityID    string           `json:"entity_id,omitempty"`
	Status      domentity.Status `json:"status"`
	Permissions auth.Permissions `json:"permissions"`
	Fields      []widget.Widget  `json:"fields"`
}

// Form builds the editor of the entity id in the collection at path, or
// of a new entity when id is empty.
func (s *Service) Form(ctx context.Context, path, id string) (Form, error) {
	c, err := s.registry.ByPath(path)
	if err != nil {
		return Form{}, fmt.Errorf("get collection: %w", err)
	}
	path = domentity.NormalizePath(path)

	status := domentity.StatusNew
	values := map[string]any{}
	if id != "" {
		e, err := s.entities.Get(ctx, path, id)
		if err != nil {
			return Form{}, err
		}
		status, values = domentity.StatusExisting, e.Values
	}

	props, err := c.Schema().Resolve(path, id, values, values)
	if err != nil {
		return Form{}, fmt.Errorf("resolve schema: %w", err)
	}
	perms := s.permissions(ctx, c, TemplatePath(path))
	rc := widget.RenderContext{
		Surface:     widget.SurfaceForm,
		Size:        c.Size(),
		EntityID:    id,
		Status:      status,
		Values:      values,
		Permissions: perms,
	}
	form := Form{Path: path, EntityID: id, Status: status, Permissions: perms}
	for name, p := range props.All() {
		w, err := s.dispatcher.Field(rc, name, p, values[name])
		if err != nil {
			logger.FromContext(ctx).Error("Form field dispatch failed",
				zap.String("path", path), zap.String("field", name), zap.Error(err))
			return Form{}, fmt.Errorf("dispatch field %s: %w", name, err)
		}
		form.Fields = append(form.Fields, w)
	}
	return form, nil
}

// TableRow is one entity, its cells in column order.
type TableRow struct {
	ID    string          `json:"id"`
	Cells []widget.Widget `json:"cells"`
}

// Table is a collection rendered as rows of cells.
type Table struct {
	Path        string                `json:"path"`
	Size        layout.CollectionSize `json:"size"`
	RowHeight   int                   `json:"row_height"`
	Columns     []string              `json:"columns"`
	Permissions auth.Permissions      `json:"permissions"`
	Rows        []TableRow            `json:"rows"`
}

// Table renders the entities matched by q as unselected table cells. An
// empty size uses the collection default.
func (s *Service) Table(ctx context.Context, path string, q domentity.Query, size layout.CollectionSize) (Table, error) {
	c, err := s.registry.ByPath(path)
	if err != nil {
		return Table{}, fmt.Errorf("get collection: %w", err)
	}
	path = domentity.NormalizePath(path)
	if size == "" {
		size = c.Size()
	}
	list, err := s.entities.List(ctx, path, q)
	if err != nil {
		return Table{}, err
	}

	sc := c.Schema()
	cols, err := sc.Resolve(path, "", nil, nil)
	if err != nil {
		return Table{}, fmt.Errorf("resolve schema: %w", err)
	}
	t := Table{
		Path:        path,
		Size:        size,
		RowHeight:   size.RowHeight(),
		Columns:     cols.Keys(),
		Permissions: s.permissions(ctx, c, TemplatePath(path)),
		Rows:        make([]TableRow, 0, len(list)),
	}
	for _, e := range list {
		props, err := sc.Resolve(path, e.ID, e.Values, e.Values)
		if err != nil {
			return Table{}, fmt.Errorf("resolve schema for %s: %w", e.ID, err)
		}
		rc := widget.RenderContext{
			Surface:     widget.SurfaceTableCell,
			Size:        size,
			EntityID:    e.ID,
			Status:      domentity.StatusExisting,
			Values:      e.Values,
			Permissions: t.Permissions,
		}
		row := TableRow{ID: e.ID, Cells: make([]widget.Widget, 0, len(t.Columns))}
		for _, name := range t.Columns {
			p, ok := props.Get(name)
			if !ok {
				row.Cells = append(row.Cells, widget.Widget{Kind: widget.PreviewEmpty, Name: name, ReadOnly: true})
				continue
			}
			w, err := s.dispatcher.Field(rc, name, p, e.Values[name])
			if err != nil {
				return Table{}, fmt.Errorf("dispatch cell %s.%s: %w", e.ID, name, err)
			}
			row.Cells = append(row.Cells, w)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// Export writes the entities matched by q as CSV.
func (s *Service) Export(ctx context.Context, w io.Writer, path string, q domentity.Query) error {
	c, err := s.registry.ByPath(path)
	if err != nil {
		return fmt.Errorf("get collection: %w", err)
	}
	path = domentity.NormalizePath(path)
	list, err := s.entities.List(ctx, path, q)
	if err != nil {
		return err
	}
	props, err := c.Schema().Resolve(path, "", nil, nil)
	if err != nil {
		return fmt.Errorf("resolve schema: %w", err)
	}
	if err := export.Write(w, list, props); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	logger.FromContext(ctx).Info("Collection exported",
		zap.String("path", path), zap.Int("entities", len(list)))
	return nil
}
