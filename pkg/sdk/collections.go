package cmskit

import (
	"context"
	"fmt"
	"time"
)

// CollectionService builds the render-ready views of collections. Views
// carry the permissions of the principal stored in ctx (see
// WithPrincipal).
type CollectionService struct {
	client *Client
}

// List summarizes the root collections.
func (s *CollectionService) List(ctx context.Context) []Summary {
	return s.client.viewSvc.List(s.client.ctx(ctx))
}

// Schema resolves the schema of the collection at path for one entity.
// An empty id resolves it for a new entity.
func (s *CollectionService) Schema(ctx context.Context, path, id string) (v SchemaView, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("collections.schema", path, start, err) }()

	v, err = s.client.viewSvc.Schema(s.client.ctx(ctx), path, id)
	if err != nil {
		return SchemaView{}, fmt.Errorf("schema: %w", err)
	}
	return v, nil
}

// Form builds the widget tree of the entity editor.
func (s *CollectionService) Form(ctx context.Context, path, id string) (f Form, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("collections.form", path, start, err) }()

	f, err = s.client.viewSvc.Form(s.client.ctx(ctx), path, id)
	if err != nil {
		return Form{}, fmt.Errorf("form: %w", err)
	}
	return f, nil
}

// Table builds the table rows of the entities matched by q. An empty size
// keeps the collection default.
func (s *CollectionService) Table(
	ctx context.Context, path string, q Query, size CollectionSize,
) (t Table, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("collections.table", path, start, err) }()

	t, err = s.client.viewSvc.Table(s.client.ctx(ctx), path, q, size)
	if err != nil {
		return Table{}, fmt.Errorf("table: %w", err)
	}
	return t, nil
}

// Permissions returns what the principal in ctx may do on the collection.
func (s *CollectionService) Permissions(ctx context.Context, path string) (Permissions, error) {
	p, err := s.client.viewSvc.Permissions(s.client.ctx(ctx), path)
	if err != nil {
		return Permissions{}, fmt.Errorf("permissions: %w", err)
	}
	return p, nil
}
