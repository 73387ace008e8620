package cmskit

import (
	"context"
	"fmt"
	"io"
	"time"

	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	entityuc "github.com/kailas-cloud/cmskit/internal/usecase/entity"
)

// EntityService reads and writes the entities of one collection. Writes
// run the full save or delete pipeline of the collection schema,
// callbacks included.
type EntityService struct {
	path   string
	client *Client
}

// Get fetches one entity.
func (s *EntityService) Get(ctx context.Context, id string) (e Entity, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.get", s.path, start, err) }()

	e, err = s.client.entitySvc.Get(s.client.ctx(ctx), s.path, id)
	if err != nil {
		return Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// List fetches the entities matched by q.
func (s *EntityService) List(ctx context.Context, q Query) (list []Entity, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.list", s.path, start, err) }()

	list, err = s.client.entitySvc.List(s.client.ctx(ctx), s.path, q)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	return list, nil
}

// Create saves a new entity. An empty id is generated or rejected
// depending on the custom id mode of the schema.
func (s *EntityService) Create(ctx context.Context, id string, values map[string]any) (res Result) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.create", s.path, start, res.Err) }()

	ctx = s.client.ctx(ctx)
	col, err := s.client.source.ByPath(s.path)
	if err != nil {
		return Result{Outcome: OutcomeConfigError, Err: fmt.Errorf("get collection: %w", err)}
	}
	if id != "" {
		if _, err := s.client.entitySvc.Get(ctx, s.path, id); err == nil {
			return Result{
				Outcome: OutcomeStructuralError,
				Err:     fmt.Errorf("entity %q: %w", id, ErrAlreadyExists),
			}
		}
	}
	return s.client.entitySvc.Save(ctx, entityuc.SaveRequest{
		Path:   s.path,
		ID:     id,
		Values: values,
		Status: domentity.StatusNew,
		Schema: col.Schema(),
	})
}

// Update replaces the values of an existing entity.
func (s *EntityService) Update(ctx context.Context, id string, values map[string]any) (res Result) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.update", s.path, start, res.Err) }()

	ctx = s.client.ctx(ctx)
	col, err := s.client.source.ByPath(s.path)
	if err != nil {
		return Result{Outcome: OutcomeConfigError, Err: fmt.Errorf("get collection: %w", err)}
	}
	current, err := s.client.entitySvc.Get(ctx, s.path, id)
	if err != nil {
		return Result{Outcome: OutcomeTransportError, Err: err}
	}
	return s.client.entitySvc.Save(ctx, entityuc.SaveRequest{
		Path:           s.path,
		ID:             id,
		Values:         values,
		PreviousValues: current.Values,
		Status:         domentity.StatusExisting,
		Schema:         col.Schema(),
	})
}

// SaveField writes one top-level field of an existing entity through the
// save pipeline.
func (s *EntityService) SaveField(ctx context.Context, id, field string, value any) (res Result) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.save_field", s.path, start, res.Err) }()

	col, err := s.client.source.ByPath(s.path)
	if err != nil {
		return Result{Outcome: OutcomeConfigError, Err: fmt.Errorf("get collection: %w", err)}
	}
	return s.client.entitySvc.SaveField(
		s.client.ctx(ctx), col.Schema(), s.path, id, field, value, entityuc.SaveListener{},
	)
}

// Delete removes one entity, running the delete callbacks.
func (s *EntityService) Delete(ctx context.Context, id string) (res Result) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.delete", s.path, start, res.Err) }()

	ctx = s.client.ctx(ctx)
	col, err := s.client.source.ByPath(s.path)
	if err != nil {
		return Result{Outcome: OutcomeConfigError, Err: fmt.Errorf("get collection: %w", err)}
	}
	e, err := s.client.entitySvc.Get(ctx, s.path, id)
	if err != nil {
		return Result{Outcome: OutcomeTransportError, Entity: Entity{ID: id}, Err: err}
	}
	return s.client.entitySvc.Delete(ctx, entityuc.DeleteRequest{Entity: e, Schema: col.Schema()})
}

// BulkDelete deletes the entities in parallel. Every id must exist;
// otherwise nothing is deleted.
func (s *EntityService) BulkDelete(ctx context.Context, ids ...string) (res BulkResult, err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.bulk_delete", s.path, start, err) }()

	ctx = s.client.ctx(ctx)
	col, err := s.client.source.ByPath(s.path)
	if err != nil {
		return BulkResult{}, fmt.Errorf("get collection: %w", err)
	}
	entities := make([]Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.client.entitySvc.Get(ctx, s.path, id)
		if err != nil {
			return BulkResult{}, fmt.Errorf("bulk delete %q: %w", id, err)
		}
		entities = append(entities, e)
	}
	return s.client.entitySvc.BulkDelete(ctx, entities, col.Schema(), entityuc.DeleteListener{}), nil
}

// Listen calls fn with the current state of the entity and again after
// every change, until the returned function is called or ctx is done.
func (s *EntityService) Listen(ctx context.Context, id string, fn func(Entity, error)) (func(), error) {
	unsubscribe, err := s.client.entitySvc.Listen(s.client.ctx(ctx), s.path, id, fn)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return unsubscribe, nil
}

// Export writes the entities matched by q as CSV.
func (s *EntityService) Export(ctx context.Context, w io.Writer, q Query) (err error) {
	start := time.Now()
	defer func() { s.client.obs.observe("entities.export", s.path, start, err) }()

	if err = s.client.viewSvc.Export(s.client.ctx(ctx), w, s.path, q); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}
