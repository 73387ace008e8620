package entity

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
	"github.com/kailas-cloud/cmskit/internal/logger"
	"github.com/kailas-cloud/cmskit/internal/metrics"
)

// DefaultBulkConcurrency bounds the parallel pipelines of a bulk delete.
const DefaultBulkConcurrency = 8

// Service runs the save and delete pipelines of entities.
type Service struct {
	ds          DataSource
	now         func() time.Time
	newID       func() string
	concurrency int
	rows        rowLocks
}

// New creates an entity service.
func New(ds DataSource) *Service {
	return &Service{
		ds:          ds,
		now:         time.Now,
		newID:       func() string { return ulid.Make().String() },
		concurrency: DefaultBulkConcurrency,
	}
}

// WithConcurrency bounds the parallelism of bulk operations.
func (s *Service) WithConcurrency(n int) *Service {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// WithClock overrides the clock used for auto-valued timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithIDGenerator overrides the generator of automatic ids.
func (s *Service) WithIDGenerator(gen func() string) *Service {
	if gen != nil {
		s.newID = gen
	}
	return s
}

// Get fetches one entity.
func (s *Service) Get(ctx context.Context, path, id string) (domentity.Entity, error) {
	e, err := s.ds.FetchEntity(ctx, domentity.NormalizePath(path), id)
	if err != nil {
		return domentity.Entity{}, fmt.Errorf("fetch entity: %w", err)
	}
	return e, nil
}

// List fetches the entities of a collection.
func (s *Service) List(ctx context.Context, path string, q domentity.Query) ([]domentity.Entity, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSchema, err)
	}
	list, err := s.ds.FetchCollection(ctx, domentity.NormalizePath(path), q)
	if err != nil {
		return nil, fmt.Errorf("fetch collection: %w", err)
	}
	return list, nil
}

// Listen subscribes to changes of one entity.
func (s *Service) Listen(
	ctx context.Context, path, id string, fn func(domentity.Entity, error),
) (func(), error) {
	unsubscribe, err := s.ds.ListenEntity(ctx, domentity.NormalizePath(path), id, fn)
	if err != nil {
		return nil, fmt.Errorf("listen entity: %w", err)
	}
	return unsubscribe, nil
}

// SaveRequest describes one entity write.
type SaveRequest struct {
	Path           string
	ID             string
	Values         map[string]any
	PreviousValues map[string]any
	Status         domentity.Status
	Schema         *collection.Schema
	Listener       SaveListener
}

// Save resolves the schema, stamps auto values, validates, runs the
// pre-save hook, assigns an id to new entities, persists and finally runs
// the save-success hook.
func (s *Service) Save(ctx context.Context, req SaveRequest) Result {
	start := time.Now()
	res := s.save(ctx, req)
	s.observe(ctx, "save", req.Path, res, start)
	return res
}

func (s *Service) save(ctx context.Context, req SaveRequest) Result {
	l := req.Listener
	if req.Schema == nil {
		err := domain.NewConfigError("", "entity %s has no schema", req.Path)
		l.failure(err)
		return Result{Outcome: OutcomeConfigError, Err: err}
	}
	status := req.Status
	if status == "" {
		status = domentity.StatusExisting
		if req.ID == "" {
			status = domentity.StatusNew
		}
	}
	path := domentity.NormalizePath(req.Path)
	values := maps.Clone(req.Values)
	if values == nil {
		values = make(map[string]any)
	}

	props, err := req.Schema.Resolve(path, req.ID, values, req.PreviousValues)
	if err != nil {
		l.failure(err)
		return Result{Outcome: OutcomeConfigError, Err: err}
	}
	s.stampAutoValues(props, values, req.PreviousValues, status)

	v, err := validation.Compile(props, s.UniqueValidator(path, req.ID))
	if err != nil {
		l.failure(err)
		return Result{Outcome: OutcomeConfigError, Err: err}
	}
	if err := v.Validate(ctx, values); err != nil {
		l.failure(err)
		if errors.Is(err, domain.ErrValidation) {
			return Result{Outcome: OutcomeStructuralError, Err: err}
		}
		return Result{Outcome: OutcomeTransportError, Err: err}
	}

	cb := req.Schema.Callbacks
	in := collection.SaveHookInput{
		Path:           path,
		EntityID:       req.ID,
		Values:         values,
		PreviousValues: req.PreviousValues,
		Status:         status,
		Schema:         req.Schema,
	}
	if cb.OnPreSave != nil {
		var replaced map[string]any
		err := guard(func() error {
			var hookErr error
			replaced, hookErr = cb.OnPreSave(ctx, in)
			return hookErr
		})
		if err != nil {
			hookErr := &domain.HookError{Stage: domain.HookPreSave, Err: err}
			l.preHookError(hookErr)
			return Result{Outcome: OutcomePreHookError, Err: hookErr}
		}
		if replaced != nil {
			values = replaced
			in.Values = values
		}
	}

	id, err := s.assignID(req.Schema, req.ID, status)
	if err != nil {
		l.failure(err)
		return Result{Outcome: OutcomeStructuralError, Err: err}
	}
	in.EntityID = id

	e, err := domentity.New(path, id, values)
	if err != nil {
		l.failure(err)
		return Result{Outcome: OutcomeStructuralError, Err: err}
	}
	saved, err := s.ds.SaveEntity(ctx, e)
	if err != nil {
		err = fmt.Errorf("save entity: %w", err)
		if cb.OnSaveFailure != nil {
			_ = guard(func() error {
				cb.OnSaveFailure(ctx, in, err)
				return nil
			})
		}
		l.failure(err)
		return Result{Outcome: OutcomeTransportError, Entity: e, Err: err}
	}

	l.success(saved)
	if cb.OnSaveSuccess != nil {
		in.Values = saved.Values
		if err := guard(func() error { return cb.OnSaveSuccess(ctx, in) }); err != nil {
			hookErr := &domain.HookError{Stage: domain.HookPostSave, Err: err}
			l.postHookError(saved, hookErr)
			return Result{Outcome: OutcomePostHookError, Entity: saved, Err: hookErr}
		}
	}
	return Result{Outcome: OutcomeSuccess, Entity: saved}
}

// SaveField writes a single field of an existing entity through the full
// save pipeline. Concurrent field saves of one entity run one after
// another, so each starts from the values the previous one stored.
func (s *Service) SaveField(
	ctx context.Context, schema *collection.Schema, path, id, field string, value any, l SaveListener,
) Result {
	path = domentity.NormalizePath(path)
	unlock, err := s.rows.lock(ctx, rowKey(path, id))
	if err != nil {
		l.failure(err)
		res := Result{Outcome: OutcomeTransportError, Err: err}
		s.observe(ctx, "save_field", path, res, time.Now())
		return res
	}
	defer unlock()

	current, err := s.ds.FetchEntity(ctx, path, id)
	if err != nil {
		err = fmt.Errorf("fetch entity: %w", err)
		l.failure(err)
		res := Result{Outcome: OutcomeTransportError, Err: err}
		s.observe(ctx, "save_field", path, res, time.Now())
		return res
	}
	values := cloneDeep(current.Values)
	setPath(values, field, value)
	return s.Save(ctx, SaveRequest{
		Path:           current.Path,
		ID:             current.ID,
		Values:         values,
		PreviousValues: current.Values,
		Status:         domentity.StatusExisting,
		Schema:         schema,
		Listener:       l,
	})
}

// assignID returns the id of the entity being saved. New entities without
// an id get a ulid unless the schema asks for a manual or enumerated id.
func (s *Service) assignID(schema *collection.Schema, id string, status domentity.Status) (string, error) {
	mode := schema.IDMode()
	if id == "" {
		if status == domentity.StatusExisting {
			return "", fmt.Errorf("existing entity without id: %w", domain.ErrInvalidPath)
		}
		if mode != collection.IDAuto {
			return "", fmt.Errorf("schema %q requires a %s id: %w", schema.Name, mode, domain.ErrInvalidPath)
		}
		return s.newID(), nil
	}
	if mode == collection.IDEnum && status != domentity.StatusExisting && !schema.CustomID.Values.Contains(id) {
		return "", fmt.Errorf("id %q is not one of the allowed values: %w", id, domain.ErrInvalidPath)
	}
	return id, nil
}

// stampAutoValues sets auto-valued timestamps: on_create on new and copied
// entities, on_update on every save. Existing entities keep their creation
// time.
func (s *Service) stampAutoValues(
	props *property.Properties, values, previous map[string]any, status domentity.Status,
) {
	now := s.now().UTC()
	for name, p := range props.All() {
		switch {
		case p.DataType == property.Map && p.Properties.Len() > 0:
			child, ok := domentity.AsMap(values[name])
			if !ok {
				continue
			}
			child = maps.Clone(child)
			prevChild, _ := domentity.AsMap(previous[name])
			s.stampAutoValues(p.Properties, child, prevChild, status)
			values[name] = child
		case p.DataType != property.Timestamp:
		case p.AutoValue == property.AutoOnUpdate:
			values[name] = now
		case p.AutoValue == property.AutoOnCreate:
			if status != domentity.StatusExisting {
				values[name] = now
			} else if prev, ok := previous[name]; ok && values[name] == nil {
				values[name] = prev
			}
		}
	}
}

func (s *Service) observe(ctx context.Context, op, path string, res Result, start time.Time) {
	duration := time.Since(start)
	metrics.PipelineOperationsTotal.WithLabelValues(op, string(res.Outcome)).Inc()
	metrics.PipelineDuration.WithLabelValues(op).Observe(duration.Seconds())

	fields := []zap.Field{
		zap.String("operation", op),
		zap.String("path", path),
		zap.String("entity_id", res.Entity.ID),
		zap.String("outcome", string(res.Outcome)),
		zap.Duration("duration", duration),
	}
	log := logger.FromContext(ctx)
	switch res.Outcome {
	case OutcomeSuccess:
		log.Debug("Entity pipeline completed", fields...)
	case OutcomeStructuralError:
		log.Info("Entity rejected by validation", append(fields, zap.Error(res.Err))...)
	case OutcomeConfigError:
		log.Error("Entity schema misconfigured", append(fields, zap.Error(res.Err))...)
	default:
		log.Warn("Entity pipeline failed", append(fields, zap.Error(res.Err))...)
	}
}

// guard runs a user hook and converts a panic into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn()
}

func cloneDeep(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if m, ok := v.(map[string]any); ok {
			v = cloneDeep(m)
		}
		out[k] = v
	}
	return out
}

// setPath assigns a dotted path, creating intermediate maps.
func setPath(values map[string]any, dotted string, v any) {
	parts := strings.Split(dotted, ".")
	cur := values
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
