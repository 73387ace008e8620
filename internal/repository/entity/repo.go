package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/db"
	"github.com/kailas-cloud/cmskit/internal/domain"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/logger"
)

// DefaultKeyPrefix namespaces every key written by the repository.
const DefaultKeyPrefix = "cmskit:"

// store is the consumer interface for entities (ISP).
type store interface {
	JSONSet(ctx context.Context, key, path string, data []byte) error
	JSONGet(ctx context.Context, key string) ([]byte, error)
	JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error)
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Scan(ctx context.Context, pattern string) ([]string, error)
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, fn func(payload []byte)) (func(), error)
}

// Repo implements usecase/entity.DataSource over a document store.
type Repo struct {
	store  store
	prefix string
	now    func() time.Time
}

// New creates an entity repository. An empty prefix selects DefaultKeyPrefix.
func New(s store, prefix string) *Repo {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &Repo{store: s, prefix: prefix, now: time.Now}
}

// FetchEntity returns one entity or domain.ErrNotFound.
func (r *Repo) FetchEntity(ctx context.Context, path, id string) (domentity.Entity, error) {
	key := r.entityKey(path, id)
	raw, err := r.store.JSONGet(ctx, key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return domentity.Entity{}, fmt.Errorf("entity %s/%s: %w", path, id, domain.ErrNotFound)
		}
		return domentity.Entity{}, fmt.Errorf("json.get %s: %w", key, err)
	}
	return decodeEntity(raw)
}

// FetchCollection loads every entity of path and applies the query in
// memory.
func (r *Repo) FetchCollection(ctx context.Context, path string, q domentity.Query) ([]domentity.Entity, error) {
	keys, err := r.store.Scan(ctx, r.entityKey(path, "*"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	raws, err := r.store.JSONGetMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("json.get %s: %w", path, err)
	}

	list := make([]domentity.Entity, 0, len(raws))
	for i, raw := range raws {
		if raw == nil {
			// Deleted between SCAN and GET.
			continue
		}
		e, err := decodeEntity(raw)
		if err != nil {
			logger.FromContext(ctx).Warn("Skipping undecodable entity",
				zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		list = append(list, e)
	}
	return q.Apply(list), nil
}

// SaveEntity writes the entity and notifies its listeners.
func (r *Repo) SaveEntity(ctx context.Context, e domentity.Entity) (domentity.Entity, error) {
	key := r.entityKey(e.Path, e.ID)
	doc := toDocument(e, r.now())
	data, err := json.Marshal(doc)
	if err != nil {
		return domentity.Entity{}, fmt.Errorf("marshal entity: %w", err)
	}
	if err := r.store.JSONSet(ctx, key, db.RootPath, data); err != nil {
		return domentity.Entity{}, fmt.Errorf("json.set %s: %w", key, err)
	}
	r.publish(ctx, e.Path, e.ID, event{Document: doc})
	return fromDocument(doc), nil
}

// DeleteEntity removes the entity and notifies its listeners.
func (r *Repo) DeleteEntity(ctx context.Context, e domentity.Entity) error {
	key := r.entityKey(e.Path, e.ID)
	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("check exists %s: %w", key, err)
	}
	if !exists {
		return fmt.Errorf("entity %s/%s: %w", e.Path, e.ID, domain.ErrNotFound)
	}
	if err := r.store.Del(ctx, key); err != nil {
		return fmt.Errorf("del %s: %w", key, err)
	}
	r.publish(ctx, e.Path, e.ID, event{Deleted: true})
	return nil
}

// ListenEntity calls fn with the current entity and then on every change.
// A deleted or missing entity is reported as domain.ErrNotFound.
func (r *Repo) ListenEntity(
	ctx context.Context, path, id string, fn func(domentity.Entity, error),
) (func(), error) {
	unsubscribe, err := r.store.Subscribe(ctx, r.channel(path, id), func(payload []byte) {
		var ev event
		if err := json.Unmarshal(payload, &ev); err != nil {
			fn(domentity.Entity{}, fmt.Errorf("decode event: %w", err))
			return
		}
		if ev.Deleted || ev.Document == nil {
			fn(domentity.Entity{}, fmt.Errorf("entity %s/%s: %w", path, id, domain.ErrNotFound))
			return
		}
		fn(fromDocument(ev.Document), nil)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s/%s: %w", path, id, err)
	}

	fn(r.FetchEntity(ctx, path, id))
	return unsubscribe, nil
}

// publish notifies listeners. A failed notification does not fail the
// write that caused it.
func (r *Repo) publish(ctx context.Context, path, id string, ev event) {
	payload, err := json.Marshal(ev)
	if err == nil {
		err = r.store.Publish(ctx, r.channel(path, id), payload)
	}
	if err != nil {
		logger.FromContext(ctx).Warn("Entity change notification failed",
			zap.String("path", path), zap.String("entity_id", id), zap.Error(err))
	}
}

func (r *Repo) entityKey(path, id string) string {
	return r.prefix + "entity:" + domentity.NormalizePath(path) + ":" + id
}

func (r *Repo) channel(path, id string) string {
	return r.prefix + "events:" + domentity.NormalizePath(path) + ":" + id
}
