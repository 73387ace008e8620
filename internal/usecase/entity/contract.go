package entity

import (
	"context"

	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
)

// DataSource is the document backend the pipeline writes through.
// Implementations report missing entities with domain.ErrNotFound and
// rejected access with domain.ErrPermissionDenied.
type DataSource interface {
	FetchEntity(ctx context.Context, path, id string) (domentity.Entity, error)
	ListenEntity(ctx context.Context, path, id string, fn func(domentity.Entity, error)) (unsubscribe func(), err error)
	FetchCollection(ctx context.Context, path string, q domentity.Query) ([]domentity.Entity, error)
	SaveEntity(ctx context.Context, e domentity.Entity) (domentity.Entity, error)
	DeleteEntity(ctx context.Context, e domentity.Entity) error
}

// DeleteListener receives the notifications of one delete pipeline. Every
// hook is optional; at most one of them fires per entity, except that
// OnSuccess precedes OnPostHookError.
type DeleteListener struct {
	OnSuccess func(e domentity.Entity)
	OnFailure func(e domentity.Entity, err error)
	// OnPreHookError fires when the pre-delete hook aborted the deletion.
	OnPreHookError func(e domentity.Entity, err error)
	// OnPostHookError fires when the entity is gone but the post-delete
	// hook failed.
	OnPostHookError func(e domentity.Entity, err error)
}

func (l DeleteListener) success(e domentity.Entity) {
	if l.OnSuccess != nil {
		l.OnSuccess(e)
	}
}

func (l DeleteListener) failure(e domentity.Entity, err error) {
	if l.OnFailure != nil {
		l.OnFailure(e, err)
	}
}

func (l DeleteListener) preHookError(e domentity.Entity, err error) {
	if l.OnPreHookError != nil {
		l.OnPreHookError(e, err)
	}
}

func (l DeleteListener) postHookError(e domentity.Entity, err error) {
	if l.OnPostHookError != nil {
		l.OnPostHookError(e, err)
	}
}

// SaveListener receives the notifications of one save pipeline.
type SaveListener struct {
	OnSuccess       func(e domentity.Entity)
	OnFailure       func(err error)
	OnPreHookError  func(err error)
	OnPostHookError func(e domentity.Entity, err error)
}

func (l SaveListener) success(e domentity.Entity) {
	if l.OnSuccess != nil {
		l.OnSuccess(e)
	}
}

func (l SaveListener) failure(err error) {
	if l.OnFailure != nil {
		l.OnFailure(err)
	}
}

func (l SaveListener) preHookError(err error) {
	if l.OnPreHookError != nil {
		l.OnPreHookError(err)
	}
}

func (l SaveListener) postHookError(e domentity.Entity, err error) {
	if l.OnPostHookError != nil {
		l.OnPostHookError(e, err)
	}
}
