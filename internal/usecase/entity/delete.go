package entity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/cmskit/internal/domain"
	dombatch "github.com/kailas-cloud/cmskit/internal/domain/batch"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/logger"
	"github.com/kailas-cloud/cmskit/internal/metrics"
)

// DeleteRequest describes one entity removal.
type DeleteRequest struct {
	Entity   domentity.Entity
	Schema   *collection.Schema
	Listener DeleteListener
}

// Delete runs the pre-delete hook, removes the entity and runs the
// post-delete hook. A failing pre hook leaves the data source untouched.
// A failing post hook does not restore the entity, yet the result is not
// OK.
func (s *Service) Delete(ctx context.Context, req DeleteRequest) Result {
	start := time.Now()
	res := s.delete(ctx, req)
	s.observe(ctx, "delete", req.Entity.Path, res, start)
	return res
}

func (s *Service) delete(ctx context.Context, req DeleteRequest) Result {
	e, l := req.Entity, req.Listener
	var cb collection.Callbacks
	if req.Schema != nil {
		cb = req.Schema.Callbacks
	}
	in := collection.DeleteHookInput{Path: e.Path, EntityID: e.ID, Entity: e, Schema: req.Schema}

	if cb.OnPreDelete != nil {
		if err := guard(func() error { return cb.OnPreDelete(ctx, in) }); err != nil {
			hookErr := &domain.HookError{Stage: domain.HookPreDelete, Err: err}
			l.preHookError(e, hookErr)
			return Result{Outcome: OutcomePreHookError, Entity: e, Err: hookErr}
		}
	}

	if err := s.ds.DeleteEntity(ctx, e); err != nil {
		err = fmt.Errorf("delete entity: %w", err)
		l.failure(e, err)
		return Result{Outcome: OutcomeTransportError, Entity: e, Err: err}
	}

	l.success(e)
	if cb.OnDelete != nil {
		if err := guard(func() error { return cb.OnDelete(ctx, in) }); err != nil {
			hookErr := &domain.HookError{Stage: domain.HookPostDelete, Err: err}
			l.postHookError(e, hookErr)
			return Result{Outcome: OutcomePostHookError, Entity: e, Err: hookErr}
		}
	}
	return Result{Outcome: OutcomeSuccess, Entity: e}
}

// BulkDelete runs the delete pipeline for every entity in parallel and
// aggregates the outcome. Failed entities are not retried. The listener
// is called from several goroutines.
func (s *Service) BulkDelete(
	ctx context.Context, entities []domentity.Entity, schema *collection.Schema, l DeleteListener,
) BulkResult {
	results := make([]Result, len(entities))
	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, e := range entities {
		g.Go(func() error {
			results[i] = s.Delete(ctx, DeleteRequest{Entity: e, Schema: schema, Listener: l})
			return nil
		})
	}
	_ = g.Wait()

	out := BulkResult{Results: results}
	out.Outcome = dombatch.Aggregate(out.Batch())
	metrics.BulkOutcomesTotal.WithLabelValues("delete", string(out.Outcome)).Inc()
	logger.FromContext(ctx).Info("Bulk delete completed",
		zap.Int("entities", len(entities)),
		zap.String("outcome", string(out.Outcome)),
	)
	return out
}
