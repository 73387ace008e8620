package collection

import (
	"context"

	domcol "github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
)

// Registry resolves collection definitions.
type Registry interface {
	Registry() *domcol.Registry
	ByPath(path string) (domcol.Collection, error)
}

// Entities is the read side of the data source.
type Entities interface {
	Get(ctx context.Context, path, id string) (domentity.Entity, error)
	List(ctx context.Context, path string, q domentity.Query) ([]domentity.Entity, error)
}
