package table

import (
	"context"
)

// FieldSaver persists a single field of an entity.
type FieldSaver interface {
	SaveField(ctx context.Context, req SaveRequest) error
}

// SaveFunc adapts a function to FieldSaver.
type SaveFunc func(ctx context.Context, req SaveRequest) error

// SaveField calls f.
func (f SaveFunc) SaveField(ctx context.Context, req SaveRequest) error { return f(ctx, req) }

// SaveRequest is one field write issued by a cell.
type SaveRequest struct {
	Path     string
	EntityID string
	Field    string
	Value    any
}

// Observer receives a snapshot after every state change of a cell.
type Observer func(CellSnapshot)
