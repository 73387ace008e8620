package entity

import (
	"encoding/json"
	"fmt"
	"time"

	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
)

// Type tags for values JSON cannot carry natively.
const (
	typeKey       = "__type"
	typeTimestamp = "timestamp"
	typeReference = "reference"
	typeGeoPoint  = "geopoint"
)

// document is the stored shape of an entity.
type document struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Values    map[string]any `json:"values"`
	UpdatedAt int64          `json:"updated_at"`
}

// event is published on every change of an entity.
type event struct {
	Deleted  bool      `json:"deleted,omitempty"`
	Document *document `json:"document,omitempty"`
}

func toDocument(e domentity.Entity, now time.Time) *document {
	values, _ := encodeValue(e.Values).(map[string]any)
	return &document{ID: e.ID, Path: e.Path, Values: values, UpdatedAt: now.UnixMilli()}
}

func decodeEntity(data []byte) (domentity.Entity, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domentity.Entity{}, fmt.Errorf("unmarshal entity: %w", err)
	}
	return fromDocument(&doc), nil
}

func fromDocument(doc *document) domentity.Entity {
	values, _ := decodeValue(doc.Values).(map[string]any)
	if values == nil {
		values = map[string]any{}
	}
	return domentity.Entity{Path: doc.Path, ID: doc.ID, Values: values, Status: domentity.StatusExisting}
}

// encodeValue replaces timestamps, references and geopoints with tagged
// maps, recursively.
func encodeValue(v any) any {
	switch x := v.(type) {
	case time.Time:
		return map[string]any{typeKey: typeTimestamp, "value": x.UTC().Format(time.RFC3339Nano)}
	case domentity.Reference:
		return map[string]any{typeKey: typeReference, "id": x.ID, "path": x.Path}
	case domentity.GeoPoint:
		return map[string]any{typeKey: typeGeoPoint, "latitude": x.Latitude, "longitude": x.Longitude}
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = encodeValue(child)
		}
		return out
	}
	if list, ok := domentity.AsSlice(v); ok {
		out := make([]any, len(list))
		for i, child := range list {
			out[i] = encodeValue(child)
		}
		return out
	}
	return v
}

func decodeValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		switch x[typeKey] {
		case typeTimestamp:
			if t, ok := domentity.AsTime(x["value"]); ok {
				return t
			}
		case typeReference:
			if r, ok := domentity.AsReference(x); ok {
				return r
			}
		case typeGeoPoint:
			if g, ok := domentity.AsGeoPoint(x); ok {
				return g
			}
		}
		out := make(map[string]any, len(x))
		for k, child := range x {
			out[k] = decodeValue(child)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, child := range x {
			out[i] = decodeValue(child)
		}
		return out
	}
	return v
}
