package entity

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Reference points at another entity.
type Reference struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// PathWithID renders the reference as "path/id".
func (r Reference) PathWithID() string { return r.Path + "/" + r.ID }

// GeoPoint is a latitude/longitude pair.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// AsMap converts a nested record value into a map.
func AsMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// AsSlice converts an array value into a slice of any.
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []map[string]any:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	case []Reference:
		out := make([]any, len(s))
		for i, x := range s {
			out[i] = x
		}
		return out, true
	}
	return nil, false
}

// AsFloat coerces numbers and numeric strings. Empty strings, NaN and
// non-numeric values fail.
func AsFloat(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		x, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = x
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, false
		}
		x, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		f = x
	default:
		return 0, false
	}
	if math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// AsTime coerces a time.Time, an RFC 3339 string or epoch milliseconds.
func AsTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, false
		}
		return parsed, true
	case float64, int64, int, json.Number:
		ms, ok := AsFloat(t)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(ms)).UTC(), true
	}
	return time.Time{}, false
}

// AsReference coerces a Reference, a {"id","path"} map or a "path/id" string.
func AsReference(v any) (Reference, bool) {
	switch r := v.(type) {
	case Reference:
		return r, r.ID != "" && r.Path != ""
	case *Reference:
		if r == nil {
			return Reference{}, false
		}
		return *r, r.ID != "" && r.Path != ""
	case map[string]any:
		id, _ := r["id"].(string)
		path, _ := r["path"].(string)
		return Reference{ID: id, Path: path}, id != "" && path != ""
	case string:
		i := strings.LastIndex(r, "/")
		if i <= 0 || i == len(r)-1 {
			return Reference{}, false
		}
		return Reference{ID: r[i+1:], Path: r[:i]}, true
	}
	return Reference{}, false
}

// AsGeoPoint coerces a GeoPoint or a {"latitude","longitude"} map.
func AsGeoPoint(v any) (GeoPoint, bool) {
	switch g := v.(type) {
	case GeoPoint:
		return g, true
	case *GeoPoint:
		if g == nil {
			return GeoPoint{}, false
		}
		return *g, true
	case map[string]any:
		lat, ok1 := AsFloat(g["latitude"])
		lng, ok2 := AsFloat(g["longitude"])
		if !ok1 || !ok2 {
			return GeoPoint{}, false
		}
		return GeoPoint{Latitude: lat, Longitude: lng}, true
	}
	return GeoPoint{}, false
}

// Stringify renders a scalar the way it is shown in text cells.
func Stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	case Reference:
		return x.PathWithID()
	case fmt.Stringer:
		return x.String()
	}
	if f, ok := AsFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
