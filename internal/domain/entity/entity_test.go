package entity

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	e, err := New("/products/", "p1", nil)
	require.NoError(t, err)
	assert.Equal(t, "products", e.Path)
	assert.Equal(t, StatusExisting, e.Status)
	assert.NotNil(t, e.Values)
	assert.Equal(t, Reference{ID: "p1", Path: "products"}, e.Ref())

	_, err = New("products/p1", "x", nil)
	assert.Error(t, err, "even segment count")
	_, err = New("products", "bad id!", nil)
	assert.Error(t, err)
	_, err = New("", "p1", nil)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	values := map[string]any{
		"address": map[string]any{"city": "Lisbon"},
		"name":    "x",
	}
	assert.Equal(t, "Lisbon", Lookup(values, "address.city"))
	assert.Equal(t, "x", Lookup(values, "name"))
	assert.Nil(t, Lookup(values, "name.deeper"))
	assert.Nil(t, Lookup(values, "missing"))
}

func TestAsFloat(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{5, 5, true},
		{int64(7), 7, true},
		{2.5, 2.5, true},
		{json.Number("3"), 3, true},
		{" 42 ", 42, true},
		{"", 0, false},
		{"abc", 0, false},
		{true, 0, false},
		{nil, 0, false},
	}
	for _, tc := range tests {
		got, ok := AsFloat(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("AsFloat(%#v) = %v, %v; want %v, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestAsTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got, ok := AsTime(ts.Format(time.RFC3339))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	got, ok = AsTime(float64(ts.UnixMilli()))
	require.True(t, ok)
	assert.True(t, got.Equal(ts))

	_, ok = AsTime("yesterday")
	assert.False(t, ok)
}

func TestAsReference(t *testing.T) {
	r, ok := AsReference("users/u1")
	require.True(t, ok)
	assert.Equal(t, "users/u1", r.PathWithID())

	r, ok = AsReference(map[string]any{"id": "c1", "path": "sites/s1/cats"})
	require.True(t, ok)
	assert.Equal(t, "sites/s1/cats/c1", r.PathWithID())

	for _, bad := range []any{"nopath", "/x", "x/", map[string]any{"id": "a"}, 3} {
		_, ok := AsReference(bad)
		assert.False(t, ok, "%v", bad)
	}
}

func TestAsGeoPoint(t *testing.T) {
	g, ok := AsGeoPoint(map[string]any{"latitude": 1.5, "longitude": "2"})
	require.True(t, ok)
	assert.Equal(t, GeoPoint{Latitude: 1.5, Longitude: 2}, g)
	_, ok = AsGeoPoint(map[string]any{"latitude": 1.5})
	assert.False(t, ok)
}

func TestQuery_Apply(t *testing.T) {
	in := []Entity{
		{ID: "c", Values: map[string]any{"price": 3.0, "cat": "a"}},
		{ID: "a", Values: map[string]any{"price": 1.0, "cat": "b"}},
		{ID: "b", Values: map[string]any{"price": 2.0, "cat": "a"}},
		{ID: "d", Values: map[string]any{"cat": "a"}},
	}

	got := Query{OrderBy: "price", Order: Desc}.Apply(in)
	assert.Equal(t, []string{"c", "b", "a", "d"}, ids(got))

	got = Query{Filter: map[string]any{"cat": "a"}, OrderBy: "price"}.Apply(in)
	assert.Equal(t, []string{"d", "b", "c"}, ids(got))

	got = Query{StartAfter: "b", Limit: 1}.Apply(in)
	assert.Equal(t, []string{"c"}, ids(got))

	assert.Equal(t, "c", in[0].ID, "input must stay untouched")
}

func TestQuery_Validate(t *testing.T) {
	assert.NoError(t, Query{}.Validate())
	assert.Error(t, Query{Limit: -1}.Validate())
	assert.Error(t, Query{Order: "sideways"}.Validate())
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(5, 5.0))
	assert.True(t, Equal("x", "x"))
	assert.True(t, Equal(Reference{ID: "1", Path: "u"}, map[string]any{"id": "1", "path": "u"}))
	assert.False(t, Equal(5, "6"))
	assert.False(t, Equal("a", "b"))
}

func ids(es []Entity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
