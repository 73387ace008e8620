package entity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/db"
	"github.com/kailas-cloud/cmskit/internal/domain"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
)

func TestSaveFetch_RoundTripsTypedValues(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	published := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)

	in := domentity.Entity{Path: "products", ID: "p1", Values: map[string]any{
		"name":      "Lamp",
		"price":     12.5,
		"published": published,
		"category":  domentity.Reference{Path: "categories", ID: "c1"},
		"location":  domentity.GeoPoint{Latitude: 41.4, Longitude: 2.17},
		"tags":      []string{"home", "light"},
		"specs":     map[string]any{"weight": 1.2, "checked": published},
	}}
	_, err := repo.SaveEntity(ctx, in)
	require.NoError(t, err)

	got, err := repo.FetchEntity(ctx, "products", "p1")
	require.NoError(t, err)
	assert.Equal(t, "products", got.Path)
	assert.Equal(t, "p1", got.ID)
	assert.Equal(t, "Lamp", got.Values["name"])
	assert.Equal(t, 12.5, got.Values["price"])
	assert.Equal(t, published, got.Values["published"])
	assert.Equal(t, domentity.Reference{Path: "categories", ID: "c1"}, got.Values["category"])
	assert.Equal(t, domentity.GeoPoint{Latitude: 41.4, Longitude: 2.17}, got.Values["location"])
	assert.Equal(t, []any{"home", "light"}, got.Values["tags"])
	assert.Equal(t, map[string]any{"weight": 1.2, "checked": published}, got.Values["specs"])
}

func TestFetchEntity_NotFound(t *testing.T) {
	repo := newSQLiteRepo(t)
	_, err := repo.FetchEntity(context.Background(), "products", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFetchCollection_QueryAndIsolation(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	for _, e := range []domentity.Entity{
		{Path: "products", ID: "a", Values: map[string]any{"price": 30.0, "status": "live"}},
		{Path: "products", ID: "b", Values: map[string]any{"price": 10.0, "status": "live"}},
		{Path: "products", ID: "c", Values: map[string]any{"price": 20.0, "status": "draft"}},
		{Path: "products/a/locales", ID: "es", Values: map[string]any{"status": "live"}},
	} {
		_, err := repo.SaveEntity(ctx, e)
		require.NoError(t, err)
	}

	list, err := repo.FetchCollection(ctx, "products", domentity.Query{
		Filter:  map[string]any{"status": "live"},
		OrderBy: "price",
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, "a", list[1].ID)

	subs, err := repo.FetchCollection(ctx, "products/a/locales", domentity.Query{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "es", subs[0].ID)
}

func TestDeleteEntity(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()
	e := domentity.Entity{Path: "products", ID: "a", Values: map[string]any{}}
	_, err := repo.SaveEntity(ctx, e)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteEntity(ctx, e))
	_, err = repo.FetchEntity(ctx, "products", "a")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	assert.ErrorIs(t, repo.DeleteEntity(ctx, e), domain.ErrNotFound)
}

func TestListenEntity(t *testing.T) {
	repo := newSQLiteRepo(t)
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen []string
	)
	record := func(e domentity.Entity, err error) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case errors.Is(err, domain.ErrNotFound):
			seen = append(seen, "missing")
		case err != nil:
			seen = append(seen, "error")
		default:
			seen = append(seen, e.Values["name"].(string))
		}
	}

	unsubscribe, err := repo.ListenEntity(ctx, "products", "a", record)
	require.NoError(t, err)

	e := domentity.Entity{Path: "products", ID: "a", Values: map[string]any{"name": "v1"}}
	_, err = repo.SaveEntity(ctx, e)
	require.NoError(t, err)
	e.Values = map[string]any{"name": "v2"}
	_, err = repo.SaveEntity(ctx, e)
	require.NoError(t, err)
	require.NoError(t, repo.DeleteEntity(ctx, e))

	unsubscribe()
	_, err = repo.SaveEntity(ctx, e)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"missing", "v1", "v2", "missing"}, seen)
}

func TestSaveEntity_Keys(t *testing.T) {
	var setKey, channel string
	ms := &mockStore{
		jsonSetFn: func(_ context.Context, key, path string, _ []byte) error {
			setKey = key
			assert.Equal(t, db.RootPath, path)
			return nil
		},
		publishFn: func(_ context.Context, ch string, _ []byte) error {
			channel = ch
			return nil
		},
	}
	repo := New(ms, "")

	_, err := repo.SaveEntity(context.Background(), domentity.Entity{Path: "/products/", ID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, "cmskit:entity:products:a1", setKey)
	assert.Equal(t, "cmskit:events:products:a1", channel)
}

func TestSaveEntity_PublishFailureIsNotFatal(t *testing.T) {
	ms := &mockStore{
		publishFn: func(context.Context, string, []byte) error { return errors.New("no subscribers") },
	}
	_, err := New(ms, "").SaveEntity(context.Background(), domentity.Entity{Path: "products", ID: "a1"})
	assert.NoError(t, err)
}

func TestStoreErrorsAreWrapped(t *testing.T) {
	boom := &db.Error{Op: db.OpJSONGet, Err: errors.New("connection reset")}
	ms := &mockStore{
		jsonGetFn: func(context.Context, string) ([]byte, error) { return nil, boom },
		scanFn:    func(context.Context, string) ([]string, error) { return nil, boom },
		existsFn:  func(context.Context, string) (bool, error) { return false, boom },
		jsonSetFn: func(context.Context, string, string, []byte) error { return boom },
	}
	repo := New(ms, "")
	ctx := context.Background()

	_, err := repo.FetchEntity(ctx, "products", "a")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	_, err = repo.FetchCollection(ctx, "products", domentity.Query{})
	assert.ErrorIs(t, err, boom)

	assert.ErrorIs(t, repo.DeleteEntity(ctx, domentity.Entity{Path: "products", ID: "a"}), boom)

	_, err = repo.SaveEntity(ctx, domentity.Entity{Path: "products", ID: "a"})
	assert.ErrorIs(t, err, boom)
}

func TestFetchCollection_SkipsVanishedAndCorrupt(t *testing.T) {
	ms := &mockStore{
		scanFn: func(context.Context, string) ([]string, error) {
			return []string{"k1", "k2", "k3"}, nil
		},
		jsonGetMultiFn: func(context.Context, []string) ([][]byte, error) {
			return [][]byte{
				[]byte(`{"id":"a","path":"products","values":{}}`),
				nil,
				[]byte(`{broken`),
			}, nil
		},
	}
	list, err := New(ms, "").FetchCollection(context.Background(), "products", domentity.Query{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a", list[0].ID)
}
