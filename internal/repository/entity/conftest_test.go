package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/db/sqlite"
)

// mockStore implements the consumer interface for tests.
type mockStore struct {
	jsonSetFn      func(ctx context.Context, key, path string, data []byte) error
	jsonGetFn      func(ctx context.Context, key string) ([]byte, error)
	jsonGetMultiFn func(ctx context.Context, keys []string) ([][]byte, error)
	delFn          func(ctx context.Context, key string) error
	existsFn       func(ctx context.Context, key string) (bool, error)
	scanFn         func(ctx context.Context, pattern string) ([]string, error)
	publishFn      func(ctx context.Context, channel string, payload []byte) error
}

func (m *mockStore) JSONSet(ctx context.Context, key, path string, data []byte) error {
	if m.jsonSetFn != nil {
		return m.jsonSetFn(ctx, key, path, data)
	}
	return nil
}

func (m *mockStore) JSONGet(ctx context.Context, key string) ([]byte, error) {
	if m.jsonGetFn != nil {
		return m.jsonGetFn(ctx, key)
	}
	return nil, nil
}

func (m *mockStore) JSONGetMulti(ctx context.Context, keys []string) ([][]byte, error) {
	if m.jsonGetMultiFn != nil {
		return m.jsonGetMultiFn(ctx, keys)
	}
	return make([][]byte, len(keys)), nil
}

func (m *mockStore) Del(ctx context.Context, key string) error {
	if m.delFn != nil {
		return m.delFn(ctx, key)
	}
	return nil
}

func (m *mockStore) Exists(ctx context.Context, key string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, key)
	}
	return false, nil
}

func (m *mockStore) Scan(ctx context.Context, pattern string) ([]string, error) {
	if m.scanFn != nil {
		return m.scanFn(ctx, pattern)
	}
	return nil, nil
}

func (m *mockStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if m.publishFn != nil {
		return m.publishFn(ctx, channel, payload)
	}
	return nil
}

func (m *mockStore) Subscribe(context.Context, string, func([]byte)) (func(), error) {
	return func() {}, nil
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// newSQLiteRepo returns a repository over a private in-memory database.
func newSQLiteRepo(t *testing.T) *Repo {
	t.Helper()
	s, err := sqlite.NewStore(context.Background(), sqlite.Config{})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	repo := New(s, "test:")
	repo.now = func() time.Time { return testNow }
	return repo
}
