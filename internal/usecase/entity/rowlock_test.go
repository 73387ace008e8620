package entity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// slowRowSource widens the window between reading an entity and writing
// it back, and records how many field saves overlapped in that window.
type slowRowSource struct {
	*mockDataSource
	open    atomic.Int32
	maxOpen atomic.Int32
}

func (s *slowRowSource) FetchEntity(ctx context.Context, path, id string) (domentity.Entity, error) {
	e, err := s.mockDataSource.FetchEntity(ctx, path, id)
	n := s.open.Add(1)
	for {
		m := s.maxOpen.Load()
		if n <= m || s.maxOpen.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return e, err
}

func (s *slowRowSource) SaveEntity(ctx context.Context, e domentity.Entity) (domentity.Entity, error) {
	defer s.open.Add(-1)
	return s.mockDataSource.SaveEntity(ctx, e)
}

func counterSchema(fields ...string) *collection.Schema {
	named := make([]property.Entry, 0, len(fields))
	for _, f := range fields {
		named = append(named, property.Named(f, &property.Property{DataType: property.Number}))
	}
	return &collection.Schema{Name: "Counters", Properties: property.NewProperties(named...)}
}

func TestSaveField_ConcurrentSiblingFieldsAllLand(t *testing.T) {
	fields := []string{"a", "b", "c", "d", "e", "f"}
	initial := make(map[string]any, len(fields))
	for _, f := range fields {
		initial[f] = 1.0
	}
	ds := &slowRowSource{mockDataSource: newMockDataSource(domentity.Entity{
		Path: "counters", ID: "row", Values: initial,
	})}
	svc := newService(ds)
	schema := counterSchema(fields...)

	var wg sync.WaitGroup
	for _, f := range fields {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := svc.SaveField(context.Background(), schema, "counters", "row", f, 2.0, SaveListener{})
			assert.True(t, res.OK(), "%s: %v", f, res.Err)
		}()
	}
	wg.Wait()

	got, err := ds.mockDataSource.FetchEntity(context.Background(), "counters", "row")
	require.NoError(t, err)
	for _, f := range fields {
		assert.Equal(t, 2.0, got.Values[f], "field %s was overwritten by a sibling save", f)
	}
	assert.Equal(t, int32(1), ds.maxOpen.Load())
}

func TestRowLocks_OtherEntitiesDoNotWait(t *testing.T) {
	var locks rowLocks
	unlock, err := locks.lock(context.Background(), rowKey("counters", "row1"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := locks.lock(ctx, rowKey("counters", "row2"))
	require.NoError(t, err)
	other()
}

func TestRowLocks_WaitHonoursContext(t *testing.T) {
	var locks rowLocks
	key := rowKey("counters", "row")
	unlock, err := locks.lock(context.Background(), key)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.lock(ctx, key)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	again, err := locks.lock(context.Background(), key)
	require.NoError(t, err)
	again()
	assert.Empty(t, locks.locks, "released keys must not accumulate")
}

func TestSaveField_CancelledWhileWaiting(t *testing.T) {
	ds := newMockDataSource(domentity.Entity{Path: "counters", ID: "row", Values: map[string]any{"a": 1.0}})
	svc := newService(ds)
	unlock, err := svc.rows.lock(context.Background(), rowKey("counters", "row"))
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := svc.SaveField(ctx, counterSchema("a"), "counters", "row", "a", 2.0, SaveListener{})

	assert.Equal(t, OutcomeTransportError, res.Outcome, fmt.Sprint(res.Err))
	assert.Empty(t, ds.saved)
}
