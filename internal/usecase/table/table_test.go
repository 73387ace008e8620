package table

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
)

// --- Mocks ---

type mockSaver struct {
	mu    sync.Mutex
	calls []SaveRequest
	err   error
	block map[string]chan struct{} // field -> release
}

func (m *mockSaver) SaveField(_ context.Context, req SaveRequest) error {
	m.mu.Lock()
	ch := m.block[req.Field]
	m.mu.Unlock()
	if ch != nil {
		<-ch
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	return m.err
}

// fieldStore holds the last written value of one field. Writes of the
// value in hold wait for release.
type fieldStore struct {
	mu      sync.Mutex
	value   any
	writes  []any
	hold    any
	release chan struct{}
}

func (f *fieldStore) SaveField(_ context.Context, req SaveRequest) error {
	if req.Value == f.hold {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.value = req.Value
	f.writes = append(f.writes, req.Value)
	return nil
}

func (f *fieldStore) stored() (any, []any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, append([]any(nil), f.writes...)
}

func (m *mockSaver) saved() []SaveRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SaveRequest(nil), m.calls...)
}

func schemaFor(t *testing.T, name string, p *property.Property, custom validation.CustomFieldValidator) *validation.Schema {
	t.Helper()
	v, err := validation.Compile(property.NewProperties(property.Named(name, p)), custom)
	require.NoError(t, err)
	s, ok := v.Field(name)
	require.True(t, ok)
	return s
}

var requiredNumber = &property.Property{
	DataType:   property.Number,
	Validation: &property.Validation{Required: true},
}

func TestCell_RequiredNumberScenario(t *testing.T) {
	saver := &mockSaver{}
	c := NewCell(CellConfig{
		Path: "products", EntityID: "p1", Field: "price", Committed: 3.0,
		Schema: schemaFor(t, "price", requiredNumber, nil),
		Saver:  saver,
		Flash:  20 * time.Millisecond,
	})
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, nil))
	c.Wait()
	snap := c.Snapshot()
	assert.Empty(t, saver.saved(), "save must be withheld on validation failure")
	assert.True(t, snap.Dirty)
	assert.Equal(t, "Required", snap.Error)
	assert.ErrorIs(t, snap.Err, domain.ErrValidation)

	require.NoError(t, c.SetValue(ctx, 5.0))
	c.Wait()
	calls := saver.saved()
	require.Len(t, calls, 1)
	assert.Equal(t, SaveRequest{Path: "products", EntityID: "p1", Field: "price", Value: 5.0}, calls[0])

	snap = c.Snapshot()
	assert.True(t, snap.Saved)
	assert.False(t, snap.Dirty)
	assert.Empty(t, snap.Error)

	require.Eventually(t, func() bool { return !c.Snapshot().Saved }, time.Second, 5*time.Millisecond)
	assert.Len(t, saver.saved(), 1)
}

func TestCell_SaveReceivesCastValue(t *testing.T) {
	saver := &mockSaver{}
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "price",
		Schema: schemaFor(t, "price", requiredNumber, nil),
		Saver:  saver,
	})
	require.NoError(t, c.SetValue(context.Background(), "42"))
	c.Wait()
	require.Len(t, saver.saved(), 1)
	assert.Equal(t, 42.0, saver.saved()[0].Value)
	assert.Equal(t, "42", c.Snapshot().Value, "buffer keeps the raw input")
}

func TestCell_LastScheduledWins(t *testing.T) {
	release := make(chan struct{})
	unique := func(_ context.Context, in validation.FieldValidatorInput) (bool, error) {
		if in.Value == "a" {
			<-release
			return false, nil
		}
		return true, nil
	}
	slug := &property.Property{DataType: property.String, Validation: &property.Validation{Unique: true}}
	saver := &mockSaver{}
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "slug", Committed: "x",
		Schema: schemaFor(t, "slug", slug, unique),
		Saver:  saver,
	})
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, "a"))
	require.NoError(t, c.SetValue(ctx, "b"))
	require.Eventually(t, func() bool { return len(saver.saved()) == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, "b", snap.Value)
	assert.Empty(t, snap.Error, "stale validation must not overwrite newer state")
	assert.False(t, snap.Dirty)
	require.Len(t, saver.saved(), 1)
	assert.Equal(t, "b", saver.saved()[0].Value)
}

func TestCell_SlowSaveDoesNotOverwriteNewerEdit(t *testing.T) {
	store := &fieldStore{value: 1.0, hold: 2.0, release: make(chan struct{})}
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "price", Committed: 1.0,
		Schema: schemaFor(t, "price", requiredNumber, nil),
		Saver:  store,
	})
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, 2.0))
	require.Eventually(t, func() bool { return c.Snapshot().Saving }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SetValue(ctx, 3.0))

	// The newer edit waits for the slow save instead of racing past it.
	time.Sleep(20 * time.Millisecond)
	_, writes := store.stored()
	assert.Empty(t, writes)

	close(store.release)
	c.Wait()

	value, writes := store.stored()
	assert.Equal(t, 3.0, value)
	assert.Equal(t, []any{2.0, 3.0}, writes)
	snap := c.Snapshot()
	assert.Equal(t, 3.0, snap.Value)
	assert.False(t, snap.Dirty)
	assert.True(t, snap.Saved)
	assert.Empty(t, snap.Error)
}

func TestCell_RevertDuringSlowSaveRestoresValue(t *testing.T) {
	store := &fieldStore{value: 1.0, hold: 2.0, release: make(chan struct{})}
	c := NewCell(CellConfig{EntityID: "p1", Field: "price", Committed: 1.0, Saver: store})
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, 2.0))
	require.Eventually(t, func() bool { return c.Snapshot().Saving }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.SetValue(ctx, 1.0))
	assert.False(t, c.Snapshot().Dirty)

	close(store.release)
	c.Wait()

	value, writes := store.stored()
	assert.Equal(t, 1.0, value, "the reverted value is written back after the slow save")
	assert.Equal(t, []any{2.0, 1.0}, writes)
	snap := c.Snapshot()
	assert.Equal(t, 1.0, snap.Value)
	assert.False(t, snap.Dirty)
	assert.False(t, snap.Saving)
}

func TestCell_SaveFailureKeepsBuffer(t *testing.T) {
	saver := &mockSaver{err: errors.New("backend down")}
	c := NewCell(CellConfig{EntityID: "p1", Field: "name", Committed: "old", Saver: saver})

	require.NoError(t, c.SetValue(context.Background(), "new"))
	c.Wait()

	snap := c.Snapshot()
	assert.Equal(t, "new", snap.Value)
	assert.True(t, snap.Dirty)
	assert.False(t, snap.Saved)
	assert.Contains(t, snap.Error, "backend down")
}

func TestCell_RevertClearsError(t *testing.T) {
	saver := &mockSaver{}
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "price", Committed: 3.0,
		Schema: schemaFor(t, "price", requiredNumber, nil),
		Saver:  saver,
	})
	ctx := context.Background()

	require.NoError(t, c.SetValue(ctx, nil))
	c.Wait()
	require.NotEmpty(t, c.Snapshot().Error)

	require.NoError(t, c.SetValue(ctx, 3.0))
	c.Wait()
	snap := c.Snapshot()
	assert.Empty(t, snap.Error)
	assert.False(t, snap.Dirty)
	assert.Empty(t, saver.saved(), "unchanged value is not saved")
}

func TestCell_ResyncOnlyWhenClean(t *testing.T) {
	release := make(chan struct{})
	saver := &mockSaver{block: map[string]chan struct{}{"name": release}}
	c := NewCell(CellConfig{EntityID: "p1", Field: "name", Committed: "v1", Saver: saver})

	c.SetCommitted("v2")
	assert.Equal(t, "v2", c.Snapshot().Value)

	require.NoError(t, c.SetValue(context.Background(), "mine"))
	c.SetCommitted("v3")
	snap := c.Snapshot()
	assert.Equal(t, "mine", snap.Value, "pending edit survives a concurrent update")
	assert.Equal(t, "v3", snap.Committed)

	close(release)
	c.Wait()
	assert.False(t, c.Snapshot().Dirty)

	c.SetCommitted("v4")
	assert.Equal(t, "v4", c.Snapshot().Value)
}

func TestCell_ReadOnly(t *testing.T) {
	saver := &mockSaver{}
	c := NewCell(CellConfig{EntityID: "p1", Field: "name", ReadOnly: true, Saver: saver})
	err := c.SetValue(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrReadOnly)
	assert.Empty(t, saver.saved())
}

func TestCell_UnmountIgnoresInFlightResults(t *testing.T) {
	release := make(chan struct{})
	saver := &mockSaver{block: map[string]chan struct{}{"name": release}}
	c := NewCell(CellConfig{EntityID: "p1", Field: "name", Committed: "old", Saver: saver})

	require.NoError(t, c.SetValue(context.Background(), "new"))
	require.Eventually(t, func() bool { return c.Snapshot().Saving }, time.Second, 5*time.Millisecond)

	c.Unmount()
	close(release)
	c.Wait()

	snap := c.Snapshot()
	assert.True(t, snap.Saving, "state frozen at unmount")
	assert.False(t, snap.Saved)
	assert.Len(t, saver.saved(), 1, "in-flight save is not cancelled")
	assert.ErrorIs(t, c.SetValue(context.Background(), "again"), domain.ErrUnmounted)
}

func TestCell_DebounceCoalescesEdits(t *testing.T) {
	saver := &mockSaver{}
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "name", Committed: "",
		Saver: saver, Debounce: 30 * time.Millisecond,
	})
	ctx := context.Background()
	for _, v := range []string{"h", "he", "hel", "hello"} {
		require.NoError(t, c.SetValue(ctx, v))
	}
	c.Wait()

	calls := saver.saved()
	require.Len(t, calls, 1)
	assert.Equal(t, "hello", calls[0].Value)
}

func TestCell_ObserverSeesTransitions(t *testing.T) {
	var mu sync.Mutex
	var seen []CellSnapshot
	c := NewCell(CellConfig{
		EntityID: "p1", Field: "name", Committed: "a",
		Saver: &mockSaver{},
		Observer: func(s CellSnapshot) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		},
	})
	require.NoError(t, c.SetValue(context.Background(), "b"))
	c.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.True(t, seen[0].Validating)
	assert.True(t, seen[len(seen)-1].Saved)
}

// --- Grid ---

var gridProps = property.NewProperties(
	property.Named("name", &property.Property{DataType: property.String}),
	property.Named("price", requiredNumber),
	property.Named("published", &property.Property{DataType: property.Timestamp}),
	property.Named("created", &property.Property{DataType: property.Timestamp, AutoValue: property.AutoOnCreate}),
)

func newGrid(t *testing.T, saver FieldSaver, opts ...Option) *Grid {
	t.Helper()
	v, err := validation.Compile(gridProps, nil)
	require.NoError(t, err)
	g := NewGrid("products", gridProps, v, saver, opts...)
	g.SetRows([]Row{
		{ID: "a", Values: map[string]any{"name": "A", "price": 1.0}},
		{ID: "b", Values: map[string]any{"name": "B", "price": 2.0}},
	})
	t.Cleanup(g.Close)
	return g
}

func TestGrid_SelectionAndNavigation(t *testing.T) {
	g := newGrid(t, &mockSaver{})
	assert.Equal(t, []string{"name", "price", "published", "created"}, g.Columns())

	assert.False(t, g.Move(Down), "nothing selected")
	require.NoError(t, g.Select("a", "name"))
	assert.False(t, g.Move(Up))
	assert.False(t, g.Move(Left))
	assert.True(t, g.Move(Down))
	assert.True(t, g.Move(Right))

	id, field, ok := g.Selected()
	require.True(t, ok)
	assert.Equal(t, "b", id)
	assert.Equal(t, "price", field)

	prev, _ := g.Cell("a", "name")
	cur, _ := g.Cell("b", "price")
	assert.Equal(t, StateIdle, prev.State())
	assert.Equal(t, StateSelected, cur.State())

	assert.ErrorIs(t, g.Select("zzz", "name"), domain.ErrNotFound)
}

func TestGrid_ObserverMayQueryGrid(t *testing.T) {
	var (
		g        *Grid
		mu       sync.Mutex
		selected []string
	)
	observer := func(s CellSnapshot) {
		id, field, _ := g.Selected()
		_ = g.Snapshot()
		if s.State != StateSelected {
			return
		}
		mu.Lock()
		selected = append(selected, id+"."+field)
		mu.Unlock()
	}
	g = newGrid(t, &mockSaver{}, WithObserver(observer))

	done := make(chan struct{})
	go func() {
		defer close(done)
		g.SetRows([]Row{
			{ID: "a", Values: map[string]any{"name": "A2", "price": 1.0}},
			{ID: "b", Values: map[string]any{"name": "B", "price": 2.0}},
		})
		assert.NoError(t, g.Select("a", "name"))
		assert.True(t, g.Move(Down))
		assert.NoError(t, g.Focus())
		g.Blur()
		assert.True(t, g.OutsideClick())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("grid deadlocked while notifying its observer")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a.name", "b.name", "b.name"}, selected)
}

func TestGrid_FocusedPickerSwallowsOutsideClick(t *testing.T) {
	g := newGrid(t, &mockSaver{})
	require.NoError(t, g.Select("a", "published"))
	require.NoError(t, g.Focus())

	c, _ := g.Cell("a", "published")
	assert.Equal(t, StateFocused, c.State())
	assert.True(t, g.PreventOutsideClick())
	assert.False(t, g.Move(Right), "navigation is disabled while focused")

	assert.False(t, g.OutsideClick())
	assert.Equal(t, StateFocused, c.State())

	g.Blur()
	assert.Equal(t, StateSelected, c.State())
	assert.True(t, g.OutsideClick())
	assert.Equal(t, StateIdle, c.State())
	_, _, ok := g.Selected()
	assert.False(t, ok)
}

func TestGrid_FocusTextDoesNotCapture(t *testing.T) {
	g := newGrid(t, &mockSaver{})
	require.NoError(t, g.Select("a", "name"))
	require.NoError(t, g.Focus())
	assert.False(t, g.PreventOutsideClick())
	assert.True(t, g.OutsideClick())
}

func TestGrid_ReadOnlyCells(t *testing.T) {
	g := newGrid(t, &mockSaver{})
	c, ok := g.Cell("a", "created")
	require.True(t, ok)
	assert.ErrorIs(t, c.SetValue(context.Background(), "x"), domain.ErrReadOnly)

	require.NoError(t, g.Select("a", "created"))
	assert.ErrorIs(t, g.Focus(), domain.ErrReadOnly)

	locked := newGrid(t, &mockSaver{}, WithPermissions(auth.Permissions{Create: true}))
	c, _ = locked.Cell("b", "name")
	assert.True(t, c.ReadOnly())
}

func TestGrid_CellsSaveIndependently(t *testing.T) {
	release := make(chan struct{})
	saver := &mockSaver{block: map[string]chan struct{}{"name": release}}
	g := newGrid(t, saver)
	ctx := context.Background()

	name, _ := g.Cell("a", "name")
	price, _ := g.Cell("a", "price")
	require.NoError(t, name.SetValue(ctx, "slow"))
	require.NoError(t, price.SetValue(ctx, 9.0))

	price.Wait()
	assert.False(t, price.Snapshot().Dirty)
	assert.True(t, name.Snapshot().Dirty, "sibling save still in flight")

	close(release)
	g.Wait()
	assert.Len(t, saver.saved(), 2)
}

func TestGrid_SetRowsResyncsAndDrops(t *testing.T) {
	g := newGrid(t, &mockSaver{})
	require.NoError(t, g.Select("b", "name"))
	dropped, _ := g.Cell("b", "name")

	g.SetRows([]Row{{ID: "a", Values: map[string]any{"name": "A2", "price": 1.0}}})

	c, _ := g.Cell("a", "name")
	assert.Equal(t, "A2", c.Snapshot().Value)
	_, ok := g.Cell("b", "name")
	assert.False(t, ok)
	assert.ErrorIs(t, dropped.SetValue(context.Background(), "x"), domain.ErrUnmounted)
	_, _, ok = g.Selected()
	assert.False(t, ok)
	assert.Len(t, g.Snapshot(), 4)
}

func TestGrid_ValidationUsesFieldSchema(t *testing.T) {
	saver := &mockSaver{}
	g := newGrid(t, saver)
	c, _ := g.Cell("a", "price")
	require.NoError(t, c.SetValue(context.Background(), "abc"))
	g.Wait()
	assert.Equal(t, "Must be a number", c.Snapshot().Error)
	assert.Empty(t, saver.saved())
}
