package table

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
)

// Direction is a keyboard navigation step.
type Direction int

// Directions.
const (
	Up Direction = iota
	Down
	Left
	Right
)

// Row is one entity shown in the grid.
type Row struct {
	ID     string
	Values map[string]any
}

type column struct {
	name     string
	prop     *property.Property
	schema   *validation.Schema
	readOnly bool
}

type position struct {
	row, col int
}

type cellKey struct {
	id, field string
}

type note struct {
	cell *Cell
	snap CellSnapshot
}

// notes collects cell snapshots produced under the grid lock.
type notes []note

func (n *notes) add(c *Cell, snap CellSnapshot, ok bool) {
	if ok {
		*n = append(*n, note{c, snap})
	}
}

func (n notes) send() {
	for _, x := range n {
		x.cell.notify(x.snap)
	}
}

// Option configures a Grid.
type Option func(*Grid)

// WithDebounce delays validation until edits pause for d.
func WithDebounce(d time.Duration) Option {
	return func(g *Grid) { g.debounce = d }
}

// WithFlash sets how long a saved cell reports Saved.
func WithFlash(d time.Duration) Option {
	return func(g *Grid) { g.flash = d }
}

// WithObserver receives every cell state change. It is called without
// any grid lock held, so it may query the grid.
func WithObserver(o Observer) Option {
	return func(g *Grid) { g.observer = o }
}

// WithLogger sets the logger passed to cells.
func WithLogger(l *zap.Logger) Option {
	return func(g *Grid) { g.logger = l }
}

// WithPermissions applies collection permissions. Without edit permission
// every cell is read-only.
func WithPermissions(p auth.Permissions) Option {
	return func(g *Grid) { g.perms = p }
}

// Grid is the editable table of a collection: one column per top-level
// property, one row per entity. It tracks the single selected cell and
// whether it is focused for popup editing.
type Grid struct {
	path     string
	columns  []column
	saver    FieldSaver
	debounce time.Duration
	flash    time.Duration
	observer Observer
	logger   *zap.Logger
	perms    auth.Permissions

	mu                  sync.Mutex
	rows                []string
	cells               map[cellKey]*Cell
	sel                 *position
	focused             bool
	preventOutsideClick bool
}

// NewGrid creates an empty grid for the collection at path.
func NewGrid(
	path string, props *property.Properties, validator *validation.EntityValidator,
	saver FieldSaver, opts ...Option,
) *Grid {
	g := &Grid{
		path:   path,
		saver:  saver,
		logger: zap.NewNop(),
		perms:  auth.Full(),
		cells:  make(map[cellKey]*Cell),
	}
	for _, opt := range opts {
		opt(g)
	}
	for name, p := range props.All() {
		col := column{name: name, prop: p, readOnly: p.IsReadOnly() || !g.perms.Edit}
		if validator != nil {
			col.schema, _ = validator.Field(name)
		}
		g.columns = append(g.columns, col)
	}
	return g
}

// Columns returns the column names in display order.
func (g *Grid) Columns() []string {
	names := make([]string, len(g.columns))
	for i, c := range g.columns {
		names[i] = c.name
	}
	return names
}

// SetRows replaces the displayed entities. Cells of known rows receive
// the new committed values; cells of dropped rows are unmounted.
func (g *Grid) SetRows(rows []Row) {
	g.mu.Lock()
	var out notes
	g.setRowsLocked(rows, &out)
	g.mu.Unlock()
	out.send()
}

func (g *Grid) setRowsLocked(rows []Row, out *notes) {
	var selected cellKey
	if g.sel != nil {
		selected = cellKey{g.rows[g.sel.row], g.columns[g.sel.col].name}
	}

	keep := make(map[string]struct{}, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		keep[r.ID] = struct{}{}
		ids = append(ids, r.ID)
		for _, col := range g.columns {
			k := cellKey{r.ID, col.name}
			if c, ok := g.cells[k]; ok {
				snap, changed := c.setCommitted(r.Values[col.name])
				out.add(c, snap, changed)
				continue
			}
			g.cells[k] = NewCell(CellConfig{
				Path:      g.path,
				EntityID:  r.ID,
				Field:     col.name,
				Committed: r.Values[col.name],
				Schema:    col.schema,
				ReadOnly:  col.readOnly,
				Saver:     g.saver,
				Debounce:  g.debounce,
				Flash:     g.flash,
				Observer:  g.observer,
				Logger:    g.logger,
			})
		}
	}
	for k, c := range g.cells {
		if _, ok := keep[k.id]; !ok {
			c.Unmount()
			delete(g.cells, k)
		}
	}
	g.rows = ids

	g.sel = nil
	if selected.id != "" {
		if pos, ok := g.find(selected.id, selected.field); ok {
			g.sel = &pos
			return
		}
	}
	g.focused = false
	g.preventOutsideClick = false
}

func (g *Grid) find(id, field string) (position, bool) {
	row, col := -1, -1
	for i, r := range g.rows {
		if r == id {
			row = i
			break
		}
	}
	for i, c := range g.columns {
		if c.name == field {
			col = i
			break
		}
	}
	if row < 0 || col < 0 {
		return position{}, false
	}
	return position{row, col}, true
}

func (g *Grid) cellAt(p position) *Cell {
	return g.cells[cellKey{g.rows[p.row], g.columns[p.col].name}]
}

// Cell returns the cell of an entity field.
func (g *Grid) Cell(entityID, field string) (*Cell, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.cells[cellKey{entityID, field}]
	return c, ok
}

// Select moves the selection to a cell, blurring any focused cell.
func (g *Grid) Select(entityID, field string) error {
	g.mu.Lock()
	pos, ok := g.find(entityID, field)
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("cell %s.%s: %w", entityID, field, domain.ErrNotFound)
	}
	var out notes
	g.selectLocked(pos, &out)
	g.mu.Unlock()
	out.send()
	return nil
}

func (g *Grid) selectLocked(pos position, out *notes) {
	if g.sel != nil {
		c := g.cellAt(*g.sel)
		snap, ok := c.setState(StateIdle)
		out.add(c, snap, ok)
	}
	g.focused = false
	g.preventOutsideClick = false
	g.sel = &pos
	c := g.cellAt(pos)
	snap, ok := c.setState(StateSelected)
	out.add(c, snap, ok)
}

// Selected returns the selected cell coordinates.
func (g *Grid) Selected() (entityID, field string, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sel == nil {
		return "", "", false
	}
	return g.rows[g.sel.row], g.columns[g.sel.col].name, true
}

// Focus opens the selected cell for popup editing. Widgets that capture
// input exclusively raise the prevent-outside-click flag.
func (g *Grid) Focus() error {
	g.mu.Lock()
	if g.sel == nil {
		g.mu.Unlock()
		return fmt.Errorf("focus: no cell selected: %w", domain.ErrNotFound)
	}
	col := g.columns[g.sel.col]
	c := g.cellAt(*g.sel)
	if c.ReadOnly() {
		g.mu.Unlock()
		return fmt.Errorf("focus %s: %w", col.name, domain.ErrReadOnly)
	}
	g.focused = true
	g.preventOutsideClick = capturesInput(col.prop)
	snap, ok := c.setState(StateFocused)
	g.mu.Unlock()
	if ok {
		c.notify(snap)
	}
	return nil
}

// Blur returns a focused cell to the selected state.
func (g *Grid) Blur() {
	g.mu.Lock()
	if g.sel == nil || !g.focused {
		g.mu.Unlock()
		return
	}
	g.focused = false
	g.preventOutsideClick = false
	c := g.cellAt(*g.sel)
	snap, ok := c.setState(StateSelected)
	g.mu.Unlock()
	if ok {
		c.notify(snap)
	}
}

// PreventOutsideClick reports whether an outside click is currently
// swallowed by a focused picker.
func (g *Grid) PreventOutsideClick() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.preventOutsideClick
}

// OutsideClick clears the selection unless a focused picker captures the
// click. It reports whether the selection was cleared.
func (g *Grid) OutsideClick() bool {
	g.mu.Lock()
	if g.preventOutsideClick {
		g.mu.Unlock()
		return false
	}
	var out notes
	if g.sel != nil {
		c := g.cellAt(*g.sel)
		snap, ok := c.setState(StateIdle)
		out.add(c, snap, ok)
	}
	g.sel = nil
	g.focused = false
	g.mu.Unlock()
	out.send()
	return true
}

// Move steps the selection. It is a no-op while a cell is focused or at
// the grid edge, and reports whether the selection moved.
func (g *Grid) Move(d Direction) bool {
	g.mu.Lock()
	if g.sel == nil || g.focused {
		g.mu.Unlock()
		return false
	}
	next := *g.sel
	switch d {
	case Up:
		next.row--
	case Down:
		next.row++
	case Left:
		next.col--
	case Right:
		next.col++
	}
	if next.row < 0 || next.row >= len(g.rows) || next.col < 0 || next.col >= len(g.columns) {
		g.mu.Unlock()
		return false
	}
	var out notes
	g.selectLocked(next, &out)
	g.mu.Unlock()
	out.send()
	return true
}

// Snapshot returns every cell in row-major order.
func (g *Grid) Snapshot() []CellSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]CellSnapshot, 0, len(g.rows)*len(g.columns))
	for _, id := range g.rows {
		for _, col := range g.columns {
			out = append(out, g.cells[cellKey{id, col.name}].Snapshot())
		}
	}
	return out
}

// Wait blocks until all cells have finished their scheduled work.
func (g *Grid) Wait() {
	g.mu.Lock()
	cells := make([]*Cell, 0, len(g.cells))
	for _, c := range g.cells {
		cells = append(cells, c)
	}
	g.mu.Unlock()
	for _, c := range cells {
		c.Wait()
	}
}

// Close unmounts every cell.
func (g *Grid) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, c := range g.cells {
		c.Unmount()
	}
	g.sel = nil
	g.focused = false
	g.preventOutsideClick = false
}

// capturesInput reports whether the popup editor of p takes exclusive
// input while open.
func capturesInput(p *property.Property) bool {
	switch p.DataType {
	case property.Timestamp, property.Reference, property.Map, property.Array:
		return true
	}
	return p.HasEnum()
}
