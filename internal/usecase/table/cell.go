package table

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.uber.org/zap"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
)

// State is the selection state of a cell.
type State string

// Cell states.
const (
	StateIdle     State = "idle"
	StateSelected State = "selected"
	StateFocused  State = "focused"
)

// DefaultFlashDuration is how long a cell reports Saved after a write.
const DefaultFlashDuration = 800 * time.Millisecond

// CellSnapshot is a point-in-time copy of a cell's observable state.
type CellSnapshot struct {
	EntityID   string `json:"entity_id"`
	Field      string `json:"field"`
	State      State  `json:"state"`
	Value      any    `json:"value,omitempty"`
	Committed  any    `json:"committed,omitempty"`
	Dirty      bool   `json:"dirty,omitempty"`
	Validating bool   `json:"validating,omitempty"`
	Saving     bool   `json:"saving,omitempty"`
	Saved      bool   `json:"saved,omitempty"`
	ReadOnly   bool   `json:"read_only,omitempty"`
	Error      string `json:"error,omitempty"`

	// Err is the error behind Error: validation.Errors or a save failure.
	Err error `json:"-"`
}

// CellConfig describes one editable cell.
type CellConfig struct {
	Path      string
	EntityID  string
	Field     string
	Committed any
	Schema    *validation.Schema
	ReadOnly  bool
	Saver     FieldSaver
	Debounce  time.Duration
	Flash     time.Duration
	Observer  Observer
	Logger    *zap.Logger
}

// Cell owns the edit buffer of one field of one entity. Edits are
// validated asynchronously against the field's sub-schema and saved
// independently of other cells. Only the most recently scheduled
// validation may change the cell's state.
type Cell struct {
	cfg    CellConfig
	logger *zap.Logger

	mu         sync.Mutex
	state      State
	buffer     any
	committed  any
	lastSaved  any
	dirty      bool
	validating bool
	saving     bool
	saved      bool
	err        error
	gen        uint64
	unmounted  bool
	debounce   *time.Timer
	flash      *time.Timer

	// saveMu keeps one save in flight; it is taken before mu, never after.
	saveMu sync.Mutex
	wg     sync.WaitGroup
}

// NewCell creates an idle cell seeded from the committed value.
func NewCell(cfg CellConfig) *Cell {
	if cfg.Flash <= 0 {
		cfg.Flash = DefaultFlashDuration
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cell{
		cfg:       cfg,
		logger:    logger.With(zap.String("entity_id", cfg.EntityID), zap.String("field", cfg.Field)),
		state:     StateIdle,
		buffer:    cfg.Committed,
		committed: cfg.Committed,
		lastSaved: cfg.Committed,
	}
}

// EntityID returns the id of the entity the cell edits.
func (c *Cell) EntityID() string { return c.cfg.EntityID }

// Field returns the field the cell edits.
func (c *Cell) Field() string { return c.cfg.Field }

// ReadOnly reports whether edits are rejected.
func (c *Cell) ReadOnly() bool { return c.cfg.ReadOnly }

var equalOpts = cmp.Options{cmpopts.EquateEmpty()}

func equal(a, b any) bool {
	return cmp.Equal(a, b, equalOpts)
}

// SetValue replaces the buffer. A value different from the last saved one
// marks the cell dirty and schedules validation and save; returning to the
// last saved value clears the dirty flag and any error. ctx values are
// carried into the asynchronous work but its cancellation is not.
func (c *Cell) SetValue(ctx context.Context, v any) error {
	if c.cfg.ReadOnly {
		return fmt.Errorf("cell %s.%s: %w", c.cfg.EntityID, c.cfg.Field, domain.ErrReadOnly)
	}

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return domain.ErrUnmounted
	}
	c.buffer = v
	c.gen++
	gen := c.gen
	c.stopDebounceLocked()

	if equal(v, c.lastSaved) {
		c.dirty = false
		c.validating = false
		c.err = nil
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return nil
	}

	c.dirty = true
	c.validating = true
	c.saved = false
	c.wg.Add(1)
	if c.cfg.Debounce > 0 {
		c.debounce = time.AfterFunc(c.cfg.Debounce, func() {
			c.process(context.WithoutCancel(ctx), gen, v)
		})
	} else {
		go c.process(context.WithoutCancel(ctx), gen, v)
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)
	return nil
}

// stopDebounceLocked cancels a pending debounced run and releases its
// wait group slot.
func (c *Cell) stopDebounceLocked() {
	if c.debounce != nil && c.debounce.Stop() {
		c.wg.Done()
	}
	c.debounce = nil
}

// current reports whether gen is still the latest scheduled edit of a
// mounted cell. Callers hold mu.
func (c *Cell) current(gen uint64) bool {
	return !c.unmounted && gen == c.gen
}

func (c *Cell) process(ctx context.Context, gen uint64, v any) {
	defer c.wg.Done()

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.debounce = nil
	c.mu.Unlock()

	cast := v
	if c.cfg.Schema != nil {
		var err error
		cast, err = c.cfg.Schema.Validate(ctx, v)
		if err != nil {
			c.mu.Lock()
			if !c.current(gen) {
				c.mu.Unlock()
				return
			}
			c.validating = false
			c.err = err
			snap := c.snapshotLocked()
			c.mu.Unlock()

			if !errors.Is(err, domain.ErrValidation) {
				c.logger.Error("Field validation failed", zap.Error(err))
			}
			c.notify(snap)
			return
		}
	}

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	c.validating = false
	c.err = nil
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	c.save(ctx, gen, v, cast)
}

// save writes v once the previous save of the cell has finished. An edit
// made while waiting supersedes v, so a stale value never lands after a
// newer one.
func (c *Cell) save(ctx context.Context, gen uint64, v, cast any) {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if !c.current(gen) {
		c.mu.Unlock()
		return
	}
	if equal(v, c.lastSaved) {
		// The previous save already stored this value.
		c.dirty = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	c.saving = true
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(snap)

	err := c.cfg.Saver.SaveField(ctx, SaveRequest{
		Path:     c.cfg.Path,
		EntityID: c.cfg.EntityID,
		Field:    c.cfg.Field,
		Value:    cast,
	})

	c.mu.Lock()
	if c.unmounted {
		c.mu.Unlock()
		return
	}
	c.saving = false
	if err == nil {
		// Saves are serialized, so the data source now holds v.
		c.lastSaved = v
	}
	if gen != c.gen {
		if err == nil && !c.dirty && !equal(c.buffer, v) {
			// The buffer went back to the old value while v was being
			// written: store the buffer again.
			c.resaveLocked(ctx)
		}
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
		return
	}
	if err != nil {
		c.err = fmt.Errorf("save %s: %w", c.cfg.Field, err)
		snap = c.snapshotLocked()
		c.mu.Unlock()
		c.logger.Warn("Field save failed", zap.Error(err))
		c.notify(snap)
		return
	}
	c.dirty = false
	c.saved = true
	c.startFlashLocked()
	snap = c.snapshotLocked()
	c.mu.Unlock()
	c.logger.Debug("Field saved")
	c.notify(snap)
}

// resaveLocked schedules a save of the current buffer as a new edit.
func (c *Cell) resaveLocked(ctx context.Context) {
	c.gen++
	c.dirty = true
	c.validating = true
	c.saved = false
	c.wg.Add(1)
	go c.process(ctx, c.gen, c.buffer)
}

func (c *Cell) startFlashLocked() {
	if c.flash != nil {
		c.flash.Stop()
	}
	c.flash = time.AfterFunc(c.cfg.Flash, func() {
		c.mu.Lock()
		if c.unmounted || !c.saved {
			c.mu.Unlock()
			return
		}
		c.saved = false
		snap := c.snapshotLocked()
		c.mu.Unlock()
		c.notify(snap)
	})
}

// SetCommitted records a new value from the data source. A clean cell
// resynchronises its buffer to it; a dirty cell keeps the pending edit.
func (c *Cell) SetCommitted(v any) {
	if snap, ok := c.setCommitted(v); ok {
		c.notify(snap)
	}
}

// setCommitted applies v and returns the snapshot to publish, if any.
func (c *Cell) setCommitted(v any) (CellSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return CellSnapshot{}, false
	}
	c.committed = v
	if c.dirty && !equal(c.buffer, v) {
		return CellSnapshot{}, false
	}
	if c.dirty {
		// The data source caught up with the pending edit.
		c.gen++
		c.stopDebounceLocked()
		c.dirty = false
		c.validating = false
	}
	c.buffer = v
	c.lastSaved = v
	c.err = nil
	return c.snapshotLocked(), true
}

// setState changes the selection state and returns the snapshot to
// publish, if any. The grid publishes it after releasing its own lock.
func (c *Cell) setState(s State) (CellSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted || c.state == s {
		return CellSnapshot{}, false
	}
	c.state = s
	return c.snapshotLocked(), true
}

// State returns the selection state.
func (c *Cell) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unmount detaches the cell. Pending and in-flight work still runs to
// completion but no longer changes the cell.
func (c *Cell) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unmounted {
		return
	}
	c.unmounted = true
	c.stopDebounceLocked()
	if c.flash != nil {
		c.flash.Stop()
	}
}

// Wait blocks until scheduled validation and save work has finished.
func (c *Cell) Wait() {
	c.wg.Wait()
}

// Snapshot returns the current observable state.
func (c *Cell) Snapshot() CellSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cell) snapshotLocked() CellSnapshot {
	s := CellSnapshot{
		EntityID:   c.cfg.EntityID,
		Field:      c.cfg.Field,
		State:      c.state,
		Value:      c.buffer,
		Committed:  c.committed,
		Dirty:      c.dirty,
		Validating: c.validating,
		Saving:     c.saving,
		Saved:      c.saved,
		ReadOnly:   c.cfg.ReadOnly,
		Err:        c.err,
	}
	if c.err != nil {
		s.Error = errorMessage(c.cfg.Field, c.err)
	}
	return s
}

// errorMessage prefers the inline message of a field validation error.
func errorMessage(field string, err error) string {
	var errs validation.Errors
	if errors.As(err, &errs) && len(errs) > 0 {
		if fe := errs.Field(field); fe != nil {
			return fe.Message
		}
		return errs.First().Message
	}
	return err.Error()
}

func (c *Cell) notify(s CellSnapshot) {
	if c.cfg.Observer != nil {
		c.cfg.Observer(s)
	}
}
