package schema

import (
	"fmt"
	"strings"
	"sync"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Extensions hold what YAML cannot express: lifecycle callbacks and
// builder properties, keyed by collection template path ("products",
// "products/locales").
type Extensions struct {
	mu        sync.RWMutex
	callbacks map[string]collection.Callbacks
	builders  map[string]map[string]property.Builder
}

// NewExtensions creates an empty extension set.
func NewExtensions() *Extensions {
	return &Extensions{
		callbacks: make(map[string]collection.Callbacks),
		builders:  make(map[string]map[string]property.Builder),
	}
}

// SetCallbacks registers the hooks of a collection.
func (e *Extensions) SetCallbacks(path string, cb collection.Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks[strings.Trim(path, "/")] = cb
}

// SetBuilder makes a property of a collection computed. name may be a
// dotted path into map properties.
func (e *Extensions) SetBuilder(path, name string, b property.Builder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	path = strings.Trim(path, "/")
	if e.builders[path] == nil {
		e.builders[path] = make(map[string]property.Builder)
	}
	e.builders[path][name] = b
}

func (e *Extensions) apply(path string, s *collection.Schema) error {
	if e == nil {
		return nil
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if cb, ok := e.callbacks[path]; ok {
		s.Callbacks = cb
	}
	for name, b := range e.builders[path] {
		if err := setBuilder(s.Properties, name, b); err != nil {
			return fmt.Errorf("collection %q: %w", path, err)
		}
	}
	return nil
}

func setBuilder(props *property.Properties, dotted string, b property.Builder) error {
	parts := strings.Split(dotted, ".")
	cur := props
	for _, part := range parts[:len(parts)-1] {
		p, ok := cur.Get(part)
		if !ok || p.DataType != property.Map || p.Properties == nil {
			return domain.NewConfigError(dotted, "builder target %q is not a map property", part)
		}
		cur = p.Properties
	}
	cur.Set(parts[len(parts)-1], property.FromBuilder(b))
	return nil
}
