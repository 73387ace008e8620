// Package collection holds collection definitions and their lookup by path.
package collection

import (
	"fmt"
	"regexp"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
)

var pathRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Collection is an immutable collection definition.
type Collection struct {
	path           string
	name           string
	description    string
	group          string
	schema         *Schema
	subcollections []Collection
	size           layout.CollectionSize
	permissions    *auth.Permissions
}

// Option configures a Collection.
type Option func(*Collection)

// WithDescription sets the description.
func WithDescription(d string) Option { return func(c *Collection) { c.description = d } }

// WithGroup sets the navigation group.
func WithGroup(g string) Option { return func(c *Collection) { c.group = g } }

// WithSize sets the default table density.
func WithSize(s layout.CollectionSize) Option { return func(c *Collection) { c.size = s } }

// WithPermissions caps what any principal may do on the collection.
func WithPermissions(p auth.Permissions) Option {
	return func(c *Collection) { c.permissions = &p }
}

// WithSubcollections nests collections under each entity.
func WithSubcollections(subs ...Collection) Option {
	return func(c *Collection) { c.subcollections = append(c.subcollections, subs...) }
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("collection path is required")
	}
	if len(path) > 64 {
		return fmt.Errorf("collection path too long (max 64)")
	}
	if !pathRegex.MatchString(path) {
		return fmt.Errorf("collection path must be alphanumeric with underscores and hyphens")
	}
	return nil
}

// New validates and creates a Collection. path is the single segment the
// collection is mounted at, relative to its parent entity for
// subcollections.
func New(path, name string, schema *Schema, opts ...Option) (Collection, error) {
	if err := validatePath(path); err != nil {
		return Collection{}, err
	}
	if schema == nil {
		return Collection{}, fmt.Errorf("collection %q: schema is required", path)
	}
	if err := schema.Validate(); err != nil {
		return Collection{}, fmt.Errorf("collection %q: %w", path, err)
	}
	c := Collection{path: path, name: name, schema: schema, size: layout.DefaultCollectionSize}
	for _, o := range opts {
		o(&c)
	}
	if c.name == "" {
		c.name = schema.Name
	}
	seen := make(map[string]bool, len(c.subcollections))
	for _, sub := range c.subcollections {
		if seen[sub.path] {
			return Collection{}, fmt.Errorf("collection %q: duplicate subcollection %q", path, sub.path)
		}
		seen[sub.path] = true
	}
	return c, nil
}

// Path returns the mount segment.
func (c Collection) Path() string { return c.path }

// Name returns the display name.
func (c Collection) Name() string { return c.name }

// Description returns the description.
func (c Collection) Description() string { return c.description }

// Group returns the navigation group.
func (c Collection) Group() string { return c.group }

// Schema returns the entity schema.
func (c Collection) Schema() *Schema { return c.schema }

// Size returns the default table density.
func (c Collection) Size() layout.CollectionSize { return c.size }

// Subcollections returns the nested collections.
func (c Collection) Subcollections() []Collection {
	out := make([]Collection, len(c.subcollections))
	copy(out, c.subcollections)
	return out
}

// Permissions narrows granted permissions by the collection cap, if any.
func (c Collection) Permissions(granted auth.Permissions) auth.Permissions {
	if c.permissions == nil {
		return granted
	}
	return granted.Intersect(*c.permissions)
}
