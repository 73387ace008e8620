package collection

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/cmskit/internal/domain"
)

// Registry indexes root collections and resolves nested paths.
type Registry struct {
	roots []Collection
	index map[string]int
}

// NewRegistry creates a registry. Root paths must be unique.
func NewRegistry(cols ...Collection) (*Registry, error) {
	r := &Registry{index: make(map[string]int, len(cols))}
	for _, c := range cols {
		if _, dup := r.index[c.path]; dup {
			return nil, fmt.Errorf("duplicate collection path %q: %w", c.path, domain.ErrAlreadyExists)
		}
		r.index[c.path] = len(r.roots)
		r.roots = append(r.roots, c)
	}
	return r, nil
}

// All returns the root collections in registration order.
func (r *Registry) All() []Collection {
	out := make([]Collection, len(r.roots))
	copy(out, r.roots)
	return out
}

// ByPath finds the collection addressed by a full path such as
// "sites/es/locales": the "locales" subcollection of entity "es" in
// "sites". Paths with an even number of segments address entities, not
// collections.
func (r *Registry) ByPath(path string) (Collection, error) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		return Collection{}, fmt.Errorf("empty collection path: %w", domain.ErrInvalidPath)
	}
	if len(segments)%2 == 0 {
		return Collection{}, fmt.Errorf(
			"collection paths must have an odd number of segments: %s: %w", path, domain.ErrInvalidPath)
	}

	i, ok := r.index[segments[0]]
	if !ok {
		return Collection{}, fmt.Errorf("collection %q: %w", segments[0], domain.ErrNotFound)
	}
	cur := r.roots[i]
	for k := 2; k < len(segments); k += 2 {
		next, found := findSub(cur.subcollections, segments[k])
		if !found {
			return Collection{}, fmt.Errorf("collection %q: %w", path, domain.ErrNotFound)
		}
		cur = next
	}
	return cur, nil
}

func findSub(subs []Collection, path string) (Collection, bool) {
	for _, s := range subs {
		if s.path == path {
			return s, true
		}
	}
	return Collection{}, false
}
