// Package entity holds entity records and the value coercions shared by
// validation, previews and export.
package entity

import (
	"fmt"
	"regexp"
	"strings"
)

// Status is the lifecycle state of an entity in an editor.
type Status string

// Entity statuses.
const (
	StatusNew      Status = "new"
	StatusExisting Status = "existing"
	StatusCopy     Status = "copy"
)

var (
	idRegex      = regexp.MustCompile(`^[a-zA-Z0-9_\-.]{1,128}$`)
	segmentRegex = regexp.MustCompile(`^[a-zA-Z0-9_\-]{1,64}$`)
)

// Entity is a values record identified by (path, id).
type Entity struct {
	Path   string         `json:"path"`
	ID     string         `json:"id"`
	Values map[string]any `json:"values"`
	Status Status         `json:"-"`
}

// New validates path and id and creates an existing entity.
func New(path, id string, values map[string]any) (Entity, error) {
	path = NormalizePath(path)
	if err := ValidatePath(path); err != nil {
		return Entity{}, err
	}
	if err := ValidateID(id); err != nil {
		return Entity{}, err
	}
	if values == nil {
		values = map[string]any{}
	}
	return Entity{Path: path, ID: id, Values: values, Status: StatusExisting}, nil
}

// Ref returns a reference pointing at e.
func (e Entity) Ref() Reference { return Reference{ID: e.ID, Path: e.Path} }

// Value returns the value at a dotted path, descending into maps.
func (e Entity) Value(dotted string) any {
	return Lookup(e.Values, dotted)
}

// Lookup returns the value at a dotted path inside values.
func Lookup(values map[string]any, dotted string) any {
	var cur any = values
	for _, part := range strings.Split(dotted, ".") {
		m, ok := AsMap(cur)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// NormalizePath trims leading and trailing slashes.
func NormalizePath(p string) string {
	return strings.Trim(p, "/")
}

// ValidatePath checks that a collection path has an odd number of
// well-formed segments ("products", "products/p1/locales").
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("collection path is required")
	}
	segments := strings.Split(p, "/")
	if len(segments)%2 == 0 {
		return fmt.Errorf("collection paths must have an odd number of segments: %s", p)
	}
	for _, s := range segments {
		if !segmentRegex.MatchString(s) {
			return fmt.Errorf("invalid path segment %q in %s", s, p)
		}
	}
	return nil
}

// ValidateID checks an entity id.
func ValidateID(id string) error {
	if !idRegex.MatchString(id) {
		return fmt.Errorf("invalid entity id %q", id)
	}
	return nil
}
