package entity

import (
	"fmt"
	"sort"
	"strings"
)

// Order is a sort direction.
type Order string

// Sort directions.
const (
	Asc  Order = "asc"
	Desc Order = "desc"
)

// Query narrows and orders a collection fetch.
type Query struct {
	// Filter holds equality conditions on dotted value paths.
	Filter     map[string]any
	OrderBy    string
	Order      Order
	Limit      int
	StartAfter string
}

// Validate checks the query parameters.
func (q Query) Validate() error {
	if q.Limit < 0 {
		return fmt.Errorf("limit must not be negative")
	}
	if q.Order != "" && q.Order != Asc && q.Order != Desc {
		return fmt.Errorf("unknown order %q", q.Order)
	}
	return nil
}

// Matches reports whether e satisfies every filter condition.
func (q Query) Matches(e Entity) bool {
	for path, want := range q.Filter {
		if !Equal(e.Value(path), want) {
			return false
		}
	}
	return true
}

// Apply filters, sorts and pages entities in memory. The input slice is
// not modified.
func (q Query) Apply(in []Entity) []Entity {
	out := make([]Entity, 0, len(in))
	for _, e := range in {
		if q.Matches(e) {
			out = append(out, e)
		}
	}

	desc := q.Order == Desc
	sort.SliceStable(out, func(i, j int) bool {
		var c int
		if q.OrderBy == "" || q.OrderBy == "id" {
			c = strings.Compare(out[i].ID, out[j].ID)
		} else {
			c = compareValues(out[i].Value(q.OrderBy), out[j].Value(q.OrderBy))
			if c == 0 {
				c = strings.Compare(out[i].ID, out[j].ID)
			}
		}
		if desc {
			return c > 0
		}
		return c < 0
	})

	if q.StartAfter != "" {
		for i, e := range out {
			if e.ID == q.StartAfter {
				out = out[i+1:]
				break
			}
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Equal compares two scalar values, treating numbers by value and
// references by path and id.
func Equal(a, b any) bool {
	_, aString := a.(string)
	_, bString := b.(string)
	if !aString && !bString {
		if fa, ok := AsFloat(a); ok {
			fb, ok := AsFloat(b)
			return ok && fa == fb
		}
		if ra, ok := AsReference(a); ok {
			rb, ok := AsReference(b)
			return ok && ra == rb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// compareValues orders nil first, then numbers, then times, then text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	if fa, ok := AsFloat(a); ok {
		if fb, ok := AsFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := AsTime(a); ok {
		if tb, ok := AsTime(b); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(Stringify(a), Stringify(b))
}
