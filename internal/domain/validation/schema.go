package validation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Schema validates the value of one property. Schemas are immutable after
// compilation and safe for concurrent use.
type Schema struct {
	name   string
	key    string
	prop   *property.Property
	parent *property.Property

	skip            bool
	required        bool
	requiredMessage string
	typeCheck       func(any) bool
	typeMessage     string
	transform       func(any) any
	rules           []rule
	custom          CustomFieldValidator

	children  []*Schema
	elem      *Schema
	oneOf     map[string]*Schema
	oneOfKeys []string
	typeKey   string
	valueKey  string
}

// Name returns the dotted path the schema reports errors under.
func (s *Schema) Name() string { return s.name }

// Property returns the property the schema was compiled from.
func (s *Schema) Property() *property.Property { return s.prop }

// Validate checks a single value in isolation and returns the cast value.
// Failures are returned as Errors.
func (s *Schema) Validate(ctx context.Context, value any) (any, error) {
	r := &run{}
	cast := s.walk(s.name, value, r)
	if err := r.checkUnique(ctx); err != nil {
		return cast, err
	}
	if len(r.errs) > 0 {
		return cast, r.errs
	}
	return cast, nil
}

type uniqueCheck struct {
	schema *Schema
	path   string
	value  any
}

// run accumulates the outcome of one validation pass.
type run struct {
	errs    Errors
	uniques []uniqueCheck
}

func (r *run) fail(path string, code Code, msg string) {
	r.errs = append(r.errs, &FieldError{Field: path, Code: code, Message: msg})
}

// walk validates v at path, recording failures in r. It returns the cast
// value.
func (s *Schema) walk(path string, v any, r *run) any {
	if s.skip {
		return v
	}
	if s.transform != nil && v != nil {
		v = s.transform(v)
	}
	if v == nil || (s.prop.DataType == property.String && v == "" && s.required) {
		if s.required {
			r.fail(path, CodeRequired, s.requiredMessage)
		}
		return v
	}
	if s.typeCheck != nil && !s.typeCheck(v) {
		r.fail(path, CodeType, s.typeMessage)
		return v
	}
	for _, rl := range s.rules {
		if code, msg, failed := rl(v); failed {
			r.fail(path, code, msg)
			return v
		}
	}

	before := len(r.errs)
	switch {
	case len(s.children) > 0:
		v = s.walkMap(path, v, r)
	case s.elem != nil:
		v = s.walkArray(path, v, r)
	case s.oneOf != nil:
		v = s.walkOneOf(path, v, r)
	}
	if len(r.errs) == before && s.custom != nil {
		r.uniques = append(r.uniques, uniqueCheck{schema: s, path: path, value: v})
	}
	return v
}

func (s *Schema) walkMap(path string, v any, r *run) any {
	m, _ := entity.AsMap(v)
	out := make(map[string]any, len(m))
	for k, x := range m {
		out[k] = x
	}
	for _, c := range s.children {
		cast := c.walk(path+"."+c.key, m[c.key], r)
		if cast != nil {
			out[c.key] = cast
		}
	}
	return out
}

func (s *Schema) walkArray(path string, v any, r *run) any {
	items, _ := entity.AsSlice(v)
	out := make([]any, len(items))
	for i, item := range items {
		out[i] = s.elem.walk(path+"["+strconv.Itoa(i)+"]", item, r)
	}
	return out
}

func (s *Schema) walkOneOf(path string, v any, r *run) any {
	items, _ := entity.AsSlice(v)
	out := make([]any, len(items))
	for i, item := range items {
		elemPath := path + "[" + strconv.Itoa(i) + "]"
		out[i] = item
		m, ok := entity.AsMap(item)
		if !ok {
			r.fail(elemPath, CodeType, "Must be an object")
			continue
		}
		typ, _ := m[s.typeKey].(string)
		branch, ok := s.oneOf[typ]
		if !ok {
			r.fail(elemPath, CodeOneOf,
				fmt.Sprintf("Must be one of the following types: %s", strings.Join(s.oneOfKeys, ", ")))
			continue
		}
		cast := branch.walk(elemPath+"."+s.valueKey, m[s.valueKey], r)
		cp := make(map[string]any, len(m))
		for k, x := range m {
			cp[k] = x
		}
		cp[s.valueKey] = cast
		out[i] = cp
	}
	return out
}

// checkUnique runs the pending uniqueness callbacks concurrently and
// appends their failures in scheduling order.
func (r *run) checkUnique(ctx context.Context) error {
	if len(r.uniques) == 0 {
		return nil
	}
	unique := make([]bool, len(r.uniques))
	g, gctx := errgroup.WithContext(ctx)
	for i, u := range r.uniques {
		g.Go(func() error {
			ok, err := u.schema.custom(gctx, FieldValidatorInput{
				Name:     u.path,
				Value:    u.value,
				Property: u.schema.prop,
				Parent:   u.schema.parent,
			})
			if err != nil {
				return fmt.Errorf("unique check %s: %w", u.path, err)
			}
			unique[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for i, u := range r.uniques {
		if !unique[i] {
			r.fail(u.path, CodeUnique, "This value already exists and should be unique")
		}
	}
	r.uniques = nil
	return nil
}
