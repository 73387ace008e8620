package validation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// FieldValidatorInput describes a value submitted to a uniqueness check.
type FieldValidatorInput struct {
	Name     string
	Value    any
	Property *property.Property
	Parent   *property.Property
}

// CustomFieldValidator reports whether a value is unique. It usually
// queries the data source.
type CustomFieldValidator func(ctx context.Context, in FieldValidatorInput) (bool, error)

// EntityValidator validates whole values records and exposes one
// sub-schema per top-level field.
type EntityValidator struct {
	fields []*Schema
	byName map[string]*Schema
}

// Compile builds a validator from resolved properties. It fails with a
// configuration error for unsupported data types, unresolved builders and
// arrays without an element shape.
func Compile(props *property.Properties, custom CustomFieldValidator) (*EntityValidator, error) {
	v := &EntityValidator{byName: make(map[string]*Schema, props.Len())}
	for name, p := range props.All() {
		s, err := compile(name, p, custom, nil)
		if err != nil {
			return nil, err
		}
		v.fields = append(v.fields, s)
		v.byName[name] = s
	}
	return v, nil
}

// Field returns the sub-schema of a top-level field.
func (v *EntityValidator) Field(name string) (*Schema, bool) {
	s, ok := v.byName[name]
	return s, ok
}

// Validate checks every field of values and returns Errors listing all
// failures, or nil. Uniqueness checks run after the structural pass and
// only for fields that passed it. A failing uniqueness callback aborts
// with its error.
func (v *EntityValidator) Validate(ctx context.Context, values map[string]any) error {
	r := &run{}
	for _, s := range v.fields {
		s.walk(s.name, values[s.name], r)
	}
	if err := r.checkUnique(ctx); err != nil {
		return err
	}
	if len(r.errs) > 0 {
		return r.errs
	}
	return nil
}

var (
	emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	urlRegex   = regexp.MustCompile(`^(https?|ftp)://[^\s/$.?#].[^\s]*$`)
)

func compile(
	name string, p *property.Property, custom CustomFieldValidator, parent *property.Property,
) (*Schema, error) {
	if p == nil {
		return nil, domain.NewConfigError(name, "property is nil")
	}
	if p.IsBuilder() {
		return nil, domain.NewConfigError(name, "unresolved property builder")
	}

	s := &Schema{name: name, prop: p, parent: parent}
	val := p.Validation
	if val == nil {
		val = &property.Validation{}
	}
	s.required = val.Required
	s.requiredMessage = val.RequiredMessage
	if s.requiredMessage == "" {
		s.requiredMessage = "Required"
	}
	if val.Unique && custom != nil {
		s.custom = custom
	}

	switch p.DataType {
	case property.String:
		if err := s.compileString(val); err != nil {
			return nil, err
		}
	case property.Number:
		s.compileNumber(val)
	case property.Boolean:
		s.typeCheck = isBool
		s.typeMessage = "Must be a boolean"
	case property.Timestamp:
		if p.AutoValue != "" {
			s.skip = true
			return s, nil
		}
		s.compileTimestamp(val)
	case property.GeoPoint:
		s.typeCheck = isGeoPoint
		s.typeMessage = "Must be a geopoint"
	case property.Reference:
		s.typeCheck = isReference
		s.typeMessage = "Must be a reference"
	case property.Map:
		s.typeCheck = isMap
		s.typeMessage = "Must be an object"
		for child, cp := range p.Properties.All() {
			cs, err := compile(name+"."+child, cp, custom, p)
			if err != nil {
				return nil, err
			}
			cs.key = child
			s.children = append(s.children, cs)
		}
	case property.Array:
		if err := s.compileArray(val); err != nil {
			return nil, err
		}
	default:
		return nil, domain.NewConfigError(name, "unsupported data type %q", p.DataType)
	}
	return s, nil
}

func (s *Schema) compileString(val *property.Validation) error {
	s.typeCheck = isString
	s.typeMessage = "Must be a string"
	s.transform = stringTransform(val)

	if val.Min != nil {
		s.rules = append(s.rules, minLength(int(*val.Min)))
	}
	if val.Max != nil {
		s.rules = append(s.rules, maxLength(int(*val.Max)))
	}
	if val.Matches != "" {
		re, err := regexp.Compile(val.Matches)
		if err != nil {
			return domain.NewConfigError(s.name, "invalid pattern %q: %v", val.Matches, err)
		}
		s.rules = append(s.rules, matches(re, val.MatchesMessage))
	}
	if val.Email {
		s.rules = append(s.rules, stringRule(CodeEmail, "Must be a valid email", emailRegex.MatchString))
	}
	if val.URL {
		s.rules = append(s.rules, stringRule(CodeURL, "Must be a valid URL", urlRegex.MatchString))
	}
	if s.prop.HasEnum() {
		s.rules = append(s.rules, oneOfEnum(s.prop.EnumValues()))
	}
	return nil
}

func (s *Schema) compileNumber(val *property.Validation) {
	s.typeCheck = isNumber
	s.typeMessage = "Must be a number"
	s.transform = toNumber

	if val.Min != nil {
		s.rules = append(s.rules, numberRule(CodeMin,
			fmt.Sprintf("Must be greater than or equal to %v", *val.Min),
			func(f float64) bool { return f >= *val.Min }))
	}
	if val.Max != nil {
		s.rules = append(s.rules, numberRule(CodeMax,
			fmt.Sprintf("Must be less than or equal to %v", *val.Max),
			func(f float64) bool { return f <= *val.Max }))
	}
	if val.LessThan != nil {
		s.rules = append(s.rules, numberRule(CodeLessThan,
			fmt.Sprintf("Must be less than %v", *val.LessThan),
			func(f float64) bool { return f < *val.LessThan }))
	}
	if val.MoreThan != nil {
		s.rules = append(s.rules, numberRule(CodeMoreThan,
			fmt.Sprintf("Must be greater than %v", *val.MoreThan),
			func(f float64) bool { return f > *val.MoreThan }))
	}
	if val.Positive {
		s.rules = append(s.rules, numberRule(CodePositive, "Must be a positive number",
			func(f float64) bool { return f > 0 }))
	}
	if val.Negative {
		s.rules = append(s.rules, numberRule(CodeNegative, "Must be a negative number",
			func(f float64) bool { return f < 0 }))
	}
	if val.Integer {
		s.rules = append(s.rules, numberRule(CodeInteger, "Must be an integer",
			func(f float64) bool { return !math.IsInf(f, 0) && f == math.Trunc(f) }))
	}
	if s.prop.HasEnum() {
		s.rules = append(s.rules, oneOfEnum(s.prop.EnumValues()))
	}
}

func (s *Schema) compileTimestamp(val *property.Validation) {
	s.typeCheck = isTime
	s.typeMessage = "Must be a date"
	s.transform = toTime
	if val.MinDate != nil {
		s.rules = append(s.rules, timeRule(CodeMin,
			"Must be later than "+val.MinDate.Format("2006-01-02 15:04:05"),
			func(t int64) bool { return t >= val.MinDate.UnixMilli() }))
	}
	if val.MaxDate != nil {
		s.rules = append(s.rules, timeRule(CodeMax,
			"Must be earlier than "+val.MaxDate.Format("2006-01-02 15:04:05"),
			func(t int64) bool { return t <= val.MaxDate.UnixMilli() }))
	}
}

func (s *Schema) compileArray(val *property.Validation) error {
	p := s.prop
	s.typeCheck = isArray
	s.typeMessage = "Must be an array"

	if val.Min != nil {
		s.rules = append(s.rules, arrayLength(CodeMin,
			fmt.Sprintf("Must have at least %d items", int(*val.Min)),
			func(n int) bool { return n >= int(*val.Min) }))
	}
	if val.Max != nil {
		s.rules = append(s.rules, arrayLength(CodeMax,
			fmt.Sprintf("Must have at most %d items", int(*val.Max)),
			func(n int) bool { return n <= int(*val.Max) }))
	}

	switch {
	case p.Of != nil:
		elem, err := compile(s.name+"[]", p.Of, nil, p)
		if err != nil {
			return err
		}
		s.elem = elem
		s.rules = append(s.rules, uniqueInArrayRules(p)...)
	case p.OneOf != nil:
		s.oneOf = make(map[string]*Schema, p.OneOf.Properties.Len())
		for branch, bp := range p.OneOf.Properties.All() {
			bs, err := compile(s.name+"[]", bp, nil, p)
			if err != nil {
				return err
			}
			s.oneOf[branch] = bs
			s.oneOfKeys = append(s.oneOfKeys, branch)
		}
		s.typeKey = p.OneOf.TypeKey()
		s.valueKey = p.OneOf.ValueKey()
	case p.CustomField() != "":
		// Custom fields own their element shape.
	default:
		return domain.NewConfigError(s.name,
			"You need to specify an 'of' or 'oneOf' prop (or specify a custom field) in your array property %s",
			s.name)
	}
	return nil
}

// uniqueInArrayRules returns the array-level uniqueness tests declared by
// the element or by the children of a map element.
func uniqueInArrayRules(p *property.Property) []rule {
	of := p.Of
	if of.Validation != nil && of.Validation.UniqueInArray {
		return []rule{uniqueElements("There are duplicate values in this array", "")}
	}
	if of.DataType != property.Map {
		return nil
	}
	var rules []rule
	for child, cp := range of.Properties.All() {
		if cp.Validation == nil || !cp.Validation.UniqueInArray {
			continue
		}
		msg := fmt.Sprintf("%s → %s: There should be no duplicated values in this field",
			p.Label(""), cp.Label(child))
		rules = append(rules, uniqueElements(strings.TrimPrefix(msg, " → "), child))
	}
	return rules
}
