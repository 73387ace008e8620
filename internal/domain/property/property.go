// Package property describes the shape of an entity: a recursive tree of
// typed properties with validation rules and widget hints.
package property

import (
	"fmt"
)

// DataType is the tag of the property variant.
type DataType string

// Supported data types.
const (
	String    DataType = "string"
	Number    DataType = "number"
	Boolean   DataType = "boolean"
	Timestamp DataType = "timestamp"
	GeoPoint  DataType = "geopoint"
	Reference DataType = "reference"
	Map       DataType = "map"
	Array     DataType = "array"
)

// Valid reports whether t is one of the supported data types.
func (t DataType) Valid() bool {
	switch t {
	case String, Number, Boolean, Timestamp, GeoPoint, Reference, Map, Array:
		return true
	}
	return false
}

// ParseDataType converts a raw string into a DataType.
func ParseDataType(s string) (DataType, error) {
	t := DataType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unsupported data type %q", s)
	}
	return t, nil
}

// AutoValue marks a timestamp as system-assigned.
type AutoValue string

// Auto value modes.
const (
	AutoOnCreate AutoValue = "on_create"
	AutoOnUpdate AutoValue = "on_update"
)

// BuildContext is the snapshot a Builder computes its property from.
type BuildContext struct {
	Path           string
	EntityID       string
	Values         map[string]any
	PreviousValues map[string]any
}

// Builder computes a property from the current entity values.
// A property holding a Builder is a placeholder until resolved.
type Builder func(BuildContext) (*Property, error)

// Property is one node of the shape tree. Exactly one of Properties, Of,
// OneOf or none is populated, consistent with DataType.
type Property struct {
	DataType    DataType    `yaml:"data_type,omitempty" json:"data_type,omitempty"`
	Title       string      `yaml:"title,omitempty" json:"title,omitempty"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Validation  *Validation `yaml:"validation,omitempty" json:"validation,omitempty"`
	Config      *Config     `yaml:"config,omitempty" json:"config,omitempty"`
	Disabled    Disabled    `yaml:"disabled,omitempty" json:"disabled,omitzero"`
	ReadOnly    bool        `yaml:"read_only,omitempty" json:"read_only,omitempty"`
	AutoValue   AutoValue   `yaml:"auto_value,omitempty" json:"auto_value,omitempty"`
	ColumnWidth int         `yaml:"column_width,omitempty" json:"column_width,omitempty"`

	// Map.
	Properties        *Properties `yaml:"properties,omitempty" json:"properties,omitempty"`
	PreviewProperties []string    `yaml:"preview_properties,omitempty" json:"preview_properties,omitempty"`

	// Array.
	Of    *Property `yaml:"of,omitempty" json:"of,omitempty"`
	OneOf *OneOf    `yaml:"one_of,omitempty" json:"one_of,omitempty"`

	// Reference target collection.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	Builder Builder `yaml:"-" json:"-"`
}

// OneOf is a discriminated union of array element shapes.
type OneOf struct {
	TypeField  string      `yaml:"type_field,omitempty" json:"type_field,omitempty"`
	ValueField string      `yaml:"value_field,omitempty" json:"value_field,omitempty"`
	Properties *Properties `yaml:"properties" json:"properties"`
}

// TypeKey returns the discriminator field name.
func (o *OneOf) TypeKey() string {
	if o.TypeField == "" {
		return "type"
	}
	return o.TypeField
}

// ValueKey returns the field name holding the branch value.
func (o *OneOf) ValueKey() string {
	if o.ValueField == "" {
		return "value"
	}
	return o.ValueField
}

// FromBuilder wraps a Builder into a placeholder property.
func FromBuilder(b Builder) *Property {
	return &Property{Builder: b}
}

// IsBuilder reports whether p still needs resolution.
func (p *Property) IsBuilder() bool { return p != nil && p.Builder != nil }

// IsReadOnly reports whether the property can never be edited by a user.
func (p *Property) IsReadOnly() bool {
	if p.ReadOnly || p.Disabled.Active {
		return true
	}
	return p.DataType == Timestamp && p.AutoValue != ""
}

// IsRequired reports whether validation marks the property as required.
func (p *Property) IsRequired() bool {
	return p.Validation != nil && p.Validation.Required
}

// HasEnum reports whether enumerated values are configured.
func (p *Property) HasEnum() bool {
	return p.Config != nil && len(p.Config.EnumValues) > 0
}

// EnumValues returns the configured enumerated values, if any.
func (p *Property) EnumValues() EnumValues {
	if p.Config == nil {
		return nil
	}
	return p.Config.EnumValues
}

// Storage returns the storage metadata of a string property, or nil.
func (p *Property) Storage() *StorageMeta {
	if p.DataType != String || p.Config == nil {
		return nil
	}
	return p.Config.StorageMeta
}

// IsStorage reports whether the property (or its array element) holds
// storage paths.
func (p *Property) IsStorage() bool {
	if p.Storage() != nil {
		return true
	}
	return p.DataType == Array && p.Of != nil && p.Of.Storage() != nil
}

// IsMarkdown reports whether a string is edited as markdown.
func (p *Property) IsMarkdown() bool {
	return p.DataType == String && p.Config != nil && p.Config.Markdown
}

// CustomField returns the id of the custom field component, if configured.
func (p *Property) CustomField() string {
	if p.Config == nil {
		return ""
	}
	return p.Config.Field
}

// CustomPreview returns the id of the custom preview component, if configured.
func (p *Property) CustomPreview() string {
	if p.Config == nil {
		return ""
	}
	return p.Config.Preview
}

// Label returns the title or falls back to the key.
func (p *Property) Label(key string) string {
	if p.Title != "" {
		return p.Title
	}
	return key
}
