package property

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Validation holds the declarative validation rules of a property.
type Validation struct {
	Required        bool   `yaml:"required,omitempty" json:"required,omitempty"`
	RequiredMessage string `yaml:"required_message,omitempty" json:"required_message,omitempty"`
	Unique          bool   `yaml:"unique,omitempty" json:"unique,omitempty"`
	UniqueInArray   bool   `yaml:"unique_in_array,omitempty" json:"unique_in_array,omitempty"`

	// Length bounds for strings and arrays, value bounds for numbers.
	Min      *float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max      *float64 `yaml:"max,omitempty" json:"max,omitempty"`
	LessThan *float64 `yaml:"less_than,omitempty" json:"less_than,omitempty"`
	MoreThan *float64 `yaml:"more_than,omitempty" json:"more_than,omitempty"`
	Positive bool     `yaml:"positive,omitempty" json:"positive,omitempty"`
	Negative bool     `yaml:"negative,omitempty" json:"negative,omitempty"`
	Integer  bool     `yaml:"integer,omitempty" json:"integer,omitempty"`

	Matches        string `yaml:"matches,omitempty" json:"matches,omitempty"`
	MatchesMessage string `yaml:"matches_message,omitempty" json:"matches_message,omitempty"`
	Email          bool   `yaml:"email,omitempty" json:"email,omitempty"`
	URL            bool   `yaml:"url,omitempty" json:"url,omitempty"`
	Trim           bool   `yaml:"trim,omitempty" json:"trim,omitempty"`
	Lowercase      bool   `yaml:"lowercase,omitempty" json:"lowercase,omitempty"`
	Uppercase      bool   `yaml:"uppercase,omitempty" json:"uppercase,omitempty"`

	MinDate *time.Time `yaml:"min_date,omitempty" json:"min_date,omitempty"`
	MaxDate *time.Time `yaml:"max_date,omitempty" json:"max_date,omitempty"`
}

// Config is the bag of type-specific widget hints.
type Config struct {
	EnumValues  EnumValues     `yaml:"enum_values,omitempty" json:"enum_values,omitempty"`
	StorageMeta *StorageMeta   `yaml:"storage,omitempty" json:"storage,omitempty"`
	Markdown    bool           `yaml:"markdown,omitempty" json:"markdown,omitempty"`
	Multiline   bool           `yaml:"multiline,omitempty" json:"multiline,omitempty"`
	URL         MediaType      `yaml:"url,omitempty" json:"url,omitempty"`
	Field       string         `yaml:"field,omitempty" json:"field,omitempty"`
	Preview     string         `yaml:"preview,omitempty" json:"preview,omitempty"`
	CustomProps map[string]any `yaml:"custom_props,omitempty" json:"custom_props,omitempty"`
}

// MediaType hints how a url or stored file is previewed.
type MediaType string

// Media types. MediaLink is a plain url without embedded preview.
const (
	MediaLink  MediaType = "link"
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
	MediaAudio MediaType = "audio"
	MediaFile  MediaType = "file"
)

// UnmarshalYAML accepts a boolean (true means MediaLink) or a media type.
func (m *MediaType) UnmarshalYAML(node *yaml.Node) error {
	if node.Tag == "!!bool" {
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		if b {
			*m = MediaLink
		}
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*m = MediaType(s)
	return nil
}

// EnumValue is one option of an enumerated property.
// Key is a string or a number.
type EnumValue struct {
	Key      any    `yaml:"key" json:"key"`
	Label    string `yaml:"label" json:"label"`
	Disabled bool   `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// EnumValues is an ordered list of options.
type EnumValues []EnumValue

// Contains reports whether v matches one of the keys.
// Numbers compare by value regardless of their Go type.
func (e EnumValues) Contains(v any) bool {
	_, ok := e.Find(v)
	return ok
}

// Find returns the option matching v.
func (e EnumValues) Find(v any) (EnumValue, bool) {
	want := EnumKey(v)
	for _, ev := range e {
		if EnumKey(ev.Key) == want {
			return ev, true
		}
	}
	return EnumValue{}, false
}

// Keys returns the option keys in declaration order.
func (e EnumValues) Keys() []any {
	keys := make([]any, len(e))
	for i, ev := range e {
		keys[i] = ev.Key
	}
	return keys
}

// EnumKey normalises an enum key or value into a comparable string.
func EnumKey(v any) string {
	switch n := v.(type) {
	case nil:
		return ""
	case string:
		return "s:" + n
	case float64:
		return "n:" + strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return "n:" + strconv.FormatFloat(float64(n), 'g', -1, 64)
	case int:
		return "n:" + strconv.Itoa(n)
	case int64:
		return "n:" + strconv.FormatInt(n, 10)
	case int32:
		return "n:" + strconv.FormatInt(int64(n), 10)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return "s:" + n.String()
		}
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	default:
		return fmt.Sprintf("?:%v", v)
	}
}

// Disabled marks a property as not editable. Active is false when the
// property is enabled.
type Disabled struct {
	Active          bool   `yaml:"-" json:"-"`
	Message         string `yaml:"message,omitempty" json:"message,omitempty"`
	ClearOnDisabled bool   `yaml:"clear_on_disabled,omitempty" json:"clear_on_disabled,omitempty"`
	Hidden          bool   `yaml:"hidden,omitempty" json:"hidden,omitempty"`
}

// IsZero lets encoders omit an inactive Disabled.
func (d Disabled) IsZero() bool { return !d.Active }

// UnmarshalYAML accepts either a boolean or an object.
func (d *Disabled) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var b bool
		if err := node.Decode(&b); err != nil {
			return fmt.Errorf("disabled: %w", err)
		}
		*d = Disabled{Active: b}
		return nil
	}
	type plain Disabled
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("disabled: %w", err)
	}
	*d = Disabled(p)
	d.Active = true
	return nil
}

// MarshalJSON renders an active Disabled as an object.
func (d Disabled) MarshalJSON() ([]byte, error) {
	if !d.Active {
		return []byte("false"), nil
	}
	type plain Disabled
	return json.Marshal(plain(d))
}

// UnmarshalJSON accepts either a boolean or an object.
func (d *Disabled) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*d = Disabled{Active: b}
		return nil
	}
	type plain Disabled
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("disabled: %w", err)
	}
	*d = Disabled(p)
	d.Active = true
	return nil
}

// UploadContext is passed to the storage path and file name builders.
type UploadContext struct {
	EntityID    string
	Values      map[string]any
	Name        string
	Property    *Property
	FileName    string
	ContentType string
	Size        int64
}

// StorageMeta configures file uploads for a string property.
type StorageMeta struct {
	MediaType     MediaType         `yaml:"media_type,omitempty" json:"media_type,omitempty"`
	StoragePath   string            `yaml:"storage_path,omitempty" json:"storage_path,omitempty"`
	AcceptedFiles []string          `yaml:"accepted_files,omitempty" json:"accepted_files,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	StoreURL      bool              `yaml:"store_url,omitempty" json:"store_url,omitempty"`

	StoragePathBuilder func(UploadContext) string                                 `yaml:"-" json:"-"`
	FileNameBuilder    func(UploadContext) string                                 `yaml:"-" json:"-"`
	PostProcess        func(ctx context.Context, pathOrURL string) (string, error) `yaml:"-" json:"-"`
}
