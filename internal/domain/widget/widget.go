// Package widget selects the editable widget or read-only preview for a
// property in a rendering context. The result is a descriptor tree that a
// front end draws.
package widget

import (
	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Kind names the concrete widget implementation.
type Kind string

// Editable widgets.
const (
	KindCustomField     Kind = "custom_field"
	KindUpload          Kind = "upload"
	KindSelect          Kind = "select"
	KindNumberInput     Kind = "number_input"
	KindTextInput       Kind = "text_input"
	KindMarkdown        Kind = "markdown"
	KindToggle          Kind = "toggle"
	KindDatePicker      Kind = "date_picker"
	KindReferencePicker Kind = "reference_picker"
	KindMapField        Kind = "map_field"
	KindArrayField      Kind = "array_field"
	KindOneOfArrayField Kind = "one_of_array_field"
)

// Preview widgets.
const (
	PreviewCustom          Kind = "custom_preview"
	PreviewEmpty           Kind = "empty"
	PreviewText            Kind = "text"
	PreviewURL             Kind = "url"
	PreviewMarkdown        Kind = "markdown_preview"
	PreviewStorage         Kind = "storage_thumbnail"
	PreviewEnum            Kind = "enum_chip"
	PreviewNumber          Kind = "number"
	PreviewBoolean         Kind = "boolean"
	PreviewTimestamp       Kind = "timestamp"
	PreviewGeoPoint        Kind = "geopoint"
	PreviewReference       Kind = "reference"
	PreviewMap             Kind = "map"
	PreviewArray           Kind = "array"
	PreviewArrayOfMaps     Kind = "array_of_maps"
	PreviewArrayEnum       Kind = "array_enum"
	PreviewArrayReferences Kind = "array_of_references"
	PreviewArrayStorage    Kind = "array_of_storage"
	PreviewArrayOneOf      Kind = "array_one_of"
)

// Surface is the editing surface a widget is rendered on.
type Surface string

// Surfaces.
const (
	SurfaceForm      Surface = "form"
	SurfaceTableCell Surface = "table_cell"
)

// RenderContext carries everything the dispatcher needs besides the
// property itself.
type RenderContext struct {
	Surface     Surface
	Selected    bool
	Focused     bool
	Size        layout.CollectionSize
	EntityID    string
	Status      entity.Status
	Values      map[string]any
	Permissions auth.Permissions
}

// canEdit applies the collection permission relevant to the entity status.
func (rc RenderContext) canEdit() bool {
	if rc.Status == entity.StatusNew || rc.Status == entity.StatusCopy {
		return rc.Permissions.Create
	}
	return rc.Permissions.Edit
}

// selected reports whether the widget has the user's attention. Form
// fields are always considered selected.
func (rc RenderContext) selected() bool {
	return rc.Surface == SurfaceForm || rc.Selected || rc.Focused
}

func (rc RenderContext) previewSize() layout.PreviewSize {
	if rc.Surface == SurfaceForm {
		return layout.Regular
	}
	size := rc.Size
	if size == "" {
		size = layout.DefaultCollectionSize
	}
	return size.PreviewSize()
}

// Storage describes the upload target of an upload widget.
type Storage struct {
	MediaType     property.MediaType `json:"media_type,omitempty"`
	StoragePath   string             `json:"storage_path,omitempty"`
	AcceptedFiles []string           `json:"accepted_files,omitempty"`
	StoreURL      bool               `json:"store_url,omitempty"`
}

// Widget is one node of the render tree.
type Widget struct {
	Kind       Kind                `json:"kind"`
	Name       string              `json:"name"`
	Title      string              `json:"title,omitempty"`
	Value      any                 `json:"value,omitempty"`
	ReadOnly   bool                `json:"read_only,omitempty"`
	Multiple   bool                `json:"multiple,omitempty"`
	Multiline  bool                `json:"multiline,omitempty"`
	Size       layout.PreviewSize  `json:"size,omitempty"`
	Component  string              `json:"component,omitempty"`
	Path       string              `json:"path,omitempty"`
	MediaType  property.MediaType  `json:"media_type,omitempty"`
	EnumValues property.EnumValues `json:"enum_values,omitempty"`
	Storage    *Storage            `json:"storage,omitempty"`

	// Table cell chrome.
	Expandable bool `json:"expandable,omitempty"`
	Scrollable bool `json:"scrollable,omitempty"`

	Children  []Widget   `json:"children,omitempty"`
	Columns   []string   `json:"columns,omitempty"`
	Rows      [][]Widget `json:"rows,omitempty"`
	Divided   bool       `json:"divided,omitempty"`
	Companion *Widget    `json:"companion,omitempty"`

	Error string `json:"error,omitempty"`

	Property *property.Property `json:"-"`
}

// IsPreview reports whether the widget is a read-only renderer.
func (w Widget) IsPreview() bool {
	switch w.Kind {
	case KindCustomField, KindUpload, KindSelect, KindNumberInput, KindTextInput, KindMarkdown,
		KindToggle, KindDatePicker, KindReferencePicker, KindMapField, KindArrayField, KindOneOfArrayField:
		return false
	}
	return true
}
