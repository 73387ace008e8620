package widget

import (
	"fmt"
	"strings"

	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Dispatcher maps properties to widgets. A Dispatcher without registered
// components accepts any custom field or preview id.
type Dispatcher struct {
	fields   map[string]struct{}
	previews map[string]struct{}
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCustomFields registers custom field component ids. Without any
// registered id every custom field is accepted.
func WithCustomFields(ids ...string) Option {
	return func(d *Dispatcher) {
		if len(ids) == 0 {
			return
		}
		if d.fields == nil {
			d.fields = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			d.fields[id] = struct{}{}
		}
	}
}

// WithCustomPreviews registers custom preview component ids.
func WithCustomPreviews(ids ...string) Option {
	return func(d *Dispatcher) {
		if len(ids) == 0 {
			return
		}
		if d.previews == nil {
			d.previews = make(map[string]struct{}, len(ids))
		}
		for _, id := range ids {
			d.previews[id] = struct{}{}
		}
	}
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Field selects the widget editing value. Rules apply in order: a custom
// field wins (table cells degrade it to a preview), then read-only and
// unselected custom previews render the preview, then the data type picks
// an editor, and anything left renders a read-only preview.
func (d *Dispatcher) Field(rc RenderContext, name string, p *property.Property, value any) (Widget, error) {
	w := &walker{d: d, ancestors: make(map[*property.Property]struct{})}
	return w.field(rc, name, p, value)
}

// Preview selects the read-only renderer of value at the given tier.
func (d *Dispatcher) Preview(name string, p *property.Property, value any, size layout.PreviewSize) (Widget, error) {
	w := &walker{d: d, ancestors: make(map[*property.Property]struct{})}
	return w.preview(name, p, value, size)
}

func registered(set map[string]struct{}, id string) bool {
	if set == nil {
		return true
	}
	_, ok := set[id]
	return ok
}

// walker carries the ancestor chain of one dispatch.
type walker struct {
	d         *Dispatcher
	ancestors map[*property.Property]struct{}
}

func (w *walker) enter(name string, p *property.Property) error {
	if p == nil {
		return domain.NewConfigError(name, "property is nil")
	}
	if p.IsBuilder() {
		return domain.NewConfigError(name, "unresolved property builder")
	}
	if _, ok := w.ancestors[p]; ok {
		return domain.NewConfigError(name, "property is its own ancestor")
	}
	w.ancestors[p] = struct{}{}
	return nil
}

func (w *walker) leave(p *property.Property) {
	delete(w.ancestors, p)
}

func (w *walker) field(rc RenderContext, name string, p *property.Property, value any) (Widget, error) {
	if err := w.enter(name, p); err != nil {
		return Widget{}, err
	}
	defer w.leave(p)

	readOnly := p.IsReadOnly() || !rc.canEdit()
	base := Widget{
		Name:     name,
		Title:    p.Label(lastSegment(name)),
		Value:    value,
		ReadOnly: readOnly,
		Property: p,
	}

	if id := p.CustomField(); id != "" {
		if !registered(w.d.fields, id) {
			return Widget{}, domain.NewConfigError(name, "custom field %q is not registered", id)
		}
		if rc.Surface == SurfaceForm {
			base.Kind = KindCustomField
			base.Component = id
			return base, nil
		}
		return w.fallback(rc, name, p, value, false)
	}

	if readOnly || (p.CustomPreview() != "" && !rc.selected()) {
		return w.fallback(rc, name, p, value, false)
	}

	out, ok, err := w.editor(rc, base, p)
	if err != nil {
		return Widget{}, err
	}
	if ok {
		return out, nil
	}
	return w.fallback(rc, name, p, value, true)
}

// fallback renders the read-only preview in place of an editor. Editable
// composites in table cells are flagged for the popup editor.
func (w *walker) fallback(rc RenderContext, name string, p *property.Property, value any, editable bool) (Widget, error) {
	out, err := w.previewBody(name, p, value, rc.previewSize())
	if err != nil {
		return Widget{}, err
	}
	out.ReadOnly = true
	if rc.Surface == SurfaceTableCell && editable &&
		(p.DataType == property.Map || p.DataType == property.Array) {
		out.Expandable = true
		out.Scrollable = true
	}
	return out, nil
}

func (w *walker) editor(rc RenderContext, base Widget, p *property.Property) (Widget, bool, error) {
	if p.IsStorage() {
		meta, multiple := p.Storage(), false
		if meta == nil {
			meta, multiple = p.Of.Storage(), true
		}
		base.Kind = KindUpload
		base.Multiple = multiple
		base.Storage = storageTarget(rc, base.Name, p, meta)
		return base, true, nil
	}

	selected := rc.selected()
	switch p.DataType {
	case property.Number, property.String:
		if !selected {
			return base, false, nil
		}
		switch {
		case p.HasEnum():
			base.Kind = KindSelect
			base.EnumValues = p.EnumValues()
		case p.DataType == property.Number:
			base.Kind = KindNumberInput
			base.Scrollable = true
		case p.IsMarkdown():
			if rc.Surface != SurfaceForm {
				return base, false, nil
			}
			base.Kind = KindMarkdown
		default:
			base.Kind = KindTextInput
			base.Multiline = p.Config != nil && p.Config.Multiline
		}
		return base, true, nil
	case property.Boolean:
		base.Kind = KindToggle
		return base, true, nil
	case property.Timestamp:
		current, err := w.previewBody(base.Name, p, base.Value, rc.previewSize())
		if err != nil {
			return Widget{}, false, err
		}
		base.Kind = KindDatePicker
		base.Companion = &current
		return base, true, nil
	case property.Reference:
		if p.Path == "" {
			return base, false, nil
		}
		base.Kind = KindReferencePicker
		base.Path = p.Path
		return base, true, nil
	case property.Array:
		return w.arrayEditor(rc, base, p)
	case property.Map:
		if rc.Surface != SurfaceForm {
			return base, false, nil
		}
		return w.mapEditor(rc, base, p)
	}
	return base, false, nil
}

func (w *walker) arrayEditor(rc RenderContext, base Widget, p *property.Property) (Widget, bool, error) {
	if p.Of == nil && p.OneOf == nil {
		return Widget{}, false, shapelessArrayError(base.Name)
	}
	if of := p.Of; of != nil {
		switch {
		case (of.DataType == property.String || of.DataType == property.Number) && of.HasEnum():
			if rc.selected() {
				base.Kind = KindSelect
				base.Multiple = true
				base.EnumValues = of.EnumValues()
				return base, true, nil
			}
		case of.DataType == property.Reference && of.Path != "":
			base.Kind = KindReferencePicker
			base.Multiple = true
			base.Path = of.Path
			return base, true, nil
		}
	}
	if rc.Surface != SurfaceForm {
		return base, false, nil
	}
	if p.OneOf != nil {
		return w.oneOfEditor(rc, base, p)
	}

	template, err := w.field(rc, base.Name+"[]", p.Of, nil)
	if err != nil {
		return Widget{}, false, err
	}
	base.Kind = KindArrayField
	base.Companion = &template
	items, _ := entity.AsSlice(base.Value)
	for i, item := range items {
		child, err := w.field(rc, elementName(base.Name, i), p.Of, item)
		if err != nil {
			return Widget{}, false, err
		}
		base.Children = append(base.Children, child)
	}
	return base, true, nil
}

func (w *walker) oneOfEditor(rc RenderContext, base Widget, p *property.Property) (Widget, bool, error) {
	o := p.OneOf
	base.Kind = KindOneOfArrayField
	for key, bp := range o.Properties.All() {
		base.EnumValues = append(base.EnumValues, property.EnumValue{Key: key, Label: bp.Label(key)})
	}
	items, _ := entity.AsSlice(base.Value)
	for i, item := range items {
		name := elementName(base.Name, i)
		m, _ := entity.AsMap(item)
		typ, _ := m[o.TypeKey()].(string)
		bp, ok := o.Properties.Get(typ)
		if !ok {
			base.Children = append(base.Children, Widget{Kind: PreviewEmpty, Name: name, ReadOnly: true})
			continue
		}
		child, err := w.field(rc, name+"."+o.ValueKey(), bp, m[o.ValueKey()])
		if err != nil {
			return Widget{}, false, err
		}
		base.Children = append(base.Children, child)
	}
	return base, true, nil
}

func (w *walker) mapEditor(rc RenderContext, base Widget, p *property.Property) (Widget, bool, error) {
	base.Kind = KindMapField
	m, _ := entity.AsMap(base.Value)
	for key, cp := range p.Properties.All() {
		child, err := w.field(rc, base.Name+"."+key, cp, m[key])
		if err != nil {
			return Widget{}, false, err
		}
		base.Children = append(base.Children, child)
	}
	return base, true, nil
}

// storageTarget resolves the upload destination. A path builder sees the
// entity id and current values; an empty result keeps the static path.
func storageTarget(rc RenderContext, name string, p *property.Property, meta *property.StorageMeta) *Storage {
	t := &Storage{
		MediaType:     meta.MediaType,
		StoragePath:   meta.StoragePath,
		AcceptedFiles: meta.AcceptedFiles,
		StoreURL:      meta.StoreURL,
	}
	if meta.StoragePathBuilder != nil {
		path := meta.StoragePathBuilder(property.UploadContext{
			EntityID: rc.EntityID,
			Values:   rc.Values,
			Name:     name,
			Property: p,
		})
		if path != "" {
			t.StoragePath = path
		}
	}
	return t
}

func elementName(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
