package widget

import (
	"github.com/kailas-cloud/cmskit/internal/domain"
	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// maxPreviewColumns caps the columns of an array-of-maps preview when no
// preview properties are declared.
const maxPreviewColumns = 3

func (w *walker) preview(name string, p *property.Property, value any, size layout.PreviewSize) (Widget, error) {
	if err := w.enter(name, p); err != nil {
		return Widget{}, err
	}
	defer w.leave(p)
	return w.previewBody(name, p, value, size)
}

func (w *walker) previewBody(name string, p *property.Property, value any, size layout.PreviewSize) (Widget, error) {
	if size == "" {
		size = layout.Regular
	}
	out := Widget{
		Name:     name,
		Title:    p.Label(lastSegment(name)),
		Value:    value,
		ReadOnly: true,
		Size:     size,
		Property: p,
	}

	if shapeless(p) {
		return Widget{}, shapelessArrayError(name)
	}
	if id := p.CustomPreview(); id != "" {
		if !registered(w.d.previews, id) {
			return Widget{}, domain.NewConfigError(name, "custom preview %q is not registered", id)
		}
		out.Kind = PreviewCustom
		out.Component = id
		return out, nil
	}
	if value == nil {
		out.Kind = PreviewEmpty
		return out, nil
	}

	switch p.DataType {
	case property.String:
		switch {
		case p.Storage() != nil:
			out.Kind = PreviewStorage
			out.MediaType = p.Storage().MediaType
		case p.Config != nil && p.Config.URL != "":
			out.Kind = PreviewURL
			out.MediaType = p.Config.URL
		case p.IsMarkdown():
			out.Kind = PreviewMarkdown
		case p.HasEnum():
			out.Kind = PreviewEnum
			out.EnumValues = p.EnumValues()
		default:
			out.Kind = PreviewText
		}
	case property.Number:
		if p.HasEnum() {
			out.Kind = PreviewEnum
			out.EnumValues = p.EnumValues()
		} else {
			out.Kind = PreviewNumber
		}
	case property.Boolean:
		out.Kind = PreviewBoolean
	case property.Timestamp:
		out.Kind = PreviewTimestamp
	case property.GeoPoint:
		out.Kind = PreviewGeoPoint
	case property.Reference:
		out.Kind = PreviewReference
		out.Path = p.Path
	case property.Map:
		return w.mapPreview(out, p, value, size)
	case property.Array:
		return w.arrayPreview(out, p, value, size)
	default:
		return Widget{}, domain.NewConfigError(name, "unsupported data type %q", p.DataType)
	}
	return out, nil
}

func (w *walker) mapPreview(out Widget, p *property.Property, value any, size layout.PreviewSize) (Widget, error) {
	m, ok := entity.AsMap(value)
	if !ok {
		out.Kind = PreviewText
		return out, nil
	}
	out.Kind = PreviewMap
	keys := p.PreviewProperties
	if len(keys) == 0 {
		keys = p.Properties.Keys()
	}
	for _, key := range keys {
		cp, ok := p.Properties.Get(key)
		if !ok {
			return Widget{}, domain.NewConfigError(out.Name, "preview property %q is not declared", key)
		}
		child, err := w.preview(out.Name+"."+key, cp, m[key], size.Step())
		if err != nil {
			return Widget{}, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

func (w *walker) arrayPreview(out Widget, p *property.Property, value any, size layout.PreviewSize) (Widget, error) {
	if shapeless(p) {
		return Widget{}, shapelessArrayError(out.Name)
	}
	items, ok := entity.AsSlice(value)
	if !ok {
		out.Kind = PreviewText
		return out, nil
	}

	of := p.Of
	switch {
	case of == nil && p.OneOf == nil:
		out.Kind = PreviewArray
		out.Divided = true
		for i, item := range items {
			out.Children = append(out.Children, Widget{
				Kind: PreviewText, Name: elementName(out.Name, i), Value: item,
				ReadOnly: true, Size: size.Step(),
			})
		}
		return out, nil
	case p.OneOf != nil:
		return w.oneOfPreview(out, p.OneOf, items, size)
	case of.DataType == property.Map:
		return w.arrayOfMapsPreview(out, of, items, size)
	case of.Storage() != nil:
		out.Kind = PreviewArrayStorage
	case of.DataType == property.Reference:
		out.Kind = PreviewArrayReferences
	case (of.DataType == property.String || of.DataType == property.Number) && of.HasEnum():
		out.Kind = PreviewArrayEnum
		out.EnumValues = of.EnumValues()
	default:
		out.Kind = PreviewArray
		out.Divided = true
	}
	for i, item := range items {
		child, err := w.preview(elementName(out.Name, i), of, item, size.Step())
		if err != nil {
			return Widget{}, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// shapeless reports an array whose elements nothing can render.
func shapeless(p *property.Property) bool {
	return p.DataType == property.Array && p.Of == nil && p.OneOf == nil && p.CustomField() == ""
}

func shapelessArrayError(name string) error {
	return domain.NewConfigError(name,
		"You need to specify an 'of' or 'oneOf' prop (or specify a custom field) in your array property %s", name)
}

func (w *walker) oneOfPreview(out Widget, o *property.OneOf, items []any, size layout.PreviewSize) (Widget, error) {
	out.Kind = PreviewArrayOneOf
	out.Divided = true
	for i, item := range items {
		name := elementName(out.Name, i)
		m, _ := entity.AsMap(item)
		typ, _ := m[o.TypeKey()].(string)
		bp, ok := o.Properties.Get(typ)
		if !ok {
			out.Children = append(out.Children, Widget{Kind: PreviewEmpty, Name: name, ReadOnly: true, Size: size.Step()})
			continue
		}
		child, err := w.preview(name+"."+o.ValueKey(), bp, m[o.ValueKey()], size.Step())
		if err != nil {
			return Widget{}, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// arrayOfMapsPreview renders a miniature table. Columns are the declared
// preview properties of the element, or its first declared properties.
func (w *walker) arrayOfMapsPreview(
	out Widget, of *property.Property, items []any, size layout.PreviewSize,
) (Widget, error) {
	if err := w.enter(out.Name+"[]", of); err != nil {
		return Widget{}, err
	}
	defer w.leave(of)

	cols := of.PreviewProperties
	if len(cols) == 0 {
		cols = of.Properties.Keys()
		if len(cols) > maxPreviewColumns {
			cols = cols[:maxPreviewColumns]
		}
	}
	out.Kind = PreviewArrayOfMaps
	out.Columns = cols
	for i, item := range items {
		m, _ := entity.AsMap(item)
		row := make([]Widget, 0, len(cols))
		for _, col := range cols {
			cp, ok := of.Properties.Get(col)
			if !ok {
				return Widget{}, domain.NewConfigError(out.Name, "preview property %q is not declared", col)
			}
			cell, err := w.preview(elementName(out.Name, i)+"."+col, cp, m[col], size.Step())
			if err != nil {
				return Widget{}, err
			}
			row = append(row, cell)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
