// Package export renders entities as CSV. The header row lists "id" and
// then one column per leaf property in declaration order; nested map
// children use dotted keys.
package export

import (
	"bytes"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// Column is an extra computed column appended after the property columns.
type Column struct {
	Key   string
	Value func(e entity.Entity) any
}

// Header is one CSV column.
type Header struct {
	Key   string
	Label string
	prop  *property.Property
	extra *Column
}

// Headers lists the columns for props, "id" first.
func Headers(props *property.Properties, extra ...Column) []Header {
	headers := []Header{{Key: "id", Label: "id"}}
	for key, p := range props.All() {
		headers = appendHeaders(headers, key, p)
	}
	for i := range extra {
		headers = append(headers, Header{Key: extra[i].Key, Label: extra[i].Key, extra: &extra[i]})
	}
	return headers
}

func appendHeaders(headers []Header, key string, p *property.Property) []Header {
	if p.DataType == property.Map && p.Properties.Len() > 0 {
		for child, cp := range p.Properties.All() {
			headers = appendHeaders(headers, key+"."+child, cp)
		}
		return headers
	}
	return append(headers, Header{Key: key, Label: key, prop: p})
}

// Row renders the cells of one entity. A nil cell means an absent value.
func Row(e entity.Entity, headers []Header) []*string {
	row := make([]*string, len(headers))
	for i, h := range headers {
		var v any
		switch {
		case h.Key == "id" && h.prop == nil && h.extra == nil:
			v = e.ID
		case h.extra != nil:
			v = h.extra.Value(e)
		default:
			v = entity.Lookup(e.Values, h.Key)
		}
		row[i] = cell(v, h.prop)
	}
	return row
}

// CSV renders the header row and one row per entity.
func CSV(entities []entity.Entity, props *property.Properties, extra ...Column) []byte {
	var buf bytes.Buffer
	_ = Write(&buf, entities, props, extra...)
	return buf.Bytes()
}

// Write streams the CSV document to w.
func Write(w io.Writer, entities []entity.Entity, props *property.Properties, extra ...Column) error {
	headers := Headers(props, extra...)
	labels := make([]*string, len(headers))
	for i := range headers {
		labels[i] = &headers[i].Label
	}
	if err := writeRow(w, labels); err != nil {
		return err
	}
	for _, e := range entities {
		if err := writeRow(w, Row(e, headers)); err != nil {
			return err
		}
	}
	return nil
}

// writeRow quotes every present cell and doubles embedded quotes. Rows end
// with CRLF.
func writeRow(w io.Writer, cells []*string) error {
	var sb strings.Builder
	for i, c := range cells {
		if i > 0 {
			sb.WriteByte(',')
		}
		if c == nil {
			continue
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(*c, `"`, `""`))
		sb.WriteByte('"')
	}
	sb.WriteString("\r\n")
	_, err := io.WriteString(w, sb.String())
	return err
}

func cell(v any, p *property.Property) *string {
	if v == nil {
		return nil
	}
	s, ok := format(v, p)
	if !ok {
		return nil
	}
	return &s
}

// format renders a value; ok is false when the value is absent.
func format(v any, p *property.Property) (string, bool) {
	if v == nil {
		return "", false
	}
	if p == nil {
		return plain(v), true
	}
	switch p.DataType {
	case property.Reference:
		ref, ok := entity.AsReference(v)
		if !ok {
			return "", false
		}
		return ref.PathWithID(), true
	case property.Timestamp:
		t, ok := entity.AsTime(v)
		if !ok {
			return "", false
		}
		return strconv.FormatInt(t.UnixMilli(), 10), true
	case property.GeoPoint:
		g, ok := entity.AsGeoPoint(v)
		if !ok {
			return plain(v), true
		}
		return number(g.Latitude) + "," + number(g.Longitude), true
	case property.Array:
		items, ok := entity.AsSlice(v)
		if !ok || p.Of == nil {
			return plain(v), true
		}
		parts := make([]string, len(items))
		for i, item := range items {
			if p.Of.DataType == property.Map {
				parts[i] = jsonText(item)
				continue
			}
			parts[i], _ = format(item, p.Of)
		}
		return strings.Join(parts, ","), true
	}
	return plain(v), true
}

func plain(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case map[string]any:
		return jsonText(x)
	}
	if items, ok := entity.AsSlice(v); ok {
		parts := make([]string, len(items))
		for i, item := range items {
			if item != nil {
				parts[i] = plain(item)
			}
		}
		return strings.Join(parts, ",")
	}
	return entity.Stringify(v)
}

func number(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func jsonText(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return entity.Stringify(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}
