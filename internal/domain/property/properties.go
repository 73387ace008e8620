package property

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"

	"gopkg.in/yaml.v3"
)

// Entry is one named property, used to build ordered Properties.
type Entry struct {
	Name     string
	Property *Property
}

// Named pairs a key with its property.
func Named(name string, p *Property) Entry { return Entry{Name: name, Property: p} }

// Properties is an ordered mapping of name to property. A nil *Properties
// is an empty mapping.
type Properties struct {
	keys  []string
	items map[string]*Property
}

// NewProperties creates Properties preserving the order of entries.
// A repeated name replaces the earlier property in place.
func NewProperties(entries ...Entry) *Properties {
	ps := &Properties{items: make(map[string]*Property, len(entries))}
	for _, e := range entries {
		ps.Set(e.Name, e.Property)
	}
	return ps
}

// Set inserts or replaces a property. Insertion keeps the original position.
func (ps *Properties) Set(name string, p *Property) {
	if ps.items == nil {
		ps.items = make(map[string]*Property)
	}
	if _, ok := ps.items[name]; !ok {
		ps.keys = append(ps.keys, name)
	}
	ps.items[name] = p
}

// Get returns the property stored under name.
func (ps *Properties) Get(name string) (*Property, bool) {
	if ps == nil {
		return nil, false
	}
	p, ok := ps.items[name]
	return p, ok
}

// Len returns the number of properties.
func (ps *Properties) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.keys)
}

// Keys returns a copy of the names in declaration order.
func (ps *Properties) Keys() []string {
	if ps == nil {
		return nil
	}
	out := make([]string, len(ps.keys))
	copy(out, ps.keys)
	return out
}

// All iterates in declaration order.
func (ps *Properties) All() iter.Seq2[string, *Property] {
	return func(yield func(string, *Property) bool) {
		if ps == nil {
			return
		}
		for _, k := range ps.keys {
			if !yield(k, ps.items[k]) {
				return
			}
		}
	}
}

// MarshalJSON writes an object with keys in declaration order.
func (ps *Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	i := 0
	for k, p := range ps.All() {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object keeping the key order.
func (ps *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties: expected object, got %v", tok)
	}
	*ps = Properties{items: make(map[string]*Property)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("properties: expected key, got %v", tok)
		}
		var p Property
		if err := dec.Decode(&p); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		ps.Set(key, &p)
	}
	_, err = dec.Token()
	return err
}

// UnmarshalYAML reads a mapping node keeping the key order.
func (ps *Properties) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("properties: line %d: expected mapping", node.Line)
	}
	*ps = Properties{items: make(map[string]*Property, len(node.Content)/2)}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i].Value
		var p Property
		if err := node.Content[i+1].Decode(&p); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		ps.Set(key, &p)
	}
	return nil
}

// MarshalYAML writes a mapping node in declaration order.
func (ps *Properties) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for k, p := range ps.All() {
		var val yaml.Node
		if err := val.Encode(p); err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: k},
			&val,
		)
	}
	return node, nil
}
