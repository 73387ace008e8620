package property

import (
	"fmt"

	"github.com/kailas-cloud/cmskit/internal/domain"
)

// Resolve evaluates every builder in ps against bc and returns a new tree
// holding only static properties. The input is never modified, so an
// already resolved tree resolves to an equal copy.
func Resolve(ps *Properties, bc BuildContext) (*Properties, error) {
	r := resolver{bc: bc, ancestors: make(map[*Property]bool)}
	return r.properties("", ps)
}

// ResolveProperty resolves a single named property.
func ResolveProperty(name string, p *Property, bc BuildContext) (*Property, error) {
	r := resolver{bc: bc, ancestors: make(map[*Property]bool)}
	return r.property(name, p)
}

type resolver struct {
	bc        BuildContext
	ancestors map[*Property]bool
}

func (r *resolver) properties(prefix string, ps *Properties) (*Properties, error) {
	if ps == nil {
		return nil, nil
	}
	out := &Properties{items: make(map[string]*Property, ps.Len())}
	for name, p := range ps.All() {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		rp, err := r.property(path, p)
		if err != nil {
			return nil, err
		}
		out.Set(name, rp)
	}
	return out, nil
}

func (r *resolver) property(name string, p *Property) (*Property, error) {
	if p == nil {
		return nil, domain.NewConfigError(name, "property is nil")
	}
	if r.ancestors[p] {
		return nil, domain.NewConfigError(name, "property is its own ancestor")
	}

	if p.IsBuilder() {
		built, err := r.build(name, p.Builder)
		if err != nil {
			return nil, err
		}
		p = built
	}
	if err := p.checkShape(name); err != nil {
		return nil, err
	}

	r.ancestors[p] = true
	defer delete(r.ancestors, p)

	out := *p
	var err error
	if out.Properties, err = r.properties(name, p.Properties); err != nil {
		return nil, err
	}
	if p.Of != nil {
		if out.Of, err = r.property(name+"[]", p.Of); err != nil {
			return nil, err
		}
	}
	if p.OneOf != nil {
		oneOf := *p.OneOf
		oneOf.Properties = &Properties{items: make(map[string]*Property, p.OneOf.Properties.Len())}
		for branch, bp := range p.OneOf.Properties.All() {
			rb, err := r.property(name+"["+branch+"]", bp)
			if err != nil {
				return nil, err
			}
			oneOf.Properties.Set(branch, rb)
		}
		out.OneOf = &oneOf
	}
	return &out, nil
}

// build runs a builder, converting panics and malformed output into
// configuration errors.
func (r *resolver) build(name string, b Builder) (p *Property, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			err = domain.NewConfigError(name, "property builder panicked: %v", rec)
		}
	}()

	p, err = b(r.bc)
	if err != nil {
		return nil, &domain.ConfigError{Field: name, Reason: fmt.Sprintf("property builder failed: %v", err)}
	}
	if p == nil {
		return nil, domain.NewConfigError(name, "property builder returned nil")
	}
	if p.IsBuilder() {
		return nil, domain.NewConfigError(name, "property builder returned another builder")
	}
	return p, nil
}
