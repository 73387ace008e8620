package property

import (
	"github.com/kailas-cloud/cmskit/internal/domain"
)

// Check verifies the shape invariant of a resolved tree: the recursive
// fields match DataType and no node is its own ancestor. Arrays without
// an element shape are left to the consumers, which need the field name
// in the error and may accept them for custom fields.
func (p *Property) Check(name string) error {
	return p.check(name, make(map[*Property]bool), false)
}

// CheckAll checks every property of a resolved tree.
func CheckAll(ps *Properties) error {
	return checkAll(ps, false)
}

// CheckStatic checks the static part of an unresolved tree, skipping
// builder nodes.
func CheckStatic(ps *Properties) error {
	return checkAll(ps, true)
}

func checkAll(ps *Properties, allowBuilders bool) error {
	ancestors := make(map[*Property]bool)
	for name, p := range ps.All() {
		if err := p.check(name, ancestors, allowBuilders); err != nil {
			return err
		}
	}
	return nil
}

func (p *Property) check(name string, ancestors map[*Property]bool, allowBuilders bool) error {
	if p == nil {
		return domain.NewConfigError(name, "property is nil")
	}
	if ancestors[p] {
		return domain.NewConfigError(name, "property is its own ancestor")
	}
	if p.IsBuilder() {
		if allowBuilders {
			return nil
		}
		return domain.NewConfigError(name, "unresolved property builder")
	}
	if err := p.checkShape(name); err != nil {
		return err
	}

	ancestors[p] = true
	defer delete(ancestors, p)

	for child, cp := range p.Properties.All() {
		if err := cp.check(name+"."+child, ancestors, allowBuilders); err != nil {
			return err
		}
	}
	if p.Of != nil {
		if err := p.Of.check(name+"[]", ancestors, allowBuilders); err != nil {
			return err
		}
	}
	if p.OneOf != nil {
		for branch, bp := range p.OneOf.Properties.All() {
			if err := bp.check(name+"["+branch+"]", ancestors, allowBuilders); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkShape validates a single node without descending.
func (p *Property) checkShape(name string) error {
	if !p.DataType.Valid() {
		return domain.NewConfigError(name, "unsupported data type %q", p.DataType)
	}
	switch p.DataType {
	case Map:
		if p.Of != nil || p.OneOf != nil {
			return domain.NewConfigError(name, "map property cannot declare of or one_of")
		}
		for _, key := range p.PreviewProperties {
			if _, ok := p.Properties.Get(key); !ok {
				return domain.NewConfigError(name, "preview property %q is not declared", key)
			}
		}
	case Array:
		if p.Properties != nil {
			return domain.NewConfigError(name, "array property cannot declare properties")
		}
		if p.Of != nil && p.OneOf != nil {
			return domain.NewConfigError(name, "array property declares both of and one_of")
		}
		if p.OneOf != nil && p.OneOf.Properties.Len() == 0 {
			return domain.NewConfigError(name, "one_of declares no branches")
		}
	default:
		if p.Properties != nil || p.Of != nil || p.OneOf != nil {
			return domain.NewConfigError(name, "%s property cannot declare nested properties", p.DataType)
		}
	}
	if p.DataType == Reference && p.Path == "" {
		return domain.NewConfigError(name, "reference property needs a target path")
	}
	if p.Config != nil && p.Config.StorageMeta != nil && p.DataType != String {
		return domain.NewConfigError(name, "storage metadata is only valid on string properties")
	}
	return nil
}
