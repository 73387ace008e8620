// Package layout holds the rendering density tiers consulted by widgets
// and the table layout. Sizes are never persisted.
package layout

import "fmt"

// CollectionSize is the row density of a collection table.
type CollectionSize string

// Collection sizes, smallest first.
const (
	XS CollectionSize = "xs"
	S  CollectionSize = "s"
	M  CollectionSize = "m"
	L  CollectionSize = "l"
	XL CollectionSize = "xl"
)

// DefaultCollectionSize is used when a collection declares none.
const DefaultCollectionSize = M

var collectionOrder = []CollectionSize{XS, S, M, L, XL}

// CollectionSizes lists the sizes in ascending order.
func CollectionSizes() []CollectionSize {
	out := make([]CollectionSize, len(collectionOrder))
	copy(out, collectionOrder)
	return out
}

// ParseCollectionSize parses s, falling back to the default for "".
func ParseCollectionSize(s string) (CollectionSize, error) {
	if s == "" {
		return DefaultCollectionSize, nil
	}
	for _, c := range collectionOrder {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown collection size %q", s)
}

// RowHeight returns the table row height in pixels.
func (c CollectionSize) RowHeight() int {
	switch c {
	case XS:
		return 54
	case S:
		return 80
	case L:
		return 280
	case XL:
		return 400
	default:
		return 140
	}
}

// PreviewSize maps a row density to the preview fidelity of its cells.
func (c CollectionSize) PreviewSize() PreviewSize {
	switch c {
	case XS, S:
		return Tiny
	case L, XL:
		return Regular
	default:
		return Small
	}
}

// PreviewSize is the fidelity tier of a read-only preview.
type PreviewSize string

// Preview sizes.
const (
	Tiny    PreviewSize = "tiny"
	Small   PreviewSize = "small"
	Regular PreviewSize = "regular"
)

// Step returns the next smaller tier, used for nested previews.
// Tiny is the floor.
func (p PreviewSize) Step() PreviewSize {
	switch p {
	case Regular:
		return Small
	default:
		return Tiny
	}
}
