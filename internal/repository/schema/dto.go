package schema

import (
	"fmt"

	"github.com/kailas-cloud/cmskit/internal/domain/auth"
	"github.com/kailas-cloud/cmskit/internal/domain/collection"
	"github.com/kailas-cloud/cmskit/internal/domain/layout"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// collectionFile is the YAML shape of one collection.
type collectionFile struct {
	Path           string            `yaml:"path"`
	Name           string            `yaml:"name"`
	Description    string            `yaml:"description"`
	Group          string            `yaml:"group"`
	Size           string            `yaml:"size"`
	Permissions    *auth.Permissions `yaml:"permissions"`
	Schema         schemaFile        `yaml:"schema"`
	Subcollections []collectionFile  `yaml:"subcollections"`
}

type schemaFile struct {
	Name        string               `yaml:"name"`
	Description string               `yaml:"description"`
	Properties  *property.Properties `yaml:"properties"`
	CustomID    customIDFile         `yaml:"custom_id"`
}

type customIDFile struct {
	Mode   string              `yaml:"mode"`
	Values property.EnumValues `yaml:"values"`
}

// toCollection converts the file into a domain collection, applying the
// registered Go extensions. template is the parent template path.
func (f collectionFile) toCollection(template string, ext *Extensions) (collection.Collection, error) {
	full := f.Path
	if template != "" {
		full = template + "/" + f.Path
	}

	size, err := layout.ParseCollectionSize(f.Size)
	if err != nil {
		return collection.Collection{}, fmt.Errorf("collection %q: %w", full, err)
	}
	props := f.Schema.Properties
	if props == nil {
		props = property.NewProperties()
	}
	s := &collection.Schema{
		Name:        f.Schema.Name,
		Description: f.Schema.Description,
		Properties:  props,
		CustomID:    collection.CustomID{Mode: collection.IDMode(f.Schema.CustomID.Mode), Values: f.Schema.CustomID.Values},
	}
	if s.Name == "" {
		s.Name = f.Name
	}
	if err := ext.apply(full, s); err != nil {
		return collection.Collection{}, err
	}

	opts := []collection.Option{
		collection.WithDescription(f.Description),
		collection.WithGroup(f.Group),
		collection.WithSize(size),
	}
	if f.Permissions != nil {
		opts = append(opts, collection.WithPermissions(*f.Permissions))
	}
	for _, sub := range f.Subcollections {
		c, err := sub.toCollection(full, ext)
		if err != nil {
			return collection.Collection{}, err
		}
		opts = append(opts, collection.WithSubcollections(c))
	}
	return collection.New(f.Path, f.Name, s, opts...)
}
