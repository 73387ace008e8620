package collection

import (
	"context"
	"fmt"

	"github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/property"
)

// IDMode controls how new entity ids are produced.
type IDMode string

// ID modes.
const (
	// IDAuto generates a ulid on creation.
	IDAuto IDMode = "auto"
	// IDManual lets the user type the id.
	IDManual IDMode = "manual"
	// IDEnum lets the user pick the id from CustomID.Values.
	IDEnum IDMode = "enum"
)

// CustomID configures id assignment for new entities.
type CustomID struct {
	Mode   IDMode              `json:"mode"`
	Values property.EnumValues `json:"values,omitempty"`
}

// SaveHookInput is handed to the save callbacks.
type SaveHookInput struct {
	Path           string
	EntityID       string
	Values         map[string]any
	PreviousValues map[string]any
	Status         entity.Status
	Schema         *Schema
}

// DeleteHookInput is handed to the delete callbacks.
type DeleteHookInput struct {
	Path     string
	EntityID string
	Entity   entity.Entity
	Schema   *Schema
}

// Callbacks are the optional lifecycle hooks of a schema.
type Callbacks struct {
	// OnPreSave may return replacement values. Returning nil values keeps
	// the input unchanged. An error aborts the save.
	OnPreSave     func(ctx context.Context, in SaveHookInput) (map[string]any, error)
	OnSaveSuccess func(ctx context.Context, in SaveHookInput) error
	OnSaveFailure func(ctx context.Context, in SaveHookInput, err error)
	// OnPreDelete aborts the deletion when it returns an error.
	OnPreDelete func(ctx context.Context, in DeleteHookInput) error
	// OnDelete runs after the data source removed the entity.
	OnDelete func(ctx context.Context, in DeleteHookInput) error
}

// Schema describes the shape of the entities of a collection.
type Schema struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Properties  *property.Properties `json:"properties"`
	CustomID    CustomID             `json:"custom_id"`
	Callbacks   Callbacks            `json:"-"`
}

// Validate checks the static part of the schema.
func (s *Schema) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("schema name is required")
	}
	if s.Properties.Len() == 0 {
		return fmt.Errorf("schema %q declares no properties", s.Name)
	}
	for name := range s.Properties.All() {
		if name == "" || name == "id" {
			return fmt.Errorf("schema %q: property name %q is reserved", s.Name, name)
		}
	}
	switch s.CustomID.Mode {
	case "", IDAuto, IDManual:
	case IDEnum:
		if len(s.CustomID.Values) == 0 {
			return fmt.Errorf("schema %q: enum custom id needs values", s.Name)
		}
	default:
		return fmt.Errorf("schema %q: unknown custom id mode %q", s.Name, s.CustomID.Mode)
	}
	return property.CheckStatic(s.Properties)
}

// Resolve evaluates the property builders of the schema for one entity.
func (s *Schema) Resolve(path, entityID string, values, previous map[string]any) (*property.Properties, error) {
	return property.Resolve(s.Properties, property.BuildContext{
		Path:           path,
		EntityID:       entityID,
		Values:         values,
		PreviousValues: previous,
	})
}

// IDMode returns the effective id mode.
func (s *Schema) IDMode() IDMode {
	if s.CustomID.Mode == "" {
		return IDAuto
	}
	return s.CustomID.Mode
}
