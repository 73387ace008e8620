package entity

import (
	"context"
	"fmt"

	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
	"github.com/kailas-cloud/cmskit/internal/domain/validation"
)

// UniqueValidator checks unique fields by looking for another entity of
// the collection holding the same value. entityID is excluded so that an
// entity never conflicts with itself.
func (s *Service) UniqueValidator(path, entityID string) validation.CustomFieldValidator {
	return func(ctx context.Context, in validation.FieldValidatorInput) (bool, error) {
		if in.Value == nil || in.Value == "" {
			return true, nil
		}
		list, err := s.ds.FetchCollection(ctx, path, domentity.Query{
			Filter: map[string]any{in.Name: in.Value},
			Limit:  2,
		})
		if err != nil {
			return false, fmt.Errorf("fetch collection: %w", err)
		}
		for _, e := range list {
			if e.ID != entityID {
				return false, nil
			}
		}
		return true, nil
	}
}
