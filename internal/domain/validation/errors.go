// Package validation compiles resolved property trees into validators for
// whole entities and single fields.
package validation

import (
	"strings"

	"github.com/kailas-cloud/cmskit/internal/domain"
)

// Code identifies the rule a value failed.
type Code string

// Validation codes.
const (
	CodeRequired      Code = "required"
	CodeType          Code = "type"
	CodeMin           Code = "min"
	CodeMax           Code = "max"
	CodeLessThan      Code = "less_than"
	CodeMoreThan      Code = "more_than"
	CodePositive      Code = "positive"
	CodeNegative      Code = "negative"
	CodeInteger       Code = "integer"
	CodeMatches       Code = "matches"
	CodeEmail         Code = "email"
	CodeURL           Code = "url"
	CodeEnum          Code = "enum"
	CodeOneOf         Code = "one_of"
	CodeUnique        Code = "unique"
	CodeUniqueInArray Code = "unique_in_array"
)

// FieldError is a validation failure attached to a field path.
type FieldError struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

func (e *FieldError) Unwrap() error { return domain.ErrValidation }

// Errors lists field errors in traversal order.
type Errors []*FieldError

func (e Errors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Error()
	}
	return strings.Join(parts, "; ")
}

func (e Errors) Unwrap() error { return domain.ErrValidation }

// Field returns the first error for the given path.
func (e Errors) Field(path string) *FieldError {
	for _, fe := range e {
		if fe.Field == path {
			return fe
		}
	}
	return nil
}

// First returns the first error, or nil.
func (e Errors) First() *FieldError {
	if len(e) == 0 {
		return nil
	}
	return e[0]
}
