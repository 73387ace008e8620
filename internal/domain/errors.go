package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing resource.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists signals a duplicate resource.
	ErrAlreadyExists = errors.New("already exists")
	// ErrPermissionDenied signals that the principal lacks the required permission.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInvalidSchema signals an invalid collection or schema definition.
	ErrInvalidSchema = errors.New("invalid schema")
	// ErrConfiguration signals a malformed property tree (programmer error).
	ErrConfiguration = errors.New("configuration error")
	// ErrValidation signals structural or uniqueness validation failures.
	ErrValidation = errors.New("validation failed")
	// ErrReadOnly signals an edit attempt on a read-only property or cell.
	ErrReadOnly = errors.New("read only")
	// ErrUnmounted signals that the owner of an async task is gone.
	ErrUnmounted = errors.New("unmounted")
	// ErrInvalidPath signals a malformed collection path or entity id.
	ErrInvalidPath = errors.New("invalid path")
)

// ConfigError reports a malformed property tree, naming the offending field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrConfiguration.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrConfiguration.Error(), e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfiguration }

// NewConfigError creates a configuration error for the given field.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// HookStage names the lifecycle callback that failed.
type HookStage string

// Hook stages.
const (
	HookPreSave    HookStage = "pre_save"
	HookPostSave   HookStage = "post_save"
	HookPreDelete  HookStage = "pre_delete"
	HookPostDelete HookStage = "post_delete"
)

// HookError wraps an error raised by a user-supplied lifecycle callback.
type HookError struct {
	Stage HookStage
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook: %v", e.Stage, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Mutated reports whether the data source had already been changed
// when the hook failed.
func (e *HookError) Mutated() bool {
	return e.Stage == HookPostSave || e.Stage == HookPostDelete
}
