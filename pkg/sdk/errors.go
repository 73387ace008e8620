package cmskit

import "github.com/kailas-cloud/cmskit/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrNotFound         = domain.ErrNotFound
	ErrAlreadyExists    = domain.ErrAlreadyExists
	ErrPermissionDenied = domain.ErrPermissionDenied
	ErrInvalidSchema    = domain.ErrInvalidSchema
	ErrConfiguration    = domain.ErrConfiguration
	ErrValidation       = domain.ErrValidation
	ErrReadOnly         = domain.ErrReadOnly
	ErrInvalidPath      = domain.ErrInvalidPath
)

// HookError reports a failed lifecycle callback; use errors.As.
type HookError = domain.HookError

// ConfigError reports a property configuration the engine cannot serve.
type ConfigError = domain.ConfigError
