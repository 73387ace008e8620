package db

import "errors"

// Sentinel errors for database operations.
var (
	ErrKeyNotFound = errors.New("db: key not found")
	ErrClosed      = errors.New("db: store closed")
)

// Op constants name the failing driver operation for error context.
const (
	OpJSONSet   = "JSON.SET"
	OpJSONGet   = "JSON.GET"
	OpDel       = "DEL"
	OpExists    = "EXISTS"
	OpScan      = "SCAN"
	OpPublish   = "PUBLISH"
	OpSubscribe = "SUBSCRIBE"
	OpMigrate   = "MIGRATE"
)

// Error wraps an underlying error with the operation name for diagnostics.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }
