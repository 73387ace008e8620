// Package batch reports the per-item outcome of bulk entity operations.
package batch

import "errors"

// ItemStatus is the processing outcome of a single batch item.
type ItemStatus string

// Batch item status values.
const (
	StatusOK    ItemStatus = "ok"
	StatusError ItemStatus = "error"
)

// Result is the outcome of processing one entity in a batch operation.
type Result struct {
	id     string
	status ItemStatus
	err    error
}

// NewOK creates a successful batch result.
func NewOK(id string) Result { return Result{id: id, status: StatusOK} }

// NewError creates a failed batch result.
func NewError(id string, err error) Result { return Result{id: id, status: StatusError, err: err} }

// ID returns the entity identifier.
func (r Result) ID() string { return r.id }

// Status returns the processing outcome.
func (r Result) Status() ItemStatus { return r.status }

// Err returns the error, if any.
func (r Result) Err() error { return r.err }

// Outcome summarises a whole batch.
type Outcome string

// Batch outcomes.
const (
	OutcomeAll     Outcome = "all"
	OutcomePartial Outcome = "partial"
	OutcomeNone    Outcome = "none"
)

// Aggregate classifies results: all succeeded, some did, or none did.
// An empty batch counts as all.
func Aggregate(results []Result) Outcome {
	var ok int
	for _, r := range results {
		if r.status == StatusOK {
			ok++
		}
	}
	switch ok {
	case len(results):
		return OutcomeAll
	case 0:
		return OutcomeNone
	default:
		return OutcomePartial
	}
}

// Join combines the errors of failed results, or returns nil.
func Join(results []Result) error {
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errors.Join(errs...)
}
