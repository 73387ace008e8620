package entity

import (
	dombatch "github.com/kailas-cloud/cmskit/internal/domain/batch"
	domentity "github.com/kailas-cloud/cmskit/internal/domain/entity"
)

// Outcome classifies how a pipeline run ended.
type Outcome string

// Pipeline outcomes.
const (
	OutcomeSuccess         Outcome = "success"
	OutcomeConfigError     Outcome = "configuration_error"
	OutcomeStructuralError Outcome = "structural_error"
	OutcomePreHookError    Outcome = "pre_hook_error"
	OutcomePostHookError   Outcome = "post_hook_error"
	OutcomeTransportError  Outcome = "transport_error"
)

// Result is the outcome of one save or delete.
type Result struct {
	Outcome Outcome
	Entity  domentity.Entity
	Err     error
}

// OK reports full success. A failed post hook is not OK even though the
// data source was already changed.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Mutated reports whether the data source was changed.
func (r Result) Mutated() bool {
	return r.Outcome == OutcomeSuccess || r.Outcome == OutcomePostHookError
}

// BulkResult aggregates the per-entity results of a bulk operation.
type BulkResult struct {
	Results []Result
	Outcome dombatch.Outcome
}

// Batch converts the results to per-item batch results.
func (b BulkResult) Batch() []dombatch.Result {
	out := make([]dombatch.Result, len(b.Results))
	for i, r := range b.Results {
		if r.OK() {
			out[i] = dombatch.NewOK(r.Entity.ID)
		} else {
			out[i] = dombatch.NewError(r.Entity.ID, r.Err)
		}
	}
	return out
}
