package loader

import (
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/neetlogiq/datapack/pkg/types"
)

// State distinguishes "nothing could be loaded" from "loaded, but nothing
// matched".
type State string

const (
	// StateLoaded means every chunk loaded.
	StateLoaded State = "loaded"

	// StatePartial means some chunks failed but records were returned.
	StatePartial State = "partial"

	// StateUnavailable means chunks failed and no records are available.
	StateUnavailable State = "unavailable"

	// StateNoMatch means every chunk loaded and none held records.
	StateNoMatch State = "no_match"
)

// ChunkFailure records why one chunk is missing from a result.
type ChunkFailure struct {
	Filename string
	Err      error
}

func (f ChunkFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Filename, f.Err)
}

func (f ChunkFailure) Unwrap() error { return f.Err }

// Result is the outcome of loading a set of chunks. Records are in manifest
// file order; failed chunks contribute nothing.
type Result struct {
	Category types.Category
	Records  []types.Record
	Chunks   int
	Failures []ChunkFailure
}

// Err aggregates the per-chunk failures, or returns nil.
func (r *Result) Err() error {
	var err error
	for _, f := range r.Failures {
		err = multierr.Append(err, f)
	}
	return err
}

// State summarizes the result for display.
func (r *Result) State() State {
	switch {
	case len(r.Failures) > 0 && len(r.Records) == 0:
		return StateUnavailable
	case len(r.Failures) > 0:
		return StatePartial
	case len(r.Records) == 0:
		return StateNoMatch
	default:
		return StateLoaded
	}
}

func (r *Result) clone() *Result {
	cp := *r
	cp.Records = slices.Clone(r.Records)
	cp.Failures = slices.Clone(r.Failures)
	return &cp
}

// YearBatch is one step of LoadAllYears.
type YearBatch struct {
	Year   int
	Result *Result
}
