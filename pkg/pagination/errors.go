package pagination

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCSVUnsupported is returned when a CSV export is requested for an
	// endpoint whose records are nested documents.
	ErrCSVUnsupported = errors.New("csv export is not supported for this endpoint")

	// ErrInvalidSplit is returned when a split plan cannot be built from the query.
	ErrInvalidSplit = errors.New("invalid split")

	// ErrConflictingIncrements is returned when both a time and a height
	// increment are requested.
	ErrConflictingIncrements = errors.New("time and height increments are mutually exclusive")
)

// SplitFailure is one failed split of a parallel run.
type SplitFailure struct {
	Split Split
	Err   error
}

// SplitExecutionError reports the splits of a parallel run that failed.
// Each failure carries the split's query so the caller can re-issue it.
type SplitExecutionError struct {
	Failures  []SplitFailure
	Completed int
	Total     int
}

// Error implements the error interface.
func (e *SplitExecutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d splits failed", len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; split %d (%s): %v", f.Split.Index, f.Split, f.Err)
	}
	return b.String()
}

// Unwrap exposes every split error to errors.Is and errors.As.
func (e *SplitExecutionError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// FailedQueries returns the queries of the failed splits in plan order.
func (e *SplitExecutionError) FailedQueries() []Query {
	out := make([]Query, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Split.Query.Clone()
	}
	return out
}
