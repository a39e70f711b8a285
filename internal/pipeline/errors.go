package pipeline

import (
	"errors"
	"fmt"

	"github.com/roach88/stepsplit/internal/ir"
)

// ErrAnomalies is returned for a range whose tree produced negative
// exclusive steps while Config.FailOnAnomaly is set.
var ErrAnomalies = errors.New("negative exclusive steps")

// StageError reports which stage of a block range failed.
type StageError struct {
	// Range is the block range that failed.
	Range ir.BlockRange

	// Stage is one of the ir.Stage* names.
	Stage string

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("range %s: %s: %v", e.Range, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Failure converts the error into the record stored for a failed range.
func (e *StageError) Failure(runID string) ir.FailedRange {
	return ir.FailedRange{
		RunID:  runID,
		Range:  e.Range,
		Stage:  e.Stage,
		Reason: e.Err.Error(),
	}
}

// StageOf returns the failed stage of err, or "" if err is not a StageError.
// Uses errors.As to handle wrapped errors.
func StageOf(err error) string {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
