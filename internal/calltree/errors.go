package calltree

import (
	"errors"
	"fmt"

	"github.com/roach88/stepsplit/internal/tracepath"
)

var (
	// ErrAlreadyInferred is returned by a second call to Tree.Infer.
	// Inferring twice would subtract children from already-exclusive values.
	ErrAlreadyInferred = errors.New("calltree: steps already inferred")

	// ErrNotInferred is returned when exclusive results are requested before
	// Tree.Infer has run.
	ErrNotInferred = errors.New("calltree: steps not inferred yet")
)

// BuildErrorCode categorizes construction errors.
type BuildErrorCode string

const (
	// ErrCodeOrderingViolation indicates a record sorted before its predecessor.
	ErrCodeOrderingViolation BuildErrorCode = "ORDERING_VIOLATION"

	// ErrCodeDuplicatePath indicates the same path appeared twice.
	ErrCodeDuplicatePath BuildErrorCode = "DUPLICATE_PATH"

	// ErrCodeNegativeSteps indicates a record with negative cumulative steps.
	ErrCodeNegativeSteps BuildErrorCode = "NEGATIVE_STEPS"

	// ErrCodeRootRecord indicates a record with the empty path.
	ErrCodeRootRecord BuildErrorCode = "ROOT_RECORD"

	// ErrCodeUnknownPath indicates a lookup of a path the tree never saw.
	ErrCodeUnknownPath BuildErrorCode = "UNKNOWN_PATH"
)

// BuildError reports input that cannot form a valid tree.
type BuildError struct {
	Code BuildErrorCode

	// Index is the position of the offending record in the input.
	Index int

	// Path is the offending record's path.
	Path tracepath.Path

	// Previous is the preceding path (ordering and duplicate errors).
	Previous tracepath.Path
}

func (e *BuildError) Error() string {
	switch e.Code {
	case ErrCodeOrderingViolation:
		return fmt.Sprintf("%s: record %d %s sorts before %s", e.Code, e.Index, e.Path, e.Previous)
	case ErrCodeDuplicatePath:
		return fmt.Sprintf("%s: record %d repeats path %s", e.Code, e.Index, e.Path)
	case ErrCodeNegativeSteps:
		return fmt.Sprintf("%s: record %d %s has negative steps", e.Code, e.Index, e.Path)
	default:
		return fmt.Sprintf("%s: record %d %s", e.Code, e.Index, e.Path)
	}
}

// IsOrderingError returns true if err is an ordering violation.
// Uses errors.As to handle wrapped errors.
func IsOrderingError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeOrderingViolation
	}
	return false
}

// IsDuplicateError returns true if err is a duplicate-path error.
func IsDuplicateError(err error) bool {
	var be *BuildError
	if errors.As(err, &be) {
		return be.Code == ErrCodeDuplicatePath
	}
	return false
}

// AlignmentError reports a projection whose keys diverge from its input.
type AlignmentError struct {
	// Position is the first index where the sequences differ. Equal to the
	// shorter length when one sequence is a prefix of the other.
	Position int
	Want     string
	Got      string
	WantLen  int
	GotLen   int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("output misaligned with input at position %d: want %q, got %q (%d records in, %d out)",
		e.Position, e.Want, e.Got, e.WantLen, e.GotLen)
}

// IsAlignmentError returns true if err is an AlignmentError.
func IsAlignmentError(err error) bool {
	var ae *AlignmentError
	return errors.As(err, &ae)
}
