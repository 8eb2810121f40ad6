package stage

import (
	"errors"
	"fmt"
	"strings"

	"stagehand/internal/services"
)

// ErrAbort is the cancellation signal a body returns to stop the pipeline
// without side effects. It is never wrapped by the runner.
var ErrAbort = errors.New("stage aborted")

// IsAbort reports whether err carries ErrAbort.
func IsAbort(err error) bool {
	return errors.Is(err, ErrAbort)
}

// Precondition kinds.
const (
	KindMissingInput  = "missing_input"
	KindMissingOutput = "missing_output"
)

// PreconditionError reports declared files missing on disk.
type PreconditionError struct {
	Stage string
	Kind  string
	Paths []string
}

func (e *PreconditionError) Error() string {
	what := "input"
	if e.Kind == KindMissingOutput {
		what = "output"
	}
	label := e.Stage
	if label == "" {
		label = "unnamed stage"
	}
	return fmt.Sprintf("stage %s: expected %s file(s) missing: %s", label, what, strings.Join(e.Paths, ", "))
}

// Unwrap classifies precondition failures as validation errors.
func (e *PreconditionError) Unwrap() error { return services.ErrValidation }

// Error is a body or inference failure with the resolved stage name attached.
type Error struct {
	Stage string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
