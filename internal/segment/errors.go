// Package segment holds the error kinds shared by the segmentation layers.
//
// The layer packages (l1cloud through l5walker) wrap these sentinels with
// fmt.Errorf("%w: ...") so callers can branch with errors.Is regardless of
// which stage produced the failure.
package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput reports an empty cloud, a non-positive parameter or a
	// malformed seed set. Detected before any heavy computation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDisconnectedSeedComponent reports unseeded vertices that no seed can
	// reach. The affected vertices are left unlabeled.
	ErrDisconnectedSeedComponent = errors.New("unseeded component disconnected from all seeds")

	// ErrDegenerateSeeding reports a seed set without any label.
	ErrDegenerateSeeding = errors.New("degenerate seeding")

	// ErrSingularSystem reports a numerical failure of the linear solve.
	ErrSingularSystem = errors.New("singular system")

	// ErrIO reports a failure loading or saving an external artifact.
	ErrIO = errors.New("io failure")
)

// Invalidf wraps ErrInvalidInput with a formatted detail message.
func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// IOError wraps err with ErrIO so both remain matchable with errors.Is.
func IOError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &ioError{op: op, path: path, err: err}
}

type ioError struct {
	op   string
	path string
	err  error
}

func (e *ioError) Error() string {
	return e.op + " " + e.path + ": " + e.err.Error()
}

func (e *ioError) Unwrap() []error { return []error{ErrIO, e.err} }
