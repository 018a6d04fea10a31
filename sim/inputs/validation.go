package inputs

import (
	"strings"

	"go.uber.org/multierr"

	"github.com/vehicle-sim/vehicle-sim/sim"
)

// ValidationError lists every input problem found before a session starts.
// It matches sim.ErrInputValidation under errors.Is.
type ValidationError struct {
	err error
}

// newValidationError returns nil when err is nil.
func newValidationError(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{err: err}
}

func (e *ValidationError) Error() string {
	errs := e.Errors()
	lines := make([]string, 0, len(errs)+1)
	lines = append(lines, sim.ErrInputValidation.Error()+":")
	for _, err := range errs {
		lines = append(lines, "  "+err.Error())
	}
	return strings.Join(lines, "\n")
}

// Errors returns the individual problems.
func (e *ValidationError) Errors() []error {
	return multierr.Errors(e.err)
}

// Is matches sim.ErrInputValidation.
func (e *ValidationError) Is(target error) bool {
	return target == sim.ErrInputValidation
}

// Unwrap exposes the individual problems to errors.Is and errors.As.
func (e *ValidationError) Unwrap() []error {
	return e.Errors()
}
