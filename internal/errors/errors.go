// Package errors provides the error taxonomy shared by the gearbox engine.
// Errors are classified so callers can tell a rejected transaction from a
// partial apply failure or a fatal reconciliation failure.
package errors

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorInvalid marks invalid input: unknown module or entity, out of
	// range slot, malformed or unsupported path. The transaction is aborted
	// before any hardware write.
	ErrorInvalid ErrorClass = iota
	// ErrorResolution marks a name that could not be mapped to a hardware
	// handle during apply. Scoped to a single module.
	ErrorResolution
	// ErrorFatal marks a failure that ends the current operation.
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorInvalid:
		return "invalid"
	case ErrorResolution:
		return "resolution"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Standard error variables
var (
	ErrNotFound        = errors.New("not found")
	ErrOutOfRange      = errors.New("out of range")
	ErrUnsupportedPath = errors.New("unsupported path")
	ErrMalformedPath   = errors.New("malformed path")
	ErrReadyTimeout    = errors.New("timed out waiting for module readiness")
	ErrInvalidValue    = errors.New("invalid value")
)

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClass(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return &ClassifiedError{
		Class:     class,
		Err:       Wrap(err, component, method, action),
		Component: component,
		Operation: method,
	}
}

// WrapInvalid wraps an error as invalid input with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClass(ErrorInvalid, err, component, method, action)
}

// WrapResolution wraps an error as a name resolution failure with context
func WrapResolution(err error, component, method, action string) error {
	return wrapClass(ErrorResolution, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClass(ErrorFatal, err, component, method, action)
}

// Invalidf builds an invalid-input error from a format string.
func Invalidf(format string, args ...any) error {
	return &ClassifiedError{Class: ErrorInvalid, Err: fmt.Errorf(format, args...)}
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	return hasClass(err, ErrorInvalid) ||
		errors.Is(err, ErrOutOfRange) ||
		errors.Is(err, ErrUnsupportedPath) ||
		errors.Is(err, ErrMalformedPath) ||
		errors.Is(err, ErrInvalidValue)
}

// IsResolution checks if an error is a handle resolution failure
func IsResolution(err error) bool {
	return hasClass(err, ErrorResolution)
}

// IsPartial reports whether err consists only of resolution failures, so
// the modules it names failed while the rest of the transaction stands.
// Joined errors count when every error they join does.
func IsPartial(err error) bool {
	if err == nil {
		return false
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs := j.Unwrap()
		for _, e := range errs {
			if !IsPartial(e) {
				return false
			}
		}
		return len(errs) > 0
	}
	return IsResolution(err)
}

// IsFatal checks if an error is fatal
func IsFatal(err error) bool {
	return hasClass(err, ErrorFatal) || errors.Is(err, ErrReadyTimeout)
}

// Classify returns the error class for an error. Unclassified errors are
// fatal.
func Classify(err error) ErrorClass {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	if IsInvalid(err) {
		return ErrorInvalid
	}
	return ErrorFatal
}

func hasClass(err error, class ErrorClass) bool {
	if err == nil {
		return false
	}
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == class
	}
	return false
}

// Is, Join and New re-export the standard library helpers so callers need
// a single errors import.
var (
	Is   = errors.Is
	Join = errors.Join
	New  = errors.New
)
