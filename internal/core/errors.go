package core

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the storage layer. Callers match them with errors.Is
// and translate them into their own surface.
var (
	// ErrNotFound means a lookup that required a result found nothing.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguous means a single-result lookup matched more than one object.
	ErrAmbiguous = errors.New("ambiguous")

	// ErrURIConflict means a URI is already taken by another topic or association.
	ErrURIConflict = errors.New("uri conflict")

	// ErrDataInconsistency means an invariant of the stored graph is violated.
	// It indicates corruption and is never retried.
	ErrDataInconsistency = errors.New("data inconsistency")

	// ErrInvalidModel means the caller passed a model the operation cannot accept.
	ErrInvalidModel = errors.New("invalid model")
)

// BackendError wraps an opaque failure of the underlying graph store.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend: %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Backend wraps err as a BackendError unless it already carries one of the
// domain error kinds.
func Backend(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) || IsDomainError(err) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the domain error kinds.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAmbiguous) ||
		errors.Is(err, ErrURIConflict) ||
		errors.Is(err, ErrDataInconsistency) ||
		errors.Is(err, ErrInvalidModel)
}

// NotFoundf returns an ErrNotFound carrying a formatted message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Ambiguousf returns an ErrAmbiguous carrying a formatted message.
func Ambiguousf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAmbiguous, fmt.Sprintf(format, args...))
}

// Inconsistentf returns an ErrDataInconsistency carrying a formatted message.
func Inconsistentf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataInconsistency, fmt.Sprintf(format, args...))
}

// Invalidf returns an ErrInvalidModel carrying a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidModel, fmt.Sprintf(format, args...))
}
