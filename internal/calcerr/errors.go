// Package calcerr defines the error taxonomy shared by the index computation packages.
package calcerr

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Kind classifies a computation failure.
type Kind string

const (
	KindValidation       Kind = "validation"
	KindInsufficientData Kind = "insufficient_data"
	KindCapacity         Kind = "capacity"
	KindConvergence      Kind = "convergence"
	KindSameEntity       Kind = "same_entity"
	KindCancelled        Kind = "cancelled"
)

// Error is a classified computation error. Stage names the pipeline step that
// failed (e.g. "supertracts", "regression") and EntityID the CBSA, supertract,
// tract or pair it failed for.
type Error struct {
	Kind     Kind
	Stage    string
	EntityID string
	Err      error
}

func (e *Error) Error() string {
	switch {
	case e.Stage != "" && e.EntityID != "":
		return fmt.Sprintf("%s: %s [%s]: %v", e.Stage, e.Kind, e.EntityID, e.Err)
	case e.Stage != "":
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, stage, entityID, format string, args ...any) *Error {
	return &Error{
		Kind:     kind,
		Stage:    stage,
		EntityID: entityID,
		Err:      eris.Errorf(format, args...),
	}
}

// Validation reports malformed input.
func Validation(stage, entityID, format string, args ...any) *Error {
	return newError(KindValidation, stage, entityID, format, args...)
}

// InsufficientData reports an unmet observation floor.
func InsufficientData(stage, entityID, format string, args ...any) *Error {
	return newError(KindInsufficientData, stage, entityID, format, args...)
}

// Capacity reports a batch that exceeds its size cap.
func Capacity(stage string, got, limit int) *Error {
	return newError(KindCapacity, stage, "", "%d items exceeds limit of %d", got, limit)
}

// Convergence reports a singular regression or a weighting loop that did not converge.
func Convergence(stage, entityID, format string, args ...any) *Error {
	return newError(KindConvergence, stage, entityID, format, args...)
}

// SameEntity reports a distance request from an entity to itself.
func SameEntity(stage, entityID string) *Error {
	return newError(KindSameEntity, stage, entityID, "cannot compute distance from %s to itself", entityID)
}

// Cancelled reports a sub-unit that was not started because its job was cancelled.
func Cancelled(stage, entityID string, cause error) *Error {
	return &Error{
		Kind:     KindCancelled,
		Stage:    stage,
		EntityID: entityID,
		Err:      eris.Wrap(cause, "cancelled"),
	}
}

// KindOf returns the kind of the first classified error in err's chain, or ""
// when err carries no classification.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// NumericalError marks a transient numerical failure (an ill-conditioned
// intermediate fit) that may succeed when retried with stronger regularisation.
type NumericalError struct {
	Err error
}

func (e *NumericalError) Error() string {
	return "numerical: " + e.Err.Error()
}

func (e *NumericalError) Unwrap() error {
	return e.Err
}

// Numerical wraps err as a retryable numerical failure.
func Numerical(err error) *NumericalError {
	return &NumericalError{Err: err}
}

// IsNumerical reports whether err is a retryable numerical failure.
func IsNumerical(err error) bool {
	var ne *NumericalError
	return errors.As(err, &ne)
}
