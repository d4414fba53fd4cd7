package core

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means no valid session, or a session with the wrong role.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden means the caller is not linked to the patient whose data
	// was requested.
	ErrForbidden = errors.New("access denied")
	// ErrConflict reports a duplicate account or invite code.
	ErrConflict = errors.New("conflict")
	// ErrNotFound reports a missing record the caller asked for by id.
	ErrNotFound = errors.New("not found")
	// ErrNoLinkedDoctor is returned when a patient without a linked doctor
	// tries to message one.
	ErrNoLinkedDoctor = errors.New("no linked doctor found for this patient")
)

// ValidationError reports malformed input.  Reason is safe to show to the
// caller.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// UpstreamError wraps a failure of the identity provider, the document store
// or a model call.  Op names what was attempted.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

func upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	return &UpstreamError{Op: op, Err: err}
}

// AnalysisError means the analysis model answered with something that is not
// a single JSON object of the snapshot shape.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string { return "analysis: " + e.Err.Error() }
func (e *AnalysisError) Unwrap() error { return e.Err }
