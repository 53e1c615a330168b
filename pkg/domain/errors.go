package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind is the stable identifier attached to every engine error. The REST
// facade maps kinds to transport codes; kinds never change between releases.
type ErrorKind string

// Stable error kinds surfaced across the facade boundary.
const (
	KindAuthorizationDenied    ErrorKind = "AuthorizationDenied"
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindTransitionNotAvailable ErrorKind = "TransitionNotAvailable"
	KindConcurrentModification ErrorKind = "ConcurrentModification"
	KindAmendmentConflict      ErrorKind = "AmendmentConflict"
	KindMatrixInconsistent     ErrorKind = "MatrixInconsistent"
	KindInternal               ErrorKind = "Internal"
)

// AuthorizationError is returned when the permission matrix or a transition's
// role requirement denies an action. The message is intentionally opaque: the
// offending rule is logged, never surfaced.
type AuthorizationError struct {
	Action string
	Field  string
}

func (e AuthorizationError) Error() string { return "permission denied" }

// Kind implements the stable identifier contract.
func (AuthorizationError) Kind() ErrorKind { return KindAuthorizationDenied }

// FieldErrors accumulates messages keyed by field name.
type FieldErrors map[string][]string

// Add appends a message under the field key.
func (f FieldErrors) Add(field, message string) {
	f[field] = append(f[field], message)
}

// Merge folds another error map into this one.
func (f FieldErrors) Merge(other FieldErrors) {
	for field, messages := range other {
		f[field] = append(f[field], messages...)
	}
}

// ValidationError carries all validation failures for one save attempt.
type ValidationError struct {
	Fields FieldErrors
}

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e.Fields))
	for field := range e.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fmt.Sprintf("validation failed: %s", strings.Join(fields, ", "))
}

// Kind implements the stable identifier contract.
func (ValidationError) Kind() ErrorKind { return KindValidationFailed }

// TransitionError is returned when a requested transition is not declared for
// the current status or its guards fail.
type TransitionError struct {
	Transition string
	Status     string
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("transition %q not available from status %q", e.Transition, e.Status)
}

// Kind implements the stable identifier contract.
func (TransitionError) Kind() ErrorKind { return KindTransitionNotAvailable }

// ConflictError reports concurrent modification detected at commit time.
// Callers may retry the full operation.
type ConflictError struct {
	Object   ObjectType
	ObjectID string
	Fields   []string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s was modified concurrently", e.Object, e.ObjectID)
}

// Kind implements the stable identifier contract.
func (ConflictError) Kind() ErrorKind { return KindConcurrentModification }

// AmendmentConflictError reports an already-active amendment of the same kind.
type AmendmentConflictError struct {
	OriginalID string
	Kind       AmendmentKind
}

func (e AmendmentConflictError) Error() string {
	return fmt.Sprintf("active %s amendment already open on %s", e.Kind, e.OriginalID)
}

// ErrorKind implements the stable identifier contract. The method name avoids
// colliding with the Kind field.
func (AmendmentConflictError) ErrorKind() ErrorKind { return KindAmendmentConflict }

// MatrixError reports contradictory permission rules detected at compile time.
// The process refuses to start while the matrix is inconsistent.
type MatrixError struct {
	Object ObjectType
	Field  string
	Action string
	Reason string
}

func (e MatrixError) Error() string {
	return fmt.Sprintf("inconsistent matrix for %s.%s (%s): %s", e.Object, e.Field, e.Action, e.Reason)
}

// Kind implements the stable identifier contract.
func (MatrixError) Kind() ErrorKind { return KindMatrixInconsistent }

// InternalError wraps unexpected failures. It never carries snapshots or user
// payloads in its message.
type InternalError struct {
	Err error
}

func (e InternalError) Error() string { return "internal error" }

// Unwrap exposes the cause for logging at the facade boundary.
func (e InternalError) Unwrap() error { return e.Err }

// Kind implements the stable identifier contract.
func (InternalError) Kind() ErrorKind { return KindInternal }

// KindOf classifies an error chain into a stable kind. Unrecognized errors
// classify as Internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var (
		authz      AuthorizationError
		validation ValidationError
		transition TransitionError
		conflict   ConflictError
		amendment  AmendmentConflictError
		matrix     MatrixError
	)
	switch {
	case errors.As(err, &authz):
		return KindAuthorizationDenied
	case errors.As(err, &validation):
		return KindValidationFailed
	case errors.As(err, &transition):
		return KindTransitionNotAvailable
	case errors.As(err, &conflict):
		return KindConcurrentModification
	case errors.As(err, &amendment):
		return KindAmendmentConflict
	case errors.As(err, &matrix):
		return KindMatrixInconsistent
	default:
		return KindInternal
	}
}
