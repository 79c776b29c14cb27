// Package fault defines the error kinds shared across the service so that
// the API layer can translate failures into user-facing status codes.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary translation.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota
	// KindNotFound reports a missing camera, space, spot or session.
	KindNotFound
	// KindInvalidGeometry reports a rect that violates the geometry rules.
	KindInvalidGeometry
	// KindInvalidArgument reports a request parameter outside its allowed
	// range or set.
	KindInvalidArgument
	// KindCameraUnavailable reports a camera with no live frames.
	KindCameraUnavailable
	// KindAlreadyActive reports a second start on an exclusive resource.
	KindAlreadyActive
	// KindConflict reports a lock timeout or a state that forbids the
	// operation; the caller may retry.
	KindConflict
	// KindCancelled reports an operation that was cancelled by request.
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidGeometry:
		return "invalid_geometry"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindCameraUnavailable:
		return "camera_unavailable"
	case KindAlreadyActive:
		return "already_active"
	case KindConflict:
		return "conflict"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error carries a Kind alongside the message so callers can branch on the
// classification without parsing strings.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error with a formatted message.
func Errorf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
