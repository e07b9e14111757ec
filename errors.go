package buildorch

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Kind is a closed enumeration of the error categories the core ever
// surfaces across the RPC boundary (spec.md §7). Internal callers should
// prefer wrapping with xerrors.Errorf("...: %w", err) and only attach a Kind
// at the point where an error becomes user-visible.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindCircularDependency
	KindUnsupportedTarget
	KindUnauthorized
	KindBadRequest
	KindUpstreamUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	case KindCircularDependency:
		return "CircularDependency"
	case KindUnsupportedTarget:
		return "UnsupportedTarget"
	case KindUnauthorized:
		return "Unauthorized"
	case KindBadRequest:
		return "BadRequest"
	case KindUpstreamUnavailable:
		return "UpstreamUnavailable"
	default:
		return "Internal"
	}
}

// Error is the structured failure returned by every exported core
// operation. It wraps an underlying cause (often produced by xerrors.Errorf)
// so that error chains remain inspectable with errors.Is/errors.As while
// still carrying the closed Kind the RPC surface needs to pick an HTTP
// status and a Job.error{code,message} pair.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errorf builds an *Error of the given kind, wrapping cause (which may be
// nil) with the xerrors chain so %w-style call sites keep working.
func Errorf(kind Kind, cause error, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	var wrapped error
	if cause != nil {
		wrapped = xerrors.Errorf("%s: %w", msg, cause)
	}
	return &Error{Kind: kind, Message: msg, Cause: wrapped}
}

// KindOf recovers the Kind from err, defaulting to KindInternal for errors
// that were never classified.
func KindOf(err error) Kind {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// KindFromString is String's inverse, used when a Job's stored error_code
// column is read back out of the store.
func KindFromString(s string) Kind {
	switch s {
	case "NotFound":
		return KindNotFound
	case "Conflict":
		return KindConflict
	case "CircularDependency":
		return KindCircularDependency
	case "UnsupportedTarget":
		return KindUnsupportedTarget
	case "Unauthorized":
		return KindUnauthorized
	case "BadRequest":
		return KindBadRequest
	case "UpstreamUnavailable":
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}
