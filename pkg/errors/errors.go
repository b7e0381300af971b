// Package errors defines the typed error taxonomy every NervusDB operation
// fails with. Callers distinguish error kinds with Is/As or the Is*
// predicates below rather than string-matching messages.
package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes why an operation failed.
type Kind string

const (
	// KindInvalidArgument is returned when dictionary.Resolve is given an
	// unknown string, a path is malformed, or an option fails validation.
	// (Query criteria naming an unknown string match nothing instead.)
	KindInvalidArgument Kind = "INVALID_ARGUMENT"
	// KindNotFound is not actually surfaced as an error by lookups (those
	// return ok=false); it exists for operations that must distinguish
	// "missing" from "invalid" at the API boundary (e.g. DumpPage's primary
	// value, ShortestPath's source and target).
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict is returned when the exclusive write lock is already held.
	KindConflict Kind = "CONFLICT"
	// KindCorruption is returned on CRC mismatch, manifest parse failure, or
	// WAL framing broken past the safe truncation point.
	KindCorruption Kind = "CORRUPTION"
	// KindCallbackError wraps a panic/error raised from a user-supplied
	// predicate during iteration; iteration treats it as false and continues.
	KindCallbackError Kind = "CALLBACK_ERROR"
	// KindInternal is an unexpected invariant violation.
	KindInternal Kind = "INTERNAL"
)

// Error is the concrete error type returned by every exported NervusDB
// operation that can fail.
type Error struct {
	Kind      Kind
	Message   string
	Invariant string // I1..I7, set only for KindInternal/KindCorruption
	Err       error
}

func (e *Error) Error() string {
	if e.Invariant != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s[%s]: %s: %v", e.Kind, e.Invariant, e.Message, e.Err)
		}
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.Invariant, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, errors.KindCorruption-sentinel-like-usage) work by
// matching on Kind when the target is also a *Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func newErr(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// InvalidArgument builds a KindInvalidArgument error.
func InvalidArgument(message string) error { return newErr(KindInvalidArgument, message, nil) }

// InvalidArgumentf builds a KindInvalidArgument error with formatting.
func InvalidArgumentf(format string, args ...interface{}) error {
	return newErr(KindInvalidArgument, fmt.Sprintf(format, args...), nil)
}

// NotFound builds a KindNotFound error.
func NotFound(message string) error { return newErr(KindNotFound, message, nil) }

// Conflict builds a KindConflict error.
func Conflict(message string) error { return newErr(KindConflict, message, nil) }

// Corruption builds a KindCorruption error without an invariant tag (see
// CorruptionInvariant for the tagged form).
func Corruption(message string, cause error) error {
	return &Error{Kind: KindCorruption, Message: message, Err: cause}
}

// CorruptionInvariant builds a KindCorruption error tagged with an
// invariant id (I1..I7).
func CorruptionInvariant(invariant, message string, cause error) error {
	return &Error{Kind: KindCorruption, Message: message, Invariant: invariant, Err: cause}
}

// CallbackError wraps a user-predicate failure.
func CallbackError(cause error) error {
	return newErr(KindCallbackError, "user callback failed", cause)
}

// Internal builds a KindInternal error, optionally tagged with an invariant.
func Internal(invariant, message string, cause error) error {
	return &Error{Kind: KindInternal, Message: message, Invariant: invariant, Err: cause}
}

// Wrap preserves the Kind of err (if it already carries one) while adding
// context, or wraps as KindInternal otherwise.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Message: fmt.Sprintf("%s: %s", message, e.Message), Invariant: e.Invariant, Err: e.Err}
	}
	return newErr(KindInternal, message, err)
}

func kindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsInvalidArgument reports whether err is a KindInvalidArgument error.
func IsInvalidArgument(err error) bool { k, ok := kindOf(err); return ok && k == KindInvalidArgument }

// IsNotFound reports whether err is a KindNotFound error.
func IsNotFound(err error) bool { k, ok := kindOf(err); return ok && k == KindNotFound }

// IsConflict reports whether err is a KindConflict error.
func IsConflict(err error) bool { k, ok := kindOf(err); return ok && k == KindConflict }

// IsCorruption reports whether err is a KindCorruption error.
func IsCorruption(err error) bool { k, ok := kindOf(err); return ok && k == KindCorruption }

// IsCallbackError reports whether err is a KindCallbackError error.
func IsCallbackError(err error) bool { k, ok := kindOf(err); return ok && k == KindCallbackError }

// IsInternal reports whether err is a KindInternal error.
func IsInternal(err error) bool { k, ok := kindOf(err); return ok && k == KindInternal }
