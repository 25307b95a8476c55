// Package simerr defines the error taxonomy shared by every simulation
// component. Recoverable kinds surface as failed events in the tick summary;
// ErrInvariant is fatal and terminates the run.
package simerr

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Match with errors.Is.
var (
	ErrValidation            = errors.New("validation failed")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInsufficientCapacity  = errors.New("insufficient capacity")
	ErrStaleInventory        = errors.New("stale inventory")
	ErrPermissionDenied      = errors.New("permission denied")
	ErrNotFound              = errors.New("not found")
	ErrInvariant             = errors.New("invariant violated")
)

// Error carries a kind plus a human-readable message.
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Kind }

func newf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Validation reports an action that violates its preconditions.
func Validation(format string, args ...any) error {
	return newf(ErrValidation, format, args...)
}

// InsufficientInventory reports a removal that would go negative.
func InsufficientInventory(format string, args ...any) error {
	return newf(ErrInsufficientInventory, format, args...)
}

// InsufficientCapacity reports an addition that would exceed capacity.
func InsufficientCapacity(format string, args ...any) error {
	return newf(ErrInsufficientCapacity, format, args...)
}

// StaleInventory reports committed trade items that are no longer held.
func StaleInventory(format string, args ...any) error {
	return newf(ErrStaleInventory, format, args...)
}

// PermissionDenied reports a group action by a role lacking rights.
func PermissionDenied(format string, args ...any) error {
	return newf(ErrPermissionDenied, format, args...)
}

// NotFound reports a reference to a nonexistent entity.
func NotFound(format string, args ...any) error {
	return newf(ErrNotFound, format, args...)
}

// Invariant reports loss of a state guarantee. Always fatal.
func Invariant(format string, args ...any) error {
	return newf(ErrInvariant, format, args...)
}

// Code maps an error to the reason code used in events.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, ErrInsufficientCapacity):
		return "insufficient_capacity"
	case errors.Is(err, ErrStaleInventory):
		return "stale_inventory"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvariant):
		return "invariant"
	default:
		return "internal"
	}
}

// Recoverable reports whether err may be recorded as a failed event
// instead of terminating the run.
func Recoverable(err error) bool {
	if err == nil {
		return true
	}
	return !errors.Is(err, ErrInvariant) && Code(err) != "internal"
}
