// Package apperr defines the error kinds shared by every calshare component.
//
// Callers match kinds with errors.Is against the sentinel values; the
// wrapped cause stays reachable through the same chain.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed caller input. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrPermissionDenied marks a refused local calendar access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTransport marks an unreachable remote store or messaging gateway.
	ErrTransport = errors.New("transport failure")
	// ErrNotFound marks an absent event, invitation or grant.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a failed lastModified compare-and-swap.
	ErrConflict = errors.New("modified concurrently")
)

// Error carries a kind, the operation that failed and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Validation reports malformed input with a human-readable reason.
func Validation(op, format string, args ...any) error {
	return &Error{Kind: ErrValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NotFound reports a missing entity.
func NotFound(op, what, id string) error {
	return &Error{Kind: ErrNotFound, Op: op, Msg: fmt.Sprintf("%s %q not found", what, id)}
}

// PermissionDenied wraps a refused local provider call.
func PermissionDenied(op string, err error) error {
	return &Error{Kind: ErrPermissionDenied, Op: op, Err: err}
}

// Transport wraps an unreachable collaborator.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: ErrTransport, Op: op, Err: err}
}

// Conflict reports a concurrent modification of id.
func Conflict(op, id string) error {
	return &Error{Kind: ErrConflict, Op: op, Msg: fmt.Sprintf("%q was modified concurrently", id)}
}

// KindOf returns the sentinel kind carried by err, or nil.
func KindOf(err error) error {
	for _, k := range []error{ErrValidation, ErrPermissionDenied, ErrTransport, ErrNotFound, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
