// Package gwerr defines the gateway's error taxonomy. Every component wraps
// failures in one of these sentinels so callers can branch with errors.Is
// instead of string matching, matching the plain errors.New/%w style used
// throughout the rest of this codebase.
package gwerr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks schema violations, disallowed characters in
	// ids, or missing required routing fields.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound marks an ack for an unknown message or eviction of an
	// unknown node.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists marks an attempt to create a second live session for
	// a node that already has one.
	ErrAlreadyExists = errors.New("already exists")

	// ErrUnavailable marks a transport write failure or an accept rejected
	// due to overload.
	ErrUnavailable = errors.New("unavailable")

	// ErrTimeout marks a session, suspend, or ack timeout.
	ErrTimeout = errors.New("timeout")

	// ErrInternal marks an invariant violation. Callers should abort the
	// connection or process rather than swallow it.
	ErrInternal = errors.New("internal error")
)

// Wrap attaches a message to one of the sentinels above while keeping it
// unwrappable via errors.Is(err, sentinel).
func Wrap(sentinel error, format string, args ...any) error {
	return &wrapped{sentinel: sentinel, msg: fmt.Sprintf(format, args...)}
}

type wrapped struct {
	sentinel error
	msg      string
}

func (w *wrapped) Error() string { return w.msg }
func (w *wrapped) Unwrap() error { return w.sentinel }
