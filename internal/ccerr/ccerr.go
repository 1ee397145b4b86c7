// Package ccerr defines the error taxonomy shared by every supervisor
// component, matching the error-kind handling laid out for the
// coordination core: unknown targets are never fatal, invalid-state
// transitions carry a hint, and launcher/injector failures stay scoped
// to the session that caused them.
package ccerr

import (
	"errors"
	"fmt"
)

// Kind classifies a supervisor error for callers that need to branch on it
// (the RPC dispatcher maps each Kind to a JSON-RPC error code).
type Kind string

const (
	// NotFound covers unknown session/mail/job/member/tool/resource ids.
	NotFound Kind = "not_found"
	// InvalidState covers operations rejected by the current state machine
	// (interrupt while Idle, continue while Processing, cancel of a
	// terminal job, duplicate identity).
	InvalidState Kind = "invalid_state"
	// LauncherFailure covers a Launcher unable to spawn a worker terminal.
	LauncherFailure Kind = "launcher_failure"
	// InjectorFailure covers an Injector unable to deliver a prompt.
	InjectorFailure Kind = "injector_failure"
	// Protocol covers malformed JSON-RPC requests.
	Protocol Kind = "protocol"
	// FilesystemRace covers a store record disappearing or racing mid-read.
	FilesystemRace Kind = "filesystem_race"
	// Internal covers anything else.
	Internal Kind = "internal"
)

// Error is the concrete error type returned by supervisor components.
// Hint, when set, is a short human-readable explanation suitable for
// returning directly to an RPC caller (e.g. "session is Idle, nothing to
// interrupt").
type Error struct {
	Err  error
	Hint string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Kind, e.Err, e.Hint)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with the given kind, wrapped error, and optional hint.
func New(kind Kind, err error, hint string) *Error {
	return &Error{Kind: kind, Err: err, Hint: hint}
}

// NotFoundf builds a NotFound error from a format string.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: NotFound, Err: fmt.Errorf(format, args...)}
}

// InvalidStatef builds an InvalidState error with a hint.
func InvalidStatef(hint, format string, args ...any) *Error {
	return &Error{Kind: InvalidState, Err: fmt.Errorf(format, args...), Hint: hint}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to Internal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
