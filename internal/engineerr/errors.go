// Package engineerr provides the structured error type used across the
// indexing and search engine. Every error surfaced from a core component is
// one of a fixed set of kinds so that callers (HTTP handlers, the sync
// engine, the CLI) can react uniformly instead of string-matching messages.
package engineerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for routing and retry policy.
type Kind string

const (
	// KindInput covers unsupported extensions, missing paths, and malformed
	// requests. Never retried; surfaced as HTTP 400/404.
	KindInput Kind = "input"

	// KindAuth covers invalid connector credentials. Surfaced as HTTP 400 at
	// add-time; on restore it marks the connector instance ERROR instead.
	KindAuth Kind = "auth"

	// KindTransient covers IMAP I/O hiccups, an unreachable LLM, or reranker
	// failure. Policy is downgrade-not-fail: callers fall back to a
	// degraded-but-valid result rather than propagate.
	KindTransient Kind = "transient"

	// KindFatalStore covers a vector store that cannot be opened or written.
	// Surfaced as HTTP 500; never silently dropped.
	KindFatalStore Kind = "fatal_store"

	// KindConcurrency covers a sync request for a connector that is already
	// syncing. Reported in-band, not as an HTTP error.
	KindConcurrency Kind = "concurrency"
)

// Error is the structured error type for the engine.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches by kind so errors.Is(err, engineerr.New(KindInput, "", nil)) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Input creates a KindInput error.
func Input(message string, cause error) *Error {
	return New(KindInput, message, cause)
}

// Auth creates a KindAuth error.
func Auth(message string, cause error) *Error {
	return New(KindAuth, message, cause)
}

// Transient creates a KindTransient error.
func Transient(message string, cause error) *Error {
	return New(KindTransient, message, cause)
}

// FatalStore creates a KindFatalStore error.
func FatalStore(message string, cause error) *Error {
	return New(KindFatalStore, message, cause)
}

// Concurrency creates a KindConcurrency error.
func Concurrency(message string, cause error) *Error {
	return New(KindConcurrency, message, cause)
}

// KindOf extracts the Kind from err, the zero Kind if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
