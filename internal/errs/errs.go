// Package errs defines the engine-wide error taxonomy. Every layer converts
// failures from below into one of these kinds before passing them up; a
// leaked error of unknown kind becomes an InternalError at the boundary.
package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for propagation and retry policy.
type Kind string

const (
	// KindClient marks invalid input, validation failures, unknown IDs.
	// Never retried, surfaced verbatim.
	KindClient Kind = "client"
	// KindConstraint marks structural limits: bot cap reached, duplicate
	// IDs, illegal state-machine transitions. Never retried.
	KindConstraint Kind = "constraint"
	// KindCompliance marks a Block/StopDay gate outcome. A result, not a
	// fault; carried as an error only across transport boundaries.
	KindCompliance Kind = "compliance"
	// KindRisk marks a risk-gate rejection. Same shape as compliance.
	KindRisk Kind = "risk"
	// KindExternal marks broker or data-source failures. Retryable at the
	// caller's discretion.
	KindExternal Kind = "external"
	// KindTimeout marks an external call that exceeded its deadline. A
	// subclass of KindExternal.
	KindTimeout Kind = "timeout"
	// KindInternal marks invariant violations. Logged at high severity;
	// the offending operation aborts, the component stays live.
	KindInternal Kind = "internal"
)

// Error is a categorized engine error.
type Error struct {
	Kind      Kind
	Component string
	Op        string
	Message   string
	Err       error
	Details   map[string]any
	// Elapsed is set on timeout errors to the attempted duration.
	Elapsed time.Duration
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Kind, e.Component, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Kind, e.Component, e.Op, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindExternal || e.Kind == KindTimeout
}

// WithDetail attaches a structured detail and returns the error.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a categorized error.
func New(kind Kind, component, op, message string) *Error {
	return &Error{Kind: kind, Component: component, Op: op, Message: message}
}

// Wrap wraps err with taxonomy context. A nil err returns nil.
func Wrap(err error, kind Kind, component, op, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Component: component, Op: op, Message: message, Err: err}
}

// Timeout creates a timeout error carrying the attempted duration.
func Timeout(component, op string, elapsed time.Duration, err error) *Error {
	return &Error{
		Kind:      KindTimeout,
		Component: component,
		Op:        op,
		Message:   fmt.Sprintf("timed out after %s", elapsed),
		Err:       err,
		Elapsed:   elapsed,
	}
}

// Internalize converts an arbitrary error into the taxonomy. Errors already
// carrying a kind pass through; anything else becomes KindInternal.
func Internalize(err error, component, op string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Component: component, Op: op, Message: "unclassified failure", Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether the error chain carries the given kind. KindExternal
// matches timeouts as well.
func Is(err error, kind Kind) bool {
	k := KindOf(err)
	if k == kind {
		return true
	}
	return kind == KindExternal && k == KindTimeout
}

// IsRetryable reports whether the error chain permits a retry.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// Sentinel errors shared across components.
var (
	ErrNotFound         = errors.New("not found")
	ErrNotSupported     = errors.New("not supported")
	ErrMaxBotsReached   = errors.New("max bots reached")
	ErrDuplicateID      = errors.New("duplicate id")
	ErrUnknownBroker    = errors.New("unknown broker")
	ErrAlreadyConnected = errors.New("already connected")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyRunning   = errors.New("already running")
	ErrNotRunning       = errors.New("not running")
)
