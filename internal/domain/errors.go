// Package domain holds the types and error taxonomy shared by every
// layer of the dispatch daemon.
package domain

import (
	"errors"
	"fmt"
)

// Kind is the error taxonomy from spec.md §7. Handlers switch on Kind,
// never on error string matching.
type Kind string

const (
	KindInvalidInput       Kind = "InvalidInput"
	KindUnknownTool        Kind = "UnknownTool"
	KindToolDisabled       Kind = "ToolDisabled"
	KindAuthFailed         Kind = "AuthFailed"
	KindBusy               Kind = "Busy"
	KindTimeout            Kind = "Timeout"
	KindProviderError      Kind = "ProviderError"
	KindCapabilityUnavailable Kind = "CapabilityUnavailable"
	KindBusUnavailable     Kind = "BusUnavailable"
	KindPayloadTooLarge    Kind = "PayloadTooLarge"
	KindPayloadBusDown     Kind = "PayloadTooLargeBusDown"
	KindWorkflowOrderError Kind = "WorkflowOrderError"
	KindUnknownContinuation Kind = "UnknownContinuation"
	KindCancelled          Kind = "Cancelled"
	KindInternal           Kind = "Internal"
)

// Error is the structured error surfaced to clients in a response
// envelope (§7: "{status: error, kind, message, request_id,
// correlation_id}"). It never embeds secrets or stack traces.
type Error struct {
	Kind          Kind
	Message       string
	CorrelationID string
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New constructs a domain Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs a domain Error of the given kind that wraps cause.
// cause is available via errors.Unwrap for logging but is never rendered
// into the client-facing Message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithCorrelationID attaches a correlation id for server-side log
// correlation, returning the same error for chaining.
func (e *Error) WithCorrelationID(id string) *Error {
	e.CorrelationID = id
	return e
}

// Is allows errors.Is(err, domain.New(KindX, "")) to match purely on Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf extracts the Kind from err, defaulting to KindInternal for any
// error that isn't a *Error — an invariant violation worth logging loudly.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-safe message for err: a *Error's own
// Message field, never its wrapped cause (§7: "Secrets and stack traces
// are never embedded"). Any other error type is reduced to a generic
// message rather than rendering err.Error(), which could otherwise leak
// an unwrapped driver/library error straight to the client.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Sentinel errors used with errors.Is for simple plumbing checks where a
// full Kind isn't necessary (e.g. a repository signalling "no such row").
var (
	ErrNotFound  = errors.New("not found")
	ErrExpired   = errors.New("expired")
	ErrClosed    = errors.New("closed")
)
