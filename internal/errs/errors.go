// Package errs defines the client's error taxonomy, shared by every
// internal package so they never need to import the public
// pkg/ckv package (which in turn wraps all of them) just to report a
// failure. pkg/ckv re-exports these types under its own names.
package errs

import "fmt"

// Kind is one of the closed set of error kinds callers branch on.
type Kind int

const (
	// KindConnection: socket not usable; the request was not
	// guaranteed to have been observed by the server.
	KindConnection Kind = iota
	// KindTimeout: the per-request deadline elapsed.
	KindTimeout
	// KindExecAbort: a transaction was aborted by the server
	// (CROSSSLOT, etc — a WATCH conflict is a nil result, not this).
	KindExecAbort
	// KindRequest: the server returned an error (WRONGTYPE, NOAUTH,
	// ...); the message is passed through unchanged.
	KindRequest
	// KindClosing: the client is closed or closing; terminal.
	KindClosing
	// KindConfiguration: bad options at construction.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "Connection"
	case KindTimeout:
		return "Timeout"
	case KindExecAbort:
		return "ExecAbort"
	case KindRequest:
		return "Request"
	case KindClosing:
		return "Closing"
	case KindConfiguration:
		return "Configuration"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the concrete error type carried across the whole client:
// every failure surfaced to a caller is one of these, tagged with its
// Kind. Propagation decisions key off of Kind, not string matching.
type Error struct {
	Kind    Kind
	Message string
	// Cause is the underlying error, if any (a net.Error, a decode
	// error, ...), kept for %w-style unwrapping.
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ckv: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("ckv: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinel errors for the stateless, data-free cases; failures that
// carry data get their own types instead.
var (
	ErrClosed          = New(KindClosing, "client is closed")
	ErrConnDead        = New(KindConnection, "connection is dead")
	ErrUnknownCallback = New(KindConnection, "unknown callback_idx in response, connection protocol violated")
	ErrNotReady        = New(KindConnection, "connection is not ready")
)

// MaxRedirectionsError is returned when a redirection chain exceeds
// the configured bound.
type MaxRedirectionsError struct {
	Count int
}

func (e *MaxRedirectionsError) Error() string {
	return fmt.Sprintf("ckv: MaxRedirections: redirected %d times without resolving", e.Count)
}

// AsError reports whether err (or something it wraps) is an *Error of
// the given kind.
func AsError(err error, kind Kind) (*Error, bool) {
	var e *Error
	for err != nil {
		if ce, ok := err.(*Error); ok {
			e = ce
			break
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	if e == nil || e.Kind != kind {
		return nil, false
	}
	return e, true
}
