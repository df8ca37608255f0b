package ckv

import "github.com/nodekv/ckv/internal/errs"

// ErrorKind is the closed error taxonomy. Callers branch on this,
// not on string matching against Error().
type ErrorKind = errs.Kind

const (
	// KindConnection: socket not usable; the request was not
	// guaranteed to have been observed by the server.
	KindConnection = errs.KindConnection
	// KindTimeout: the per-request deadline elapsed.
	KindTimeout = errs.KindTimeout
	// KindExecAbort: a transaction was aborted by the server.
	KindExecAbort = errs.KindExecAbort
	// KindRequest: the server returned an error (WRONGTYPE, NOAUTH,
	// ...), message passed through.
	KindRequest = errs.KindRequest
	// KindClosing: the client is closed or closing; terminal.
	KindClosing = errs.KindClosing
	// KindConfiguration: bad options at construction.
	KindConfiguration = errs.KindConfiguration
)

// Error is the concrete error type every core failure is surfaced as.
type Error = errs.Error

// MaxRedirectionsError is returned when a redirection chain exceeds
// the configured bound.
type MaxRedirectionsError = errs.MaxRedirectionsError

// Sentinel errors re-exported for callers that want == comparisons
// rather than Kind inspection.
var (
	ErrClosed   = errs.ErrClosed
	ErrNotReady = errs.ErrNotReady
)

// AsKind reports whether err (or something it wraps) is a *ckv.Error
// of the given kind.
func AsKind(err error, kind ErrorKind) (*Error, bool) {
	return errs.AsError(err, kind)
}

func newConfigError(message string) error {
	return errs.New(errs.KindConfiguration, message)
}
