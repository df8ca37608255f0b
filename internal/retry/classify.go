package retry

import "github.com/nodekv/ckv/internal/proto"

// Disposition is what the dispatcher should do with a failed or
// redirected request.
type Disposition int

const (
	// DispositionSurface passes the error straight to the caller; no
	// automatic retry.
	DispositionSurface Disposition = iota
	// DispositionReconnect means the connection is unusable and
	// should be torn down and redialed; the request itself is not
	// automatically retried unless it is also redirected.
	DispositionReconnect
	// DispositionRedirectMoved means the request should be
	// re-dispatched to a new node and the slot map updated.
	DispositionRedirectMoved
	// DispositionRedirectAsk means the request should be
	// re-dispatched to a new node prefixed with ASKING, without
	// updating the slot map.
	DispositionRedirectAsk
)

// Classify inspects a request error and decides how the dispatcher
// should react. Only MOVED and ASK are eligible for automatic
// request-level retry; everything else that reaches here as a
// RequestError is surfaced unchanged, and connection-level errors
// trigger a reconnect without resubmitting the request (the caller
// decides separately whether resubmission is safe, per its
// idempotency gate).
func Classify(reqErr *proto.RequestError, movedAddr, askAddr string) Disposition {
	switch {
	case askAddr != "":
		return DispositionRedirectAsk
	case movedAddr != "":
		return DispositionRedirectMoved
	case reqErr != nil && reqErr.Kind == proto.ErrorKindDisconnect:
		return DispositionReconnect
	default:
		return DispositionSurface
	}
}
