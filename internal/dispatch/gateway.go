package dispatch

import (
	"context"
	"io"
	"sync"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/frame"
	"github.com/nodekv/ckv/internal/proto"
)

// Gateway serves the internal request envelope: it reads
// length-delimited RedisRequest frames from one half of an in-process
// stream, dispatches each through the Dispatcher, and writes the
// matching Response envelope back, correlated by callback_idx. The
// two halves of this envelope are two halves of the same process —
// the frame/proto codec exists so the dispatch core can sit behind a
// process-internal boundary without the API half knowing anything
// about connections or routing.
type Gateway struct {
	d      *Dispatcher
	framer *frame.Framer

	wmu sync.Mutex // serializes response frames onto the shared stream
}

// NewGateway builds a Gateway serving envelopes over rw.
func NewGateway(d *Dispatcher, rw io.ReadWriter) *Gateway {
	return &Gateway{d: d, framer: frame.New(rw)}
}

// Serve reads and dispatches request frames until the stream ends or
// ctx is done. Each request is handled on its own goroutine so a slow
// command never stalls the envelope stream; responses are written
// back as they resolve, which is why the callback_idx correlation
// exists at all — arrival order on the return path is not submission
// order.
func (g *Gateway) Serve(ctx context.Context) error {
	for {
		payload, err := g.framer.ReadFrame()
		if err != nil {
			if err == io.EOF || ctx.Err() != nil {
				return nil
			}
			return err
		}

		var req proto.RedisRequest
		if err := req.Unmarshal(payload); err != nil {
			return err
		}

		go g.handle(ctx, &req)
	}
}

func (g *Gateway) handle(ctx context.Context, req *proto.RedisRequest) {
	out := &proto.Response{CallbackIdx: req.CallbackIdx}

	response, err := g.d.Submit(ctx, req, false)
	switch {
	case err != nil:
		out.RequestError = toEnvelopeError(err)
		if ckvErr, ok := errs.AsError(err, errs.KindClosing); ok {
			out.RequestError = nil
			out.ClosingError = ckvErr.Message
		}
	case response.RequestError != nil:
		out.RequestError = response.RequestError
	case len(response.Value) > 0:
		out.Value = response.Value
	default:
		out.OK = true
	}

	g.wmu.Lock()
	_ = g.framer.WriteFrame(out.Marshal())
	g.wmu.Unlock()
}

// toEnvelopeError maps the client error taxonomy onto the envelope's
// closed RequestErrorKind set.
func toEnvelopeError(err error) *proto.RequestError {
	switch {
	case isKind(err, errs.KindTimeout):
		return &proto.RequestError{Kind: proto.ErrorKindTimeout, Message: err.Error()}
	case isKind(err, errs.KindConnection):
		return &proto.RequestError{Kind: proto.ErrorKindDisconnect, Message: err.Error()}
	case isKind(err, errs.KindExecAbort):
		return &proto.RequestError{Kind: proto.ErrorKindExecAbort, Message: err.Error()}
	default:
		return &proto.RequestError{Kind: proto.ErrorKindUnspecified, Message: err.Error()}
	}
}

func isKind(err error, kind errs.Kind) bool {
	_, ok := errs.AsError(err, kind)
	return ok
}
