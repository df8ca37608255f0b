package ckv

import (
	"bufio"
	"bytes"
	"fmt"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/resp"
)

// Reply wraps a command's decoded result. The dispatch core hands
// back the still-RESP-encoded bytes, deferred so the I/O loop is
// never blocked on decoding large bulk replies; Reply is where that
// deferred decode finally happens, on the calling goroutine.
type Reply struct {
	v resp.Value
}

func newReply(raw []byte) (Reply, error) {
	v, _, err := resp.ReadValue(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return Reply{}, errs.Wrap(errs.KindConnection, "malformed reply", err)
	}
	return Reply{v: v}, nil
}

// IsNil reports whether the server replied with a null bulk/array
// (RESP2 `$-1`/`*-1`) or the RESP3 `_` null type.
func (r Reply) IsNil() bool { return r.v.Null }

// Str returns a simple string or bulk string reply.
func (r Reply) Str() (string, error) {
	if r.v.Null {
		return "", nil
	}
	switch r.v.Kind {
	case resp.KindSimpleString, resp.KindBulk, resp.KindVerbatim, resp.KindDouble, resp.KindBigNumber:
		return r.v.Str, nil
	default:
		return "", fmt.Errorf("ckv: reply is not a string (kind %q)", r.v.Kind)
	}
}

// Int returns an integer or boolean reply.
func (r Reply) Int() (int64, error) {
	switch r.v.Kind {
	case resp.KindInteger, resp.KindBoolean:
		return r.v.Int, nil
	default:
		return 0, fmt.Errorf("ckv: reply is not an integer (kind %q)", r.v.Kind)
	}
}

// Bool interprets an integer reply as a boolean (0/1), the common
// shape for commands like EXPIRE/SISMEMBER.
func (r Reply) Bool() (bool, error) {
	n, err := r.Int()
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// OK reports whether the reply is the simple string "OK".
func (r Reply) OK() bool {
	return r.v.Kind == resp.KindSimpleString && r.v.Str == "OK"
}

// Array returns an array/set/push reply as a slice of Reply.
func (r Reply) Array() ([]Reply, error) {
	switch r.v.Kind {
	case resp.KindArray, resp.KindSet, resp.KindPush, resp.KindMap:
		out := make([]Reply, len(r.v.Array))
		for i, item := range r.v.Array {
			out[i] = Reply{v: item}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ckv: reply is not an array (kind %q)", r.v.Kind)
	}
}
