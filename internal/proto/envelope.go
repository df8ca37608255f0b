// Package proto implements the internal request/response envelope: a
// length-delimited, protobuf-wire-format message exchanged between
// the public API and the dispatch core. The
// schema is hand-encoded field by field with protowire's low-level
// primitives rather than generated from a .proto file — the bytes on
// the wire are identical to what protoc-gen-go would produce, this
// package is just the one writing them directly.
package proto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SlotType selects primary vs replica for a slot-scoped route.
type SlotType int32

const (
	SlotTypeUnspecified SlotType = 0
	SlotTypePrimary     SlotType = 1
	SlotTypeReplica     SlotType = 2
)

// SimpleRouteKind enumerates the routes that need no key/slot data.
type SimpleRouteKind int32

const (
	SimpleRouteRandom         SimpleRouteKind = 0
	SimpleRouteAllPrimaries   SimpleRouteKind = 1
	SimpleRouteAllNodes       SimpleRouteKind = 2
	SimpleRoutePrimaryOfBatch SimpleRouteKind = 3
)

// SlotIDRoute targets a request at the node owning a specific slot.
type SlotIDRoute struct {
	SlotID   int32
	SlotType SlotType
}

// SlotKeyRoute targets a request at the node owning a key's slot.
type SlotKeyRoute struct {
	SlotKey  string
	SlotType SlotType
}

// Route is the oneof of routing strategies carried on a request.
type Route struct {
	SlotID  *SlotIDRoute
	SlotKey *SlotKeyRoute
	Simple  *SimpleRouteKind
}

// SingleCommand is one server command: a name plus its argument vector.
type SingleCommand struct {
	RequestType string
	Args        [][]byte
}

// Transaction is an ordered MULTI/…/EXEC command sequence.
type Transaction struct {
	Commands []SingleCommand
}

// ScriptInvocation evaluates a cached server-side script.
type ScriptInvocation struct {
	Hash []byte
	Keys [][]byte
	Args [][]byte
}

// RedisRequest is the outbound envelope.
type RedisRequest struct {
	CallbackIdx uint64
	Single      *SingleCommand
	Transaction *Transaction
	Script      *ScriptInvocation
	Route       *Route
}

// RequestErrorKind is the closed set of envelope error kinds.
type RequestErrorKind int32

const (
	ErrorKindUnspecified RequestErrorKind = 0
	ErrorKindExecAbort   RequestErrorKind = 1
	ErrorKindTimeout     RequestErrorKind = 2
	ErrorKindDisconnect  RequestErrorKind = 3
)

// RequestError carries a server- or client-classified failure.
type RequestError struct {
	Kind    RequestErrorKind
	Message string
}

// Response is the inbound envelope. Value carries the opaque,
// not-yet-materialized reply bytes on success — the still-RESP-encoded
// payload, left for the caller to decode so the I/O loop is never
// blocked on converting large bulk replies.
type Response struct {
	CallbackIdx  uint64
	OK           bool
	Value        []byte
	RequestError *RequestError
	ClosingError string
}

const (
	fieldReqCallbackIdx = 1
	fieldReqSingle      = 2
	fieldReqTransaction = 3
	fieldReqScript      = 4
	fieldReqRoute       = 5

	fieldCmdRequestType = 1
	fieldCmdArgs        = 2

	fieldTxnCommands = 1

	fieldScriptHash = 1
	fieldScriptKeys = 2
	fieldScriptArgs = 3

	fieldRouteSlotID  = 1
	fieldRouteSlotKey = 2
	fieldRouteSimple  = 3

	fieldSlotIDRouteSlot = 1
	fieldSlotIDRouteType = 2

	fieldSlotKeyRouteKey  = 1
	fieldSlotKeyRouteType = 2

	fieldRespCallbackIdx  = 1
	fieldRespOK           = 2
	fieldRespValue        = 3
	fieldRespRequestError = 4
	fieldRespClosingError = 5

	fieldReqErrKind    = 1
	fieldReqErrMessage = 2
)

func (c *SingleCommand) marshal() []byte {
	var b []byte
	if c.RequestType != "" {
		b = protowire.AppendTag(b, fieldCmdRequestType, protowire.BytesType)
		b = protowire.AppendString(b, c.RequestType)
	}
	for _, arg := range c.Args {
		b = protowire.AppendTag(b, fieldCmdArgs, protowire.BytesType)
		b = protowire.AppendBytes(b, arg)
	}
	return b
}

func (c *SingleCommand) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldCmdRequestType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			c.RequestType = string(v)
			b = b[n:]
		case fieldCmdArgs:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			arg := make([]byte, len(v))
			copy(arg, v)
			c.Args = append(c.Args, arg)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (t *Transaction) marshal() []byte {
	var b []byte
	for i := range t.Commands {
		sub := t.Commands[i].marshal()
		b = protowire.AppendTag(b, fieldTxnCommands, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

func (t *Transaction) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldTxnCommands:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			var cmd SingleCommand
			if err := cmd.unmarshal(v); err != nil {
				return err
			}
			t.Commands = append(t.Commands, cmd)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (s *ScriptInvocation) marshal() []byte {
	var b []byte
	if len(s.Hash) > 0 {
		b = protowire.AppendTag(b, fieldScriptHash, protowire.BytesType)
		b = protowire.AppendBytes(b, s.Hash)
	}
	for _, k := range s.Keys {
		b = protowire.AppendTag(b, fieldScriptKeys, protowire.BytesType)
		b = protowire.AppendBytes(b, k)
	}
	for _, a := range s.Args {
		b = protowire.AppendTag(b, fieldScriptArgs, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	return b
}

func (s *ScriptInvocation) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldScriptHash:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s.Hash = append([]byte(nil), v...)
			b = b[n:]
		case fieldScriptKeys:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s.Keys = append(s.Keys, append([]byte(nil), v...))
			b = b[n:]
		case fieldScriptArgs:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			s.Args = append(s.Args, append([]byte(nil), v...))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (r *SlotIDRoute) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSlotIDRouteSlot, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(r.SlotID)))
	b = protowire.AppendTag(b, fieldSlotIDRouteType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SlotType))
	return b
}

func (r *SlotIDRoute) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldSlotIDRouteSlot:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.SlotID = int32(uint32(v))
			b = b[n:]
		case fieldSlotIDRouteType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.SlotType = SlotType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (r *SlotKeyRoute) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldSlotKeyRouteKey, protowire.BytesType)
	b = protowire.AppendString(b, r.SlotKey)
	b = protowire.AppendTag(b, fieldSlotKeyRouteType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.SlotType))
	return b
}

func (r *SlotKeyRoute) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldSlotKeyRouteKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.SlotKey = string(v)
			b = b[n:]
		case fieldSlotKeyRouteType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.SlotType = SlotType(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (r *Route) marshal() []byte {
	var b []byte
	switch {
	case r.SlotID != nil:
		sub := r.SlotID.marshal()
		b = protowire.AppendTag(b, fieldRouteSlotID, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case r.SlotKey != nil:
		sub := r.SlotKey.marshal()
		b = protowire.AppendTag(b, fieldRouteSlotKey, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case r.Simple != nil:
		b = protowire.AppendTag(b, fieldRouteSimple, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*r.Simple))
	}
	return b
}

func (r *Route) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldRouteSlotID:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &SlotIDRoute{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.SlotID = sub
			b = b[n:]
		case fieldRouteSlotKey:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &SlotKeyRoute{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.SlotKey = sub
			b = b[n:]
		case fieldRouteSimple:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			kind := SimpleRouteKind(v)
			r.Simple = &kind
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Marshal encodes the request to its wire-format bytes.
func (r *RedisRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReqCallbackIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, r.CallbackIdx)
	if r.Single != nil {
		sub := r.Single.marshal()
		b = protowire.AppendTag(b, fieldReqSingle, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if r.Transaction != nil {
		sub := r.Transaction.marshal()
		b = protowire.AppendTag(b, fieldReqTransaction, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if r.Script != nil {
		sub := r.Script.marshal()
		b = protowire.AppendTag(b, fieldReqScript, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	if r.Route != nil {
		sub := r.Route.marshal()
		b = protowire.AppendTag(b, fieldReqRoute, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	}
	return b
}

// Unmarshal decodes a RedisRequest from wire-format bytes.
func (r *RedisRequest) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldReqCallbackIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.CallbackIdx = v
			b = b[n:]
		case fieldReqSingle:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &SingleCommand{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.Single = sub
			b = b[n:]
		case fieldReqTransaction:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &Transaction{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.Transaction = sub
			b = b[n:]
		case fieldReqScript:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &ScriptInvocation{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.Script = sub
			b = b[n:]
		case fieldReqRoute:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &Route{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.Route = sub
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

func (e *RequestError) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldReqErrKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Kind))
	if e.Message != "" {
		b = protowire.AppendTag(b, fieldReqErrMessage, protowire.BytesType)
		b = protowire.AppendString(b, e.Message)
	}
	return b
}

func (e *RequestError) unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldReqErrKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Kind = RequestErrorKind(v)
			b = b[n:]
		case fieldReqErrMessage:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			e.Message = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// Marshal encodes the response to its wire-format bytes.
func (r *Response) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldRespCallbackIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, r.CallbackIdx)
	switch {
	case r.RequestError != nil:
		sub := r.RequestError.marshal()
		b = protowire.AppendTag(b, fieldRespRequestError, protowire.BytesType)
		b = protowire.AppendBytes(b, sub)
	case r.ClosingError != "":
		b = protowire.AppendTag(b, fieldRespClosingError, protowire.BytesType)
		b = protowire.AppendString(b, r.ClosingError)
	case r.OK:
		b = protowire.AppendTag(b, fieldRespOK, protowire.VarintType)
		b = protowire.AppendVarint(b, 1)
	default:
		b = protowire.AppendTag(b, fieldRespValue, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Value)
	}
	return b
}

// Unmarshal decodes a Response from wire-format bytes.
func (r *Response) Unmarshal(b []byte) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case fieldRespCallbackIdx:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.CallbackIdx = v
			b = b[n:]
		case fieldRespOK:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.OK = v != 0
			b = b[n:]
		case fieldRespValue:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.Value = append([]byte(nil), v...)
			b = b[n:]
		case fieldRespRequestError:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			sub := &RequestError{}
			if err := sub.unmarshal(v); err != nil {
				return err
			}
			r.RequestError = sub
			b = b[n:]
		case fieldRespClosingError:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			r.ClosingError = string(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}

// String renders a RequestErrorKind for logging.
func (k RequestErrorKind) String() string {
	switch k {
	case ErrorKindUnspecified:
		return "unspecified"
	case ErrorKindExecAbort:
		return "exec_abort"
	case ErrorKindTimeout:
		return "timeout"
	case ErrorKindDisconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("RequestErrorKind(%d)", int32(k))
	}
}
