// Package resp is the thin RESP2/RESP3 wire boundary. It decodes
// just enough to capture a reply's raw bytes plus whatever structure
// the rest of the client needs: server errors (for MOVED/ASK and the
// error taxonomy) and the CLUSTER SLOTS/SHARDS topology rows. Full
// reply materialization is deferred to the consumer of the raw
// bytes.
package resp

import (
	"bufio"
	"errors"
	"fmt"
	"strconv"
)

// Kind is a RESP2/RESP3 type-prefix byte.
type Kind byte

const (
	KindSimpleString Kind = '+'
	KindError        Kind = '-'
	KindInteger      Kind = ':'
	KindBulk         Kind = '$'
	KindArray        Kind = '*'
	KindNull         Kind = '_'
	KindBoolean      Kind = '#'
	KindDouble       Kind = ','
	KindBigNumber    Kind = '('
	KindBulkError    Kind = '!'
	KindVerbatim     Kind = '='
	KindMap          Kind = '%'
	KindSet          Kind = '~'
	KindPush         Kind = '>'
)

// ErrProtocol signals a RESP stream that doesn't parse.
var ErrProtocol = errors.New("resp: protocol error")

// Value is a decoded RESP reply. Only the fields relevant to Kind are
// meaningful: Str for simple strings/errors/bulk payloads/doubles/big
// numbers, Int for integers and booleans (0/1), Array for
// arrays/sets/pushes/maps (maps are flattened key, value, key, value…).
type Value struct {
	Kind  Kind
	Str   string
	Int   int64
	Null  bool
	Array []Value
}

// IsError reports whether v is a RESP error reply.
func (v Value) IsError() bool { return v.Kind == KindError || v.Kind == KindBulkError }

// ReadValue decodes one complete RESP value from r and also returns
// the exact bytes consumed, which the connection's read loop carries
// forward as the opaque, still-encoded response payload.
func ReadValue(r *bufio.Reader) (Value, []byte, error) {
	var raw []byte
	v, err := readValue(r, &raw)
	if err != nil {
		return Value{}, nil, err
	}
	return v, raw, nil
}

func readLine(r *bufio.Reader, raw *[]byte) ([]byte, error) {
	line, err := r.ReadSlice('\n')
	if err != nil {
		if err == bufio.ErrBufferFull {
			return nil, fmt.Errorf("%w: line exceeds buffer", ErrProtocol)
		}
		return nil, err
	}
	*raw = append(*raw, line...)
	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, fmt.Errorf("%w: missing CRLF", ErrProtocol)
	}
	return line[:len(line)-2], nil
}

func readN(r *bufio.Reader, n int, raw *[]byte) ([]byte, error) {
	buf := make([]byte, n)
	done := 0
	for done < n {
		nread, err := r.Read(buf[done:])
		done += nread
		if err != nil && done < n {
			return nil, err
		}
	}
	*raw = append(*raw, buf...)
	return buf, nil
}

func readCRLF(r *bufio.Reader, raw *[]byte) error {
	var pair [2]byte
	for i := 0; i < 2; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		pair[i] = b
	}
	if pair[0] != '\r' || pair[1] != '\n' {
		return fmt.Errorf("%w: missing CRLF terminator", ErrProtocol)
	}
	*raw = append(*raw, pair[:]...)
	return nil
}

func readValue(r *bufio.Reader, raw *[]byte) (Value, error) {
	line, err := readLine(r, raw)
	if err != nil {
		return Value{}, err
	}
	if len(line) < 1 {
		return Value{}, fmt.Errorf("%w: empty line", ErrProtocol)
	}
	kind := Kind(line[0])
	payload := line[1:]

	switch kind {
	case KindSimpleString, KindError:
		return Value{Kind: kind, Str: string(payload)}, nil

	case KindInteger:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad integer %q", ErrProtocol, payload)
		}
		return Value{Kind: kind, Int: n}, nil

	case KindBoolean:
		return Value{Kind: kind, Int: boolToInt(payload)}, nil

	case KindNull:
		return Value{Kind: kind, Null: true}, nil

	case KindDouble, KindBigNumber:
		return Value{Kind: kind, Str: string(payload)}, nil

	case KindBulk, KindVerbatim, KindBulkError:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad bulk length %q", ErrProtocol, payload)
		}
		if n < 0 {
			return Value{Kind: kind, Null: true}, nil
		}
		data, err := readN(r, int(n), raw)
		if err != nil {
			return Value{}, err
		}
		if err := readCRLF(r, raw); err != nil {
			return Value{}, err
		}
		return Value{Kind: kind, Str: string(data)}, nil

	case KindArray, KindSet, KindPush:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad array length %q", ErrProtocol, payload)
		}
		if n < 0 {
			return Value{Kind: kind, Null: true}, nil
		}
		items := make([]Value, 0, n)
		for i := int64(0); i < n; i++ {
			item, err := readValue(r, raw)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Kind: kind, Array: items}, nil

	case KindMap:
		n, err := strconv.ParseInt(string(payload), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: bad map length %q", ErrProtocol, payload)
		}
		items := make([]Value, 0, n*2)
		for i := int64(0); i < n*2; i++ {
			item, err := readValue(r, raw)
			if err != nil {
				return Value{}, err
			}
			items = append(items, item)
		}
		return Value{Kind: kind, Array: items}, nil

	default:
		return Value{}, fmt.Errorf("%w: unknown type byte %q", ErrProtocol, kind)
	}
}

func boolToInt(payload []byte) int64 {
	if len(payload) > 0 && payload[0] == 't' {
		return 1
	}
	return 0
}

// EncodeCommand renders args as a RESP2 bulk-string array, the wire
// form every standard/cluster command uses regardless of negotiated
// protocol version.
func EncodeCommand(args [][]byte) []byte {
	b := make([]byte, 0, 32)
	b = append(b, '*')
	b = strconv.AppendInt(b, int64(len(args)), 10)
	b = append(b, '\r', '\n')
	for _, a := range args {
		b = append(b, '$')
		b = strconv.AppendInt(b, int64(len(a)), 10)
		b = append(b, '\r', '\n')
		b = append(b, a...)
		b = append(b, '\r', '\n')
	}
	return b
}

// EncodeStrings is a convenience wrapper for commands built from
// plain strings (HELLO, AUTH, SELECT, ...).
func EncodeStrings(args ...string) []byte {
	bargs := make([][]byte, len(args))
	for i, a := range args {
		bargs[i] = []byte(a)
	}
	return EncodeCommand(bargs)
}
