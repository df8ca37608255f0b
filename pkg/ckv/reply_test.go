package ckv

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplyDecodesSimpleStringAndOK(t *testing.T) {
	r, err := newReply([]byte("+OK\r\n"))
	require.NoError(t, err)
	require.True(t, r.OK())

	s, err := r.Str()
	require.NoError(t, err)
	require.Equal(t, "OK", s)
}

func TestReplyDecodesBulkString(t *testing.T) {
	r, err := newReply([]byte("$5\r\nhello\r\n"))
	require.NoError(t, err)

	s, err := r.Str()
	require.NoError(t, err)
	require.Equal(t, "hello", s)
}

func TestReplyDecodesNilBulk(t *testing.T) {
	r, err := newReply([]byte("$-1\r\n"))
	require.NoError(t, err)
	require.True(t, r.IsNil())
}

func TestReplyDecodesInteger(t *testing.T) {
	r, err := newReply([]byte(":42\r\n"))
	require.NoError(t, err)

	n, err := r.Int()
	require.NoError(t, err)
	require.Equal(t, int64(42), n)

	b, err := r.Bool()
	require.NoError(t, err)
	require.True(t, b)
}

func TestReplyDecodesArray(t *testing.T) {
	r, err := newReply([]byte("*2\r\n$1\r\na\r\n$1\r\nb\r\n"))
	require.NoError(t, err)

	items, err := r.Array()
	require.NoError(t, err)
	require.Len(t, items, 2)

	first, err := items[0].Str()
	require.NoError(t, err)
	require.Equal(t, "a", first)
}

func TestReplyStrOnIntegerErrors(t *testing.T) {
	r, err := newReply([]byte(":1\r\n"))
	require.NoError(t, err)

	_, err = r.Str()
	require.Error(t, err)
}
