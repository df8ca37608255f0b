package ckv

import "strconv"

// Command is a typed command value the dispatch core treats opaquely:
// a request name plus its argument vector. The builders below cover
// the everyday commands; NewCommand covers everything else.
type Command struct {
	requestType string
	args        [][]byte
	idempotent  bool
}

// build returns the core's two opaque values, requestType and args,
// used only by Client (Do and Multi) to render the wire argument vector.
func (c Command) build() (string, [][]byte) { return c.requestType, c.args }

// NewCommand builds an arbitrary command by name, for callers
// exercising a command with no dedicated builder below. It is
// idempotent only for the read-only built-ins defaultIdempotent lists
// (GET, EXISTS, HGET, PING); call Idempotent() to opt any other
// command in to pre-flush connection-drop resubmission.
func NewCommand(requestType string, args ...[]byte) Command {
	return Command{requestType: requestType, args: args, idempotent: defaultIdempotent(requestType)}
}

// Idempotent marks cmd as safe to silently resubmit on a fresh
// connection after its original connection drops before the write was
// acknowledged. The builders below already set this correctly for
// read-only commands; use this to override a NewCommand-built
// command.
func (c Command) Idempotent() Command { c.idempotent = true; return c }

// defaultIdempotent classifies the built-in commands: read-only
// commands are safe to resubmit, anything that mutates state is not,
// preserving at-most-once delivery.
func defaultIdempotent(requestType string) bool {
	switch requestType {
	case "GET", "EXISTS", "HGET", "PING":
		return true
	default:
		return false
	}
}

func strArgs(ss ...string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// Get builds GET key.
func Get(key string) Command {
	return Command{requestType: "GET", args: strArgs(key), idempotent: true}
}

// Set builds SET key value.
func Set(key, value string) Command {
	return Command{requestType: "SET", args: strArgs(key, value)}
}

// Del builds DEL key [key ...].
func Del(keys ...string) Command { return Command{requestType: "DEL", args: strArgs(keys...)} }

// Incr builds INCR key.
func Incr(key string) Command { return Command{requestType: "INCR", args: strArgs(key)} }

// Exists builds EXISTS key [key ...].
func Exists(keys ...string) Command {
	return Command{requestType: "EXISTS", args: strArgs(keys...), idempotent: true}
}

// Expire builds EXPIRE key seconds.
func Expire(key string, seconds int64) Command {
	return Command{requestType: "EXPIRE", args: strArgs(key, strconv.FormatInt(seconds, 10))}
}

// Ping builds PING, a connectivity smoke test.
func Ping() Command { return Command{requestType: "PING", idempotent: true} }

// HSet builds HSET key field value.
func HSet(key, field, value string) Command {
	return Command{requestType: "HSET", args: strArgs(key, field, value)}
}

// HGet builds HGET key field.
func HGet(key, field string) Command {
	return Command{requestType: "HGET", args: strArgs(key, field), idempotent: true}
}

// keyOf reports the first key argument a command carries, used to
// route by key automatically and to pin a transaction's routing to
// its first keyed command.
func (c Command) keyOf() (string, bool) {
	switch c.requestType {
	case "GET", "SET", "INCR", "EXPIRE", "HSET", "HGET":
		if len(c.args) > 0 {
			return string(c.args[0]), true
		}
	case "DEL", "EXISTS":
		if len(c.args) > 0 {
			return string(c.args[0]), true
		}
	}
	return "", false
}
