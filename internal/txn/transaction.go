// Package txn implements atomic queued-command execution: MULTI, an
// ordered command sequence, and EXEC pipelined as a single write to
// one node, with routing pinned to that node before the first command
// goes out.
package txn

import (
	"bufio"
	"bytes"
	"context"

	"github.com/nodekv/ckv/internal/conn"
	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/pending"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/resp"
)

// Command is one command in a transaction's sequence.
type Command struct {
	RequestType string
	Args        [][]byte
}

// Result is the outcome of a transaction: the array EXEC returned, or
// Nil=true if a watched key changed and EXEC itself returned nil.
type Result struct {
	Values []resp.Value
	Nil    bool
}

// Exec pipelines MULTI, every command in cmds, then EXEC as a single
// write to c. There are no intra-transaction retries: any server
// error on any step, including CROSSSLOT on EXEC, surfaces to the
// caller with its message unchanged (an error reply to EXEC itself as
// KindExecAbort) — cross-slot enforcement is the server's job.
func Exec(ctx context.Context, c *conn.Connection, cmds []Command) (*Result, error) {
	waiters := make([]*pending.Waiter, 0, len(cmds)+2)

	w, err := submitOne(ctx, c, "MULTI", nil)
	if err != nil {
		return nil, err
	}
	waiters = append(waiters, w)

	for _, cmd := range cmds {
		w, err := submitOne(ctx, c, cmd.RequestType, cmd.Args)
		if err != nil {
			return nil, err
		}
		waiters = append(waiters, w)
	}

	w, err = submitOne(ctx, c, "EXEC", nil)
	if err != nil {
		return nil, err
	}
	waiters = append(waiters, w)

	return collect(ctx, waiters)
}

// submitOne renders a single command's request type and argument
// vector and hands it to the connection's write batcher. Because a
// connection's write path is a single serialized drain, back-to-back
// submitOne calls on the same connection are guaranteed
// to be written to the socket in the order issued here — which is
// what makes MULTI/.../EXEC arrive at the server as one atomic block
// instead of needing its own framing.
func submitOne(ctx context.Context, c *conn.Connection, requestType string, cmdArgs [][]byte) (*pending.Waiter, error) {
	args := make([][]byte, 0, len(cmdArgs)+1)
	args = append(args, []byte(requestType))
	args = append(args, cmdArgs...)
	_, w, err := c.Submit(ctx, args)
	return w, err
}

// collect waits for every waiter in submission order, surfacing the
// first non-EXEC error immediately and decoding the final (EXEC)
// reply into a Result.
func collect(ctx context.Context, waiters []*pending.Waiter) (*Result, error) {
	var execResult pending.Result
	last := len(waiters) - 1

	for i, w := range waiters {
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindTimeout, "transaction deadline exceeded")
		case r := <-w.Recv():
			if r.Err != nil {
				return nil, r.Err
			}
			if i < last {
				if r.Response.RequestError != nil {
					return nil, requestErr(r.Response.RequestError)
				}
				continue
			}
			execResult = r
		}
	}

	if execResult.Response.RequestError != nil {
		return nil, errs.New(errs.KindExecAbort, execResult.Response.RequestError.Message)
	}

	v, _, err := resp.ReadValue(bufio.NewReader(bytes.NewReader(execResult.Response.Value)))
	if err != nil {
		return nil, errs.Wrap(errs.KindConnection, "malformed EXEC reply", err)
	}
	if v.Null {
		return &Result{Nil: true}, nil
	}
	return &Result{Values: v.Array}, nil
}

func requestErr(re *proto.RequestError) error {
	if re.Kind == proto.ErrorKindExecAbort {
		return errs.New(errs.KindExecAbort, re.Message)
	}
	return errs.New(errs.KindRequest, re.Message)
}
