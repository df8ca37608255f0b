// Package dispatch is the request engine every user submission flows
// through: it resolves routing, awaits a Ready connection, writes,
// correlates the response, and applies the redirect/retry policy,
// all under a mandatory per-request deadline.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/pending"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/retry"
	"github.com/nodekv/ckv/internal/router"
	"github.com/nodekv/ckv/internal/topology"
)

// maxReconnectRetries bounds automatic resubmission of an idempotent
// request after its connection drops before acknowledgement; distinct
// from a single connection's own reconnect backoff schedule, which
// lives at the conn layer.
const maxReconnectRetries = 3

// Dispatcher is the single entry point user requests flow through.
type Dispatcher struct {
	topo    *topology.Topology
	router  *router.Router
	pool    *Pool
	log     log.Logger
	closed  atomic.Bool
	timeout time.Duration
}

// New builds a Dispatcher. defaultTimeout applies whenever a
// caller's context carries no deadline of its own; every request runs
// under some deadline.
func New(topo *topology.Topology, r *router.Router, pool *Pool, logger log.Logger, defaultTimeout time.Duration) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{topo: topo, router: r, pool: pool, log: logger, timeout: defaultTimeout}
}

// Close rejects all future submissions, fails every pending request,
// and tears down every pooled connection.
func (d *Dispatcher) Close() error {
	d.closed.Store(true)
	d.pool.CloseAll()
	return nil
}

// Submit runs req against the single node its route resolves to.
// idempotent gates whether a pre-flush connection drop
// may be silently retried on a fresh connection. A route that resolves
// to more than one node (AllPrimaries/AllNodes on a multi-node
// topology) is rejected here; use SubmitFanOut.
func (d *Dispatcher) Submit(ctx context.Context, req *proto.RedisRequest, idempotent bool) (*proto.Response, error) {
	if d.closed.Load() {
		return nil, errs.ErrClosed
	}

	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	nodes, err := d.router.Resolve(req.Route)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, errs.New(errs.KindRequest, "route resolves to multiple nodes; use SubmitFanOut")
	}

	return d.submitToNode(ctx, nodes[0].Address, req, idempotent, false, 0)
}

// SubmitFanOut runs req against every node a route names
// (AllPrimaries/AllNodes), collecting one response per address behind
// a shared collector. allowPartial controls
// whether one node's failure fails the whole call.
func (d *Dispatcher) SubmitFanOut(ctx context.Context, req *proto.RedisRequest, allowPartial bool) (map[string]*proto.Response, error) {
	if d.closed.Load() {
		return nil, errs.ErrClosed
	}

	ctx, cancel := d.withDeadline(ctx)
	defer cancel()

	nodes, err := d.router.Resolve(req.Route)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	responses := make(map[string]*proto.Response, len(nodes))
	_, _, fanErr := router.FanOut(ctx, nodes, allowPartial, func(ctx context.Context, n *topology.Node) ([]byte, error) {
		resp, err := d.submitToNode(ctx, n.Address, req, false, false, 0)
		if err != nil {
			return nil, err
		}
		mu.Lock()
		responses[n.Address] = resp
		mu.Unlock()
		return nil, nil
	})
	if fanErr != nil {
		return responses, fanErr
	}
	return responses, nil
}

func (d *Dispatcher) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.timeout)
}

// submitToNode awaits a Ready connection, writes, and resolves the
// response against one address, following
// MOVED/ASK redirects up to the router's bound and resubmitting an
// idempotent request, up to maxReconnectRetries times, after a
// pre-flush connection drop.
func (d *Dispatcher) submitToNode(ctx context.Context, addr string, req *proto.RedisRequest, idempotent, asking bool, redirections int) (*proto.Response, error) {
	c := d.pool.Get(addr)

	if asking {
		if _, w, err := c.Submit(ctx, [][]byte{[]byte("ASKING")}); err == nil {
			<-w.Recv()
		}
	}

	args := commandArgs(req)
	_, waiter, err := c.Submit(ctx, args)
	if err != nil {
		if idempotent {
			return d.retryReconnect(ctx, addr, req, asking)
		}
		return nil, errs.Wrap(errs.KindConnection, "write failed before flush", err)
	}

	select {
	case <-ctx.Done():
		return nil, errs.New(errs.KindTimeout, "request deadline exceeded")

	case result := <-waiter.Recv():
		return d.handleResult(ctx, addr, req, result, idempotent, redirections)
	}
}

func (d *Dispatcher) handleResult(ctx context.Context, addr string, req *proto.RedisRequest, result pending.Result, idempotent bool, redirections int) (*proto.Response, error) {
	if result.Err != nil {
		if idempotent {
			return d.retryReconnect(ctx, addr, req, false)
		}
		return nil, result.Err
	}

	response := result.Response
	if response.RequestError == nil {
		return response, nil
	}

	target, asking, ok := d.router.Redirect(ctx, addr, response.RequestError.Message)
	var movedAddr, askAddr string
	if ok {
		if asking {
			askAddr = target
		} else {
			movedAddr = target
		}
	}

	switch retry.Classify(response.RequestError, movedAddr, askAddr) {
	case retry.DispositionRedirectMoved, retry.DispositionRedirectAsk:
		redirections++
		if redirections > d.router.MaxRedirections() {
			return nil, &errs.MaxRedirectionsError{Count: redirections}
		}
		return d.submitToNode(ctx, target, req, idempotent, asking, redirections)

	case retry.DispositionReconnect:
		d.pool.Evict(addr)
		if idempotent {
			return d.retryReconnect(ctx, addr, req, false)
		}
		return nil, errs.New(errs.KindConnection, response.RequestError.Message)

	default:
		return response, nil
	}
}

func (d *Dispatcher) retryReconnect(ctx context.Context, addr string, req *proto.RedisRequest, asking bool) (*proto.Response, error) {
	for attempt := 0; attempt < maxReconnectRetries; attempt++ {
		d.pool.Evict(addr)
		resp, err := d.submitToNodeOnce(ctx, addr, req, asking)
		if err == nil {
			return resp, nil
		}
		if _, ok := err.(*errs.Error); !ok {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errs.New(errs.KindTimeout, "request deadline exceeded")
		case <-time.After(retry.DefaultStrategy().Factor):
		}
	}
	return nil, errs.Wrap(errs.KindConnection, "exhausted reconnect retries", errs.ErrConnDead)
}

// submitToNodeOnce is the single-attempt core submitToNode delegates
// retries/redirects to, used by retryReconnect so a reconnect attempt
// does not itself recurse through the full redirect/retry machinery
// more than once per loop iteration.
func (d *Dispatcher) submitToNodeOnce(ctx context.Context, addr string, req *proto.RedisRequest, asking bool) (*proto.Response, error) {
	c := d.pool.Get(addr)
	if asking {
		if _, w, err := c.Submit(ctx, [][]byte{[]byte("ASKING")}); err == nil {
			<-w.Recv()
		}
	}
	args := commandArgs(req)
	_, waiter, err := c.Submit(ctx, args)
	if err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, errs.New(errs.KindTimeout, "request deadline exceeded")
	case result := <-waiter.Recv():
		if result.Err != nil {
			return nil, result.Err
		}
		return result.Response, nil
	}
}

// commandArgs renders a RedisRequest's single command or script
// invocation into the wire argument vector conn.Submit expects.
// Transaction requests never reach the Dispatcher directly — internal/
// txn pipelines them over its own Connection.
func commandArgs(req *proto.RedisRequest) [][]byte {
	switch {
	case req.Single != nil:
		args := make([][]byte, 0, len(req.Single.Args)+1)
		args = append(args, []byte(req.Single.RequestType))
		args = append(args, req.Single.Args...)
		return args
	case req.Script != nil:
		args := make([][]byte, 0, len(req.Script.Keys)+len(req.Script.Args)+3)
		args = append(args, []byte("EVALSHA"), req.Script.Hash)
		args = append(args, req.Script.Keys...)
		args = append(args, req.Script.Args...)
		return args
	default:
		return nil
	}
}
