package ckv

import (
	"context"
	"sync/atomic"

	"github.com/nodekv/ckv/internal/dispatch"
	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/router"
	"github.com/nodekv/ckv/internal/topology"
	"github.com/nodekv/ckv/internal/txn"
)

// Client is the public entry point: one logical connection to a
// standalone server or a cluster, multiplexing every caller's
// requests over a small set of persistent sockets. It is
// safe for concurrent use by multiple goroutines.
type Client struct {
	cfg        Config
	pool       *dispatch.Pool
	topo       *topology.Topology
	router     *router.Router
	dispatcher *dispatch.Dispatcher

	closed   atomic.Bool
	cancelBg context.CancelFunc
}

// NewClient validates cfg and builds a Client. In cluster mode it
// performs the initial CLUSTER SLOTS/SHARDS discovery synchronously
// before returning, so a freshly constructed Client's first request
// does not itself pay for topology discovery on a request's own
// deadline.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	pool := dispatch.NewPool(cfg.connOptions(), cfg.Logger)
	discoverer := dispatch.NewPoolDiscoverer(pool)
	topo := topology.New(cfg.ClusterMode, cfg.seedAddresses(), discoverer)
	pool.SetTopology(topo)

	r := router.New(topo, cfg.readFromStrategy(), cfg.MaxRedirections)
	d := dispatch.New(topo, r, pool, cfg.Logger, cfg.RequestTimeout)

	bgCtx, cancel := context.WithCancel(context.Background())
	c := &Client{cfg: cfg, pool: pool, topo: topo, router: r, dispatcher: d, cancelBg: cancel}

	if cfg.ClusterMode {
		discoverCtx, discoverCancel := context.WithTimeout(bgCtx, cfg.RequestTimeout*4)
		_, err := topo.Refresh(discoverCtx)
		discoverCancel()
		if err != nil {
			cancel()
			return nil, errs.Wrap(errs.KindConnection, "initial topology discovery failed", err)
		}
	}
	topo.StartPeriodicRefresh(bgCtx, cfg.RefreshInterval)

	if cfg.IdleTimeout > 0 {
		reaper := topology.NewReaper(cfg.IdleTimeout)
		pool.SetReaper(reaper)
		reaper.Run(bgCtx, topo, cfg.IdleTimeout/2)
	}

	return c, nil
}

// Close rejects every pending request with Closing and tears down
// every socket; further submissions reject synchronously.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if c.cancelBg != nil {
		c.cancelBg()
	}
	return c.dispatcher.Close()
}

func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.cfg.RequestTimeout)
}

// Do submits cmd, routed automatically: ByKey when cmd carries a key,
// Random otherwise, honoring the Client's configured ReadFrom
// strategy. Use DoRouted for explicit control over routing.
func (c *Client) Do(ctx context.Context, cmd Command) (Reply, error) {
	return c.DoRouted(ctx, cmd, c.defaultRoute(cmd))
}

// DoRouted submits cmd against the node(s) spec resolves to. spec must
// not be a fan-out route (AllPrimaries/AllNodes); use DoFanOut for
// those.
func (c *Client) DoRouted(ctx context.Context, cmd Command, spec RoutingSpec) (Reply, error) {
	if c.closed.Load() {
		return Reply{}, ErrClosed
	}
	req := c.buildRequest(cmd, spec)

	// AllowOptimisticRedirect widens the resubmit-on-drop gate to
	// every command, idempotent or not.
	resubmittable := cmd.idempotent || c.cfg.AllowOptimisticRedirect
	response, err := c.dispatcher.Submit(ctx, req, resubmittable)
	if err != nil {
		return Reply{}, err
	}
	if response.RequestError != nil {
		return Reply{}, requestErrorToErr(response.RequestError)
	}
	return newReply(response.Value)
}

// FanOutResult pairs one node's reply with its error, so a caller
// that opted into allowPartial can inspect per-node outcomes instead
// of a single top-level error.
type FanOutResult struct {
	Value Reply
	Err   error
}

// DoFanOut submits cmd against every node spec names (AllPrimaries or
// AllNodes). allowPartial=false fails the whole call if any node
// errors; allowPartial=true returns the outcome of every node that
// replied instead: a server error reply is that entry's Err, while a
// node whose request failed without a reply (timeout, connection
// loss) has no entry in the map.
func (c *Client) DoFanOut(ctx context.Context, cmd Command, spec RoutingSpec, allowPartial bool) (map[string]FanOutResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	req := c.buildRequest(cmd, spec)

	responses, err := c.dispatcher.SubmitFanOut(ctx, req, allowPartial)
	if err != nil && !allowPartial {
		return nil, err
	}

	out := make(map[string]FanOutResult, len(responses))
	for addr, response := range responses {
		if response.RequestError != nil {
			out[addr] = FanOutResult{Err: requestErrorToErr(response.RequestError)}
			continue
		}
		reply, rerr := newReply(response.Value)
		out[addr] = FanOutResult{Value: reply, Err: rerr}
	}
	return out, nil
}

// TxResult is a transaction's outcome: either the array EXEC
// returned, or Nil if a watched key changed.
type TxResult struct {
	Nil    bool
	Values []Reply
}

// Multi executes cmds as a single MULTI/.../EXEC transaction pinned
// to one node, the primary owning the first keyed command's slot. There
// are no intra-transaction retries.
func (c *Client) Multi(ctx context.Context, cmds ...Command) (*TxResult, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if len(cmds) == 0 {
		return nil, errs.New(errs.KindConfiguration, "Multi requires at least one command")
	}

	addr, err := c.pinnedNodeAddr(cmds)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	txnCmds := make([]txn.Command, len(cmds))
	for i, cmd := range cmds {
		rt, args := cmd.build()
		txnCmds[i] = txn.Command{RequestType: rt, Args: args}
	}

	result, err := txn.Exec(ctx, c.pool.Get(addr), txnCmds)
	if err != nil {
		return nil, err
	}

	values := make([]Reply, len(result.Values))
	for i, v := range result.Values {
		values[i] = Reply{v: v}
	}
	return &TxResult{Nil: result.Nil, Values: values}, nil
}

func (c *Client) pinnedNodeAddr(cmds []Command) (string, error) {
	for _, cmd := range cmds {
		if key, ok := cmd.keyOf(); ok {
			nodes, err := c.router.Resolve(ByKey(key, false).route)
			if err != nil {
				return "", err
			}
			if len(nodes) > 0 {
				return nodes[0].Address, nil
			}
		}
	}
	nodes, err := c.router.Resolve(primaryFirstOfBatch().route)
	if err != nil {
		return "", err
	}
	if len(nodes) == 0 {
		return "", errs.New(errs.KindConnection, "no known nodes to pin transaction to")
	}
	return nodes[0].Address, nil
}

func (c *Client) defaultRoute(cmd Command) RoutingSpec {
	if key, ok := cmd.keyOf(); ok {
		return byKeyAuto(key)
	}
	return Random()
}

func (c *Client) buildRequest(cmd Command, spec RoutingSpec) *proto.RedisRequest {
	requestType, args := cmd.build()
	route := spec.route
	if route == nil {
		route = Random().route
	}
	return &proto.RedisRequest{
		Single: &proto.SingleCommand{RequestType: requestType, Args: args},
		Route:  route,
	}
}

func requestErrorToErr(re *proto.RequestError) error {
	if re.Kind == proto.ErrorKindExecAbort {
		return errs.New(errs.KindExecAbort, re.Message)
	}
	return errs.New(errs.KindRequest, re.Message)
}
