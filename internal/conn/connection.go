// Package conn implements the per-node connection state machine:
// dial, handshake, a serialized write path feeding an async read
// loop, and teardown that fails every outstanding request. Each node
// gets exactly one socket; teardown is scoped to a socket incarnation
// so a redialed connection is unaffected by its predecessor's death.
package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/pending"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/resp"
	"github.com/nodekv/ckv/internal/retry"
	"github.com/nodekv/ckv/internal/topology"
)

// Protocol selects the server handshake's requested RESP version.
type Protocol int

const (
	ProtocolRESP3 Protocol = iota
	ProtocolRESP2
)

// Options configures a Connection's dial and handshake behavior.
type Options struct {
	DialFn      func(ctx context.Context, network, addr string) (net.Conn, error)
	UseTLS      bool
	Username    string
	Password    string
	ClientName  string
	DatabaseID  int
	Protocol    Protocol
	DialTimeout time.Duration

	// ReconnectStrategy drives the backoff schedule Dial enforces
	// between consecutive failed attempts. A zero value
	// uses retry.DefaultStrategy.
	ReconnectStrategy retry.Strategy
}

func (o Options) dial(ctx context.Context, addr string) (net.Conn, error) {
	dialFn := o.DialFn
	if dialFn == nil {
		d := &net.Dialer{Timeout: o.DialTimeout}
		dialFn = d.DialContext
	}
	return dialFn(ctx, "tcp", addr)
}

// Connection owns exactly one socket and exactly one pending-request
// table. Writes are appended by arbitrary goroutines and
// drained by a single writer goroutine; reads are decoded by a single
// reader goroutine that resolves pending entries strictly in
// submission order, since the real server never echoes our
// callback_idx — it is a bare RESP pipeline.
type Connection struct {
	addr string
	opts Options
	log  log.Logger
	node *topology.Node // optional: kept in sync for router/reaper liveness checks

	state atomic.Int32

	mu sync.Mutex // serializes (re)dial attempts; guards bw swaps
	bw *bufio.Writer

	netConn net.Conn // guarded by dieMu alongside dead/deadCh

	pend *pending.Table

	orderMu sync.Mutex
	order   []uint64 // FIFO of callback_idx, in the order requests were actually flushed

	writeMu      sync.Mutex
	writeQueued  []queuedWrite
	writeDrainer sync.Mutex // held for the duration of one drain; "in progress" signal

	dieMu  sync.Mutex
	dead   bool
	closed bool // deliberate Close(): terminal, never re-dialed
	deadCh chan struct{}

	reconnMu    sync.Mutex
	schedule    *retry.Schedule
	nextRetryAt time.Time // zero until the first failed dial
}

// New builds a Connection in the Disconnected state. Dial happens
// lazily on first Submit, or eagerly via Dial.
func New(addr string, opts Options, logger log.Logger, node *topology.Node) *Connection {
	if logger == nil {
		logger = log.NewNop()
	}
	strategy := opts.ReconnectStrategy
	if strategy == (retry.Strategy{}) {
		strategy = retry.DefaultStrategy()
	}
	c := &Connection{
		addr:     addr,
		opts:     opts,
		log:      logger,
		node:     node,
		pend:     pending.New(),
		deadCh:   make(chan struct{}),
		schedule: retry.NewSchedule(strategy),
	}
	c.setState(topology.ConnDisconnected)
	return c
}

func (c *Connection) setState(s topology.ConnState) {
	c.state.Store(int32(s))
	if c.node != nil {
		c.node.SetState(s)
	}
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() topology.ConnState { return topology.ConnState(c.state.Load()) }

// PendingCount reports the number of outstanding requests, consulted
// by the idle reaper before closing a connection.
func (c *Connection) PendingCount() int { return c.pend.Len() }

// Dial establishes the socket and runs the handshake, transitioning
// Disconnected -> Connecting -> Handshaking -> Ready, or back to
// Disconnected on any failure.
func (c *Connection) Dial(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == topology.ConnReady {
		return nil
	}
	c.dieMu.Lock()
	closed := c.closed
	c.dieMu.Unlock()
	if closed {
		return errs.ErrClosed
	}

	if wait := c.backoffRemaining(); wait > 0 {
		return errs.Wrap(errs.KindConnection, "reconnect backoff in effect for "+c.addr, errs.ErrConnDead)
	}

	c.setState(topology.ConnConnecting)
	netConn, err := c.opts.dial(ctx, c.addr)
	if err != nil {
		c.setState(topology.ConnDisconnected)
		if dialErr := c.armBackoff(); dialErr != nil {
			return errs.Wrap(errs.KindConnection, "reconnect attempts exhausted for "+c.addr, dialErr)
		}
		return errs.Wrap(errs.KindConnection, "dial failed: "+c.addr, err)
	}
	if c.opts.UseTLS {
		host, _, splitErr := net.SplitHostPort(c.addr)
		if splitErr != nil {
			host = c.addr
		}
		netConn = tls.Client(netConn, &tls.Config{ServerName: host})
	}

	c.setState(topology.ConnHandshaking)
	br := bufio.NewReader(netConn)
	bw := bufio.NewWriter(netConn)

	clientName := c.opts.ClientName
	if clientName != "" {
		clientName = clientName + "-" + uuid.NewString()[:8]
	}
	if err := handshake(br, bw, handshakeOptions{
		Protocol:   c.opts.Protocol,
		Username:   c.opts.Username,
		Password:   c.opts.Password,
		ClientName: clientName,
		DatabaseID: c.opts.DatabaseID,
	}, c.log); err != nil {
		netConn.Close()
		c.setState(topology.ConnDisconnected)
		if dialErr := c.armBackoff(); dialErr != nil {
			return errs.Wrap(errs.KindConnection, "reconnect attempts exhausted for "+c.addr, dialErr)
		}
		return err
	}

	c.bw = bw

	// A previous incarnation may have died with writes still queued or
	// order entries outstanding; their waiters were already drained, so
	// carrying them into the new socket would misalign response
	// correlation.
	c.writeMu.Lock()
	c.writeQueued = nil
	c.writeMu.Unlock()
	c.orderMu.Lock()
	c.order = nil
	c.orderMu.Unlock()

	c.dieMu.Lock()
	c.netConn = netConn
	c.dead = false
	c.deadCh = make(chan struct{})
	gen := c.deadCh
	c.dieMu.Unlock()

	c.setState(topology.ConnReady)
	c.clearBackoff()

	go c.readLoop(br, gen)

	c.log.WithField("addr", c.addr).Debugf("connection ready")
	return nil
}

// backoffRemaining reports how long the caller must still wait before
// the next dial attempt is allowed, per the armed reconnect schedule
// Zero means dialing now is permitted.
func (c *Connection) backoffRemaining() time.Duration {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()
	if c.nextRetryAt.IsZero() {
		return 0
	}
	if remaining := time.Until(c.nextRetryAt); remaining > 0 {
		return remaining
	}
	return 0
}

// armBackoff advances the reconnect schedule after a failed dial,
// arming nextRetryAt with the schedule's next delay. It returns
// errs.ErrConnDead once the schedule's retry budget is exhausted.
func (c *Connection) armBackoff() error {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()
	delay, exhausted := c.schedule.Next()
	if exhausted {
		return errs.ErrConnDead
	}
	c.nextRetryAt = time.Now().Add(delay)
	return nil
}

// clearBackoff resets the reconnect schedule on a successful Ready
// transition.
func (c *Connection) clearBackoff() {
	c.reconnMu.Lock()
	defer c.reconnMu.Unlock()
	c.schedule.Reset()
	c.nextRetryAt = time.Time{}
}

// Submit encodes args as a command, queues it for the write drain,
// and returns the allocated callback_idx along with the Waiter that
// will receive the matching response. It dials lazily if the
// connection is not yet Ready.
func (c *Connection) Submit(ctx context.Context, args [][]byte) (uint64, *pending.Waiter, error) {
	if c.State() != topology.ConnReady {
		if err := c.Dial(ctx); err != nil {
			return 0, nil, err
		}
	}
	if c.State() != topology.ConnReady {
		return 0, nil, errs.ErrNotReady
	}

	idx, waiter := c.pend.Acquire()
	payload := resp.EncodeCommand(args)
	c.enqueueWrite(idx, payload)
	if c.node != nil {
		c.node.Touch(time.Now())
	}
	return idx, waiter, nil
}

// readLoop decodes one RESP reply per iteration and resolves the
// oldest outstanding callback_idx with it — the real server's replies
// are unlabelled, so FIFO position is the only correlation mechanism
// available on the wire.
func (c *Connection) readLoop(br *bufio.Reader, gen chan struct{}) {
	for {
		v, raw, err := resp.ReadValue(br)
		if err != nil {
			c.failGen(gen, errs.Wrap(errs.KindConnection, "read failed", err))
			return
		}

		c.orderMu.Lock()
		if len(c.order) == 0 {
			c.orderMu.Unlock()
			c.failGen(gen, errs.ErrUnknownCallback)
			return
		}
		idx := c.order[0]
		c.order = c.order[1:]
		c.orderMu.Unlock()

		response := toResponse(idx, v, raw)
		if !c.pend.Resolve(idx, response) {
			c.failGen(gen, errs.ErrUnknownCallback)
			return
		}
	}
}

func toResponse(idx uint64, v resp.Value, raw []byte) *proto.Response {
	if v.IsError() {
		return &proto.Response{
			CallbackIdx: idx,
			RequestError: &proto.RequestError{
				Kind:    proto.ErrorKindUnspecified,
				Message: v.Str,
			},
		}
	}
	return &proto.Response{CallbackIdx: idx, OK: true, Value: raw}
}

// fail tears the current socket incarnation down exactly once,
// draining every outstanding request. A later Dial may bring the connection
// back up unless Close was called.
func (c *Connection) fail(err error) {
	c.dieMu.Lock()
	gen := c.deadCh
	c.dieMu.Unlock()
	c.failGen(gen, err)
}

// failGen is fail scoped to one socket incarnation: a stale read loop
// erroring out after the connection has already been redialed must
// not tear down the fresh socket.
func (c *Connection) failGen(gen chan struct{}, err error) {
	c.dieMu.Lock()
	if c.dead || c.deadCh != gen {
		c.dieMu.Unlock()
		return
	}
	c.dead = true
	netConn := c.netConn
	c.dieMu.Unlock()

	c.setState(topology.ConnClosing)
	if netConn != nil {
		netConn.Close()
	}
	close(gen)

	c.writeMu.Lock()
	c.writeQueued = nil
	c.writeMu.Unlock()
	c.orderMu.Lock()
	c.order = nil
	c.orderMu.Unlock()

	c.pend.DrainWithError(err)
	c.setState(topology.ConnDisconnected)
	c.log.WithField("addr", c.addr).Warnf("connection failed: %v", err)
}

// Close tears the connection down deliberately (client Close() or
// reaper eviction), failing outstanding requests with Closing. A
// closed Connection never redials.
func (c *Connection) Close() error {
	c.dieMu.Lock()
	c.closed = true
	c.dieMu.Unlock()
	c.fail(errs.ErrClosed)
	return nil
}

// Dead returns a channel closed once the current socket incarnation
// has torn down.
func (c *Connection) Dead() <-chan struct{} {
	c.dieMu.Lock()
	defer c.dieMu.Unlock()
	return c.deadCh
}

var _ fmt.Stringer = (*Connection)(nil)

func (c *Connection) String() string { return fmt.Sprintf("conn(%s)", c.addr) }
