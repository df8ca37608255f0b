package dispatch

import (
	"sync"

	"github.com/nodekv/ckv/internal/conn"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/topology"
)

// Pool lazily dials and caches one Connection per address:
// connections are created on demand and destroyed on close or
// eviction. It is keyed by address rather than node id since ASK
// redirects target addresses that may not yet have a NodeID in the
// slot map.
type Pool struct {
	mu     sync.Mutex
	conns  map[string]*conn.Connection
	opts   conn.Options
	log    log.Logger
	topo   *topology.Topology // optional: lets connections publish state to their Node
	reaper *topology.Reaper   // optional: newly created connections self-register
}

// NewPool builds an empty Pool; every Connection it creates shares opts.
func NewPool(opts conn.Options, logger log.Logger) *Pool {
	return &Pool{conns: make(map[string]*conn.Connection), opts: opts, log: logger}
}

// SetReaper arms idle-connection reaping: every connection the Pool
// creates from this point on registers itself with r, keyed by
// address, so Ready connections idle past the threshold with nothing
// pending can be closed.
func (p *Pool) SetReaper(r *topology.Reaper) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reaper = r
}

// SetTopology lets the Pool look a dialed address up in the current
// slot map, so each Connection carries its Node and keeps the Node's
// observed connection state and last-activity mark current — which is
// what replica selection and the idle reaper key off of.
func (p *Pool) SetTopology(t *topology.Topology) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topo = t
}

// Get returns the cached Connection for addr, creating one if absent.
// The returned Connection dials lazily on first Submit.
func (p *Pool) Get(addr string) *conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.conns[addr]; ok {
		return c
	}
	var node *topology.Node
	if p.topo != nil {
		node, _ = p.topo.Current().NodeByAddr(addr)
	}
	c := conn.New(addr, p.opts, p.log, node)
	p.conns[addr] = c
	if p.reaper != nil {
		p.reaper.Track(addr, c, c.PendingCount)
	}
	return c
}

// Evict removes and closes the cached connection for addr, if any —
// used when a redirect or reaper sweep determines the address is
// stale.
func (p *Pool) Evict(addr string) {
	p.mu.Lock()
	c, ok := p.conns[addr]
	delete(p.conns, addr)
	if p.reaper != nil {
		p.reaper.Untrack(addr)
	}
	p.mu.Unlock()
	if ok {
		c.Close()
	}
}

// CloseAll tears down every pooled connection, for client Close().
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := make([]*conn.Connection, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*conn.Connection)
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}
