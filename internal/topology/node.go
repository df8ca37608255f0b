package topology

import (
	"sync/atomic"
	"time"
)

// Role distinguishes the two kinds of cluster role a Node can hold.
type Role int

const (
	RolePrimary Role = iota
	RoleReplica
)

func (r Role) String() string {
	if r == RoleReplica {
		return "replica"
	}
	return "primary"
}

// ConnState mirrors internal/conn's state machine names without
// importing that package — Topology only needs to know enough to
// decide liveness for routing and reaping, not to drive the machine
// itself (avoids a topology<->conn import cycle, since conn consults
// Topology for addresses).
type ConnState int

const (
	ConnDisconnected ConnState = iota
	ConnConnecting
	ConnHandshaking
	ConnReady
	ConnClosing
)

// NodeID identifies a server process. In cluster mode this is the
// server's own node id (from CLUSTER SLOTS/SHARDS); in standalone
// mode it is synthesized from the address.
type NodeID string

// Node is one server process as Topology sees it. The
// LastRRIndex field is the round-robin cursor used by replica
// selection among a slot's replica set; it lives on the owning
// primary's Node since a read picks among the PRIMARY's replica list.
type Node struct {
	ID      NodeID
	Address string
	Role    Role

	state       atomic.Int32
	LastRRIndex atomic.Uint32
	LastSeen    atomic.Int64 // unix nanos
}

// NewNode builds a Node in the Disconnected state.
func NewNode(id NodeID, address string, role Role) *Node {
	n := &Node{ID: id, Address: address, Role: role}
	n.state.Store(int32(ConnDisconnected))
	return n
}

// State returns the node's last-observed connection state, as
// reported by internal/conn via SetState.
func (n *Node) State() ConnState { return ConnState(n.state.Load()) }

// SetState records the node's last-observed connection state.
func (n *Node) SetState(s ConnState) { n.state.Store(int32(s)) }

// Ready reports whether the node's connection is usable for routing.
func (n *Node) Ready() bool { return n.State() == ConnReady }

// Touch records the current time as the node's last-activity mark,
// consulted by the idle Reaper.
func (n *Node) Touch(now time.Time) { n.LastSeen.Store(now.UnixNano()) }

// IdleSince reports how long it has been since Touch was last called.
func (n *Node) IdleSince(now time.Time) time.Duration {
	last := n.LastSeen.Load()
	if last == 0 {
		return 0
	}
	return now.Sub(time.Unix(0, last))
}

// NextReplicaIndex atomically advances and returns the round-robin
// cursor used to spread PreferReplica reads across a slot's replicas.
func (n *Node) NextReplicaIndex(mod uint32) uint32 {
	if mod == 0 {
		return 0
	}
	return n.LastRRIndex.Add(1) % mod
}
