package topology

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nodekv/ckv/internal/resp"
	"golang.org/x/sync/singleflight"
)

// Discoverer issues a single command to a server address and returns
// its decoded reply. Topology depends on this narrow interface rather
// than on internal/conn directly, so conn is free to depend on
// Topology (for node addresses/state) without an import cycle; the
// orchestrating dispatcher wires a conn-backed implementation in.
type Discoverer interface {
	Discover(ctx context.Context, addr string, args ...string) (resp.Value, error)
}

// Topology owns the published SlotMap and the logic to (re)build it.
// Standalone deployments get the degenerate single-node map; cluster
// deployments discover via CLUSTER SLOTS/SHARDS and refresh on first
// connect, on MOVED, and on a timer. Reaching an address that is not
// in the current map does not by itself trigger a refresh.
type Topology struct {
	cluster    bool
	seeds      []string
	discoverer Discoverer

	current atomic.Pointer[SlotMap]
	group   singleflight.Group
}

// New builds a Topology. For standalone mode, pass cluster=false and
// a single seed address; the map is built immediately with one node
// and Refresh is a no-op thereafter.
func New(cluster bool, seeds []string, d Discoverer) *Topology {
	t := &Topology{cluster: cluster, seeds: seeds, discoverer: d}
	if !cluster && len(seeds) > 0 {
		n := NewNode(NodeID(seeds[0]), seeds[0], RolePrimary)
		t.current.Store(NewStandaloneSlotMap(n))
	} else {
		t.current.Store(&SlotMap{nodes: make(map[NodeID]*Node)})
	}
	return t
}

// Current returns the presently published SlotMap snapshot. The
// returned pointer is safe to hold across a concurrent Refresh: the
// map it points to is never mutated in place.
func (t *Topology) Current() *SlotMap {
	return t.current.Load()
}

// IsCluster reports whether this Topology discovers via CLUSTER
// SLOTS/SHARDS (true) or is the standalone degenerate case (false).
func (t *Topology) IsCluster() bool { return t.cluster }

// Refresh rebuilds the slot map from the server, coalescing
// concurrent callers into a single in-flight discovery. Standalone
// topologies return the existing map unchanged.
func (t *Topology) Refresh(ctx context.Context) (*SlotMap, error) {
	if !t.cluster {
		return t.Current(), nil
	}

	v, err, _ := t.group.Do("refresh", func() (interface{}, error) {
		sm, err := t.discover(ctx)
		if err != nil {
			return nil, err
		}
		sm = reconcileNodes(t.Current(), sm)
		t.current.Store(sm)
		return sm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SlotMap), nil
}

func (t *Topology) discover(ctx context.Context) (*SlotMap, error) {
	if t.discoverer == nil {
		return nil, fmt.Errorf("topology: no discoverer configured")
	}
	addrs := t.candidateAddrs()
	if len(addrs) == 0 {
		return nil, fmt.Errorf("topology: no known addresses to discover from")
	}

	var lastErr error
	for _, addr := range addrs {
		// CLUSTER SHARDS is the newer form; fall back to CLUSTER
		// SLOTS for older servers that reject it as an unknown
		// command.
		v, err := t.discoverer.Discover(ctx, addr, "CLUSTER", "SHARDS")
		if err == nil {
			sm, perr := ParseClusterShards(v)
			if perr == nil {
				return sm, nil
			}
			lastErr = perr
			continue
		}
		v, err = t.discoverer.Discover(ctx, addr, "CLUSTER", "SLOTS")
		if err != nil {
			lastErr = err
			continue
		}
		sm, perr := ParseClusterSlots(v)
		if perr != nil {
			lastErr = perr
			continue
		}
		return sm, nil
	}
	return nil, fmt.Errorf("topology: discovery failed against all known addresses: %w", lastErr)
}

// reconcileNodes substitutes freshly parsed Node values with the old
// map's instances where id and address both still match, so a node's
// observed connection state and replica round-robin cursor survive a
// refresh instead of resetting to Disconnected every time the slot
// map is rebuilt.
func reconcileNodes(old, next *SlotMap) *SlotMap {
	if old == nil || len(old.nodes) == 0 {
		return next
	}
	kept := make(map[*Node]*Node, len(next.nodes))
	for id, n := range next.nodes {
		prev, ok := old.nodes[id]
		if ok && prev.Address == n.Address && prev.Role == n.Role {
			next.nodes[id] = prev
			kept[n] = prev
		}
	}
	if len(kept) == 0 {
		return next
	}
	for i := range next.slots {
		entry := &next.slots[i]
		if prev, ok := kept[entry.Primary]; ok {
			entry.Primary = prev
		}
		for j, rep := range entry.Replicas {
			if prev, ok := kept[rep]; ok {
				entry.Replicas[j] = prev
			}
		}
	}
	return next
}

func (t *Topology) candidateAddrs() []string {
	addrs := append([]string(nil), t.seeds...)
	if sm := t.Current(); sm != nil {
		for _, n := range sm.Nodes() {
			addrs = append(addrs, n.Address)
		}
	}
	return addrs
}

// ApplyMoved repoints a single slot's owner without waiting for a
// full refresh; the caller is expected to separately call Refresh
// (coalesced) to reconcile the rest of the map.
func (t *Topology) ApplyMoved(slot uint16, addr string) {
	old := t.Current()
	next := &SlotMap{nodes: make(map[NodeID]*Node, len(old.nodes))}
	for id, n := range old.nodes {
		next.nodes[id] = n
	}
	next.slots = old.slots

	id := NodeID(addr)
	n, ok := next.nodes[id]
	if !ok {
		n = NewNode(id, addr, RolePrimary)
		next.nodes[id] = n
	}
	next.slots[slot] = SlotEntry{Primary: n, Replicas: old.slots[slot].Replicas}

	t.current.Store(next)
}

// StartPeriodicRefresh launches a background ticker that calls
// Refresh every interval until ctx is done. A zero interval disables
// periodic refresh.
func (t *Topology) StartPeriodicRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_, _ = t.Refresh(ctx)
			}
		}
	}()
}
