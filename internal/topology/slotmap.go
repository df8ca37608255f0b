package topology

// SlotEntry is one slot's ownership record: the primary that serves
// writes plus the replicas eligible for PreferReplica reads.
type SlotEntry struct {
	Primary  *Node
	Replicas []*Node
}

// SlotMap is an immutable snapshot of all 16384 slots' ownership,
// replaced atomically on refresh so concurrent readers never see a
// torn map. A SlotMap value, once built, is never mutated — Topology
// publishes a brand-new *SlotMap on every refresh via atomic.Pointer,
// so a reader holding one reference is unaffected by a concurrent
// refresh.
type SlotMap struct {
	slots [SlotCount]SlotEntry
	// nodes indexes every known Node by id, including ones that do
	// not currently own any slot (observed via CLUSTER SLOTS replica
	// lists) so the router and reaper can find them by address.
	nodes map[NodeID]*Node
}

// NewStandaloneSlotMap builds the degenerate single-node map for
// non-cluster deployments: every slot maps to the one node.
func NewStandaloneSlotMap(n *Node) *SlotMap {
	sm := &SlotMap{nodes: map[NodeID]*Node{n.ID: n}}
	entry := SlotEntry{Primary: n}
	for i := range sm.slots {
		sm.slots[i] = entry
	}
	return sm
}

// Owner returns the SlotEntry for slot.
func (sm *SlotMap) Owner(slot uint16) SlotEntry {
	return sm.slots[slot]
}

// Node looks up a known node by id, whether or not it currently owns
// a slot.
func (sm *SlotMap) Node(id NodeID) (*Node, bool) {
	n, ok := sm.nodes[id]
	return n, ok
}

// NodeByAddr looks up a known node by its host:port address, the key
// the connection pool and redirect handling work in (an ASK target is
// an address, not a node id).
func (sm *SlotMap) NodeByAddr(addr string) (*Node, bool) {
	for _, n := range sm.nodes {
		if n.Address == addr {
			return n, true
		}
	}
	return nil, false
}

// Nodes returns every node this map knows about, for fan-out routing
// (AllPrimaries/AllNodes), random routing and discovery candidates.
func (sm *SlotMap) Nodes() []*Node {
	out := make([]*Node, 0, len(sm.nodes))
	for _, n := range sm.nodes {
		out = append(out, n)
	}
	return out
}

// Primaries returns every known node whose role is primary, whether
// or not it currently owns a slot.
func (sm *SlotMap) Primaries() []*Node {
	seen := make(map[NodeID]struct{})
	out := make([]*Node, 0)
	for _, n := range sm.nodes {
		if n.Role != RolePrimary {
			continue
		}
		if _, ok := seen[n.ID]; ok {
			continue
		}
		seen[n.ID] = struct{}{}
		out = append(out, n)
	}
	return out
}

// builder assembles a SlotMap from discovery rows before it is
// published, so partially-built maps are never visible to readers.
type builder struct {
	sm *SlotMap
}

func newBuilder() *builder {
	return &builder{sm: &SlotMap{nodes: make(map[NodeID]*Node)}}
}

func (b *builder) node(id NodeID, addr string, role Role) *Node {
	if n, ok := b.sm.nodes[id]; ok {
		return n
	}
	n := NewNode(id, addr, role)
	b.sm.nodes[id] = n
	return n
}

func (b *builder) assign(start, end uint16, primary *Node, replicas []*Node) {
	entry := SlotEntry{Primary: primary, Replicas: replicas}
	for s := start; ; s++ {
		b.sm.slots[s] = entry
		if s == end {
			break
		}
	}
}

func (b *builder) build() *SlotMap { return b.sm }
