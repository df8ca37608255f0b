package topology

import "strconv"

// TestSlotRange assigns slots [Start, End] to Primary/Replicas. Test
// helper only, used by package router's table-driven routing tests so
// they can build a SlotMap without going through the CLUSTER
// SLOTS/SHARDS wire decoder.
type TestSlotRange struct {
	Start, End uint16
	Primary    *Node
	Replicas   []*Node
}

// NewTestSlotMap builds a SlotMap directly from a small set of ranges.
func NewTestSlotMap(ranges ...TestSlotRange) *SlotMap {
	b := newBuilder()
	for _, r := range ranges {
		for _, rep := range r.Replicas {
			b.sm.nodes[rep.ID] = rep
		}
		b.sm.nodes[r.Primary.ID] = r.Primary
		b.assign(r.Start, r.End, r.Primary, r.Replicas)
	}
	return b.build()
}

// NewTestTopology wraps a prebuilt SlotMap in a cluster-mode Topology
// with no live Discoverer, for router tests that only need Current().
func NewTestTopology(sm *SlotMap) *Topology {
	t := &Topology{cluster: true}
	t.current.Store(sm)
	return t
}

// SlotKeyForTest returns a key that hashes to the given slot, found by
// brute-force search. Test helper only.
func SlotKeyForTest(slot uint16) string {
	for i := 0; ; i++ {
		key := "k" + strconv.Itoa(i)
		if SlotOf(key) == slot {
			return key
		}
	}
}
