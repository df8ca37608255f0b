package topology

import (
	"fmt"
	"sort"

	"github.com/nodekv/ckv/internal/resp"
)

// ParseClusterSlots builds a SlotMap from a CLUSTER SLOTS reply: an
// array of rows `[start, end, [ip, port, id?, metadata?],
// replica...]`. Rows are sorted by start before
// assignment purely for deterministic iteration order in tests and
// logs — the server is not required to emit them sorted.
func ParseClusterSlots(v resp.Value) (*SlotMap, error) {
	if v.Kind != resp.KindArray {
		return nil, fmt.Errorf("topology: CLUSTER SLOTS reply is not an array")
	}
	rows := append([]resp.Value(nil), v.Array...)
	for _, row := range rows {
		if row.Kind != resp.KindArray || len(row.Array) < 3 {
			return nil, fmt.Errorf("topology: CLUSTER SLOTS row has %d fields, want >= 3", len(row.Array))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Array[0].Int < rows[j].Array[0].Int })

	b := newBuilder()
	for _, row := range rows {
		start := uint16(row.Array[0].Int)
		end := uint16(row.Array[1].Int)

		primary, err := slotsNode(b, row.Array[2], RolePrimary)
		if err != nil {
			return nil, err
		}
		replicas := make([]*Node, 0, len(row.Array)-3)
		for _, rep := range row.Array[3:] {
			n, err := slotsNode(b, rep, RoleReplica)
			if err != nil {
				return nil, err
			}
			replicas = append(replicas, n)
		}
		b.assign(start, end, primary, replicas)
	}
	return b.build(), nil
}

func slotsNode(b *builder, v resp.Value, role Role) (*Node, error) {
	if v.Kind != resp.KindArray || len(v.Array) < 2 {
		return nil, fmt.Errorf("topology: malformed node entry in CLUSTER SLOTS reply")
	}
	ip := v.Array[0].Str
	port := v.Array[1].Int
	addr := fmt.Sprintf("%s:%d", ip, port)
	id := NodeID(addr)
	if len(v.Array) >= 3 && v.Array[2].Str != "" {
		id = NodeID(v.Array[2].Str)
	}
	return b.node(id, addr, role), nil
}

// ParseClusterShards builds a SlotMap from a CLUSTER SHARDS reply
// (newer servers): an array of per-shard maps/arrays flattened to
// key/value pairs by internal/resp, each shard carrying a "slots"
// field (flat start,end,start,end,... pairs) and a "nodes" field (an
// array of per-node maps with "id", "endpoint"/"ip", "port", "role").
func ParseClusterShards(v resp.Value) (*SlotMap, error) {
	if v.Kind != resp.KindArray {
		return nil, fmt.Errorf("topology: CLUSTER SHARDS reply is not an array")
	}
	b := newBuilder()
	for _, shard := range v.Array {
		fields, err := shardFields(shard)
		if err != nil {
			return nil, err
		}
		slotsField, ok := fields["slots"]
		if !ok || slotsField.Kind != resp.KindArray {
			return nil, fmt.Errorf("topology: CLUSTER SHARDS shard missing slots field")
		}
		nodesField, ok := fields["nodes"]
		if !ok || nodesField.Kind != resp.KindArray {
			return nil, fmt.Errorf("topology: CLUSTER SHARDS shard missing nodes field")
		}

		var primary *Node
		replicas := make([]*Node, 0, len(nodesField.Array))
		for _, nodeVal := range nodesField.Array {
			n, isPrimary, err := shardNode(b, nodeVal)
			if err != nil {
				return nil, err
			}
			if isPrimary {
				primary = n
			} else {
				replicas = append(replicas, n)
			}
		}
		if primary == nil {
			return nil, fmt.Errorf("topology: CLUSTER SHARDS shard has no master node")
		}

		for i := 0; i+1 < len(slotsField.Array); i += 2 {
			start := uint16(slotsField.Array[i].Int)
			end := uint16(slotsField.Array[i+1].Int)
			b.assign(start, end, primary, replicas)
		}
	}
	return b.build(), nil
}

// shardFields flattens a RESP3 map (or a RESP2 fallback array of
// alternating key/value scalars, which internal/resp also represents
// as Kind Array with an even-length flattened Array field) into a
// lookup by field name.
func shardFields(v resp.Value) (map[string]resp.Value, error) {
	if v.Kind != resp.KindMap && v.Kind != resp.KindArray {
		return nil, fmt.Errorf("topology: CLUSTER SHARDS entry is not a map")
	}
	if len(v.Array)%2 != 0 {
		return nil, fmt.Errorf("topology: CLUSTER SHARDS entry has odd field count")
	}
	out := make(map[string]resp.Value, len(v.Array)/2)
	for i := 0; i+1 < len(v.Array); i += 2 {
		out[v.Array[i].Str] = v.Array[i+1]
	}
	return out, nil
}

func shardNode(b *builder, v resp.Value) (*Node, bool, error) {
	fields, err := shardFields(v)
	if err != nil {
		return nil, false, err
	}
	id := fields["id"].Str
	ip := fields["ip"].Str
	if ip == "" {
		ip = fields["endpoint"].Str
	}
	port := fields["port"].Int
	role := RoleReplica
	if fields["role"].Str == "master" || fields["role"].Str == "primary" {
		role = RolePrimary
	}
	addr := fmt.Sprintf("%s:%d", ip, port)
	if id == "" {
		id = addr
	}
	return b.node(NodeID(id), addr, role), role == RolePrimary, nil
}
