package ckv

import "github.com/nodekv/ckv/internal/proto"

// RoutingSpec selects which node(s) a request targets. It is a
// tagged variant — each constructor below produces one variant
// carrying only its own data; the internal *proto.Route it wraps is
// what internal/router actually resolves against the slot map.
type RoutingSpec struct {
	route *proto.Route
}

func simpleRoute(kind proto.SimpleRouteKind) RoutingSpec {
	return RoutingSpec{route: &proto.Route{Simple: &kind}}
}

// Random targets a uniformly random Ready node, or any known node when
// none is Ready.
func Random() RoutingSpec { return simpleRoute(proto.SimpleRouteRandom) }

// AllPrimaries fans a request out to every primary, returning a Go map
// of address to response; the map has no defined iteration order.
func AllPrimaries() RoutingSpec { return simpleRoute(proto.SimpleRouteAllPrimaries) }

// AllNodes fans a request out to every node, primaries and replicas.
func AllNodes() RoutingSpec { return simpleRoute(proto.SimpleRouteAllNodes) }

// ByKey routes by the slot a key hashes to. preferReplica overrides
// the connection-wide ReadFrom strategy for this one request, in
// either direction.
func ByKey(key string, preferReplica bool) RoutingSpec {
	return RoutingSpec{route: &proto.Route{SlotKey: &proto.SlotKeyRoute{
		SlotKey:  key,
		SlotType: slotType(preferReplica),
	}}}
}

// byKeyAuto is the implicit per-request default when a command carries
// a key and the caller did not specify a RoutingSpec. Unlike ByKey, it
// leaves SlotType unspecified so the router falls through to its own
// configured ReadFrom strategy instead of forcing primary-only.
func byKeyAuto(key string) RoutingSpec {
	return RoutingSpec{route: &proto.Route{SlotKey: &proto.SlotKeyRoute{
		SlotKey:  key,
		SlotType: proto.SlotTypeUnspecified,
	}}}
}

// BySlotID routes directly to the node owning slot (0..16383).
func BySlotID(slot int, preferReplica bool) RoutingSpec {
	return RoutingSpec{route: &proto.Route{SlotID: &proto.SlotIDRoute{
		SlotID:   int32(slot),
		SlotType: slotType(preferReplica),
	}}}
}

// primaryFirstOfBatch is the transaction default: pick the first
// routing-bearing command in the batch, or Random if none — resolved
// one level up, in the Client, since it needs the batch's commands,
// not just a tag. It is not exported: callers never build one
// directly, only Client.Multi does.
func primaryFirstOfBatch() RoutingSpec { return simpleRoute(proto.SimpleRoutePrimaryOfBatch) }

func slotType(preferReplica bool) proto.SlotType {
	if preferReplica {
		return proto.SlotTypeReplica
	}
	return proto.SlotTypePrimary
}
