// Package router resolves a request's route (a *proto.Route tagged
// variant) to concrete target nodes against the current slot map, and
// handles MOVED/ASK redirection. Fan-out aggregation uses
// golang.org/x/sync/errgroup.
package router

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/resp"
	"github.com/nodekv/ckv/internal/topology"
	"golang.org/x/sync/errgroup"
)

// movedRefreshTimeout bounds the background topology refresh a MOVED
// reply schedules. It intentionally does not derive from the
// triggering request's context: that context is canceled as soon as
// the (possibly already-redirected) request resolves, which happens
// well before a refresh round trip completes.
const movedRefreshTimeout = 5 * time.Second

// ReadFrom is the connection-wide default read strategy, overridden
// per-request by an explicit SlotType on the route.
type ReadFrom int

const (
	ReadFromPrimary ReadFrom = iota
	ReadFromPreferReplica
)

// DefaultMaxRedirections bounds a single request's redirect chain; a
// chain longer than this fails with MaxRedirectionsError.
const DefaultMaxRedirections = 5

// Router resolves routes against a Topology.
type Router struct {
	topo            *topology.Topology
	readFrom        ReadFrom
	maxRedirections int
}

// New builds a Router over topo.
func New(topo *topology.Topology, readFrom ReadFrom, maxRedirections int) *Router {
	if maxRedirections <= 0 {
		maxRedirections = DefaultMaxRedirections
	}
	return &Router{topo: topo, readFrom: readFrom, maxRedirections: maxRedirections}
}

// MaxRedirections returns the configured bound.
func (r *Router) MaxRedirections() int { return r.maxRedirections }

// Resolve returns the target node(s) for route. Random
// and PrimaryFirstOfBatch-with-no-routing-info both resolve to a
// single uniformly random Ready node (any known node when none is
// Ready); AllPrimaries/AllNodes return
// every matching node for fan-out; ByKey/BySlotId resolve to exactly
// one node via the slot map.
func (r *Router) Resolve(route *proto.Route) ([]*topology.Node, error) {
	sm := r.topo.Current()

	switch {
	case route == nil || route.Simple != nil:
		kind := proto.SimpleRouteRandom
		if route != nil && route.Simple != nil {
			kind = *route.Simple
		}
		switch kind {
		case proto.SimpleRouteAllPrimaries:
			return sm.Primaries(), nil
		case proto.SimpleRouteAllNodes:
			return sm.Nodes(), nil
		case proto.SimpleRouteRandom, proto.SimpleRoutePrimaryOfBatch:
			n, err := randomReady(sm)
			if err != nil {
				return nil, err
			}
			return []*topology.Node{n}, nil
		default:
			return nil, fmt.Errorf("router: unknown simple route kind %d", kind)
		}

	case route.SlotKey != nil:
		slot := topology.SlotOf(route.SlotKey.SlotKey)
		n, err := r.pickFromSlot(sm, slot, route.SlotKey.SlotType)
		if err != nil {
			return nil, err
		}
		return []*topology.Node{n}, nil

	case route.SlotID != nil:
		n, err := r.pickFromSlot(sm, uint16(route.SlotID.SlotID), route.SlotID.SlotType)
		if err != nil {
			return nil, err
		}
		return []*topology.Node{n}, nil

	default:
		return nil, fmt.Errorf("router: empty route")
	}
}

func (r *Router) pickFromSlot(sm *topology.SlotMap, slot uint16, slotType proto.SlotType) (*topology.Node, error) {
	entry := sm.Owner(slot)
	if entry.Primary == nil {
		return nil, errs.New(errs.KindConnection, "no owner known for slot")
	}

	preferReplica := r.readFrom == ReadFromPreferReplica
	switch slotType {
	case proto.SlotTypePrimary:
		preferReplica = false
	case proto.SlotTypeReplica:
		preferReplica = true
	}

	if !preferReplica {
		return entry.Primary, nil
	}
	return pickReplica(entry), nil
}

// pickReplica round-robins across Ready replicas, falling back to the
// primary if none are Ready.
func pickReplica(entry topology.SlotEntry) *topology.Node {
	ready := make([]*topology.Node, 0, len(entry.Replicas))
	for _, rep := range entry.Replicas {
		if rep.Ready() {
			ready = append(ready, rep)
		}
	}
	if len(ready) == 0 {
		return entry.Primary
	}
	idx := entry.Primary.NextReplicaIndex(uint32(len(ready)))
	return ready[idx]
}

func randomReady(sm *topology.SlotMap) (*topology.Node, error) {
	nodes := sm.Nodes()
	ready := make([]*topology.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Ready() {
			ready = append(ready, n)
		}
	}
	if len(ready) == 0 {
		if len(nodes) == 0 {
			return nil, errs.New(errs.KindConnection, "no known nodes")
		}
		return nodes[rand.Intn(len(nodes))], nil
	}
	return ready[rand.Intn(len(ready))], nil
}

// Redirect classifies a server error message as a MOVED/ASK
// redirection, applying the slot-map update MOVED requires. ASK
// never touches the map. ok is false for an ordinary, non-redirecting
// error.
func (r *Router) Redirect(ctx context.Context, addr string, errMsg string) (target string, asking bool, ok bool) {
	red, matched := resp.ParseRedirect(errMsg)
	if !matched {
		return "", false, false
	}
	if !red.Ask {
		r.topo.ApplyMoved(uint16(red.Slot), red.Addr)
		go func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), movedRefreshTimeout)
			defer cancel()
			_, _ = r.topo.Refresh(refreshCtx)
		}()
	}
	return red.Addr, red.Ask, true
}

// FanOut runs fn concurrently against every node, collecting one
// result per address. By default any node's failure fails the whole
// call; allowPartial=true returns every per-node result/error
// instead.
func FanOut(ctx context.Context, nodes []*topology.Node, allowPartial bool, fn func(ctx context.Context, n *topology.Node) ([]byte, error)) (map[string][]byte, map[string]error, error) {
	results := make(map[string][]byte, len(nodes))
	errsByAddr := make(map[string]error, len(nodes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range nodes {
		n := n
		g.Go(func() error {
			v, err := fn(gctx, n)
			mu.Lock()
			if err != nil {
				errsByAddr[n.Address] = err
			} else {
				results[n.Address] = v
			}
			mu.Unlock()
			if err != nil && !allowPartial {
				return err
			}
			return nil
		})
	}
	err := g.Wait()
	if err != nil && !allowPartial {
		return results, errsByAddr, err
	}
	return results, errsByAddr, nil
}
