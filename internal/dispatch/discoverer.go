package dispatch

import (
	"bufio"
	"bytes"
	"context"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/resp"
)

// PoolDiscoverer adapts a Pool into topology.Discoverer so that
// CLUSTER SLOTS/SHARDS discovery round trips ride the same pooled
// connections regular traffic uses, rather than opening a side
// channel per discovery call. Topology only depends on the narrow
// Discoverer interface, so this is the one place that interface is
// actually wired to a live connection.
type PoolDiscoverer struct {
	pool *Pool
}

// NewPoolDiscoverer builds a PoolDiscoverer over pool.
func NewPoolDiscoverer(pool *Pool) *PoolDiscoverer {
	return &PoolDiscoverer{pool: pool}
}

// Discover issues args against addr and decodes the reply back into a
// structured resp.Value. Connection.Submit's normal path hands the
// caller only the opaque raw reply bytes;
// discovery is the one caller that needs the actual tree shape, so it
// re-parses those same bytes with resp.ReadValue instead of teaching
// Connection a second response representation.
func (d *PoolDiscoverer) Discover(ctx context.Context, addr string, args ...string) (resp.Value, error) {
	c := d.pool.Get(addr)

	byteArgs := make([][]byte, len(args))
	for i, a := range args {
		byteArgs[i] = []byte(a)
	}

	_, waiter, err := c.Submit(ctx, byteArgs)
	if err != nil {
		return resp.Value{}, err
	}

	select {
	case <-ctx.Done():
		return resp.Value{}, errs.New(errs.KindTimeout, "discovery request deadline exceeded")
	case result := <-waiter.Recv():
		if result.Err != nil {
			return resp.Value{}, result.Err
		}
		if result.Response.RequestError != nil {
			return resp.Value{}, errs.New(errs.KindRequest, result.Response.RequestError.Message)
		}
		v, _, err := resp.ReadValue(bufio.NewReader(bytes.NewReader(result.Response.Value)))
		return v, err
	}
}
