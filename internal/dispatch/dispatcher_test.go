package dispatch

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/nodekv/ckv/internal/conn"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/proto"
	"github.com/nodekv/ckv/internal/resp"
	"github.com/nodekv/ckv/internal/router"
	"github.com/nodekv/ckv/internal/topology"
)

// fakeServer scripts replies by command name, same harness shape as
// internal/conn's tests.
type fakeServer struct {
	conn    net.Conn
	br      *bufio.Reader
	replies map[string]string
	moved   map[string]string // command name -> address to MOVED-redirect to, once
}

func startFakeServer(t *testing.T, serverSide net.Conn, replies map[string]string) *fakeServer {
	t.Helper()
	fs := &fakeServer{conn: serverSide, br: bufio.NewReader(serverSide), replies: replies, moved: map[string]string{}}
	go fs.run()
	return fs
}

func (fs *fakeServer) run() {
	for {
		v, _, err := resp.ReadValue(fs.br)
		if err != nil {
			return
		}
		if len(v.Array) == 0 {
			continue
		}
		name := v.Array[0].Str
		if name == "HELLO" {
			fs.conn.Write([]byte("+OK\r\n"))
			continue
		}
		if name == "ASKING" {
			fs.conn.Write([]byte("+OK\r\n"))
			continue
		}
		if addr, ok := fs.moved[name]; ok {
			delete(fs.moved, name)
			fs.conn.Write([]byte("-MOVED 0 " + addr + "\r\n"))
			continue
		}
		reply, ok := fs.replies[name]
		if !ok {
			continue
		}
		fs.conn.Write([]byte(reply))
	}
}

func dialerFor(addrToConn map[string]net.Conn) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, ok := addrToConn[addr]
		if !ok {
			return nil, &net.AddrError{Err: "no fake dialer for address", Addr: addr}
		}
		return c, nil
	}
}

func newTestDispatcher(t *testing.T, addrToConn map[string]net.Conn, primaryAddr string) (*Dispatcher, *topology.Topology) {
	t.Helper()
	opts := conn.Options{DialFn: dialerFor(addrToConn), Protocol: conn.ProtocolRESP3}
	pool := NewPool(opts, log.NewNop())

	primary := topology.NewNode(topology.NodeID(primaryAddr), primaryAddr, topology.RolePrimary)
	sm := topology.NewTestSlotMap(topology.TestSlotRange{Start: 0, End: topology.SlotCount - 1, Primary: primary})
	topo := topology.NewTestTopology(sm)

	r := router.New(topo, router.ReadFromPrimary, 5)
	d := New(topo, r, pool, log.NewNop(), 2*time.Second)
	return d, topo
}

func getRequest(key string) *proto.RedisRequest {
	kind := proto.SimpleRouteRandom
	return &proto.RedisRequest{
		Single: &proto.SingleCommand{RequestType: "GET", Args: [][]byte{[]byte(key)}},
		Route:  &proto.Route{Simple: &kind},
	}
}

func TestDispatcherSubmitReturnsValue(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{"GET": "$3\r\nbar\r\n"})

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": client}, "10.0.0.1:6379")

	resp, err := d.Submit(context.Background(), getRequest("foo"), true)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Value) != "$3\r\nbar\r\n" {
		t.Fatalf("got %q", resp.Value)
	}
}

func TestDispatcherFollowsMovedRedirect(t *testing.T) {
	client1, server1 := net.Pipe()
	client2, server2 := net.Pipe()

	fs1 := startFakeServer(t, server1, map[string]string{})
	fs1.moved["GET"] = "10.0.0.2:6379"
	startFakeServer(t, server2, map[string]string{"GET": "$3\r\nbaz\r\n"})

	d, _ := newTestDispatcher(t, map[string]net.Conn{
		"10.0.0.1:6379": client1,
		"10.0.0.2:6379": client2,
	}, "10.0.0.1:6379")

	resp, err := d.Submit(context.Background(), getRequest("foo"), true)
	if err != nil {
		t.Fatal(err)
	}
	if string(resp.Value) != "$3\r\nbaz\r\n" {
		t.Fatalf("got %q, want redirected value", resp.Value)
	}
}

func TestDispatcherTimesOutOnWedgedServer(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{}) // never replies to GET

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": client}, "10.0.0.1:6379")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := d.Submit(ctx, getRequest("foo"), true)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestDispatcherSurfacesOrdinaryServerError(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{
		"GET": "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n",
	})

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": client}, "10.0.0.1:6379")

	resp, err := d.Submit(context.Background(), getRequest("foo"), true)
	if err != nil {
		t.Fatal(err)
	}
	if resp.RequestError == nil {
		t.Fatal("expected a RequestError to be surfaced, not swallowed")
	}
}

func TestDispatcherClosedRejectsImmediately(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{"GET": "$3\r\nbar\r\n"})

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": client}, "10.0.0.1:6379")
	d.Close()

	_, err := d.Submit(context.Background(), getRequest("foo"), true)
	if err == nil {
		t.Fatal("expected ErrClosed")
	}
}
