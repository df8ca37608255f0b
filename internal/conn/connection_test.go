package conn

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/nodekv/ckv/internal/errs"
	"github.com/nodekv/ckv/internal/log"
	"github.com/nodekv/ckv/internal/resp"
	"github.com/nodekv/ckv/internal/retry"
	"github.com/nodekv/ckv/internal/topology"
)

// fakeServer replies to whatever command it reads with a scripted
// reply chosen by name, standing in for a real redis-server process.
type fakeServer struct {
	conn    net.Conn
	br      *bufio.Reader
	replies map[string]string
}

func startFakeServer(t *testing.T, serverSide net.Conn, replies map[string]string) {
	t.Helper()
	fs := &fakeServer{conn: serverSide, br: bufio.NewReader(serverSide), replies: replies}
	go fs.run()
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
		reply, ok := fs.replies[name]
		if !ok {
			// Unscripted command: stay silent, simulating a wedged
			// server so tests can exercise timeout/close behavior.
			continue
		}
		if _, err := fs.conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func dialingOptions(clientSide net.Conn) Options {
	return Options{
		DialFn: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return clientSide, nil
		},
		Protocol: ProtocolRESP3,
	}
}

func TestConnectionDialAndHandshake(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{
		"HELLO": "+OK\r\n",
	})

	c := New("fake:0", dialingOptions(client), log.NewNop(), nil)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}
	if c.State() != topology.ConnReady {
		t.Fatalf("state = %v, want Ready", c.State())
	}
}

func TestConnectionSubmitResolvesInOrder(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{
		"HELLO": "+OK\r\n",
		"GET":   "$3\r\nbar\r\n",
	})

	c := New("fake:0", dialingOptions(client), log.NewNop(), nil)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, w, err := c.Submit(context.Background(), [][]byte{[]byte("GET"), []byte("foo")})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-w.Recv():
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if string(res.Response.Value) != "$3\r\nbar\r\n" {
			t.Fatalf("got %q", res.Response.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestConnectionSurfacesServerError(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{
		"HELLO": "+OK\r\n",
		"GET":   "-WRONGTYPE Operation against a key holding the wrong kind of value\r\n",
	})

	c := New("fake:0", dialingOptions(client), log.NewNop(), nil)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, w, err := c.Submit(context.Background(), [][]byte{[]byte("GET"), []byte("foo")})
	if err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-w.Recv():
		if res.Response.RequestError == nil {
			t.Fatal("expected a RequestError")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}
}

func TestConnectionCloseDrainsPending(t *testing.T) {
	client, server := net.Pipe()
	startFakeServer(t, server, map[string]string{"HELLO": "+OK\r\n"})

	c := New("fake:0", dialingOptions(client), log.NewNop(), nil)
	if err := c.Dial(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, w, err := c.Submit(context.Background(), [][]byte{[]byte("BLPOP"), []byte("k"), []byte("0")})
	if err != nil {
		t.Fatal(err)
	}

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-w.Recv():
		if res.Err == nil {
			t.Fatal("expected the pending request to fail on close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for drained response")
	}
}

func TestConnectionDialBackoffGatesImmediateRetry(t *testing.T) {
	attempts := 0
	opts := Options{
		DialFn: func(ctx context.Context, network, addr string) (net.Conn, error) {
			attempts++
			return nil, errors.New("connection refused")
		},
		Protocol: ProtocolRESP3,
		ReconnectStrategy: retry.Strategy{
			Retries:      3,
			Factor:       time.Minute,
			ExponentBase: 2,
		},
	}

	c := New("fake:0", opts, log.NewNop(), nil)

	if err := c.Dial(context.Background()); err == nil {
		t.Fatal("expected the first dial to fail")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	err := c.Dial(context.Background())
	if err == nil {
		t.Fatal("expected the second dial to fail fast on backoff")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1 (no dial during backoff)", attempts)
	}
	if ckvErr, ok := errs.AsError(err, errs.KindConnection); !ok || !errors.Is(ckvErr, errs.ErrConnDead) {
		t.Fatalf("expected a wrapped ErrConnDead, got %v", err)
	}
}

func TestConnectionDialExhaustsRetryBudget(t *testing.T) {
	opts := Options{
		DialFn: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
		Protocol: ProtocolRESP3,
		ReconnectStrategy: retry.Strategy{
			Retries:      0,
			Factor:       time.Millisecond,
			ExponentBase: 2,
		},
	}

	c := New("fake:0", opts, log.NewNop(), nil)

	err := c.Dial(context.Background())
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if !errors.Is(err, errs.ErrConnDead) {
		t.Fatalf("expected ErrConnDead once the retry budget is exhausted, got %v", err)
	}
}
