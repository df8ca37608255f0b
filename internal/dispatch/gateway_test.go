package dispatch

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/nodekv/ckv/internal/frame"
	"github.com/nodekv/ckv/internal/proto"
)

func TestGatewayRoundTripsEnvelope(t *testing.T) {
	serverConn, serverSide := net.Pipe()
	startFakeServer(t, serverSide, map[string]string{"GET": "$3\r\nbar\r\n"})

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": serverConn}, "10.0.0.1:6379")

	apiSide, coreSide := net.Pipe()
	g := NewGateway(d, coreSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Serve(ctx)

	req := getRequest("foo")
	req.CallbackIdx = 17

	f := frame.New(apiSide)
	if err := f.WriteFrame(req.Marshal()); err != nil {
		t.Fatal(err)
	}

	done := make(chan *proto.Response, 1)
	go func() {
		payload, err := f.ReadFrame()
		if err != nil {
			return
		}
		var resp proto.Response
		if err := resp.Unmarshal(payload); err != nil {
			return
		}
		done <- &resp
	}()

	select {
	case resp := <-done:
		if resp.CallbackIdx != 17 {
			t.Fatalf("callback idx = %d, want 17", resp.CallbackIdx)
		}
		if string(resp.Value) != "$3\r\nbar\r\n" {
			t.Fatalf("value = %q", resp.Value)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no envelope response arrived")
	}
}

func TestGatewayMapsTimeoutToEnvelopeErrorKind(t *testing.T) {
	serverConn, serverSide := net.Pipe()
	startFakeServer(t, serverSide, map[string]string{}) // wedged: never replies to GET

	d, _ := newTestDispatcher(t, map[string]net.Conn{"10.0.0.1:6379": serverConn}, "10.0.0.1:6379")
	d.timeout = 100 * time.Millisecond

	apiSide, coreSide := net.Pipe()
	g := NewGateway(d, coreSide)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go g.Serve(ctx)

	req := getRequest("foo")
	req.CallbackIdx = 3

	f := frame.New(apiSide)
	if err := f.WriteFrame(req.Marshal()); err != nil {
		t.Fatal(err)
	}

	payload, err := f.ReadFrame()
	if err != nil {
		t.Fatal(err)
	}
	var resp proto.Response
	if err := resp.Unmarshal(payload); err != nil {
		t.Fatal(err)
	}
	if resp.CallbackIdx != 3 {
		t.Fatalf("callback idx = %d, want 3", resp.CallbackIdx)
	}
	if resp.RequestError == nil || resp.RequestError.Kind != proto.ErrorKindTimeout {
		t.Fatalf("expected a Timeout envelope error, got %+v", resp.RequestError)
	}
}
