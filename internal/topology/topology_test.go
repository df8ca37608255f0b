package topology

import (
	"bufio"
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nodekv/ckv/internal/resp"
)

type fakeDiscoverer struct {
	calls   int32
	gate    chan struct{}
	payload string
}

func (f *fakeDiscoverer) Discover(ctx context.Context, addr string, args ...string) (resp.Value, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.gate != nil {
		<-f.gate
	}
	v, _, err := resp.ReadValue(bufio.NewReader(bytes.NewBufferString(f.payload)))
	return v, err
}

// oneShardPayload is a CLUSTER SHARDS reply (the primary discovery
// path tried before falling back to CLUSTER SLOTS), matching the
// fixture shape in discovery_test.go.
const oneShardPayload = "*1\r\n%2\r\n" +
	"+slots\r\n*2\r\n:0\r\n:16383\r\n" +
	"+nodes\r\n*1\r\n" +
	"%4\r\n+id\r\n+m1\r\n+ip\r\n+127.0.0.1\r\n+port\r\n:30001\r\n+role\r\n+master\r\n"

func TestStandaloneTopologyRefreshIsNoop(t *testing.T) {
	topo := New(false, []string{"127.0.0.1:6379"}, &fakeDiscoverer{})
	before := topo.Current()
	sm, err := topo.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sm != before {
		t.Fatal("standalone refresh should be a no-op returning the same map")
	}
}

func TestClusterRefreshPublishesSlotMap(t *testing.T) {
	d := &fakeDiscoverer{payload: oneShardPayload}
	topo := New(true, []string{"127.0.0.1:30001"}, d)

	sm, err := topo.Refresh(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if sm.Owner(0).Primary.Address != "127.0.0.1:30001" {
		t.Fatalf("got %+v", sm.Owner(0).Primary)
	}
}

func TestConcurrentRefreshesCoalesce(t *testing.T) {
	d := &fakeDiscoverer{payload: oneShardPayload, gate: make(chan struct{})}
	topo := New(true, []string{"127.0.0.1:30001"}, d)

	var wg, started sync.WaitGroup
	n := 10
	wg.Add(n)
	started.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			started.Done()
			_, _ = topo.Refresh(context.Background())
		}()
	}
	// Release the gated discovery only once every goroutine is up, so
	// all callers arrive while the first round trip is in flight.
	started.Wait()
	time.Sleep(10 * time.Millisecond)
	close(d.gate)
	wg.Wait()

	if calls := atomic.LoadInt32(&d.calls); calls != 1 {
		t.Fatalf("expected discovery to run once for coalesced refreshes, ran %d times", calls)
	}
}

func TestApplyMovedUpdatesSingleSlotWithoutFullRebuild(t *testing.T) {
	d := &fakeDiscoverer{payload: oneShardPayload}
	topo := New(true, []string{"127.0.0.1:30001"}, d)
	if _, err := topo.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}

	topo.ApplyMoved(5000, "127.0.0.1:30002")

	moved := topo.Current().Owner(5000)
	if moved.Primary.Address != "127.0.0.1:30002" {
		t.Fatalf("slot 5000 owner = %+v", moved.Primary)
	}
	untouched := topo.Current().Owner(0)
	if untouched.Primary.Address != "127.0.0.1:30001" {
		t.Fatalf("slot 0 owner should be unchanged, got %+v", untouched.Primary)
	}
}
