package topology

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/nodekv/ckv/internal/resp"
)

func decodeFixture(t *testing.T, raw string) resp.Value {
	t.Helper()
	v, _, err := resp.ReadValue(bufio.NewReader(bytes.NewBufferString(raw)))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return v
}

func TestParseClusterSlotsTwoShards(t *testing.T) {
	raw := "*2\r\n" +
		"*3\r\n:0\r\n:8191\r\n*3\r\n$9\r\n127.0.0.1\r\n:30001\r\n$40\r\n0000000000000000000000000000000000000001\r\n" +
		"*3\r\n:8192\r\n:16383\r\n*3\r\n$9\r\n127.0.0.1\r\n:30002\r\n$40\r\n0000000000000000000000000000000000000002\r\n"
	v := decodeFixture(t, raw)

	sm, err := ParseClusterSlots(v)
	if err != nil {
		t.Fatal(err)
	}
	low := sm.Owner(0)
	if low.Primary == nil || low.Primary.Address != "127.0.0.1:30001" {
		t.Fatalf("slot 0 owner = %+v", low.Primary)
	}
	high := sm.Owner(16383)
	if high.Primary == nil || high.Primary.Address != "127.0.0.1:30002" {
		t.Fatalf("slot 16383 owner = %+v", high.Primary)
	}
	mid := sm.Owner(8191)
	if mid.Primary.Address != "127.0.0.1:30001" {
		t.Fatalf("slot 8191 should belong to the first shard, got %+v", mid.Primary)
	}
}

func TestParseClusterSlotsWithReplica(t *testing.T) {
	raw := "*1\r\n*4\r\n:0\r\n:16383\r\n" +
		"*3\r\n$9\r\n127.0.0.1\r\n:30001\r\n$1\r\na\r\n" +
		"*3\r\n$9\r\n127.0.0.1\r\n:30004\r\n$1\r\nb\r\n"
	v := decodeFixture(t, raw)

	sm, err := ParseClusterSlots(v)
	if err != nil {
		t.Fatal(err)
	}
	entry := sm.Owner(0)
	if len(entry.Replicas) != 1 || entry.Replicas[0].Address != "127.0.0.1:30004" {
		t.Fatalf("replicas = %+v", entry.Replicas)
	}
	if entry.Replicas[0].Role != RoleReplica {
		t.Fatalf("replica role = %v", entry.Replicas[0].Role)
	}
}

func TestParseClusterShards(t *testing.T) {
	// One shard: slots [0,16383], one master + one replica, RESP3 maps.
	raw := "*1\r\n%2\r\n" +
		"+slots\r\n*2\r\n:0\r\n:16383\r\n" +
		"+nodes\r\n*2\r\n" +
		"%4\r\n+id\r\n+m1\r\n+ip\r\n+127.0.0.1\r\n+port\r\n:30001\r\n+role\r\n+master\r\n" +
		"%4\r\n+id\r\n+r1\r\n+ip\r\n+127.0.0.1\r\n+port\r\n:30004\r\n+role\r\n+replica\r\n"
	v := decodeFixture(t, raw)

	sm, err := ParseClusterShards(v)
	if err != nil {
		t.Fatal(err)
	}
	entry := sm.Owner(100)
	if entry.Primary == nil || entry.Primary.ID != "m1" {
		t.Fatalf("primary = %+v", entry.Primary)
	}
	if len(entry.Replicas) != 1 || entry.Replicas[0].ID != "r1" {
		t.Fatalf("replicas = %+v", entry.Replicas)
	}
}
