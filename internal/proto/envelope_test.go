package proto

import "testing"

func TestRedisRequestRoundTrip(t *testing.T) {
	simple := SimpleRouteAllPrimaries
	req := &RedisRequest{
		CallbackIdx: 42,
		Single: &SingleCommand{
			RequestType: "SET",
			Args:        [][]byte{[]byte("foo"), []byte("bar")},
		},
		Route: &Route{Simple: &simple},
	}

	b := req.Marshal()

	var got RedisRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.CallbackIdx != req.CallbackIdx {
		t.Fatalf("callback idx = %d, want %d", got.CallbackIdx, req.CallbackIdx)
	}
	if got.Single == nil || got.Single.RequestType != "SET" {
		t.Fatalf("single command mismatch: %+v", got.Single)
	}
	if len(got.Single.Args) != 2 || string(got.Single.Args[0]) != "foo" || string(got.Single.Args[1]) != "bar" {
		t.Fatalf("args mismatch: %+v", got.Single.Args)
	}
	if got.Route == nil || got.Route.Simple == nil || *got.Route.Simple != SimpleRouteAllPrimaries {
		t.Fatalf("route mismatch: %+v", got.Route)
	}
}

func TestRedisRequestSlotKeyRoute(t *testing.T) {
	req := &RedisRequest{
		CallbackIdx: 7,
		Single:      &SingleCommand{RequestType: "GET", Args: [][]byte{[]byte("k")}},
		Route: &Route{
			SlotKey: &SlotKeyRoute{SlotKey: "k", SlotType: SlotTypeReplica},
		},
	}
	b := req.Marshal()
	var got RedisRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Route == nil || got.Route.SlotKey == nil {
		t.Fatalf("expected slot key route, got %+v", got.Route)
	}
	if got.Route.SlotKey.SlotKey != "k" || got.Route.SlotKey.SlotType != SlotTypeReplica {
		t.Fatalf("slot key route mismatch: %+v", got.Route.SlotKey)
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	req := &RedisRequest{
		CallbackIdx: 1,
		Transaction: &Transaction{
			Commands: []SingleCommand{
				{RequestType: "SET", Args: [][]byte{[]byte("k"), []byte("1")}},
				{RequestType: "INCR", Args: [][]byte{[]byte("k")}},
			},
		},
	}
	b := req.Marshal()
	var got RedisRequest
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Transaction == nil || len(got.Transaction.Commands) != 2 {
		t.Fatalf("transaction mismatch: %+v", got.Transaction)
	}
	if got.Transaction.Commands[1].RequestType != "INCR" {
		t.Fatalf("command order lost: %+v", got.Transaction.Commands)
	}
}

func TestResponseRoundTrip(t *testing.T) {
	resp := &Response{CallbackIdx: 99, Value: []byte("+OK\r\n")}
	b := resp.Marshal()
	var got Response
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.CallbackIdx != 99 || string(got.Value) != "+OK\r\n" {
		t.Fatalf("response mismatch: %+v", got)
	}
}

func TestResponseRequestError(t *testing.T) {
	resp := &Response{
		CallbackIdx:  5,
		RequestError: &RequestError{Kind: ErrorKindTimeout, Message: "deadline exceeded"},
	}
	b := resp.Marshal()
	var got Response
	if err := got.Unmarshal(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RequestError == nil || got.RequestError.Kind != ErrorKindTimeout {
		t.Fatalf("request error mismatch: %+v", got.RequestError)
	}
	if got.RequestError.Message != "deadline exceeded" {
		t.Fatalf("message mismatch: %q", got.RequestError.Message)
	}
}
