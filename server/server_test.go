package server

import (
	"net"
	"testing"
	"time"

	"utran/message"
	"utran/protocol"
)

// dialFrame sends req over conn and reads back the matching response frame.
func dialFrame(t *testing.T, conn net.Conn, req message.Request) *message.Response {
	t.Helper()

	payload, err := message.EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	data, err := protocol.Encode(&protocol.Frame{Kind: req.Kind(), ID: req.RequestID(), Payload: payload})
	if err != nil {
		t.Fatalf("protocol.Encode: %v", err)
	}
	if _, err := conn.Write(data); err != nil {
		t.Fatalf("conn.Write: %v", err)
	}

	dec := protocol.NewDecoder(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			t.Fatalf("conn.Read: %v", err)
		}
		dec.Feed(buf[:n])
		frame, ok, ferr := dec.Next()
		if ferr != nil {
			t.Fatalf("decode: %v", ferr)
		}
		if !ok {
			continue
		}
		resp, err := message.DecodeResponse(frame.Payload)
		if err != nil {
			t.Fatalf("DecodeResponse: %v", err)
		}
		return resp
	}
}

func addHandler(args []any, dicts map[string]any) (any, error) {
	a := args[0].(float64)
	b := args[1].(float64)
	return a + b, nil
}

func dialServer(t *testing.T, svr *Server) net.Conn {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	go svr.Serve("tcp", addr, addr, "", nil)
	time.Sleep(50 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestServerRPCRoundTrip(t *testing.T) {
	svr := NewServer()
	svr.Register("Arith.Add", addHandler)

	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.RPCRequest{ID: 1, MethodName: "Arith.Add", Args: []any{1.0, 2.0}, Dicts: map[string]any{}})
	if resp.State != message.StateSuccess {
		t.Fatalf("expected success, got error: %s", resp.Error)
	}
	if resp.Result.(float64) != 3 {
		t.Fatalf("expected 3, got %v", resp.Result)
	}
}

func TestServerRPCMethodNotFound(t *testing.T) {
	svr := NewServer()
	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.RPCRequest{ID: 1, MethodName: "nope", Args: []any{}, Dicts: map[string]any{}})
	if resp.State != message.StateFailed {
		t.Fatal("expected failure for unregistered method")
	}
}

func TestServerSubscribeUnsubscribe(t *testing.T) {
	svr := NewServer()
	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.SubscribeRequest{ID: 1, Topics: []string{"orders"}})
	if resp.State != message.StateSuccess {
		t.Fatalf("expected subscribe success, got: %s", resp.Error)
	}
	sub, err := message.ParseSubscribeResult(resp)
	if err != nil {
		t.Fatalf("ParseSubscribeResult: %v", err)
	}
	if len(sub.SubTopics) != 1 || sub.SubTopics[0] != "orders" {
		t.Fatalf("unexpected subscribe result: %+v", sub)
	}

	resp = dialFrame(t, conn, &message.UnsubscribeRequest{ID: 2, Topics: []string{"orders"}})
	if resp.State != message.StateSuccess {
		t.Fatalf("expected unsubscribe success, got: %s", resp.Error)
	}
}

func TestServerUnsubscribeWithoutSubscriptionClosesConnection(t *testing.T) {
	svr := NewServer()
	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.UnsubscribeRequest{ID: 1, Topics: []string{"orders"}})
	if resp.State != message.StateFailed {
		t.Fatal("expected failure unsubscribing without a subscription")
	}

	conn.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err == nil {
		t.Fatal("expected connection to be closed by the server")
	}
}

func TestServerMulticall(t *testing.T) {
	svr := NewServer()
	svr.Register("Arith.Add", addHandler)

	conn := dialServer(t, svr)
	defer conn.Close()

	mc := &message.MulticallRequest{ID: 1, Multiple: []message.Request{
		&message.RPCRequest{ID: 1, MethodName: "Arith.Add", Args: []any{1.0, 2.0}, Dicts: map[string]any{}},
		&message.RPCRequest{ID: 1, MethodName: "nope", Args: []any{}, Dicts: map[string]any{}},
	}}
	resp := dialFrame(t, conn, mc)
	if resp.State != message.StateSuccess {
		t.Fatalf("expected multicall envelope success, got: %s", resp.Error)
	}
	results, err := message.ParseMulticallResult(resp)
	if err != nil {
		t.Fatalf("ParseMulticallResult: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 inner results, got %d", len(results))
	}
	if results[0].State != message.StateSuccess || results[0].Result.(float64) != 3 {
		t.Errorf("unexpected first result: %+v", results[0])
	}
	if results[1].State != message.StateFailed {
		t.Errorf("expected second result to fail, got: %+v", results[1])
	}
}

func TestServerWorkerPoolOffload(t *testing.T) {
	svr := NewServer(WithWorkerPool(2))
	svr.Register("Arith.Add", addHandler, WithWorker())

	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.RPCRequest{ID: 1, MethodName: "Arith.Add", Args: []any{4.0, 5.0}, Dicts: map[string]any{}})
	if resp.State != message.StateSuccess || resp.Result.(float64) != 9 {
		t.Fatalf("expected worker-pool success result 9, got: %+v", resp)
	}
}

func TestServerWorkerFlaggedWithoutPoolFails(t *testing.T) {
	svr := NewServer()
	svr.Register("Arith.Add", addHandler, WithWorker())

	conn := dialServer(t, svr)
	defer conn.Close()

	resp := dialFrame(t, conn, &message.RPCRequest{ID: 1, MethodName: "Arith.Add", Args: []any{1.0, 2.0}, Dicts: map[string]any{}})
	if resp.State != message.StateFailed {
		t.Fatal("expected failure when no worker pool is configured")
	}
}

func TestServerShutdownWaitsForInFlight(t *testing.T) {
	svr := NewServer()
	svr.Register("Arith.Add", addHandler)
	conn := dialServer(t, svr)
	defer conn.Close()

	dialFrame(t, conn, &message.RPCRequest{ID: 1, MethodName: "Arith.Add", Args: []any{1.0, 1.0}, Dicts: map[string]any{}})

	if err := svr.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
