package client

import (
	"context"
	"net"
	"testing"
	"time"

	"utran/message"
	"utran/protocol"
)

// dropThenRespondServer accepts exactly two connections on addr: the first
// is read once and closed without a reply, simulating a server killed
// mid-request; the second replies successfully to whatever rpc request
// arrives, carrying the request's own id back in the response. This
// reproduces Scenario S4: a waiter timeout racing a reconnect must resubmit
// with the same id and the caller must see exactly one return value.
func dropThenRespondServer(t *testing.T, ln net.Listener) {
	t.Helper()

	go func() {
		first, err := ln.Accept()
		if err != nil {
			return
		}
		readOneFrame(first)
		first.Close()

		second, err := ln.Accept()
		if err != nil {
			return
		}
		defer second.Close()

		frame := readOneFrame(second)
		if frame == nil {
			return
		}
		req, err := message.DecodeRequest(frame.Payload)
		if err != nil {
			return
		}
		payload, err := message.EncodeResponse(&message.Response{
			ID:           req.RequestID(),
			ResponseType: protocol.KindRPC,
			State:        message.StateSuccess,
			Result:       42.0,
		})
		if err != nil {
			return
		}
		data, err := protocol.Encode(&protocol.Frame{Kind: protocol.KindRPC, ID: req.RequestID(), Payload: payload})
		if err != nil {
			return
		}
		second.Write(data)
	}()
}

// readOneFrame blocks for a single decoded frame off conn, or returns nil on
// any read/decode error.
func readOneFrame(conn net.Conn) *protocol.Frame {
	dec := protocol.NewDecoder(0)
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			frame, ok, ferr := dec.Next()
			if ferr != nil {
				return nil
			}
			if ok {
				return frame
			}
		}
		if err != nil {
			return nil
		}
	}
}

func TestDoRequestResubmitsOnTimeoutDuringReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	dropThenRespondServer(t, ln)
	defer ln.Close()

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	// Long enough that the first connection's drop and the reconnect it
	// triggers both land well before this fires, short enough the test
	// doesn't hang.
	result, err := c.Call(context.Background(), "Arith.Add", []any{1.0, 1.0}, nil, CallOptions{
		Timeout: 500 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("expected one successful return value, got error: %v", err)
	}
	if result.(float64) != 42 {
		t.Fatalf("expected 42, got %v", result)
	}
}

func TestDoRequestGenuineTimeoutWithoutReconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	defer ln.Close()

	// Accept and hold the connection open forever, never replying — no
	// disconnect ever happens, so the timeout must surface as a genuine
	// local error rather than trigger a resubmit.
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		readOneFrame(conn)
	}()

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	_, err = c.Call(context.Background(), "Arith.Add", []any{1.0, 1.0}, nil, CallOptions{
		Timeout: 50 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected a genuine local timeout error")
	}
}
