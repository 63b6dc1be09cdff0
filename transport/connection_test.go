package transport

import (
	"net"
	"testing"
	"time"

	"utran/protocol"
)

func TestStreamConnSendAndListen(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewStreamConn(server, 0)
	cc := NewStreamConn(client, 0)

	frames := make(chan *protocol.Frame, 1)
	go cc.Listen(func(f *protocol.Frame) { frames <- f }, func(bool) {}, func(error) {})

	want := &protocol.Frame{Kind: protocol.KindRPC, ID: 1, Payload: []byte(`{"a":1}`)}
	if err := sc.Send(want); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case got := <-frames:
		if got.ID != want.ID || got.Kind != want.Kind {
			t.Errorf("frame mismatch: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestStreamConnHeartbeat(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := NewStreamConn(server, 0)
	cc := NewStreamConn(client, 0)

	pings := make(chan bool, 1)
	go cc.Listen(func(*protocol.Frame) {}, func(ping bool) { pings <- ping }, func(error) {})

	if err := sc.SendPing(); err != nil {
		t.Fatalf("SendPing failed: %v", err)
	}

	select {
	case ping := <-pings:
		if !ping {
			t.Error("expected a ping heartbeat")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for heartbeat")
	}
}

func TestStreamConnCloseNotifiesListener(t *testing.T) {
	server, client := net.Pipe()
	defer client.Close()

	cc := NewStreamConn(client, 0)
	closed := make(chan error, 1)
	go cc.Listen(func(*protocol.Frame) {}, func(bool) {}, func(err error) { closed <- err })

	server.Close()

	select {
	case err := <-closed:
		if err == nil {
			t.Error("expected a non-nil close error")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for close notification")
	}
}
