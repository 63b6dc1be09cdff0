package client

import (
	"context"
	"net"
	"testing"
	"time"

	"utran/loadbalance"
	"utran/registry"
	"utran/server"
)

func addHandler(args []any, dicts map[string]any) (any, error) {
	return args[0].(float64) + args[1].(float64), nil
}

func startTestServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	svr := server.NewServer()
	svr.Register("Arith.Add", addHandler)
	go svr.Serve("tcp", addr, addr, "arith", nil)
	time.Sleep(50 * time.Millisecond)
	return addr
}

// mockRegistry is an in-memory registry.Registry for tests that need
// discovery without standing up etcd.
type mockRegistry struct {
	instances map[string][]registry.ServiceInstance
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{instances: make(map[string][]registry.ServiceInstance)}
}

func (m *mockRegistry) Register(serviceName string, inst registry.ServiceInstance, ttl int64) error {
	m.instances[serviceName] = append(m.instances[serviceName], inst)
	return nil
}

func (m *mockRegistry) Deregister(serviceName, addr string) error {
	insts := m.instances[serviceName]
	for i, inst := range insts {
		if inst.Addr == addr {
			m.instances[serviceName] = append(insts[:i], insts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *mockRegistry) Discover(serviceName string) ([]registry.ServiceInstance, error) {
	return m.instances[serviceName], nil
}

func (m *mockRegistry) Watch(serviceName string) <-chan []registry.ServiceInstance { return nil }

func TestClientCallRoundTrip(t *testing.T) {
	addr := startTestServer(t)

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	result, err := c.Call(context.Background(), "Arith.Add", []any{1.0, 2.0}, nil, CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.(float64) != 3 {
		t.Fatalf("expect 3, got %v", result)
	}
}

func TestClientCallMethodNotFound(t *testing.T) {
	addr := startTestServer(t)

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	_, err := c.Call(context.Background(), "nope", nil, nil, CallOptions{})
	if err == nil {
		t.Fatal("expected error for unregistered method")
	}
}

func TestClientCallWithDiscovery(t *testing.T) {
	addr := startTestServer(t)

	reg := newMockRegistry()
	reg.Register("arith", registry.ServiceInstance{Addr: addr, Weight: 1}, 10)
	bal := &loadbalance.RoundRobinBalancer{}

	c := NewClient("", WithDiscovery(reg, bal, "arith"))
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	result, err := c.Call(context.Background(), "Arith.Add", []any{10.0, 20.0}, nil, CallOptions{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if result.(float64) != 30 {
		t.Fatalf("expect 30, got %v", result)
	}
}

func TestClientMulticall(t *testing.T) {
	addr := startTestServer(t)

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	results, err := c.Multicall(context.Background(), []CallSpec{
		{Method: "Arith.Add", Args: []any{1.0, 1.0}},
		{Method: "Arith.Add", Args: []any{2.0, 2.0}},
	}, CallOptions{})
	if err != nil {
		t.Fatalf("Multicall: %v", err)
	}
	if results[0].(float64) != 2 || results[1].(float64) != 4 {
		t.Fatalf("unexpected multicall results: %+v", results)
	}
}

func TestClientSubscribePublish(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	svr := server.NewServer()
	go svr.Serve("tcp", addr, addr, "pubsub", nil)
	time.Sleep(50 * time.Millisecond)

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	received := make(chan string, 1)
	_, err = c.Subscribe(context.Background(), []string{"orders"}, func(msg any, topic string) {
		received <- topic
	}, CallOptions{})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	svr.Publish([]string{"orders"}, map[string]any{"id": 1})

	select {
	case topic := <-received:
		if topic != "orders" {
			t.Fatalf("expected topic orders, got %s", topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for publish push")
	}
}

func TestClientCallTimeout(t *testing.T) {
	addr := startTestServer(t)

	c := NewClient(addr)
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Exit()

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := c.Call(ctx, "Arith.Add", []any{1.0, 2.0}, nil, CallOptions{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}
