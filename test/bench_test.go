package test

import (
	"context"
	"net"
	"testing"
	"time"

	"utran/client"
	"utran/codec"
	"utran/server"
)

func setupServerAndClient(b *testing.B) (*server.Server, *client.Client) {
	b.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	svr := server.NewServer()
	svr.Register("Arith.Add", addArith)
	go svr.Serve("tcp", addr, addr, "Arith", nil)
	time.Sleep(100 * time.Millisecond)

	cli := client.NewClient(addr)
	if err := cli.Start(); err != nil {
		b.Fatal(err)
	}
	return svr, cli
}

// BenchmarkSerialCall measures single-goroutine sequential call latency.
func BenchmarkSerialCall(b *testing.B) {
	svr, cli := setupServerAndClient(b)
	b.Cleanup(func() {
		cli.Exit()
		svr.Shutdown(3 * time.Second)
	})

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := cli.Call(ctx, "Arith.Add", []any{1.0, 2.0}, nil, client.CallOptions{}); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkConcurrentCall measures throughput across many goroutines sharing
// one multiplexed connection — the scenario a single PendingTable exists for.
func BenchmarkConcurrentCall(b *testing.B) {
	svr, cli := setupServerAndClient(b)
	b.Cleanup(func() {
		cli.Exit()
		svr.Shutdown(3 * time.Second)
	})

	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := cli.Call(ctx, "Arith.Add", []any{1.0, 2.0}, nil, client.CallOptions{}); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

// BenchmarkCodecJSON measures JobEnvelope JSON round-trip cost, off the wire.
func BenchmarkCodecJSON(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeJSON)
	env := &codec.JobEnvelope{MethodName: "Arith.Add", Args: []byte(`[1,2]`), Dicts: []byte(`{}`)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(env)
		var out codec.JobEnvelope
		cdc.Decode(data, &out)
	}
}

// BenchmarkCodecBinary measures JobEnvelope binary round-trip cost, off the wire.
func BenchmarkCodecBinary(b *testing.B) {
	cdc := codec.GetCodec(codec.CodecTypeBinary)
	env := &codec.JobEnvelope{MethodName: "Arith.Add", Args: []byte(`[1,2]`), Dicts: []byte(`{}`)}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		data, _ := cdc.Encode(env)
		var out codec.JobEnvelope
		cdc.Decode(data, &out)
	}
}
