// Package server implements the RPC/pub-sub server: method registration,
// middleware chain, an optional worker pool for offloaded handlers, and
// graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Middleware Chain → Dispatcher.Dispatch → write response
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"utran/heartbeat"
	"utran/message"
	"utran/middleware"
	"utran/protocol"
	"utran/registry"
	"utran/transport"
	"utran/uterr"
)

// Server is the RPC/pub-sub server.
type Server struct {
	methods *MethodRegistry
	subs    *registry.SubscriptionRegistry
	workers *WorkerPool

	dispatcher *Dispatcher

	listener      net.Listener   // accept listener
	wg            sync.WaitGroup // tracks in-flight requests for graceful shutdown
	shutdown      atomic.Bool    // suppresses Accept errors during shutdown
	middlewares   []middleware.Middleware
	reg           registry.Registry // etcd registry, nil if not using discovery
	serviceName   string
	advertiseAddr string // routable address registered in etcd, distinct from the listen address

	workerCount    int
	heartbeatLimit time.Duration
	nextConnID     atomic.Uint64
}

// Option configures a Server at construction time.
type Option func(*Server)

// WithWorkerPool starts a worker pool of n goroutines for WithWorker-flagged
// methods. Without this option, such methods always fail with
// uterr.ErrNoWorkerPool.
func WithWorkerPool(n int) Option {
	return func(s *Server) { s.workerCount = n }
}

// WithHeartbeatLimit overrides the minimum spacing the server accepts
// between client PINGs before treating the connection as flooding (default
// heartbeat.DefaultLimitInterval).
func WithHeartbeatLimit(d time.Duration) Option {
	return func(s *Server) { s.heartbeatLimit = d }
}

// NewServer creates a server with an empty method registry.
func NewServer(opts ...Option) *Server {
	svr := &Server{
		methods:        NewMethodRegistry(),
		subs:           registry.NewSubscriptionRegistry(),
		heartbeatLimit: heartbeat.DefaultLimitInterval,
	}
	for _, opt := range opts {
		opt(svr)
	}
	if svr.workerCount > 0 {
		svr.workers = NewWorkerPool(svr.workerCount, svr.methods)
	}
	svr.dispatcher = NewDispatcher(svr.methods, svr.subs, svr.workers)
	return svr
}

// Register adds a callable method under name. Pass WithWorker() to run it
// on the server's worker pool instead of its own goroutine.
func (svr *Server) Register(name string, fn Handler, opts ...RegisterOption) {
	svr.methods.Register(name, fn, opts...)
}

// Use registers a middleware. Middlewares are applied in the order added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Publish pushes msg to every subscriber of topics, independent of any
// client request — for server-initiated events.
func (svr *Server) Publish(topics []string, msg any) {
	svr.dispatcher.Dispatch(context.Background(), "", &message.PublishRequest{Topics: topics, Msg: msg})
}

// Serve listens on address, optionally registers serviceName with reg under
// advertiseAddr, and enters the Accept loop. advertiseAddr differs from the
// listen address when address is a wildcard like ":8080".
func (svr *Server) Serve(network, address, advertiseAddr, serviceName string, reg registry.Registry) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	svr.listener = listener
	svr.advertiseAddr = advertiseAddr
	svr.serviceName = serviceName

	if reg != nil {
		svr.reg = reg
		if err := svr.reg.Register(serviceName, registry.ServiceInstance{Addr: advertiseAddr}, 10); err != nil {
			log.Printf("server: failed to register %q with discovery: %v", serviceName, err)
		}
	}

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// handleConn owns one raw-stream connection end to end: it wraps conn as a
// transport.Connection and runs it through runConnection.
func (svr *Server) handleConn(conn net.Conn) {
	svr.runConnection(transport.NewStreamConn(conn, protocol.DefaultMaxSize))
}

// runConnection binds a subscriber id to the dispatcher for publish push,
// builds the per-connection middleware chain, and runs the read loop until
// the connection closes. Shared by handleConn's raw-stream connections and
// ServeWS's upgraded WebSocket connections — both implement
// transport.Connection identically from this point on.
func (svr *Server) runConnection(conn transport.Connection) {
	subId := fmt.Sprintf("%s-%d", conn.RemoteAddr(), svr.nextConnID.Add(1))

	svr.dispatcher.Bind(subId, conn)
	defer svr.dispatcher.Unbind(subId)

	monitor := heartbeat.NewMonitor(svr.heartbeatLimit, func() {
		if err := conn.SendPong(); err != nil {
			log.Printf("server: failed to send pong to %s: %v", subId, err)
		}
	})

	businessHandler := func(ctx context.Context, req message.Request) *message.Response {
		resp, _ := svr.dispatcher.Dispatch(ctx, subId, req)
		return resp
	}
	handler := middleware.Chain(svr.middlewares...)(businessHandler)

	conn.Listen(
		func(frame *protocol.Frame) {
			req, err := message.DecodeRequest(frame.Payload)
			if err != nil {
				log.Printf("server: malformed request from %s: %v", subId, err)
				conn.Close()
				return
			}
			go svr.handleRequest(conn, handler, req)
		},
		func(ping bool) {
			if !ping {
				return
			}
			if err := monitor.Ping(); err != nil {
				log.Printf("server: closing %s: %v", subId, err)
				conn.Close()
			}
		},
		func(error) {},
	)
}

// handleRequest runs one request through the middleware chain and writes
// its response, closing the connection afterward if the dispatcher flagged
// it fatal (currently only unsubscribe-without-a-subscription).
func (svr *Server) handleRequest(conn transport.Connection, handler middleware.HandlerFunc, req message.Request) {
	svr.wg.Add(1)
	defer svr.wg.Done()

	resp := handler(context.Background(), req)

	payload, err := message.EncodeResponse(resp)
	if err != nil {
		log.Printf("server: failed to encode response: %v", err)
		return
	}
	if err := conn.Send(&protocol.Frame{Kind: resp.ResponseType, ID: resp.ID, Payload: payload}); err != nil {
		log.Printf("server: failed to write response: %v", err)
		return
	}

	if _, ok := req.(*message.UnsubscribeRequest); ok && resp.Error == uterr.ErrNotSubscribed.Error() {
		conn.Close()
	}
}

// Shutdown deregisters from discovery, stops accepting new connections, and
// waits for in-flight requests to finish, up to timeout.
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.reg != nil {
		if err := svr.reg.Deregister(svr.serviceName, svr.advertiseAddr); err != nil {
			log.Printf("server: failed to deregister %q: %v", svr.serviceName, err)
		}
	}

	svr.shutdown.Store(true)
	svr.listener.Close()

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for ongoing requests to finish")
	}

	if svr.workers != nil {
		svr.workers.Close()
	}
	return nil
}
