// Package client implements the RPC/pub-sub call facade: service discovery,
// load balancing, a reconnecting transport, and request/response
// correlation through a single multiplexed connection.
//
// Call flow:
//
//	Call(method, args, dicts, opts)
//	  → resolveAddr()                  → registry.Discover + balancer.Pick, or a fixed address
//	  → pending.Register(id)           → arm a waiter for this request id
//	  → ReconnectController.Send(frame) → write the frame (best-effort)
//	  → <-waiter                        → block for the matching response
//	  → unwrap Result / Error           → done
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"utran/heartbeat"
	"utran/loadbalance"
	"utran/message"
	"utran/protocol"
	"utran/registry"
	"utran/rpc"
	"utran/transport"
	"utran/uterr"
)

// CallOptions configures one Call/Multicall/Subscribe/Unsubscribe.
type CallOptions struct {
	Timeout   time.Duration // zero means block until the response arrives
	Ignore    bool          // on a remote failure, return the response's result instead of an error
	Multicall bool          // not read by any method; Client.Multicall builds its inner calls from CallSpec
	Encrypt   bool          // set the frame's encrypt bit
}

// topicHandler is a subscriber callback, invoked with the published message
// and the topic it arrived on.
type topicHandler func(msg any, topic string)

// CallSpec describes one inner call of a Multicall batch.
type CallSpec struct {
	Method string
	Args   []any
	Dicts  map[string]any
}

// Client is the RPC/pub-sub facade: a
// discovery-balance-transport-send-block-unmarshal Call generalized into
// the five operations the wire protocol supports.
type Client struct {
	reg      registry.Registry
	balancer loadbalance.Balancer
	service  string
	addr     string
	maxSize  int
	ignore   bool

	pending *rpc.PendingTable
	rc      *ReconnectController
	pulser  *heartbeat.Pulser

	pool     *transport.ConnPool // standby connections for the address currently in use
	poolAddr string

	mu     sync.Mutex
	topics map[string]topicHandler

	nextID atomic.Uint64
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithDiscovery resolves the server address through reg/bal on every
// (re)connect instead of dialing the fixed address passed to NewClient.
func WithDiscovery(reg registry.Registry, bal loadbalance.Balancer, serviceName string) Option {
	return func(c *Client) {
		c.reg = reg
		c.balancer = bal
		c.service = serviceName
	}
}

// WithIgnore sets the client-wide default for CallOptions.Ignore.
func WithIgnore(ignore bool) Option {
	return func(c *Client) { c.ignore = ignore }
}

// NewClient creates a client dialing addr directly; pass WithDiscovery to
// resolve the address through service discovery instead.
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{
		addr:    addr,
		pending: rpc.NewPendingTable(),
		topics:  make(map[string]topicHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) resolveAddr() (string, error) {
	if c.reg == nil {
		return c.addr, nil
	}
	instances, err := c.reg.Discover(c.service)
	if err != nil {
		return "", err
	}
	instance, err := c.balancer.Pick(instances)
	if err != nil {
		return "", err
	}
	return instance.Addr, nil
}

// dial resolves the server address and pulls a connection from that
// address's standby pool, dialing on demand if the pool is empty. The pool
// is kept warm with one spare connection so a reconnect after a drop
// doesn't pay net.Dial's latency on the attempt the caller is blocked on.
func (c *Client) dial() (transport.Connection, error) {
	addr, err := c.resolveAddr()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.pool == nil || c.poolAddr != addr {
		// maxConns is large relative to any realistic reconnect count: each
		// dial consumes its PoolConn for the life of that connection rather
		// than returning it, so a small cap would eventually block Get
		// forever across a long-lived client's many reconnects.
		c.pool = transport.NewConnPool(addr, 4096, func() (net.Conn, error) {
			return net.Dial("tcp", addr)
		})
		c.poolAddr = addr
	}
	pool := c.pool
	c.mu.Unlock()

	pc, err := pool.Get()
	if err != nil {
		return nil, err
	}
	pool.Warm(1)
	return transport.NewStreamConn(pc, c.maxSize), nil
}

// Start dials the server, begins the reconnect controller's read loop, and
// starts the heartbeat pulser. Call once before any other method.
func (c *Client) Start() error {
	c.rc = NewReconnectController(c.dial, 10, c.pending, c.onFrame, c.onHeartbeat, c.onReconnected)
	c.pulser = heartbeat.NewPulser(0, 0, c.rc.SendPing, c.rc.ForceReconnect)

	if err := c.rc.Start(); err != nil {
		return err
	}
	go c.pulser.Run()
	return nil
}

// onHeartbeat handles an inbound PING/PONG literal. A client only ever sees
// PONG, the server's answer to our own PING.
func (c *Client) onHeartbeat(ping bool) {
	if !ping {
		c.pulser.Alive()
	}
}

// onFrame routes one decoded frame: a publish push goes to its topic
// callback, everything else resolves a pending waiter.
func (c *Client) onFrame(frame *protocol.Frame) {
	c.pulser.Alive()

	resp, err := message.DecodeResponse(frame.Payload)
	if err != nil {
		return
	}

	if frame.Kind == protocol.KindPublish {
		pub, err := message.ParsePublishResult(resp)
		if err != nil {
			return
		}
		c.mu.Lock()
		cb, ok := c.topics[pub.Topic]
		c.mu.Unlock()
		if ok {
			go cb(pub.Msg, pub.Topic)
		}
		return
	}

	c.pending.Signal(resp)
}

// onReconnected re-subscribes every topic still registered, mirroring
// baseclient.py's start()/subscribe() replay after a successful reconnect.
// In-flight rpc/multicall/unsubscribe requests are deliberately not
// replayed here: doRequest resubmits them itself, with their original id,
// only once its own waiter times out while rc.ReconnectedSince() is true —
// resubmitting them both here and there would double-send on a fast
// round trip.
func (c *Client) onReconnected() {
	c.mu.Lock()
	topics := make([]string, 0, len(c.topics))
	for t := range c.topics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	if len(topics) == 0 {
		return
	}
	id := c.nextRequestID()
	payload, err := message.EncodeRequest(&message.SubscribeRequest{ID: id, Topics: topics})
	if err != nil {
		return
	}
	c.rc.Send(&protocol.Frame{Kind: protocol.KindSubscribe, ID: id, Payload: payload})
}

func (c *Client) nextRequestID() uint64 { return c.nextID.Add(1) }

// doRequest encodes req, arms a waiter, sends the frame, and blocks for the
// response or opts.Timeout. The send error is deliberately not fatal, the
// same way baseclient.py's `_send` swallows the send exception and always
// awaits the future — a frame sent while disconnected is simply lost, and
// the caller's timeout (or the reconnect race below) governs what happens
// next.
//
// A waiter timeout that races an in-progress reconnect is not a genuine
// local timeout: the request is resubmitted once, with its original id, on
// the connection the reconnect just restored. Only a second timeout (or a
// timeout with no reconnect in between) is surfaced as uterr.ErrLocalTimeout.
func (c *Client) doRequest(ctx context.Context, req message.Request, opts CallOptions) (*message.Response, error) {
	id := req.RequestID()
	payload, err := message.EncodeRequest(req)
	if err != nil {
		return nil, err
	}
	frame := &protocol.Frame{Kind: req.Kind(), ID: id, Encrypt: opts.Encrypt, Payload: payload}

	waiter, err := c.pending.Register(id)
	if err != nil {
		return nil, err
	}

	c.rc.Send(frame)

	retried := false
	for {
		callCtx := ctx
		var cancel context.CancelFunc
		if opts.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		}

		select {
		case resp := <-waiter:
			if cancel != nil {
				cancel()
			}
			c.rc.ClearReconnectMarkIfDrained()
			return resp, nil
		case <-callCtx.Done():
			if cancel != nil {
				cancel()
			}
			if !retried && c.rc.ReconnectedSince() {
				retried = true
				c.pending.Cancel(id)
				waiter, err = c.pending.Register(id)
				if err != nil {
					return nil, err
				}
				c.rc.Send(frame)
				continue
			}

			c.pending.Cancel(id)
			c.rc.ClearReconnectMarkIfDrained()
			return nil, uterr.ErrLocalTimeout
		}
	}
}

func (c *Client) effectiveIgnore(opts CallOptions) bool {
	return opts.Ignore || c.ignore
}

// Call invokes a registered remote method by name.
func (c *Client) Call(ctx context.Context, method string, args []any, dicts map[string]any, opts CallOptions) (any, error) {
	if args == nil {
		args = []any{}
	}
	if dicts == nil {
		dicts = map[string]any{}
	}
	req := &message.RPCRequest{ID: c.nextRequestID(), MethodName: method, Args: args, Dicts: dicts}

	resp, err := c.doRequest(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if resp.State == message.StateFailed && !c.effectiveIgnore(opts) {
		return nil, fmt.Errorf("utran: remote error: %s", resp.Error)
	}
	return resp.Result, nil
}

// Multicall batches calls into a single multicall frame; results are
// returned in the same order as calls, not arrival order.
func (c *Client) Multicall(ctx context.Context, calls []CallSpec, opts CallOptions) ([]any, error) {
	inner := make([]message.Request, len(calls))
	for i, spec := range calls {
		args := spec.Args
		if args == nil {
			args = []any{}
		}
		dicts := spec.Dicts
		if dicts == nil {
			dicts = map[string]any{}
		}
		inner[i] = &message.RPCRequest{ID: c.nextRequestID(), MethodName: spec.Method, Args: args, Dicts: dicts}
	}
	req := &message.MulticallRequest{ID: c.nextRequestID(), Multiple: inner}

	resp, err := c.doRequest(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	results, err := message.ParseMulticallResult(resp)
	if err != nil {
		return nil, err
	}

	ignore := c.effectiveIgnore(opts)
	out := make([]any, len(results))
	for i, r := range results {
		if r.State == message.StateFailed && !ignore {
			return nil, fmt.Errorf("utran: remote error in call %d: %s", i, r.Error)
		}
		out[i] = r.Result
	}
	return out, nil
}

// Subscribe joins topics, arming cb for every publish push that arrives on
// them. cb is re-armed automatically after a reconnect.
func (c *Client) Subscribe(ctx context.Context, topics []string, cb topicHandler, opts CallOptions) (*message.SubscribeResult, error) {
	if len(topics) == 0 {
		return nil, uterr.ErrEmptyTopics
	}
	req := &message.SubscribeRequest{ID: c.nextRequestID(), Topics: topics}

	resp, err := c.doRequest(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if resp.State == message.StateFailed && !c.effectiveIgnore(opts) {
		return nil, fmt.Errorf("utran: remote error: %s", resp.Error)
	}
	result, err := message.ParseSubscribeResult(resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, t := range topics {
		c.topics[t] = cb
	}
	c.mu.Unlock()
	return result, nil
}

// Unsubscribe leaves topics (all of them, if topics is empty).
func (c *Client) Unsubscribe(ctx context.Context, topics []string, opts CallOptions) (*message.UnsubscribeResult, error) {
	req := &message.UnsubscribeRequest{ID: c.nextRequestID(), Topics: topics}

	resp, err := c.doRequest(ctx, req, opts)
	if err != nil {
		return nil, err
	}
	if resp.State == message.StateFailed && !c.effectiveIgnore(opts) {
		return nil, fmt.Errorf("utran: remote error: %s", resp.Error)
	}
	result, err := message.ParseUnsubscribeResult(resp)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(topics) == 0 {
		c.topics = make(map[string]topicHandler)
	} else {
		for _, t := range topics {
			delete(c.topics, t)
		}
	}
	c.mu.Unlock()
	return result, nil
}

// Exit stops the heartbeat pulser, cancels every pending waiter, and closes
// the connection for good.
func (c *Client) Exit() error {
	if c.pulser != nil {
		c.pulser.Stop()
	}
	c.pending.CancelAll(uterr.ErrClosed)
	return c.rc.Close()
}
