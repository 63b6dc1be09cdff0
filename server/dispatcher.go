package server

import (
	"context"
	"sync"

	"utran/message"
	"utran/protocol"
	"utran/registry"
	"utran/transport"
	"utran/uterr"
)

// Dispatcher is the five-arm dispatch the wire protocol's request kinds
// require: rpc, subscribe, unsubscribe, publish, multicall. Grounded on
// process_request's dispatch-by-kind switch and process_publish_request's
// per-subscriber fan-out in the original runner/server implementation.
type Dispatcher struct {
	methods *MethodRegistry
	subs    *registry.SubscriptionRegistry
	workers *WorkerPool

	mu    sync.RWMutex
	conns map[string]transport.Connection // subId -> live connection, for publish push
}

// NewDispatcher builds a Dispatcher. workers may be nil, in which case
// WithWorker-flagged methods always fail with uterr.ErrNoWorkerPool.
func NewDispatcher(methods *MethodRegistry, subs *registry.SubscriptionRegistry, workers *WorkerPool) *Dispatcher {
	return &Dispatcher{
		methods: methods,
		subs:    subs,
		workers: workers,
		conns:   make(map[string]transport.Connection),
	}
}

// Bind associates subId with its live connection, so a later publish can
// push to it. Called once per accepted connection.
func (d *Dispatcher) Bind(subId string, conn transport.Connection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[subId] = conn
}

// Unbind drops subId's connection and unsubscribes it from every topic.
// Safe to call more than once for the same subId.
func (d *Dispatcher) Unbind(subId string) {
	d.mu.Lock()
	delete(d.conns, subId)
	d.mu.Unlock()
	d.subs.RemoveSubscriber(subId)
}

// Dispatch routes req to the arm matching its kind. The returned bool
// reports whether the connection owning subId should be closed after the
// response is written (currently only unsubscribe-without-a-subscription).
func (d *Dispatcher) Dispatch(ctx context.Context, subId string, req message.Request) (*message.Response, bool) {
	switch r := req.(type) {
	case *message.RPCRequest:
		return d.dispatchRPC(ctx, r), false
	case *message.SubscribeRequest:
		return d.dispatchSubscribe(subId, r), false
	case *message.UnsubscribeRequest:
		return d.dispatchUnsubscribe(subId, r)
	case *message.PublishRequest:
		return d.dispatchPublish(r), false
	case *message.MulticallRequest:
		return d.dispatchMulticall(ctx, subId, r), false
	default:
		return &message.Response{ID: req.RequestID(), State: message.StateFailed, Error: "unsupported request kind"}, false
	}
}

func (d *Dispatcher) dispatchRPC(ctx context.Context, r *message.RPCRequest) *message.Response {
	resp := &message.Response{ID: r.ID, ResponseType: protocol.KindRPC, MethodName: r.MethodName}

	entry, ok := d.methods.Lookup(r.MethodName)
	if !ok {
		resp.State = message.StateFailed
		resp.Error = uterr.ErrMethodNotFound.Error()
		return resp
	}

	var (
		result any
		err    error
	)
	switch {
	case entry.useWorker && d.workers == nil:
		err = uterr.ErrNoWorkerPool
	case entry.useWorker:
		result, err = d.workers.Submit(ctx, r.MethodName, r.Args, r.Dicts)
	default:
		result, err = invokeSafely(entry, r.Args, r.Dicts)
	}

	if err != nil {
		resp.State = message.StateFailed
		resp.Error = err.Error()
		return resp
	}
	resp.State = message.StateSuccess
	resp.Result = result
	return resp
}

func (d *Dispatcher) dispatchSubscribe(subId string, r *message.SubscribeRequest) *message.Response {
	resp := &message.Response{ID: r.ID, ResponseType: protocol.KindSubscribe}
	if len(r.Topics) == 0 {
		resp.State = message.StateFailed
		resp.Error = uterr.ErrEmptyTopics.Error()
		resp.Result = message.SubscribeResult{AllTopics: d.subs.AllTopics(subId), SubTopics: []string{}}
		return resp
	}

	d.subs.AddSubscriber(subId)
	added := d.subs.AddTopics(subId, r.Topics)

	resp.State = message.StateSuccess
	resp.Result = message.SubscribeResult{AllTopics: d.subs.AllTopics(subId), SubTopics: added}
	return resp
}

func (d *Dispatcher) dispatchUnsubscribe(subId string, r *message.UnsubscribeRequest) (*message.Response, bool) {
	resp := &message.Response{ID: r.ID, ResponseType: protocol.KindUnsubscribe}
	if !d.subs.HasSubscriber(subId) {
		resp.State = message.StateFailed
		resp.Error = uterr.ErrNotSubscribed.Error()
		return resp, true
	}

	topics := r.Topics
	if len(topics) == 0 {
		topics = d.subs.AllTopics(subId)
	}
	removed := d.subs.RemoveTopics(subId, topics)
	resp.State = message.StateSuccess
	resp.Result = message.UnsubscribeResult{AllTopics: d.subs.AllTopics(subId), UnSubTopics: removed}
	return resp, false
}

func (d *Dispatcher) dispatchPublish(r *message.PublishRequest) *message.Response {
	resp := &message.Response{ID: r.ID, ResponseType: protocol.KindPublish}
	if len(r.Topics) == 0 {
		resp.State = message.StateFailed
		resp.Error = uterr.ErrEmptyTopics.Error()
		return resp
	}

	pushed := make(map[string]struct{})
	for _, topic := range r.Topics {
		for _, subId := range d.subs.SubscribersOf(topic) {
			key := topic + "\x00" + subId
			if _, dup := pushed[key]; dup {
				continue
			}
			pushed[key] = struct{}{}
			d.push(subId, topic, r.Msg)
		}
	}

	resp.State = message.StateSuccess
	return resp
}

// push sends one publish frame to subId's connection, if still bound.
// Ordering between subscribers is not guaranteed beyond the send order
// here. Sends are serial with no explicit yield between them; goroutine
// preemption stands in for process_publish_request's yield between sends.
func (d *Dispatcher) push(subId, topic string, msg any) {
	d.mu.RLock()
	conn, ok := d.conns[subId]
	d.mu.RUnlock()
	if !ok {
		return
	}

	payload, err := message.EncodeResponse(&message.Response{
		ResponseType: protocol.KindPublish,
		State:        message.StateSuccess,
		Result:       message.PublishResult{Topic: topic, Msg: msg},
	})
	if err != nil {
		return
	}
	conn.Send(&protocol.Frame{Kind: protocol.KindPublish, Payload: payload})
}

// dispatchMulticall fans each inner request out to its own goroutine and
// collects responses into a slice ordered by index, not arrival —
// DecodeRequest already rejects a nested multicall, so no recursion guard
// is needed here.
func (d *Dispatcher) dispatchMulticall(ctx context.Context, subId string, r *message.MulticallRequest) *message.Response {
	results := make([]*message.Response, len(r.Multiple))
	var wg sync.WaitGroup
	for i, inner := range r.Multiple {
		wg.Add(1)
		go func(i int, inner message.Request) {
			defer wg.Done()
			resp, _ := d.Dispatch(ctx, subId, inner)
			results[i] = resp
		}(i, inner)
	}
	wg.Wait()

	return &message.Response{
		ID:           r.ID,
		ResponseType: protocol.KindMulticall,
		State:        message.StateSuccess,
		Result:       results,
	}
}
