// Package rpc implements the request/response correlation table behind the
// client facade: each outstanding request (for a multicall, the outer
// request only — its inner calls are answered inside the one multicall
// response) gets a waiter channel keyed by its request id, and the goroutine that reads frames off the connection signals the
// matching waiter when the response arrives. This mirrors
// transport.ClientTransport's sync.Map-of-channels design one layer up,
// generalized to *message.Response bodies, bulk cancellation on disconnect,
// and a response cache for the case where a response lands before its
// waiter is armed.
package rpc

import (
	"sync"

	"utran/message"
	"utran/uterr"
)

// PendingTable tracks in-flight requests awaiting a response. One
// PendingTable is shared by every goroutine calling through a single
// connection.
type PendingTable struct {
	mu      sync.Mutex
	waiters map[uint64]chan *message.Response
	cache   map[uint64]*message.Response
}

// NewPendingTable creates an empty pending table.
func NewPendingTable() *PendingTable {
	return &PendingTable{
		waiters: make(map[uint64]chan *message.Response),
		cache:   make(map[uint64]*message.Response),
	}
}

// Register creates a buffered waiter channel for id and stores it. If a
// response for id already arrived via Signal before Register was called —
// possible across a reconnect replay race, where the response frame and the
// caller arming its waiter are not ordered by anything but goroutine
// scheduling — the cached response is delivered immediately on the returned
// channel instead.
//
// Two waiters registered for the same id is a programming error — request
// ids must be unique for the lifetime of the request — so Register returns
// uterr.ErrDuplicateWaiter rather than silently overwriting the first
// waiter, which would strand its caller forever.
func (t *PendingTable) Register(id uint64) (<-chan *message.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.waiters[id]; exists {
		return nil, uterr.ErrDuplicateWaiter
	}
	ch := make(chan *message.Response, 1)
	if cached, ok := t.cache[id]; ok {
		delete(t.cache, id)
		ch <- cached
		return ch, nil
	}
	t.waiters[id] = ch
	return ch, nil
}

// HasPending reports whether id has an armed waiter or a cached
// not-yet-claimed response.
func (t *PendingTable) HasPending(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, waiting := t.waiters[id]
	_, cached := t.cache[id]
	return waiting || cached
}

// Pop removes and returns a cached response for id without blocking, for
// callers that poll rather than arm a channel waiter. Reports whether a
// cached response was present.
func (t *PendingTable) Pop(id uint64) (*message.Response, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	resp, ok := t.cache[id]
	if ok {
		delete(t.cache, id)
	}
	return resp, ok
}

// Cancel removes id's waiter without signaling it, for a caller that gave up
// (e.g. a local timeout) and no longer wants the response. Reports whether a
// waiter was present.
func (t *PendingTable) Cancel(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.waiters[id]; !ok {
		return false
	}
	delete(t.waiters, id)
	return true
}

// Signal delivers resp to the waiter registered under resp.ID and removes
// it from the table. If no waiter has been armed yet, resp is cached until
// Register or Pop claims it — this is what lets a response win the race
// against its own caller arming the waiter. Reports whether a waiter was
// found immediately.
func (t *PendingTable) Signal(resp *message.Response) bool {
	t.mu.Lock()
	ch, ok := t.waiters[resp.ID]
	if ok {
		delete(t.waiters, resp.ID)
	} else {
		t.cache[resp.ID] = resp
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	ch <- resp
	return true
}

// CancelAll delivers a synthetic failed Response carrying reason's message to
// every outstanding waiter and empties the table, including the cache.
// The client calls it when reconnect attempts are exhausted and on Exit, so
// no caller blocks forever.
func (t *PendingTable) CancelAll(reason error) {
	t.mu.Lock()
	waiters := t.waiters
	t.waiters = make(map[uint64]chan *message.Response)
	t.cache = make(map[uint64]*message.Response)
	t.mu.Unlock()

	for id, ch := range waiters {
		ch <- &message.Response{ID: id, State: message.StateFailed, Error: reason.Error()}
	}
}

// Len reports the number of outstanding waiters, for tests and diagnostics.
func (t *PendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
