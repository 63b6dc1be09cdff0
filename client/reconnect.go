package client

import (
	"log"
	"sync"
	"time"

	"utran/protocol"
	"utran/rpc"
	"utran/transport"
	"utran/uterr"
)

// State is the ReconnectController's lifecycle state.
type State int32

const (
	StateConnected State = iota
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// ReconnectController owns the single active transport.Connection a Client
// talks through, and the bounded-backoff reconnect loop that replaces it
// when the read loop exits unexpectedly.
//
// Grounded on baseclient.py's _reconnecting: a fixed number of attempts,
// `0.5 * min(i, 10)` seconds between tries, calling onReconnected (which
// re-subscribes topics) once a new connection is up, and
// cancelling every pending waiter once attempts are exhausted.
type ReconnectController struct {
	dial          func() (transport.Connection, error)
	maxAttempts   int
	pending       *rpc.PendingTable
	onFrame       func(*protocol.Frame)
	onHeartbeat   func(ping bool)
	onReconnected func()

	mu              sync.Mutex
	state           State
	conn            transport.Connection
	lastReconnectAt time.Time // zero means "no reconnect since the pending table last drained"
}

// NewReconnectController builds a controller. dial must return a freshly
// connected transport.Connection each time it is called. onHeartbeat is
// invoked for every inbound PING/PONG literal, bypassing the frame decoder
// the same way Connection.Listen does.
func NewReconnectController(
	dial func() (transport.Connection, error),
	maxAttempts int,
	pending *rpc.PendingTable,
	onFrame func(*protocol.Frame),
	onHeartbeat func(ping bool),
	onReconnected func(),
) *ReconnectController {
	return &ReconnectController{
		dial:          dial,
		maxAttempts:   maxAttempts,
		pending:       pending,
		onFrame:       onFrame,
		onHeartbeat:   onHeartbeat,
		onReconnected: onReconnected,
		state:         StateClosed,
	}
}

// Start dials the first connection and begins its read loop. Must be
// called once before any Send.
func (rc *ReconnectController) Start() error {
	conn, err := rc.dial()
	if err != nil {
		return err
	}

	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.mu.Unlock()

	go rc.listen(conn)
	return nil
}

func (rc *ReconnectController) listen(conn transport.Connection) {
	conn.Listen(rc.onFrame, rc.onHeartbeat, func(error) {
		rc.mu.Lock()
		wasConnected := rc.state == StateConnected
		if wasConnected {
			rc.state = StateReconnecting
		}
		rc.mu.Unlock()

		if wasConnected {
			go rc.reconnect()
		}
	})
}

// reconnect retries Start's dial up to maxAttempts times with the bounded
// backoff `0.5 * min(i, 10)` seconds, exactly as the original client's
// _reconnecting loop does. On success it re-arms the read loop and calls
// onReconnected; on exhaustion it closes for good and cancels every waiter.
func (rc *ReconnectController) reconnect() {
	log.Printf("client: connection lost, reconnecting")

	for i := 0; i < rc.maxAttempts; i++ {
		time.Sleep(time.Duration(500*min(i, 10)) * time.Millisecond)

		conn, err := rc.dial()
		if err != nil {
			log.Printf("client: reconnect attempt %d/%d failed: %v", i+1, rc.maxAttempts, err)
			continue
		}

		rc.mu.Lock()
		rc.conn = conn
		rc.state = StateConnected
		rc.lastReconnectAt = time.Now()
		rc.mu.Unlock()

		go rc.listen(conn)
		if rc.onReconnected != nil {
			rc.onReconnected()
		}
		return
	}

	rc.mu.Lock()
	rc.state = StateClosed
	rc.mu.Unlock()
	rc.pending.CancelAll(uterr.ErrReconnectExhausted)
}

// Send writes f on the current connection. Returns uterr.ErrDisconnected
// immediately while reconnecting or closed, rather than blocking. The
// caller's waiter survives regardless; reconnect itself does not replay the
// frame — Client.doRequest resubmits it if its waiter times out after a
// reconnect.
func (rc *ReconnectController) Send(f *protocol.Frame) error {
	rc.mu.Lock()
	conn, state := rc.conn, rc.state
	rc.mu.Unlock()

	if state != StateConnected || conn == nil {
		return uterr.ErrDisconnected
	}
	return conn.Send(f)
}

// SendPing writes the bare PING literal on the current connection.
func (rc *ReconnectController) SendPing() error {
	rc.mu.Lock()
	conn, state := rc.conn, rc.state
	rc.mu.Unlock()

	if state != StateConnected || conn == nil {
		return uterr.ErrDisconnected
	}
	return conn.SendPing()
}

// ForceReconnect closes the current connection, which drives it through the
// same path as an unexpected disconnect. Used by the heartbeat pulser when
// a PONG deadline is missed.
func (rc *ReconnectController) ForceReconnect() {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// State reports the controller's current lifecycle state.
func (rc *ReconnectController) State() State {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// ReconnectedSince reports whether a reconnect has completed since the
// pending-request table last fully drained. When a waiter times out while
// this is true, the timeout is racing a reconnect: the request is
// resubmitted with its original id rather than surfaced as a local timeout
// error.
func (rc *ReconnectController) ReconnectedSince() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return !rc.lastReconnectAt.IsZero()
}

// ClearReconnectMarkIfDrained clears lastReconnectAt once the pending table
// has no outstanding waiters left. Call after each request finishes,
// successfully or not.
func (rc *ReconnectController) ClearReconnectMarkIfDrained() {
	if rc.pending.Len() != 0 {
		return
	}
	rc.mu.Lock()
	rc.lastReconnectAt = time.Time{}
	rc.mu.Unlock()
}

// Close shuts the controller down for good; no further reconnect attempts
// are made.
func (rc *ReconnectController) Close() error {
	rc.mu.Lock()
	rc.state = StateClosed
	conn := rc.conn
	rc.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}
