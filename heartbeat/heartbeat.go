// Package heartbeat implements the PING/PONG liveness check shared by both
// ends of a connection: the client side periodically sends PING and expects
// a PONG before a deadline, while the server side reacts to an inbound PING
// with an immediate PONG, subject to a minimum interval that rejects a flood
// of heartbeats as an attack (original_source's server.py
// websocket_handler, which tracks a last-ping timestamp per connection and
// closes it when two pings arrive closer together than
// limitHeartbeatInterval).
package heartbeat

import (
	"sync"
	"time"

	"utran/uterr"
)

// DefaultLimitInterval is the minimum spacing the server-side Monitor
// accepts between two inbound pings, mirroring the original's
// limitHeartbeatInterval default of one second.
const DefaultLimitInterval = 1 * time.Second

// DefaultPingInterval is how often a client-side Pulser sends PING.
const DefaultPingInterval = 30 * time.Second

// DefaultPongTimeout bounds how long a client-side Pulser waits for PONG
// after sending PING before declaring the connection dead.
const DefaultPongTimeout = 10 * time.Second

// Monitor is the server-side half: it rejects pings that arrive faster than
// limitInterval allows, and answers every accepted ping by calling onPong.
type Monitor struct {
	mu           sync.Mutex
	limitInterval time.Duration
	lastPing      time.Time
	onPong        func()
}

// NewMonitor creates a Monitor. A zero limitInterval uses DefaultLimitInterval.
func NewMonitor(limitInterval time.Duration, onPong func()) *Monitor {
	if limitInterval <= 0 {
		limitInterval = DefaultLimitInterval
	}
	return &Monitor{limitInterval: limitInterval, onPong: onPong, lastPing: time.Time{}}
}

// Ping records an inbound ping and calls onPong, unless it arrived sooner
// than limitInterval after the previous one, in which case it returns
// uterr.ErrHeartbeatFlood and the caller should close the connection.
func (m *Monitor) Ping() error {
	m.mu.Lock()
	now := time.Now()
	if !m.lastPing.IsZero() && now.Sub(m.lastPing) < m.limitInterval {
		m.mu.Unlock()
		return uterr.ErrHeartbeatFlood
	}
	m.lastPing = now
	m.mu.Unlock()

	m.onPong()
	return nil
}

// Pulser is the client-side half: it sends PING on a fixed interval via
// sendPing, and expects Alive to be called (by the reader, on every inbound
// PONG or frame) before pongTimeout elapses, else onTimeout fires once and
// the Pulser stops.
type Pulser struct {
	pingInterval time.Duration
	pongTimeout  time.Duration
	sendPing     func() error
	onTimeout    func()

	mu       sync.Mutex
	lastPong time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewPulser creates a Pulser. Zero durations use the package defaults.
func NewPulser(pingInterval, pongTimeout time.Duration, sendPing func() error, onTimeout func()) *Pulser {
	if pingInterval <= 0 {
		pingInterval = DefaultPingInterval
	}
	if pongTimeout <= 0 {
		pongTimeout = DefaultPongTimeout
	}
	return &Pulser{
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		sendPing:     sendPing,
		onTimeout:    onTimeout,
		lastPong:     time.Now(),
		stopCh:       make(chan struct{}),
	}
}

// Alive resets the pong deadline. Call it whenever any inbound byte arrives,
// not just a literal PONG — a live connection producing any traffic proves
// liveness just as well.
func (p *Pulser) Alive() {
	p.mu.Lock()
	p.lastPong = time.Now()
	p.mu.Unlock()
}

// Run blocks, sending PING on every tick and checking the pong deadline,
// until Stop is called or sendPing fails. Meant to run in its own goroutine.
func (p *Pulser) Run() {
	ticker := time.NewTicker(p.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.mu.Lock()
			deadline := p.lastPong.Add(p.pingInterval + p.pongTimeout)
			timedOut := time.Now().After(deadline)
			p.mu.Unlock()

			if timedOut {
				p.onTimeout()
				return
			}
			if err := p.sendPing(); err != nil {
				p.onTimeout()
				return
			}
		}
	}
}

// Stop halts Run. Safe to call more than once or concurrently.
func (p *Pulser) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
