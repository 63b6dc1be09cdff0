// Package transport implements the two wire transports a Connection can run
// over — a raw TCP net.Conn (StreamConn) and a WebSocket (WSConn) — behind
// one interface, plus ConnPool, a warm-standby dialer used by the client's
// reconnect controller.
//
// Both transports share the same read-loop shape: one dedicated reader
// goroutine per connection decodes frames and hands each to a callback,
// while writes are serialized through a mutex so concurrent callers never
// interleave a frame's header and body on the wire.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/gorilla/websocket"

	"utran/protocol"
)

// Connection is the transport-agnostic interface the client, server
// dispatcher, and reconnect controller depend on.
type Connection interface {
	// Send writes one frame atomically; concurrent callers are serialized.
	Send(f *protocol.Frame) error

	// SendPing/SendPong write the bare heartbeat literal, bypassing framing.
	SendPing() error
	SendPong() error

	// SendText writes data as a raw, unframed message — used by the
	// handshake gate's "ok"/error reply, which (like PING/PONG) must reach
	// the peer before any protocol.Frame does.
	SendText(data []byte) error

	// Listen blocks, decoding frames off the connection and invoking
	// onFrame for each, onHeartbeat for each PING/PONG literal, until the
	// connection errors or is closed, at which point it invokes onClose
	// exactly once and returns.
	Listen(onFrame func(*protocol.Frame), onHeartbeat func(ping bool), onClose func(error))

	Close() error
	RemoteAddr() string
}

// StreamConn implements Connection over a raw net.Conn, the raw-stream
// wire variant.
type StreamConn struct {
	conn    net.Conn
	maxSize int

	writeMu sync.Mutex
}

// NewStreamConn wraps conn. maxSize bounds decoded frame payloads; 0 uses
// protocol.DefaultMaxSize.
func NewStreamConn(conn net.Conn, maxSize int) *StreamConn {
	return &StreamConn{conn: conn, maxSize: maxSize}
}

func (s *StreamConn) Send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err = s.conn.Write(data)
	return err
}

func (s *StreamConn) SendPing() error       { return s.writeRaw(protocol.PING) }
func (s *StreamConn) SendPong() error       { return s.writeRaw(protocol.PONG) }
func (s *StreamConn) SendText(b []byte) error { return s.writeRaw(b) }

func (s *StreamConn) writeRaw(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(b)
	return err
}

// Listen reads in 4KB chunks. A chunk that is exactly the PING or PONG
// literal is treated as a heartbeat and never reaches the frame decoder —
// mirroring server.py's `if data == HeartBeat.PING` whole-chunk comparison
// in __handle_client.
func (s *StreamConn) Listen(onFrame func(*protocol.Frame), onHeartbeat func(bool), onClose func(error)) {
	dec := protocol.NewDecoder(s.maxSize)
	buf := make([]byte, 4096)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			switch {
			case protocol.IsPing(chunk):
				onHeartbeat(true)
			case protocol.IsPong(chunk):
				onHeartbeat(false)
			default:
				dec.Feed(chunk)
				for {
					frame, ok, ferr := dec.Next()
					if ferr != nil {
						onClose(ferr)
						return
					}
					if !ok {
						break
					}
					onFrame(frame)
				}
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				onClose(io.EOF)
			} else {
				onClose(err)
			}
			return
		}
	}
}

func (s *StreamConn) Close() error       { return s.conn.Close() }
func (s *StreamConn) RemoteAddr() string { return s.conn.RemoteAddr().String() }

// WSConn implements Connection over a gorilla/websocket connection. Every
// protocol.Frame is sent as one binary message; heartbeats are sent as text
// messages carrying the literal PING/PONG bytes, since the original
// implementation's client also distinguishes heartbeat by payload equality
// rather than by the WebSocket control-frame ping/pong mechanism.
type WSConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// NewWSConn wraps an already-upgraded/dialed gorilla/websocket connection.
func NewWSConn(conn *websocket.Conn) *WSConn {
	return &WSConn{conn: conn}
}

func (w *WSConn) Send(f *protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *WSConn) SendPing() error       { return w.writeRaw(protocol.PING) }
func (w *WSConn) SendPong() error       { return w.writeRaw(protocol.PONG) }
func (w *WSConn) SendText(b []byte) error { return w.writeRaw(b) }

func (w *WSConn) writeRaw(b []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *WSConn) Listen(onFrame func(*protocol.Frame), onHeartbeat func(bool), onClose func(error)) {
	dec := protocol.NewDecoder(0)

	for {
		msgType, data, err := w.conn.ReadMessage()
		if err != nil {
			onClose(err)
			return
		}

		switch {
		case protocol.IsPing(data):
			onHeartbeat(true)
		case protocol.IsPong(data):
			onHeartbeat(false)
		case msgType == websocket.BinaryMessage || msgType == websocket.TextMessage:
			dec.Feed(data)
			for {
				frame, ok, ferr := dec.Next()
				if ferr != nil {
					onClose(ferr)
					return
				}
				if !ok {
					break
				}
				onFrame(frame)
			}
		}
	}
}

func (w *WSConn) Close() error       { return w.conn.Close() }
func (w *WSConn) RemoteAddr() string { return w.conn.RemoteAddr().String() }
