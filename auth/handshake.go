// Package auth implements the optional HTTP Basic-style gate a WebSocket
// upgrade can run before entering the normal frame-receive loop.
//
// Grounded on baseclient.py's default aiohttp.BasicAuth("utranhost",
// "utranhost") credentials and the matching server-side check (seen in
// tests/test_server0.py's handle): the server decodes the Authorization
// header (or, as a fallback, an "Authorization" query parameter), compares
// it against the expected username/password, and replies over the raw
// socket with the literal "ok" on success or an error string on failure —
// both sent before any protocol.Frame, the same way PING/PONG bypass
// framing.
package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"utran/transport"
)

// DefaultUsername and DefaultPassword match the original's fallback
// credentials when the caller supplies none of its own.
const (
	DefaultUsername = "utranhost"
	DefaultPassword = "utranhost"
)

// FailureMessage is sent to a peer that fails the handshake.
const FailureMessage = "authentication failed"

// Handshake checks one username/password pair.
type Handshake struct {
	Username string
	Password string
}

// NewHandshake builds a Handshake requiring username/password.
func NewHandshake(username, password string) *Handshake {
	return &Handshake{Username: username, Password: password}
}

// NewDefaultHandshake uses the original's default credentials.
func NewDefaultHandshake() *Handshake {
	return NewHandshake(DefaultUsername, DefaultPassword)
}

// Authenticate reports whether r carries credentials matching h.
func (h *Handshake) Authenticate(r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if header == "" {
		header = r.URL.Query().Get("Authorization")
	}
	if header == "" {
		return false
	}

	username, password, ok := decodeBasic(header)
	return ok && username == h.Username && password == h.Password
}

func decodeBasic(header string) (string, string, bool) {
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return "", "", false
	}
	raw, err := base64.StdEncoding.DecodeString(header[len(prefix):])
	if err != nil {
		return "", "", false
	}
	user, pass, found := strings.Cut(string(raw), ":")
	if !found {
		return "", "", false
	}
	return user, pass, true
}

// Greet sends the handshake's outcome over conn before any framed traffic
// is exchanged: "ok" if authenticated, FailureMessage otherwise. The caller
// is responsible for closing conn after a failed greet.
func (h *Handshake) Greet(conn transport.Connection, authenticated bool) error {
	if authenticated {
		return conn.SendText([]byte("ok"))
	}
	return conn.SendText([]byte(FailureMessage))
}
