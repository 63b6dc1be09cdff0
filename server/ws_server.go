package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"utran/auth"
	"utran/transport"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS listens on address and upgrades every incoming request to a
// WebSocket connection, running it through the same dispatch pipeline as
// Serve's raw-stream connections. If handshake is non-nil it gates the
// upgrade: the server replies "ok" or an error text directly over the
// socket before entering the frame loop, and closes the connection on
// failure — matching the original's websocket_handler auth check.
func (svr *Server) ServeWS(address string, handshake *auth.Handshake) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("server: websocket upgrade failed: %v", err)
			return
		}
		wc := transport.NewWSConn(conn)

		if handshake != nil {
			ok := handshake.Authenticate(r)
			if err := handshake.Greet(wc, ok); err != nil || !ok {
				wc.Close()
				return
			}
		}

		svr.runConnection(wc)
	})

	return http.ListenAndServe(address, mux)
}
