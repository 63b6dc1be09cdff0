// Package httpadapter exposes a thin GET/POST surface on top of a method
// registry, for callers that want to hit a registered RPC method over
// plain HTTP instead of opening a framed connection.
//
// Grounded on webserver.py's http_handler: GET and POST each keep their own
// name->handler table, a dotted method name becomes a slash path
// ("Arith.Add" -> "/Arith/Add", mirroring register.py's
// name.replace('.','/')), query parameters become the dicts argument, and
// there are never positional args on this path. The response envelope and
// status codes (400 unknown path, 422 handler failure, 500 disallowed
// method) match the original's http_handler exactly.
package httpadapter

import (
	"encoding/json"
	"net/http"
	"strings"

	"utran/server"
)

type envelope struct {
	State  int    `json:"state"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Adapter routes GET/POST requests to server.Handler functions by path.
type Adapter struct {
	get  map[string]server.Handler
	post map[string]server.Handler
}

// NewAdapter builds an empty Adapter; register paths with RegisterGET/RegisterPOST.
func NewAdapter() *Adapter {
	return &Adapter{
		get:  make(map[string]server.Handler),
		post: make(map[string]server.Handler),
	}
}

func methodPath(name string) string {
	return "/" + strings.ReplaceAll(name, ".", "/")
}

// RegisterGET exposes fn over GET at the path derived from name.
func (a *Adapter) RegisterGET(name string, fn server.Handler) {
	a.get[methodPath(name)] = fn
}

// RegisterPOST exposes fn over POST at the path derived from name.
func (a *Adapter) RegisterPOST(name string, fn server.Handler) {
	a.post[methodPath(name)] = fn
}

// ServeHTTP implements http.Handler.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var table map[string]server.Handler
	switch r.Method {
	case http.MethodGet:
		table = a.get
	case http.MethodPost:
		table = a.post
	default:
		writeEnvelope(w, http.StatusInternalServerError, envelope{Error: "Method that is not allowed by the server"})
		return
	}

	fn, ok := table[r.URL.Path]
	if !ok {
		writeEnvelope(w, http.StatusBadRequest, envelope{Error: "Not found!"})
		return
	}

	dicts := make(map[string]any, len(r.URL.Query()))
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			dicts[k] = v[0]
		}
	}

	result, err := fn(nil, dicts)
	if err != nil {
		writeEnvelope(w, http.StatusUnprocessableEntity, envelope{Error: err.Error()})
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{State: 1, Result: result})
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(env)
}
