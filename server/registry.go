package server

import (
	"log"
	"sync"
)

// Handler is a registered method's implementation. It receives the request's
// positional args and keyword dicts directly — there is no fixed Go
// signature to satisfy via reflection, since register.py stores arbitrary
// callables by name and only optionally coerces argument types when a type
// annotation is present. Go has no runtime annotation introspection to
// mirror that coercion step, so Handler simply takes args/dicts as
// message.RPCRequest already carries them and leaves type assertions to the
// handler body.
type Handler func(args []any, dicts map[string]any) (any, error)

// methodEntry is one registered method: its handler plus dispatch flags.
type methodEntry struct {
	name      string
	handler   Handler
	useWorker bool
}

// RegisterOption configures a methodEntry at registration time.
type RegisterOption func(*methodEntry)

// WithWorker flags a method to run on the server's worker pool instead of
// its own per-request goroutine. Registering a method WithWorker on a
// server built without a worker pool fails every call with
// uterr.ErrNoWorkerPool rather than at registration time, a deliberately
// lazy failure-at-call-time style.
func WithWorker() RegisterOption {
	return func(e *methodEntry) { e.useWorker = true }
}

// MethodRegistry is a name -> Handler map, dispatching dynamically by
// dotted name rather than by reflecting over a receiver struct. Grounded on
// register.py's Register class: methods are registered by dotted name
// ("Service.Method") rather than discovered by scanning a receiver struct.
type MethodRegistry struct {
	mu      sync.RWMutex
	methods map[string]*methodEntry
}

// NewMethodRegistry creates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]*methodEntry)}
}

// Register adds fn under name. Re-registering an existing name replaces it
// and logs, rather than failing — a hot-reload-friendly policy the original
// implementation's dict-backed registry also allows implicitly.
func (r *MethodRegistry) Register(name string, fn Handler, opts ...RegisterOption) {
	entry := &methodEntry{name: name, handler: fn}
	for _, opt := range opts {
		opt(entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[name]; exists {
		log.Printf("server: replacing existing registration for %q", name)
	}
	r.methods[name] = entry
}

// Lookup returns the entry registered under name, if any.
func (r *MethodRegistry) Lookup(name string) (*methodEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.methods[name]
	return e, ok
}

// Names lists every registered method name, for diagnostics.
func (r *MethodRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.methods))
	for name := range r.methods {
		out = append(out, name)
	}
	return out
}
