package wsserver

import "net/http"

// HTTPMethod enumerates the plain-HTTP events a Server exposes alongside
// the WebSocket upgrade path. This surface is deliberately
// thin: it shares the acceptor and lifecycle with the core, but routing
// within a method is entirely the handler's job.
type HTTPMethod string

const (
	MethodConnect HTTPMethod = http.MethodConnect
	MethodDelete  HTTPMethod = http.MethodDelete
	MethodGet     HTTPMethod = http.MethodGet
	MethodHead    HTTPMethod = http.MethodHead
	MethodOptions HTTPMethod = http.MethodOptions
	MethodPost    HTTPMethod = http.MethodPost
	MethodPut     HTTPMethod = http.MethodPut
	MethodTrace   HTTPMethod = http.MethodTrace
)

// httpDispatcher is the method -> handler map behind Server.OnMethod.
// A method with no registered handler falls through to 501,
// same as an unrecognized upgrade path.
type httpDispatcher struct {
	handlers map[HTTPMethod]http.HandlerFunc
}

func newHTTPDispatcher() *httpDispatcher {
	return &httpDispatcher{handlers: make(map[HTTPMethod]http.HandlerFunc)}
}

// On registers h for method, replacing any handler previously registered
// for it.
func (d *httpDispatcher) On(method HTTPMethod, h http.HandlerFunc) {
	d.handlers[method] = h
}

// dispatch routes a non-upgrade request to its registered handler, or
// writes 501 Not Implemented if none claimed the method.
func (d *httpDispatcher) dispatch(w http.ResponseWriter, r *http.Request) {
	h, ok := d.handlers[HTTPMethod(r.Method)]
	if !ok {
		http.Error(w, "no handler registered for "+r.Method, http.StatusNotImplemented)
		return
	}
	h(w, r)
}
