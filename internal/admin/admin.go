// Package admin exposes a read-mostly JSON API over the Server
// Controller, its ServiceRegistry, and the per-path SessionManagers,
// served from the loopback-only health listener alongside /health and
// /metrics. The only write operation is config reload, which defers to
// the same reload closure SIGHUP uses.
package admin

import (
	"net/http"
	"time"

	"github.com/cortexuvula/wsserver/internal/config"
	"github.com/cortexuvula/wsserver/internal/logring"
	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Dependencies holds all injected dependencies for the admin API.
type Dependencies struct {
	Server     *wsserver.Server
	RingBuffer *logring.RingBuffer
	Version    string
	BuildTime  string
	GitCommit  string
	StartTime  time.Time
	GetConfig  func() *config.Config
	ReloadFunc func() error
}

// API provides the HTTP handlers for the admin surface.
type API struct {
	deps Dependencies
}

// New creates a new admin API instance.
func New(deps Dependencies) *API {
	return &API{deps: deps}
}

// Handler returns an http.Handler for the /api/v1/ endpoints.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/status", a.handleStatus)
	mux.HandleFunc("/api/v1/services", a.handleServices)
	mux.HandleFunc("/api/v1/config", a.handleConfig)
	mux.HandleFunc("/api/v1/logs", a.handleLogs)
	mux.HandleFunc("/api/v1/reload", a.handleReload)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		next.ServeHTTP(w, r)
	})
}
