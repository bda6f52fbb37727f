package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Response is the JSON response from the /health endpoint.
type Response struct {
	Status         string   `json:"status"`
	Uptime         string   `json:"uptime"`
	ServerState    string   `json:"server_state"`
	ActiveSessions int      `json:"active_sessions"`
	Version        string   `json:"version"`
	Timestamp      string   `json:"timestamp"`
	Details        *Details `json:"details,omitempty"`
}

// Details contains extended health information.
type Details struct {
	SessionsByPath map[string]int `json:"sessions_by_path"`
	RegisteredPaths int           `json:"registered_paths"`
	MemoryMB        float64       `json:"memory_mb"`
}

// Handler serves the health check endpoint. It reports the Server
// Controller's lifecycle state rather than reachability of an
// upstream, since this server has no upstream to be unreachable from.
type Handler struct {
	startTime time.Time
	server    *wsserver.Server
	version   string
	detailed  bool
}

// NewHandler creates a new health check handler bound to server.
func NewHandler(server *wsserver.Server, version string, detailed bool) *Handler {
	return &Handler{
		startTime: time.Now(),
		server:    server,
		version:   version,
		detailed:  detailed,
	}
}

// ServeHTTP handles health check requests. The health listener runs on a
// loopback address separate from the Server Controller's listener, so
// local monitoring tools can check liveness without reaching the
// WebSocket-facing port.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	state := h.server.State()
	healthy := state == wsserver.Start

	status := "ok"
	httpCode := http.StatusOK
	if !healthy {
		status = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	active := 0
	byPath := make(map[string]int)
	for _, host := range h.server.Registry().Hosts() {
		if mgr := host.Sessions(); mgr != nil {
			n := mgr.Count()
			active += n
			byPath[host.Path] = n
		}
	}

	resp := Response{
		Status:         status,
		Uptime:         time.Since(h.startTime).Round(time.Second).String(),
		ServerState:    state.String(),
		ActiveSessions: active,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}

	if h.detailed {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)
		resp.Version = h.version
		resp.Details = &Details{
			SessionsByPath:  byPath,
			RegisteredPaths: len(h.server.Registry().Paths()),
			MemoryMB:        float64(memStats.Alloc) / 1024 / 1024,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	json.NewEncoder(w).Encode(resp)
}
