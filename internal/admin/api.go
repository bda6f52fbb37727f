package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/cortexuvula/wsserver/internal/logring"
)

// statusResponse is the JSON body for GET /api/v1/status.
type statusResponse struct {
	Uptime         string  `json:"uptime"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	ServerState    string  `json:"server_state"`
	ActiveSessions int     `json:"active_sessions"`
	ServiceCount   int     `json:"service_count"`
	MemoryMB       float64 `json:"memory_mb"`
	Goroutines     int     `json:"goroutines"`
	Version        string  `json:"version"`
	BuildTime      string  `json:"build_time"`
	GitCommit      string  `json:"git_commit"`
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	active := 0
	for _, host := range a.deps.Server.Registry().Hosts() {
		if mgr := host.Sessions(); mgr != nil {
			active += mgr.Count()
		}
	}

	uptime := time.Since(a.deps.StartTime)
	resp := statusResponse{
		Uptime:         uptime.Round(time.Second).String(),
		UptimeSeconds:  uptime.Seconds(),
		ServerState:    a.deps.Server.State().String(),
		ActiveSessions: active,
		ServiceCount:   len(a.deps.Server.Registry().Paths()),
		MemoryMB:       float64(memStats.Alloc) / 1024 / 1024,
		Goroutines:     runtime.NumGoroutine(),
		Version:        a.deps.Version,
		BuildTime:      a.deps.BuildTime,
		GitCommit:      a.deps.GitCommit,
	}

	writeJSON(w, http.StatusOK, resp)
}

// serviceEntry describes one registered path for GET /api/v1/services.
type serviceEntry struct {
	Path     string `json:"path"`
	State    string `json:"state"`
	Sessions int    `json:"sessions"`
}

func (a *API) handleServices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	hosts := a.deps.Server.Registry().Hosts()
	entries := make([]serviceEntry, 0, len(hosts))
	for _, host := range hosts {
		n := 0
		if mgr := host.Sessions(); mgr != nil {
			n = mgr.Count()
		}
		entries = append(entries, serviceEntry{
			Path:     host.Path,
			State:    host.State().String(),
			Sessions: n,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	writeJSON(w, http.StatusOK, entries)
}

// configResponse is the JSON body for GET /api/v1/config. Credentials are
// reported only as a presence flag, never echoed back.
type configResponse struct {
	BindAddress  string `json:"bind_address"`
	Port         int    `json:"port"`
	Secure       bool   `json:"secure"`
	DocumentRoot string `json:"document_root"`
	WaitTime     string `json:"wait_time"`
	KeepClean    bool   `json:"keep_clean"`
	AuthScheme   string `json:"auth_scheme"`
	Realm        string `json:"realm"`
	HasCreds     bool   `json:"credentials_set"`
	LogLevel     string `json:"log_level"`
}

func (a *API) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	cfg := a.deps.GetConfig()
	resp := configResponse{
		BindAddress:  cfg.Server.BindAddress,
		Port:         cfg.Server.Port,
		Secure:       cfg.Server.Secure,
		DocumentRoot: cfg.Server.DocumentRoot,
		WaitTime:     cfg.Server.WaitTime.String(),
		KeepClean:    cfg.Server.KeepClean,
		AuthScheme:   cfg.Security.AuthScheme,
		Realm:        cfg.Security.Realm,
		HasCreds:     len(cfg.Security.Credentials) > 0,
		LogLevel:     cfg.Logging.Level,
	}

	writeJSON(w, http.StatusOK, resp)
}

// logEntryResponse mirrors logring.LogEntry for JSON serialization.
type logEntryResponse struct {
	Time    string         `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Service string         `json:"service,omitempty"`
	Session string         `json:"session,omitempty"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// handleLogs tails the log ring buffer. Query parameters: limit, level,
// since (RFC 3339), service (canonical path), session (id) — the last
// two match the tags TeeHandler promotes from the server's log attrs.
func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	filter := logring.Filter{
		Limit:    100,
		MinLevel: slog.LevelDebug,
		Service:  r.URL.Query().Get("service"),
		Session:  r.URL.Query().Get("session"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			filter.Limit = n
		}
	}
	switch r.URL.Query().Get("level") {
	case "info":
		filter.MinLevel = slog.LevelInfo
	case "warn":
		filter.MinLevel = slog.LevelWarn
	case "error":
		filter.MinLevel = slog.LevelError
	}
	if v := r.URL.Query().Get("since"); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			filter.Since = t
		}
	}

	entries := a.deps.RingBuffer.Tail(filter)
	resp := make([]logEntryResponse, len(entries))
	for i, e := range entries {
		resp[i] = logEntryResponse{
			Time:    e.Time.Format(time.RFC3339Nano),
			Level:   e.Level.String(),
			Message: e.Message,
			Service: e.Service,
			Session: e.Session,
			Attrs:   e.Attrs,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if !requireJSON(w, r) {
		return
	}

	if a.deps.ReloadFunc == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reload not available"})
		return
	}
	if err := a.deps.ReloadFunc(); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	slog.Info("config reloaded via admin API")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// requireJSON checks that the Content-Type header is application/json.
func requireJSON(w http.ResponseWriter, r *http.Request) bool {
	if r.Header.Get("Content-Type") != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Content-Type must be application/json"})
		return false
	}
	return true
}
