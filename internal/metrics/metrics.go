package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for wsserverd, covering session
// lifecycle events and handshake rejection reasons.
type Metrics struct {
	SessionsOpenedTotal   *prometheus.CounterVec
	SessionsClosedTotal   *prometheus.CounterVec
	ActiveSessions        *prometheus.GaugeVec
	BroadcastFramesTotal  *prometheus.CounterVec
	SweepClosuresTotal    *prometheus.CounterVec
	HandshakeRejectsTotal *prometheus.CounterVec
	ServerState           prometheus.Gauge
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		SessionsOpenedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_sessions_opened_total",
			Help: "Total sessions opened, by service path",
		}, []string{"path"}),
		SessionsClosedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_sessions_closed_total",
			Help: "Total sessions closed, by service path",
		}, []string{"path"}),
		ActiveSessions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wsserver_active_sessions",
			Help: "Current open sessions, by service path",
		}, []string{"path"}),
		BroadcastFramesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_broadcast_frames_total",
			Help: "Total broadcast fan-outs performed, by service path",
		}, []string{"path"}),
		SweepClosuresTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_sweep_closures_total",
			Help: "Total sessions closed by the periodic sweeper, by service path",
		}, []string{"path"}),
		HandshakeRejectsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "wsserver_handshake_rejects_total",
			Help: "Total handshake rejections, by service path and reason",
		}, []string{"path", "reason"}),
		ServerState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "wsserver_state",
			Help: "Server Controller lifecycle state (0=ready, 1=start, 2=shutting_down, 3=stop)",
		}),
	}
}

// SessionHook adapts a SessionManager's short event names ("add",
// "remove", "broadcast", "sweep_close") and the Server's
// "handshake_reject" to the per-path counters above. It is installed via
// Server.SetMetricHook, which forwards every path's Session Manager
// events with a path label, so all of them share one registry.
func (m *Metrics) SessionHook(event string, labels map[string]string) {
	path := labels["path"]
	switch event {
	case "add":
		m.SessionsOpenedTotal.WithLabelValues(path).Inc()
		m.ActiveSessions.WithLabelValues(path).Inc()
	case "remove":
		m.SessionsClosedTotal.WithLabelValues(path).Inc()
		m.ActiveSessions.WithLabelValues(path).Dec()
	case "broadcast":
		m.BroadcastFramesTotal.WithLabelValues(path).Inc()
	case "sweep_close":
		m.SweepClosuresTotal.WithLabelValues(path).Inc()
	case "handshake_reject":
		m.HandshakeRejectsTotal.WithLabelValues(path, labels["reason"]).Inc()
	}
}
