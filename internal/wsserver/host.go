package wsserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/wsserver/internal/security"
)

// BehaviorFactory constructs a fresh Behavior for one accepted connection.
// There is no pooling: every accepted upgrade gets its own instance.
type BehaviorFactory func() Behavior

// Initializer is run once, immediately after the factory constructs a
// Behavior and before the handshake, so callers can set per-host
// validators/config that would otherwise require a closure per path.
type Initializer func(Behavior)

// ServiceHost is the registry entry for one path: a factory, a wait
// time, a keep-clean flag, and its SessionManager. It owns its
// SessionManager for the Host's lifetime.
type ServiceHost struct {
	Path        string
	factory     BehaviorFactory
	initializer Initializer

	mu        sync.RWMutex
	waitTime  time.Duration
	keepClean bool
	state     State
	sessions  *SessionManager

	onHandshakeReject func(reason string)
	onSessionMetric   func(event string)
}

// NewServiceHost constructs a Host in state Ready with the defaults:
// wait time 1s, keep-clean on.
func NewServiceHost(path string, factory BehaviorFactory) *ServiceHost {
	return &ServiceHost{
		Path:      path,
		factory:   factory,
		waitTime:  1 * time.Second,
		keepClean: true,
		state:     Ready,
	}
}

// SetInitializer installs the Initializer; only valid in state Ready.
func (h *ServiceHost) SetInitializer(init Initializer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		slog.Warn("SetInitializer ignored: host is not Ready", "path", h.Path, "state", h.state)
		return
	}
	h.initializer = init
}

// SetWaitTime sets the per-session ping/close timeout. Guarded: a no-op
// with a warning once the host has left Ready.
func (h *ServiceHost) SetWaitTime(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		slog.Warn("SetWaitTime ignored: host is not Ready", "path", h.Path, "state", h.state)
		return
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	h.waitTime = d
}

// SetKeepClean enables/disables the periodic sweeper. Guarded like
// SetWaitTime.
func (h *ServiceHost) SetKeepClean(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state != Ready {
		slog.Warn("SetKeepClean ignored: host is not Ready", "path", h.Path, "state", h.state)
		return
	}
	h.keepClean = v
}

// OnHandshakeReject installs an optional observer invoked with the
// rejection reason each time the Handshake Validator turns away an
// upgrade on this Host (used by metrics).
func (h *ServiceHost) OnHandshakeReject(fn func(reason string)) { h.onHandshakeReject = fn }

// SetMetricHook installs an observer forwarded to this Host's
// SessionManager once it is created by Start (used by metrics).
func (h *ServiceHost) SetMetricHook(fn func(event string)) { h.onSessionMetric = fn }

// Sessions returns this Host's SessionManager.
func (h *ServiceHost) Sessions() *SessionManager {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions
}

// State returns the Host's current lifecycle state.
func (h *ServiceHost) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Start transitions Ready -> Start: creates the SessionManager and
// enables the sweeper if keepClean.
func (h *ServiceHost) Start() {
	h.mu.Lock()
	h.sessions = NewSessionManager(h.waitTime, h.keepClean)
	if h.onSessionMetric != nil {
		h.sessions.SetMetricHook(h.onSessionMetric)
	}
	h.state = Start
	mgr := h.sessions
	h.mu.Unlock()
	mgr.Start()
}

// Stop transitions Start -> ShuttingDown -> Stop: fan out close(code,
// reason) to every live session, then clear the registry.
func (h *ServiceHost) Stop(code int, reason string) error {
	h.mu.Lock()
	h.state = ShuttingDown
	mgr := h.sessions
	h.mu.Unlock()

	var err error
	if mgr != nil {
		err = mgr.Stop(code, reason)
	}

	h.mu.Lock()
	h.state = Stop
	h.mu.Unlock()
	return err
}

// Abort is the forced counterpart to Stop, used by the Server's abort()
// path: no clean close handshake, sessions transition straight to Closed.
func (h *ServiceHost) Abort(code int, reason string) {
	h.mu.Lock()
	h.state = ShuttingDown
	mgr := h.sessions
	h.mu.Unlock()

	if mgr != nil {
		mgr.Abort(code, reason)
	}

	h.mu.Lock()
	h.state = Stop
	h.mu.Unlock()
}

// startSession accepts one upgrade request: construct a
// Connection bound to the upgrade request, build and configure a fresh
// Behavior, install its handshake validators, run the handshake, and
// register the resulting Session. Rejections are answered on the HTTP
// channel; nothing ever panics out to the caller's acceptor loop.
func (h *ServiceHost) startSession(w http.ResponseWriter, r *http.Request, principal string) {
	h.mu.RLock()
	waitTime := h.waitTime
	mgr := h.sessions
	state := h.state
	h.mu.RUnlock()

	if state != Start || mgr == nil {
		http.Error(w, "service not started", http.StatusServiceUnavailable)
		return
	}

	behavior := h.factory()
	if h.initializer != nil {
		h.initializer(behavior)
	}
	base := behavior.base()

	hctx := newHandshakeContext(r, principal)
	offered := offeredSubprotocols(r)
	cfg := base.validatorConfig()

	acceptedProtocol, _, rej := runValidator(cfg, hctx, offered)
	if rej != nil {
		if h.onHandshakeReject != nil {
			h.onHandshakeReject(rej.reason)
		}
		slog.Info("handshake rejected", "path", h.Path, "reason", rej.reason, "remote", security.ExtractClientIP(r.RemoteAddr))
		http.Error(w, rej.reason, rej.status)
		return
	}

	acceptOpts := &websocket.AcceptOptions{
		InsecureSkipVerify: true, // the validator above already ran the Origin check
	}
	if acceptedProtocol != "" {
		acceptOpts.Subprotocols = []string{acceptedProtocol}
	}
	if cfg.IgnoreExtensions {
		acceptOpts.CompressionMode = websocket.CompressionDisabled
	}
	if base.EmitOnPing {
		acceptOpts.OnPingReceived = func(_ context.Context, payload []byte) bool {
			behavior.OnMessage(MessageEvent{Opcode: OpcodePing, Data: payload})
			return true
		}
	}

	wsConn, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		slog.Error("websocket accept failed", "path", h.Path, "error", err)
		return
	}

	conn := newConnection(wsConn, waitTime, acceptedProtocol)
	session := &Session{
		Behavior:   behavior,
		Connection: conn,
		StartTime:  time.Now(),
		Context:    hctx,
	}
	base.bind(session)

	conn.setOnClose(func(ev CloseEvent) {
		if session.ID != "" {
			mgr.Remove(session.ID)
		}
		behavior.OnClose(ev)
	})

	conn.open()
	id := mgr.Add(session)
	if id == "" {
		conn.abort(CloseGoingAway, "service not accepting sessions")
		return
	}

	behavior.OnOpen()
	go h.readLoop(session)
}

// readLoop pumps inbound frames for one Session until the Connection
// closes, delivering each as a MessageEvent to the Behavior.
func (h *ServiceHost) readLoop(s *Session) {
	for {
		if s.Connection.ReadyState() != Open {
			return
		}
		msgType, reader, err := s.Connection.conn.Reader(context.Background())
		if err != nil {
			var closeErr websocket.CloseError
			wasClean := errorsAsCloseError(err, &closeErr)
			if wasClean {
				// The codec has already answered the peer's close frame, so
				// the handshake is complete: no second close frame is
				// written and the close is reported as clean.
				c := s.Connection
				c.closeOnce.Do(func() {
					if c.ReadyState() == Open {
						c.state.Store(int32(Closing))
					}
					c.conn.CloseNow()
					c.state.Store(int32(Closed))
					if c.onClose != nil {
						c.onClose(CloseEvent{Code: int(closeErr.Code), Reason: closeErr.Reason, WasClean: true})
					}
				})
				return
			}
			s.Behavior.OnError(ErrorEvent{Message: fmt.Sprintf("read failed: %v", err), Cause: err})
			s.Connection.closeWith(websocket.StatusCode(CloseAbnormal), "")
			return
		}
		data, err := io.ReadAll(reader)
		if err != nil {
			s.Behavior.OnError(ErrorEvent{Message: "reading frame payload", Cause: err})
			continue
		}
		opcode := OpcodeText
		if msgType == websocket.MessageBinary {
			opcode = OpcodeBinary
		}
		s.Behavior.OnMessage(MessageEvent{Opcode: opcode, Data: data})
	}
}

func errorsAsCloseError(err error, target *websocket.CloseError) bool {
	return errors.As(err, target)
}

// offeredSubprotocols parses the comma-separated Sec-WebSocket-Protocol
// header(s) per RFC 6455 §4.1 / RFC 2616 §2.2 tokens.
func offeredSubprotocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}
