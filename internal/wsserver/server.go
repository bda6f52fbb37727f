package wsserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/cortexuvula/wsserver/internal/security"
)

// AuthScheme selects how Server authenticates plain-HTTP and upgrade
// requests before routing them.
type AuthScheme int

const (
	AuthAnonymous AuthScheme = iota
	AuthBasic
	AuthDigest
)

func (a AuthScheme) String() string {
	switch a {
	case AuthBasic:
		return "basic"
	case AuthDigest:
		return "digest"
	default:
		return "anonymous"
	}
}

// Server is the top-level controller: it exclusively owns one
// ServiceRegistry, drives the Ready -> Start -> ShuttingDown -> Stop
// lifecycle, and runs the acceptor loop that classifies every inbound
// connection as either a WebSocket upgrade or a plain-HTTP request.
type Server struct {
	bindAddress string
	port        int
	secure      bool
	tlsConfig   *tls.Config

	mu                sync.Mutex
	state             State
	documentRoot      string
	realm             string
	authScheme        AuthScheme
	credentialsFinder security.CredentialsFinder
	reuseAddress      bool
	waitTime          time.Duration
	keepClean         bool

	registry *ServiceRegistry
	dispatch *httpDispatcher
	digest   *security.DigestAuthenticator

	listener   net.Listener
	httpServer *http.Server
	serveErr   chan error

	onMetric func(event string, labels map[string]string)
}

// NewServer constructs a Server in state Ready bound to bindAddress:port.
// tlsConfig is only consulted when secure is true.
func NewServer(bindAddress string, port int, secure bool, tlsConfig *tls.Config) *Server {
	return &Server{
		bindAddress: bindAddress,
		port:        port,
		secure:      secure,
		tlsConfig:   tlsConfig,
		state:       Ready,
		realm:       "SECRET AREA",
		waitTime:    1 * time.Second,
		keepClean:   true,
		registry:    newServiceRegistry(),
		dispatch:    newHTTPDispatcher(),
	}
}

// SetMetricHook installs a callback invoked with a short event name and
// labels for observability: handshake_reject, plus every host's
// SessionManager events (add, remove, broadcast, sweep_close).
func (s *Server) SetMetricHook(fn func(event string, labels map[string]string)) {
	s.mu.Lock()
	s.onMetric = fn
	s.mu.Unlock()
}

func (s *Server) metric(event string, labels map[string]string) {
	s.mu.Lock()
	fn := s.onMetric
	s.mu.Unlock()
	if fn != nil {
		fn(event, labels)
	}
}

// guardReady logs and no-ops a setter call outside state Ready.
func (s *Server) guardReady(setter string) bool {
	if s.state != Ready {
		slog.Warn("setter ignored: server is not Ready", "setter", setter, "state", s.state)
		return false
	}
	return true
}

// SetKeepClean sets the default sweeper flag applied to services added
// after this call.
func (s *Server) SetKeepClean(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetKeepClean") {
		return
	}
	s.keepClean = v
}

// SetWaitTime sets the default per-session timeout applied to services
// added after this call.
func (s *Server) SetWaitTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetWaitTime") {
		return
	}
	s.waitTime = d
}

// SetAuthScheme selects Anonymous/Basic/Digest authentication for every
// request this Server accepts, upgrade or plain-HTTP alike.
func (s *Server) SetAuthScheme(scheme AuthScheme, finder security.CredentialsFinder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetAuthScheme") {
		return
	}
	s.authScheme = scheme
	s.credentialsFinder = finder
}

// SetRealm sets the authentication realm advertised in challenges.
func (s *Server) SetRealm(realm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetRealm") {
		return
	}
	s.realm = realm
}

// SetReuseAddress toggles SO_REUSEADDR on the listening socket.
func (s *Server) SetReuseAddress(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetReuseAddress") {
		return
	}
	s.reuseAddress = v
}

// SetDocumentRoot enables static file serving for GET/HEAD requests that
// fall through to no registered method handler. Trailing slashes and
// backslashes are trimmed; the filesystem root is rejected.
func (s *Server) SetDocumentRoot(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.guardReady("SetDocumentRoot") {
		return
	}
	dir = strings.TrimRight(dir, "/\\")
	if dir == "" {
		slog.Warn("SetDocumentRoot ignored: document root must not be the filesystem root")
		return
	}
	s.documentRoot = dir
}

// OnMethod registers h for an HTTP method not handled by the WebSocket
// upgrade path.
func (s *Server) OnMethod(method HTTPMethod, h http.HandlerFunc) {
	s.dispatch.On(method, h)
}

// State returns the Server's current lifecycle state.
func (s *Server) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AddService registers a new path. If the Server is already
// Start, the Host starts immediately and begins accepting sessions.
func (s *Server) AddService(path string, factory BehaviorFactory, init Initializer) error {
	host := NewServiceHost(path, factory)
	s.mu.Lock()
	host.SetWaitTime(s.waitTime)
	host.SetKeepClean(s.keepClean)
	if init != nil {
		host.SetInitializer(init)
	}
	host.OnHandshakeReject(func(reason string) {
		s.metric("handshake_reject", map[string]string{"path": path, "reason": reason})
	})
	host.SetMetricHook(func(event string) {
		s.metric(event, map[string]string{"path": path})
	})
	s.mu.Unlock()
	return s.registry.Add(path, host)
}

// RemoveService unregisters path, closing its live sessions with code
// 1001 if it was running.
func (s *Server) RemoveService(path string) bool {
	return s.registry.Remove(path)
}

// Registry exposes the Server's ServiceRegistry for read-only inspection
// (admin surface, health checks).
func (s *Server) Registry() *ServiceRegistry { return s.registry }

// Addr returns the listener's bound network address. It is only valid
// once Start has returned successfully; callers that construct a Server
// with port 0 (let the OS choose) use this to learn the actual port, as
// tests and cmd/wsserverd do.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start resolves a certificate if secure, starts every registered Host,
// opens the listener, and spawns the acceptor. Any listener failure
// rolls every Host back to Stop with close code 1011 before returning
// the error.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.state != Ready {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: Start requires Ready, have %s", ErrInvalidState, state)
	}
	if s.secure {
		if err := s.resolveCertificate(); err != nil {
			s.mu.Unlock()
			return err
		}
	}
	if s.authScheme == AuthDigest {
		s.digest = security.NewDigestAuthenticator(s.realm, s.credentialsFinder)
	}
	s.mu.Unlock()

	s.registry.setState(Start)
	for _, host := range s.registry.Hosts() {
		if host.State() == Ready {
			host.Start()
		}
	}

	listener, err := s.listen()
	if err != nil {
		s.rollback()
		return fmt.Errorf("%w: listen failed: %v", ErrConfig, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.httpServer = &http.Server{Handler: http.HandlerFunc(s.handleHTTP)}
	s.serveErr = make(chan error, 1)
	srv := s.httpServer
	s.state = Start
	s.mu.Unlock()

	go s.acceptorLoop(srv, listener)

	daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

// resolveCertificate fails with a config error when secure is requested
// but no certificate is provided or locatable for the port.
func (s *Server) resolveCertificate() error {
	if s.tlsConfig != nil && (len(s.tlsConfig.Certificates) > 0 || s.tlsConfig.GetCertificate != nil) {
		return nil
	}
	certPath := filepath.Join("certs", fmt.Sprintf("%d.pem", s.port))
	keyPath := filepath.Join("certs", fmt.Sprintf("%d-key.pem", s.port))
	if _, err := os.Stat(certPath); err != nil {
		return configErrorf("secure server requires a resolvable certificate for port %d", s.port)
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return configErrorf("loading certificate for port %d: %v", s.port, err)
	}
	if s.tlsConfig == nil {
		s.tlsConfig = &tls.Config{}
	}
	s.tlsConfig.Certificates = []tls.Certificate{cert}
	return nil
}

// listen opens the raw TCP listener, optionally wrapped in TLS, honoring
// reuseAddress via SO_REUSEADDR on the underlying socket.
func (s *Server) listen() (net.Listener, error) {
	addr := net.JoinHostPort(s.bindAddress, fmt.Sprintf("%d", s.port))
	lc := net.ListenConfig{}
	if s.reuseAddress {
		lc.Control = func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		}
	}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	if s.secure {
		ln = tls.NewListener(ln, s.tlsConfig)
	}
	return ln, nil
}

// rollback undoes a partially-started Start(): every Host whose
// SessionManager reached Start is stopped with code 1011.
func (s *Server) rollback() {
	for _, host := range s.registry.Hosts() {
		if host.State() == Start {
			host.Stop(CloseInternalError, "start failed")
		}
	}
	s.registry.setState(Ready)
}

// acceptorLoop runs http.Server.Serve; an unexpected terminal error is
// logged and forces abort(), while the ErrServerClosed from an orderly
// Stop is swallowed.
func (s *Server) acceptorLoop(srv *http.Server, ln net.Listener) {
	err := srv.Serve(ln)
	s.serveErr <- err
	if err != nil && err != http.ErrServerClosed {
		slog.Error("acceptor loop terminated unexpectedly", "error", err)
		s.abort()
	}
}

// handleHTTP is the per-connection worker: authenticate, then
// classify Upgrade vs plain-HTTP and route accordingly.
func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request) {
	principal, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if isWebSocketUpgrade(r) {
		s.handleUpgrade(w, r, principal)
		return
	}
	s.handlePlainHTTP(w, r)
}

// authenticate enforces the configured AuthScheme. Anonymous always
// succeeds with principal "". Basic uses the stdlib's own header parser
// plus a constant-time comparison; Digest delegates to
// security.DigestAuthenticator's RFC 2617 challenge/response.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	s.mu.Lock()
	scheme := s.authScheme
	realm := s.realm
	finder := s.credentialsFinder
	digest := s.digest
	s.mu.Unlock()

	switch scheme {
	case AuthAnonymous:
		return "", true
	case AuthBasic:
		username, password, ok := r.BasicAuth()
		if !ok || finder == nil {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
			http.Error(w, "authentication required", http.StatusUnauthorized)
			return "", false
		}
		expected, found := finder(username)
		if !found || !security.TokenMatch(password, expected) {
			w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Basic realm=%q`, realm))
			http.Error(w, "authentication failed", http.StatusUnauthorized)
			return "", false
		}
		return username, true
	case AuthDigest:
		username, ok := digest.Authenticate(r)
		if !ok {
			digest.Challenge(w)
			return "", false
		}
		return username, true
	default:
		return "", true
	}
}

// isWebSocketUpgrade reports whether r requests a WebSocket upgrade, per
// RFC 6455 §4.1.
func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

// handleUpgrade canonicalizes the request path, looks up the Host, and
// hands the upgrade off; an unknown path answers 501.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request, principal string) {
	canon, err := canonicalizePath(r.URL.Path)
	if err != nil {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	host, ok := s.registry.Get(canon)
	if !ok {
		http.Error(w, "no service registered for "+canon, http.StatusNotImplemented)
		return
	}
	host.startSession(w, r, principal)
}

// handlePlainHTTP routes a non-upgrade request to a registered
// method handler, fall back to static document-root serving for GET/HEAD,
// else 501.
func (s *Server) handlePlainHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	_, hasHandler := s.dispatch.handlers[HTTPMethod(r.Method)]
	root := s.documentRoot
	s.mu.Unlock()

	if hasHandler {
		s.dispatch.dispatch(w, r)
		return
	}
	if root != "" && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		http.FileServer(http.Dir(root)).ServeHTTP(w, r)
		return
	}
	http.Error(w, "no handler registered for "+r.Method, http.StatusNotImplemented)
}

// Stop drains every service with close(code, reason),
// close the listener, and join the acceptor within a bounded timeout.
func (s *Server) Stop(code int, reason string) error {
	s.mu.Lock()
	if s.state != Start {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: Stop requires Start, have %s", ErrInvalidState, state)
	}
	s.state = ShuttingDown
	listener := s.listener
	srv := s.httpServer
	s.mu.Unlock()

	daemon.SdNotify(false, daemon.SdNotifyStopping)

	var firstErr error
	for _, host := range s.registry.Hosts() {
		if host.State() == Start {
			if err := host.Stop(code, reason); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		srv.Close()
	}
	if listener != nil {
		listener.Close()
	}
	<-s.serveErr

	s.mu.Lock()
	s.state = Stop
	s.mu.Unlock()
	s.registry.setState(Stop)

	return firstErr
}

// abort is the forced shutdown path: close code
// 1006, no drain, used when the acceptor loop fails fatally.
func (s *Server) abort() {
	s.mu.Lock()
	if s.state != Start && s.state != ShuttingDown {
		s.mu.Unlock()
		return
	}
	s.state = ShuttingDown
	listener := s.listener
	srv := s.httpServer
	s.mu.Unlock()

	for _, host := range s.registry.Hosts() {
		if host.State() == Start {
			host.Abort(CloseAbnormal, "")
		}
	}
	if srv != nil {
		srv.Close()
	}
	if listener != nil {
		listener.Close()
	}

	s.mu.Lock()
	s.state = Stop
	s.mu.Unlock()
	s.registry.setState(Stop)
}
