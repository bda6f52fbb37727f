package wsserver

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// sweepPeriod is the fixed interval between sweeper ticks.
const sweepPeriod = 60 * time.Second

// SessionManager is the per-path registry of live Sessions: add/remove,
// broadcast, fan-out ping, and the inactive-session sweeper. It owns
// each registered Session for the Session's entire live duration.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	state    State

	waitTime  time.Duration
	keepClean bool
	onMetric  func(event string) // optional hook for metrics; nil-safe

	sweeping  atomic.Bool // at most one sweep runs at a time
	stopSweep chan struct{}
	sweepDone chan struct{}
}

// NewSessionManager constructs a manager in state Ready. waitTime is the
// per-session ping/close timeout; keepClean enables
// the periodic sweeper once the manager starts.
func NewSessionManager(waitTime time.Duration, keepClean bool) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*Session),
		state:     Ready,
		waitTime:  waitTime,
		keepClean: keepClean,
	}
}

// SetMetricHook installs a callback invoked with a short event name
// ("add", "remove", "broadcast", "sweep_close", ...) for observability.
// It must be called before Start.
func (m *SessionManager) SetMetricHook(fn func(event string)) { m.onMetric = fn }

func (m *SessionManager) metric(event string) {
	if m.onMetric != nil {
		m.onMetric(event)
	}
}

// State returns the manager's current lifecycle state.
func (m *SessionManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Start transitions Ready -> Start and, if keepClean, launches the
// sweeper goroutine.
func (m *SessionManager) Start() {
	m.mu.Lock()
	m.state = Start
	m.mu.Unlock()

	if m.keepClean {
		m.stopSweep = make(chan struct{})
		m.sweepDone = make(chan struct{})
		go m.sweepLoop()
	}
}

// Add registers session under a freshly generated id, iff the manager is
// in state Start; otherwise it returns "". The caller is responsible
// for closing session's Connection on a "" return.
func (m *SessionManager) Add(s *Session) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Start {
		return ""
	}
	id := newSessionID()
	s.ID = id
	s.manager = m
	m.sessions[id] = s
	m.metric("add")
	return id
}

// Remove deletes id from the registry and reports whether it was present.
func (m *SessionManager) Remove(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
		m.metric("remove")
	}
	return ok
}

// Get returns the session registered under id, if any.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count returns the number of currently registered sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// snapshot copies the map under lock so callers can iterate without
// holding it during I/O.
func (m *SessionManager) snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Broadcast sends data to every currently Open session except those
// whose id is in exclude. It is a no-op when the manager is not in state
// Start, and it never returns an error: a failing send is logged and
// the fan-out continues.
func (m *SessionManager) Broadcast(opcode Opcode, data []byte, exclude ...string) {
	if m.State() != Start {
		return
	}
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	for _, s := range m.snapshot() {
		if skip[s.ID] {
			continue
		}
		if s.Connection.ReadyState() != Open {
			continue
		}
		if err := s.Connection.Send(opcode, data); err != nil {
			slog.Debug("broadcast send failed", "session", s.ID, "error", err)
			continue
		}
	}
	m.metric("broadcast")
}

// BroadcastStream reads r exactly once, then fans the cached payload out
// like Broadcast. The full read happens before the first send, so every
// session sees the same bytes and the stream is consumed on all paths.
// A read failure aborts the fan-out before any frame is written.
func (m *SessionManager) BroadcastStream(opcode Opcode, r io.Reader, exclude ...string) error {
	if m.State() != Start {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("reading broadcast stream: %w", err)
	}
	m.Broadcast(opcode, data, exclude...)
	return nil
}

// Broadping fans a ping with a per-session timeout out to every session
// in the current snapshot and returns a liveness map. A failed or timed
// out ping is represented as false, never as an error.
func (m *SessionManager) Broadping(payload []byte, timeout time.Duration) map[string]bool {
	snap := m.snapshot()
	results := make(map[string]bool, len(snap))
	var wg sync.WaitGroup
	var mu sync.Mutex
	wg.Add(len(snap))
	for _, s := range snap {
		go func(s *Session) {
			defer wg.Done()
			ok := s.Connection.Ping(payload, timeout)
			mu.Lock()
			results[s.ID] = ok
			mu.Unlock()
		}(s)
	}
	wg.Wait()
	return results
}

// ActiveIDs returns the ids that answered an empty-payload ping within
// waitTime.
func (m *SessionManager) ActiveIDs() []string {
	results := m.Broadping(nil, m.waitTime)
	ids := make([]string, 0, len(results))
	for id, ok := range results {
		if ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// InactiveIDs is the complement of ActiveIDs.
func (m *SessionManager) InactiveIDs() []string {
	results := m.Broadping(nil, m.waitTime)
	ids := make([]string, 0, len(results))
	for id, ok := range results {
		if !ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// CloseSession closes one session's Connection; it is a no-op if id is
// not registered.
func (m *SessionManager) CloseSession(id string, code int, reason string) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	if err := s.Connection.Close(code, reason); err != nil {
		slog.Debug("close_session failed", "session", id, "error", err)
	}
}

// SendTo writes data to exactly one session; it is a no-op if id is not
// registered.
func (m *SessionManager) SendTo(id string, opcode Opcode, data []byte) {
	s, ok := m.Get(id)
	if !ok {
		return
	}
	if err := s.Connection.Send(opcode, data); err != nil {
		slog.Debug("send_to failed", "session", id, "error", err)
	}
}

// SendToAsync behaves like SendTo but does not block the caller.
func (m *SessionManager) SendToAsync(id string, opcode Opcode, data []byte, completed func(bool)) {
	s, ok := m.Get(id)
	if !ok {
		if completed != nil {
			completed(false)
		}
		return
	}
	s.Connection.SendAsync(opcode, data, completed)
}

// Abort is the forced counterpart to Stop: it skips
// the clean close handshake entirely, calling Connection.abort on every
// session, but still stops the sweeper and clears the registry so the
// manager ends up in the same terminal Stop state.
func (m *SessionManager) Abort(code int, reason string) {
	m.mu.Lock()
	m.state = ShuttingDown
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if m.stopSweep != nil {
		close(m.stopSweep)
		<-m.sweepDone
	}

	for _, s := range sessions {
		s.Connection.abort(code, reason)
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.state = Stop
	m.mu.Unlock()
}

// sweepLoop drives the periodic sweeper: once per
// sweepPeriod, while Start and keepClean, it snapshots InactiveIDs and
// closes or removes each. At most one sweep runs at a time (the
// `sweeping` compare-and-set), so a slow sweep never overlaps the next
// tick.
func (m *SessionManager) sweepLoop() {
	defer close(m.sweepDone)
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopSweep:
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

func (m *SessionManager) sweepOnce() {
	if m.State() != Start {
		return
	}
	if !m.sweeping.CompareAndSwap(false, true) {
		return // a previous sweep is still running
	}
	defer m.sweeping.Store(false)

	inactive := m.InactiveIDs()
	for _, id := range inactive {
		s, ok := m.Get(id)
		if !ok {
			continue
		}
		switch s.Connection.ReadyState() {
		case Open:
			s.Connection.abort(CloseProtocolError, "sweep: unresponsive")
			m.Remove(id)
			m.metric("sweep_close")
		case Closing:
			// drain in progress, leave it alone this tick
		default:
			m.Remove(id)
		}
	}
}

// sweepNow runs one sweep pass synchronously; used by tests that don't
// want to wait a full sweepPeriod.
func (m *SessionManager) sweepNow() { m.sweepOnce() }

// Stop transitions the manager to ShuttingDown, closes every registered
// Connection with code/reason, and finally transitions to Stop. The
// first close error encountered, if any, is
// returned after every session has been given a chance to close.
func (m *SessionManager) Stop(code int, reason string) error {
	m.mu.Lock()
	m.state = ShuttingDown
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	if m.stopSweep != nil {
		close(m.stopSweep)
		<-m.sweepDone
	}

	var firstErr error
	for _, s := range sessions {
		if err := s.Connection.Close(code, reason); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.state = Stop
	m.mu.Unlock()

	return firstErr
}
