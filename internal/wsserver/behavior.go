package wsserver

import (
	"sync"
	"time"
)

// MessageEvent is delivered to Behavior.OnMessage.
type MessageEvent struct {
	Opcode Opcode
	Data   []byte
}

// ErrorEvent is delivered to Behavior.OnError.
type ErrorEvent struct {
	Message string
	Cause   error
}

// CloseEvent is delivered to Behavior.OnClose.
type CloseEvent struct {
	Code     int
	Reason   string
	WasClean bool
}

// Behavior is the user-supplied application logic for one WebSocket
// connection within a service. A Behavior instance is
// single-use: it is bound to exactly one Session by a ServiceHost's
// factory and is never rebound after OnClose.
//
// Implementations embed BaseBehavior by value, which supplies the Send/Ping/Close
// helpers and the validator configuration the host installs before the
// handshake runs.
type Behavior interface {
	OnOpen()
	OnMessage(MessageEvent)
	OnError(ErrorEvent)
	OnClose(CloseEvent)

	// base exists only to force embedding of BaseBehavior; it is not
	// meant to be implemented directly.
	base() *BaseBehavior
}

// BaseBehavior supplies the machinery every Behavior needs: access to its
// bound Session, and the validator/subprotocol configuration consulted by
// the ServiceHost before the handshake. Embed it by value — its zero
// value is immediately usable, so a factory can return a bare struct
// literal with no constructor.
//
// BaseBehavior.HostValidator, OriginValidator, CookiesValidator,
// IgnoreExtensions and EmitOnPing may only be set before the Session
// reaches Open (i.e. in a ServiceHost initializer run right after the
// factory constructs the Behavior). Protocol may be read any time but
// must be changed only through SetProtocol, which rejects changes once
// the Session is bound.
type BaseBehavior struct {
	HostValidator    HostValidator
	OriginValidator  OriginValidator
	CookiesValidator CookiesValidator
	IgnoreExtensions bool
	EmitOnPing       bool

	mu       sync.RWMutex
	protocol string
	session  *Session
}

func (b *BaseBehavior) base() *BaseBehavior { return b }

func (b *BaseBehavior) bind(s *Session) {
	b.mu.Lock()
	b.session = s
	b.mu.Unlock()
}

// Protocol returns the negotiated (or configured, pre-Open) subprotocol.
func (b *BaseBehavior) Protocol() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.protocol
}

// SetProtocol sets the subprotocol this Behavior offers. Changing it
// after the Session has reached Open is rejected with ErrInvalidState
// rather than silently ignored.
func (b *BaseBehavior) SetProtocol(p string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.session != nil {
		return ErrInvalidState
	}
	b.protocol = p
	return nil
}

func (b *BaseBehavior) validatorConfig() ValidatorConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return ValidatorConfig{
		HostValidator:    b.HostValidator,
		OriginValidator:  b.OriginValidator,
		CookiesValidator: b.CookiesValidator,
		IgnoreExtensions: b.IgnoreExtensions,
		Protocol:         b.protocol,
	}
}

// current returns the bound Session, or ErrNotStarted if OnOpen has not
// run yet.
func (b *BaseBehavior) current() (*Session, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.session == nil {
		return nil, ErrNotStarted
	}
	return b.session, nil
}

// Context returns the HandshakeContext captured for this Session.
func (b *BaseBehavior) Context() (*HandshakeContext, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}
	return s.Context, nil
}

// Sessions returns the SessionManager this Behavior's Session is
// registered in, for addressing peers on the same path.
func (b *BaseBehavior) Sessions() (*SessionManager, error) {
	s, err := b.current()
	if err != nil {
		return nil, err
	}
	return s.manager, nil
}

// ID returns this Behavior's Session id.
func (b *BaseBehavior) ID() (string, error) {
	s, err := b.current()
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

// Send writes one frame on this Behavior's Connection.
func (b *BaseBehavior) Send(opcode Opcode, data []byte) error {
	s, err := b.current()
	if err != nil {
		return err
	}
	return s.Connection.Send(opcode, data)
}

// SendAsync writes one frame without blocking the caller; completed is
// invoked (on some worker) once the write finishes or fails.
func (b *BaseBehavior) SendAsync(opcode Opcode, data []byte, completed func(bool)) {
	s, err := b.current()
	if err != nil {
		if completed != nil {
			completed(false)
		}
		return
	}
	s.Connection.SendAsync(opcode, data, completed)
}

// Ping sends a ping and reports whether a matching pong arrived within
// timeout.
func (b *BaseBehavior) Ping(payload []byte, timeout time.Duration) (bool, error) {
	s, err := b.current()
	if err != nil {
		return false, err
	}
	return s.Connection.Ping(payload, timeout), nil
}

// Close initiates a clean close of this Behavior's Connection.
func (b *BaseBehavior) Close(code int, reason string) error {
	s, err := b.current()
	if err != nil {
		return err
	}
	return s.Connection.Close(code, reason)
}
