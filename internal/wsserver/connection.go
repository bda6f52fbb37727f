package wsserver

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Opcode identifies the WebSocket frame type a Send/SendAsync call writes.
// It mirrors the subset of RFC 6455 opcodes this package cares about;
// frame encode/decode itself is delegated entirely to
// github.com/coder/websocket.
type Opcode int

const (
	OpcodeText Opcode = iota
	OpcodeBinary
	// OpcodePing appears only on inbound MessageEvents, delivered when a
	// Behavior sets EmitOnPing; it is not a valid Send opcode.
	OpcodePing
)

func (o Opcode) wire() websocket.MessageType {
	if o == OpcodeBinary {
		return websocket.MessageBinary
	}
	return websocket.MessageText
}

// ReadyState is a Connection's position in the Connecting -> Open ->
// Closing -> Closed state machine. It is monotonically nondecreasing.
type ReadyState int32

const (
	Connecting ReadyState = iota
	Open
	Closing
	Closed
)

func (r ReadyState) String() string {
	switch r {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// RFC 6455 close codes this package assigns meaning to.
const (
	CloseNormal         = 1000
	CloseGoingAway      = 1001
	CloseProtocolError  = 1002
	CloseNoStatus       = 1005
	CloseAbnormal       = 1006
	CloseMandatoryExt   = 1010 // not allowed from the server side
	CloseInternalError  = 1011
)

// Connection is the per-connection state machine. It wraps a
// *coder/websocket.Conn and enforces the ordering/idempotency rules the
// rest of the package depends on: sends require Open, close is
// idempotent past Closing, and the ready state never moves backward.
type Connection struct {
	conn     *websocket.Conn
	waitTime time.Duration
	protocol string

	state     atomic.Int32
	sendMu    sync.Mutex // serializes Send/SendAsync on this Connection
	closeOnce sync.Once

	onClose func(CloseEvent)
}

// setOnClose installs the callback invoked exactly once when this
// Connection reaches Closed, however that happens (local Close, remote
// close, or abort). ServiceHost wires this to the Session's Behavior and
// to removal from the SessionManager.
func (c *Connection) setOnClose(fn func(CloseEvent)) { c.onClose = fn }

func newConnection(conn *websocket.Conn, waitTime time.Duration, protocol string) *Connection {
	c := &Connection{conn: conn, waitTime: waitTime, protocol: protocol}
	c.state.Store(int32(Connecting))
	return c
}

// ReadyState returns the current state. Safe for concurrent use.
func (c *Connection) ReadyState() ReadyState { return ReadyState(c.state.Load()) }

// Protocol returns the negotiated subprotocol, or "" if none.
func (c *Connection) Protocol() string { return c.protocol }

// open transitions Connecting -> Open and is called once the handshake
// (run by ServiceHost.startSession before this Connection existed) has
// succeeded.
func (c *Connection) open() { c.state.Store(int32(Open)) }

// Send writes one frame. It requires Open, is atomic per
// frame, and never reorders relative to other sends on this Connection.
func (c *Connection) Send(opcode Opcode, data []byte) error {
	if c.ReadyState() != Open {
		return fmt.Errorf("%w: send requires Open, have %s", ErrInvalidState, c.ReadyState())
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	// Re-check under the send lock: a concurrent Close may have landed
	// between the check above and acquiring the lock.
	if c.ReadyState() != Open {
		return fmt.Errorf("%w: send requires Open, have %s", ErrInvalidState, c.ReadyState())
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.waitTime)
	defer cancel()
	return c.conn.Write(ctx, opcode.wire(), data)
}

// SendStream writes one frame whose payload is read from r.
func (c *Connection) SendStream(opcode Opcode, r io.Reader) error {
	if c.ReadyState() != Open {
		return fmt.Errorf("%w: send requires Open, have %s", ErrInvalidState, c.ReadyState())
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.ReadyState() != Open {
		return fmt.Errorf("%w: send requires Open, have %s", ErrInvalidState, c.ReadyState())
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.waitTime)
	defer cancel()
	w, err := c.conn.Writer(ctx, opcode.wire())
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// SendAsync writes a frame without blocking the caller. It is still
// ordered relative to prior sends on this Connection (it waits for
// sendMu like any other send, just on its own goroutine); completed runs
// on that goroutine.
func (c *Connection) SendAsync(opcode Opcode, data []byte, completed func(bool)) {
	go func() {
		err := c.Send(opcode, data)
		if completed != nil {
			completed(err == nil)
		}
	}()
}

// Ping sends a ping frame and blocks up to timeout for the matching pong.
// It returns true iff the pong was observed within timeout, measured from
// submission, never panicking or propagating the
// timeout as an error — a failed ping is a false, not an exception.
func (c *Connection) Ping(_ []byte, timeout time.Duration) bool {
	if c.ReadyState() != Open {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.conn.Ping(ctx) == nil
}

// Close initiates a clean close with the given code/reason. It is
// idempotent past Closing: a second call is a no-op.
func (c *Connection) Close(code int, reason string) error {
	if err := validateCloseCode(code, reason); err != nil {
		return err
	}
	return c.closeWith(websocket.StatusCode(code), reason)
}

// CloseAsync behaves like Close but does not block the caller for the
// close handshake to finish.
func (c *Connection) CloseAsync(code int, reason string) {
	go func() {
		if err := c.Close(code, reason); err != nil {
			slog.Debug("async close failed", "error", err)
		}
	}()
}

// abort forces the Connection to Closed without a clean close handshake
// (coder/websocket.Conn.CloseNow, which never attempts to write a close
// frame), used by the server's abort() path and by the
// sweeper for unresponsive sessions. code/reason are not wire codes here
// — 1006 and other "detected locally" codes are never legal on the wire
// per RFC 6455 — they only label the CloseEvent delivered to the Behavior.
func (c *Connection) abort(code int, reason string) {
	c.closeOnce.Do(func() {
		if prev := c.ReadyState(); prev == Open {
			c.state.Store(int32(Closing))
		}
		c.conn.CloseNow()
		c.state.Store(int32(Closed))
		if c.onClose != nil {
			c.onClose(CloseEvent{Code: code, Reason: reason, WasClean: false})
		}
	})
}

func (c *Connection) closeWith(code websocket.StatusCode, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		prev := c.ReadyState()
		if prev == Open {
			c.state.Store(int32(Closing))
		}
		err = c.conn.Close(code, reason)
		c.state.Store(int32(Closed))
		wasClean := err == nil
		if c.onClose != nil {
			c.onClose(CloseEvent{Code: int(code), Reason: reason, WasClean: wasClean})
		}
	})
	return err
}

// validateCloseCode checks the caller-supplied close inputs: codes
// 1000-4999 are allowed,
// 1010 is rejected from the server side, 1005 must pair with an empty
// reason, and the reason must UTF-8-encode to <= 123 bytes.
func validateCloseCode(code int, reason string) error {
	if code == CloseMandatoryExt {
		return fmt.Errorf("%w: close code 1010 is not allowed from the server side", ErrConfig)
	}
	if code < 1000 || code > 4999 {
		return fmt.Errorf("%w: close code %d out of range 1000-4999", ErrConfig, code)
	}
	if code == CloseNoStatus && reason != "" {
		return fmt.Errorf("%w: close code 1005 must be paired with an empty reason", ErrConfig)
	}
	if len(reason) > 123 {
		return fmt.Errorf("%w: close reason exceeds 123 bytes", ErrConfig)
	}
	return nil
}
