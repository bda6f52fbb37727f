// Package behaviors holds the built-in demonstration Behaviors that back
// the example server in cmd/wsserverd: Echo, Room, and Clock.
package behaviors

import (
	"log/slog"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Echo sends every inbound frame back to the sender unchanged.
type Echo struct {
	wsserver.BaseBehavior
}

// NewEcho constructs a fresh Echo Behavior. It has no per-instance state,
// so a factory can return the zero value directly, but a constructor
// keeps the Registry's factory signature uniform across behaviors.
func NewEcho() wsserver.Behavior { return &Echo{} }

func (e *Echo) OnOpen() {
	id, _ := e.ID()
	slog.Debug("echo: session opened", "session", id)
}

func (e *Echo) OnMessage(evt wsserver.MessageEvent) {
	if err := e.Send(evt.Opcode, evt.Data); err != nil {
		slog.Debug("echo: send failed", "error", err)
	}
}

func (e *Echo) OnError(evt wsserver.ErrorEvent) {
	slog.Warn("echo: connection error", "message", evt.Message, "cause", evt.Cause)
}

func (e *Echo) OnClose(evt wsserver.CloseEvent) {
	slog.Debug("echo: session closed", "code", evt.Code, "reason", evt.Reason, "clean", evt.WasClean)
}
