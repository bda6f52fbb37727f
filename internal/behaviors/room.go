package behaviors

import (
	"log/slog"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Room relays every inbound frame to every other session on the same
// SessionManager, excluding the sender.
type Room struct {
	wsserver.BaseBehavior
}

// NewRoom constructs a fresh Room Behavior.
func NewRoom() wsserver.Behavior { return &Room{} }

func (r *Room) OnOpen() {
	id, _ := r.ID()
	sessions, _ := r.Sessions()
	slog.Info("room: joined", "session", id, "active", sessions.Count())
}

func (r *Room) OnMessage(evt wsserver.MessageEvent) {
	id, err := r.ID()
	if err != nil {
		return
	}
	sessions, err := r.Sessions()
	if err != nil {
		return
	}
	sessions.Broadcast(evt.Opcode, evt.Data, id)
}

func (r *Room) OnError(evt wsserver.ErrorEvent) {
	slog.Warn("room: connection error", "message", evt.Message, "cause", evt.Cause)
}

func (r *Room) OnClose(evt wsserver.CloseEvent) {
	slog.Debug("room: session closed", "code", evt.Code, "reason", evt.Reason, "clean", evt.WasClean)
}
