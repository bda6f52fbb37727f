package behaviors

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// clockInterval is the tick period for Clock's periodic push.
const clockInterval = 1 * time.Second

// Clock pushes a timestamp to its own session once a second until the
// session closes, demonstrating SendAsync.
// It exercises no other session on the manager, unlike Room.
type Clock struct {
	wsserver.BaseBehavior

	mu     sync.Mutex
	stopCh chan struct{}
}

// NewClock constructs a fresh Clock Behavior.
func NewClock() wsserver.Behavior { return &Clock{} }

func (c *Clock) OnOpen() {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	stop := c.stopCh
	c.mu.Unlock()
	go c.tick(stop)
}

func (c *Clock) tick(stop chan struct{}) {
	ticker := time.NewTicker(clockInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			payload := []byte(fmt.Sprintf(`{"time":%q}`, now.UTC().Format(time.RFC3339Nano)))
			c.SendAsync(wsserver.OpcodeText, payload, func(ok bool) {
				if !ok {
					slog.Debug("clock: send_async failed")
				}
			})
		}
	}
}

func (c *Clock) OnMessage(wsserver.MessageEvent) {
	// Clock ignores inbound frames; it is a push-only demonstration.
}

func (c *Clock) OnError(evt wsserver.ErrorEvent) {
	slog.Warn("clock: connection error", "message", evt.Message, "cause", evt.Cause)
}

func (c *Clock) OnClose(evt wsserver.CloseEvent) {
	c.mu.Lock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
	c.mu.Unlock()
	slog.Debug("clock: session closed", "code", evt.Code, "reason", evt.Reason, "clean", evt.WasClean)
}
