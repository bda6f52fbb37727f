package behaviors

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

func dialPath(t *testing.T, s *wsserver.Server, path string) (*websocket.Conn, context.Context, context.CancelFunc) {
	t.Helper()
	_, port, _ := net.SplitHostPort(s.Addr().String())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	conn, _, err := websocket.Dial(ctx, "ws://127.0.0.1:"+port+path, nil)
	if err != nil {
		cancel()
		t.Fatalf("Dial %s: %v", path, err)
	}
	return conn, ctx, cancel
}

func startServer(t *testing.T, path string, factory wsserver.BehaviorFactory) *wsserver.Server {
	t.Helper()
	s := wsserver.NewServer("127.0.0.1", 0, false, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		if s.State() == wsserver.Start {
			s.Stop(wsserver.CloseGoingAway, "test teardown")
		}
	})
	if err := s.AddService(path, factory, nil); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	return s
}

func TestEchoRoundTrip(t *testing.T) {
	s := startServer(t, "/echo", NewEcho)
	conn, ctx, cancel := dialPath(t, s, "/echo")
	defer cancel()
	defer conn.CloseNow()

	if err := conn.Write(ctx, websocket.MessageText, []byte("ping")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(data) != "ping" {
		t.Errorf("echoed = %q, want %q", data, "ping")
	}
}

func TestRoomBroadcastsExcludingSender(t *testing.T) {
	s := startServer(t, "/room", NewRoom)

	a, ctx, cancel := dialPath(t, s, "/room")
	defer cancel()
	defer a.CloseNow()
	b, _, cancelB := dialPath(t, s, "/room")
	defer cancelB()
	defer b.CloseNow()

	time.Sleep(100 * time.Millisecond)

	if err := a.Write(ctx, websocket.MessageText, []byte("hello room")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	_, data, err := b.Read(ctx)
	if err != nil {
		t.Fatalf("Read on b: %v", err)
	}
	if string(data) != "hello room" {
		t.Errorf("b received %q, want %q", data, "hello room")
	}

	// a must not receive its own message back.
	readErr := make(chan error, 1)
	go func() {
		roCtx, roCancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
		defer roCancel()
		_, _, err := a.Read(roCtx)
		readErr <- err
	}()
	select {
	case err := <-readErr:
		if err == nil {
			t.Error("sender received its own message back")
		}
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClockPushesWithoutInboundMessage(t *testing.T) {
	s := startServer(t, "/clock", NewClock)
	conn, ctx, cancel := dialPath(t, s, "/clock")
	defer cancel()
	defer conn.CloseNow()

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()
	_, data, err := conn.Read(readCtx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected a non-empty timestamp payload")
	}
}

func TestLookupKnownAndUnknown(t *testing.T) {
	for _, name := range Names() {
		if _, err := Lookup(name); err != nil {
			t.Errorf("Lookup(%q) returned error: %v", name, err)
		}
	}
	if _, err := Lookup("not-a-behavior"); err == nil {
		t.Error("Lookup of an unknown behavior should fail")
	}
}
