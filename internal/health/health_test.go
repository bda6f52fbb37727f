package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cortexuvula/wsserver/internal/wsserver"
)

func newEchoBehavior() wsserver.Behavior { return &echoBehavior{} }

type echoBehavior struct{ wsserver.BaseBehavior }

func (e *echoBehavior) OnOpen()                        {}
func (e *echoBehavior) OnMessage(wsserver.MessageEvent) {}
func (e *echoBehavior) OnError(wsserver.ErrorEvent)     {}
func (e *echoBehavior) OnClose(wsserver.CloseEvent)     {}

func TestHealthHandler_ReadyIsDegraded(t *testing.T) {
	srv := wsserver.NewServer("127.0.0.1", 0, false, nil)
	h := NewHandler(srv, "test-version", true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "degraded" {
		t.Errorf("status = %q, want %q", resp.Status, "degraded")
	}
	if resp.ServerState != "ready" {
		t.Errorf("server_state = %q, want %q", resp.ServerState, "ready")
	}
}

func TestHealthHandler_StartedIsHealthy(t *testing.T) {
	srv := wsserver.NewServer("127.0.0.1", 0, false, nil)
	if err := srv.AddService("/ws/echo", newEchoBehavior, nil); err != nil {
		t.Fatalf("AddService: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(wsserver.CloseNormal, "")

	h := NewHandler(srv, "test-version", true)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp Response
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q, want %q", resp.Status, "ok")
	}
	if resp.Details == nil || resp.Details.RegisteredPaths != 1 {
		t.Errorf("details.registered_paths = %+v, want 1", resp.Details)
	}
}
