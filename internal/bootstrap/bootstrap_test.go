package bootstrap

import (
	"testing"
	"time"

	"github.com/cortexuvula/wsserver/internal/config"
	"github.com/cortexuvula/wsserver/internal/wsserver"
)

func TestBuildRegistersConfiguredServices(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services = []config.ServiceConfig{
		{Path: "/ws/echo", Behavior: "echo"},
		{Path: "/ws/room", Behavior: "room"},
	}

	s, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if s.State() != wsserver.Ready {
		t.Fatalf("state = %s, want ready", s.State())
	}

	paths := s.Registry().Paths()
	if len(paths) != 2 {
		t.Fatalf("registered paths = %v, want 2 entries", paths)
	}
	for _, p := range []string{"/ws/echo", "/ws/room"} {
		if _, ok := s.Registry().Get(p); !ok {
			t.Errorf("path %s not registered", p)
		}
	}
}

func TestBuildUnknownBehavior(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services = []config.ServiceConfig{{Path: "/ws/x", Behavior: "nope"}}

	if _, err := Build(cfg); err == nil {
		t.Fatal("Build accepted an unknown behavior name")
	}
}

func TestBuildMissingTLSMaterial(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Secure = true
	cfg.Server.TLS.CertFile = "/nonexistent/cert.pem"
	cfg.Server.TLS.KeyFile = "/nonexistent/key.pem"

	if _, err := Build(cfg); err == nil {
		t.Fatal("Build accepted unreadable TLS material")
	}
}

func TestReconcileServicesAddAndRemove(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services = []config.ServiceConfig{{Path: "/ws/echo", Behavior: "echo"}}
	s, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	warnings := ReconcileServices(s, []config.ServiceConfig{
		{Path: "/ws/room", Behavior: "room"},
	})
	if len(warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}
	if _, ok := s.Registry().Get("/ws/echo"); ok {
		t.Error("/ws/echo should have been removed")
	}
	if _, ok := s.Registry().Get("/ws/room"); !ok {
		t.Error("/ws/room should have been added")
	}
}

func TestReconcileServicesKeepsExisting(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Services = []config.ServiceConfig{{Path: "/ws/echo", Behavior: "echo"}}
	s, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	before, _ := s.Registry().Get("/ws/echo")

	ReconcileServices(s, []config.ServiceConfig{{Path: "/ws/echo", Behavior: "echo"}})

	after, ok := s.Registry().Get("/ws/echo")
	if !ok || after != before {
		t.Error("unchanged path was re-registered instead of kept")
	}
}

func TestReconcileServicesWarnsOnUnknownBehavior(t *testing.T) {
	cfg := config.DefaultConfig()
	s, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	warnings := ReconcileServices(s, []config.ServiceConfig{
		{Path: "/ws/echo", Behavior: "echo"},
		{Path: "/ws/bad", Behavior: "nope"},
	})
	if len(warnings) != 1 {
		t.Fatalf("warnings = %v, want exactly one", warnings)
	}
}

func TestFinderFor(t *testing.T) {
	finder := finderFor(map[string]string{"alice": "s3cret"})
	if pw, ok := finder("alice"); !ok || pw != "s3cret" {
		t.Errorf("finder(alice) = %q, %v", pw, ok)
	}
	if _, ok := finder("bob"); ok {
		t.Error("finder(bob) should not resolve")
	}
	if finderFor(nil) != nil {
		t.Error("finderFor(nil) should return nil")
	}
}

func TestBuildWithNoServicesRegistersNothing(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.WaitTime = 250 * time.Millisecond
	cfg.Services = nil

	s, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := len(s.Registry().Paths()); got != 0 {
		t.Fatalf("registered paths = %d, want 0", got)
	}
}
