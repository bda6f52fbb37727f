// Package bootstrap assembles a wsserver.Server from a config.Config:
// TLS material, auth scheme, controller defaults, and the services:
// list, with behavior names resolved against the behaviors registry.
// It is the one place the config file's declarative shape meets the
// Server Controller's imperative setters.
package bootstrap

import (
	"crypto/tls"
	"fmt"

	"github.com/cortexuvula/wsserver/internal/behaviors"
	"github.com/cortexuvula/wsserver/internal/config"
	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Build constructs a Server in state Ready from cfg. It does not call
// Start; the caller decides when the listener opens.
func Build(cfg *config.Config) (*wsserver.Server, error) {
	var tlsConfig *tls.Config
	if cfg.Server.Secure {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS key pair: %w", err)
		}
		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	s := wsserver.NewServer(cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.Secure, tlsConfig)
	s.SetWaitTime(cfg.Server.WaitTime)
	s.SetKeepClean(cfg.Server.KeepClean)
	s.SetReuseAddress(cfg.Server.ReuseAddress)
	if cfg.Server.DocumentRoot != "" {
		s.SetDocumentRoot(cfg.Server.DocumentRoot)
	}
	s.SetRealm(cfg.Security.Realm)
	s.SetAuthScheme(authScheme(cfg.Security.AuthScheme), finderFor(cfg.Security.Credentials))

	if err := RegisterServices(s, cfg.Services); err != nil {
		return nil, err
	}
	return s, nil
}

// RegisterServices adds every declared service to s, resolving behavior
// names through the behaviors registry. It works both before Start (at
// boot) and after (live adds on config reload, per the registry's
// add-while-Start contract).
func RegisterServices(s *wsserver.Server, services []config.ServiceConfig) error {
	for _, svc := range services {
		factory, err := behaviors.Lookup(svc.Behavior)
		if err != nil {
			return fmt.Errorf("service %s: %w", svc.Path, err)
		}
		if err := s.AddService(svc.Path, factory, nil); err != nil {
			return fmt.Errorf("registering service %s: %w", svc.Path, err)
		}
	}
	return nil
}

// ReconcileServices diffs the currently registered paths against the
// reloaded services list: paths that disappeared are removed (closing
// their sessions with 1001), new paths are added live. Paths present in
// both are left untouched — a behavior swap on an existing path needs a
// restart, since live sessions hold the old factory's instances.
func ReconcileServices(s *wsserver.Server, services []config.ServiceConfig) []string {
	var warnings []string

	want := make(map[string]string, len(services))
	for _, svc := range services {
		want[svc.Path] = svc.Behavior
	}

	for _, path := range s.Registry().Paths() {
		if _, keep := want[path]; !keep {
			s.RemoveService(path)
		}
	}

	for _, svc := range services {
		if _, registered := s.Registry().Get(svc.Path); registered {
			continue
		}
		factory, err := behaviors.Lookup(svc.Behavior)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("service %s: %v", svc.Path, err))
			continue
		}
		if err := s.AddService(svc.Path, factory, nil); err != nil {
			warnings = append(warnings, fmt.Sprintf("service %s: %v", svc.Path, err))
		}
	}
	return warnings
}

func authScheme(name string) wsserver.AuthScheme {
	switch name {
	case "basic":
		return wsserver.AuthBasic
	case "digest":
		return wsserver.AuthDigest
	default:
		return wsserver.AuthAnonymous
	}
}

func finderFor(credentials map[string]string) func(username string) (string, bool) {
	if len(credentials) == 0 {
		return nil
	}
	return func(username string) (string, bool) {
		password, ok := credentials[username]
		return password, ok
	}
}
