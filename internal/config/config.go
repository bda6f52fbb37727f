package config

import (
	"fmt"
	"net"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for wsserverd.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Services   []ServiceConfig  `yaml:"services"`
	Security   SecurityConfig   `yaml:"security"`
	Logging    LoggingConfig    `yaml:"logging"`
	Health     HealthConfig     `yaml:"health"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// ServerConfig contains the Server Controller's construction and default
// service host settings.
type ServerConfig struct {
	BindAddress  string        `yaml:"bind_address"`
	Port         int           `yaml:"port"`
	Secure       bool          `yaml:"secure"`
	DocumentRoot string        `yaml:"document_root"`
	WaitTime     time.Duration `yaml:"wait_time"`
	KeepClean    bool          `yaml:"keep_clean"`
	ReuseAddress bool          `yaml:"reuse_address"`
	TLS          TLSConfig     `yaml:"tls"`
}

// ServiceConfig registers one path -> Behavior mapping with the Server
// Controller at startup. Behavior names are resolved against
// the internal/behaviors registry.
type ServiceConfig struct {
	Path     string `yaml:"path"`
	Behavior string `yaml:"behavior"`
}

// TLSConfig contains optional TLS certificate settings, consulted only
// when server.secure is true.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig selects the Server's authentication scheme.
type SecurityConfig struct {
	AuthScheme  string            `yaml:"auth_scheme"` // anonymous, basic, digest
	Realm       string            `yaml:"realm"`
	Credentials map[string]string `yaml:"credentials"` // username -> password
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// HealthConfig contains health check endpoint settings.
type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	ListenAddress string `yaml:"listen_address"`
	Detailed      bool   `yaml:"detailed"`
}

// MonitoringConfig contains metrics settings.
type MonitoringConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	MetricsEndpoint string `yaml:"metrics_endpoint"`
}

// DefaultConfig returns a Config with sensible defaults: one echo service
// at /ws/echo, anonymous auth, keep_clean on.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress: "127.0.0.1",
			Port:        8080,
			Secure:      false,
			WaitTime:    1 * time.Second,
			KeepClean:   true,
		},
		Services: []ServiceConfig{
			{Path: "/ws/echo", Behavior: "echo"},
		},
		Security: SecurityConfig{
			AuthScheme: "anonymous",
			Realm:      "SECRET AREA",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Health: HealthConfig{
			Enabled:       true,
			Endpoint:      "/health",
			ListenAddress: "127.0.0.1:8081",
			Detailed:      true,
		},
		Monitoring: MonitoringConfig{
			MetricsEnabled:  false,
			MetricsEndpoint: "/metrics",
		},
	}
}

// Load reads a config file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found at %s (run 'wsserverd setup' to create one)", path)
			}
			if os.IsPermission(err) {
				return nil, fmt.Errorf("permission denied reading %s (try running with sudo)", path)
			}
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w (check YAML indentation)", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.BindAddress == "" {
		return fmt.Errorf("server.bind_address is required")
	}
	if net.ParseIP(c.Server.BindAddress) == nil {
		return fmt.Errorf("server.bind_address is not a valid IP: %q", c.Server.BindAddress)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Server.WaitTime <= 0 {
		return fmt.Errorf("server.wait_time must be positive")
	}
	if c.Server.WaitTime > 5*time.Minute {
		return fmt.Errorf("server.wait_time must not exceed 5m")
	}
	if c.Server.DocumentRoot != "" && strings.TrimRight(c.Server.DocumentRoot, "/\\") == "" {
		return fmt.Errorf("server.document_root must not be the filesystem root")
	}
	if c.Server.Secure {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("server.tls.cert_file is required when server.secure is true")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("server.tls.key_file is required when server.secure is true")
		}
	}

	seen := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Path == "" || svc.Path[0] != '/' {
			return fmt.Errorf("services: path must start with \"/\", got %q", svc.Path)
		}
		if seen[svc.Path] {
			return fmt.Errorf("services: duplicate path %q", svc.Path)
		}
		seen[svc.Path] = true
		if svc.Behavior == "" {
			return fmt.Errorf("services: path %q is missing a behavior", svc.Path)
		}
	}

	switch c.Security.AuthScheme {
	case "anonymous", "basic", "digest":
		// valid
	default:
		return fmt.Errorf("security.auth_scheme must be one of: anonymous, basic, digest")
	}
	if c.Security.AuthScheme != "anonymous" {
		if c.Security.Realm == "" {
			return fmt.Errorf("security.realm is required when auth_scheme is not anonymous")
		}
		if len(c.Security.Credentials) == 0 {
			return fmt.Errorf("security.credentials must not be empty when auth_scheme is not anonymous")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	switch c.Logging.Format {
	case "json", "text":
		// valid
	default:
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Health.Enabled {
		if c.Health.ListenAddress == "" {
			return fmt.Errorf("health.listen_address is required when health is enabled")
		}
		if _, _, err := net.SplitHostPort(c.Health.ListenAddress); err != nil {
			return fmt.Errorf("health.listen_address is invalid: %w", err)
		}
		host, _, _ := net.SplitHostPort(c.Health.ListenAddress)
		ip := net.ParseIP(host)
		if ip != nil && !ip.IsLoopback() {
			return fmt.Errorf("health.listen_address should bind to a loopback address (e.g. 127.0.0.1) to avoid exposing diagnostics")
		}
	}

	return nil
}

// applyEnvOverrides applies WSSERVER_ prefixed environment variables.
// Convention: WSSERVER_ + uppercase + underscores for nesting.
func applyEnvOverrides(cfg *Config) {
	envMap := map[string]func(string){
		"WSSERVER_SERVER_BIND_ADDRESS":  func(v string) { cfg.Server.BindAddress = v },
		"WSSERVER_SERVER_PORT":          func(v string) { cfg.Server.Port = parseInt(v, cfg.Server.Port) },
		"WSSERVER_SERVER_SECURE":        func(v string) { cfg.Server.Secure = parseBool(v, cfg.Server.Secure) },
		"WSSERVER_SERVER_DOCUMENT_ROOT": func(v string) { cfg.Server.DocumentRoot = v },
		"WSSERVER_SERVER_WAIT_TIME":     func(v string) { cfg.Server.WaitTime = parseDuration(v, cfg.Server.WaitTime) },
		"WSSERVER_SERVER_KEEP_CLEAN":    func(v string) { cfg.Server.KeepClean = parseBool(v, cfg.Server.KeepClean) },
		"WSSERVER_SERVER_REUSE_ADDRESS": func(v string) { cfg.Server.ReuseAddress = parseBool(v, cfg.Server.ReuseAddress) },
		"WSSERVER_SECURITY_AUTH_SCHEME": func(v string) { cfg.Security.AuthScheme = v },
		"WSSERVER_SECURITY_REALM":       func(v string) { cfg.Security.Realm = v },
		"WSSERVER_LOGGING_LEVEL":        func(v string) { cfg.Logging.Level = v },
		"WSSERVER_LOGGING_FORMAT":       func(v string) { cfg.Logging.Format = v },
		"WSSERVER_LOGGING_FILE":        func(v string) { cfg.Logging.File = v },
		"WSSERVER_HEALTH_ENABLED":       func(v string) { cfg.Health.Enabled = parseBool(v, cfg.Health.Enabled) },
		"WSSERVER_HEALTH_LISTEN_ADDRESS": func(v string) { cfg.Health.ListenAddress = v },
	}

	for env, setter := range envMap {
		if v := os.Getenv(env); v != "" {
			setter(v)
		}
	}
}

// ApplyReloadableFields returns a copy of c with reloadable fields from
// newCfg. Non-reloadable: bind_address, port, secure, tls,
// health.listen_address — all require a process restart because they
// shape the listener or the registered certificate.
func (c *Config) ApplyReloadableFields(newCfg *Config) *Config {
	updated := *c
	updated.Server.WaitTime = newCfg.Server.WaitTime
	updated.Server.KeepClean = newCfg.Server.KeepClean
	updated.Security.Credentials = newCfg.Security.Credentials
	updated.Logging.Level = newCfg.Logging.Level
	updated.Services = newCfg.Services
	return &updated
}

// IsReloadSafe checks if only reloadable fields changed between configs.
func IsReloadSafe(old, new *Config) []string {
	var warnings []string
	if old.Server.BindAddress != new.Server.BindAddress || old.Server.Port != new.Server.Port {
		warnings = append(warnings, "server.bind_address/port requires restart")
	}
	if old.Server.Secure != new.Server.Secure || !reflect.DeepEqual(old.Server.TLS, new.Server.TLS) {
		warnings = append(warnings, "server.secure/tls requires restart")
	}
	if old.Health.ListenAddress != new.Health.ListenAddress {
		warnings = append(warnings, "health.listen_address requires restart")
	}
	return warnings
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	var v int
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseBool(s string, fallback bool) bool {
	s = strings.ToLower(s)
	switch s {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return fallback
	}
}
