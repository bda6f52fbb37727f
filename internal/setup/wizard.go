// Package setup implements the interactive configuration wizard invoked by
// "wsserverd setup": prompt for the Server Controller's bind settings,
// initial service, and auth scheme, then write and validate a config file.
package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cortexuvula/wsserver/internal/behaviors"
	"github.com/cortexuvula/wsserver/internal/config"
)

const (
	defaultConfigPath = "/etc/wsserver/config.yaml"
	defaultBindHost   = "127.0.0.1"
	defaultListenPort = "8080"
	defaultHealthPort = "8081"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string // Override default config path
}

// RunWizard runs the interactive setup wizard. It takes io.Reader/io.Writer
// for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo wsserverd setup\n\n")
	}

	fmt.Fprintln(out, "wsserver Setup")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	// Step 1: Bind address and port.
	bindAddress := prompt(scanner, out, fmt.Sprintf("Bind address [%s]: ", defaultBindHost), defaultBindHost)
	if net.ParseIP(bindAddress) == nil {
		fmt.Fprintf(out, "  WARNING: %q does not look like an IP address\n\n", bindAddress)
	}
	listenPort := promptPort(scanner, out, fmt.Sprintf("Listen port [%s]: ", defaultListenPort), defaultListenPort)
	if reason := checkPortAvailable(bindAddress, listenPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on %s %s\n\n", listenPort, bindAddress, reason)
	}

	// Step 2: TLS.
	secure := strings.HasPrefix(strings.ToLower(prompt(scanner, out, "Enable TLS? [y/N]: ", "n")), "y")
	var certFile, keyFile string
	if secure {
		certFile = prompt(scanner, out, "TLS certificate path: ", "")
		keyFile = prompt(scanner, out, "TLS key path: ", "")
		for certFile == "" || keyFile == "" {
			fmt.Fprintln(out, "  Both a certificate and a key path are required when TLS is enabled.")
			certFile = prompt(scanner, out, "TLS certificate path: ", "")
			keyFile = prompt(scanner, out, "TLS key path: ", "")
		}
	}

	// Step 3: Document root (optional static file serving).
	documentRoot := prompt(scanner, out, "Static document root (leave empty to disable): ", "")

	// Step 4: Authentication.
	authScheme := strings.ToLower(prompt(scanner, out, "Auth scheme [anonymous/basic/digest] (anonymous): ", "anonymous"))
	for authScheme != "anonymous" && authScheme != "basic" && authScheme != "digest" {
		fmt.Fprintln(out, "  Must be one of: anonymous, basic, digest")
		authScheme = strings.ToLower(prompt(scanner, out, "Auth scheme [anonymous/basic/digest] (anonymous): ", "anonymous"))
	}
	realm := "SECRET AREA"
	credentials := map[string]string{}
	if authScheme != "anonymous" {
		realm = prompt(scanner, out, fmt.Sprintf("Realm [%s]: ", realm), realm)
		username := prompt(scanner, out, "Username: ", "")
		for username == "" {
			username = prompt(scanner, out, "Username (required): ", "")
		}
		password := prompt(scanner, out, "Password: ", "")
		credentials[username] = password
	}

	// Step 5: Initial service path and behavior.
	servicePath := prompt(scanner, out, "Initial service path [/ws/echo]: ", "/ws/echo")
	for servicePath == "" || servicePath[0] != '/' {
		fmt.Fprintln(out, "  Path must start with \"/\"")
		servicePath = prompt(scanner, out, "Initial service path [/ws/echo]: ", "/ws/echo")
	}
	behaviorName := prompt(scanner, out, fmt.Sprintf("Behavior %v [echo]: ", behaviors.Names()), "echo")
	for {
		if _, err := behaviors.Lookup(behaviorName); err == nil {
			break
		}
		fmt.Fprintf(out, "  Unknown behavior %q; choose one of %v\n", behaviorName, behaviors.Names())
		behaviorName = prompt(scanner, out, "Behavior: ", "echo")
	}

	// Step 6: Health endpoint.
	healthPort := promptPort(scanner, out, fmt.Sprintf("Health check port [%s]: ", defaultHealthPort), defaultHealthPort)
	healthAddress := net.JoinHostPort("127.0.0.1", healthPort)
	if reason := checkPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	// Step 7: Metrics.
	metricsEnabled := strings.HasPrefix(strings.ToLower(prompt(scanner, out, "Enable Prometheus metrics? [y/N]: ", "n")), "y")

	// Step 8: Check for existing config.
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out, fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 9: Write config.
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	listenAddress := net.JoinHostPort(bindAddress, listenPort)
	cfg := buildConfig(bindAddress, listenPort, secure, certFile, keyFile, documentRoot,
		authScheme, realm, credentials, servicePath, behaviorName, healthAddress, metricsEnabled)

	if err := writeConfig(configPath, cfg, isRoot, out); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	// Step 10: Validate the written config.
	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 11: Offer to start systemd service.
	if isRoot && isSystemdAvailable() {
		fmt.Fprintln(out)
		startService := prompt(scanner, out, "Start wsserverd service now? [Y/n]: ", "y")
		if strings.HasPrefix(strings.ToLower(startService), "y") || startService == "" {
			if err := startSystemdService(out); err != nil {
				fmt.Fprintf(out, "  WARNING: Failed to start service: %v\n", err)
				fmt.Fprintln(out, "  You can start it manually: sudo systemctl start wsserverd")
			}
		}
	}

	// Step 12: Print summary.
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:   %s\n", configPath)
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	fmt.Fprintf(out, "  Service:  %s://%s%s\n", scheme, listenAddress, servicePath)
	fmt.Fprintf(out, "  Health:   http://%s/health\n", healthAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", healthAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u wsserverd -f")
	fmt.Fprintln(out, "  Validate:       wsserverd validate --config "+configPath)

	return nil
}

// buildConfig assembles a config.Config from the wizard's answers.
func buildConfig(bindAddress, port string, secure bool, certFile, keyFile, documentRoot,
	authScheme, realm string, credentials map[string]string,
	servicePath, behaviorName, healthAddress string, metricsEnabled bool) *config.Config {
	cfg := config.DefaultConfig()
	portNum, _ := strconv.Atoi(port)

	cfg.Server.BindAddress = bindAddress
	cfg.Server.Port = portNum
	cfg.Server.Secure = secure
	cfg.Server.TLS.CertFile = certFile
	cfg.Server.TLS.KeyFile = keyFile
	cfg.Server.DocumentRoot = documentRoot

	cfg.Services = []config.ServiceConfig{{Path: servicePath, Behavior: behaviorName}}

	cfg.Security.AuthScheme = authScheme
	cfg.Security.Realm = realm
	cfg.Security.Credentials = credentials

	cfg.Health.Enabled = true
	cfg.Health.ListenAddress = healthAddress

	cfg.Monitoring.MetricsEnabled = metricsEnabled

	return cfg
}

// yamlEscapeString escapes a string for use inside YAML double quotes.
func yamlEscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// generateConfigYAML renders cfg as a commented YAML document, matching
// config.Config's field layout and yaml tags field-for-field.
func generateConfigYAML(cfg *config.Config) string {
	var services strings.Builder
	for _, svc := range cfg.Services {
		fmt.Fprintf(&services, "  - path: \"%s\"\n    behavior: \"%s\"\n",
			yamlEscapeString(svc.Path), yamlEscapeString(svc.Behavior))
	}

	var creds strings.Builder
	for user, pass := range cfg.Security.Credentials {
		fmt.Fprintf(&creds, "    %s: \"%s\"\n", user, yamlEscapeString(pass))
	}
	credsBlock := "  credentials: {}"
	if creds.Len() > 0 {
		credsBlock = "  credentials:\n" + creds.String()
		credsBlock = strings.TrimRight(credsBlock, "\n")
	}

	return fmt.Sprintf(`# wsserver Configuration
# Generated by: wsserverd setup

server:
  bind_address: "%s"
  port: %d
  secure: %t
  document_root: "%s"
  wait_time: "%s"
  keep_clean: %t
  reuse_address: %t
  tls:
    cert_file: "%s"
    key_file: "%s"

services:
%s
security:
  auth_scheme: "%s"
  realm: "%s"
%s

logging:
  level: "%s"
  format: "%s"
  file: "%s"
  max_size_mb: %d
  max_backups: %d
  max_age_days: %d
  compress: %t

health:
  enabled: %t
  endpoint: "%s"
  listen_address: "%s"
  detailed: %t

monitoring:
  metrics_enabled: %t
  metrics_endpoint: "%s"
`,
		yamlEscapeString(cfg.Server.BindAddress), cfg.Server.Port, cfg.Server.Secure,
		yamlEscapeString(cfg.Server.DocumentRoot), cfg.Server.WaitTime, cfg.Server.KeepClean, cfg.Server.ReuseAddress,
		yamlEscapeString(cfg.Server.TLS.CertFile), yamlEscapeString(cfg.Server.TLS.KeyFile),
		services.String(),
		yamlEscapeString(cfg.Security.AuthScheme), yamlEscapeString(cfg.Security.Realm), credsBlock,
		yamlEscapeString(cfg.Logging.Level), yamlEscapeString(cfg.Logging.Format), yamlEscapeString(cfg.Logging.File),
		cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.MaxAgeDays, cfg.Logging.Compress,
		cfg.Health.Enabled, yamlEscapeString(cfg.Health.Endpoint), yamlEscapeString(cfg.Health.ListenAddress), cfg.Health.Detailed,
		cfg.Monitoring.MetricsEnabled, yamlEscapeString(cfg.Monitoring.MetricsEndpoint))
}

// prompt displays a message and reads a line from the scanner. Returns
// defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input. Returns
// defaultVal on empty/EOF input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// checkPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func checkPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// isSystemdAvailable checks if systemctl is available.
func isSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// startSystemdService starts (or restarts) the wsserverd service.
func startSystemdService(out io.Writer) error {
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := exec.Command("systemctl", "restart", "wsserverd").Run(); err != nil {
		if err := exec.Command("systemctl", "start", "wsserverd").Run(); err != nil {
			return err
		}
	}

	time.Sleep(2 * time.Second)
	output, err := exec.Command("systemctl", "is-active", "wsserverd").Output()
	if err != nil {
		return fmt.Errorf("service did not start (status: %s)", strings.TrimSpace(string(output)))
	}
	status := strings.TrimSpace(string(output))
	if status == "active" {
		fmt.Fprintln(out, "  Service started successfully.")
	} else {
		fmt.Fprintf(out, "  Service status: %s\n", status)
	}
	return nil
}

// writeConfig renders cfg as commented YAML and writes it to path, creating
// parent directories as needed.
func writeConfig(path string, cfg *config.Config, setOwnership bool, out io.Writer) error {
	path = filepath.Clean(path)

	data := []byte(generateConfigYAML(cfg))

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if setOwnership {
		u, err := user.Lookup("wsserver")
		if err != nil {
			fmt.Fprintf(out, "  WARNING: Could not look up user wsserver: %v\n", err)
			return nil
		}
		g, err := user.LookupGroup("wsserver")
		if err != nil {
			fmt.Fprintf(out, "  WARNING: Could not look up group wsserver: %v\n", err)
			return nil
		}
		uid, err := strconv.Atoi(u.Uid)
		if err != nil {
			fmt.Fprintf(out, "  WARNING: Could not parse UID %q for user wsserver: %v\n", u.Uid, err)
			return nil
		}
		gid, err := strconv.Atoi(g.Gid)
		if err != nil {
			fmt.Fprintf(out, "  WARNING: Could not parse GID %q for group wsserver: %v\n", g.Gid, err)
			return nil
		}
		if err := os.Chown(path, uid, gid); err != nil {
			fmt.Fprintf(out, "  WARNING: Could not set ownership to wsserver:wsserver: %v\n", err)
		}
	}

	return nil
}
