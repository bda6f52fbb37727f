package setup

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cortexuvula/wsserver/internal/config"
)

func TestPrompt_WithInput(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("custom-value\n")
	scanner := bufio.NewScanner(in)

	result := prompt(scanner, &out, "Enter value: ", "default")
	if result != "custom-value" {
		t.Errorf("prompt() = %q, want %q", result, "custom-value")
	}
	if !strings.Contains(out.String(), "Enter value: ") {
		t.Error("prompt should print the message to out")
	}
}

func TestPrompt_EmptyInput(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("\n")
	scanner := bufio.NewScanner(in)

	result := prompt(scanner, &out, "Enter value: ", "default-val")
	if result != "default-val" {
		t.Errorf("prompt() = %q, want %q", result, "default-val")
	}
}

func TestPrompt_EOF(t *testing.T) {
	var out bytes.Buffer
	in := strings.NewReader("")
	scanner := bufio.NewScanner(in)

	result := prompt(scanner, &out, "Enter value: ", "fallback")
	if result != "fallback" {
		t.Errorf("prompt() = %q, want %q on EOF", result, "fallback")
	}
}

func TestGenerateConfigYAML(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.BindAddress = "10.0.0.5"
	cfg.Server.Port = 9090
	cfg.Services = []config.ServiceConfig{{Path: "/ws/room", Behavior: "room"}}

	content := generateConfigYAML(cfg)
	if !strings.Contains(content, `bind_address: "10.0.0.5"`) {
		t.Error("config should contain bind_address")
	}
	if !strings.Contains(content, "port: 9090") {
		t.Error("config should contain port")
	}
	if !strings.Contains(content, `path: "/ws/room"`) || !strings.Contains(content, `behavior: "room"`) {
		t.Error("config should contain the configured service")
	}
}

func TestGenerateConfigYAML_WithCredentials(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Security.AuthScheme = "basic"
	cfg.Security.Credentials = map[string]string{"alice": "s3cret"}

	content := generateConfigYAML(cfg)
	if !strings.Contains(content, `auth_scheme: "basic"`) {
		t.Error("config should contain auth_scheme")
	}
	if !strings.Contains(content, "alice:") || !strings.Contains(content, "s3cret") {
		t.Error("config should contain the credential entry")
	}
}

func TestWriteConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subdir", "config.yaml")
	cfg := config.DefaultConfig()

	var out bytes.Buffer
	if err := writeConfig(path, cfg, false, &out); err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading written config: %v", err)
	}
	if !strings.Contains(string(data), "bind_address") {
		t.Error("written config should contain the rendered YAML")
	}

	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0640 {
		t.Errorf("config permissions = %o, want 0640", info.Mode().Perm())
	}
}

func TestRunWizard_AllDefaults(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	input := strings.Join([]string{
		"",   // bind address (default 127.0.0.1)
		"",   // listen port (default 8080)
		"n",  // enable TLS
		"",   // document root
		"",   // auth scheme (default anonymous)
		"",   // initial service path (default /ws/echo)
		"",   // behavior (default echo)
		"",   // health port (default 8081)
		"n",  // metrics
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunWizard(strings.NewReader(input), &out, WizardOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "Setup complete!") {
		t.Error("wizard should print completion message")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `bind_address: "127.0.0.1"`) {
		t.Error("config should contain the default bind address")
	}
	if !strings.Contains(content, "port: 8080") {
		t.Error("config should contain the default port")
	}
	if !strings.Contains(content, `path: "/ws/echo"`) || !strings.Contains(content, `behavior: "echo"`) {
		t.Error("config should contain the default service")
	}
}

func TestRunWizard_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	input := strings.Join([]string{
		"127.0.0.1", // bind address
		"9090",      // listen port
		"n",         // enable TLS
		"",          // document root
		"",          // auth scheme
		"/ws/room",  // initial service path
		"room",      // behavior
		"9091",      // health port
		"n",         // metrics
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunWizard(strings.NewReader(input), &out, WizardOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "port: 9090") {
		t.Error("config should contain the custom port")
	}
	if !strings.Contains(content, `path: "/ws/room"`) || !strings.Contains(content, `behavior: "room"`) {
		t.Error("config should contain the custom service")
	}
	if !strings.Contains(content, `listen_address: "127.0.0.1:9091"`) {
		t.Error("config should contain the custom health address")
	}
}

func TestRunWizard_BasicAuth(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")

	input := strings.Join([]string{
		"",              // bind address
		"",              // listen port
		"n",             // enable TLS
		"",              // document root
		"basic",         // auth scheme
		"wsserver-realm", // realm
		"alice",         // username
		"s3cret",        // password
		"",              // initial service path
		"",              // behavior
		"",              // health port
		"n",             // metrics
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunWizard(strings.NewReader(input), &out, WizardOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, `auth_scheme: "basic"`) {
		t.Error("config should contain auth_scheme basic")
	}
	if !strings.Contains(content, `realm: "wsserver-realm"`) {
		t.Error("config should contain the custom realm")
	}
	if !strings.Contains(content, "alice:") {
		t.Error("config should contain the alice credential")
	}
}

func TestRunWizard_ExistingConfig_NoOverwrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	os.WriteFile(configPath, []byte("existing"), 0640)

	input := strings.Join([]string{
		"", "", "n", "", "", "", "", "", "n", // wizard defaults
		"n", // don't overwrite
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunWizard(strings.NewReader(input), &out, WizardOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}

	data, _ := os.ReadFile(configPath)
	if string(data) != "existing" {
		t.Error("config should not be overwritten when user says no")
	}
	if !strings.Contains(out.String(), "Setup cancelled") {
		t.Error("should print cancellation message")
	}
}

func TestRunWizard_ExistingConfig_Overwrite(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	os.WriteFile(configPath, []byte("old"), 0640)

	input := strings.Join([]string{
		"", "", "n", "", "", "", "", "", "n",
		"y", // overwrite
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := RunWizard(strings.NewReader(input), &out, WizardOptions{ConfigPath: configPath}); err != nil {
		t.Fatalf("RunWizard() error: %v", err)
	}

	data, _ := os.ReadFile(configPath)
	if !strings.Contains(string(data), "bind_address") {
		t.Error("config should be overwritten with new content")
	}
}

func TestCheckPortAvailable(t *testing.T) {
	// Port 0 always resolves to an OS-assigned free port, so this should
	// never report "in use".
	if reason := checkPortAvailable("127.0.0.1", "0"); reason != "" {
		t.Errorf("checkPortAvailable(127.0.0.1, 0) = %q, want \"\"", reason)
	}
}

func TestValidatePort(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"65535": true,
		"0":     false,
		"65536": false,
		"abc":   false,
	}
	for port, want := range cases {
		if got := validatePort(port); got != want {
			t.Errorf("validatePort(%q) = %v, want %v", port, got, want)
		}
	}
}
