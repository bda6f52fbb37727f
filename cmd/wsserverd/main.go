package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/cortexuvula/wsserver/internal/admin"
	"github.com/cortexuvula/wsserver/internal/bootstrap"
	"github.com/cortexuvula/wsserver/internal/config"
	"github.com/cortexuvula/wsserver/internal/health"
	"github.com/cortexuvula/wsserver/internal/logging"
	"github.com/cortexuvula/wsserver/internal/logring"
	"github.com/cortexuvula/wsserver/internal/metrics"
	"github.com/cortexuvula/wsserver/internal/setup"
	"github.com/cortexuvula/wsserver/internal/wsserver"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "wsserverd",
		Short: "Embeddable multi-service WebSocket server daemon",
	}

	var configPath string
	var verbose bool

	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(configPath, verbose)
		},
	}
	startCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	startCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version and build info",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("wsserver %s\n", Version)
			fmt.Printf("  Build time: %s\n", BuildTime)
			fmt.Printf("  Git commit: %s\n", GitCommit)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config without starting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("config validation failed: %w", err)
			}
			fmt.Printf("Configuration is valid.\n")
			fmt.Printf("  Listen: %s:%d (secure: %v)\n", cfg.Server.BindAddress, cfg.Server.Port, cfg.Server.Secure)
			fmt.Printf("  Services: %d\n", len(cfg.Services))
			for _, svc := range cfg.Services {
				fmt.Printf("    %s -> %s\n", svc.Path, svc.Behavior)
			}
			fmt.Printf("  Auth: %s\n", cfg.Security.AuthScheme)
			fmt.Printf("  Health: %s\n", cfg.Health.ListenAddress)
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check health (exit 0 if healthy, 1 if not)",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, _ := cmd.Flags().GetString("url")
			return checkHealth(url)
		},
	}
	healthCmd.Flags().String("url", "http://127.0.0.1:8081/health", "Health endpoint URL")

	var setupConfigPath string
	setupCmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setup.RunWizard(os.Stdin, os.Stdout, setup.WizardOptions{
				ConfigPath: setupConfigPath,
			})
		},
	}
	setupCmd.Flags().StringVar(&setupConfigPath, "config-path", "", "Override config file path (default: /etc/wsserver/config.yaml)")

	systemdCmd := &cobra.Command{
		Use:   "systemd",
		Short: "Generate systemd service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			printFlag, _ := cmd.Flags().GetBool("print")
			if printFlag {
				printSystemdUnit()
			}
			return nil
		},
	}
	systemdCmd.Flags().Bool("print", false, "Print systemd unit to stdout")

	rootCmd.AddCommand(startCmd, versionCmd, validateCmd, healthCmd, setupCmd, systemdCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(configPath string, verbose bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	// Ring buffer tee so the admin API can serve recent log lines.
	ring := logring.NewRingBuffer(1000)
	baseHandler, lj := logging.SetupHandler(cfg.Logging)
	slog.SetDefault(slog.New(logring.NewTeeHandler(baseHandler, ring)))
	if lj != nil {
		defer lj.Close()
	}

	startTime := time.Now()

	slog.Info("starting wsserver",
		"version", Version,
		"bind", cfg.Server.BindAddress,
		"port", cfg.Server.Port,
		"secure", cfg.Server.Secure,
		"services", len(cfg.Services),
	)

	server, err := bootstrap.Build(cfg)
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Monitoring.MetricsEnabled {
		m = metrics.New()
		server.SetMetricHook(m.SessionHook)
		slog.Info("prometheus metrics enabled", "endpoint", cfg.Monitoring.MetricsEndpoint)
	}

	// cfg is mutated by reload; every reader goes through this lock.
	var cfgMu sync.Mutex
	getConfig := func() *config.Config {
		cfgMu.Lock()
		defer cfgMu.Unlock()
		return cfg
	}

	// Reload config closure — shared by the SIGHUP handler and the admin API.
	reloadConfig := func() error {
		newCfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("config reload failed: %w", err)
		}

		cfgMu.Lock()
		warnings := config.IsReloadSafe(cfg, newCfg)
		cfg = cfg.ApplyReloadableFields(newCfg)
		services := cfg.Services
		logCfg := cfg.Logging
		cfgMu.Unlock()

		for _, w := range warnings {
			slog.Warn("config reload warning", "warning", w)
		}
		for _, w := range bootstrap.ReconcileServices(server, services) {
			slog.Warn("service reconcile warning", "warning", w)
		}

		newHandler, _ := logging.SetupHandler(logCfg)
		slog.SetDefault(slog.New(logring.NewTeeHandler(newHandler, ring)))

		slog.Info("config reloaded successfully")
		return nil
	}

	// Start the controller: resolves TLS, starts every service host, binds
	// the listener, spawns the acceptor, and notifies systemd READY.
	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	if m != nil {
		m.ServerState.Set(float64(wsserver.Start))
	}
	slog.Info("server listening", "address", server.Addr().String())

	// Health/metrics/admin listener on a loopback address.
	var healthServer *http.Server
	if cfg.Health.Enabled {
		healthHandler := health.NewHandler(server, Version, cfg.Health.Detailed)
		healthMux := http.NewServeMux()
		healthMux.Handle(cfg.Health.Endpoint, healthHandler)

		if cfg.Monitoring.MetricsEnabled {
			healthMux.Handle(cfg.Monitoring.MetricsEndpoint, promhttp.Handler())
		}

		adminAPI := admin.New(admin.Dependencies{
			Server:     server,
			RingBuffer: ring,
			Version:    Version,
			BuildTime:  BuildTime,
			GitCommit:  GitCommit,
			StartTime:  startTime,
			GetConfig:  getConfig,
			ReloadFunc: reloadConfig,
		})
		healthMux.Handle("/api/v1/", adminAPI.Handler())

		healthListener, err := net.Listen("tcp", cfg.Health.ListenAddress)
		if err != nil {
			server.Stop(wsserver.CloseGoingAway, "health listener bind failed")
			return fmt.Errorf("failed to bind health listener on %s: %w", cfg.Health.ListenAddress, err)
		}
		healthServer = &http.Server{
			Handler:           healthMux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
		}
		go func() {
			slog.Info("health endpoint listening", "address", cfg.Health.ListenAddress)
			if err := healthServer.Serve(healthListener); err != nil && err != http.ErrServerClosed {
				slog.Error("health server error", "error", err)
			}
		}()
	}

	// Watchdog heartbeat (send every 15s for 30s WatchdogSec).
	watchdogCtx, watchdogCancel := context.WithCancel(context.Background())
	defer watchdogCancel()
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					slog.Warn("failed to notify watchdog", "error", err)
				}
			case <-watchdogCtx.Done():
				return
			}
		}
	}()

	// Signal handling.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	for sig := range sigChan {
		switch sig {
		case syscall.SIGHUP:
			slog.Info("received SIGHUP, reloading config")
			if err := reloadConfig(); err != nil {
				slog.Error("config reload failed", "error", err)
			}

		case syscall.SIGTERM, syscall.SIGINT:
			slog.Info("received shutdown signal, draining sessions", "signal", sig.String())
			watchdogCancel()

			if err := server.Stop(wsserver.CloseGoingAway, "server shutting down"); err != nil {
				slog.Warn("shutdown completed with error", "error", err)
			}
			if m != nil {
				m.ServerState.Set(float64(wsserver.Stop))
			}

			if healthServer != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				healthServer.Shutdown(shutdownCtx)
				cancel()
			}

			slog.Info("shutdown complete")
			return nil
		}
	}

	return nil
}

func checkHealth(healthURL string) error {
	client := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Get(healthURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Println("healthy")
		return nil
	}
	fmt.Fprintf(os.Stderr, "unhealthy (status: %d)\n", resp.StatusCode)
	os.Exit(1)
	return nil
}

func printSystemdUnit() {
	fmt.Print(`[Unit]
Description=wsserver - Multi-Service WebSocket Server
Documentation=https://github.com/cortexuvula/wsserver
After=network-online.target
Wants=network-online.target

[Service]
Type=notify
User=wsserver
Group=wsserver
ExecStartPre=/usr/local/bin/wsserverd validate --config /etc/wsserver/config.yaml
ExecStart=/usr/local/bin/wsserverd start --config /etc/wsserver/config.yaml
ExecReload=/bin/kill -HUP $MAINPID
Restart=always
RestartPreventExitStatus=0
RestartSec=5s
WatchdogSec=30s
TimeoutStartSec=30s

# Security hardening
ProtectSystem=strict
ProtectHome=true
NoNewPrivileges=true
PrivateTmp=true
PrivateDevices=true
ProtectKernelTunables=true
ProtectKernelModules=true
ProtectControlGroups=true
ProtectClock=true
RestrictNamespaces=true
RestrictRealtime=true
RestrictSUIDSGID=true
LockPersonality=true
SystemCallArchitectures=native
ReadOnlyPaths=/etc/wsserver
LogsDirectory=wsserver
StateDirectory=wsserver
LimitNOFILE=65535

# Logging
StandardOutput=journal
StandardError=journal
SyslogIdentifier=wsserverd

[Install]
WantedBy=multi-user.target
`)
}
