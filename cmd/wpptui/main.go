package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/daemon"
	"github.com/matheus3301/wppgw/internal/logging"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/sync"
	"github.com/matheus3301/wppgw/internal/tui"
	"go.uber.org/zap"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wppgw/config.toml)")
	gatewayFlag := flag.String("gateway", "", "gateway base URL (overrides client.gateway_url; \"-\" runs without one)")
	transportFlag := flag.String("transport", "", "event stream transport: sse or ws")
	noStart := flag.Bool("no-start", false, "do not start a local gateway when none is running")
	flag.Parse()

	path := *configFlag
	if path == "" {
		path = session.ConfigPath()
	}
	sessionName, err := session.Resolve(*sessionFlag, path)
	if err != nil {
		fatal(err)
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		fatal(err)
	}
	switch *gatewayFlag {
	case "":
	case "-":
		cfg.Client.GatewayURL = ""
	default:
		cfg.Client.GatewayURL = *gatewayFlag
	}
	if *transportFlag != "" {
		cfg.Client.Transport = *transportFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	// The TUI owns the terminal, so logs only go to the file.
	logger, err := logging.New(logging.Options{
		Path:  session.LogPath(sessionName, "wpptui"),
		Quiet: true,
	}, "wpptui")
	if err != nil {
		fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	var api sync.GatewayAPI
	if gw := cfg.Client.GatewayURL; gw != "" {
		if !*noStart && isLoopback(gw) {
			ensureGateway(sessionName, cfg, logger)
		}
		api = sync.NewClient(gw, cfg.Client.Transport, cfg.Client.RequestTimeout.Std(), logger)
	}

	engine := sync.NewEngine(api, sync.OptionsFromConfig(cfg.Client), logger)
	app := tui.NewApp(engine, tui.Options{
		Session:   sessionName,
		Gateway:   cfg.Client.GatewayURL,
		Transport: cfg.Client.Transport,
	}, logger)
	if err := app.Run(); err != nil {
		fatal(err)
	}
}

// ensureGateway starts wppgw for the session when its health socket does
// not answer. Failures are reported but not fatal: the engine keeps
// retrying and the TUI shows the instance as disconnected meanwhile.
func ensureGateway(sessionName string, cfg *config.Config, logger *zap.Logger) {
	socketPath := cfg.Gateway.HealthSocket
	if socketPath == "" {
		socketPath = session.HealthSocketPath(sessionName)
	}
	if probeGateway(socketPath) {
		return
	}

	fmt.Fprintf(os.Stderr, "gateway not running for session %q, starting...\n", sessionName)
	if err := startGateway(sessionName); err != nil {
		logger.Warn("start gateway", zap.Error(err))
		fmt.Fprintf(os.Stderr, "failed to start gateway: %v\n", err)
		return
	}
	if !waitForGateway(socketPath, 10*time.Second) {
		logger.Warn("gateway did not become ready", zap.String("socket", socketPath))
		fmt.Fprintln(os.Stderr, "gateway did not become ready")
	}
}

func probeGateway(socketPath string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := daemon.Probe(ctx, socketPath, "")
	return err == nil
}

func startGateway(sessionName string) error {
	executable, err := os.Executable()
	if err != nil {
		return err
	}
	bin := filepath.Join(filepath.Dir(executable), "wppgw")
	if _, err := os.Stat(bin); err != nil {
		bin = "wppgw"
	}

	cmd := exec.Command(bin, "--session", sessionName)
	// Inherit stderr so startup errors are visible.
	cmd.Stderr = os.Stderr
	return cmd.Start()
}

func waitForGateway(socketPath string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if probeGateway(socketPath) {
			return true
		}
		time.Sleep(300 * time.Millisecond)
	}
	return false
}

func isLoopback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
