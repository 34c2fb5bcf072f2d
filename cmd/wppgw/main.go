package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/daemon"
	"github.com/matheus3301/wppgw/internal/session"
	"go.uber.org/fx"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	configFlag := flag.String("config", "", "config file (default ~/.wppgw/config.toml)")
	listenFlag := flag.String("listen", "", "HTTP listen address (overrides gateway.listen)")
	vendorFlag := flag.String("vendor", "", "upstream provider: rest or embedded (overrides vendor.kind)")
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
	if *listenFlag != "" {
		cfg.Gateway.Listen = *listenFlag
	}
	if *vendorFlag != "" {
		cfg.Vendor.Kind = *vendorFlag
	}
	if err := cfg.Validate(); err != nil {
		fatal(err)
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)

	app.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
