// Package daemon composes the gateway process: logger, bus, the upstream
// provider selected by config, the HTTP gateway and the gRPC health socket.
package daemon

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/gateway"
	"github.com/matheus3301/wppgw/internal/lock"
	"github.com/matheus3301/wppgw/internal/logging"
	"github.com/matheus3301/wppgw/internal/session"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	"github.com/matheus3301/wppgw/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const binaryName = "wppgw"

// Params holds the resolved session and configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	SocketPath  string // optional override for testing; empty = config or default
	LogPath     string // optional override; empty = session log file
}

// Module returns the fx module for the gateway daemon.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideTracker,
			provideProvider,
			provideGateway,
			NewHealthServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	path := p.LogPath
	if path == "" {
		if err := session.EnsureDir(p.SessionName); err != nil {
			return nil, err
		}
		path = session.LogPath(p.SessionName, binaryName)
	}
	return logging.New(logging.Options{Path: path}, binaryName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker() *gateway.StatusTracker {
	return gateway.NewStatusTracker()
}

// provideProvider builds the upstream provider named by vendor.kind.
func provideProvider(lc fx.Lifecycle, p Params, b *bus.Bus, logger *zap.Logger) (wa.Provider, error) {
	v := p.Config.Vendor
	switch v.Kind {
	case config.VendorREST:
		logger.Info("using rest provider", zap.String("base_url", v.BaseURL), zap.String("instance", v.Instance))
		return wa.NewREST(v.BaseURL, v.APIKey, v.Instance, v.Timeout.Std(), logger.Named("vendor")), nil
	case config.VendorEmbedded:
		return provideEmbedded(lc, p, b, logger)
	default:
		return nil, fmt.Errorf("unknown vendor kind %q", v.Kind)
	}
}

type embeddedPaths struct {
	dir      string
	deviceDB string
	vendorDB string
}

func resolveEmbeddedPaths(p Params) embeddedPaths {
	if dir := p.Config.Vendor.DataDir; dir != "" {
		return embeddedPaths{
			dir:      dir,
			deviceDB: filepath.Join(dir, "device.db"),
			vendorDB: filepath.Join(dir, "vendor.db"),
		}
	}
	return embeddedPaths{
		dir:      session.Dir(p.SessionName),
		deviceDB: session.DeviceDBPath(p.SessionName),
		vendorDB: session.VendorDBPath(p.SessionName),
	}
}

// provideEmbedded wires the in-process WhatsApp client: data dir lock,
// vendor store, state machine, whatsmeow adapter and its event handler.
func provideEmbedded(lc fx.Lifecycle, p Params, b *bus.Bus, logger *zap.Logger) (wa.Provider, error) {
	paths := resolveEmbeddedPaths(p)
	log := logger.Named("embedded")

	log.Info("acquiring data dir lock", zap.String("dir", paths.dir))
	lk, err := lock.Acquire(paths.dir, binaryName)
	if err != nil {
		return nil, err
	}

	db, err := store.OpenMigrated(paths.vendorDB, log)
	if err != nil {
		_ = lk.Release()
		return nil, err
	}

	adapter, err := wa.NewAdapter(context.Background(), paths.deviceDB, deviceName(p), log)
	if err != nil {
		_ = db.Close()
		_ = lk.Release()
		return nil, err
	}

	instance := p.Config.Vendor.Instance
	machine := status.NewMachine(b)
	handler := wa.NewEventHandler(db, b, machine, adapter, instance, log)
	adapter.RegisterEventHandler(handler.Handle)
	embedded := wa.NewEmbedded(adapter, db, machine, b, instance, log)

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// A failed reconnect leaves the gateway up; QR pairing can recover it.
			if err := embedded.Start(); err != nil {
				log.Error("auto-connect failed", zap.Error(err))
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			embedded.Stop()
			if err := adapter.Close(); err != nil {
				log.Warn("error closing device store", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				log.Warn("error closing vendor store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				log.Warn("error releasing lock", zap.Error(err))
			}
			return nil
		},
	})
	return embedded, nil
}

// deviceName labels the linked device on the phone, e.g. "WPPGW (main)".
func deviceName(p Params) string {
	instance := p.Config.Vendor.Instance
	if instance == "" {
		instance = p.SessionName
	}
	return fmt.Sprintf("WPPGW (%s)", instance)
}

func provideGateway(p Params, provider wa.Provider, b *bus.Bus, tracker *gateway.StatusTracker, logger *zap.Logger) *gateway.Server {
	return gateway.New(p.Config.Gateway, provider, b, tracker, logger.Named("gateway"))
}

// webhookTimeout bounds the startup call that registers the gateway's
// webhook with the vendor.
const webhookTimeout = 5 * time.Second

func registerLifecycle(lc fx.Lifecycle, p Params, gw *gateway.Server, provider wa.Provider, health *HealthServer, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := gw.Start(); err != nil {
				return err
			}
			if reg, ok := provider.(wa.WebhookRegistrar); ok {
				registerWebhook(ctx, reg, webhookURL(p.Config.Vendor.WebhookURL, gw.Addr()), logger)
			}
			go func() {
				if err := health.Start(); err != nil {
					logger.Error("health server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := gw.Stop(ctx); err != nil {
				logger.Warn("gateway shutdown", zap.Error(err))
			}
			health.Stop(ctx)
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// registerWebhook tells the vendor where to post events. A failure is
// logged and the gateway keeps serving; reads still work through polling.
func registerWebhook(ctx context.Context, reg wa.WebhookRegistrar, hookURL string, logger *zap.Logger) {
	if hookURL == "" {
		logger.Info("webhook registration disabled")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, webhookTimeout)
	defer cancel()
	if err := reg.RegisterWebhook(ctx, hookURL); err != nil {
		logger.Error("webhook registration failed", zap.String("url", hookURL), zap.Error(err))
		return
	}
	logger.Info("webhook registered", zap.String("url", hookURL))
}

// webhookURL resolves vendor.webhook_url. Empty derives the URL from the
// gateway's bound address; wildcard hosts become loopback.
func webhookURL(configured, addr string) string {
	switch configured {
	case "off":
		return ""
	case "":
	default:
		return configured
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/webhook"
}
