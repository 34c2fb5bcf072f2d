package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/gateway"
	"github.com/matheus3301/wppgw/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// VendorService is the health service name that tracks the upstream
// connection. The empty name reports the process itself.
const VendorService = "vendor"

// HealthServer serves grpc.health.v1 on the session's Unix socket.
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewHealthServer binds the health socket and follows tracker for the
// vendor service status.
func NewHealthServer(p Params, tracker *gateway.StatusTracker, logger *zap.Logger) (*HealthServer, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = p.Config.Gateway.HealthSocket
	}
	if socketPath == "" {
		socketPath = session.HealthSocketPath(p.SessionName)
	}
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(VendorService, vendorServing(tracker.Status()))
	tracker.OnChange(func(s chat.ConnectionStatus) {
		hs.SetServingStatus(VendorService, vendorServing(s))
	})

	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	return &HealthServer{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

func vendorServing(s chat.ConnectionStatus) healthpb.HealthCheckResponse_ServingStatus {
	if s == chat.Connected {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}

// SocketPath returns the bound socket path.
func (s *HealthServer) SocketPath() string {
	return s.socketPath
}

// Start begins serving. Blocks until stopped.
func (s *HealthServer) Start() error {
	s.logger.Info("health server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop marks everything NOT_SERVING, shuts down and removes the socket file.
func (s *HealthServer) Stop(_ context.Context) {
	s.logger.Info("health server stopping")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = os.Remove(s.socketPath)
}
