// Package gateway is the HTTP façade over the upstream vendor. It is the only
// caller of the vendor API and owns no conversation state: reads translate
// vendor payloads through internal/vendor, and stream endpoints fan out the
// canonical events published on the bus.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/config"
	"github.com/matheus3301/wppgw/internal/wa"
	"go.uber.org/zap"
)

// Server serves the gateway REST contract and event streams.
type Server struct {
	cfg      config.Gateway
	provider wa.Provider
	bus      *bus.Bus
	tracker  *StatusTracker
	bridge   *Bridge
	logger   *zap.Logger

	engine   *gin.Engine
	http     *http.Server
	listener net.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// New builds the gateway and its routes. Call Start to listen.
func New(cfg config.Gateway, provider wa.Provider, b *bus.Bus, tracker *StatusTracker, logger *zap.Logger) *Server {
	if tracker == nil {
		tracker = NewStatusTracker()
	}
	if cfg.MessageLimitCap <= 0 {
		cfg.MessageLimitCap = 200
	}
	if cfg.DefaultMessageLimit <= 0 || cfg.DefaultMessageLimit > cfg.MessageLimitCap {
		cfg.DefaultMessageLimit = min(50, cfg.MessageLimitCap)
	}
	if cfg.SSEHeartbeat <= 0 {
		cfg.SSEHeartbeat = config.Duration(15 * time.Second)
	}

	gin.SetMode(gin.ReleaseMode)
	setupValidator()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		provider: provider,
		bus:      b,
		tracker:  tracker,
		bridge:   NewBridge(b, tracker, logger),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}

	r := gin.New()
	r.Use(Recovery(logger), RequestLogger(logger), AllowOrigins(cfg.AllowedOrigins))
	s.routes(r)
	s.engine = r
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.healthz)

	inst := r.Group("/instance")
	inst.GET("/status", s.getStatus)
	inst.POST("/qr", s.requestQR)
	inst.POST("/disconnect", s.disconnect)

	convs := r.Group("/conversations")
	convs.GET("", s.listConversations)
	convs.GET("/:id/messages", s.listMessages)
	convs.POST("/:id/messages", s.sendMessage)

	r.GET("/events", s.streamSSE)
	r.GET("/events/ws", s.streamWS)
	r.POST("/webhook", s.webhook)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Tracker returns the status tracker fed by this gateway.
func (s *Server) Tracker() *StatusTracker {
	return s.tracker
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.bridge.Run(s.ctx)
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", zap.Error(err))
		}
	}()
	s.logger.Info("gateway listening", zap.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Listen
	}
	return s.listener.Addr().String()
}

// Stop closes open streams and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	if s.http == nil {
		return nil
	}
	s.logger.Info("gateway stopping")
	return s.http.Shutdown(ctx)
}
