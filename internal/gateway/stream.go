package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
	"go.uber.org/zap"
)

const (
	streamBuffer = 64
	writeWait    = 5 * time.Second
)

// Origins are already checked by AllowOrigins.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// GET /events streams canonical events as server-sent events. Delivery is
// best effort: a slow reader loses events instead of stalling the bus.
func (s *Server) streamSSE(c *gin.Context) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ch, unsub := s.bus.Subscribe(bus.NSGateway, streamBuffer)
	defer unsub()

	h := c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	// Commit headers so clients see the stream open before the first event.
	_, _ = c.Writer.WriteString(": connected\n\n")
	flusher.Flush()

	heartbeat := time.NewTicker(s.cfg.SSEHeartbeat.Std())
	defer heartbeat.Stop()

	ctx := c.Request.Context()
	s.logger.Debug("sse client attached", zap.String("client_ip", c.ClientIP()))
	defer s.logger.Debug("sse client detached", zap.String("client_ip", c.ClientIP()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := c.Writer.WriteString(": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case evt := <-ch:
			data, ok := encodeEvent(evt)
			if !ok {
				continue
			}
			if _, err := c.Writer.WriteString("data: " + string(data) + "\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// GET /events/ws carries the same events as /events, one text frame each.
func (s *Server) streamWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Info("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ch, unsub := s.bus.Subscribe(bus.NSGateway, streamBuffer)
	defer unsub()

	// The read loop only detects the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
					s.logger.Debug("websocket read ended", zap.Error(err))
				}
				return
			}
		}
	}()

	ping := time.NewTicker(s.cfg.SSEHeartbeat.Std())
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-s.ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case evt := <-ch:
			data, ok := encodeEvent(evt)
			if !ok {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		}
	}
}

func encodeEvent(evt bus.Event) ([]byte, bool) {
	e, ok := evt.Payload.(chat.Event)
	if !ok {
		return nil, false
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, false
	}
	return data, true
}
