package gateway

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/vendor"
	"github.com/matheus3301/wppgw/internal/wa"
	"go.uber.org/zap"
)

const maxWebhookBody = 10 << 20

type statusResponse struct {
	Status chat.ConnectionStatus `json:"status"`
}

type okResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

type sendRequest struct {
	Text string `json:"text" binding:"required,notblank"`
}

// GET /instance/status. Upstream failures read as disconnected.
func (s *Server) getStatus(c *gin.Context) {
	raw, err := s.provider.ConnectionState(c.Request.Context())
	st := chat.Disconnected
	if err != nil {
		s.logger.Warn("connection state failed", zap.Error(err))
	} else {
		st = vendor.ConnectionStateFromPayload(raw)
	}
	s.tracker.Observe(st)
	c.JSON(http.StatusOK, statusResponse{Status: st})
}

// POST /instance/qr starts the pairing handshake. The image is null when
// the vendor has none yet or the call failed.
func (s *Server) requestQR(c *gin.Context) {
	var img *string
	raw, err := s.provider.Connect(c.Request.Context())
	if err != nil {
		s.logger.Warn("connect failed", zap.Error(err))
	} else {
		img = vendor.QRFromPayload(raw)
	}
	c.JSON(http.StatusOK, chat.QRPayload{Status: chat.QR, QRCodeImageURL: img})
}

// POST /instance/disconnect always reports success.
func (s *Server) disconnect(c *gin.Context) {
	if err := s.provider.Logout(c.Request.Context()); err != nil {
		s.logger.Warn("logout failed", zap.Error(err))
	}
	s.tracker.Observe(chat.Disconnected)
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) listConversations(c *gin.Context) {
	convs := []chat.Conversation{}
	raw, err := s.provider.FindChats(c.Request.Context())
	if err != nil {
		s.logger.Warn("find chats failed", zap.Error(err))
	} else if mapped := vendor.MapChats(raw); len(mapped) > 0 {
		convs = mapped
	}
	c.JSON(http.StatusOK, convs)
}

// GET /conversations/:id/messages returns the newest limit messages in
// ascending order.
func (s *Server) listMessages(c *gin.Context) {
	id := c.Param("id")
	limit := s.messageLimit(c.Query("limit"))

	msgs := []chat.Message{}
	raw, err := s.provider.FindMessages(c.Request.Context(), id, limit)
	if err != nil {
		s.logger.Warn("find messages failed", zap.String("conversation", id), zap.Error(err))
	} else if mapped := vendor.MapMessages(id, raw); len(mapped) > 0 {
		if len(mapped) > limit {
			mapped = mapped[len(mapped)-limit:]
		}
		msgs = mapped
	}
	c.JSON(http.StatusOK, msgs)
}

func (s *Server) messageLimit(q string) int {
	n, err := strconv.Atoi(q)
	if err != nil || n <= 0 {
		return s.cfg.DefaultMessageLimit
	}
	return min(n, s.cfg.MessageLimitCap)
}

// POST /conversations/:id/messages. Vendor rejections surface as 502.
func (s *Server) sendMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid request",
			"details": validationDetails(err),
		})
		return
	}

	id := c.Param("id")
	if _, err := s.provider.SendText(c.Request.Context(), id, req.Text); err != nil {
		msg := err.Error()
		var se *wa.SendError
		if errors.As(err, &se) && se.Body != "" {
			msg = se.Body
		}
		s.logger.Warn("send failed", zap.String("conversation", id), zap.Error(err))
		c.JSON(http.StatusBadGateway, okResponse{OK: false, Error: msg})
		return
	}
	c.JSON(http.StatusOK, okResponse{OK: true})
}

// POST /webhook takes vendor event deliveries. Always 200 so the vendor
// does not retry bodies we cannot use.
func (s *Server) webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		s.logger.Warn("read webhook body", zap.Error(err))
		c.JSON(http.StatusOK, okResponse{OK: true})
		return
	}
	s.bus.Emit(bus.KindVendorHook, body)
	c.JSON(http.StatusOK, okResponse{OK: true})
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"vendor": s.tracker.Status(),
	})
}
