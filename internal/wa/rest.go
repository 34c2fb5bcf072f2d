package wa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const maxResponseSize = 10 * 1024 * 1024

// REST is a client for an Evolution-style hosted WhatsApp API.
type REST struct {
	baseURL    string
	apiKey     string
	instance   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewREST creates a REST provider for one vendor instance.
func NewREST(baseURL, apiKey, instance string, timeout time.Duration, logger *zap.Logger) *REST {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &REST{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		instance:   instance,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// endpoint builds {base}/{group}/{action}/{instance}.
func (r *REST) endpoint(group, action string) string {
	return r.baseURL + "/" + group + "/" + action + "/" + url.PathEscape(r.instance)
}

// ConnectionState implements Provider.
func (r *REST) ConnectionState(ctx context.Context) ([]byte, error) {
	body, _, err := r.do(ctx, http.MethodGet, r.endpoint("instance", "connectionState"), nil)
	return body, err
}

// Connect starts (or resumes) the pairing handshake. The response carries
// the QR image while the instance is unpaired.
func (r *REST) Connect(ctx context.Context) ([]byte, error) {
	body, _, err := r.do(ctx, http.MethodGet, r.endpoint("instance", "connect"), nil)
	return body, err
}

// Logout implements Provider.
func (r *REST) Logout(ctx context.Context) error {
	_, _, err := r.do(ctx, http.MethodDelete, r.endpoint("instance", "logout"), nil)
	return err
}

// FindChats implements Provider.
func (r *REST) FindChats(ctx context.Context) ([]byte, error) {
	body, _, err := r.do(ctx, http.MethodPost, r.endpoint("chat", "findChats"), map[string]any{})
	return body, err
}

// FindMessages returns the newest messages of one chat.
func (r *REST) FindMessages(ctx context.Context, chatID string, limit int) ([]byte, error) {
	req := map[string]any{
		"where": map[string]any{
			"key": map[string]any{"remoteJid": chatID},
		},
		"limit": limit,
	}
	body, _, err := r.do(ctx, http.MethodPost, r.endpoint("chat", "findMessages"), req)
	return body, err
}

// SendText sends a plain text message. A vendor rejection is returned as
// *SendError with the vendor's response body.
func (r *REST) SendText(ctx context.Context, chatID, text string) ([]byte, error) {
	req := map[string]any{"number": chatID, "text": text}
	body, status, err := r.do(ctx, http.MethodPost, r.endpoint("message", "sendText"), req)
	if err != nil && status >= 400 {
		return nil, &SendError{Status: status, Body: strings.TrimSpace(string(body))}
	}
	return body, err
}

// webhookEvents are the vendor events the gateway maps to canonical ones.
var webhookEvents = []string{
	"CONNECTION_UPDATE", "QRCODE_UPDATED",
	"MESSAGES_SET", "MESSAGES_UPSERT", "MESSAGES_UPDATE",
	"CHATS_SET", "CHATS_UPSERT", "CHATS_UPDATE",
}

// RegisterWebhook points the instance's webhook at hookURL. Without it the
// vendor pushes nothing and the gateway stream stays silent.
func (r *REST) RegisterWebhook(ctx context.Context, hookURL string) error {
	req := map[string]any{
		"webhook": map[string]any{
			"enabled":  true,
			"url":      hookURL,
			"byEvents": false,
			"base64":   true,
			"events":   webhookEvents,
		},
	}
	if _, _, err := r.do(ctx, http.MethodPost, r.endpoint("webhook", "set"), req); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}
	return nil
}

// do performs one request. On an HTTP error status the body and status are
// returned along with the error.
func (r *REST) do(ctx context.Context, method, endpoint string, payload any) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("apikey", r.apiKey)
	}

	start := time.Now()
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	r.logger.Debug("vendor call",
		zap.String("method", method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return body, resp.StatusCode, fmt.Errorf("%s %s: HTTP %d: %s", method, req.URL.Path, resp.StatusCode, truncateBody(body))
	}
	return body, resp.StatusCode, nil
}

func truncateBody(b []byte) string {
	const max = 200
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
