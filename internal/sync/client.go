package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/config"
	"go.uber.org/zap"
)

const maxResponseSize = 10 << 20

// GatewayAPI is the gateway contract the engine consumes.
type GatewayAPI interface {
	Status(ctx context.Context) (chat.ConnectionStatus, error)
	RequestQR(ctx context.Context) (chat.QRPayload, error)
	Disconnect(ctx context.Context) error
	Conversations(ctx context.Context) ([]chat.Conversation, error)
	Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
	SendText(ctx context.Context, conversationID, text string) error
	// Stream delivers raw event payloads until ctx ends or the stream drops.
	// onOpen runs once the stream is established.
	Stream(ctx context.Context, onOpen func(), onData func([]byte)) error
}

// APIError is a non-2xx gateway response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("gateway returned HTTP %d: %s", e.Status, e.Message)
}

// Client speaks the gateway REST contract.
type Client struct {
	baseURL    string
	transport  string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client for the gateway at baseURL. transport selects
// the event stream ("sse" or "ws").
func NewClient(baseURL, transport string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if transport == "" {
		transport = config.TransportSSE
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		transport:  transport,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Status(ctx context.Context) (chat.ConnectionStatus, error) {
	var resp struct {
		Status chat.ConnectionStatus `json:"status"`
	}
	if err := c.do(ctx, http.MethodGet, "/instance/status", nil, &resp); err != nil {
		return chat.Disconnected, err
	}
	if !resp.Status.Valid() {
		return chat.Disconnected, nil
	}
	return resp.Status, nil
}

func (c *Client) RequestQR(ctx context.Context) (chat.QRPayload, error) {
	var resp chat.QRPayload
	if err := c.do(ctx, http.MethodPost, "/instance/qr", nil, &resp); err != nil {
		return chat.QRPayload{Status: chat.QR}, err
	}
	return resp, nil
}

func (c *Client) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/instance/disconnect", nil, nil)
}

func (c *Client) Conversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations", nil, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]chat.Message, error) {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var msgs []chat.Message
	if err := c.do(ctx, http.MethodGet, path, nil, &msgs); err != nil {
		return nil, err
	}
	return slices.DeleteFunc(msgs, func(m chat.Message) bool {
		return !m.Author.Valid() || !m.Status.Valid()
	}), nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	return c.do(ctx, http.MethodPost, path, map[string]string{"text": text}, nil)
}

// Health reads /healthz.
func (c *Client) Health(ctx context.Context) (map[string]string, error) {
	var resp map[string]string
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Stream opens the configured event transport.
func (c *Client) Stream(ctx context.Context, onOpen func(), onData func([]byte)) error {
	if c.transport == config.TransportWS {
		return readWebSocket(ctx, wsURL(c.baseURL)+"/events/ws", onOpen, onData)
	}
	return readSSE(ctx, c.baseURL+"/events", onOpen, onData)
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug("gateway request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode >= 300 {
		return &APIError{Status: resp.StatusCode, Message: errorText(data)}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// errorText pulls the "error" field out of a JSON error body.
func errorText(data []byte) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(data))
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
