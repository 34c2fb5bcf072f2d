package sync

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/config"
	"go.uber.org/zap"
)

type recorded struct {
	method string
	uri    string
	body   string
}

// fakeGateway serves the REST contract with canned bodies.
type fakeGateway struct {
	mu       sync.Mutex
	requests []recorded
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	g.mu.Lock()
	g.requests = append(g.requests, recorded{r.Method, r.URL.RequestURI(), string(body)})
	g.mu.Unlock()

	if h, ok := g.routes[r.Method+" "+r.URL.Path]; ok {
		h(w, r)
		return
	}
	http.NotFound(w, r)
}

func (g *fakeGateway) last() recorded {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

func jsonBody(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func newGateway(t *testing.T, routes map[string]func(http.ResponseWriter, *http.Request)) (*fakeGateway, *httptest.Server) {
	t.Helper()
	g := &fakeGateway{routes: routes}
	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return g, srv
}

func TestClientReads(t *testing.T) {
	g, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /instance/status":              jsonBody(200, `{"status":"connected"}`),
		"GET /conversations":                jsonBody(200, `[{"id":"c1","title":"Ana","unreadCount":2}]`),
		"GET /conversations/a b@s/messages": jsonBody(200, `[{"id":"M1","conversationId":"a b@s","author":"customer","text":"oi","createdAt":"2026-03-01T12:00:00Z"}]`),
		"POST /instance/qr":                 jsonBody(200, `{"status":"qr","qrCodeImageUrl":"data:image/png;base64,QUJD"}`),
		"POST /instance/disconnect":         jsonBody(200, `{"ok":true}`),
		"GET /healthz":                      jsonBody(200, `{"status":"ok","vendor":"connected"}`),
	})
	c := NewClient(srv.URL+"/", config.TransportSSE, time.Second, zap.NewNop())
	ctx := context.Background()

	st, err := c.Status(ctx)
	if err != nil || st != chat.Connected {
		t.Errorf("Status = %q, %v", st, err)
	}

	convs, err := c.Conversations(ctx)
	if err != nil || len(convs) != 1 || convs[0].Unread() != 2 {
		t.Errorf("Conversations = %+v, %v", convs, err)
	}

	msgs, err := c.Messages(ctx, "a b@s", 20)
	if err != nil || len(msgs) != 1 || msgs[0].Text != "oi" || !msgs[0].CreatedAt.Equal(t0) {
		t.Errorf("Messages = %+v, %v", msgs, err)
	}
	if got := g.last().uri; got != "/conversations/a%20b@s/messages?limit=20" {
		t.Errorf("uri = %q", got)
	}

	qr, err := c.RequestQR(ctx)
	if err != nil || qr.QRCodeImageURL == nil || *qr.QRCodeImageURL != "data:image/png;base64,QUJD" {
		t.Errorf("RequestQR = %+v, %v", qr, err)
	}

	if err := c.Disconnect(ctx); err != nil {
		t.Errorf("Disconnect: %v", err)
	}

	h, err := c.Health(ctx)
	if err != nil || h["vendor"] != "connected" {
		t.Errorf("Health = %v, %v", h, err)
	}
}

func TestClientSendText(t *testing.T) {
	g, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"POST /conversations/c1/messages":  jsonBody(200, `{"ok":true}`),
		"POST /conversations/bad/messages": jsonBody(502, `{"ok":false,"error":"number not on whatsapp"}`),
	})
	c := NewClient(srv.URL, "", time.Second, nil)

	if err := c.SendText(context.Background(), "c1", "Olá"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	var body map[string]string
	if err := json.Unmarshal([]byte(g.last().body), &body); err != nil || body["text"] != "Olá" {
		t.Errorf("body = %q", g.last().body)
	}

	err := c.SendText(context.Background(), "bad", "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.Status != 502 || apiErr.Message != "number not on whatsapp" {
		t.Errorf("APIError = %+v", apiErr)
	}
}

func TestClientStatusFailsSafe(t *testing.T) {
	_, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /instance/status": jsonBody(200, `{"status":"banana"}`),
	})
	c := NewClient(srv.URL, "", time.Second, nil)
	if st, err := c.Status(context.Background()); err != nil || st != chat.Disconnected {
		t.Errorf("Status = %q, %v", st, err)
	}

	srv.Close()
	if st, err := c.Status(context.Background()); err == nil || st != chat.Disconnected {
		t.Errorf("Status after close = %q, %v", st, err)
	}
}

func TestSSEReader(t *testing.T) {
	_, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /events": func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = io.WriteString(w, ": connected\n\n")
			_, _ = io.WriteString(w, "data: {\"type\":\"connection.status\",\"status\":\"qr\"}\n\n")
			_, _ = io.WriteString(w, ": ping\n\n")
			_, _ = io.WriteString(w, "event: message\ndata: {\"type\":\"conversation.upsert\",\n")
			_, _ = io.WriteString(w, "data: \"conversation\":{\"id\":\"c1\",\"title\":\"Ana\",\"unreadCount\":0}}\n\n")
		},
	})
	c := NewClient(srv.URL, config.TransportSSE, time.Second, nil)

	opened := false
	var got []string
	err := c.Stream(context.Background(), func() { opened = true }, func(b []byte) { got = append(got, string(b)) })
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("err = %v, want ErrStreamClosed", err)
	}
	if !opened {
		t.Error("onOpen not called")
	}
	if len(got) != 2 {
		t.Fatalf("events = %q", got)
	}
	evt, err := chat.DecodeEvent([]byte(got[1]))
	if err != nil || evt.Conversation.Title != "Ana" {
		t.Errorf("multi-line event = %+v, %v", evt, err)
	}
}

func TestSSEReaderRejectsNon200(t *testing.T) {
	_, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /events": jsonBody(403, `{"error":"origin not allowed"}`),
	})
	c := NewClient(srv.URL, config.TransportSSE, time.Second, nil)
	opened := false
	if err := c.Stream(context.Background(), func() { opened = true }, func([]byte) {}); err == nil {
		t.Error("expected error")
	}
	if opened {
		t.Error("onOpen called for a failed stream")
	}
}

func TestWebSocketReader(t *testing.T) {
	up := websocket.Upgrader{}
	_, srv := newGateway(t, map[string]func(http.ResponseWriter, *http.Request){
		"GET /events/ws": func(w http.ResponseWriter, r *http.Request) {
			conn, err := up.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"connection.status","status":"connected"}`))
			_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x1})
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		},
	})
	c := NewClient(srv.URL, config.TransportWS, time.Second, nil)

	var got []string
	err := c.Stream(context.Background(), nil, func(b []byte) { got = append(got, string(b)) })
	if !errors.Is(err, ErrStreamClosed) {
		t.Errorf("err = %v", err)
	}
	if len(got) != 1 || !strings.Contains(got[0], "connected") {
		t.Errorf("events = %q", got)
	}
}

func TestWSURL(t *testing.T) {
	for in, want := range map[string]string{
		"http://127.0.0.1:8080": "ws://127.0.0.1:8080",
		"https://gw.example":    "wss://gw.example",
	} {
		if got := wsURL(in); got != want {
			t.Errorf("wsURL(%q) = %q, want %q", in, got, want)
		}
	}
}
