package gateway

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
)

// readDataLine returns the next "data:" payload, skipping comments and blanks.
func readDataLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			return data
		}
	}
}

func TestSSEStream(t *testing.T) {
	s, b := newTestServer(t, &fakeProvider{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}
	r := bufio.NewReader(resp.Body)
	first, err := r.ReadString('\n')
	if err != nil || first != ": connected\n" {
		t.Fatalf("first line = %q, %v", first, err)
	}

	b.Emit(bus.KindGatewayEvent, chat.MessageStatusEvent("c1", "M1", chat.StatusRead))
	b.Emit(bus.KindGatewayEvent, chat.StatusEvent(chat.Connected, nil))

	evt, err := chat.DecodeEvent([]byte(readDataLine(t, r)))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != chat.EventMessageStatus || evt.MessageID != "M1" || evt.MessageStatus != chat.StatusRead {
		t.Errorf("event = %+v", evt)
	}

	evt, err = chat.DecodeEvent([]byte(readDataLine(t, r)))
	if err != nil || evt.Type != chat.EventConnectionStatus || evt.Status != chat.Connected {
		t.Errorf("event = %+v, %v", evt, err)
	}
}

func TestSSEHeartbeat(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	r := bufio.NewReader(resp.Body)
	deadline := time.After(2 * time.Second)
	got := make(chan string, 1)
	go func() {
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if line == ": ping\n" {
				got <- line
				return
			}
		}
	}()
	select {
	case <-got:
	case <-deadline:
		t.Fatal("no heartbeat")
	}
}

func TestSSEEndsOnStop(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	r := bufio.NewReader(resp.Body)
	if _, err := r.ReadString('\n'); err != nil {
		t.Fatalf("read: %v", err)
	}

	_ = s.Stop(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := r.ReadString('\n'); err != nil {
				return
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream still open after stop")
	}
}

func TestWebSocketStream(t *testing.T) {
	s, b := newTestServer(t, &fakeProvider{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The subscription starts after the upgrade, so publish until one arrives.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				b.Emit(bus.KindGatewayEvent, chat.NewMessageEvent(chat.Message{ID: "M1", ConversationID: "c1", Author: chat.AuthorCustomer, Text: "oi"}))
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if mt != websocket.TextMessage {
		t.Errorf("message type = %d", mt)
	}
	evt, err := chat.DecodeEvent(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != chat.EventMessageNew || evt.Message.Text != "oi" {
		t.Errorf("event = %+v", evt)
	}
}

func TestWebSocketRejectsUnlistedOrigin(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"http://evil.local"}})
	if err == nil {
		t.Fatal("dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %+v", resp)
	}
}
