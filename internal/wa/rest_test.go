package wa

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type recordedRequest struct {
	method string
	path   string
	apiKey string
	body   map[string]any
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newVendorServer(t *testing.T, status int, reply string) (*httptest.Server, *requestLog) {
	t.Helper()
	log := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{method: r.Method, path: r.URL.Path, apiKey: r.Header.Get("apikey")}
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		log.mu.Lock()
		log.reqs = append(log.reqs, rec)
		log.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, log
}

func TestRESTEndpoints(t *testing.T) {
	tests := []struct {
		name       string
		call       func(*REST) error
		wantMethod string
		wantPath   string
	}{
		{"connection state", func(r *REST) error { _, err := r.ConnectionState(context.Background()); return err },
			http.MethodGet, "/instance/connectionState/main"},
		{"connect", func(r *REST) error { _, err := r.Connect(context.Background()); return err },
			http.MethodGet, "/instance/connect/main"},
		{"logout", func(r *REST) error { return r.Logout(context.Background()) },
			http.MethodDelete, "/instance/logout/main"},
		{"find chats", func(r *REST) error { _, err := r.FindChats(context.Background()); return err },
			http.MethodPost, "/chat/findChats/main"},
		{"find messages", func(r *REST) error { _, err := r.FindMessages(context.Background(), "5511@s.whatsapp.net", 20); return err },
			http.MethodPost, "/chat/findMessages/main"},
		{"send text", func(r *REST) error { _, err := r.SendText(context.Background(), "5511@s.whatsapp.net", "hi"); return err },
			http.MethodPost, "/message/sendText/main"},
		{"register webhook", func(r *REST) error { return r.RegisterWebhook(context.Background(), "http://127.0.0.1:8080/webhook") },
			http.MethodPost, "/webhook/set/main"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, reqs := newVendorServer(t, http.StatusOK, `{}`)
			r := NewREST(srv.URL+"/", "secret", "main", time.Second, zap.NewNop())
			if err := tt.call(r); err != nil {
				t.Fatalf("call error = %v", err)
			}
			all := reqs.all()
			if len(all) != 1 {
				t.Fatalf("requests = %d, want 1", len(all))
			}
			got := all[0]
			if got.method != tt.wantMethod || got.path != tt.wantPath {
				t.Errorf("request = %s %s, want %s %s", got.method, got.path, tt.wantMethod, tt.wantPath)
			}
			if got.apiKey != "secret" {
				t.Errorf("apikey header = %q", got.apiKey)
			}
		})
	}
}

func TestRESTFindMessagesBody(t *testing.T) {
	srv, reqs := newVendorServer(t, http.StatusOK, `[]`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	if _, err := r.FindMessages(context.Background(), "chat-1", 30); err != nil {
		t.Fatal(err)
	}
	body := reqs.all()[0].body
	where, _ := body["where"].(map[string]any)
	key, _ := where["key"].(map[string]any)
	if key["remoteJid"] != "chat-1" {
		t.Errorf("where.key.remoteJid = %v", key["remoteJid"])
	}
	if body["limit"] != float64(30) {
		t.Errorf("limit = %v, want 30", body["limit"])
	}
}

func TestRESTSendTextBody(t *testing.T) {
	srv, reqs := newVendorServer(t, http.StatusCreated, `{"key":{"id":"ABC"}}`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	out, err := r.SendText(context.Background(), "chat-1", "Olá")
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"key":{"id":"ABC"}}` {
		t.Errorf("response = %s", out)
	}
	body := reqs.all()[0].body
	if body["number"] != "chat-1" || body["text"] != "Olá" {
		t.Errorf("body = %v", body)
	}
}

func TestRESTRegisterWebhookBody(t *testing.T) {
	srv, reqs := newVendorServer(t, http.StatusCreated, `{}`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	if err := r.RegisterWebhook(context.Background(), "http://127.0.0.1:8080/webhook"); err != nil {
		t.Fatal(err)
	}
	hook, _ := reqs.all()[0].body["webhook"].(map[string]any)
	if hook["url"] != "http://127.0.0.1:8080/webhook" || hook["enabled"] != true {
		t.Errorf("webhook = %v", hook)
	}
	events, _ := hook["events"].([]any)
	want := map[string]bool{"MESSAGES_UPSERT": false, "CHATS_UPSERT": false, "CONNECTION_UPDATE": false}
	for _, e := range events {
		if s, ok := e.(string); ok {
			if _, tracked := want[s]; tracked {
				want[s] = true
			}
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("events missing %s: %v", name, events)
		}
	}
}

func TestRESTRegisterWebhookRejected(t *testing.T) {
	srv, _ := newVendorServer(t, http.StatusUnauthorized, `{"error":"bad key"}`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	if err := r.RegisterWebhook(context.Background(), "http://x/webhook"); err == nil {
		t.Error("RegisterWebhook() expected error on 401")
	}
}

func TestRESTSendTextRejected(t *testing.T) {
	srv, _ := newVendorServer(t, http.StatusBadRequest, `{"error":"number not on whatsapp"}`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	_, err := r.SendText(context.Background(), "chat-1", "hi")
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("error = %v, want *SendError", err)
	}
	if sendErr.Status != http.StatusBadRequest {
		t.Errorf("Status = %d", sendErr.Status)
	}
	if sendErr.Body != `{"error":"number not on whatsapp"}` {
		t.Errorf("Body = %q", sendErr.Body)
	}
}

func TestRESTHTTPErrorOnRead(t *testing.T) {
	srv, _ := newVendorServer(t, http.StatusInternalServerError, `boom`)
	r := NewREST(srv.URL, "", "main", time.Second, nil)
	if _, err := r.FindChats(context.Background()); err == nil {
		t.Error("FindChats() expected error on 500")
	}
}

func TestRESTUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	r := NewREST(url, "", "main", time.Second, nil)
	_, err := r.SendText(context.Background(), "chat-1", "hi")
	if err == nil {
		t.Fatal("SendText() expected error")
	}
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		t.Errorf("transport failure should not be a SendError: %v", err)
	}
}

func TestSendErrorMessage(t *testing.T) {
	if got := (&SendError{Status: 502, Body: "down"}).Error(); got != "send rejected (HTTP 502): down" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&SendError{Body: "not paired"}).Error(); got != "send rejected: not paired" {
		t.Errorf("Error() = %q", got)
	}
}
