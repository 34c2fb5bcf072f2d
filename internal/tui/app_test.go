package tui

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	gosync "sync"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/sync"
	"github.com/skip2/go-qrcode"
)

type fakeGateway struct {
	mu          gosync.Mutex
	status      chat.ConnectionStatus
	qr          *string
	convs       []chat.Conversation
	msgs        map[string][]chat.Message
	disconnects int
}

func (f *fakeGateway) Status(context.Context) (chat.ConnectionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, nil
}

func (f *fakeGateway) RequestQR(context.Context) (chat.QRPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return chat.QRPayload{Status: chat.QR, QRCodeImageURL: f.qr}, nil
}

func (f *fakeGateway) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.status = chat.Disconnected
	return nil
}

func (f *fakeGateway) Conversations(context.Context) ([]chat.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convs, nil
}

func (f *fakeGateway) Messages(_ context.Context, id string, _ int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.msgs[id], nil
}

func (f *fakeGateway) SendText(context.Context, string, string) error {
	return nil
}

func (f *fakeGateway) Stream(ctx context.Context, _ func(), _ func([]byte)) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeGateway) set(fn func(f *fakeGateway)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T) (*App, *fakeGateway) {
	t.Helper()
	gw := &fakeGateway{
		status: chat.Connected,
		convs: []chat.Conversation{
			{ID: "5511@s.whatsapp.net", Title: "Ana", UnreadCount: chat.Count(1)},
			{ID: "5522@s.whatsapp.net", Title: "Bruno"},
		},
		msgs: map[string][]chat.Message{
			"5511@s.whatsapp.net": {{ID: "M1", Author: chat.AuthorCustomer, Text: "oi", CreatedAt: t0}},
		},
	}
	engine := sync.NewEngine(gw, sync.Options{
		StatusPollInterval:  time.Hour,
		MessagePollInterval: time.Hour,
		RequestTimeout:      time.Second,
	}, nil)
	a := NewApp(engine, Options{Session: "test", Gateway: "http://gw", Transport: "sse"}, nil)
	t.Cleanup(a.Stop)
	return a, gw
}

func qrDataURL(t *testing.T) (string, []byte) {
	t.Helper()
	png, err := qrcode.Encode("2@pairing-ref,key,adv", qrcode.Medium, -4)
	if err != nil {
		t.Fatal(err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), png
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"qr", Command{Name: "qr"}},
		{":QR  /tmp/qr.png ", Command{Name: "qr", Args: "/tmp/qr.png"}},
		{"open Ana Maria", Command{Name: "open", Args: "Ana Maria"}},
		{"  refresh", Command{Name: "refresh"}},
	}
	for _, tt := range tests {
		if got := ParseCommand(tt.in); got != tt.want {
			t.Errorf("ParseCommand(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestRenderFollowsEngine(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.execute(Command{Name: "refresh"}); err != nil {
		t.Fatal(err)
	}
	a.render()

	if a.list.ByIndex(1) != "5511@s.whatsapp.net" || a.list.ByIndex(2) != "5522@s.whatsapp.net" {
		t.Errorf("rows = %q, %q", a.list.ByIndex(1), a.list.ByIndex(2))
	}
	if !strings.Contains(a.info.GetText(true), "connected") {
		t.Errorf("header = %q", a.info.GetText(true))
	}
	if a.pages.Current() != pageList {
		t.Errorf("page = %q", a.pages.Current())
	}
}

func TestOpenConversationAndSend(t *testing.T) {
	a, _ := newTestApp(t)
	a.engine.Refresh(context.Background())
	a.render()

	action, err := a.execute(Command{Name: "open", Args: "ana"})
	if err != nil || action == nil {
		t.Fatalf("open: %v", err)
	}
	action()
	if a.pages.Current() != pageThread || a.thread.ConversationID() != "5511@s.whatsapp.net" {
		t.Fatalf("page=%q conversation=%q", a.pages.Current(), a.thread.ConversationID())
	}
	if got := a.engine.Snapshot().Selected; got != "5511@s.whatsapp.net" {
		t.Errorf("engine selection = %q", got)
	}

	eventually(t, func() bool { return len(a.engine.Messages("5511@s.whatsapp.net")) == 1 })
	if _, err := a.engine.SendText("tudo bem?"); err != nil {
		t.Fatal(err)
	}
	a.render()
	text := a.thread.Messages().GetText(true)
	if !strings.Contains(text, "oi") || !strings.Contains(text, "tudo bem?") || !strings.Contains(text, "✓") {
		t.Errorf("thread = %q", text)
	}
}

func TestOpenUnknownConversation(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.execute(Command{Name: "open", Args: "nobody"}); err == nil {
		t.Error("expected error")
	}
	if _, err := a.execute(Command{Name: "open"}); err == nil {
		t.Error("expected usage error")
	}
}

func TestQRCommandWritesPNG(t *testing.T) {
	a, gw := newTestApp(t)
	url, png := qrDataURL(t)
	gw.set(func(f *fakeGateway) { f.qr = &url })

	path := filepath.Join(t.TempDir(), "qr.png")
	action, err := a.execute(Command{Name: "qr", Args: path})
	if err != nil {
		t.Fatalf("qr: %v", err)
	}
	if action != nil {
		t.Error("saving should not change pages")
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != string(png) {
		t.Errorf("file = %d bytes, %v", len(got), err)
	}
	if st := a.engine.Snapshot(); st.Status != chat.QR || st.QRCodeImageURL == nil {
		t.Errorf("state = %+v", st)
	}
}

func TestQRCommandWithoutCode(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.execute(Command{Name: "qr"}); !errors.Is(err, errNoQR) {
		t.Errorf("err = %v, want errNoQR", err)
	}
}

func TestQRPageFollowsStatus(t *testing.T) {
	a, gw := newTestApp(t)
	url, _ := qrDataURL(t)
	gw.set(func(f *fakeGateway) {
		f.status = chat.QR
		f.qr = &url
	})

	a.engine.Refresh(context.Background())
	a.render()
	if a.pages.Current() != pageQR {
		t.Fatalf("page = %q, want qr", a.pages.Current())
	}
	// The missing image is requested in the background.
	eventually(t, func() bool {
		a.render()
		return a.shownQR == url
	})

	a.captureKey(tcell.NewEventKey(tcell.KeyEscape, 0, tcell.ModNone))
	a.render()
	if a.pages.Current() != pageList {
		t.Errorf("page after Esc = %q", a.pages.Current())
	}

	gw.set(func(f *fakeGateway) { f.status = chat.Connected })
	a.engine.Refresh(context.Background())
	a.render()
	if a.qrDismissed || a.shownQR != "" {
		t.Error("pairing state not reset after connecting")
	}
}

func TestDisconnectCommand(t *testing.T) {
	a, gw := newTestApp(t)
	a.engine.Refresh(context.Background())
	a.render()
	action, err := a.execute(Command{Name: "open", Args: "Bruno"})
	if err != nil {
		t.Fatal(err)
	}
	action()

	if _, err := a.execute(Command{Name: "disconnect"}); err != nil {
		t.Fatal(err)
	}
	a.render()

	gw.mu.Lock()
	n := gw.disconnects
	gw.mu.Unlock()
	if n != 1 {
		t.Errorf("disconnects = %d", n)
	}
	if st := a.engine.Snapshot(); len(st.Conversations) != 0 || st.Selected != "" {
		t.Errorf("state after disconnect = %+v", st)
	}
	if a.pages.Current() != pageList || a.thread.ConversationID() != "" {
		t.Errorf("page=%q conversation=%q", a.pages.Current(), a.thread.ConversationID())
	}
	if m := a.flash.Current(); m == nil || !strings.Contains(m.Text, "disconnected") {
		t.Errorf("flash = %+v", m)
	}
}

func TestUnknownCommand(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.execute(ParseCommand("frobnicate")); err == nil {
		t.Error("expected error")
	}
}
