package wa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	"github.com/matheus3301/wppgw/internal/vendor"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

type fakeClient struct {
	mu         sync.Mutex
	loggedIn   bool
	connected  bool
	connects   int
	loggedOut  bool
	sendErr    error
	sent       []string
	qr         chan whatsmeow.QRChannelItem
	connectErr error
}

func (c *fakeClient) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedIn
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	if c.connectErr != nil {
		return c.connectErr
	}
	c.connected = true
	return nil
}

func (c *fakeClient) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeClient) Logout(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	c.loggedIn = false
	c.connected = false
	return nil
}

func (c *fakeClient) SendText(_ context.Context, jid, text string) (string, time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return "", time.Time{}, c.sendErr
	}
	c.sent = append(c.sent, jid+":"+text)
	return "3EB0SENT", time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC), nil
}

func (c *fakeClient) GetQRChannel(context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	if c.IsLoggedIn() {
		return nil, ErrAlreadyPaired
	}
	return c.qr, nil
}

type embeddedFixture struct {
	e       *Embedded
	client  *fakeClient
	db      *store.DB
	bus     *bus.Bus
	machine *status.Machine
}

func newEmbeddedFixture(t *testing.T, client *fakeClient) *embeddedFixture {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	db := testDB(t)
	e := NewEmbedded(client, db, m, b, "main", zap.NewNop())
	e.qrWait = 2 * time.Second
	t.Cleanup(e.Stop)
	return &embeddedFixture{e: e, client: client, db: db, bus: b, machine: m}
}

func TestEmbeddedStartPaired(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{loggedIn: true})

	if err := f.e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.machine.Current() != status.Connecting {
		t.Errorf("state = %s, want connecting until WhatsApp confirms", f.machine.Current())
	}
	if !f.client.IsConnected() {
		t.Error("paired device should connect on start")
	}
}

func TestEmbeddedStartUnpaired(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{})

	if err := f.e.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if f.client.IsConnected() {
		t.Error("unpaired device must wait for a QR request")
	}
	raw, _ := f.e.ConnectionState(context.Background())
	if got := vendor.ConnectionStateFromPayload(raw); got != chat.Disconnected {
		t.Errorf("status = %q, want disconnected", got)
	}
}

func TestEmbeddedStartConnectFails(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{loggedIn: true, connectErr: errors.New("offline")})

	if err := f.e.Start(); err == nil {
		t.Fatal("Start() expected error")
	}
	if f.machine.Current() != status.Close {
		t.Errorf("state = %s, want close", f.machine.Current())
	}
}

func TestEmbeddedConnectionStateMapsThroughVendor(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{loggedIn: true})
	_ = f.machine.Transition(status.Connecting)
	_ = f.machine.Transition(status.Open)

	raw, err := f.e.ConnectionState(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got := vendor.ConnectionStateFromPayload(raw); got != chat.Connected {
		t.Errorf("status = %q, want connected", got)
	}
}

func TestEmbeddedConnectPairing(t *testing.T) {
	client := &fakeClient{qr: make(chan whatsmeow.QRChannelItem, 2)}
	f := newEmbeddedFixture(t, client)
	client.qr <- whatsmeow.QRChannelItem{Event: "code", Code: "2@pairing-code"}

	raw, err := f.e.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	img := vendor.QRFromPayload(raw)
	if img == nil || !strings.HasPrefix(*img, "data:image/png;base64,") {
		t.Fatalf("QR image = %v, want PNG data URL", img)
	}
	if f.machine.Current() != status.Pairing {
		t.Errorf("state = %s, want qrcode", f.machine.Current())
	}
	if got := vendor.MapConnectionState(string(f.machine.Current())); got != chat.QR {
		t.Errorf("mapped state = %q, want qr", got)
	}

	// A second request joins the running flow.
	raw, err = f.e.Connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if vendor.QRFromPayload(raw) == nil {
		t.Error("second Connect() should return the current code")
	}
	client.mu.Lock()
	connects := client.connects
	client.mu.Unlock()
	if connects != 1 {
		t.Errorf("connects = %d, want 1", connects)
	}
}

func TestEmbeddedConnectNoCodeYet(t *testing.T) {
	client := &fakeClient{qr: make(chan whatsmeow.QRChannelItem)}
	f := newEmbeddedFixture(t, client)
	f.e.qrWait = 20 * time.Millisecond

	raw, err := f.e.Connect(context.Background())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if img := vendor.QRFromPayload(raw); img != nil {
		t.Errorf("QR image = %q, want none", *img)
	}
}

func TestEmbeddedPairingTimeout(t *testing.T) {
	client := &fakeClient{qr: make(chan whatsmeow.QRChannelItem, 2)}
	f := newEmbeddedFixture(t, client)
	changes, unsub := f.bus.Subscribe(bus.NSVendorState, 8)
	defer unsub()

	client.qr <- whatsmeow.QRChannelItem{Event: "code", Code: "2@one"}
	if _, err := f.e.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	client.qr <- whatsmeow.QRChannelItem{Event: "timeout"}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case evt := <-changes:
			if evt.Payload.(status.StatusChange).To == status.Close {
				if client.IsConnected() {
					t.Error("client still connected after pairing timeout")
				}
				return
			}
		case <-deadline:
			t.Fatalf("state = %s, want close after timeout", f.machine.Current())
		}
	}
}

func TestEmbeddedForwardsStateAsWebhooks(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{})
	hooks, unsub := f.bus.Subscribe(bus.NSVendor, 8)
	defer unsub()
	if err := f.e.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.machine.SetQR("2@code"); err != nil {
		t.Fatal(err)
	}
	got := waitCanonical(t, hooks)
	if got.Type != chat.EventConnectionStatus || got.Status != chat.QR || got.QRCodeImageURL == nil {
		t.Errorf("after SetQR event = %+v", got)
	}

	_ = f.machine.Transition(status.Open)
	got = waitCanonical(t, hooks)
	if got.Status != chat.Connected {
		t.Errorf("after open event status = %q, want connected", got.Status)
	}
}

func waitCanonical(t *testing.T, hooks <-chan bus.Event) chat.Event {
	t.Helper()
	select {
	case evt := <-hooks:
		evts := vendor.MapWebhook(evt.Payload.([]byte))
		if len(evts) != 1 {
			t.Fatalf("webhook mapped to %d events, want 1", len(evts))
		}
		return evts[0]
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for webhook")
	}
	return chat.Event{}
}

func TestEmbeddedLogout(t *testing.T) {
	client := &fakeClient{loggedIn: true, connected: true}
	f := newEmbeddedFixture(t, client)
	_ = f.machine.Transition(status.Connecting)
	_ = f.machine.Transition(status.Open)

	if err := f.e.Logout(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !client.loggedOut {
		t.Error("paired device should be logged out")
	}
	if f.machine.Current() != status.Close {
		t.Errorf("state = %s, want close", f.machine.Current())
	}
	// Logging out twice is fine.
	if err := f.e.Logout(context.Background()); err != nil {
		t.Errorf("second Logout() error = %v", err)
	}
}

func TestEmbeddedFindChatsAndMessages(t *testing.T) {
	f := newEmbeddedFixture(t, &fakeClient{})
	for i, body := range []string{"first", "second", "third"} {
		_, err := f.db.RecordMessage(&store.Message{
			ChatJID:   "5511@s.whatsapp.net",
			MsgID:     "M" + string(rune('1'+i)),
			Body:      body,
			Ack:       store.AckDelivered,
			Timestamp: int64(1700000000000 + i*1000),
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	if err := f.db.UpsertContact(&store.Contact{JID: "5511@s.whatsapp.net", PushName: "Dora"}); err != nil {
		t.Fatal(err)
	}

	raw, err := f.e.FindChats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	convs := vendor.MapChats(raw)
	if len(convs) != 1 {
		t.Fatalf("conversations = %d, want 1", len(convs))
	}
	c := convs[0]
	if c.ID != "5511@s.whatsapp.net" || c.Title != "Dora" || c.Unread() != 3 || c.LastMessagePreview != "third" {
		t.Errorf("conversation = %+v", c)
	}
	if c.LastMessageAt == nil || !c.LastMessageAt.Equal(time.UnixMilli(1700000002000)) {
		t.Errorf("LastMessageAt = %v", c.LastMessageAt)
	}

	raw, err = f.e.FindMessages(context.Background(), "5511@s.whatsapp.net", 2)
	if err != nil {
		t.Fatal(err)
	}
	msgs := vendor.MapMessages("5511@s.whatsapp.net", raw)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].Text != "second" || msgs[1].Text != "third" {
		t.Errorf("messages = %q, %q, want the newest two ascending", msgs[0].Text, msgs[1].Text)
	}
	if msgs[1].Status != chat.StatusDelivered {
		t.Errorf("Status = %q, want delivered", msgs[1].Status)
	}
}

func TestEmbeddedSendText(t *testing.T) {
	client := &fakeClient{loggedIn: true, connected: true}
	f := newEmbeddedFixture(t, client)
	_ = f.machine.Transition(status.Connecting)
	_ = f.machine.Transition(status.Open)
	hooks, unsub := f.bus.Subscribe(bus.NSVendor, 8)
	defer unsub()

	if _, err := f.e.SendText(context.Background(), "5511@s.whatsapp.net", "Olá"); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(client.sent) != 1 || client.sent[0] != "5511@s.whatsapp.net:Olá" {
		t.Errorf("sent = %v", client.sent)
	}
	stored, _ := f.db.GetMessage("5511@s.whatsapp.net", "3EB0SENT")
	if stored == nil || !stored.FromMe || stored.Ack != store.AckServer {
		t.Errorf("stored = %+v", stored)
	}

	got := waitCanonical(t, hooks)
	if got.Type != chat.EventMessageNew || got.Message.Author != chat.AuthorAgent || got.Message.Text != "Olá" {
		t.Errorf("event = %+v", got)
	}
}

func TestEmbeddedSendTextToPhoneNumber(t *testing.T) {
	client := &fakeClient{loggedIn: true, connected: true}
	f := newEmbeddedFixture(t, client)
	_ = f.machine.Transition(status.Connecting)
	_ = f.machine.Transition(status.Open)

	if _, err := f.e.SendText(context.Background(), "+55 (11) 9999-0000", "oi"); err != nil {
		t.Fatal(err)
	}
	if len(client.sent) != 1 || client.sent[0] != "551199990000@s.whatsapp.net:oi" {
		t.Errorf("sent = %v", client.sent)
	}
	if m, _ := f.db.GetMessage("551199990000@s.whatsapp.net", "3EB0SENT"); m == nil {
		t.Error("message stored under the raw phone number instead of its JID")
	}
}

func TestChatJID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"5511@s.whatsapp.net", "5511@s.whatsapp.net", false},
		{"5511:3@s.whatsapp.net", "5511@s.whatsapp.net", false},
		{"120363@g.us", "120363@g.us", false},
		{"+55 (11) 9999-0000", "551199990000@s.whatsapp.net", false},
		{"", "", true},
		{"ana", "", true},
	}
	for _, tt := range tests {
		got, err := ChatJID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ChatJID(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got.String() != tt.want {
			t.Errorf("ChatJID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEmbeddedSendTextRejected(t *testing.T) {
	tests := []struct {
		name   string
		client *fakeClient
		open   bool
		chatID string
	}{
		{"not paired", &fakeClient{}, false, "5511@s.whatsapp.net"},
		{"not open", &fakeClient{loggedIn: true}, false, "5511@s.whatsapp.net"},
		{"send fails", &fakeClient{loggedIn: true, connected: true, sendErr: errors.New("server said no")}, true, "5511@s.whatsapp.net"},
		{"bad chat id", &fakeClient{loggedIn: true, connected: true}, true, "nobody"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newEmbeddedFixture(t, tt.client)
			if tt.open {
				_ = f.machine.Transition(status.Connecting)
				_ = f.machine.Transition(status.Open)
			}
			_, err := f.e.SendText(context.Background(), tt.chatID, "hi")
			var sendErr *SendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("error = %v, want *SendError", err)
			}
			if sendErr.Body == "" {
				t.Error("SendError.Body is empty")
			}
		})
	}
}
