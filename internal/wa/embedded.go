package wa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

const (
	defaultQRWait = 5 * time.Second
	maxChats      = 500
)

// waClient is the slice of the whatsmeow adapter the embedded provider drives.
type waClient interface {
	IsLoggedIn() bool
	IsConnected() bool
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	SendText(ctx context.Context, jid, text string) (string, time.Time, error)
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
}

// Embedded is a Provider that runs WhatsApp in-process. It answers in the
// hosted vendor's JSON shapes and reports changes as vendor webhooks on the
// bus, so the gateway cannot tell it apart from the REST provider.
type Embedded struct {
	client   waClient
	db       *store.DB
	machine  *status.Machine
	bus      *bus.Bus
	instance string
	logger   *zap.Logger
	qrWait   time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	pairing bool
	qrCount int
}

// NewEmbedded creates the embedded provider. Call Start to connect.
func NewEmbedded(client waClient, db *store.DB, machine *status.Machine, b *bus.Bus, instance string, logger *zap.Logger) *Embedded {
	ctx, cancel := context.WithCancel(context.Background())
	return &Embedded{
		client:   client,
		db:       db,
		machine:  machine,
		bus:      b,
		instance: instance,
		logger:   logger,
		qrWait:   defaultQRWait,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start forwards state changes as webhooks and reconnects a paired device.
// An unpaired device waits for a Connect call.
func (e *Embedded) Start() error {
	ch, unsub := e.bus.Subscribe(bus.NSVendorState, 16)
	go e.forwardState(ch, unsub)

	if !e.client.IsLoggedIn() {
		e.logger.Info("device not paired, waiting for a QR request")
		return nil
	}
	if err := e.machine.Transition(status.Connecting); err != nil {
		return err
	}
	if err := e.client.Connect(); err != nil {
		_ = e.machine.Transition(status.Close)
		return fmt.Errorf("connect: %w", err)
	}
	return nil
}

// Stop ends pairing and state forwarding and disconnects.
func (e *Embedded) Stop() {
	e.cancel()
	e.client.Disconnect()
}

// forwardState turns machine transitions into connection.update and
// qrcode.updated webhooks.
func (e *Embedded) forwardState(ch <-chan bus.Event, unsub func()) {
	defer unsub()
	for {
		select {
		case <-e.ctx.Done():
			return
		case evt := <-ch:
			change, ok := evt.Payload.(status.StatusChange)
			if !ok {
				continue
			}
			if change.To == status.Pairing && change.QR != "" {
				img, err := renderQR(change.QR)
				if err != nil {
					e.logger.Warn("render QR", zap.Error(err))
					continue
				}
				e.emit(hookQRCodeUpdated, map[string]any{
					"qrcode": map[string]string{"code": change.QR, "base64": img},
				})
				continue
			}
			e.emit(hookConnectionUpdate, map[string]string{
				"instance": e.instance,
				"state":    string(change.To),
			})
		}
	}
}

func (e *Embedded) emit(event string, data any) {
	e.bus.Emit(bus.KindVendorHook, encodeWebhook(event, e.instance, data))
}

func (e *Embedded) stateJSON() []byte {
	out, _ := json.Marshal(map[string]any{
		"instance": map[string]string{
			"instanceName": e.instance,
			"state":        string(e.machine.Current()),
		},
	})
	return out
}

// ConnectionState implements Provider.
func (e *Embedded) ConnectionState(ctx context.Context) ([]byte, error) {
	return e.stateJSON(), nil
}

// Connect reconnects a paired device, or starts pairing and waits briefly
// for the first QR code. Without a code yet the response carries no image.
func (e *Embedded) Connect(ctx context.Context) ([]byte, error) {
	if e.client.IsLoggedIn() {
		if !e.client.IsConnected() {
			_ = e.machine.Transition(status.Connecting)
			if err := e.client.Connect(); err != nil {
				return nil, fmt.Errorf("connect: %w", err)
			}
		}
		return e.stateJSON(), nil
	}

	// Subscribe before starting so the first code cannot be missed.
	ch, unsub := e.bus.Subscribe(bus.NSVendorState, 8)
	defer unsub()

	if err := e.startPairing(); err != nil && !errors.Is(err, ErrAlreadyPaired) {
		return nil, err
	}

	code := e.awaitQR(ctx, ch)
	e.mu.Lock()
	count := e.qrCount
	e.mu.Unlock()

	resp := map[string]any{"count": count}
	if code != "" {
		img, err := renderQR(code)
		if err != nil {
			return nil, err
		}
		resp["code"] = code
		resp["base64"] = img
	}
	out, _ := json.Marshal(resp)
	return out, nil
}

func (e *Embedded) awaitQR(ctx context.Context, ch <-chan bus.Event) string {
	if code := e.machine.QR(); code != "" {
		return code
	}
	timer := time.NewTimer(e.qrWait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ""
		case <-timer.C:
			return ""
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok && change.QR != "" {
				return change.QR
			}
		}
	}
}

// Logout unpairs the device. An unpaired device is just disconnected.
func (e *Embedded) Logout(ctx context.Context) error {
	if e.client.IsLoggedIn() {
		if err := e.client.Logout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	} else {
		e.client.Disconnect()
	}
	_ = e.machine.Transition(status.Close)
	return nil
}

// FindChats lists stored chats, newest first.
func (e *Embedded) FindChats(ctx context.Context) ([]byte, error) {
	chats, err := e.db.ListChats(maxChats, 0)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	records := make([]chatRecord, 0, len(chats))
	for i := range chats {
		records = append(records, toChatRecord(&chats[i]))
	}
	return json.Marshal(records)
}

// FindMessages returns the newest stored messages of a chat, wrapped the
// way the hosted vendor pages them.
func (e *Embedded) FindMessages(ctx context.Context, chatID string, limit int) ([]byte, error) {
	msgs, err := e.db.ListMessages(chatID, 0, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	records := make([]messageRecord, 0, len(msgs))
	for i := range msgs {
		records = append(records, toMessageRecord(&msgs[i]))
	}
	return json.Marshal(map[string]any{
		"messages": map[string]any{
			"total":   len(records),
			"records": records,
		},
	})
}

// SendText sends through WhatsApp, stores the message and announces it as
// a messages.upsert webhook.
func (e *Embedded) SendText(ctx context.Context, chatID, text string) ([]byte, error) {
	if !e.client.IsLoggedIn() || e.machine.Current() != status.Open {
		return nil, &SendError{Body: "instance is not connected"}
	}
	jid, err := ChatJID(chatID)
	if err != nil {
		return nil, &SendError{Body: err.Error()}
	}
	chatID = jid.String()
	id, ts, err := e.client.SendText(ctx, chatID, text)
	if err != nil {
		return nil, &SendError{Body: err.Error()}
	}
	if ts.IsZero() {
		ts = time.Now()
	}

	m := &store.Message{
		ChatJID:     chatID,
		MsgID:       id,
		Body:        text,
		MessageType: "text",
		FromMe:      true,
		Ack:         store.AckServer,
		Timestamp:   ts.UnixMilli(),
	}
	if _, err := e.db.RecordMessage(m); err != nil {
		e.logger.Warn("record sent message", zap.String("chat", chatID), zap.Error(err))
	}
	record := toMessageRecord(m)
	e.emit(hookMessagesUpsert, record)
	return json.Marshal(record)
}
