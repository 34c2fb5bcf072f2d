package wa

import (
	"context"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/status"
	"github.com/matheus3301/wppgw/internal/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
)

// device is the part of the whatsmeow adapter the event handler reads from.
type device interface {
	ResolveLID(ctx context.Context, jid types.JID) types.JID
	GetContacts(ctx context.Context) []store.Contact
}

// EventHandler processes whatsmeow events: it keeps the vendor-side store
// current, drives the state machine and publishes every change as a vendor
// webhook on the bus, exactly as a hosted vendor would call us.
type EventHandler struct {
	db       *store.DB
	bus      *bus.Bus
	machine  *status.Machine
	device   device
	instance string
	logger   *zap.Logger
}

// NewEventHandler creates a new event handler. dev may be nil, in which
// case LIDs are left unresolved and contacts are not imported.
func NewEventHandler(db *store.DB, b *bus.Bus, machine *status.Machine, dev device, instance string, logger *zap.Logger) *EventHandler {
	return &EventHandler{
		db:       db,
		bus:      b,
		machine:  machine,
		device:   dev,
		instance: instance,
		logger:   logger,
	}
}

// Handle is the whatsmeow event handler function.
func (h *EventHandler) Handle(rawEvt any) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		h.handleMessage(evt)
	case *events.Receipt:
		h.handleReceipt(evt)
	case *events.Connected:
		h.logger.Info("WhatsApp connected")
		if h.machine.Current() == status.Close {
			_ = h.machine.Transition(status.Connecting)
		}
		if err := h.machine.Transition(status.Open); err != nil {
			h.logger.Warn("state transition", zap.Error(err))
		}
		h.importContacts()
	case *events.Disconnected:
		h.logger.Warn("WhatsApp disconnected")
		_ = h.machine.Transition(status.Connecting)
	case *events.LoggedOut:
		h.logger.Warn("WhatsApp logged out", zap.String("reason", evt.Reason.String()))
		_ = h.machine.Transition(status.Close)
	case *events.HistorySync:
		h.handleHistorySync(evt)
	case *events.PushName:
		h.handlePushName(evt)
	}
}

func (h *EventHandler) handleMessage(evt *events.Message) {
	parsed := ParseLiveMessage(evt)
	parsed.ChatJID = h.resolve(evt.Info.Chat)
	parsed.SenderJID = h.resolve(evt.Info.Sender)

	m := parsed.ToStoreMessage()
	inserted, err := h.db.RecordMessage(m)
	if err != nil {
		h.logger.Error("record message", zap.String("chat", m.ChatJID), zap.String("id", m.MsgID), zap.Error(err))
		return
	}
	if !inserted {
		return
	}
	h.emit(hookMessagesUpsert, toMessageRecord(m))
	h.emitChat(m.ChatJID)
}

// receiptAck maps a receipt type to a stored ack level; 0 means ignore.
func receiptAck(t types.ReceiptType) int {
	switch t {
	case types.ReceiptTypeDelivered:
		return store.AckDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		return store.AckRead
	case types.ReceiptTypePlayed:
		return store.AckPlayed
	}
	return 0
}

func (h *EventHandler) handleReceipt(evt *events.Receipt) {
	ack := receiptAck(evt.Type)
	if ack == 0 {
		return
	}
	chatJID := h.resolve(evt.Chat)

	if evt.Type == types.ReceiptTypeReadSelf {
		// Read on another of our devices.
		if err := h.db.MarkChatRead(chatJID); err != nil {
			h.logger.Warn("mark chat read", zap.String("chat", chatJID), zap.Error(err))
		}
		h.emitChat(chatJID)
		return
	}

	for _, id := range evt.MessageIDs {
		changed, err := h.db.UpdateAck(chatJID, string(id), ack)
		if err != nil {
			h.logger.Warn("update ack", zap.String("chat", chatJID), zap.String("id", string(id)), zap.Error(err))
			continue
		}
		if !changed {
			continue
		}
		h.emit(hookMessagesUpdate, statusRecord{
			KeyID:     string(id),
			RemoteJID: chatJID,
			FromMe:    true,
			Status:    ackNames[ack],
		})
	}
}

func (h *EventHandler) handleHistorySync(evt *events.HistorySync) {
	data := evt.Data
	if data == nil {
		return
	}

	var msgs []*store.Message
	touched := make(map[string]bool)
	for _, conv := range data.GetConversations() {
		chatJID := h.resolveString(conv.GetID())
		if name := conv.GetName(); name != "" {
			if err := h.db.UpsertContact(&store.Contact{JID: chatJID, Name: name}); err != nil {
				h.logger.Warn("upsert contact", zap.String("jid", chatJID), zap.Error(err))
			}
		}
		for _, hm := range conv.GetMessages() {
			parsed := ParseHistoryMessage(chatJID, hm.GetMessage())
			if parsed == nil || parsed.MsgID == "" {
				continue
			}
			if parsed.SenderJID != "" {
				parsed.SenderJID = h.resolveString(parsed.SenderJID)
			}
			msgs = append(msgs, parsed.ToStoreMessage())
			touched[chatJID] = true
		}
	}
	if len(msgs) == 0 {
		return
	}
	if err := h.db.RecordHistory(msgs); err != nil {
		h.logger.Error("record history", zap.Int("messages", len(msgs)), zap.Error(err))
		return
	}
	h.logger.Info("history sync stored", zap.Int("messages", len(msgs)), zap.Int("chats", len(touched)))
	for jid := range touched {
		h.emitChat(jid)
	}
}

func (h *EventHandler) handlePushName(evt *events.PushName) {
	jid := h.resolve(evt.JID)
	if err := h.db.UpsertContact(&store.Contact{JID: jid, PushName: evt.NewPushName}); err != nil {
		h.logger.Warn("upsert contact", zap.String("jid", jid), zap.Error(err))
	}
}

func (h *EventHandler) importContacts() {
	if h.device == nil {
		return
	}
	contacts := h.device.GetContacts(context.Background())
	if len(contacts) == 0 {
		return
	}
	if err := h.db.BulkUpsertContacts(contacts); err != nil {
		h.logger.Warn("import contacts", zap.Error(err))
		return
	}
	h.logger.Info("contacts imported", zap.Int("count", len(contacts)))
}

// resolve strips the device suffix and maps LIDs to phone-number JIDs so
// one person never shows up as two chats.
func (h *EventHandler) resolve(jid types.JID) string {
	jid = jid.ToNonAD()
	if h.device != nil {
		jid = h.device.ResolveLID(context.Background(), jid)
	}
	return jid.String()
}

func (h *EventHandler) resolveString(s string) string {
	jid, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return h.resolve(jid)
}

func (h *EventHandler) emitChat(jid string) {
	c, err := h.db.GetChat(jid)
	if err != nil || c == nil {
		return
	}
	h.emit(hookChatsUpsert, toChatRecord(c))
}

func (h *EventHandler) emit(event string, data any) {
	if h.bus == nil {
		return
	}
	h.bus.Emit(bus.KindVendorHook, encodeWebhook(event, h.instance, data))
}
