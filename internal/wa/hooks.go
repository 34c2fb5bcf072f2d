package wa

import (
	"encoding/json"

	"github.com/matheus3301/wppgw/internal/store"
)

// Vendor webhook event names emitted by the embedded provider.
const (
	hookConnectionUpdate = "connection.update"
	hookQRCodeUpdated    = "qrcode.updated"
	hookMessagesUpsert   = "messages.upsert"
	hookMessagesUpdate   = "messages.update"
	hookChatsUpsert      = "chats.upsert"
)

// ackNames spells store ack levels the way the hosted vendor does. Played
// voice notes are reported as read.
var ackNames = map[int]string{
	store.AckError:     "ERROR",
	store.AckPending:   "PENDING",
	store.AckServer:    "SERVER_ACK",
	store.AckDelivered: "DELIVERY_ACK",
	store.AckRead:      "READ",
	store.AckPlayed:    "READ",
}

type recordKey struct {
	ID        string `json:"id"`
	FromMe    bool   `json:"fromMe"`
	RemoteJID string `json:"remoteJid"`
}

type recordContent struct {
	Conversation string `json:"conversation"`
}

// messageRecord is one message in the vendor's findMessages / messages.upsert shape.
type messageRecord struct {
	Key              recordKey     `json:"key"`
	PushName         string        `json:"pushName,omitempty"`
	MessageType      string        `json:"messageType,omitempty"`
	Message          recordContent `json:"message"`
	MessageTimestamp int64         `json:"messageTimestamp"`
	Status           string        `json:"status,omitempty"`
}

// chatRecord is one chat in the vendor's findChats / chats.upsert shape.
type chatRecord struct {
	ID                   string `json:"id"`
	RemoteJID            string `json:"remoteJid"`
	PushName             string `json:"pushName,omitempty"`
	UnreadCount          int    `json:"unreadCount"`
	LastMessagePreview   string `json:"lastMessagePreview,omitempty"`
	LastMessageTimestamp int64  `json:"lastMessageTimestamp,omitempty"`
}

type statusRecord struct {
	KeyID     string `json:"keyId"`
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	Status    string `json:"status"`
}

type webhookEnvelope struct {
	Event    string `json:"event"`
	Instance string `json:"instance"`
	Data     any    `json:"data"`
}

func toMessageRecord(m *store.Message) messageRecord {
	return messageRecord{
		Key:              recordKey{ID: m.MsgID, FromMe: m.FromMe, RemoteJID: m.ChatJID},
		PushName:         m.SenderName,
		MessageType:      m.MessageType,
		Message:          recordContent{Conversation: m.Body},
		MessageTimestamp: m.Timestamp / 1000,
		Status:           ackNames[m.Ack],
	}
}

func toChatRecord(c *store.Chat) chatRecord {
	return chatRecord{
		ID:                   c.JID,
		RemoteJID:            c.JID,
		PushName:             c.Name,
		UnreadCount:          c.UnreadCount,
		LastMessagePreview:   c.LastMessagePreview,
		LastMessageTimestamp: c.LastMessageAt,
	}
}

// encodeWebhook renders one webhook envelope. Encoding these fixed shapes
// cannot fail, so errors are not returned.
func encodeWebhook(event, instance string, data any) []byte {
	out, _ := json.Marshal(webhookEnvelope{Event: event, Instance: instance, Data: data})
	return out
}
