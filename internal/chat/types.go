package chat

import "time"

// ConnectionStatus is the vendor connection state, mirrored verbatim.
type ConnectionStatus string

const (
	Disconnected ConnectionStatus = "disconnected"
	QR           ConnectionStatus = "qr"
	Connecting   ConnectionStatus = "connecting"
	Connected    ConnectionStatus = "connected"
)

// Valid reports whether s is one of the known connection states.
func (s ConnectionStatus) Valid() bool {
	switch s {
	case Disconnected, QR, Connecting, Connected:
		return true
	}
	return false
}

// Author identifies who wrote a message.
type Author string

const (
	AuthorAgent    Author = "agent"
	AuthorCustomer Author = "customer"
)

// Valid reports whether a is a known author.
func (a Author) Valid() bool {
	return a == AuthorAgent || a == AuthorCustomer
}

// MessageStatus is the delivery progress of a message. The zero value means unknown.
type MessageStatus string

const (
	StatusUnknown   MessageStatus = ""
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// Valid reports whether s is unknown or one of the known statuses.
func (s MessageStatus) Valid() bool {
	return s == StatusUnknown || StatusRank(s) > 0
}

// StatusRank orders statuses for monotonic merges. Unknown ranks lowest.
func StatusRank(s MessageStatus) int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// MaxStatus returns the more advanced of two statuses.
func MaxStatus(a, b MessageStatus) MessageStatus {
	if StatusRank(b) > StatusRank(a) {
		return b
	}
	return a
}

// Conversation is a chat as exposed by the gateway. Partial updates leave
// UnreadCount nil when the vendor did not report one.
type Conversation struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	AvatarURL          string     `json:"avatarUrl,omitempty"`
	LastMessagePreview string     `json:"lastMessagePreview,omitempty"`
	LastMessageAt      *time.Time `json:"lastMessageAt,omitempty"`
	UnreadCount        *int       `json:"unreadCount,omitempty"`
}

// Unread returns the unread count, zero when unknown.
func (c Conversation) Unread() int {
	if c.UnreadCount == nil {
		return 0
	}
	return *c.UnreadCount
}

// Count returns a pointer to n, for UnreadCount.
func Count(n int) *int {
	return &n
}

// Message is a single chat message. ID is unique within its conversation.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	Author         Author        `json:"author"`
	Text           string        `json:"text"`
	CreatedAt      time.Time     `json:"createdAt"`
	Status         MessageStatus `json:"status,omitempty"`
	AgentName      string        `json:"agentName,omitempty"`
}

// QRPayload is the response of a QR request. It is never persisted.
type QRPayload struct {
	Status         ConnectionStatus `json:"status"`
	QRCodeImageURL *string          `json:"qrCodeImageUrl"`
}

// StatusPayload is the response of a status read.
type StatusPayload struct {
	Status ConnectionStatus `json:"status"`
}

// Valid reports whether m has both ids and enum values the model knows.
func (m Message) Valid() bool {
	return m.ID != "" && m.ConversationID != "" && m.Author.Valid() && m.Status.Valid()
}
