package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// EventType discriminates the canonical events carried by the gateway stream.
type EventType string

const (
	EventConnectionStatus      EventType = "connection.status"
	EventConversationsSnapshot EventType = "conversations.snapshot"
	EventConversationUpsert    EventType = "conversation.upsert"
	EventMessagesSnapshot      EventType = "messages.snapshot"
	EventMessageNew            EventType = "message.new"
	EventMessageStatus         EventType = "message.status"
)

// Event is the wire form of every stream event. Which fields are set depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// connection.status
	Status         ConnectionStatus `json:"status,omitempty"`
	QRCodeImageURL *string          `json:"qrCodeImageUrl,omitempty"`

	// conversations.snapshot / conversation.upsert
	Conversations []Conversation `json:"conversations,omitempty"`
	Conversation  *Conversation  `json:"conversation,omitempty"`

	// messages.snapshot / message.new / message.status
	ConversationID string        `json:"conversationId,omitempty"`
	Messages       []Message     `json:"messages,omitempty"`
	Message        *Message      `json:"message,omitempty"`
	MessageID      string        `json:"messageId,omitempty"`
	MessageStatus  MessageStatus `json:"-"`
}

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event type")
)

// message.status reuses the "status" key for a message status, so the
// connection and message variants are encoded separately.
type messageStatusWire struct {
	Type           EventType     `json:"type"`
	ConversationID string        `json:"conversationId"`
	MessageID      string        `json:"messageId"`
	Status         MessageStatus `json:"status"`
}

// MarshalJSON encodes the event in its variant shape.
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventMessageStatus {
		return json.Marshal(messageStatusWire{
			Type:           e.Type,
			ConversationID: e.ConversationID,
			MessageID:      e.MessageID,
			Status:         e.MessageStatus,
		})
	}
	type plain Event
	return json.Marshal(plain(e))
}

// DecodeEvent parses one stream event and checks the fields its type requires.
func DecodeEvent(data []byte) (Event, error) {
	var head struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch head.Type {
	case "":
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	case EventMessageStatus:
		var w messageStatusWire
		if err := json.Unmarshal(data, &w); err != nil {
			return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
		}
		if w.ConversationID == "" || w.MessageID == "" || StatusRank(w.Status) == 0 {
			return Event{}, fmt.Errorf("%w: message.status needs conversationId, messageId and status", ErrMalformedEvent)
		}
		return Event{Type: w.Type, ConversationID: w.ConversationID, MessageID: w.MessageID, MessageStatus: w.Status}, nil
	case EventConnectionStatus, EventConversationsSnapshot, EventConversationUpsert, EventMessagesSnapshot, EventMessageNew:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, head.Type)
	}

	type plain Event
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	evt := Event(p)

	switch evt.Type {
	case EventConnectionStatus:
		if !evt.Status.Valid() {
			return Event{}, fmt.Errorf("%w: connection.status %q", ErrMalformedEvent, evt.Status)
		}
	case EventConversationUpsert:
		if evt.Conversation == nil || evt.Conversation.ID == "" {
			return Event{}, fmt.Errorf("%w: conversation.upsert without conversation id", ErrMalformedEvent)
		}
	case EventMessagesSnapshot:
		if evt.ConversationID == "" {
			return Event{}, fmt.Errorf("%w: messages.snapshot without conversationId", ErrMalformedEvent)
		}
		// Entries with unknown author or status are dropped, not the snapshot.
		evt.Messages = slices.DeleteFunc(evt.Messages, func(m Message) bool {
			return !m.Author.Valid() || !m.Status.Valid()
		})
	case EventMessageNew:
		if evt.Message == nil || !evt.Message.Valid() {
			return Event{}, fmt.Errorf("%w: message.new needs ids, a known author and status", ErrMalformedEvent)
		}
	}
	return evt, nil
}

// StatusEvent builds a connection.status event.
func StatusEvent(status ConnectionStatus, qr *string) Event {
	return Event{Type: EventConnectionStatus, Status: status, QRCodeImageURL: qr}
}

// ConversationsEvent builds a conversations.snapshot event.
func ConversationsEvent(convs []Conversation) Event {
	return Event{Type: EventConversationsSnapshot, Conversations: convs}
}

// ConversationEvent builds a conversation.upsert event.
func ConversationEvent(c Conversation) Event {
	return Event{Type: EventConversationUpsert, Conversation: &c}
}

// MessagesEvent builds a messages.snapshot event.
func MessagesEvent(conversationID string, msgs []Message) Event {
	return Event{Type: EventMessagesSnapshot, ConversationID: conversationID, Messages: msgs}
}

// NewMessageEvent builds a message.new event.
func NewMessageEvent(m Message) Event {
	return Event{Type: EventMessageNew, Message: &m}
}

// MessageStatusEvent builds a message.status event.
func MessageStatusEvent(conversationID, messageID string, status MessageStatus) Event {
	return Event{Type: EventMessageStatus, ConversationID: conversationID, MessageID: messageID, MessageStatus: status}
}
