package wa

import (
	"github.com/matheus3301/wppgw/internal/store"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types/events"
)

// ParsedMessage is a normalized message ready for ingestion.
type ParsedMessage struct {
	ChatJID     string
	MsgID       string
	SenderJID   string
	SenderName  string
	Body        string
	MessageType string
	FromMe      bool
	Ack         int
	Timestamp   int64
}

// ParseLiveMessage normalizes a live whatsmeow message event.
func ParseLiveMessage(evt *events.Message) *ParsedMessage {
	p := &ParsedMessage{
		ChatJID:     evt.Info.Chat.ToNonAD().String(),
		MsgID:       evt.Info.ID,
		SenderJID:   evt.Info.Sender.ToNonAD().String(),
		SenderName:  evt.Info.PushName,
		Body:        extractTextBody(evt.Message),
		MessageType: detectMessageType(evt.Message),
		FromMe:      evt.Info.IsFromMe,
		Timestamp:   evt.Info.Timestamp.UnixMilli(),
	}
	p.Ack = initialAck(p.FromMe)
	return p
}

// ParseHistoryMessage normalizes one message of a history sync conversation.
// It returns nil for entries that carry no message.
func ParseHistoryMessage(chatJID string, wmsg *waWeb.WebMessageInfo) *ParsedMessage {
	if wmsg == nil || wmsg.GetMessage() == nil {
		return nil
	}
	key := wmsg.GetKey()
	p := &ParsedMessage{
		ChatJID:     chatJID,
		MsgID:       key.GetID(),
		SenderJID:   key.GetParticipant(),
		SenderName:  wmsg.GetPushName(),
		Body:        extractTextBody(wmsg.GetMessage()),
		MessageType: detectMessageType(wmsg.GetMessage()),
		FromMe:      key.GetFromMe(),
		Timestamp:   int64(wmsg.GetMessageTimestamp()) * 1000,
	}
	p.Ack = initialAck(p.FromMe)
	if s := wmsg.GetStatus(); s > 0 {
		p.Ack = int(s)
	}
	return p
}

// initialAck is the level a message has when we first see it: ours reached
// the server, theirs reached us.
func initialAck(fromMe bool) int {
	if fromMe {
		return store.AckServer
	}
	return store.AckDelivered
}

// ToStoreMessage converts a ParsedMessage to a store.Message.
func (p *ParsedMessage) ToStoreMessage() *store.Message {
	return &store.Message{
		ChatJID:     p.ChatJID,
		MsgID:       p.MsgID,
		SenderJID:   p.SenderJID,
		SenderName:  p.SenderName,
		Body:        p.Body,
		MessageType: p.MessageType,
		FromMe:      p.FromMe,
		Ack:         p.Ack,
		Timestamp:   p.Timestamp,
	}
}

func extractTextBody(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if c := msg.GetConversation(); c != "" {
		return c
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	}
	return ""
}

func detectMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}
	switch {
	case msg.GetConversation() != "" || msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		return "video"
	case msg.GetAudioMessage() != nil:
		return "audio"
	case msg.GetDocumentMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetLocationMessage() != nil:
		return "location"
	default:
		return "unknown"
	}
}
