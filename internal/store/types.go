package store

// Ack levels stored per message. They follow the vendor's numeric ack codes.
const (
	AckError     = 0
	AckPending   = 1
	AckServer    = 2
	AckDelivered = 3
	AckRead      = 4
	AckPlayed    = 5
)

// Chat is a stored chat. Timestamps are unix milliseconds.
type Chat struct {
	JID                string
	Name               string
	IsGroup            bool
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Contact is a stored contact.
type Contact struct {
	JID      string
	Name     string
	PushName string
}

// Message is a stored message.
type Message struct {
	ID          int64
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
