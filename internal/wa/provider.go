// Package wa talks to the upstream WhatsApp provider. Every provider returns
// the vendor's raw JSON; internal/vendor turns it into canonical types.
package wa

import (
	"context"
	"fmt"
)

// Provider is the upstream vendor API as the gateway consumes it.
type Provider interface {
	ConnectionState(ctx context.Context) ([]byte, error)
	Connect(ctx context.Context) ([]byte, error)
	Logout(ctx context.Context) error
	FindChats(ctx context.Context) ([]byte, error)
	FindMessages(ctx context.Context, chatID string, limit int) ([]byte, error)
	SendText(ctx context.Context, chatID, text string) ([]byte, error)
}

// WebhookRegistrar is a provider that pushes events to the gateway once it
// is told where to post them.
type WebhookRegistrar interface {
	RegisterWebhook(ctx context.Context, hookURL string) error
}

// SendError is a send the vendor refused. Body is the vendor's error text.
type SendError struct {
	Status int
	Body   string
}

func (e *SendError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("send rejected: %s", e.Body)
	}
	return fmt.Sprintf("send rejected (HTTP %d): %s", e.Status, e.Body)
}
