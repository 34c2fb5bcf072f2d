package gateway

import (
	"context"
	"sync"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/vendor"
	"go.uber.org/zap"
)

// StatusTracker remembers the last connection status the gateway observed,
// from status reads and from the event stream.
type StatusTracker struct {
	mu        sync.RWMutex
	status    chat.ConnectionStatus
	listeners []func(chat.ConnectionStatus)
}

// NewStatusTracker starts out disconnected.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{status: chat.Disconnected}
}

// Status returns the last observed status.
func (t *StatusTracker) Status() chat.ConnectionStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// OnChange registers fn to run after every status change.
func (t *StatusTracker) OnChange(fn func(chat.ConnectionStatus)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Observe records s and notifies listeners when it differs from the last value.
func (t *StatusTracker) Observe(s chat.ConnectionStatus) {
	t.mu.Lock()
	if t.status == s {
		t.mu.Unlock()
		return
	}
	t.status = s
	listeners := append([]func(chat.ConnectionStatus){}, t.listeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Bridge maps raw vendor webhooks from the bus into canonical events and
// republishes them for stream subscribers.
type Bridge struct {
	bus     *bus.Bus
	tracker *StatusTracker
	logger  *zap.Logger
}

// NewBridge creates a bridge. tracker may be nil.
func NewBridge(b *bus.Bus, tracker *StatusTracker, logger *zap.Logger) *Bridge {
	return &Bridge{bus: b, tracker: tracker, logger: logger}
}

// Run consumes webhooks until ctx is done.
func (br *Bridge) Run(ctx context.Context) {
	ch, unsub := br.bus.Subscribe(bus.NSVendor, 256)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			raw, ok := evt.Payload.([]byte)
			if !ok {
				continue
			}
			br.Forward(raw)
		}
	}
}

// Forward maps one webhook body and publishes the resulting events. It
// returns how many canonical events were published.
func (br *Bridge) Forward(raw []byte) int {
	evts := vendor.MapWebhook(raw)
	if len(evts) == 0 {
		br.logger.Debug("webhook produced no events", zap.Int("bytes", len(raw)))
		return 0
	}
	for _, e := range evts {
		if e.Type == chat.EventConnectionStatus && br.tracker != nil {
			br.tracker.Observe(e.Status)
		}
		br.bus.Emit(bus.KindGatewayEvent, e)
	}
	return len(evts)
}
