package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/matheus3301/wppgw/internal/bus"
	"github.com/matheus3301/wppgw/internal/chat"
	"go.uber.org/zap"
)

func TestBridgeForward(t *testing.T) {
	b := bus.New()
	tracker := NewStatusTracker()
	br := NewBridge(b, tracker, zap.NewNop())

	ch, unsub := b.Subscribe(bus.NSGateway, 8)
	defer unsub()

	if n := br.Forward([]byte(`{"event":"connection.update","data":{"state":"open"}}`)); n != 1 {
		t.Fatalf("forwarded %d", n)
	}
	if tracker.Status() != chat.Connected {
		t.Errorf("tracker = %q", tracker.Status())
	}
	evt := <-ch
	if e, ok := evt.Payload.(chat.Event); !ok || e.Type != chat.EventConnectionStatus {
		t.Errorf("payload = %+v", evt.Payload)
	}

	if n := br.Forward([]byte(`{"event":"chats.upsert","data":[{"remoteJid":"a"},{"remoteJid":"b"}]}`)); n != 2 {
		t.Errorf("forwarded %d, want 2", n)
	}
	if n := br.Forward([]byte(`garbage`)); n != 0 {
		t.Errorf("forwarded %d, want 0", n)
	}
}

func TestBridgeRun(t *testing.T) {
	b := bus.New()
	br := NewBridge(b, nil, zap.NewNop())
	ch, unsub := b.Subscribe(bus.NSGateway, 8)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go br.Run(ctx)

	// Run subscribes asynchronously; keep publishing until it picks one up.
	hook := []byte(`{"event":"messages.update","data":{"keyId":"M1","remoteJid":"c1","status":"READ"}}`)
	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case evt := <-ch:
			e := evt.Payload.(chat.Event)
			if e.Type != chat.EventMessageStatus || e.MessageStatus != chat.StatusRead {
				t.Errorf("event = %+v", e)
			}
			return
		case <-tick.C:
			b.Emit(bus.KindVendorHook, hook)
		case <-deadline:
			t.Fatal("no event forwarded")
		}
	}
}

func TestStatusTrackerNotifiesOnChange(t *testing.T) {
	tr := NewStatusTracker()
	var seen []chat.ConnectionStatus
	tr.OnChange(func(s chat.ConnectionStatus) { seen = append(seen, s) })

	for _, s := range []chat.ConnectionStatus{chat.Disconnected, chat.QR, chat.QR, chat.Connected} {
		tr.Observe(s)
	}
	if len(seen) != 2 || seen[0] != chat.QR || seen[1] != chat.Connected {
		t.Errorf("seen = %v", seen)
	}
}
