package wa

import (
	"encoding/base64"
	"fmt"

	"github.com/matheus3301/wppgw/internal/status"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	"go.uber.org/zap"
)

const qrImageSize = 256

// renderQR encodes a pairing code as a PNG data URL.
func renderQR(code string) (string, error) {
	png, err := qrcode.Encode(code, qrcode.Medium, qrImageSize)
	if err != nil {
		return "", fmt.Errorf("encode QR: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// startPairing opens the QR channel and connects, unless a pairing flow is
// already running. Codes arrive asynchronously through the state machine.
func (e *Embedded) startPairing() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pairing {
		return nil
	}

	qrChan, err := e.client.GetQRChannel(e.ctx)
	if err != nil {
		return err
	}
	// Connect must be called after GetQRChannel.
	if err := e.client.Connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	e.pairing = true
	e.qrCount = 0
	go e.runPairing(qrChan)
	return nil
}

func (e *Embedded) runPairing(qrChan <-chan whatsmeow.QRChannelItem) {
	defer func() {
		e.mu.Lock()
		e.pairing = false
		e.mu.Unlock()
	}()

	for item := range qrChan {
		switch item.Event {
		case "code":
			e.mu.Lock()
			e.qrCount++
			e.mu.Unlock()
			if err := e.machine.SetQR(item.Code); err != nil {
				e.logger.Warn("publish QR", zap.Error(err))
			}
		case "success":
			e.logger.Info("device paired")
			_ = e.machine.Transition(status.Connecting)
			return
		case "timeout":
			e.logger.Warn("QR pairing timed out")
			e.abortPairing()
			return
		default:
			if item.Error != nil {
				e.logger.Warn("QR pairing failed", zap.String("event", item.Event), zap.Error(item.Error))
				e.abortPairing()
				return
			}
		}
	}
}

func (e *Embedded) abortPairing() {
	e.client.Disconnect()
	_ = e.machine.Transition(status.Close)
}
