package tui

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/matheus3301/wppgw/internal/vendor"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}

// commandNames are offered by Tab completion in the command prompt.
var commandNames = []string{"chat", "disconnect", "help", "logout", "open", "qr", "quit", "refresh"}

var errNoQR = errors.New("gateway returned no QR code; is the instance already connected?")

// execute runs cmd against the engine. It may block on the network, so it
// runs off the UI goroutine; anything that touches views is returned as an
// action for the UI goroutine.
func (a *App) execute(cmd Command) (func(), error) {
	switch cmd.Name {
	case "qr":
		return a.cmdQR(cmd.Args)

	case "refresh", "r":
		a.engine.Refresh(a.ctx)
		a.flash.Info("Refreshed")
		return nil, nil

	case "disconnect", "logout":
		a.engine.Disconnect(a.ctx)
		a.flash.Info("Instance disconnected")
		return nil, nil

	case "open", "chat":
		if cmd.Args == "" {
			return nil, errors.New("usage: :open <name or id>")
		}
		id, ok := a.findConversation(cmd.Args)
		if !ok {
			return nil, fmt.Errorf("no conversation matches %q", cmd.Args)
		}
		return func() { a.openConversation(id) }, nil

	case "help", "h":
		return func() { a.push(pageHelp) }, nil

	case "quit", "q":
		return a.app.Stop, nil

	default:
		return nil, fmt.Errorf("unknown command %q", cmd.Name)
	}
}

// cmdQR requests a fresh code, or with a path writes the current code to
// that file as PNG, requesting one first when none is known.
func (a *App) cmdQR(path string) (func(), error) {
	st := a.engine.Snapshot()
	image := st.QRCodeImageURL
	if path == "" || image == nil {
		image = a.engine.RequestQR(a.ctx).QRCodeImageURL
	}
	if image == nil {
		return nil, errNoQR
	}

	if path == "" {
		a.flash.Info("New pairing code requested")
		return a.showQR, nil
	}

	data, err := vendor.DecodeQRImage(*image)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write qr: %w", err)
	}
	a.flash.Info("QR code saved to " + path)
	return nil, nil
}

// findConversation matches q against ids exactly, then titles ignoring case.
func (a *App) findConversation(q string) (string, bool) {
	convs := a.engine.Snapshot().Conversations
	for _, c := range convs {
		if c.ID == q {
			return c.ID, true
		}
	}
	lq := strings.ToLower(q)
	for _, c := range convs {
		if strings.Contains(strings.ToLower(c.Title), lq) {
			return c.ID, true
		}
	}
	return "", false
}
