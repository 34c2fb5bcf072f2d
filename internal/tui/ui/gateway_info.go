package ui

import (
	"fmt"

	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/rivo/tview"
)

// GatewayData holds what the header shows about the gateway connection.
type GatewayData struct {
	Session       string
	Gateway       string
	Transport     string
	Status        chat.ConnectionStatus
	StreamOpen    bool
	Conversations int
	Unread        int
}

// GatewayInfo displays connection metadata in the header.
type GatewayInfo struct {
	*tview.TextView
	theme *Theme
}

// NewGatewayInfo creates a new gateway info panel.
func NewGatewayInfo(theme *Theme) *GatewayInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 1, 1)

	return &GatewayInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Update renders d.
func (gi *GatewayInfo) Update(d GatewayData) {
	gi.Clear()
	_, _ = fmt.Fprint(gi, gi.render(d))
}

func (gi *GatewayInfo) render(d GatewayData) string {
	fg := Tag(gi.theme.FgColor)
	ct := Tag(gi.theme.CounterColor)

	gateway := d.Gateway
	if gateway == "" {
		gateway = "(none, local only)"
	}
	sync := "polling"
	if d.StreamOpen {
		sync = "live (" + d.Transport + ")"
	}

	return fmt.Sprintf(
		"[%s::b]Session:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Gateway:[-:-:-] [%s]%s[-]\n"+
			"[%s::b]Status:[-:-:-]  [%s::b]%s[-:-:-]\n"+
			"[%s::b]Sync:[-:-:-]    [%s]%s[-]\n"+
			"[%s::b]Chats:[-:-:-]   [%s]%d[-] [%s](%d unread)[-]",
		fg, ct, tview.Escape(d.Session),
		fg, ct, tview.Escape(gateway),
		fg, Tag(gi.theme.StatusColor(d.Status)), d.Status,
		fg, ct, sync,
		fg, ct, d.Conversations, Tag(gi.theme.MutedColor), d.Unread,
	)
}
