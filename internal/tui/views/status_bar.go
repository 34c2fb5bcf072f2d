package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/rivo/tview"
)

// StatusBar is the bottom line: connection status, sync mode, the current
// flash message and a clock.
type StatusBar struct {
	*tview.TextView
	theme  *ui.Theme
	status chat.ConnectionStatus
	live   bool
	flash  *ui.FlashMessage
	now    func() time.Time
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(theme.BgColor)

	sb := &StatusBar{
		TextView: tv,
		theme:    theme,
		status:   chat.Disconnected,
		now:      time.Now,
	}
	sb.render()
	return sb
}

// SetState updates the connection status and whether the stream is open.
func (sb *StatusBar) SetState(status chat.ConnectionStatus, live bool) {
	sb.status = status
	sb.live = live
	sb.render()
}

// SetFlash shows msg until the next update; nil clears it.
func (sb *StatusBar) SetFlash(msg *ui.FlashMessage) {
	sb.flash = msg
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line())
}

func (sb *StatusBar) line() string {
	mode := "[::d]polling[-:-:-]"
	if sb.live {
		mode = fmt.Sprintf("[%s]live[-]", ui.Tag(sb.theme.ConnectedColor))
	}

	line := fmt.Sprintf(" [%s::b]● %s[-:-:-] | %s | %s",
		ui.Tag(sb.theme.StatusColor(sb.status)), sb.status, mode, sb.now().Format("15:04"))

	if sb.flash != nil {
		color := sb.theme.FlashInfoColor
		switch sb.flash.Level {
		case ui.FlashWarn:
			color = sb.theme.FlashWarnColor
		case ui.FlashErr:
			color = sb.theme.FlashErrColor
		}
		line += fmt.Sprintf(" | [%s]%s[-]", ui.Tag(color), tview.Escape(sb.flash.Text))
	}
	return line
}
