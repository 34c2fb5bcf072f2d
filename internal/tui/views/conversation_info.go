package views

import (
	"fmt"
	"time"

	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationInfo displays detailed information about a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements ui.Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Hints implements ui.Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// Update renders details for c. msgs are the locally known messages.
func (ci *ConversationInfo) Update(c chat.Conversation, msgs []chat.Message) {
	ci.Clear()
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(c.Title)))
	_, _ = fmt.Fprint(ci, ci.render(c, msgs))
}

func (ci *ConversationInfo) render(c chat.Conversation, msgs []chat.Message) string {
	fg := ui.Tag(ci.theme.FgColor)
	ct := ui.Tag(ci.theme.CounterColor)

	lastActive := "-"
	if c.LastMessageAt != nil {
		lastActive = c.LastMessageAt.Local().Format(time.DateTime)
	}
	avatar := c.AvatarURL
	if avatar == "" {
		avatar = "-"
	}

	pending := 0
	for _, m := range msgs {
		if m.Author == chat.AuthorAgent && m.Status == chat.StatusSent {
			pending++
		}
	}

	return fmt.Sprintf(
		"\n [%s::b]Name:[-:-:-]         [%s]%s[-]\n"+
			" [%s::b]ID:[-:-:-]           [%s]%s[-]\n"+
			" [%s::b]Avatar:[-:-:-]       [%s]%s[-]\n"+
			" [%s::b]Unread:[-:-:-]       [%s]%d[-]\n"+
			" [%s::b]Messages:[-:-:-]     [%s]%d loaded, %d awaiting delivery[-]\n"+
			" [%s::b]Last Active:[-:-:-]  [%s]%s[-]\n"+
			" [%s::b]Last Message:[-:-:-] [%s]%s[-]",
		fg, ct, cellText(c.Title),
		fg, ct, tview.Escape(c.ID),
		fg, ct, tview.Escape(avatar),
		fg, ct, c.Unread(),
		fg, ct, len(msgs), pending,
		fg, ct, lastActive,
		fg, ct, cellText(c.LastMessagePreview),
	)
}
