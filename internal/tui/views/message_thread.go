package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/sync"
	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/rivo/tview"
)

// MessageThread displays one conversation's messages and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	convID   string
	onSend   func(text string)
	now      func() time.Time
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
		now:      time.Now,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter || mt.onSend == nil {
			return
		}
		text := composer.GetText()
		if strings.TrimSpace(text) == "" {
			return
		}
		mt.onSend(text)
		composer.SetText("")
	})

	return mt
}

// Name implements ui.Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Hints implements ui.Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// SetConversation points the thread at a conversation and clears what was
// shown for the previous one.
func (mt *MessageThread) SetConversation(id, title string) {
	if title == "" {
		title = id
	}
	if id != mt.convID {
		mt.messages.Clear()
		mt.composer.SetText("")
	}
	mt.convID = id
	mt.title = title
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(title)))
}

// ConversationID returns the conversation on screen.
func (mt *MessageThread) ConversationID() string {
	return mt.convID
}

// SetOnSend sets the callback when the composer submits non-blank text.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// Update redraws the thread with msgs, oldest first.
func (mt *MessageThread) Update(msgs []chat.Message) {
	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, mt.render(msgs))
	mt.messages.ScrollToEnd()
}

func (mt *MessageThread) render(msgs []chat.Message) string {
	var b strings.Builder
	now := mt.now()
	for _, m := range msgs {
		sender, color := "Customer", mt.theme.CustomerColor
		if m.Author == chat.AuthorAgent {
			sender, color = "You", mt.theme.AgentColor
			if m.AgentName != "" {
				sender = m.AgentName
			}
		}

		ts := formatTimestamp(&m.CreatedAt, now)
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] [::d]%s[-:-:-]", ui.Tag(color), tview.Escape(sanitizeForTerminal(sender)), ts)
		if m.Author == chat.AuthorAgent {
			b.WriteString(" " + mt.statusMark(m))
		}
		b.WriteString("\n")
		b.WriteString(tview.Escape(sanitizeForTerminal(m.Text)))
		b.WriteString("\n\n")
	}
	return b.String()
}

// statusMark renders delivery state: ✓ sent, ✓✓ delivered, ✓✓ in the read
// color once read. Optimistic entries not yet seen by the gateway are dim.
func (mt *MessageThread) statusMark(m chat.Message) string {
	mark := StatusMark(m.Status)
	switch {
	case mark == "":
		return ""
	case m.Status == chat.StatusRead:
		return fmt.Sprintf("[%s::b]%s[-:-:-]", ui.Tag(mt.theme.ReadColor), mark)
	case sync.IsTempID(m.ID):
		return fmt.Sprintf("[%s]%s[-]", ui.Tag(mt.theme.MutedColor), mark)
	default:
		return mark
	}
}

// StatusMark returns the check marks for s without color.
func StatusMark(s chat.MessageStatus) string {
	switch s {
	case chat.StatusSent:
		return "✓"
	case chat.StatusDelivered, chat.StatusRead:
		return "✓✓"
	default:
		return ""
	}
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

// Messages returns the message view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}
