package views

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/rivo/tview"
)

// ConversationList is the main conversation table. Rows follow the sync
// engine's order; the list never reorders on its own.
type ConversationList struct {
	*tview.Table
	theme   *ui.Theme
	convs   []chat.Conversation
	visible []chat.Conversation
	filter  string
	now     func() time.Time
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitleColor(theme.TitleColor)

	cl := &ConversationList{
		Table: table,
		theme: theme,
		now:   time.Now,
	}
	cl.render()
	return cl
}

// Name implements ui.Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Hints implements ui.Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "d", Description: "Details"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "1-9", Description: "Jump"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
	}
}

// Update replaces the rows, keeping the cursor on the same conversation
// when it is still listed.
func (cl *ConversationList) Update(convs []chat.Conversation) {
	selected := cl.Selected()
	cl.convs = convs
	cl.render()
	cl.Select(selected)
}

// SetFilter sets the active filter text and re-renders. An empty filter
// shows everything.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = strings.TrimSpace(filter)
	cl.render()
	cl.Table.Select(1, 0)
}

// Filter returns the active filter.
func (cl *ConversationList) Filter() string {
	return cl.filter
}

// Selected returns the id of the conversation under the cursor.
func (cl *ConversationList) Selected() string {
	row, _ := cl.GetSelection()
	return cl.ByIndex(row)
}

// ByIndex returns the id of the nth visible conversation (1-based), or "".
func (cl *ConversationList) ByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

// Lookup returns the conversation with id from the last update.
func (cl *ConversationList) Lookup(id string) (chat.Conversation, bool) {
	for _, c := range cl.convs {
		if c.ID == id {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Select moves the cursor to id when it is visible.
func (cl *ConversationList) Select(id string) {
	if id == "" {
		return
	}
	for i, c := range cl.visible {
		if c.ID == id {
			cl.Table.Select(i+1, 0)
			return
		}
	}
}

func (cl *ConversationList) matches(c chat.Conversation) bool {
	if cl.filter == "" {
		return true
	}
	f := strings.ToLower(cl.filter)
	return strings.Contains(strings.ToLower(c.Title), f) ||
		strings.Contains(strings.ToLower(c.ID), f) ||
		strings.Contains(strings.ToLower(c.LastMessagePreview), f)
}

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" LAST MESSAGE", 2},
		{" UNREAD", 0},
		{" TIME", 0},
	}
	for col, h := range headers {
		cl.SetCell(0, col, tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp))
	}

	cl.visible = cl.visible[:0]
	for _, c := range cl.convs {
		if !cl.matches(c) {
			continue
		}
		cl.visible = append(cl.visible, c)
		row := len(cl.visible)

		unread := ""
		attr := tcell.AttrNone
		if c.Unread() > 0 {
			unread = strconv.Itoa(c.Unread())
			attr = tcell.AttrBold
		}
		title := c.Title
		if title == "" {
			title = c.ID
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+cellText(title)).
			SetExpansion(1).SetMaxWidth(30).SetAttributes(attr).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 1, tview.NewTableCell(" "+cellText(c.LastMessagePreview)).
			SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(unread).
			SetAlign(tview.AlignRight).SetTextColor(cl.theme.CounterColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(c.LastMessageAt, cl.now())).
			SetAlign(tview.AlignRight).SetTextColor(cl.theme.FgColor))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.convs), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.convs)))
	}
}

// formatTimestamp renders t as a clock time when it falls on today and as a
// date otherwise.
func formatTimestamp(t *time.Time, now time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	local := t.In(now.Location())
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("01/02")
}
