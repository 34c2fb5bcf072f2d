package ui

import (
	"strings"
	"unicode/utf8"

	"github.com/rivo/tview"
)

// MenuHint describes a keyboard shortcut for display in the menu.
type MenuHint struct {
	Key         string
	Description string
}

// Menu lays keyboard hints out in columns of at most rows entries.
type Menu struct {
	*tview.TextView
	theme *Theme
	rows  int
}

// NewMenu creates a new menu hint panel.
func NewMenu(theme *Theme, rows int) *Menu {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(0, 0, 2, 0)

	return &Menu{
		TextView: tv,
		theme:    theme,
		rows:     max(rows, 1),
	}
}

// Update replaces the displayed hints.
func (m *Menu) Update(hints []MenuHint) {
	m.SetText(m.render(hints))
}

// render fills columns top to bottom. Each column is padded to its widest
// entry so the next one lines up.
func (m *Menu) render(hints []MenuHint) string {
	kc := Tag(m.theme.MenuKeyColor)
	lines := make([]strings.Builder, min(len(hints), m.rows))
	for start := 0; start < len(hints); start += m.rows {
		col := hints[start:min(start+m.rows, len(hints))]
		width := 0
		for _, h := range col {
			width = max(width, hintWidth(h))
		}
		last := start+m.rows >= len(hints)
		for i, h := range col {
			line := &lines[i]
			line.WriteString("[" + kc + "::b]<" + tview.Escape(h.Key) + ">[-:-:-] " + tview.Escape(h.Description))
			if !last {
				line.WriteString(strings.Repeat(" ", width-hintWidth(h)+3))
			}
		}
	}

	var sb strings.Builder
	for i := range lines {
		sb.WriteString(strings.TrimRight(lines[i].String(), " "))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func hintWidth(h MenuHint) int {
	return utf8.RuneCountInString(h.Key) + 3 + utf8.RuneCountInString(h.Description)
}
