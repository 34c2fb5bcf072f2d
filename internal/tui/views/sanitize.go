package views

import (
	"strings"

	"github.com/rivo/tview"
)

// sanitizeForTerminal drops codepoints that tcell renders with the wrong
// width (skin tone modifiers, zero width joiners, variation selectors) and
// flattens newlines so table cells stay on one line.
func sanitizeForTerminal(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0x1F3FB && r <= 0x1F3FF,
			r == 0x200D,
			r >= 0xFE00 && r <= 0xFE0F,
			r >= 0xE0100 && r <= 0xE01EF:
			return -1
		}
		return r
	}, s)
}

// cellText prepares user text for a single-line table cell.
func cellText(s string) string {
	s = strings.Join(strings.Fields(sanitizeForTerminal(s)), " ")
	return tview.Escape(s)
}
