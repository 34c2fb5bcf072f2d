package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestRegistryPrecedence(t *testing.T) {
	r := NewRegistry()
	var hit string
	r.AddGlobal(&Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "global-q" }})
	r.AddGlobal(&Action{Key: tcell.KeyF5, Handler: func() { hit = "global-f5" }})
	r.AddPage("thread", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "thread-q" }})

	tests := []struct {
		page string
		ev   *tcell.EventKey
		want string
	}{
		{"list", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), "global-q"},
		{"thread", tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone), "thread-q"},
		{"thread", tcell.NewEventKey(tcell.KeyF5, 0, tcell.ModNone), "global-f5"},
		{"list", tcell.NewEventKey(tcell.KeyRune, 'x', tcell.ModNone), ""},
	}
	for _, tt := range tests {
		hit = ""
		matched := r.HandleEvent(tt.page, tt.ev)
		if hit != tt.want || matched != (tt.want != "") {
			t.Errorf("%s %v: hit=%q matched=%v, want %q", tt.page, tt.ev.Name(), hit, matched, tt.want)
		}
	}
}
