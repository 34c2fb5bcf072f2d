package ui

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/rivo/tview"
)

type page struct{ name string }

func (p *page) Name() string { return p.name }
func (p *page) Hints() []MenuHint { return nil }

func TestPagesStack(t *testing.T) {
	p := NewPages()
	list, thread := &page{"Conversations"}, &page{"Ana"}
	p.Add("list", list, tview.NewBox())
	p.Add("thread", thread, tview.NewBox())

	var top Component
	var names []string
	p.SetOnChange(func(c Component, n []string) { top, names = c, n })

	p.Reset("list")
	if p.Current() != "list" || top != list {
		t.Fatalf("after Reset: current=%q top=%v", p.Current(), top)
	}

	p.Push("thread")
	p.Push("thread")
	if !slices.Equal(names, []string{"Conversations", "Ana"}) {
		t.Errorf("names = %v", names)
	}

	thread.name = "Bruno"
	p.Notify()
	if !slices.Equal(names, []string{"Conversations", "Bruno"}) {
		t.Errorf("names after rename = %v", names)
	}

	if !p.Pop() || p.Current() != "list" {
		t.Errorf("Pop: current = %q", p.Current())
	}
	if p.Pop() {
		t.Error("root page popped")
	}
	if name, _ := p.GetFrontPage(); name != "list" {
		t.Errorf("front page = %q", name)
	}
}

func TestFlashModelExpiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFlashModel()
	f.now = func() time.Time { return now }

	if f.Current() != nil {
		t.Fatal("empty model has a message")
	}

	f.Err(errors.New("send failed"))
	m := f.Current()
	if m == nil || m.Level != FlashErr || m.Text != "send failed" {
		t.Fatalf("Current = %+v", m)
	}

	now = now.Add(11 * time.Second)
	if f.Current() != nil {
		t.Error("message did not expire")
	}

	f.Info("saved")
	if m := f.Current(); m == nil || m.Level != FlashInfo {
		t.Errorf("Current = %+v", m)
	}
}

func TestCrumbsRender(t *testing.T) {
	c := NewCrumbs(DefaultTheme())
	got := c.render([]string{"Conversations", "Ana [work]"})
	if strings.Count(got, " > ") != 1 {
		t.Errorf("render = %q", got)
	}
	if !strings.Contains(got, "Ana [work[]") {
		t.Errorf("name not escaped: %q", got)
	}
	if !strings.Contains(got, ":b] Ana") {
		t.Errorf("last crumb not active: %q", got)
	}
}

func TestGatewayInfoRender(t *testing.T) {
	gi := NewGatewayInfo(DefaultTheme())

	got := gi.render(GatewayData{
		Session:       "default",
		Gateway:       "http://127.0.0.1:8080",
		Transport:     "sse",
		Status:        chat.Connected,
		StreamOpen:    true,
		Conversations: 3,
		Unread:        2,
	})
	for _, want := range []string{"default", "http://127.0.0.1:8080", "connected", "live (sse)", "(2 unread)"} {
		if !strings.Contains(got, want) {
			t.Errorf("render missing %q: %q", want, got)
		}
	}

	got = gi.render(GatewayData{Status: chat.Disconnected})
	if !strings.Contains(got, "local only") || !strings.Contains(got, "polling") {
		t.Errorf("render = %q", got)
	}
}

func TestStatusColor(t *testing.T) {
	th := DefaultTheme()
	tests := []struct {
		status chat.ConnectionStatus
		want   string
	}{
		{chat.Connected, Tag(th.ConnectedColor)},
		{chat.QR, Tag(th.QRColor)},
		{chat.Connecting, Tag(th.ConnectingColor)},
		{chat.Disconnected, Tag(th.DisconnectedColor)},
		{"", Tag(th.DisconnectedColor)},
	}
	for _, tt := range tests {
		if got := Tag(th.StatusColor(tt.status)); got != tt.want {
			t.Errorf("StatusColor(%q) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestPromptHistory(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	var submitted []string
	p.SetOnSubmit(func(mode PromptMode, text string) {
		submitted = append(submitted, text)
	})

	p.Activate(PromptCommand)
	for _, cmd := range []string{"qr", "refresh", "refresh", ""} {
		p.SetText(cmd)
		p.done(tcell.KeyEnter)
	}
	p.Activate(PromptFilter)
	p.SetText("ana")
	p.done(tcell.KeyEnter)

	if !slices.Equal(submitted, []string{"qr", "refresh", "refresh", "", "ana"}) {
		t.Errorf("submitted = %q", submitted)
	}
	if !slices.Equal(p.history, []string{"qr", "refresh"}) {
		t.Fatalf("history = %q", p.history)
	}

	p.Activate(PromptCommand)
	steps := []struct {
		step int
		want string
	}{
		{-1, "refresh"},
		{-1, "qr"},
		{-1, "qr"},
		{1, "refresh"},
		{1, ""},
		{1, ""},
	}
	for i, s := range steps {
		if got := p.recall(s.step); got != s.want {
			t.Errorf("step %d: recall(%d) = %q, want %q", i, s.step, got, s.want)
		}
	}
}

func TestPromptComplete(t *testing.T) {
	p := NewPrompt(DefaultTheme())
	p.SetCompletions([]string{"disconnect", "help", "open", "qr", "quit", "refresh"})
	tests := map[string]string{
		"q":        "q",
		"qu":       "quit ",
		"d":        "disconnect ",
		"x":        "x",
		"open ana": "open ana",
	}
	for in, want := range tests {
		if got := p.complete(in); got != want {
			t.Errorf("complete(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMenuColumns(t *testing.T) {
	th := DefaultTheme()
	m := NewMenu(th, 2)
	got := m.render([]MenuHint{
		{Key: ":", Description: "command"},
		{Key: "/", Description: "filter"},
		{Key: "?", Description: "help"},
	})
	k := "[" + Tag(th.MenuKeyColor) + "::b]"
	want := k + "<:>[-:-:-] command   " + k + "<?>[-:-:-] help\n" +
		k + "</>[-:-:-] filter\n"
	if got != want {
		t.Errorf("render =\n%q\nwant\n%q", got, want)
	}

	if got := m.render(nil); got != "" {
		t.Errorf("render(nil) = %q", got)
	}
}
