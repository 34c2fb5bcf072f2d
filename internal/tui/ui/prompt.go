package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// PromptMode indicates the type of prompt.
type PromptMode int

const (
	PromptCommand PromptMode = iota
	PromptFilter
)

const maxHistory = 50

// Prompt is a command/filter input bar. In command mode Up and Down walk
// the command history and Tab completes the command name.
type Prompt struct {
	*tview.InputField
	mode        PromptMode
	history     []string
	pos         int
	completions []string
	onSubmit    func(mode PromptMode, text string)
	onCancel    func()
}

// NewPrompt creates a new prompt input bar.
func NewPrompt(theme *Theme) *Prompt {
	input := tview.NewInputField()
	input.SetBorder(true)
	input.SetBorderColor(theme.PromptBorderColor)
	input.SetBackgroundColor(theme.BgColor)
	input.SetFieldBackgroundColor(theme.BgColor)
	input.SetFieldTextColor(theme.FgColor)
	input.SetLabelColor(theme.MenuKeyColor)

	p := &Prompt{InputField: input}
	input.SetDoneFunc(p.done)
	input.SetInputCapture(func(ev *tcell.EventKey) *tcell.EventKey {
		if p.mode != PromptCommand {
			return ev
		}
		switch ev.Key() {
		case tcell.KeyUp:
			p.SetText(p.recall(-1))
		case tcell.KeyDown:
			p.SetText(p.recall(1))
		case tcell.KeyTab:
			p.SetText(p.complete(p.GetText()))
		default:
			return ev
		}
		return nil
	})
	return p
}

func (p *Prompt) done(key tcell.Key) {
	switch key {
	case tcell.KeyEnter:
		text := p.GetText()
		p.SetText("")
		if p.mode == PromptCommand {
			p.remember(text)
		}
		if p.onSubmit != nil {
			p.onSubmit(p.mode, text)
		}
	case tcell.KeyEscape:
		p.SetText("")
		if p.onCancel != nil {
			p.onCancel()
		}
	}
}

// SetOnSubmit sets the callback when the prompt is submitted. Filter
// prompts submit empty text to clear the filter.
func (p *Prompt) SetOnSubmit(fn func(mode PromptMode, text string)) {
	p.onSubmit = fn
}

// SetOnCancel sets the callback when the prompt is cancelled.
func (p *Prompt) SetOnCancel(fn func()) {
	p.onCancel = fn
}

// SetCompletions sets the command names Tab completes.
func (p *Prompt) SetCompletions(names []string) {
	p.completions = names
}

// Activate prepares the prompt for the given mode.
func (p *Prompt) Activate(mode PromptMode) {
	p.mode = mode
	p.pos = len(p.history)
	p.SetText("")
	switch mode {
	case PromptCommand:
		p.SetLabel(":")
		p.SetTitle(" Command ")
	case PromptFilter:
		p.SetLabel("/")
		p.SetTitle(" Filter ")
	}
}

func (p *Prompt) remember(text string) {
	text = strings.TrimSpace(text)
	if text == "" || (len(p.history) > 0 && p.history[len(p.history)-1] == text) {
		p.pos = len(p.history)
		return
	}
	p.history = append(p.history, text)
	if len(p.history) > maxHistory {
		p.history = p.history[len(p.history)-maxHistory:]
	}
	p.pos = len(p.history)
}

// recall moves through the history by step and returns the entry there.
// One step past the newest entry is the empty line.
func (p *Prompt) recall(step int) string {
	p.pos = max(0, min(len(p.history), p.pos+step))
	if p.pos == len(p.history) {
		return ""
	}
	return p.history[p.pos]
}

// complete extends the command name in text to the longest prefix shared
// by every matching completion. Arguments are left alone.
func (p *Prompt) complete(text string) string {
	if strings.Contains(text, " ") {
		return text
	}
	var matches []string
	for _, name := range p.completions {
		if strings.HasPrefix(name, text) {
			matches = append(matches, name)
		}
	}
	switch len(matches) {
	case 0:
		return text
	case 1:
		return matches[0] + " "
	}
	prefix := matches[0]
	for _, m := range matches[1:] {
		for !strings.HasPrefix(m, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
	}
	return prefix
}
