package ui

import "github.com/rivo/tview"

// Component is a page the app can push onto the stack.
type Component interface {
	// Name is shown in the breadcrumbs.
	Name() string
	Hints() []MenuHint
}

// Pages is a stack of components on top of tview.Pages. Every component is
// registered once under a fixed key; Push and Pop only change visibility.
type Pages struct {
	*tview.Pages
	components map[string]Component
	stack      []string
	onChange   func(top Component, names []string)
}

// NewPages creates an empty page stack.
func NewPages() *Pages {
	return &Pages{
		Pages:      tview.NewPages(),
		components: make(map[string]Component),
	}
}

// SetOnChange sets a callback that fires when the stack changes. names are
// the components' display names, bottom first.
func (p *Pages) SetOnChange(fn func(top Component, names []string)) {
	p.onChange = fn
}

// Add registers a component and its primitive under key, hidden.
func (p *Pages) Add(key string, c Component, prim tview.Primitive) {
	p.components[key] = c
	p.AddPage(key, prim, true, false)
}

// Push shows key on top of the stack. Pushing the current top only
// refreshes the breadcrumbs.
func (p *Pages) Push(key string) {
	if top := p.Current(); top != "" && top != key {
		p.HidePage(top)
		p.stack = append(p.stack, key)
	} else if top == "" {
		p.stack = append(p.stack, key)
	}
	p.show(key)
}

// Pop removes the top page unless it is the root. It reports whether
// anything was popped.
func (p *Pages) Pop() bool {
	if len(p.stack) <= 1 {
		return false
	}
	p.HidePage(p.stack[len(p.stack)-1])
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.stack[len(p.stack)-1])
	return true
}

// Reset clears the stack and shows key as its only page.
func (p *Pages) Reset(key string) {
	for _, k := range p.stack {
		p.HidePage(k)
	}
	p.stack = []string{key}
	p.show(key)
}

// Current returns the key of the top page, or "".
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// Notify re-runs the change callback, e.g. after a component renamed itself.
func (p *Pages) Notify() {
	if top := p.Current(); top != "" {
		p.notify(top)
	}
}

func (p *Pages) show(key string) {
	p.ShowPage(key)
	p.SendToFront(key)
	p.notify(key)
}

func (p *Pages) notify(key string) {
	if p.onChange == nil {
		return
	}
	names := make([]string, len(p.stack))
	for i, k := range p.stack {
		names[i] = k
		if c, ok := p.components[k]; ok {
			names[i] = c.Name()
		}
	}
	p.onChange(p.components[key], names)
}
