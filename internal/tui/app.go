package tui

import (
	"context"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/sync"
	"github.com/matheus3301/wppgw/internal/tui/keys"
	"github.com/matheus3301/wppgw/internal/tui/ui"
	"github.com/matheus3301/wppgw/internal/tui/views"
	"github.com/rivo/tview"
	"go.uber.org/zap"
)

// Page keys.
const (
	pageList    = "list"
	pageThread  = "thread"
	pageDetails = "details"
	pageQR      = "qr"
	pageHelp    = "help"
)

const (
	promptHeight = 3
	headerHeight = 5
)

// Options describes the session shown in the header.
type Options struct {
	Session   string
	Gateway   string
	Transport string
}

// App is the main TUI application shell. It renders engine snapshots and
// turns keys and commands into engine calls; all state lives in the engine.
type App struct {
	app      *tview.Application
	engine   *sync.Engine
	opts     Options
	logger   *zap.Logger
	theme    *ui.Theme
	registry *keys.Registry
	flash    *ui.FlashModel

	root      *tview.Flex
	pages     *ui.Pages
	prompt    *ui.Prompt
	crumbs    *ui.Crumbs
	menu      *ui.Menu
	info      *ui.GatewayInfo
	statusBar *views.StatusBar

	list    *views.ConversationList
	thread  *views.MessageThread
	details *views.ConversationInfo
	qr      *views.QRView
	help    *views.HelpView

	// Touched on the UI goroutine only.
	qrRequested bool
	qrDismissed bool
	shownQR     string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application on top of engine.
func NewApp(engine *sync.Engine, opts Options, logger *zap.Logger) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	theme := ui.DefaultTheme()

	a := &App{
		app:       tview.NewApplication(),
		engine:    engine,
		opts:      opts,
		logger:    logger,
		theme:     theme,
		registry:  keys.NewRegistry(),
		flash:     ui.NewFlashModel(),
		pages:     ui.NewPages(),
		prompt:    ui.NewPrompt(theme),
		crumbs:    ui.NewCrumbs(theme),
		menu:      ui.NewMenu(theme, headerHeight),
		info:      ui.NewGatewayInfo(theme),
		statusBar: views.NewStatusBar(theme),
		list:      views.NewConversationList(theme),
		thread:    views.NewMessageThread(theme),
		details:   views.NewConversationInfo(theme),
		qr:        views.NewQRView(theme),
		help:      views.NewHelpView(theme),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.setupLayout()
	a.setupBindings()
	a.setupCallbacks()
	a.pages.Reset(pageList)
	a.render()

	return a
}

func (a *App) setupLayout() {
	a.pages.Add(pageList, a.list, a.list)
	a.pages.Add(pageThread, a.thread, a.thread)
	a.pages.Add(pageDetails, a.details, a.details)
	a.pages.Add(pageQR, a.qr, a.qr)
	a.pages.Add(pageHelp, a.help, a.help)

	header := tview.NewFlex().
		AddItem(a.info, 0, 1, false).
		AddItem(a.menu, 0, 1, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, headerHeight, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)
	a.root.SetBackgroundColor(a.theme.BgColor)

	a.app.SetRoot(a.root, true)
}

func (a *App) setupBindings() {
	a.registry.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: ':', Description: "command",
		Handler: func() { a.showPrompt(ui.PromptCommand) }})
	a.registry.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '/', Description: "filter",
		Handler: func() { a.showPrompt(ui.PromptFilter) }})
	a.registry.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: '?', Description: "help",
		Handler: func() { a.push(pageHelp) }})
	a.registry.AddGlobal(&keys.Action{Key: tcell.KeyRune, Rune: 'q', Description: "quit",
		Handler: a.app.Stop})

	a.registry.AddPage(pageList, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "details",
		Handler: func() { a.showDetails(a.list.Selected()) }})
	for n := '1'; n <= '9'; n++ {
		idx := int(n - '0')
		a.registry.AddPage(pageList, &keys.Action{Key: tcell.KeyRune, Rune: n, Description: "jump",
			Handler: func() { a.openConversation(a.list.ByIndex(idx)) }})
	}

	a.registry.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'i', Description: "compose",
		Handler: func() { a.app.SetFocus(a.thread.Composer()) }})
	a.registry.AddPage(pageThread, &keys.Action{Key: tcell.KeyRune, Rune: 'd', Description: "details",
		Handler: func() { a.showDetails(a.thread.ConversationID()) }})
}

func (a *App) setupCallbacks() {
	a.pages.SetOnChange(func(top ui.Component, names []string) {
		a.crumbs.Update(names)
		if top != nil {
			a.menu.Update(top.Hints())
		}
	})

	a.list.SetSelectedFunc(func(row, _ int) {
		a.openConversation(a.list.ByIndex(row))
	})

	a.thread.SetOnSend(func(text string) {
		if _, err := a.engine.SendText(text); err != nil {
			a.flash.Err(err)
		}
		a.render()
	})

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		switch mode {
		case ui.PromptFilter:
			a.list.SetFilter(text)
			if a.pages.Current() != pageList {
				a.pages.Reset(pageList)
				a.focusTop()
			}
		case ui.PromptCommand:
			if text != "" {
				go a.runCommand(text)
			}
		}
	})
	a.prompt.SetOnCancel(a.hidePrompt)
	a.prompt.SetCompletions(commandNames)

	a.app.SetInputCapture(a.captureKey)
}

func (a *App) captureKey(ev *tcell.EventKey) *tcell.EventKey {
	focused := a.app.GetFocus()

	if ev.Key() == tcell.KeyEscape {
		switch focused {
		case a.prompt.InputField:
			return ev
		case a.thread.Composer():
			a.app.SetFocus(a.thread.Messages())
			return nil
		}
		if a.pages.Current() == pageQR {
			a.qrDismissed = true
		}
		if a.pages.Pop() {
			a.focusTop()
		}
		return nil
	}

	if _, ok := focused.(*tview.InputField); ok {
		return ev
	}
	if a.registry.HandleEvent(a.pages.Current(), ev) {
		return nil
	}
	return ev
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	if mode == ui.PromptFilter {
		a.prompt.SetText(a.list.Filter())
	}
	a.root.ResizeItem(a.prompt, promptHeight, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusTop()
}

func (a *App) push(page string) {
	a.pages.Push(page)
	a.focusTop()
}

func (a *App) focusTop() {
	switch a.pages.Current() {
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageDetails:
		a.app.SetFocus(a.details)
	case pageQR:
		a.app.SetFocus(a.qr)
	case pageHelp:
		a.app.SetFocus(a.help)
	default:
		a.app.SetFocus(a.list)
	}
}

// openConversation selects id in the engine and shows its thread.
func (a *App) openConversation(id string) {
	if id == "" {
		return
	}
	title := id
	if c, ok := a.list.Lookup(id); ok {
		title = c.Title
	}
	a.engine.SelectConversation(id)
	a.thread.SetConversation(id, title)
	a.thread.Update(a.engine.Messages(id))
	if a.pages.Current() != pageList {
		a.pages.Reset(pageList)
	}
	a.push(pageThread)
}

func (a *App) showDetails(id string) {
	c, ok := a.list.Lookup(id)
	if !ok {
		return
	}
	a.details.Update(c, a.engine.Messages(id))
	a.push(pageDetails)
}

// render copies the current engine snapshot into the views. It runs on the
// UI goroutine.
func (a *App) render() {
	st := a.engine.Snapshot()

	a.list.Update(st.Conversations)

	unread := 0
	for _, c := range st.Conversations {
		unread += c.Unread()
	}
	a.info.Update(ui.GatewayData{
		Session:       a.opts.Session,
		Gateway:       a.opts.Gateway,
		Transport:     a.opts.Transport,
		Status:        st.Status,
		StreamOpen:    st.StreamOpen,
		Conversations: len(st.Conversations),
		Unread:        unread,
	})
	a.statusBar.SetState(st.Status, st.StreamOpen)
	a.statusBar.SetFlash(a.flash.Current())

	a.renderQR(st)

	if id := a.thread.ConversationID(); id != "" {
		if c, ok := a.list.Lookup(id); ok && c.Title != a.thread.Name() {
			a.thread.SetConversation(id, c.Title)
			a.pages.Notify()
		}
		a.thread.Update(a.engine.Messages(id))
	}
	if st.Selected == "" && a.thread.ConversationID() != "" {
		// The engine dropped the selection, e.g. after a disconnect.
		a.thread.SetConversation("", "")
		a.thread.Update(nil)
		if a.pages.Current() == pageThread || a.pages.Current() == pageDetails {
			a.pages.Reset(pageList)
			a.focusTop()
		}
	}
}

// renderQR shows the pairing page while the instance waits for a scan and
// requests a code once when the gateway has not produced one yet.
func (a *App) renderQR(st sync.State) {
	if st.Status != chat.QR {
		a.qrRequested = false
		a.qrDismissed = false
		a.shownQR = ""
		if a.pages.Current() == pageQR {
			a.pages.Pop()
			a.focusTop()
			if st.Status == chat.Connected {
				a.flash.Info("Device paired")
			}
		}
		return
	}

	switch {
	case st.QRCodeImageURL != nil:
		if *st.QRCodeImageURL != a.shownQR {
			a.shownQR = *st.QRCodeImageURL
			a.qr.ShowImage(a.shownQR)
		}
	case !a.qrRequested && !a.engine.Inert():
		a.qrRequested = true
		a.qr.ShowMessage("Requesting a pairing code...")
		go func() {
			a.engine.RequestQR(a.ctx)
		}()
	case a.shownQR == "":
		a.qr.ShowMessage("No pairing code yet. Run :qr to request one.")
	}

	if !a.qrDismissed && a.pages.Current() != pageQR {
		a.push(pageQR)
	}
}

// showQR brings the pairing page back after it was dismissed.
func (a *App) showQR() {
	a.qrDismissed = false
	a.push(pageQR)
}

// runCommand executes a ':' command off the UI goroutine and queues its UI
// follow-up.
func (a *App) runCommand(line string) {
	cmd := ParseCommand(line)
	action, err := a.execute(cmd)
	if err != nil {
		a.flash.Err(err)
		a.logger.Warn("command failed", zap.String("command", cmd.Name), zap.Error(err))
	}
	a.app.QueueUpdateDraw(func() {
		if action != nil {
			action()
		}
		a.render()
	})
}

// watch redraws on every engine change, and once a second for the clock
// and flash expiry.
func (a *App) watch() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.engine.Changes():
		case <-ticker.C:
		}
		a.app.QueueUpdateDraw(a.render)
	}
}

// Run starts the engine and blocks until the TUI exits.
func (a *App) Run() error {
	a.engine.Start(a.ctx)
	go a.watch()
	defer a.Stop()
	return a.app.Run()
}

// Stop gracefully shuts down the TUI and the engine.
func (a *App) Stop() {
	a.cancel()
	a.engine.Stop()
	a.app.Stop()
}
