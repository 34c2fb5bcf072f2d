// Package sync keeps a local replica of the gateway's connection status,
// conversations and messages. Stream events, poll results and optimistic
// sends all funnel through one serialized apply path, so the merge rules
// are the single source of truth regardless of where an update came from.
package sync

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/wppgw/internal/chat"
	"github.com/matheus3301/wppgw/internal/config"
	"go.uber.org/zap"
)

var (
	ErrNoConversation = errors.New("no conversation selected")
	ErrEmptyText      = errors.New("message text is empty")
)

// Options tunes the engine. Zero values take defaults.
type Options struct {
	StatusPollInterval  time.Duration
	MessagePollInterval time.Duration
	// ReconnectDelay > 0 re-dials a dropped stream after the delay.
	ReconnectDelay time.Duration
	RequestTimeout time.Duration
	DedupeWindow   time.Duration
	MessageLimit   int
}

// OptionsFromConfig maps the [client] config section.
func OptionsFromConfig(c config.Client) Options {
	return Options{
		StatusPollInterval:  c.StatusPollInterval.Std(),
		MessagePollInterval: c.MessagePollInterval.Std(),
		ReconnectDelay:      c.ReconnectDelay.Std(),
		RequestTimeout:      c.RequestTimeout.Std(),
		DedupeWindow:        c.DedupeWindow.Std(),
	}
}

func (o Options) withDefaults() Options {
	if o.StatusPollInterval <= 0 {
		o.StatusPollInterval = 5 * time.Second
	}
	if o.MessagePollInterval <= 0 {
		o.MessagePollInterval = 3 * time.Second
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 10 * time.Second
	}
	if o.MessageLimit <= 0 {
		o.MessageLimit = 50
	}
	return o
}

// State is a read-only snapshot of the replica.
type State struct {
	Status         chat.ConnectionStatus
	QRCodeImageURL *string
	Conversations  []chat.Conversation
	Selected       string
	StreamOpen     bool
}

// Engine owns the replica. The UI reads snapshots and issues commands; it
// never mutates state directly.
type Engine struct {
	api    GatewayAPI
	opts   Options
	logger *zap.Logger

	mu      sync.RWMutex
	replica *replica
	changes chan struct{}

	streamOpen atomic.Bool

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	runMu     sync.Mutex
	stopped   bool
	pollMu    sync.Mutex
	stopPoll  context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEngine creates an engine. A nil api leaves the engine inert: commands
// only touch local state and nothing goes over the network.
func NewEngine(api GatewayAPI, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		api:     api,
		opts:    opts,
		logger:  logger,
		replica: newReplica(opts.DedupeWindow),
		changes: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Inert reports whether the engine runs without a gateway.
func (e *Engine) Inert() bool {
	return e.api == nil
}

// Start fetches the initial snapshot, opens the stream and starts the
// status poller.
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		if e.Inert() {
			e.logger.Info("no gateway configured, running local-only")
			return
		}
		if ctx != nil {
			stop := context.AfterFunc(ctx, e.cancel)
			e.goRun(func() {
				<-e.ctx.Done()
				stop()
			})
		}
		e.goRun(func() { e.refresh(e.ctx) })
		e.goRun(e.runStream)
		e.goRun(func() { e.runPoller(e.pollStatusOnce) })
		e.goRun(func() { e.runPoller(e.pollConversationsOnce) })
	})
}

// Stop closes the stream, cancels pollers and waits for in-flight work.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.runMu.Lock()
		e.stopped = true
		e.runMu.Unlock()

		e.cancel()
		e.pollMu.Lock()
		if e.stopPoll != nil {
			e.stopPoll()
			e.stopPoll = nil
		}
		e.pollMu.Unlock()
		e.wg.Wait()
	})
}

// goRun starts fn as tracked background work. After Stop it does nothing
// and returns false.
func (e *Engine) goRun(fn func()) bool {
	e.runMu.Lock()
	defer e.runMu.Unlock()
	if e.stopped {
		return false
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn()
	}()
	return true
}

// Changes signals after every state change. Signals coalesce; read the
// state again on each one.
func (e *Engine) Changes() <-chan struct{} {
	return e.changes
}

// apply runs fn against the replica under the write lock. Every mutation
// goes through here.
func (e *Engine) apply(fn func(r *replica) bool) bool {
	e.mu.Lock()
	changed := fn(e.replica)
	e.mu.Unlock()
	if changed {
		e.notify()
	}
	return changed
}

func (e *Engine) notify() {
	select {
	case e.changes <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of status, conversations and selection.
func (e *Engine) Snapshot() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r := e.replica
	return State{
		Status:         r.status,
		QRCodeImageURL: r.qr,
		Conversations:  slices.Clone(r.convs),
		Selected:       r.selected,
		StreamOpen:     e.streamOpen.Load(),
	}
}

// Messages returns a copy of one conversation's messages, oldest first.
func (e *Engine) Messages(conversationID string) []chat.Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.replica.messages[conversationID])
}

// StreamConnected reports whether the push stream is currently open.
func (e *Engine) StreamConnected() bool {
	return e.streamOpen.Load()
}

// ApplyGatewayEvent merges one canonical event.
func (e *Engine) ApplyGatewayEvent(evt chat.Event) {
	e.apply(func(r *replica) bool {
		switch evt.Type {
		case chat.EventConnectionStatus:
			return r.setStatus(evt.Status, evt.QRCodeImageURL)
		case chat.EventConversationsSnapshot:
			return r.applyConversations(evt.Conversations)
		case chat.EventConversationUpsert:
			if evt.Conversation == nil {
				return false
			}
			return r.upsertConversation(*evt.Conversation)
		case chat.EventMessagesSnapshot:
			return r.applyMessages(evt.ConversationID, evt.Messages)
		case chat.EventMessageNew:
			if evt.Message == nil {
				return false
			}
			changed := r.upsertMessage(*evt.Message)
			if r.touchConversation(*evt.Message) {
				changed = true
			}
			return changed
		case chat.EventMessageStatus:
			return r.setMessageStatus(evt.ConversationID, evt.MessageID, evt.MessageStatus)
		}
		return false
	})
}

// ApplyRaw decodes and merges one stream payload. Malformed payloads are
// dropped.
func (e *Engine) ApplyRaw(data []byte) {
	evt, err := chat.DecodeEvent(data)
	if err != nil {
		e.logger.Debug("dropping stream event", zap.Error(err))
		return
	}
	e.ApplyGatewayEvent(evt)
}

// SelectConversation makes id the active conversation and moves the
// message poller to it.
func (e *Engine) SelectConversation(id string) {
	e.apply(func(r *replica) bool {
		if r.selected == id {
			return false
		}
		r.selected = id
		return true
	})

	e.pollMu.Lock()
	defer e.pollMu.Unlock()
	if e.stopPoll != nil {
		e.stopPoll()
		e.stopPoll = nil
	}
	if e.Inert() || id == "" {
		return
	}
	ctx, cancel := context.WithCancel(e.ctx)
	started := e.goRun(func() {
		e.fetchMessages(e.ctx, id)
		e.runMessagePoller(ctx, id)
	})
	if !started {
		cancel()
		return
	}
	e.stopPoll = cancel
}

// SendText inserts an optimistic message into the selected conversation and
// sends it in the background. The entry turns delivered once the gateway
// accepts it and stays sent otherwise.
func (e *Engine) SendText(text string) (chat.Message, error) {
	if strings.TrimSpace(text) == "" {
		return chat.Message{}, ErrEmptyText
	}

	var msg chat.Message
	ok := false
	e.apply(func(r *replica) bool {
		if r.selected == "" {
			return false
		}
		msg = chat.Message{
			ID:             newTempID(),
			ConversationID: r.selected,
			Author:         chat.AuthorAgent,
			Text:           text,
			CreatedAt:      time.Now().UTC(),
			Status:         chat.StatusSent,
		}
		ok = true
		r.upsertMessage(msg)
		r.touchConversation(msg)
		return true
	})
	if !ok {
		return chat.Message{}, ErrNoConversation
	}
	if e.Inert() {
		return msg, nil
	}

	e.goRun(func() {
		ctx, cancel := context.WithTimeout(e.ctx, e.opts.RequestTimeout)
		defer cancel()
		if err := e.api.SendText(ctx, msg.ConversationID, text); err != nil {
			e.logger.Warn("send failed, message stays unconfirmed",
				zap.String("conversation", msg.ConversationID),
				zap.String("temp_id", msg.ID),
				zap.Error(err))
			return
		}
		e.apply(func(r *replica) bool {
			return r.setMessageStatus(msg.ConversationID, msg.ID, chat.StatusDelivered)
		})
	})
	return msg, nil
}

func newTempID() string {
	return TempIDPrefix + strconv.FormatInt(time.Now().UnixNano(), 10) + "-" + uuid.NewString()[:8]
}

// RequestQR starts pairing. A failed request still moves to qr, without an
// image, so the caller can retry.
func (e *Engine) RequestQR(ctx context.Context) chat.QRPayload {
	payload := chat.QRPayload{Status: chat.QR}
	if !e.Inert() {
		ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
		resp, err := e.api.RequestQR(ctx)
		if err != nil {
			e.logger.Warn("qr request failed", zap.Error(err))
		} else {
			payload.QRCodeImageURL = resp.QRCodeImageURL
		}
	}
	e.apply(func(r *replica) bool { return r.setStatus(payload.Status, payload.QRCodeImageURL) })
	return payload
}

// Disconnect logs the instance out and clears the replica.
func (e *Engine) Disconnect(ctx context.Context) {
	if !e.Inert() {
		ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
		defer cancel()
		if err := e.api.Disconnect(ctx); err != nil {
			e.logger.Warn("disconnect failed", zap.Error(err))
		}
	}

	e.pollMu.Lock()
	if e.stopPoll != nil {
		e.stopPoll()
		e.stopPoll = nil
	}
	e.pollMu.Unlock()

	e.apply(func(r *replica) bool {
		r.reset()
		return true
	})
}

// Refresh fetches status, conversations and the selected conversation's
// messages, whether or not the stream is open.
func (e *Engine) Refresh(ctx context.Context) {
	if e.Inert() {
		return
	}
	e.refresh(ctx)
	if id := e.Snapshot().Selected; id != "" {
		e.fetchMessages(ctx, id)
	}
}

func (e *Engine) refresh(ctx context.Context) {
	e.fetchStatus(ctx)
	e.fetchConversations(ctx)
}

// fetchStatus reads the connection status; a failed read is disconnected.
func (e *Engine) fetchStatus(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	st, err := e.api.Status(ctx)
	if err != nil {
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Debug("status read failed", zap.Error(err))
		st = chat.Disconnected
	}
	e.apply(func(r *replica) bool {
		// A status read carries no image; keep the current one while pairing.
		qr := r.qr
		return r.setStatus(st, qr)
	})
}

func (e *Engine) fetchConversations(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	convs, err := e.api.Conversations(ctx)
	if err != nil {
		e.logger.Debug("conversations read failed", zap.Error(err))
		return
	}
	e.apply(func(r *replica) bool { return r.applyConversations(convs) })
}

// fetchMessages binds the response to id, the conversation it was requested
// for, even if the selection changed while the request was in flight.
func (e *Engine) fetchMessages(ctx context.Context, id string) {
	reqCtx, cancel := context.WithTimeout(ctx, e.opts.RequestTimeout)
	defer cancel()
	msgs, err := e.api.Messages(reqCtx, id, e.opts.MessageLimit)
	if err != nil {
		e.logger.Debug("messages read failed", zap.String("conversation", id), zap.Error(err))
		return
	}
	e.apply(func(r *replica) bool { return r.applyMessages(id, msgs) })
}

// pollStatusOnce is one status tick. Each tick returns how many gateway
// calls it made: none while the stream is open, one otherwise.
func (e *Engine) pollStatusOnce(ctx context.Context) int {
	if e.streamOpen.Load() {
		return 0
	}
	e.fetchStatus(ctx)
	return 1
}

// pollConversationsOnce is one conversation list tick.
func (e *Engine) pollConversationsOnce(ctx context.Context) int {
	if e.streamOpen.Load() {
		return 0
	}
	e.fetchConversations(ctx)
	return 1
}

// pollMessagesOnce is one message tick for id.
func (e *Engine) pollMessagesOnce(ctx context.Context, id string) int {
	if e.streamOpen.Load() {
		return 0
	}
	e.fetchMessages(ctx, id)
	return 1
}

// runPoller drives a status or conversation tick on StatusPollInterval.
func (e *Engine) runPoller(tick func(context.Context) int) {
	ticker := time.NewTicker(e.opts.StatusPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			tick(e.ctx)
		}
	}
}

func (e *Engine) runMessagePoller(ctx context.Context, id string) {
	ticker := time.NewTicker(e.opts.MessagePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Requests outlive a selection change; their results still
			// land in id's list.
			e.pollMessagesOnce(e.ctx, id)
		}
	}
}

// runStream holds the push stream open. Without a reconnect delay a dropped
// stream stays down and the pollers take over.
func (e *Engine) runStream() {
	first := true
	for {
		err := e.api.Stream(e.ctx, func() {
			e.streamOpen.Store(true)
			e.notify()
			e.logger.Info("event stream open")
			if !first {
				// Catch up on whatever the stream missed while down.
				e.goRun(func() { e.Refresh(e.ctx) })
			}
			first = false
		}, e.ApplyRaw)
		if e.streamOpen.Swap(false) {
			e.notify()
		}
		if e.ctx.Err() != nil {
			return
		}
		e.logger.Warn("event stream down, polling", zap.Error(err))

		if e.opts.ReconnectDelay <= 0 {
			return
		}
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(e.opts.ReconnectDelay):
		}
	}
}
