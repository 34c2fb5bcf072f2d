package sync

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/matheus3301/wppgw/internal/chat"
)

// TempIDPrefix marks message ids generated locally for optimistic sends.
const TempIDPrefix = "tmp-"

// IsTempID reports whether id belongs to an optimistic entry.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// replica is the engine's local copy of gateway state. Every method mutates
// in place and reports whether anything changed; callers serialize access.
type replica struct {
	status   chat.ConnectionStatus
	qr       *string
	convs    []chat.Conversation
	messages map[string][]chat.Message
	selected string

	// dedupeWindow bounds how far apart an optimistic entry and the vendor's
	// copy of it may be; zero disables absorption.
	dedupeWindow time.Duration
}

func newReplica(dedupeWindow time.Duration) *replica {
	return &replica{
		status:       chat.Disconnected,
		messages:     make(map[string][]chat.Message),
		dedupeWindow: dedupeWindow,
	}
}

func (r *replica) reset() {
	r.status = chat.Disconnected
	r.qr = nil
	r.convs = nil
	r.messages = make(map[string][]chat.Message)
	r.selected = ""
}

func (r *replica) setStatus(s chat.ConnectionStatus, qr *string) bool {
	if !s.Valid() {
		s = chat.Disconnected
	}
	if s != chat.QR {
		qr = nil
	}
	if r.status == s && equalPtr(r.qr, qr) {
		return false
	}
	r.status = s
	r.qr = qr
	return true
}

func (r *replica) conversationIndex(id string) int {
	return slices.IndexFunc(r.convs, func(c chat.Conversation) bool { return c.ID == id })
}

// upsertConversation merges c by id. Unseen ids are prepended; known ones are
// merged field by field with incoming values winning when present. A title
// equal to the id is the mapper's fallback and never replaces a real one. A
// timed preview only moves forward in time.
func (r *replica) upsertConversation(c chat.Conversation) bool {
	if c.ID == "" {
		return false
	}
	i := r.conversationIndex(c.ID)
	if i < 0 {
		if c.Title == "" {
			c.Title = c.ID
		}
		c.UnreadCount = chat.Count(max(0, c.Unread()))
		r.convs = append([]chat.Conversation{c}, r.convs...)
		return true
	}

	cur := r.convs[i]
	next := cur
	if c.Title != "" && (c.Title != c.ID || cur.Title == "") {
		next.Title = c.Title
	}
	if c.AvatarURL != "" {
		next.AvatarURL = c.AvatarURL
	}
	if c.UnreadCount != nil {
		next.UnreadCount = chat.Count(max(0, *c.UnreadCount))
	}
	mergePreview(&next, c.LastMessagePreview, c.LastMessageAt)

	if conversationEqual(cur, next) {
		return false
	}
	r.convs[i] = next
	return true
}

// applyConversations merges a snapshot. It runs back to front so that a
// snapshot into an empty replica keeps the gateway's order.
func (r *replica) applyConversations(convs []chat.Conversation) bool {
	changed := false
	for i := len(convs) - 1; i >= 0; i-- {
		if r.upsertConversation(convs[i]) {
			changed = true
		}
	}
	return changed
}

func mergePreview(c *chat.Conversation, preview string, at *time.Time) {
	switch {
	case at != nil:
		if c.LastMessageAt != nil && at.Before(*c.LastMessageAt) {
			return
		}
		t := *at
		c.LastMessageAt = &t
		if preview != "" {
			c.LastMessagePreview = preview
		}
	case preview != "":
		c.LastMessagePreview = preview
	}
}

// touchConversation moves the conversation preview to m, creating the
// conversation when it is not known yet.
func (r *replica) touchConversation(m chat.Message) bool {
	at := m.CreatedAt
	var atPtr *time.Time
	if !at.IsZero() {
		atPtr = &at
	}
	i := r.conversationIndex(m.ConversationID)
	if i < 0 {
		return r.upsertConversation(chat.Conversation{
			ID:                 m.ConversationID,
			LastMessagePreview: m.Text,
			LastMessageAt:      atPtr,
		})
	}
	cur := r.convs[i]
	next := cur
	mergePreview(&next, m.Text, atPtr)
	if conversationEqual(cur, next) {
		return false
	}
	r.convs[i] = next
	return true
}

// upsertMessage merges m into its conversation by id and keeps the list
// sorted by createdAt. Status never regresses.
func (r *replica) upsertMessage(m chat.Message) bool {
	if m.ID == "" || m.ConversationID == "" {
		return false
	}
	list := r.messages[m.ConversationID]

	i := slices.IndexFunc(list, func(x chat.Message) bool { return x.ID == m.ID })
	if i >= 0 {
		cur := list[i]
		next := mergeMessage(cur, m)
		if messageEqual(cur, next) {
			return false
		}
		list[i] = next
		if !next.CreatedAt.Equal(cur.CreatedAt) {
			sortMessages(list)
		}
		return true
	}

	if !IsTempID(m.ID) {
		if j := r.findOptimistic(list, m); j >= 0 {
			m.Status = chat.MaxStatus(list[j].Status, m.Status)
			list = slices.Delete(list, j, j+1)
		}
	}
	list = append(list, m)
	sortMessages(list)
	r.messages[m.ConversationID] = list
	return true
}

// findOptimistic returns the index of the unconfirmed optimistic entry that
// m is the vendor's copy of, or -1.
func (r *replica) findOptimistic(list []chat.Message, m chat.Message) int {
	if r.dedupeWindow <= 0 || m.Author != chat.AuthorAgent {
		return -1
	}
	for j, x := range list {
		if !IsTempID(x.ID) || x.Author != chat.AuthorAgent || x.Text != m.Text {
			continue
		}
		d := m.CreatedAt.Sub(x.CreatedAt)
		if d < 0 {
			d = -d
		}
		if d <= r.dedupeWindow {
			return j
		}
	}
	return -1
}

func mergeMessage(cur, in chat.Message) chat.Message {
	next := cur
	if in.Author != "" {
		next.Author = in.Author
	}
	if in.Text != "" {
		next.Text = in.Text
	}
	if !in.CreatedAt.IsZero() {
		next.CreatedAt = in.CreatedAt
	}
	if in.AgentName != "" {
		next.AgentName = in.AgentName
	}
	next.Status = chat.MaxStatus(cur.Status, in.Status)
	return next
}

// applyMessages merges a per-conversation snapshot. Records are bound to
// conversationID, the id the snapshot was requested for.
func (r *replica) applyMessages(conversationID string, msgs []chat.Message) bool {
	changed := false
	var newest *chat.Message
	for i := range msgs {
		m := msgs[i]
		if conversationID != "" {
			m.ConversationID = conversationID
		}
		if r.upsertMessage(m) {
			changed = true
		}
		if newest == nil || !m.CreatedAt.Before(newest.CreatedAt) {
			newest = &m
		}
	}
	if newest != nil && r.touchConversation(*newest) {
		changed = true
	}
	return changed
}

// setMessageStatus upgrades the status of a known message. Unknown messages
// are ignored; they may not have synchronized yet.
func (r *replica) setMessageStatus(conversationID, messageID string, s chat.MessageStatus) bool {
	list := r.messages[conversationID]
	i := slices.IndexFunc(list, func(x chat.Message) bool { return x.ID == messageID })
	if i < 0 {
		return false
	}
	next := chat.MaxStatus(list[i].Status, s)
	if next == list[i].Status {
		return false
	}
	list[i].Status = next
	return true
}

func sortMessages(list []chat.Message) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func conversationEqual(a, b chat.Conversation) bool {
	return a.ID == b.ID &&
		a.Title == b.Title &&
		a.AvatarURL == b.AvatarURL &&
		a.LastMessagePreview == b.LastMessagePreview &&
		a.Unread() == b.Unread() &&
		equalTime(a.LastMessageAt, b.LastMessageAt)
}

func messageEqual(a, b chat.Message) bool {
	return a.ID == b.ID &&
		a.ConversationID == b.ConversationID &&
		a.Author == b.Author &&
		a.Text == b.Text &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.Status == b.Status &&
		a.AgentName == b.AgentName
}

func equalTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
