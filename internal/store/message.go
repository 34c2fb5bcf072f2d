package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const previewLen = 100

// UpsertMessage inserts or updates a message (idempotent on chat_jid + msg_id).
// The ack level never goes down.
func (db *DB) UpsertMessage(m *Message) error {
	_, err := db.Exec(upsertMessageSQL, messageArgs(m)...)
	return err
}

const upsertMessageSQL = `
	INSERT INTO messages (chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, ack, timestamp, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(chat_jid, msg_id) DO UPDATE SET
		sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE messages.sender_name END,
		body = excluded.body,
		ack = MAX(messages.ack, excluded.ack)`

func messageArgs(m *Message) []any {
	return []any{m.ChatJID, m.MsgID, m.SenderJID, m.SenderName, m.Body, m.MessageType, m.FromMe, m.Ack, m.Timestamp, time.Now().UnixMilli()}
}

// RecordMessage stores a live message and advances its chat: the chat row is
// created if needed, its preview follows the newest message and incoming
// messages bump the unread counter once. Reports whether the message was new.
func (db *DB) RecordMessage(m *Message) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM messages WHERE chat_jid = ? AND msg_id = ?`, m.ChatJID, m.MsgID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("lookup message: %w", err)
	}
	inserted := errors.Is(err, sql.ErrNoRows)

	if _, err := tx.Exec(upsertMessageSQL, messageArgs(m)...); err != nil {
		return false, fmt.Errorf("upsert message: %w", err)
	}

	unreadDelta := 0
	if inserted && !m.FromMe {
		unreadDelta = 1
	}
	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO chats (jid, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(jid) DO UPDATE SET
			unread_count = chats.unread_count + ?,
			last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
				THEN excluded.last_message_preview ELSE chats.last_message_preview END,
			last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		m.ChatJID, unreadDelta, m.Timestamp, truncate(m.Body, previewLen), now, unreadDelta); err != nil {
		return false, fmt.Errorf("advance chat: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// RecordHistory stores a batch of history messages in one transaction
// without touching unread counters.
func (db *DB) RecordHistory(msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO chats (jid, last_message_at, last_message_preview, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(jid) DO UPDATE SET
				last_message_preview = CASE WHEN excluded.last_message_at >= chats.last_message_at
					THEN excluded.last_message_preview ELSE chats.last_message_preview END,
				last_message_at = MAX(chats.last_message_at, excluded.last_message_at),
				updated_at = excluded.updated_at`,
			m.ChatJID, m.Timestamp, truncate(m.Body, previewLen), now); err != nil {
			return fmt.Errorf("upsert chat in batch: %w", err)
		}
		if _, err := tx.Exec(upsertMessageSQL, messageArgs(m)...); err != nil {
			return fmt.Errorf("upsert message in batch: %w", err)
		}
	}
	return tx.Commit()
}

// UpdateAck raises the ack level of a message. Reports whether anything changed;
// unknown messages and lower levels are ignored.
func (db *DB) UpdateAck(chatJID, msgID string, ack int) (bool, error) {
	res, err := db.Exec(`UPDATE messages SET ack = ? WHERE chat_jid = ? AND msg_id = ? AND ack < ?`, ack, chatJID, msgID, ack)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetMessage returns one message, or nil if it does not exist.
func (db *DB) GetMessage(chatJID, msgID string) (*Message, error) {
	var m Message
	err := db.QueryRow(`
		SELECT id, chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, ack, timestamp
		FROM messages WHERE chat_jid = ? AND msg_id = ?`, chatJID, msgID).
		Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Ack, &m.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessages returns messages for a chat using keyset pagination by timestamp, newest first.
func (db *DB) ListMessages(chatJID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT id, chat_jid, msg_id, sender_jid, sender_name, body, message_type, from_me, ack, timestamp
		FROM messages
		WHERE chat_jid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatJID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChatJID, &m.MsgID, &m.SenderJID, &m.SenderName, &m.Body, &m.MessageType, &m.FromMe, &m.Ack, &m.Timestamp); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
