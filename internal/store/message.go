package store

import (
	"context"
	"database/sql"
	"errors"
)

// Message is a stored message row.
type Message struct {
	SessionID string `json:"-"`
	ChatID    string `json:"chatId"`
	ID        string `json:"id"`
	Sender    string `json:"sender,omitempty"`
	PushName  string `json:"pushName,omitempty"`
	FromMe    bool   `json:"fromMe"`
	Type      string `json:"type,omitempty"`
	Content   string `json:"content,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Status    string `json:"status"`
	MediaType string `json:"mediaType,omitempty"`
	MediaPath string `json:"mediaPath,omitempty"`
	Raw       []byte `json:"-"`
}

// MessageStore handles message rows.
type MessageStore struct {
	store *Store
}

// Put upserts a message by (session, chat, id). Content columns keep their
// stored value when the new one is empty; status is written as given, the
// caller decides the merged status.
func (s *MessageStore) Put(ctx context.Context, q Querier, m *Message) error {
	now := unixNow()
	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_messages (
			session_id, chat_id, message_id, sender, push_name, from_me, message_type,
			content, caption, timestamp, status, media_type, media_path, raw, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id, message_id) DO UPDATE SET
			sender = COALESCE(excluded.sender, orion_messages.sender),
			push_name = COALESCE(excluded.push_name, orion_messages.push_name),
			message_type = COALESCE(excluded.message_type, orion_messages.message_type),
			content = COALESCE(excluded.content, orion_messages.content),
			caption = COALESCE(excluded.caption, orion_messages.caption),
			timestamp = COALESCE(excluded.timestamp, orion_messages.timestamp),
			status = excluded.status,
			media_type = COALESCE(excluded.media_type, orion_messages.media_type),
			media_path = COALESCE(excluded.media_path, orion_messages.media_path),
			raw = COALESCE(excluded.raw, orion_messages.raw),
			updated_at = excluded.updated_at
	`,
		m.SessionID, m.ChatID, m.ID, nullString(m.Sender), nullString(m.PushName), boolToInt(m.FromMe), nullString(m.Type),
		nullString(m.Content), nullString(m.Caption), nullInt64(m.Timestamp), m.Status, nullString(m.MediaType),
		nullString(m.MediaPath), m.Raw, now, now,
	)
	return err
}

// Get returns one message or ErrNotFound.
func (s *MessageStore) Get(ctx context.Context, q Querier, sessionID, chatID, id string) (*Message, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, chat_id, message_id, sender, push_name, from_me, message_type,
			content, caption, timestamp, status, media_type, media_path, raw
		FROM orion_messages WHERE session_id = ? AND chat_id = ? AND message_id = ?
	`, sessionID, chatID, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

// SetStatus patches only the status of an existing message.
func (s *MessageStore) SetStatus(ctx context.Context, q Querier, sessionID, chatID, id, status string) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orion_messages SET status = ?, updated_at = ?
		WHERE session_id = ? AND chat_id = ? AND message_id = ?
	`, status, unixNow(), sessionID, chatID, id)
	return err
}

// SetMediaPath records where a message's media was downloaded to.
func (s *MessageStore) SetMediaPath(ctx context.Context, sessionID, chatID, id, path string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE orion_messages SET media_path = ?, updated_at = ?
		WHERE session_id = ? AND chat_id = ? AND message_id = ?
	`, path, unixNow(), sessionID, chatID, id)
	return err
}

// MarkChatRead moves every unread inbound message of a chat to read and
// returns how many rows changed.
func (s *MessageStore) MarkChatRead(ctx context.Context, q Querier, sessionID, chatID string) (int64, error) {
	res, err := q.ExecContext(ctx, `
		UPDATE orion_messages SET status = 'read', updated_at = ?
		WHERE session_id = ? AND chat_id = ? AND from_me = 0 AND status NOT IN ('read', 'played')
	`, unixNow(), sessionID, chatID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnread counts inbound messages that are neither read nor played.
func (s *MessageStore) CountUnread(ctx context.Context, q Querier, sessionID, chatID string) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM orion_messages
		WHERE session_id = ? AND chat_id = ? AND from_me = 0 AND status NOT IN ('read', 'played')
	`, sessionID, chatID).Scan(&n)
	return n, err
}

// ListByChat returns the latest messages of a chat, newest first.
func (s *MessageStore) ListByChat(ctx context.Context, sessionID, chatID string, limit int) ([]*Message, error) {
	rows, err := s.store.Query(ctx, `
		SELECT session_id, chat_id, message_id, sender, push_name, from_me, message_type,
			content, caption, timestamp, status, media_type, media_path, raw
		FROM orion_messages WHERE session_id = ? AND chat_id = ?
		ORDER BY timestamp DESC, message_id
		LIMIT ?
	`, sessionID, chatID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Count returns the number of stored messages in a chat.
func (s *MessageStore) Count(ctx context.Context, sessionID, chatID string) (int, error) {
	var n int
	err := s.store.QueryRow(ctx, `
		SELECT COUNT(*) FROM orion_messages WHERE session_id = ? AND chat_id = ?
	`, sessionID, chatID).Scan(&n)
	return n, err
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	var sender, pushName, msgType, content, caption, mediaType, mediaPath sql.NullString
	var ts sql.NullInt64
	var fromMe int
	if err := row.Scan(&m.SessionID, &m.ChatID, &m.ID, &sender, &pushName, &fromMe, &msgType,
		&content, &caption, &ts, &m.Status, &mediaType, &mediaPath, &m.Raw); err != nil {
		return nil, err
	}
	m.Sender = sender.String
	m.PushName = pushName.String
	m.FromMe = fromMe == 1
	m.Type = msgType.String
	m.Content = content.String
	m.Caption = caption.String
	m.Timestamp = ts.Int64
	m.MediaType = mediaType.String
	m.MediaPath = mediaPath.String
	return &m, nil
}
