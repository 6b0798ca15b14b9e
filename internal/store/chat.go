package store

import (
	"context"
	"database/sql"
	"errors"
)

// Chat is the overview row of a conversation.
type Chat struct {
	SessionID     string
	ID            string
	Name          string
	IsGroup       bool
	Archived      bool
	Pinned        bool
	MutedUntil    int64
	UnreadCount   int
	LastMessageAt int64
}

// ChatPatch carries the fields of a chat event. nil fields keep the stored value.
// Unread counts are never taken from events; they are derived from messages.
type ChatPatch struct {
	ID            string  `json:"id"`
	Name          *string `json:"name,omitempty"`
	IsGroup       *bool   `json:"isGroup,omitempty"`
	Archived      *bool   `json:"archived,omitempty"`
	Pinned        *bool   `json:"pinned,omitempty"`
	MutedUntil    *int64  `json:"mutedUntil,omitempty"`
	LastMessageAt *int64  `json:"lastMessageAt,omitempty"`
}

// ChatStore handles chat rows.
type ChatStore struct {
	store *Store
}

// Upsert inserts or patches a chat row.
func (s *ChatStore) Upsert(ctx context.Context, q Querier, sessionID string, p *ChatPatch) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_chats (session_id, chat_id, name, is_group, archived, pinned, muted_until, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			name = COALESCE(excluded.name, orion_chats.name),
			is_group = COALESCE(excluded.is_group, orion_chats.is_group),
			archived = COALESCE(excluded.archived, orion_chats.archived),
			pinned = COALESCE(excluded.pinned, orion_chats.pinned),
			muted_until = COALESCE(excluded.muted_until, orion_chats.muted_until),
			last_message_at = MAX(COALESCE(excluded.last_message_at, 0), COALESCE(orion_chats.last_message_at, 0)),
			updated_at = excluded.updated_at
	`,
		sessionID, p.ID, nullStringPtr(p.Name), nullBoolPtr(p.IsGroup), nullBoolPtr(p.Archived), nullBoolPtr(p.Pinned),
		nullInt64Ptr(p.MutedUntil), nullInt64Ptr(p.LastMessageAt), unixNow(),
	)
	return err
}

// AdjustUnread adds delta to the unread counter, creating the row when missing.
// The counter never drops below zero.
func (s *ChatStore) AdjustUnread(ctx context.Context, q Querier, sessionID, chatID string, delta int) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_chats (session_id, chat_id, unread_count, updated_at)
		VALUES (?, ?, MAX(?, 0), ?)
		ON CONFLICT(session_id, chat_id) DO UPDATE SET
			unread_count = MAX(orion_chats.unread_count + ?, 0),
			updated_at = excluded.updated_at
	`, sessionID, chatID, delta, unixNow(), delta)
	return err
}

// SetUnread overwrites the unread counter of an existing chat.
func (s *ChatStore) SetUnread(ctx context.Context, q Querier, sessionID, chatID string, n int) error {
	_, err := q.ExecContext(ctx, `
		UPDATE orion_chats SET unread_count = ?, updated_at = ? WHERE session_id = ? AND chat_id = ?
	`, n, unixNow(), sessionID, chatID)
	return err
}

// Delete removes a chat and all of its messages.
func (s *ChatStore) Delete(ctx context.Context, q Querier, sessionID, chatID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM orion_messages WHERE session_id = ? AND chat_id = ?`, sessionID, chatID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `DELETE FROM orion_chats WHERE session_id = ? AND chat_id = ?`, sessionID, chatID)
	return err
}

// Get returns one chat or ErrNotFound.
func (s *ChatStore) Get(ctx context.Context, q Querier, sessionID, chatID string) (*Chat, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, chat_id, name, is_group, archived, pinned, muted_until, unread_count, last_message_at
		FROM orion_chats WHERE session_id = ? AND chat_id = ?
	`, sessionID, chatID)
	c, err := scanChat(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// List returns the chats of a session, most recently active first.
func (s *ChatStore) List(ctx context.Context, sessionID string) ([]*Chat, error) {
	rows, err := s.store.Query(ctx, `
		SELECT session_id, chat_id, name, is_group, archived, pinned, muted_until, unread_count, last_message_at
		FROM orion_chats WHERE session_id = ?
		ORDER BY COALESCE(last_message_at, 0) DESC, chat_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanChat(row rowScanner) (*Chat, error) {
	var c Chat
	var name sql.NullString
	var isGroup, archived, pinned, muted, lastAt sql.NullInt64
	if err := row.Scan(&c.SessionID, &c.ID, &name, &isGroup, &archived, &pinned, &muted, &c.UnreadCount, &lastAt); err != nil {
		return nil, err
	}
	c.Name = name.String
	c.IsGroup = isGroup.Int64 == 1
	c.Archived = archived.Int64 == 1
	c.Pinned = pinned.Int64 == 1
	c.MutedUntil = muted.Int64
	c.LastMessageAt = lastAt.Int64
	return &c, nil
}
