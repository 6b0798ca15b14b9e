package store

import (
	"context"
	"database/sql"
	"errors"
)

// Call is a stored voice/video call.
type Call struct {
	SessionID       string `json:"-"`
	ID              string `json:"id"`
	Caller          string `json:"from,omitempty"`
	ChatID          string `json:"chatId,omitempty"`
	IsGroup         bool   `json:"isGroup"`
	IsVideo         bool   `json:"isVideo"`
	Status          string `json:"status"` // offer, accept, reject, timeout, terminate
	DurationSeconds int    `json:"duration,omitempty"`
	StartedAt       int64  `json:"startedAt,omitempty"`
}

// CallStore handles call rows.
type CallStore struct {
	store *Store
}

// Put upserts a call by id. Repeated events only move the mutable fields:
// status, duration (when known) and the video flag.
func (s *CallStore) Put(ctx context.Context, q Querier, c *Call) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_calls (session_id, call_id, caller, chat_id, is_group, is_video, status, duration_seconds, started_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, call_id) DO UPDATE SET
			status = excluded.status,
			duration_seconds = CASE WHEN excluded.duration_seconds > 0 THEN excluded.duration_seconds ELSE orion_calls.duration_seconds END,
			is_video = MAX(excluded.is_video, orion_calls.is_video),
			updated_at = excluded.updated_at
	`,
		c.SessionID, c.ID, nullString(c.Caller), nullString(c.ChatID), boolToInt(c.IsGroup), boolToInt(c.IsVideo),
		c.Status, c.DurationSeconds, nullInt64(c.StartedAt), unixNow(),
	)
	return err
}

// Get returns one call or ErrNotFound.
func (s *CallStore) Get(ctx context.Context, q Querier, sessionID, callID string) (*Call, error) {
	var c Call
	var caller, chat sql.NullString
	var started sql.NullInt64
	var isGroup, isVideo int
	err := q.QueryRowContext(ctx, `
		SELECT session_id, call_id, caller, chat_id, is_group, is_video, status, duration_seconds, started_at
		FROM orion_calls WHERE session_id = ? AND call_id = ?
	`, sessionID, callID).Scan(&c.SessionID, &c.ID, &caller, &chat, &isGroup, &isVideo, &c.Status, &c.DurationSeconds, &started)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Caller = caller.String
	c.ChatID = chat.String
	c.IsGroup = isGroup == 1
	c.IsVideo = isVideo == 1
	c.StartedAt = started.Int64
	return &c, nil
}
