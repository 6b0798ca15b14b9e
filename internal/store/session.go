package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// WebhookSubscription is one externally registered endpoint and its event filter.
type WebhookSubscription struct {
	URL    string   `json:"url" yaml:"url"`
	Events []string `json:"events" yaml:"events"`
}

// SessionRecord is the persisted configuration of a session.
type SessionRecord struct {
	ID          string
	Owner       string
	DeviceJID   string
	Phone       string
	DisplayName string
	Metadata    map[string]string
	Webhooks    []WebhookSubscription
	LastState   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SessionStore persists session configuration.
type SessionStore struct {
	store *Store
}

// Create inserts a session record. An existing record keeps its device and
// identity but takes the new owner and metadata.
func (s *SessionStore) Create(ctx context.Context, r *SessionRecord) error {
	now := unixNow()
	_, err := s.store.Exec(ctx, `
		INSERT INTO orion_sessions (session_id, owner, metadata, webhooks, last_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			owner = excluded.owner,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, r.ID, r.Owner, jsonText(r.Metadata, "{}"), jsonText(r.Webhooks, "[]"), stateOrDefault(r.LastState), now, now)
	return err
}

// Get returns the record for id, or ErrNotFound.
func (s *SessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.store.QueryRow(ctx, `
		SELECT session_id, owner, device_jid, phone, display_name, metadata, webhooks, last_state, created_at, updated_at
		FROM orion_sessions WHERE session_id = ?
	`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, err
}

// List returns every persisted session ordered by creation.
func (s *SessionStore) List(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := s.store.Query(ctx, `
		SELECT session_id, owner, device_jid, phone, display_name, metadata, webhooks, last_state, created_at, updated_at
		FROM orion_sessions ORDER BY created_at, session_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetState records the last observed connection state.
func (s *SessionStore) SetState(ctx context.Context, id, state string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE orion_sessions SET last_state = ?, updated_at = ? WHERE session_id = ?
	`, state, unixNow(), id)
	return err
}

// SetIdentity records the paired device and the account identity.
func (s *SessionStore) SetIdentity(ctx context.Context, id, deviceJID, phone, name string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE orion_sessions SET
			device_jid = COALESCE(?, device_jid),
			phone = COALESCE(?, phone),
			display_name = COALESCE(?, display_name),
			updated_at = ?
		WHERE session_id = ?
	`, nullString(deviceJID), nullString(phone), nullString(name), unixNow(), id)
	return err
}

// ClearIdentity forgets the paired device after a logout.
func (s *SessionStore) ClearIdentity(ctx context.Context, id string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE orion_sessions SET device_jid = NULL, phone = NULL, display_name = NULL, updated_at = ?
		WHERE session_id = ?
	`, unixNow(), id)
	return err
}

// SetWebhooks replaces the subscription list of a session.
func (s *SessionStore) SetWebhooks(ctx context.Context, id string, subs []WebhookSubscription) error {
	res, err := s.store.Exec(ctx, `
		UPDATE orion_sessions SET webhooks = ?, updated_at = ? WHERE session_id = ?
	`, jsonText(subs, "[]"), unixNow(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMetadata replaces the metadata map of a session.
func (s *SessionStore) SetMetadata(ctx context.Context, id string, md map[string]string) error {
	_, err := s.store.Exec(ctx, `
		UPDATE orion_sessions SET metadata = ?, updated_at = ? WHERE session_id = ?
	`, jsonText(md, "{}"), unixNow(), id)
	return err
}

// Delete removes the session configuration row.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.store.Exec(ctx, `DELETE FROM orion_sessions WHERE session_id = ?`, id)
	return err
}

// Purge deletes every entity row of a session in one transaction. The session
// configuration row is left in place.
func (s *SessionStore) Purge(ctx context.Context, id string) error {
	return s.store.Tx(ctx, func(tx *sql.Tx) error {
		for _, table := range entityTables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", id); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var r SessionRecord
	var device, phone, name sql.NullString
	var metadata, webhooks string
	var created, updated int64

	if err := row.Scan(&r.ID, &r.Owner, &device, &phone, &name, &metadata, &webhooks, &r.LastState, &created, &updated); err != nil {
		return nil, err
	}
	r.DeviceJID = device.String
	r.Phone = phone.String
	r.DisplayName = name.String
	r.CreatedAt = fromUnix(created)
	r.UpdatedAt = fromUnix(updated)

	if err := json.Unmarshal([]byte(metadata), &r.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata of %s: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(webhooks), &r.Webhooks); err != nil {
		return nil, fmt.Errorf("decode webhooks of %s: %w", r.ID, err)
	}
	return &r, nil
}

func stateOrDefault(state string) string {
	if state == "" {
		return "disconnected"
	}
	return state
}
