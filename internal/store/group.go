package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// Admin tiers of a group participant.
const (
	AdminNone  = ""
	AdminAdmin = "admin"
	AdminSuper = "superadmin"
)

// Participant is one member of a group.
type Participant struct {
	ID    string `json:"id"`
	Admin string `json:"admin,omitempty"`
}

// Group is a stored group row.
type Group struct {
	SessionID    string
	ID           string
	Subject      string
	Description  string
	Owner        string
	Announce     bool
	Locked       bool
	Participants []Participant
	CreatedAt    int64
}

// GroupPatch carries the fields of a group event. nil fields keep the stored
// value; a nil Participants keeps the stored member list.
type GroupPatch struct {
	ID           string        `json:"id"`
	Subject      *string       `json:"subject,omitempty"`
	Description  *string       `json:"description,omitempty"`
	Owner        *string       `json:"owner,omitempty"`
	Announce     *bool         `json:"announce,omitempty"`
	Locked       *bool         `json:"locked,omitempty"`
	CreatedAt    *int64        `json:"createdAt,omitempty"`
	Participants []Participant `json:"participants,omitempty"`
}

// GroupStore handles group rows.
type GroupStore struct {
	store *Store
}

// Upsert inserts or patches a group row.
func (s *GroupStore) Upsert(ctx context.Context, q Querier, sessionID string, p *GroupPatch) error {
	var participants sql.NullString
	if p.Participants != nil {
		participants = sql.NullString{String: jsonText(p.Participants, "[]"), Valid: true}
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_groups (session_id, group_id, subject, description, owner, announce, locked, participants, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, '[]'), ?, ?)
		ON CONFLICT(session_id, group_id) DO UPDATE SET
			subject = COALESCE(excluded.subject, orion_groups.subject),
			description = COALESCE(excluded.description, orion_groups.description),
			owner = COALESCE(excluded.owner, orion_groups.owner),
			announce = COALESCE(excluded.announce, orion_groups.announce),
			locked = COALESCE(excluded.locked, orion_groups.locked),
			participants = COALESCE(?, orion_groups.participants),
			created_at = COALESCE(excluded.created_at, orion_groups.created_at),
			updated_at = excluded.updated_at
	`,
		sessionID, p.ID, nullStringPtr(p.Subject), nullStringPtr(p.Description), nullStringPtr(p.Owner),
		nullBoolPtr(p.Announce), nullBoolPtr(p.Locked), participants, nullInt64Ptr(p.CreatedAt), unixNow(),
		participants,
	)
	return err
}

// SetParticipants overwrites the member list of a group, creating a bare row if needed.
func (s *GroupStore) SetParticipants(ctx context.Context, q Querier, sessionID, groupID string, ps []Participant) error {
	if ps == nil {
		ps = []Participant{}
	}
	return s.Upsert(ctx, q, sessionID, &GroupPatch{ID: groupID, Participants: ps})
}

// Get returns one group or ErrNotFound.
func (s *GroupStore) Get(ctx context.Context, q Querier, sessionID, groupID string) (*Group, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, group_id, subject, description, owner, announce, locked, participants, created_at
		FROM orion_groups WHERE session_id = ? AND group_id = ?
	`, sessionID, groupID)
	g, err := scanGroup(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return g, err
}

// Delete removes a group row.
func (s *GroupStore) Delete(ctx context.Context, q Querier, sessionID, groupID string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM orion_groups WHERE session_id = ? AND group_id = ?`, sessionID, groupID)
	return err
}

// List returns the groups of a session.
func (s *GroupStore) List(ctx context.Context, sessionID string) ([]*Group, error) {
	rows, err := s.store.Query(ctx, `
		SELECT session_id, group_id, subject, description, owner, announce, locked, participants, created_at
		FROM orion_groups WHERE session_id = ? ORDER BY group_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func scanGroup(row rowScanner) (*Group, error) {
	var g Group
	var subject, desc, owner sql.NullString
	var announce, locked, created sql.NullInt64
	var participants string
	if err := row.Scan(&g.SessionID, &g.ID, &subject, &desc, &owner, &announce, &locked, &participants, &created); err != nil {
		return nil, err
	}
	g.Subject = subject.String
	g.Description = desc.String
	g.Owner = owner.String
	g.Announce = announce.Int64 == 1
	g.Locked = locked.Int64 == 1
	g.CreatedAt = created.Int64
	if err := json.Unmarshal([]byte(participants), &g.Participants); err != nil {
		return nil, fmt.Errorf("decode participants of %s: %w", g.ID, err)
	}
	return &g, nil
}
