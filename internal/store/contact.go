package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Contact is a stored contact row.
type Contact struct {
	SessionID    string    `json:"-"`
	ID           string    `json:"id"`
	LID          string    `json:"lid,omitempty"`
	Phone        string    `json:"phone,omitempty"`
	Name         string    `json:"name,omitempty"`
	Notify       string    `json:"notify,omitempty"`
	VerifiedName string    `json:"verifiedName,omitempty"`
	Status       string    `json:"status,omitempty"`
	ImgURL       string    `json:"imgUrl,omitempty"`
	UpdatedAt    time.Time `json:"-"`
}

// FieldChange is one changed contact field.
type FieldChange struct {
	Field     string
	Old       string
	New       string
	ChangedAt time.Time
}

// ContactStore handles contact rows and their change history.
type ContactStore struct {
	store *Store
}

// Get returns one contact or ErrNotFound.
func (s *ContactStore) Get(ctx context.Context, q Querier, sessionID, contactID string) (*Contact, error) {
	row := q.QueryRowContext(ctx, `
		SELECT session_id, contact_id, lid, phone, name, notify, verified_name, status, img_url, updated_at
		FROM orion_contacts WHERE session_id = ? AND contact_id = ?
	`, sessionID, contactID)
	c, err := scanContact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Put writes the full contact row.
func (s *ContactStore) Put(ctx context.Context, q Querier, c *Contact) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO orion_contacts (session_id, contact_id, lid, phone, name, notify, verified_name, status, img_url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, contact_id) DO UPDATE SET
			lid = excluded.lid,
			phone = excluded.phone,
			name = excluded.name,
			notify = excluded.notify,
			verified_name = excluded.verified_name,
			status = excluded.status,
			img_url = excluded.img_url,
			updated_at = excluded.updated_at
	`,
		c.SessionID, c.ID, nullString(c.LID), nullString(c.Phone), nullString(c.Name), nullString(c.Notify),
		nullString(c.VerifiedName), nullString(c.Status), nullString(c.ImgURL), unixNow(),
	)
	return err
}

// AppendHistory records changed fields of a contact.
func (s *ContactStore) AppendHistory(ctx context.Context, q Querier, sessionID, contactID string, changes []FieldChange) error {
	now := unixNow()
	for _, ch := range changes {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orion_contact_history (session_id, contact_id, field, old_value, new_value, changed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, sessionID, contactID, ch.Field, nullString(ch.Old), nullString(ch.New), now); err != nil {
			return err
		}
	}
	return nil
}

// History returns the change history of a contact, oldest first.
func (s *ContactStore) History(ctx context.Context, sessionID, contactID string) ([]FieldChange, error) {
	rows, err := s.store.Query(ctx, `
		SELECT field, old_value, new_value, changed_at FROM orion_contact_history
		WHERE session_id = ? AND contact_id = ? ORDER BY id
	`, sessionID, contactID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FieldChange
	for rows.Next() {
		var ch FieldChange
		var oldV, newV sql.NullString
		var at int64
		if err := rows.Scan(&ch.Field, &oldV, &newV, &at); err != nil {
			return nil, err
		}
		ch.Old, ch.New, ch.ChangedAt = oldV.String, newV.String, fromUnix(at)
		out = append(out, ch)
	}
	return out, rows.Err()
}

// List returns the contacts of a session.
func (s *ContactStore) List(ctx context.Context, sessionID string) ([]*Contact, error) {
	rows, err := s.store.Query(ctx, `
		SELECT session_id, contact_id, lid, phone, name, notify, verified_name, status, img_url, updated_at
		FROM orion_contacts WHERE session_id = ? ORDER BY contact_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row rowScanner) (*Contact, error) {
	var c Contact
	var lid, phone, name, notify, verified, status, img sql.NullString
	var updated int64
	if err := row.Scan(&c.SessionID, &c.ID, &lid, &phone, &name, &notify, &verified, &status, &img, &updated); err != nil {
		return nil, err
	}
	c.LID = lid.String
	c.Phone = phone.String
	c.Name = name.String
	c.Notify = notify.String
	c.VerifiedName = verified.String
	c.Status = status.String
	c.ImgURL = img.String
	c.UpdatedAt = fromUnix(updated)
	return &c, nil
}
