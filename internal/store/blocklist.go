package store

import (
	"context"
)

// BlocklistStore handles the blocked-address set of each session.
type BlocklistStore struct {
	store *Store
}

// List returns the blocked addresses of a session, sorted.
func (s *BlocklistStore) List(ctx context.Context, q Querier, sessionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT jid FROM orion_blocklist WHERE session_id = ? ORDER BY jid`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var j string
		if err := rows.Scan(&j); err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

// Replace swaps the whole set. Run it inside a transaction.
func (s *BlocklistStore) Replace(ctx context.Context, q Querier, sessionID string, jids []string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM orion_blocklist WHERE session_id = ?`, sessionID); err != nil {
		return err
	}
	now := unixNow()
	for _, j := range jids {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO orion_blocklist (session_id, jid, blocked_at) VALUES (?, ?, ?)
			ON CONFLICT(session_id, jid) DO NOTHING
		`, sessionID, j, now); err != nil {
			return err
		}
	}
	return nil
}
