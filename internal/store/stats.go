package store

import (
	"context"
	"fmt"
)

// Stats holds per-session entity counts.
type Stats struct {
	Chats    int
	Messages int
	Contacts int
	Groups   int
	Blocked  int
	Calls    int
	Unread   int
}

// Stats returns entity counts for one session.
func (s *Store) Stats(ctx context.Context, sessionID string) (*Stats, error) {
	st := &Stats{}
	counts := []struct {
		dst   *int
		query string
	}{
		{&st.Chats, `SELECT COUNT(*) FROM orion_chats WHERE session_id = ?`},
		{&st.Messages, `SELECT COUNT(*) FROM orion_messages WHERE session_id = ?`},
		{&st.Contacts, `SELECT COUNT(*) FROM orion_contacts WHERE session_id = ?`},
		{&st.Groups, `SELECT COUNT(*) FROM orion_groups WHERE session_id = ?`},
		{&st.Blocked, `SELECT COUNT(*) FROM orion_blocklist WHERE session_id = ?`},
		{&st.Calls, `SELECT COUNT(*) FROM orion_calls WHERE session_id = ?`},
		{&st.Unread, `SELECT COALESCE(SUM(unread_count), 0) FROM orion_chats WHERE session_id = ?`},
	}
	for _, c := range counts {
		if err := s.QueryRow(ctx, c.query, sessionID).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
	}
	return st, nil
}
