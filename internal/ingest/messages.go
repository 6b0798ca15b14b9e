package ingest

import (
	"context"
	"database/sql"
	"errors"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

func (p *Pipeline) upsertMessages(ctx context.Context, sessionID string, ev event.MessagesUpsert) error {
	if !ev.Type.Persisted() {
		p.log.Debugf("Skipping %d %s messages for %s", len(ev.Messages), ev.Type, sessionID)
		return nil
	}

	for i := range ev.Messages {
		m := ev.Messages[i]
		if m.ChatID == "" || m.ID == "" {
			continue
		}
		if len(m.Raw) > p.maxPayload {
			p.log.Warnf("Dropping message %s in %s: payload %d bytes exceeds %d", m.ID, m.ChatID, len(m.Raw), p.maxPayload)
			continue
		}
		m.SessionID = sessionID

		if err := p.tx(ctx, func(tx *sql.Tx) error {
			return p.putMessage(ctx, tx, &m.Message)
		}); err != nil {
			return err
		}

		if p.media != nil && m.Media != nil && !m.FromMe {
			p.media.Enqueue(sessionID, &m)
		}
	}
	return nil
}

// putMessage merges m into the stored row and moves the chat's unread
// counter by the change in m's unread state.
func (p *Pipeline) putMessage(ctx context.Context, tx *sql.Tx, m *store.Message) error {
	wasUnread := false
	fromMe := m.FromMe
	status := event.ParseStatus(m.Status)

	existing, err := p.store.Messages.Get(ctx, tx, m.SessionID, m.ChatID, m.ID)
	switch {
	case err == nil:
		fromMe = existing.FromMe
		current := event.ParseStatus(existing.Status)
		wasUnread = event.Unread(fromMe, current)
		status = event.MergeStatus(current, status)
	case errors.Is(err, store.ErrNotFound):
	default:
		return err
	}
	if status == "" {
		status = event.StatusPending
	}

	row := *m
	row.Status = string(status)
	if err := p.store.Messages.Put(ctx, tx, &row); err != nil {
		return err
	}

	isGroup := jid.IsGroupString(m.ChatID)
	patch := store.ChatPatch{ID: m.ChatID, IsGroup: &isGroup}
	if m.Timestamp > 0 {
		ts := m.Timestamp
		patch.LastMessageAt = &ts
	}
	if err := p.store.Chats.Upsert(ctx, tx, m.SessionID, &patch); err != nil {
		return err
	}

	if delta := unreadDelta(wasUnread, event.Unread(fromMe, status)); delta != 0 {
		return p.store.Chats.AdjustUnread(ctx, tx, m.SessionID, m.ChatID, delta)
	}
	return nil
}

func unreadDelta(was, now bool) int {
	switch {
	case now && !was:
		return 1
	case was && !now:
		return -1
	default:
		return 0
	}
}

// updateStatuses patches the status of stored messages. Updates for
// messages never ingested are ignored.
func (p *Pipeline) updateStatuses(ctx context.Context, sessionID string, updates []event.StatusUpdate) error {
	for _, u := range updates {
		if u.Status == "" {
			continue
		}
		err := p.tx(ctx, func(tx *sql.Tx) error {
			existing, err := p.store.Messages.Get(ctx, tx, sessionID, u.ChatID, u.MessageID)
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}

			current := event.ParseStatus(existing.Status)
			next := event.MergeStatus(current, u.Status)
			if next == current {
				return nil
			}
			if err := p.store.Messages.SetStatus(ctx, tx, sessionID, u.ChatID, u.MessageID, string(next)); err != nil {
				return err
			}
			if delta := unreadDelta(event.Unread(existing.FromMe, current), event.Unread(existing.FromMe, next)); delta != 0 {
				return p.store.Chats.AdjustUnread(ctx, tx, sessionID, u.ChatID, delta)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) markChatRead(ctx context.Context, sessionID, chatID string) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		n, err := p.store.Messages.MarkChatRead(ctx, tx, sessionID, chatID)
		if err != nil {
			return err
		}
		if n > 0 {
			p.log.Debugf("Marked %d messages read in %s", n, chatID)
		}
		return p.store.Chats.SetUnread(ctx, tx, sessionID, chatID, 0)
	})
}
