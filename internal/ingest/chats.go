package ingest

import (
	"context"
	"database/sql"

	"orion-gateway/internal/event"
)

func (p *Pipeline) applyChats(ctx context.Context, sessionID string, ev event.Chats) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		for i := range ev.Chats {
			patch := ev.Chats[i]
			if patch.ID == "" {
				continue
			}
			if err := p.store.Chats.Upsert(ctx, tx, sessionID, &patch); err != nil {
				return err
			}
		}
		return nil
	})
}

func (p *Pipeline) deleteChats(ctx context.Context, sessionID string, ev event.ChatsDelete) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ev.ChatIDs {
			if err := p.store.Chats.Delete(ctx, tx, sessionID, id); err != nil {
				return err
			}
		}
		return nil
	})
}
