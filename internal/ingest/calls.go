package ingest

import (
	"context"
	"database/sql"
	"errors"

	"orion-gateway/internal/store"
)

func (p *Pipeline) applyCall(ctx context.Context, sessionID string, c store.Call) error {
	if c.ID == "" {
		return nil
	}
	c.SessionID = sessionID

	return p.tx(ctx, func(tx *sql.Tx) error {
		prev, err := p.store.Calls.Get(ctx, tx, sessionID, c.ID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		// An accepted call that ends gets its duration from the offer time.
		if prev != nil && prev.Status == "accept" && c.Status != "accept" &&
			c.DurationSeconds == 0 && prev.StartedAt > 0 && c.StartedAt > prev.StartedAt {
			c.DurationSeconds = int(c.StartedAt - prev.StartedAt)
		}
		return p.store.Calls.Put(ctx, tx, &c)
	})
}
