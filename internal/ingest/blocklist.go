package ingest

import (
	"context"
	"database/sql"

	"orion-gateway/internal/event"
)

func (p *Pipeline) updateBlocklist(ctx context.Context, sessionID string, ev event.BlocklistUpdate) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		current, err := p.store.Blocklist.List(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		set := make(map[string]struct{}, len(current))
		for _, j := range current {
			set[j] = struct{}{}
		}
		changed := false
		for _, j := range ev.JIDs {
			_, present := set[j]
			switch {
			case ev.Action == event.BlockAdd && !present && j != "":
				set[j] = struct{}{}
				changed = true
			case ev.Action == event.BlockRemove && present:
				delete(set, j)
				changed = true
			}
		}
		if !changed {
			return nil
		}

		next := make([]string, 0, len(set))
		for j := range set {
			next = append(next, j)
		}
		return p.store.Blocklist.Replace(ctx, tx, sessionID, next)
	})
}
