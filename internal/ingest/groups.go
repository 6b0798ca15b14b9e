package ingest

import (
	"context"
	"database/sql"
	"errors"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
)

func (p *Pipeline) applyGroups(ctx context.Context, sessionID string, ev event.Groups) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		for i := range ev.Groups {
			g := ev.Groups[i]
			if g.ID == "" {
				continue
			}
			if err := p.store.Groups.Upsert(ctx, tx, sessionID, &g); err != nil {
				return err
			}
			if g.Subject != nil {
				isGroup := true
				if err := p.store.Chats.Upsert(ctx, tx, sessionID, &store.ChatPatch{ID: g.ID, Name: g.Subject, IsGroup: &isGroup}); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (p *Pipeline) applyParticipants(ctx context.Context, sessionID string, ev event.GroupParticipants) error {
	return p.tx(ctx, func(tx *sql.Tx) error {
		var current []store.Participant
		g, err := p.store.Groups.Get(ctx, tx, sessionID, ev.GroupID)
		switch {
		case err == nil:
			current = g.Participants
		case errors.Is(err, store.ErrNotFound):
			if ev.Action != event.ParticipantAdd {
				return nil
			}
		default:
			return err
		}

		next, changed := ApplyParticipants(current, ev.Action, ev.Participants)
		if !changed {
			return nil
		}
		return p.store.Groups.SetParticipants(ctx, tx, sessionID, ev.GroupID, next)
	})
}

// ApplyParticipants applies one membership action to a participant set and
// reports whether the set changed. Promote and demote only touch members
// already present.
func ApplyParticipants(current []store.Participant, action event.ParticipantAction, ids []string) ([]store.Participant, bool) {
	targets := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		targets[id] = struct{}{}
	}

	out := make([]store.Participant, 0, len(current)+len(ids))
	changed := false

	switch action {
	case event.ParticipantAdd:
		present := make(map[string]struct{}, len(current))
		for _, m := range current {
			present[m.ID] = struct{}{}
			out = append(out, m)
		}
		for _, id := range ids {
			if _, ok := present[id]; ok || id == "" {
				continue
			}
			present[id] = struct{}{}
			out = append(out, store.Participant{ID: id, Admin: store.AdminNone})
			changed = true
		}

	case event.ParticipantRemove:
		for _, m := range current {
			if _, ok := targets[m.ID]; ok {
				changed = true
				continue
			}
			out = append(out, m)
		}

	case event.ParticipantPromote, event.ParticipantDemote:
		tier := store.AdminAdmin
		if action == event.ParticipantDemote {
			tier = store.AdminNone
		}
		for _, m := range current {
			if _, ok := targets[m.ID]; ok && m.Admin != tier {
				// Promoting the owner keeps the superadmin tier.
				if !(action == event.ParticipantPromote && m.Admin == store.AdminSuper) {
					m.Admin = tier
					changed = true
				}
			}
			out = append(out, m)
		}

	default:
		return current, false
	}
	return out, changed
}
