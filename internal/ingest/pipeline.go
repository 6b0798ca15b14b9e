// Package ingest persists normalized events into the event store.
//
// Every handler is an upsert keyed by the entity's primary key, so
// re-delivering an event leaves the store unchanged. Writes that belong to
// one logical event (a message and its chat's unread counter, a group's
// participant list) share one transaction.
package ingest

import (
	"context"
	"database/sql"
	"fmt"

	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
)

// DefaultMaxPayloadBytes bounds the raw payload stored with a message.
const DefaultMaxPayloadBytes = 1 << 20

// MediaQueue accepts inbound media for background download.
type MediaQueue interface {
	Enqueue(sessionID string, m *event.Message)
}

// Target names the session an event belongs to. Aliases is the session
// client's alias resolver, nil when the client has none.
type Target struct {
	SessionID string
	Aliases   protocol.AliasResolver
}

// Pipeline applies events to the store.
type Pipeline struct {
	store      *store.Store
	maxPayload int
	media      MediaQueue
	log        waLog.Logger
}

// New creates a Pipeline. maxPayload <= 0 selects DefaultMaxPayloadBytes.
func New(st *store.Store, maxPayload int, log waLog.Logger) *Pipeline {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &Pipeline{
		store:      st,
		maxPayload: maxPayload,
		log:        log.Sub("Ingest"),
	}
}

// SetMediaQueue enables media download for inbound messages.
func (p *Pipeline) SetMediaQueue(q MediaQueue) {
	p.media = q
}

// Apply persists e for t. Lifecycle events carry nothing to store and return nil.
func (p *Pipeline) Apply(ctx context.Context, t Target, e event.Event) error {
	var err error
	switch ev := e.(type) {
	case event.Chats:
		err = p.applyChats(ctx, t.SessionID, ev)
	case event.ChatsDelete:
		err = p.deleteChats(ctx, t.SessionID, ev)
	case event.ChatRead:
		err = p.markChatRead(ctx, t.SessionID, ev.ChatID)
	case event.Contacts:
		err = p.applyContacts(ctx, t, ev)
	case event.MessagesUpsert:
		err = p.upsertMessages(ctx, t.SessionID, ev)
	case event.MessagesUpdate:
		err = p.updateStatuses(ctx, t.SessionID, ev.Updates)
	case event.ReceiptUpdate:
		err = p.updateStatuses(ctx, t.SessionID, ev.Updates)
	case event.Groups:
		err = p.applyGroups(ctx, t.SessionID, ev)
	case event.GroupParticipants:
		err = p.applyParticipants(ctx, t.SessionID, ev)
	case event.GroupLeave:
		err = p.tx(ctx, func(tx *sql.Tx) error {
			return p.store.Groups.Delete(ctx, tx, t.SessionID, ev.GroupID)
		})
	case event.Call:
		err = p.applyCall(ctx, t.SessionID, ev.Call)
	case event.BlocklistSet:
		err = p.tx(ctx, func(tx *sql.Tx) error {
			return p.store.Blocklist.Replace(ctx, tx, t.SessionID, dedupe(ev.JIDs))
		})
	case event.BlocklistUpdate:
		err = p.updateBlocklist(ctx, t.SessionID, ev)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("ingest %s: %w", e.EventName(), err)
	}
	return nil
}

func (p *Pipeline) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return p.store.Tx(ctx, fn)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
