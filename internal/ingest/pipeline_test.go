package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/protocol/prototest"
	"orion-gateway/internal/store"
)

const sid = "s1"

func newPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	ctx := context.Background()
	st, err := store.New(ctx, filepath.Join(t.TempDir(), "test.db"), store.Options{
		PoolSize:       2,
		AcquireTimeout: time.Second,
		RetryAttempts:  3,
		RetryBase:      10 * time.Millisecond,
	}, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, 1024, waLog.Noop), st
}

func inbound(chat, id string, status event.Status) event.Message {
	return event.Message{Message: store.Message{
		ChatID: chat, ID: id, Sender: "x@s.whatsapp.net", Type: "text",
		Content: "hi", Timestamp: 1700000000, Status: string(status),
	}}
}

func notify(msgs ...event.Message) event.MessagesUpsert {
	return event.MessagesUpsert{Type: event.UpsertNotify, Messages: msgs}
}

func unread(t *testing.T, st *store.Store, chat string) int {
	t.Helper()
	c, err := st.Chats.Get(context.Background(), st.DB(), sid, chat)
	require.NoError(t, err)
	n, err := st.Messages.CountUnread(context.Background(), st.DB(), sid, chat)
	require.NoError(t, err)
	require.Equal(t, n, c.UnreadCount, "unread counter diverged from messages")
	return c.UnreadCount
}

func TestUnreadFollowsReadReceipt(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "M1", event.StatusSent))))
	assert.Equal(t, 1, unread(t, st, "C1"))

	read := event.ReceiptUpdate{Updates: []event.StatusUpdate{{ChatID: "C1", MessageID: "M1", Status: event.StatusRead}}}
	require.NoError(t, p.Apply(ctx, target, read))
	assert.Equal(t, 0, unread(t, st, "C1"))

	// Replaying both events changes nothing.
	require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "M1", event.StatusSent))))
	require.NoError(t, p.Apply(ctx, target, read))
	assert.Equal(t, 0, unread(t, st, "C1"))

	m, err := st.Messages.Get(ctx, st.DB(), sid, "C1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "read", m.Status)
}

func TestMessageRedeliveryIsIdempotent(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "M1", event.StatusDelivered))))
	}
	n, err := st.Messages.Count(ctx, sid, "C1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, unread(t, st, "C1"))
}

func TestOwnMessagesNeverCountAsUnread(t *testing.T) {
	p, st := newPipeline(t)
	own := inbound("C1", "M1", event.StatusSent)
	own.FromMe = true
	require.NoError(t, p.Apply(context.Background(), Target{SessionID: sid}, event.MessagesUpsert{Type: event.UpsertAppend, Messages: []event.Message{own}}))
	assert.Equal(t, 0, unread(t, st, "C1"))
}

func TestHistoryAndOversizedMessagesAreNotStored(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, event.MessagesUpsert{Type: event.UpsertHistory, Messages: []event.Message{inbound("C1", "H1", event.StatusSent)}}))

	big := inbound("C1", "BIG", event.StatusSent)
	big.Raw = make([]byte, 2048)
	require.NoError(t, p.Apply(ctx, target, notify(big, inbound("C1", "OK", event.StatusSent))))

	_, err := st.Messages.Get(ctx, st.DB(), sid, "C1", "H1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Messages.Get(ctx, st.DB(), sid, "C1", "BIG")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Messages.Get(ctx, st.DB(), sid, "C1", "OK")
	assert.NoError(t, err)
	assert.Equal(t, 1, unread(t, st, "C1"))
}

func TestStatusNeverMovesBackwards(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "M1", event.StatusRead))))
	require.NoError(t, p.Apply(ctx, target, event.MessagesUpdate{Updates: []event.StatusUpdate{{ChatID: "C1", MessageID: "M1", Status: event.StatusDelivered}}}))
	require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "M1", event.StatusSent))))

	m, err := st.Messages.Get(ctx, st.DB(), sid, "C1", "M1")
	require.NoError(t, err)
	assert.Equal(t, "read", m.Status)
	assert.Equal(t, 0, unread(t, st, "C1"))
}

func TestUpdatesForUnknownMessagesAreIgnored(t *testing.T) {
	p, _ := newPipeline(t)
	err := p.Apply(context.Background(), Target{SessionID: sid}, event.ReceiptUpdate{Updates: []event.StatusUpdate{{ChatID: "C9", MessageID: "nope", Status: event.StatusRead}}})
	assert.NoError(t, err)
}

func TestChatReadClearsCounter(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, notify(
		inbound("C1", "A", event.StatusDelivered),
		inbound("C1", "B", event.StatusSent),
		inbound("C1", "C", event.StatusRead),
	)))
	assert.Equal(t, 2, unread(t, st, "C1"))

	require.NoError(t, p.Apply(ctx, target, event.ChatRead{ChatID: "C1"}))
	assert.Equal(t, 0, unread(t, st, "C1"))
}

func TestChatDeleteRemovesMessages(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, notify(inbound("C1", "A", event.StatusSent))))
	require.NoError(t, p.Apply(ctx, target, event.ChatsDelete{ChatIDs: []string{"C1"}}))

	_, err := st.Chats.Get(ctx, st.DB(), sid, "C1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	n, err := st.Messages.Count(ctx, sid, "C1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChatPatchIgnoresUnreadInput(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	name := "Alice"
	archived := true

	require.NoError(t, p.Apply(ctx, Target{SessionID: sid}, event.Chats{Action: event.ActionUpsert, Chats: []store.ChatPatch{{ID: "C1", Name: &name}}}))
	require.NoError(t, p.Apply(ctx, Target{SessionID: sid}, event.Chats{Action: event.ActionUpdate, Chats: []store.ChatPatch{{ID: "C1", Archived: &archived}}}))

	c, err := st.Chats.Get(ctx, st.DB(), sid, "C1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.True(t, c.Archived)
	assert.Zero(t, c.UnreadCount)
}

func TestContactDiffWritesHistoryOnlyForChanges(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}
	id := "15550001111@s.whatsapp.net"

	upsert := event.Contacts{Action: event.ActionUpsert, Contacts: []store.Contact{{ID: id, Name: "Alice", Notify: "Ali"}}}
	require.NoError(t, p.Apply(ctx, target, upsert))

	// Backdate the row so any rewrite would show up in updated_at.
	_, err := st.DB().ExecContext(ctx, `UPDATE orion_contacts SET updated_at = 1000 WHERE session_id = ? AND contact_id = ?`, sid, id)
	require.NoError(t, err)
	require.NoError(t, p.Apply(ctx, target, upsert))

	before, err := st.Contacts.Get(ctx, st.DB(), sid, id)
	require.NoError(t, err)
	assert.Equal(t, "15550001111", before.Phone)
	assert.Equal(t, int64(1000), before.UpdatedAt.Unix())

	history, err := st.Contacts.History(ctx, sid, id)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Only notify changes; an empty name is not an observation.
	require.NoError(t, p.Apply(ctx, target, event.Contacts{Action: event.ActionUpdate, Contacts: []store.Contact{{ID: id, Notify: "Alice B"}}}))

	history, err = st.Contacts.History(ctx, sid, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "notify", history[0].Field)
	assert.Equal(t, "Ali", history[0].Old)
	assert.Equal(t, "Alice B", history[0].New)

	after, err := st.Contacts.Get(ctx, st.DB(), sid, id)
	require.NoError(t, err)
	assert.Equal(t, "Alice", after.Name)
}

func TestContactAliasResolvesToPhone(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()

	lid := types.NewJID("987654321", types.HiddenUserServer)
	pn := types.NewJID("15550001111", types.DefaultUserServer)
	client := prototest.New()
	client.Aliases = map[types.JID]types.JID{lid: pn}

	ev := event.Contacts{Action: event.ActionUpdate, Contacts: []store.Contact{{ID: lid.String(), Notify: "Alice"}}}
	require.NoError(t, p.Apply(ctx, Target{SessionID: sid, Aliases: client}, ev))

	c, err := st.Contacts.Get(ctx, st.DB(), sid, pn.String())
	require.NoError(t, err)
	assert.Equal(t, lid.String(), c.LID)
	assert.Equal(t, "15550001111", c.Phone)

	// Without a resolver the alias is stored under its own address.
	require.NoError(t, p.Apply(ctx, Target{SessionID: sid}, ev))
	_, err = st.Contacts.Get(ctx, st.DB(), sid, lid.String())
	assert.NoError(t, err)
}

func TestParticipantSetIsIdempotent(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}
	gid := "120363000000000001@g.us"

	add := event.GroupParticipants{GroupID: gid, Action: event.ParticipantAdd, Participants: []string{"a", "b"}}
	require.NoError(t, p.Apply(ctx, target, add))
	require.NoError(t, p.Apply(ctx, target, add))
	require.NoError(t, p.Apply(ctx, target, event.GroupParticipants{GroupID: gid, Action: event.ParticipantPromote, Participants: []string{"b", "ghost"}}))
	require.NoError(t, p.Apply(ctx, target, event.GroupParticipants{GroupID: gid, Action: event.ParticipantRemove, Participants: []string{"a", "ghost"}}))

	g, err := st.Groups.Get(ctx, st.DB(), sid, gid)
	require.NoError(t, err)
	assert.Equal(t, []store.Participant{{ID: "b", Admin: store.AdminAdmin}}, g.Participants)
}

func TestParticipantChangesOnUnknownGroup(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()

	require.NoError(t, p.Apply(ctx, Target{SessionID: sid}, event.GroupParticipants{GroupID: "g", Action: event.ParticipantRemove, Participants: []string{"a"}}))
	_, err := st.Groups.Get(ctx, st.DB(), sid, "g")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestApplyParticipants(t *testing.T) {
	owner := store.Participant{ID: "o", Admin: store.AdminSuper}
	member := store.Participant{ID: "m"}

	out, changed := ApplyParticipants([]store.Participant{owner, member}, event.ParticipantPromote, []string{"o"})
	assert.False(t, changed)
	assert.Equal(t, []store.Participant{owner, member}, out)

	out, changed = ApplyParticipants([]store.Participant{owner, member}, event.ParticipantDemote, []string{"o"})
	assert.True(t, changed)
	assert.Equal(t, store.AdminNone, out[0].Admin)

	_, changed = ApplyParticipants([]store.Participant{member}, event.ParticipantRemove, []string{"x"})
	assert.False(t, changed)

	out, changed = ApplyParticipants(nil, event.ParticipantAdd, []string{"x", "x"})
	assert.True(t, changed)
	assert.Len(t, out, 1)
}

func TestGroupUpsertAndLeave(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}
	subject := "Team"
	gid := "120363000000000001@g.us"

	require.NoError(t, p.Apply(ctx, target, event.Groups{Action: event.ActionUpsert, Groups: []store.GroupPatch{{ID: gid, Subject: &subject, Participants: []store.Participant{{ID: "a"}}}}}))
	chat, err := st.Chats.Get(ctx, st.DB(), sid, gid)
	require.NoError(t, err)
	assert.Equal(t, "Team", chat.Name)
	assert.True(t, chat.IsGroup)

	require.NoError(t, p.Apply(ctx, target, event.GroupLeave{GroupID: gid}))
	_, err = st.Groups.Get(ctx, st.DB(), sid, gid)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBlocklistIncrementalAndFull(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	require.NoError(t, p.Apply(ctx, target, event.BlocklistSet{JIDs: []string{"a", "b", "a"}}))
	require.NoError(t, p.Apply(ctx, target, event.BlocklistUpdate{Action: event.BlockAdd, JIDs: []string{"c", "a"}}))
	require.NoError(t, p.Apply(ctx, target, event.BlocklistUpdate{Action: event.BlockRemove, JIDs: []string{"b", "zzz"}}))

	list, err := st.Blocklist.List(ctx, st.DB(), sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, list)

	require.NoError(t, p.Apply(ctx, target, event.BlocklistSet{JIDs: []string{"z"}}))
	list, err = st.Blocklist.List(ctx, st.DB(), sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"z"}, list)

	require.NoError(t, p.Apply(ctx, target, event.BlocklistSet{JIDs: []string{}}))
	list, err = st.Blocklist.List(ctx, st.DB(), sid)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCallUpdatesMutableFields(t *testing.T) {
	p, st := newPipeline(t)
	ctx := context.Background()
	target := Target{SessionID: sid}

	offer := store.Call{ID: "K1", Caller: "a", ChatID: "a", Status: "offer", StartedAt: 1000}
	require.NoError(t, p.Apply(ctx, target, event.Call{Call: offer}))
	require.NoError(t, p.Apply(ctx, target, event.Call{Call: store.Call{ID: "K1", Caller: "a", Status: "accept", StartedAt: 1005}}))
	require.NoError(t, p.Apply(ctx, target, event.Call{Call: store.Call{ID: "K1", Caller: "a", Status: "terminate", StartedAt: 1065}}))

	c, err := st.Calls.Get(ctx, st.DB(), sid, "K1")
	require.NoError(t, err)
	assert.Equal(t, "terminate", c.Status)
	assert.Equal(t, int64(1000), c.StartedAt)
	assert.Equal(t, 65, c.DurationSeconds)
}

type mediaRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (r *mediaRecorder) Enqueue(sessionID string, m *event.Message) {
	r.mu.Lock()
	r.ids = append(r.ids, m.ID)
	r.mu.Unlock()
}

func TestInboundMediaIsQueued(t *testing.T) {
	p, _ := newPipeline(t)
	rec := &mediaRecorder{}
	p.SetMediaQueue(rec)

	img := inbound("C1", "IMG", event.StatusDelivered)
	img.Media = &event.MediaRef{Type: "image", DirectPath: "/p"}
	own := inbound("C1", "OWN", event.StatusSent)
	own.FromMe = true
	own.Media = &event.MediaRef{Type: "image", DirectPath: "/q"}

	require.NoError(t, p.Apply(context.Background(), Target{SessionID: sid}, notify(img, own, inbound("C1", "TXT", event.StatusSent))))
	assert.Equal(t, []string{"IMG"}, rec.ids)
}

func TestLifecycleEventsAreNotStored(t *testing.T) {
	p, _ := newPipeline(t)
	assert.NoError(t, p.Apply(context.Background(), Target{SessionID: sid}, event.QRCode{Code: "x"}))
	assert.NoError(t, p.Apply(context.Background(), Target{SessionID: sid}, event.Connected{}))
}
