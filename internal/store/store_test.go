package store

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	waLog "go.mau.fi/whatsmeow/util/log"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "orion.db"), Options{
		PoolSize:       2,
		AcquireTimeout: 200 * time.Millisecond,
		RetryAttempts:  3,
		RetryBase:      time.Millisecond,
	}, waLog.Noop)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrPoolExhausted))
	assert.True(t, IsRetryable(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsRetryable(sqlite3.Error{Code: sqlite3.ErrLocked}))
	assert.False(t, IsRetryable(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(nil))
}

func TestTxRollsBackOnError(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Tx(ctx, func(tx *sql.Tx) error {
		require.NoError(t, s.Chats.Upsert(ctx, tx, "s1", &ChatPatch{ID: "c1", Name: strPtr("x")}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	_, err = s.Chats.Get(ctx, s.DB(), "s1", "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTxRetriesTransientErrors(t *testing.T) {
	s := openTestStore(t)
	calls := 0

	err := s.Tx(context.Background(), func(tx *sql.Tx) error {
		calls++
		if calls < 3 {
			return sqlite3.Error{Code: sqlite3.ErrBusy}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPoolExhaustionIsRetryable(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	held := make([]*sql.Conn, 0, 2)
	for i := 0; i < 2; i++ {
		c, err := s.DB().Conn(ctx)
		require.NoError(t, err)
		held = append(held, c)
	}
	defer func() {
		for _, c := range held {
			c.Close()
		}
	}()

	_, err := s.acquire(ctx)
	assert.ErrorIs(t, err, ErrPoolExhausted)
	assert.True(t, IsRetryable(err))
}

func TestChatUpsertPatchesOnlyGivenFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Chats.Upsert(ctx, db, "s1", &ChatPatch{ID: "c1", Name: strPtr("Alice"), Pinned: boolPtr(true)}))
	require.NoError(t, s.Chats.Upsert(ctx, db, "s1", &ChatPatch{ID: "c1", Archived: boolPtr(true)}))

	c, err := s.Chats.Get(ctx, db, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.True(t, c.Pinned)
	assert.True(t, c.Archived)
}

func TestAdjustUnreadFloorsAtZero(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Chats.AdjustUnread(ctx, db, "s1", "c1", 1))
	require.NoError(t, s.Chats.AdjustUnread(ctx, db, "s1", "c1", -5))

	c, err := s.Chats.Get(ctx, db, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, 0, c.UnreadCount)
}

func TestChatDeleteRemovesMessages(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Chats.Upsert(ctx, db, "s1", &ChatPatch{ID: "c1"}))
	require.NoError(t, s.Messages.Put(ctx, db, &Message{SessionID: "s1", ChatID: "c1", ID: "m1", Status: "sent"}))
	require.NoError(t, s.Messages.Put(ctx, db, &Message{SessionID: "s2", ChatID: "c1", ID: "m1", Status: "sent"}))

	require.NoError(t, s.Chats.Delete(ctx, db, "s1", "c1"))

	n, err := s.Messages.Count(ctx, "s1", "c1")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = s.Messages.Count(ctx, "s2", "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "other sessions are untouched")
}

func TestMessagePutMergesContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Messages.Put(ctx, db, &Message{SessionID: "s1", ChatID: "c1", ID: "m1", Content: "hi", Status: "sent", Raw: []byte("{}")}))
	require.NoError(t, s.Messages.Put(ctx, db, &Message{SessionID: "s1", ChatID: "c1", ID: "m1", Status: "delivered"}))

	m, err := s.Messages.Get(ctx, db, "s1", "c1", "m1")
	require.NoError(t, err)
	assert.Equal(t, "hi", m.Content)
	assert.Equal(t, "delivered", m.Status)
	assert.Equal(t, []byte("{}"), m.Raw)
}

func TestGroupParticipantsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Groups.Upsert(ctx, db, "s1", &GroupPatch{ID: "g1", Subject: strPtr("Team")}))
	require.NoError(t, s.Groups.SetParticipants(ctx, db, "s1", "g1", []Participant{{ID: "a"}, {ID: "b", Admin: AdminAdmin}}))
	require.NoError(t, s.Groups.Upsert(ctx, db, "s1", &GroupPatch{ID: "g1", Announce: boolPtr(true)}))

	g, err := s.Groups.Get(ctx, db, "s1", "g1")
	require.NoError(t, err)
	assert.Equal(t, "Team", g.Subject)
	assert.True(t, g.Announce)
	assert.Equal(t, []Participant{{ID: "a"}, {ID: "b", Admin: AdminAdmin}}, g.Participants)
}

func TestCallPutKeepsImmutableFields(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	db := s.DB()

	require.NoError(t, s.Calls.Put(ctx, db, &Call{SessionID: "s1", ID: "k1", Caller: "a@s.whatsapp.net", Status: "offer", StartedAt: 100}))
	require.NoError(t, s.Calls.Put(ctx, db, &Call{SessionID: "s1", ID: "k1", Caller: "other", Status: "terminate", DurationSeconds: 42}))

	c, err := s.Calls.Get(ctx, db, "s1", "k1")
	require.NoError(t, err)
	assert.Equal(t, "a@s.whatsapp.net", c.Caller)
	assert.Equal(t, "terminate", c.Status)
	assert.Equal(t, 42, c.DurationSeconds)
	assert.Equal(t, int64(100), c.StartedAt)
}

func TestSessionLifecycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Sessions.Create(ctx, &SessionRecord{ID: "s1", Owner: "tenant", Metadata: map[string]string{"k": "v"}}))
	require.NoError(t, s.Sessions.SetWebhooks(ctx, "s1", []WebhookSubscription{{URL: "http://x", Events: []string{"all"}}}))
	require.NoError(t, s.Sessions.SetIdentity(ctx, "s1", "123.0:1@s.whatsapp.net", "123", "Me"))
	require.NoError(t, s.Chats.Upsert(ctx, s.DB(), "s1", &ChatPatch{ID: "c1"}))

	r, err := s.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "tenant", r.Owner)
	assert.Equal(t, "v", r.Metadata["k"])
	assert.Equal(t, "http://x", r.Webhooks[0].URL)
	assert.Equal(t, "123", r.Phone)

	require.NoError(t, s.Sessions.Purge(ctx, "s1"))
	require.NoError(t, s.Sessions.ClearIdentity(ctx, "s1"))

	st, err := s.Stats(ctx, "s1")
	require.NoError(t, err)
	assert.Zero(t, st.Chats)

	r, err = s.Sessions.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, r.DeviceJID)
	assert.Len(t, r.Webhooks, 1, "config survives a purge")

	require.NoError(t, s.Sessions.Delete(ctx, "s1"))
	_, err = s.Sessions.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Sessions.SetWebhooks(ctx, "s1", nil), ErrNotFound)
}
