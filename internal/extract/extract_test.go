package extract

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waSyncAction"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
)

var (
	alice = types.NewJID("15550001111", types.DefaultUserServer)
	me    = types.NewJID("15559990000", types.DefaultUserServer)
	group = types.NewJID("120363000000000001", types.GroupServer)
)

func newTranslator() *Translator {
	return &Translator{
		Self:     func() types.JID { return me },
		PushName: func() string { return "Me" },
	}
}

func textMessage(id, text string, fromMe bool) *events.Message {
	sender := alice
	if fromMe {
		sender = me
	}
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Chat: alice, Sender: sender, IsFromMe: fromMe},
			ID:            id,
			PushName:      "Alice",
			Timestamp:     time.Unix(1700000000, 0),
		},
		Message: &waE2E.Message{Conversation: proto.String(text)},
	}
}

func TestTranslateInboundText(t *testing.T) {
	out := newTranslator().Translate(textMessage("M1", "hello", false))
	require.Len(t, out, 1)

	up, ok := out[0].(event.MessagesUpsert)
	require.True(t, ok)
	assert.Equal(t, event.UpsertNotify, up.Type)
	require.Len(t, up.Messages, 1)

	m := up.Messages[0]
	assert.Equal(t, "15550001111@s.whatsapp.net", m.ChatID)
	assert.Equal(t, "M1", m.ID)
	assert.Equal(t, "text", m.Type)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, string(event.StatusDelivered), m.Status)
	assert.Equal(t, int64(1700000000), m.Timestamp)
	assert.False(t, m.FromMe)
	assert.NotEmpty(t, m.Raw)
	assert.Nil(t, m.Media)
}

func TestTranslateOwnMessageIsSent(t *testing.T) {
	out := newTranslator().Translate(textMessage("M2", "yo", true))
	require.Len(t, out, 1)
	m := out[0].(event.MessagesUpsert).Messages[0]
	assert.True(t, m.FromMe)
	assert.Equal(t, string(event.StatusSent), m.Status)
}

func TestTranslateSkipsStatusBroadcast(t *testing.T) {
	evt := textMessage("S1", "story", false)
	evt.Info.Chat = types.StatusBroadcastJID
	assert.Nil(t, newTranslator().Translate(evt))
}

func TestImageMessageCarriesMediaRef(t *testing.T) {
	evt := textMessage("IMG", "", false)
	evt.Message = &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		DirectPath: proto.String("/v/t62/abc"),
		MediaKey:   []byte{1, 2, 3},
		Mimetype:   proto.String("image/jpeg"),
		Caption:    proto.String("look"),
		FileLength: proto.Uint64(42),
	}}

	m := MessageFromEvent(evt)
	assert.Equal(t, "image", m.Type)
	assert.Equal(t, "look", m.Caption)
	require.NotNil(t, m.Media)
	assert.Equal(t, "image", m.MediaType)
	assert.Equal(t, "/v/t62/abc", m.Media.DirectPath)
	assert.Equal(t, int64(42), m.Media.FileLength)
}

func TestDetermineMessageType(t *testing.T) {
	cases := map[string]*waE2E.Message{
		"text":     {ExtendedTextMessage: &waE2E.ExtendedTextMessage{Text: proto.String("x")}},
		"ptt":      {AudioMessage: &waE2E.AudioMessage{PTT: proto.Bool(true)}},
		"audio":    {AudioMessage: &waE2E.AudioMessage{}},
		"gif":      {VideoMessage: &waE2E.VideoMessage{GifPlayback: proto.Bool(true)}},
		"sticker":  {StickerMessage: &waE2E.StickerMessage{}},
		"reaction": {ReactionMessage: &waE2E.ReactionMessage{Text: proto.String("+")}},
		"revoke":   {ProtocolMessage: &waE2E.ProtocolMessage{Type: waE2E.ProtocolMessage_REVOKE.Enum()}},
		"unknown":  {},
	}
	for want, msg := range cases {
		assert.Equal(t, want, determineMessageType(msg), want)
	}
	assert.Equal(t, "unknown", determineMessageType(nil))
}

func TestReceiptMapping(t *testing.T) {
	tr := newTranslator()
	evt := &events.Receipt{
		MessageSource: types.MessageSource{Chat: alice, Sender: alice},
		MessageIDs:    []types.MessageID{"A", "B"},
		Type:          types.ReceiptTypeRead,
	}
	out := tr.Translate(evt)
	require.Len(t, out, 1)
	ru := out[0].(event.ReceiptUpdate)
	require.Len(t, ru.Updates, 2)
	assert.Equal(t, event.StatusRead, ru.Updates[0].Status)
	assert.Equal(t, "B", ru.Updates[1].MessageID)

	evt.Type = types.ReceiptTypeDelivered
	assert.Equal(t, event.StatusDelivered, tr.Translate(evt)[0].(event.ReceiptUpdate).Updates[0].Status)

	evt.Type = types.ReceiptTypeRetry
	assert.Nil(t, tr.Translate(evt))
}

func TestConnectionEventsClassifyCause(t *testing.T) {
	tr := newTranslator()

	closed := tr.Translate(&events.Disconnected{})[0].(event.ConnectionClosed)
	assert.Equal(t, event.CauseRecoverable, closed.Cause)

	closed = tr.Translate(&events.LoggedOut{Reason: events.ConnectFailureLoggedOut})[0].(event.ConnectionClosed)
	assert.Equal(t, event.CauseLoggedOut, closed.Cause)

	closed = tr.Translate(&events.ConnectFailure{Reason: events.ConnectFailureLoggedOut})[0].(event.ConnectionClosed)
	assert.Equal(t, event.CauseLoggedOut, closed.Cause)

	closed = tr.Translate(&events.ConnectFailure{Reason: events.ConnectFailureTempBanned})[0].(event.ConnectionClosed)
	assert.Equal(t, event.CauseFatal, closed.Cause)

	closed = tr.Translate(&events.StreamReplaced{})[0].(event.ConnectionClosed)
	assert.Equal(t, event.CauseFatal, closed.Cause)

	conn := tr.Translate(&events.Connected{})[0].(event.Connected)
	assert.Equal(t, "15559990000", conn.Phone)
	assert.Equal(t, "Me", conn.Name)
}

func TestChatActions(t *testing.T) {
	tr := newTranslator()

	out := tr.Translate(&events.Archive{JID: alice, Action: &waSyncAction.ArchiveChatAction{Archived: proto.Bool(true)}})
	patch := out[0].(event.Chats).Chats[0]
	require.NotNil(t, patch.Archived)
	assert.True(t, *patch.Archived)
	assert.Nil(t, patch.Pinned)

	out = tr.Translate(&events.MarkChatAsRead{JID: alice, Action: &waSyncAction.MarkChatAsReadAction{Read: proto.Bool(true)}})
	assert.Equal(t, event.ChatRead{ChatID: "15550001111@s.whatsapp.net"}, out[0])

	assert.Nil(t, tr.Translate(&events.MarkChatAsRead{JID: alice, Action: &waSyncAction.MarkChatAsReadAction{Read: proto.Bool(false)}}))
}

func TestGroupInfoParticipantsAndLeave(t *testing.T) {
	evt := &events.GroupInfo{
		JID:     group,
		Name:    &types.GroupName{Name: "Team"},
		Join:    []types.JID{alice},
		Promote: []types.JID{alice},
		Leave:   []types.JID{me},
	}
	out := newTranslator().Translate(evt)
	require.Len(t, out, 5)

	groups := out[0].(event.Groups)
	assert.Equal(t, event.ActionUpdate, groups.Action)
	assert.Equal(t, "Team", *groups.Groups[0].Subject)
	assert.Nil(t, groups.Groups[0].Participants)

	assert.Equal(t, event.ParticipantAdd, out[1].(event.GroupParticipants).Action)
	assert.Equal(t, event.ParticipantRemove, out[2].(event.GroupParticipants).Action)
	assert.Equal(t, event.ParticipantPromote, out[3].(event.GroupParticipants).Action)
	assert.Equal(t, event.GroupLeave{GroupID: group.String()}, out[4])
}

func TestGroupPatchFromInfo(t *testing.T) {
	info := &types.GroupInfo{
		JID:       group,
		OwnerJID:  me,
		GroupName: types.GroupName{Name: "Team"},
		Participants: []types.GroupParticipant{
			{JID: me, IsAdmin: true, IsSuperAdmin: true},
			{JID: alice},
		},
	}
	p := GroupPatchFromInfo(info)
	assert.Equal(t, "Team", *p.Subject)
	assert.Equal(t, me.String(), *p.Owner)
	assert.Equal(t, []store.Participant{
		{ID: me.String(), Admin: store.AdminSuper},
		{ID: alice.String(), Admin: store.AdminNone},
	}, p.Participants)
}

func TestCallEvents(t *testing.T) {
	meta := types.BasicCallMeta{From: alice, CallCreator: alice, CallID: "C1", Timestamp: time.Unix(1700000000, 0)}
	tr := newTranslator()

	offer := tr.Translate(&events.CallOfferNotice{BasicCallMeta: meta, Media: "video"})[0].(event.Call)
	assert.Equal(t, "offer", offer.Status)
	assert.True(t, offer.IsVideo)
	assert.Equal(t, int64(1700000000), offer.StartedAt)

	term := tr.Translate(&events.CallTerminate{BasicCallMeta: meta, Reason: "timeout"})[0].(event.Call)
	assert.Equal(t, "timeout", term.Status)
}

func TestBlocklistEvents(t *testing.T) {
	tr := newTranslator()
	bob := types.NewJID("15550002222", types.DefaultUserServer)

	out := tr.Translate(&events.Blocklist{
		Action: events.BlocklistActionModify,
		Changes: []events.BlocklistChange{
			{JID: alice, Action: events.BlocklistChangeActionBlock},
			{JID: bob, Action: events.BlocklistChangeActionUnblock},
		},
	})
	require.Len(t, out, 2)
	assert.Equal(t, event.BlocklistUpdate{Action: event.BlockAdd, JIDs: []string{alice.String()}}, out[0])
	assert.Equal(t, event.BlocklistUpdate{Action: event.BlockRemove, JIDs: []string{bob.String()}}, out[1])

	out = tr.Translate(&events.Blocklist{Changes: []events.BlocklistChange{{JID: alice, Action: events.BlocklistChangeActionBlock}}})
	assert.Equal(t, event.BlocklistSet{JIDs: []string{alice.String()}}, out[0])

	out = tr.Translate(&events.Blocklist{Action: events.BlocklistActionDefault})
	require.Len(t, out, 1)
	assert.Equal(t, event.BlocklistSet{JIDs: []string{}}, out[0])
}

func TestFromHistorySync(t *testing.T) {
	evt := &events.HistorySync{Data: &waHistorySync.HistorySync{
		Pushnames: []*waHistorySync.Pushname{{ID: proto.String(alice.String()), Pushname: proto.String("Alice")}},
		Conversations: []*waHistorySync.Conversation{
			{
				ID:               proto.String(alice.String()),
				DisplayName:      proto.String("Alice"),
				Archived:         proto.Bool(true),
				LastMsgTimestamp: proto.Uint64(1700000100),
				Messages: []*waHistorySync.HistorySyncMsg{{
					Message: &waWeb.WebMessageInfo{
						Key:              &waCommon.MessageKey{RemoteJID: proto.String(alice.String()), ID: proto.String("H1")},
						Message:          &waE2E.Message{Conversation: proto.String("old")},
						MessageTimestamp: proto.Uint64(1700000100),
						Status:           waWeb.WebMessageInfo_READ.Enum(),
					},
				}},
			},
			{
				ID:   proto.String(group.String()),
				Name: proto.String("Team"),
				Participant: []*waHistorySync.GroupParticipant{
					{UserJID: proto.String(me.String()), Rank: waHistorySync.GroupParticipant_ADMIN.Enum()},
				},
			},
		},
	}}

	out := FromHistorySync(evt)
	require.Len(t, out, 4)

	contacts := out[0].(event.Contacts)
	assert.Equal(t, "Alice", contacts.Contacts[0].Notify)

	chats := out[1].(event.Chats)
	assert.Equal(t, event.ActionSet, chats.Action)
	require.Len(t, chats.Chats, 2)
	assert.True(t, *chats.Chats[0].Archived)
	assert.Equal(t, int64(1700000100), *chats.Chats[0].LastMessageAt)
	assert.True(t, *chats.Chats[1].IsGroup)

	groups := out[2].(event.Groups)
	assert.Equal(t, []store.Participant{{ID: me.String(), Admin: store.AdminAdmin}}, groups.Groups[0].Participants)

	msgs := out[3].(event.MessagesUpsert)
	assert.Equal(t, event.UpsertHistory, msgs.Type)
	assert.Equal(t, "old", msgs.Messages[0].Content)
	assert.Equal(t, string(event.StatusRead), msgs.Messages[0].Status)
	assert.Equal(t, alice.String(), msgs.Messages[0].Sender)
}
