package extract

import (
	"go.mau.fi/whatsmeow/proto/waHistorySync"
	"go.mau.fi/whatsmeow/proto/waWeb"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

// FromHistorySync converts a history sync blob into a chat set, group and
// contact upserts, and a history message batch.
func FromHistorySync(evt *events.HistorySync) []event.Event {
	hs := evt.Data
	if hs == nil {
		return nil
	}

	var (
		contacts []store.Contact
		chats    []store.ChatPatch
		groups   []store.GroupPatch
		messages []event.Message
	)

	for _, pn := range hs.GetPushnames() {
		id := jid.NormalizeString(pn.GetID())
		if id == "" || pn.GetPushname() == "" {
			continue
		}
		contacts = append(contacts, store.Contact{ID: id, Notify: pn.GetPushname()})
	}

	for _, conv := range hs.GetConversations() {
		chatJID, err := types.ParseJID(conv.GetID())
		if err != nil || chatJID.IsEmpty() || jid.IsStatus(chatJID) {
			continue
		}
		chats = append(chats, chatFromConversation(chatJID, conv))
		if jid.IsGroup(chatJID) {
			groups = append(groups, groupFromConversation(chatJID, conv))
		}
		for _, hm := range conv.GetMessages() {
			if m, ok := historyMessage(chatJID, hm.GetMessage()); ok {
				messages = append(messages, m)
			}
		}
	}

	var out []event.Event
	if len(contacts) > 0 {
		out = append(out, event.Contacts{Action: event.ActionUpsert, Contacts: contacts})
	}
	if len(chats) > 0 {
		out = append(out, event.Chats{Action: event.ActionSet, Chats: chats})
	}
	if len(groups) > 0 {
		out = append(out, event.Groups{Action: event.ActionUpsert, Groups: groups})
	}
	if len(messages) > 0 {
		out = append(out, event.MessagesUpsert{Type: event.UpsertHistory, Messages: messages})
	}
	return out
}

func chatFromConversation(chatJID types.JID, conv *waHistorySync.Conversation) store.ChatPatch {
	p := store.ChatPatch{ID: jid.Normalize(chatJID)}

	isGroup := jid.IsGroup(chatJID)
	archived := conv.GetArchived()
	pinned := conv.GetPinned() > 0
	p.IsGroup = &isGroup
	p.Archived = &archived
	p.Pinned = &pinned

	name := conv.GetDisplayName()
	if name == "" {
		name = conv.GetName()
	}
	if name != "" {
		p.Name = &name
	}
	if ts := int64(conv.GetMuteEndTime()); ts > 0 {
		p.MutedUntil = &ts
	}
	if ts := int64(conv.GetLastMsgTimestamp()); ts > 0 {
		p.LastMessageAt = &ts
	} else if ts := int64(conv.GetConversationTimestamp()); ts > 0 {
		p.LastMessageAt = &ts
	}
	return p
}

func groupFromConversation(chatJID types.JID, conv *waHistorySync.Conversation) store.GroupPatch {
	g := store.GroupPatch{ID: jid.Normalize(chatJID)}
	if name := conv.GetName(); name != "" {
		g.Subject = &name
	}
	if desc := conv.GetDescription(); desc != "" {
		g.Description = &desc
	}
	if conv.Locked != nil {
		locked := conv.GetLocked()
		g.Locked = &locked
	}
	if ts := int64(conv.GetCreatedAt()); ts > 0 {
		g.CreatedAt = &ts
	}
	if creator := jid.NormalizeString(conv.GetCreatedBy()); creator != "" {
		g.Owner = &creator
	}

	// A conversation without a participant list leaves the stored roster alone.
	if parts := conv.GetParticipant(); len(parts) > 0 {
		g.Participants = make([]store.Participant, 0, len(parts))
		for _, p := range parts {
			id := jid.NormalizeString(p.GetUserJID())
			if id == "" {
				continue
			}
			admin := store.AdminNone
			switch p.GetRank() {
			case waHistorySync.GroupParticipant_SUPERADMIN:
				admin = store.AdminSuper
			case waHistorySync.GroupParticipant_ADMIN:
				admin = store.AdminAdmin
			}
			g.Participants = append(g.Participants, store.Participant{ID: id, Admin: admin})
		}
	}
	return g
}

func historyMessage(chatJID types.JID, webMsg *waWeb.WebMessageInfo) (event.Message, bool) {
	if webMsg == nil || webMsg.GetKey().GetID() == "" {
		return event.Message{}, false
	}
	key := webMsg.GetKey()
	content := webMsg.GetMessage()

	m := event.Message{
		Message: store.Message{
			ChatID:    jid.Normalize(chatJID),
			ID:        key.GetID(),
			PushName:  webMsg.GetPushName(),
			FromMe:    key.GetFromMe(),
			Type:      determineMessageType(content),
			Content:   textContent(content),
			Timestamp: int64(webMsg.GetMessageTimestamp()),
			Status:    string(webStatus(webMsg.GetStatus())),
		},
	}
	switch {
	case webMsg.GetParticipant() != "":
		m.Sender = jid.NormalizeString(webMsg.GetParticipant())
	case key.GetParticipant() != "":
		m.Sender = jid.NormalizeString(key.GetParticipant())
	case !key.GetFromMe():
		m.Sender = m.ChatID
	}
	if content != nil {
		if raw, err := protojson.Marshal(content); err == nil {
			m.Raw = raw
		}
	}
	if media := extractMedia(content); media != nil {
		m.Media = media
		m.MediaType = media.Type
		m.Caption = mediaCaption(content)
	}
	return m, true
}

func webStatus(s waWeb.WebMessageInfo_Status) event.Status {
	switch s {
	case waWeb.WebMessageInfo_ERROR:
		return event.StatusFailed
	case waWeb.WebMessageInfo_PENDING:
		return event.StatusPending
	case waWeb.WebMessageInfo_SERVER_ACK:
		return event.StatusSent
	case waWeb.WebMessageInfo_DELIVERY_ACK:
		return event.StatusDelivered
	case waWeb.WebMessageInfo_READ:
		return event.StatusRead
	case waWeb.WebMessageInfo_PLAYED:
		return event.StatusPlayed
	default:
		return event.StatusDelivered
	}
}
