// Package extract translates whatsmeow events into normalized events.
package extract

import (
	"fmt"

	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

// Translator converts raw protocol events. Self and PushName describe the
// account the events were received on; both may be nil.
type Translator struct {
	Self     func() types.JID
	PushName func() string
}

func (t *Translator) self() types.JID {
	if t.Self == nil {
		return types.EmptyJID
	}
	return t.Self()
}

// Translate returns the normalized events for evt. Events with no normalized
// form produce nil.
func (t *Translator) Translate(evt any) []event.Event {
	switch e := evt.(type) {
	// Connection lifecycle
	case *events.Connected:
		return one(t.connected())
	case *events.PairSuccess:
		return one(event.PairSuccess{DeviceJID: e.ID.String()})
	case *events.Disconnected:
		return one(event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: "connection lost"})
	case *events.LoggedOut:
		return one(event.ConnectionClosed{Cause: event.CauseLoggedOut, Reason: fmt.Sprintf("logged out: %v", e.Reason)})
	case *events.ConnectFailure:
		return one(connectFailure(e))
	case *events.StreamReplaced:
		return one(event.ConnectionClosed{Cause: event.CauseFatal, Reason: "stream replaced"})
	case *events.TemporaryBan:
		return one(event.ConnectionClosed{Cause: event.CauseFatal, Reason: e.String()})
	case *events.ClientOutdated:
		return one(event.ConnectionClosed{Cause: event.CauseFatal, Reason: "client outdated"})

	// Messages
	case *events.Message:
		if jid.IsStatus(e.Info.Chat) {
			return nil
		}
		return one(event.MessagesUpsert{Type: event.UpsertNotify, Messages: []event.Message{MessageFromEvent(e)}})
	case *events.Receipt:
		return receipt(e)
	case *events.HistorySync:
		return FromHistorySync(e)

	// Chats
	case *events.MarkChatAsRead:
		if !e.Action.GetRead() {
			return nil
		}
		return one(event.ChatRead{ChatID: jid.Normalize(e.JID)})
	case *events.Archive:
		archived := e.Action.GetArchived()
		return chatUpdate(store.ChatPatch{ID: jid.Normalize(e.JID), Archived: &archived})
	case *events.Pin:
		pinned := e.Action.GetPinned()
		return chatUpdate(store.ChatPatch{ID: jid.Normalize(e.JID), Pinned: &pinned})
	case *events.Mute:
		var until int64
		if e.Action.GetMuted() {
			until = e.Action.GetMuteEndTimestamp()
		}
		return chatUpdate(store.ChatPatch{ID: jid.Normalize(e.JID), MutedUntil: &until})
	case *events.DeleteChat:
		return one(event.ChatsDelete{ChatIDs: []string{jid.Normalize(e.JID)}})

	// Contacts
	case *events.PushName:
		return contactUpdate(store.Contact{ID: jid.Normalize(e.JID), Notify: e.NewPushName})
	case *events.BusinessName:
		return contactUpdate(store.Contact{ID: jid.Normalize(e.JID), VerifiedName: e.NewBusinessName})
	case *events.UserAbout:
		return contactUpdate(store.Contact{ID: jid.Normalize(e.JID), Status: e.Status})
	case *events.Contact:
		name := e.Action.GetFullName()
		if name == "" {
			name = e.Action.GetFirstName()
		}
		return one(event.Contacts{Action: event.ActionUpsert, Contacts: []store.Contact{{ID: jid.Normalize(e.JID), Name: name}}})

	// Groups
	case *events.JoinedGroup:
		return one(event.Groups{Action: event.ActionUpsert, Groups: []store.GroupPatch{GroupPatchFromInfo(&e.GroupInfo)}})
	case *events.GroupInfo:
		return t.groupInfo(e)

	// Calls
	case *events.CallOffer:
		return one(callEvent(e.BasicCallMeta, "offer", false, false))
	case *events.CallOfferNotice:
		return one(callEvent(e.BasicCallMeta, "offer", e.Media == "video", e.Type == "group"))
	case *events.CallAccept:
		return one(callEvent(e.BasicCallMeta, "accept", false, false))
	case *events.CallReject:
		return one(callEvent(e.BasicCallMeta, "reject", false, false))
	case *events.CallTerminate:
		status := "terminate"
		if e.Reason == "timeout" {
			status = "timeout"
		}
		return one(callEvent(e.BasicCallMeta, status, false, false))

	// Blocklist
	case *events.Blocklist:
		return blocklist(e)
	}
	return nil
}

func one(e event.Event) []event.Event {
	return []event.Event{e}
}

func (t *Translator) connected() event.Connected {
	self := t.self()
	c := event.Connected{}
	if !self.IsEmpty() {
		c.DeviceJID = self.String()
		c.Phone = jid.Phone(self)
	}
	if t.PushName != nil {
		c.Name = t.PushName()
	}
	return c
}

func connectFailure(e *events.ConnectFailure) event.ConnectionClosed {
	reason := fmt.Sprintf("connect failure: %v", e.Reason)
	if e.Message != "" {
		reason += " (" + e.Message + ")"
	}
	switch {
	case e.Reason.IsLoggedOut():
		return event.ConnectionClosed{Cause: event.CauseLoggedOut, Reason: reason}
	case e.Reason == events.ConnectFailureTempBanned, e.Reason == events.ConnectFailureClientOutdated:
		return event.ConnectionClosed{Cause: event.CauseFatal, Reason: reason}
	default:
		return event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: reason}
	}
}

func receipt(e *events.Receipt) []event.Event {
	var status event.Status
	switch e.Type {
	case types.ReceiptTypeDelivered:
		status = event.StatusDelivered
	case types.ReceiptTypeRead, types.ReceiptTypeReadSelf:
		status = event.StatusRead
	case types.ReceiptTypePlayed, types.ReceiptTypePlayedSelf:
		status = event.StatusPlayed
	case types.ReceiptTypeServerError:
		status = event.StatusFailed
	default:
		return nil
	}

	chat := jid.Normalize(e.Chat)
	updates := make([]event.StatusUpdate, 0, len(e.MessageIDs))
	for _, id := range e.MessageIDs {
		updates = append(updates, event.StatusUpdate{ChatID: chat, MessageID: id, Status: status})
	}
	if len(updates) == 0 {
		return nil
	}
	return one(event.ReceiptUpdate{Updates: updates})
}

func chatUpdate(p store.ChatPatch) []event.Event {
	return one(event.Chats{Action: event.ActionUpdate, Chats: []store.ChatPatch{p}})
}

func contactUpdate(c store.Contact) []event.Event {
	return one(event.Contacts{Action: event.ActionUpdate, Contacts: []store.Contact{c}})
}

// GroupPatchFromInfo builds a full group patch, participants included.
func GroupPatchFromInfo(info *types.GroupInfo) store.GroupPatch {
	p := store.GroupPatch{
		ID:           jid.Normalize(info.JID),
		Subject:      &info.Name,
		Description:  &info.Topic,
		Announce:     &info.IsAnnounce,
		Locked:       &info.IsLocked,
		Participants: make([]store.Participant, 0, len(info.Participants)),
	}
	if !info.OwnerJID.IsEmpty() {
		owner := jid.Normalize(info.OwnerJID)
		p.Owner = &owner
	}
	if !info.GroupCreated.IsZero() {
		created := info.GroupCreated.Unix()
		p.CreatedAt = &created
	}
	for _, m := range info.Participants {
		admin := store.AdminNone
		switch {
		case m.IsSuperAdmin:
			admin = store.AdminSuper
		case m.IsAdmin:
			admin = store.AdminAdmin
		}
		p.Participants = append(p.Participants, store.Participant{ID: jid.Normalize(m.JID), Admin: admin})
	}
	return p
}

func (t *Translator) groupInfo(e *events.GroupInfo) []event.Event {
	groupID := jid.Normalize(e.JID)
	var out []event.Event

	patch := store.GroupPatch{ID: groupID}
	changed := false
	if e.Name != nil {
		patch.Subject = &e.Name.Name
		changed = true
	}
	if e.Topic != nil {
		patch.Description = &e.Topic.Topic
		changed = true
	}
	if e.Announce != nil {
		patch.Announce = &e.Announce.IsAnnounce
		changed = true
	}
	if e.Locked != nil {
		patch.Locked = &e.Locked.IsLocked
		changed = true
	}
	if changed {
		out = append(out, event.Groups{Action: event.ActionUpdate, Groups: []store.GroupPatch{patch}})
	}

	add := func(action event.ParticipantAction, members []types.JID) {
		if len(members) == 0 {
			return
		}
		ids := make([]string, 0, len(members))
		for _, m := range members {
			ids = append(ids, jid.Normalize(m))
		}
		out = append(out, event.GroupParticipants{GroupID: groupID, Action: action, Participants: ids})
	}
	add(event.ParticipantAdd, e.Join)
	add(event.ParticipantRemove, e.Leave)
	add(event.ParticipantPromote, e.Promote)
	add(event.ParticipantDemote, e.Demote)

	if self := t.self(); !self.IsEmpty() {
		for _, m := range e.Leave {
			if m.User == self.User {
				out = append(out, event.GroupLeave{GroupID: groupID})
				break
			}
		}
	}
	return out
}

func callEvent(meta types.BasicCallMeta, status string, video, group bool) event.Event {
	c := store.Call{
		ID:      meta.CallID,
		Caller:  jid.Normalize(meta.CallCreator),
		ChatID:  jid.Normalize(meta.From),
		IsGroup: group,
		IsVideo: video,
		Status:  status,
	}
	if c.Caller == "" {
		c.Caller = c.ChatID
	}
	if !meta.Timestamp.IsZero() {
		c.StartedAt = meta.Timestamp.Unix()
	}
	return event.Call{Call: c}
}

func blocklist(e *events.Blocklist) []event.Event {
	if e.Action != events.BlocklistActionModify {
		// Full list: every change names a blocked account. An empty list
		// clears the blocklist.
		jids := make([]string, 0, len(e.Changes))
		for _, c := range e.Changes {
			if c.Action == events.BlocklistChangeActionBlock {
				jids = append(jids, jid.Normalize(c.JID))
			}
		}
		return one(event.BlocklistSet{JIDs: jids})
	}

	var added, removed []string
	for _, c := range e.Changes {
		switch c.Action {
		case events.BlocklistChangeActionBlock:
			added = append(added, jid.Normalize(c.JID))
		case events.BlocklistChangeActionUnblock:
			removed = append(removed, jid.Normalize(c.JID))
		}
	}
	var out []event.Event
	if len(added) > 0 {
		out = append(out, event.BlocklistUpdate{Action: event.BlockAdd, JIDs: added})
	}
	if len(removed) > 0 {
		out = append(out, event.BlocklistUpdate{Action: event.BlockRemove, JIDs: removed})
	}
	return out
}
