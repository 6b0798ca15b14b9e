// Package event defines the normalized, protocol-independent events that flow
// from a session's protocol client through its queue to the ingestion
// pipeline, webhooks and listeners.
package event

import (
	"orion-gateway/internal/store"
)

// Name is the public event name used by webhook filters.
type Name string

const (
	NameAll Name = "all"

	NameQR               Name = "qr"
	NameConnectionUpdate Name = "connection.update"
	NameConnectionOpen   Name = "connection.open"
	NameLoggedOut        Name = "logged_out"
	NameReconnectFailed  Name = "reconnect_failed"

	NameChatsSet    Name = "chats.set"
	NameChatsUpsert Name = "chats.upsert"
	NameChatsUpdate Name = "chats.update"
	NameChatsDelete Name = "chats.delete"

	NameContactsUpsert Name = "contacts.upsert"
	NameContactsUpdate Name = "contacts.update"

	NameMessagesUpsert Name = "messages.upsert"
	NameMessagesUpdate Name = "messages.update"
	NameReceiptUpdate  Name = "message-receipt.update"

	NameGroupsUpsert      Name = "groups.upsert"
	NameGroupsUpdate      Name = "groups.update"
	NameGroupParticipants Name = "group-participants.update"
	NameGroupLeave        Name = "groups.leave"

	NameCall Name = "call"

	NameBlocklistSet    Name = "blocklist.set"
	NameBlocklistUpdate Name = "blocklist.update"
)

// Event is one tagged event variant.
type Event interface {
	EventName() Name
}

// ============================================================================
// Connection lifecycle
// ============================================================================

// CloseCause classifies a closed connection.
type CloseCause int

const (
	// CauseRecoverable closes are retried under the reconnect policy.
	CauseRecoverable CloseCause = iota
	// CauseLoggedOut means the far end invalidated the credentials.
	CauseLoggedOut
	// CauseFatal closes (ban, replaced stream, outdated client) stop the session in the error state.
	CauseFatal
)

func (c CloseCause) String() string {
	switch c {
	case CauseRecoverable:
		return "recoverable"
	case CauseLoggedOut:
		return "logged_out"
	case CauseFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// QRCode is a pairing challenge from the protocol client.
type QRCode struct {
	Code    string `json:"-"`
	DataURL string `json:"qr"`
}

// Connected reports an open, authenticated connection.
type Connected struct {
	DeviceJID string `json:"deviceJid"`
	Phone     string `json:"phoneNumber"`
	Name      string `json:"name"`
}

// PairSuccess reports that a QR scan linked a new device.
type PairSuccess struct {
	DeviceJID string `json:"deviceJid"`
}

// ConnectionClosed reports a dropped connection.
type ConnectionClosed struct {
	Cause  CloseCause `json:"-"`
	Reason string     `json:"reason"`
}

// ConnectionUpdate is the lifecycle notification emitted on every state change.
type ConnectionUpdate struct {
	State   string `json:"state"`
	Reason  string `json:"reason,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// ReconnectFailed is emitted once the reconnect policy is exhausted.
type ReconnectFailed struct {
	Attempts int    `json:"attempts"`
	Reason   string `json:"reason"`
}

// LoggedOut is emitted when a session reaches terminal disconnected.
type LoggedOut struct {
	Reason string `json:"reason"`
}

func (QRCode) EventName() Name           { return NameQR }
func (Connected) EventName() Name        { return NameConnectionOpen }
func (PairSuccess) EventName() Name      { return NameConnectionUpdate }
func (ConnectionClosed) EventName() Name { return NameConnectionUpdate }
func (ConnectionUpdate) EventName() Name { return NameConnectionUpdate }
func (ReconnectFailed) EventName() Name  { return NameReconnectFailed }
func (LoggedOut) EventName() Name        { return NameLoggedOut }

// ============================================================================
// Data events
// ============================================================================

// Action distinguishes set, upsert and update variants of the same entity event.
type Action string

const (
	ActionSet    Action = "set"
	ActionUpsert Action = "upsert"
	ActionUpdate Action = "update"
)

// Chats carries chat rows. Set marks a full sync from history.
type Chats struct {
	Action Action            `json:"action"`
	Chats  []store.ChatPatch `json:"chats"`
}

func (e Chats) EventName() Name {
	switch e.Action {
	case ActionSet:
		return NameChatsSet
	case ActionUpdate:
		return NameChatsUpdate
	default:
		return NameChatsUpsert
	}
}

// ChatsDelete removes chats and their messages.
type ChatsDelete struct {
	ChatIDs []string `json:"chatIds"`
}

func (ChatsDelete) EventName() Name { return NameChatsDelete }

// ChatRead is a read marker covering a whole chat.
type ChatRead struct {
	ChatID string `json:"chatId"`
}

func (ChatRead) EventName() Name { return NameChatsUpdate }

// Contacts carries contact observations. Only non-empty fields are meaningful.
type Contacts struct {
	Action   Action          `json:"action"`
	Contacts []store.Contact `json:"contacts"`
}

func (e Contacts) EventName() Name {
	if e.Action == ActionUpdate {
		return NameContactsUpdate
	}
	return NameContactsUpsert
}

// UpsertType is the delivery type of a message batch.
type UpsertType string

const (
	UpsertNotify  UpsertType = "notify"
	UpsertAppend  UpsertType = "append"
	UpsertHistory UpsertType = "history"
)

// Persisted reports whether a batch of this type is stored.
func (t UpsertType) Persisted() bool {
	return t == UpsertNotify || t == UpsertAppend
}

// MediaRef locates downloadable media of a message.
type MediaRef struct {
	Type          string `json:"type"`
	DirectPath    string `json:"-"`
	MediaKey      []byte `json:"-"`
	FileSHA256    []byte `json:"-"`
	FileEncSHA256 []byte `json:"-"`
	FileLength    int64  `json:"fileLength"`
	Mimetype      string `json:"mimetype"`
	Filename      string `json:"filename,omitempty"`
}

// Message is one normalized message.
type Message struct {
	store.Message
	Media *MediaRef `json:"media,omitempty"`
}

// MessagesUpsert carries new or re-delivered messages.
type MessagesUpsert struct {
	Type     UpsertType `json:"type"`
	Messages []Message  `json:"messages"`
}

func (MessagesUpsert) EventName() Name { return NameMessagesUpsert }

// StatusUpdate moves one message to a new delivery status.
type StatusUpdate struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
}

// MessagesUpdate patches message status from the sender side.
type MessagesUpdate struct {
	Updates []StatusUpdate `json:"updates"`
}

func (MessagesUpdate) EventName() Name { return NameMessagesUpdate }

// ReceiptUpdate patches message status from delivery/read receipts.
type ReceiptUpdate struct {
	Updates []StatusUpdate `json:"updates"`
}

func (ReceiptUpdate) EventName() Name { return NameReceiptUpdate }

// Groups carries group metadata.
type Groups struct {
	Action Action             `json:"action"`
	Groups []store.GroupPatch `json:"groups"`
}

func (e Groups) EventName() Name {
	if e.Action == ActionUpdate {
		return NameGroupsUpdate
	}
	return NameGroupsUpsert
}

// ParticipantAction is a group membership change.
type ParticipantAction string

const (
	ParticipantAdd     ParticipantAction = "add"
	ParticipantRemove  ParticipantAction = "remove"
	ParticipantPromote ParticipantAction = "promote"
	ParticipantDemote  ParticipantAction = "demote"
)

// GroupParticipants applies one membership action to a set of members.
type GroupParticipants struct {
	GroupID      string            `json:"groupId"`
	Action       ParticipantAction `json:"action"`
	Participants []string          `json:"participants"`
}

func (GroupParticipants) EventName() Name { return NameGroupParticipants }

// GroupLeave means the session's account left the group.
type GroupLeave struct {
	GroupID string `json:"groupId"`
}

func (GroupLeave) EventName() Name { return NameGroupLeave }

// Call reports a call offer or a status change of a call.
type Call struct {
	store.Call
}

func (Call) EventName() Name { return NameCall }

// BlocklistSet replaces the whole blocklist.
type BlocklistSet struct {
	JIDs []string `json:"jids"`
}

func (BlocklistSet) EventName() Name { return NameBlocklistSet }

// BlockAction is an incremental blocklist change.
type BlockAction string

const (
	BlockAdd    BlockAction = "add"
	BlockRemove BlockAction = "remove"
)

// BlocklistUpdate applies one incremental blocklist change.
type BlocklistUpdate struct {
	Action BlockAction `json:"action"`
	JIDs   []string    `json:"jids"`
}

func (BlocklistUpdate) EventName() Name { return NameBlocklistUpdate }
