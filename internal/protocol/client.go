// Package protocol defines what the session supervisor needs from a
// messaging protocol client, and the optional capabilities a client may
// offer. Capabilities are probed with the Supports* helpers.
package protocol

import (
	"context"
	"errors"
	"time"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
)

// ErrNotConnected is returned by commands issued while the client is offline.
var ErrNotConnected = errors.New("protocol client not connected")

// QRKind classifies a pairing channel item.
type QRKind int

const (
	QRCode QRKind = iota
	QRSuccess
	QRTimeout
	QRError
)

// QREvent is one item of the pairing channel.
type QREvent struct {
	Kind QRKind
	Code string
	Err  error
}

// Identity is the account a client is logged in as.
type Identity struct {
	JID      types.JID
	Phone    string
	PushName string
}

// Payload is an outbound message.
type Payload struct {
	Text     string      `json:"text"`
	Mentions []types.JID `json:"mentions,omitempty"`
}

// SendResult describes an accepted outbound message.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// Client is one protocol connection. Events are pushed to the sink set with
// SetEventSink in arrival order.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	Logout(ctx context.Context) error
	IsLoggedIn() bool
	// QRChannel must be requested before Connect on an unpaired client.
	QRChannel(ctx context.Context) (<-chan QREvent, error)
	Send(ctx context.Context, to types.JID, p Payload) (SendResult, error)
	Identity() Identity
	SetEventSink(sink func(event.Event))
}

// Factory builds the client for a session. deviceJID is empty for a session
// that has never paired.
type Factory func(ctx context.Context, sessionID, deviceJID string, log waLog.Logger) (Client, error)

// BlocklistFetcher returns the account's full blocklist.
type BlocklistFetcher interface {
	FetchBlocklist(ctx context.Context) ([]types.JID, error)
}

// GroupLister returns every group the account is a member of.
type GroupLister interface {
	JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
}

// ContactLister returns the contacts known to the device store.
type ContactLister interface {
	Contacts(ctx context.Context) ([]store.Contact, error)
}

// AliasResolver maps a hidden-user alias (LID) to its phone-number address.
type AliasResolver interface {
	PhoneForAlias(ctx context.Context, alias types.JID) (types.JID, error)
}

// ProfilePictureFetcher returns the current profile picture URL of an address.
type ProfilePictureFetcher interface {
	ProfilePictureURL(ctx context.Context, jid types.JID) (string, error)
}

// PresenceSender shows or clears the typing indicator in a chat.
type PresenceSender interface {
	SendTyping(ctx context.Context, chat types.JID, typing bool) error
}

// MediaDownloader fetches and decrypts message media.
type MediaDownloader interface {
	Download(ctx context.Context, ref *event.MediaRef) ([]byte, error)
}

func SupportsBlocklist(c Client) (BlocklistFetcher, bool) {
	f, ok := c.(BlocklistFetcher)
	return f, ok
}

func SupportsGroups(c Client) (GroupLister, bool) {
	f, ok := c.(GroupLister)
	return f, ok
}

func SupportsContacts(c Client) (ContactLister, bool) {
	f, ok := c.(ContactLister)
	return f, ok
}

func SupportsAliases(c Client) (AliasResolver, bool) {
	f, ok := c.(AliasResolver)
	return f, ok
}

func SupportsProfilePictures(c Client) (ProfilePictureFetcher, bool) {
	f, ok := c.(ProfilePictureFetcher)
	return f, ok
}

func SupportsPresence(c Client) (PresenceSender, bool) {
	f, ok := c.(PresenceSender)
	return f, ok
}

func SupportsMedia(c Client) (MediaDownloader, bool) {
	f, ok := c.(MediaDownloader)
	return f, ok
}
