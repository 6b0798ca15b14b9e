package protocol

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	wastore "go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"orion-gateway/internal/event"
	"orion-gateway/internal/extract"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

// WhatsmeowClient adapts whatsmeow.Client to Client and every capability interface.
type WhatsmeowClient struct {
	wa     *whatsmeow.Client
	device *wastore.Device
	log    waLog.Logger
	tr     *extract.Translator

	mu   sync.RWMutex
	sink func(event.Event)
}

var (
	_ Client                = (*WhatsmeowClient)(nil)
	_ BlocklistFetcher      = (*WhatsmeowClient)(nil)
	_ GroupLister           = (*WhatsmeowClient)(nil)
	_ ContactLister         = (*WhatsmeowClient)(nil)
	_ AliasResolver         = (*WhatsmeowClient)(nil)
	_ ProfilePictureFetcher = (*WhatsmeowClient)(nil)
	_ PresenceSender        = (*WhatsmeowClient)(nil)
	_ MediaDownloader       = (*WhatsmeowClient)(nil)
)

// NewWhatsmeowFactory returns a Factory whose clients keep their device
// credentials in st. deviceName is shown in the phone's linked-devices list.
func NewWhatsmeowFactory(st *store.Store, deviceName string) Factory {
	if deviceName != "" {
		wastore.DeviceProps.Os = proto.String(deviceName)
	}
	return func(ctx context.Context, sessionID, deviceJID string, log waLog.Logger) (Client, error) {
		device, err := st.Device(ctx, deviceJID)
		if err != nil {
			return nil, fmt.Errorf("failed to get device: %w", err)
		}
		return NewWhatsmeowClient(device, log), nil
	}
}

// NewWhatsmeowClient wraps a whatsmeow client for device. Reconnects are left
// to the session supervisor.
func NewWhatsmeowClient(device *wastore.Device, log waLog.Logger) *WhatsmeowClient {
	wa := whatsmeow.NewClient(device, log.Sub("whatsmeow"))
	wa.EnableAutoReconnect = false
	wa.AutoTrustIdentity = true

	c := &WhatsmeowClient{
		wa:     wa,
		device: device,
		log:    log.Sub("Client"),
	}
	c.tr = &extract.Translator{
		Self:     c.selfJID,
		PushName: func() string { return c.device.PushName },
	}
	wa.AddEventHandler(c.handle)
	return c
}

func (c *WhatsmeowClient) selfJID() types.JID {
	if c.device.ID == nil {
		return types.EmptyJID
	}
	return c.device.ID.ToNonAD()
}

func (c *WhatsmeowClient) handle(raw interface{}) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink == nil {
		return
	}
	for _, e := range c.tr.Translate(raw) {
		sink(e)
	}
}

// SetEventSink sets the function receiving normalized events.
func (c *WhatsmeowClient) SetEventSink(sink func(event.Event)) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

func (c *WhatsmeowClient) emit(e event.Event) {
	c.mu.RLock()
	sink := c.sink
	c.mu.RUnlock()
	if sink != nil {
		sink(e)
	}
}

// Connect opens the websocket.
func (c *WhatsmeowClient) Connect(ctx context.Context) error {
	if c.IsLoggedIn() {
		c.log.Infof("Credentials found, connecting as %s", c.selfJID())
	} else {
		c.log.Infof("Not logged in, pairing with QR code")
	}
	return c.wa.Connect()
}

// Disconnect closes the websocket without emitting a close event.
func (c *WhatsmeowClient) Disconnect() {
	c.wa.Disconnect()
}

// Logout invalidates the credentials on the server and deletes them locally.
func (c *WhatsmeowClient) Logout(ctx context.Context) error {
	return c.wa.Logout(ctx)
}

// IsLoggedIn returns true if the client has stored credentials.
func (c *WhatsmeowClient) IsLoggedIn() bool {
	return c.device.ID != nil
}

// Identity returns the paired account, zero before pairing.
func (c *WhatsmeowClient) Identity() Identity {
	self := c.selfJID()
	return Identity{JID: self, Phone: jid.Phone(self), PushName: c.device.PushName}
}

// QRChannel converts whatsmeow's pairing channel.
func (c *WhatsmeowClient) QRChannel(ctx context.Context) (<-chan QREvent, error) {
	in, err := c.wa.GetQRChannel(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan QREvent, 1)
	go func() {
		defer close(out)
		for item := range in {
			var ev QREvent
			switch item.Event {
			case "code":
				ev = QREvent{Kind: QRCode, Code: item.Code}
			case "success":
				ev = QREvent{Kind: QRSuccess}
			case "timeout":
				ev = QREvent{Kind: QRTimeout}
			default:
				err := item.Error
				if err == nil {
					err = errors.New(item.Event)
				}
				ev = QREvent{Kind: QRError, Err: err}
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Send sends a text message and reports it to the sink as an own message.
func (c *WhatsmeowClient) Send(ctx context.Context, to types.JID, p Payload) (SendResult, error) {
	if !c.wa.IsConnected() {
		return SendResult{}, ErrNotConnected
	}

	msg := buildMessage(p)
	id := c.wa.GenerateMessageID()
	resp, err := c.wa.SendMessage(ctx, to, msg, whatsmeow.SendRequestExtra{ID: id})

	out := event.Message{Message: store.Message{
		ChatID:  jid.Normalize(to),
		ID:      id,
		Sender:  jid.Normalize(c.selfJID()),
		FromMe:  true,
		Type:    "text",
		Content: p.Text,
	}}
	if err != nil {
		out.Status = string(event.StatusFailed)
		c.emit(event.MessagesUpsert{Type: event.UpsertAppend, Messages: []event.Message{out}})
		return SendResult{MessageID: id}, fmt.Errorf("failed to send message: %w", err)
	}

	out.Status = string(event.StatusSent)
	out.Timestamp = resp.Timestamp.Unix()
	c.emit(event.MessagesUpsert{Type: event.UpsertAppend, Messages: []event.Message{out}})
	return SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func buildMessage(p Payload) *waE2E.Message {
	if len(p.Mentions) == 0 {
		return &waE2E.Message{Conversation: proto.String(p.Text)}
	}
	mentions := make([]string, len(p.Mentions))
	for i, m := range p.Mentions {
		mentions[i] = m.String()
	}
	return &waE2E.Message{ExtendedTextMessage: &waE2E.ExtendedTextMessage{
		Text:        proto.String(p.Text),
		ContextInfo: &waE2E.ContextInfo{MentionedJID: mentions},
	}}
}

// FetchBlocklist implements BlocklistFetcher.
func (c *WhatsmeowClient) FetchBlocklist(ctx context.Context) ([]types.JID, error) {
	bl, err := c.wa.GetBlocklist(ctx)
	if err != nil {
		return nil, err
	}
	if bl == nil {
		return nil, nil
	}
	return bl.JIDs, nil
}

// JoinedGroups implements GroupLister.
func (c *WhatsmeowClient) JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	return c.wa.GetJoinedGroups(ctx)
}

// Contacts implements ContactLister from the device's contact store.
func (c *WhatsmeowClient) Contacts(ctx context.Context) ([]store.Contact, error) {
	all, err := c.wa.Store.Contacts.GetAllContacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]store.Contact, 0, len(all))
	for j, info := range all {
		name := info.FullName
		if name == "" {
			name = info.FirstName
		}
		ct := store.Contact{
			ID:           jid.Normalize(j),
			Phone:        jid.Phone(j),
			Name:         name,
			Notify:       info.PushName,
			VerifiedName: info.BusinessName,
		}
		if jid.IsLID(j) {
			ct.LID = ct.ID
		}
		out = append(out, ct)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out, nil
}

// PhoneForAlias implements AliasResolver from the device's LID map.
func (c *WhatsmeowClient) PhoneForAlias(ctx context.Context, alias types.JID) (types.JID, error) {
	return c.wa.Store.LIDs.GetPNForLID(ctx, alias)
}

// ProfilePictureURL implements ProfilePictureFetcher.
func (c *WhatsmeowClient) ProfilePictureURL(ctx context.Context, target types.JID) (string, error) {
	pic, err := c.wa.GetProfilePictureInfo(ctx, target, &whatsmeow.GetProfilePictureParams{})
	if err != nil || pic == nil {
		return "", err
	}
	return pic.URL, nil
}

// SendTyping implements PresenceSender.
func (c *WhatsmeowClient) SendTyping(ctx context.Context, chat types.JID, typing bool) error {
	state := types.ChatPresencePaused
	if typing {
		state = types.ChatPresenceComposing
	}
	return c.wa.SendChatPresence(ctx, chat, state, types.ChatPresenceMediaText)
}

// Download implements MediaDownloader.
func (c *WhatsmeowClient) Download(ctx context.Context, ref *event.MediaRef) ([]byte, error) {
	return c.wa.DownloadMediaWithPath(
		ctx,
		ref.DirectPath,
		ref.FileEncSHA256,
		ref.FileSHA256,
		ref.MediaKey,
		int(ref.FileLength),
		whatsmeowMediaType(ref.Type),
		"",
	)
}

func whatsmeowMediaType(mediaType string) whatsmeow.MediaType {
	switch mediaType {
	case "image", "sticker":
		return whatsmeow.MediaImage
	case "video":
		return whatsmeow.MediaVideo
	case "audio":
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}
