package extract

import (
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/encoding/protojson"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/jid"
)

// MessageFromEvent converts an incoming or echoed message into its normalized form.
func MessageFromEvent(evt *events.Message) event.Message {
	status := event.StatusDelivered
	if evt.Info.IsFromMe {
		status = event.StatusSent
	}

	m := event.Message{
		Message: store.Message{
			ChatID:    jid.Normalize(evt.Info.Chat),
			ID:        evt.Info.ID,
			Sender:    jid.Normalize(evt.Info.Sender),
			PushName:  evt.Info.PushName,
			FromMe:    evt.Info.IsFromMe,
			Type:      determineMessageType(evt.Message),
			Content:   textContent(evt.Message),
			Timestamp: evt.Info.Timestamp.Unix(),
			Status:    string(status),
		},
	}

	if evt.Message != nil {
		if raw, err := protojson.Marshal(evt.Message); err == nil {
			m.Raw = raw
		}
	}

	if media := extractMedia(evt.Message); media != nil {
		m.Media = media
		m.MediaType = media.Type
		m.Caption = mediaCaption(evt.Message)
	}
	return m
}

func textContent(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if txt := msg.GetConversation(); txt != "" {
		return txt
	}
	if ext := msg.GetExtendedTextMessage(); ext != nil {
		return ext.GetText()
	}
	if loc := msg.GetLocationMessage(); loc != nil {
		return loc.GetName()
	}
	if c := msg.GetContactMessage(); c != nil {
		return c.GetDisplayName()
	}
	if r := msg.GetReactionMessage(); r != nil {
		return r.GetText()
	}
	if p := msg.GetPollCreationMessage(); p != nil {
		return p.GetName()
	}
	return ""
}

// determineMessageType maps the populated protobuf field to a message type name.
func determineMessageType(msg *waE2E.Message) string {
	if msg == nil {
		return "unknown"
	}

	switch {
	case msg.GetConversation() != "", msg.GetExtendedTextMessage() != nil:
		return "text"
	case msg.GetImageMessage() != nil:
		return "image"
	case msg.GetVideoMessage() != nil:
		if msg.GetVideoMessage().GetGifPlayback() {
			return "gif"
		}
		return "video"
	case msg.GetPtvMessage() != nil:
		return "ptv"
	case msg.GetAudioMessage() != nil:
		if msg.GetAudioMessage().GetPTT() {
			return "ptt"
		}
		return "audio"
	case msg.GetDocumentMessage() != nil, msg.GetDocumentWithCaptionMessage() != nil:
		return "document"
	case msg.GetStickerMessage() != nil:
		return "sticker"
	case msg.GetLocationMessage() != nil:
		return "location"
	case msg.GetLiveLocationMessage() != nil:
		return "live_location"
	case msg.GetContactMessage() != nil:
		return "contact"
	case msg.GetContactsArrayMessage() != nil:
		return "contacts"
	case msg.GetPollCreationMessage() != nil || msg.GetPollCreationMessageV2() != nil || msg.GetPollCreationMessageV3() != nil:
		return "poll"
	case msg.GetPollUpdateMessage() != nil:
		return "poll_update"
	case msg.GetReactionMessage() != nil:
		return "reaction"
	case msg.GetProtocolMessage() != nil:
		return protocolType(msg.GetProtocolMessage())
	case msg.GetViewOnceMessage() != nil, msg.GetViewOnceMessageV2() != nil:
		return "view_once"
	case msg.GetGroupInviteMessage() != nil:
		return "group_invite"
	default:
		return "unknown"
	}
}

func protocolType(pm *waE2E.ProtocolMessage) string {
	switch pm.GetType() {
	case waE2E.ProtocolMessage_REVOKE:
		return "revoke"
	case waE2E.ProtocolMessage_MESSAGE_EDIT:
		return "edit"
	case waE2E.ProtocolMessage_EPHEMERAL_SETTING:
		return "ephemeral_setting"
	case waE2E.ProtocolMessage_HISTORY_SYNC_NOTIFICATION:
		return "history_sync"
	default:
		return "protocol"
	}
}

type downloadable interface {
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
	GetFileLength() uint64
	GetMimetype() string
}

func mediaRef(kind string, d downloadable) *event.MediaRef {
	if d.GetDirectPath() == "" {
		return nil
	}
	return &event.MediaRef{
		Type:          kind,
		DirectPath:    d.GetDirectPath(),
		MediaKey:      d.GetMediaKey(),
		FileSHA256:    d.GetFileSHA256(),
		FileEncSHA256: d.GetFileEncSHA256(),
		FileLength:    int64(d.GetFileLength()),
		Mimetype:      d.GetMimetype(),
	}
}

// extractMedia returns download coordinates for media messages, or nil.
func extractMedia(msg *waE2E.Message) *event.MediaRef {
	if msg == nil {
		return nil
	}
	switch {
	case msg.GetImageMessage() != nil:
		return mediaRef("image", msg.GetImageMessage())
	case msg.GetVideoMessage() != nil:
		return mediaRef("video", msg.GetVideoMessage())
	case msg.GetPtvMessage() != nil:
		return mediaRef("video", msg.GetPtvMessage())
	case msg.GetAudioMessage() != nil:
		return mediaRef("audio", msg.GetAudioMessage())
	case msg.GetStickerMessage() != nil:
		return mediaRef("sticker", msg.GetStickerMessage())
	case msg.GetDocumentMessage() != nil:
		ref := mediaRef("document", msg.GetDocumentMessage())
		if ref != nil {
			ref.Filename = msg.GetDocumentMessage().GetFileName()
		}
		return ref
	case msg.GetDocumentWithCaptionMessage() != nil:
		return extractMedia(msg.GetDocumentWithCaptionMessage().GetMessage())
	case msg.GetViewOnceMessage() != nil:
		return extractMedia(msg.GetViewOnceMessage().GetMessage())
	case msg.GetViewOnceMessageV2() != nil:
		return extractMedia(msg.GetViewOnceMessageV2().GetMessage())
	}
	return nil
}

func mediaCaption(msg *waE2E.Message) string {
	switch {
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	case msg.GetDocumentWithCaptionMessage() != nil:
		return mediaCaption(msg.GetDocumentWithCaptionMessage().GetMessage())
	}
	return ""
}
