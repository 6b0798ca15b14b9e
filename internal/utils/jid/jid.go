package jid

import (
	"strings"

	"go.mau.fi/whatsmeow/types"
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
)

// Parse parses a JID string into types.JID.
func Parse(jidStr string) (types.JID, error) {
	return types.ParseJID(jidStr)
}

// FromPhone creates a user JID from a phone number, dropping every non-digit.
func FromPhone(phone string) types.JID {
	return types.JID{
		User:   digits(phone),
		Server: types.DefaultUserServer,
	}
}

// ParseRecipient normalizes a bulk or send target. It accepts a phone number
// in any common notation or a full user, group or LID address.
func ParseRecipient(raw string) (types.JID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return types.JID{}, Invalid(CodeEmptyRecipient, "recipient is empty")
	}

	if strings.Contains(raw, "@") {
		j, err := types.ParseJID(raw)
		if err != nil {
			return types.JID{}, Wrap(CodeMalformedRecipient, "malformed address "+raw, err)
		}
		switch j.Server {
		case types.DefaultUserServer, types.HiddenUserServer:
			if j.User == "" {
				return types.JID{}, Invalid(CodeMalformedRecipient, "address has no user part: "+raw)
			}
			return ToUserJID(j), nil
		case types.GroupServer:
			if j.User == "" {
				return types.JID{}, Invalid(CodeMalformedRecipient, "group address has no id: "+raw)
			}
			return j, nil
		default:
			return types.JID{}, Invalid(CodeUnsupportedServer, "unsupported address server "+j.Server)
		}
	}

	if strings.IndexFunc(raw, func(r rune) bool {
		return !(r >= '0' && r <= '9') && !strings.ContainsRune("+-() .", r)
	}) >= 0 {
		return types.JID{}, Invalid(CodeMalformedRecipient, "phone number contains invalid characters: "+raw)
	}

	d := digits(raw)
	if len(d) < minPhoneDigits || len(d) > maxPhoneDigits {
		return types.JID{}, Invalid(CodeMalformedRecipient, "phone number must have 7 to 15 digits: "+raw)
	}
	return types.JID{User: d, Server: types.DefaultUserServer}, nil
}

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// Normalize returns the canonical string form of an address: device and agent
// parts are dropped for users, other servers are returned unchanged.
func Normalize(j types.JID) string {
	if j.IsEmpty() {
		return ""
	}
	if IsUser(j) {
		return ToUserJID(j).String()
	}
	return j.String()
}

// NormalizeString is Normalize for raw strings. Unparseable input is returned trimmed.
func NormalizeString(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	j, err := types.ParseJID(s)
	if err != nil {
		return s
	}
	return Normalize(j)
}

// IsUser returns true if the JID is a user (not group/newsletter).
func IsUser(jid types.JID) bool {
	return jid.Server == types.DefaultUserServer || jid.Server == types.HiddenUserServer
}

// IsGroup returns true if the JID is a group.
func IsGroup(jid types.JID) bool {
	return jid.Server == types.GroupServer
}

// IsGroupString reports whether s addresses a group chat.
func IsGroupString(s string) bool {
	return strings.HasSuffix(s, "@"+types.GroupServer)
}

// IsStatus returns true if the JID is a status broadcast.
func IsStatus(jid types.JID) bool {
	return jid.User == "status" && jid.Server == types.BroadcastServer
}

// IsLID returns true if this JID is a LID (local identifier).
func IsLID(jid types.JID) bool {
	return jid.Server == types.HiddenUserServer
}

// ToUserJID strips device info and returns the base user JID.
func ToUserJID(jid types.JID) types.JID {
	return types.JID{
		User:   jid.User,
		Server: jid.Server,
	}
}

// Phone returns the phone number of a PN address, or "".
func Phone(jid types.JID) string {
	if jid.Server != types.DefaultUserServer {
		return ""
	}
	return jid.User
}
