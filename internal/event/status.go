package event

// Status is the delivery status of a message.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusPlayed    Status = "played"
	StatusFailed    Status = "failed"
)

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusPlayed:    4,
}

// ParseStatus returns the Status named s, or "" for unknown names.
func ParseStatus(s string) Status {
	st := Status(s)
	if _, ok := statusRank[st]; ok || st == StatusFailed {
		return st
	}
	return ""
}

// IsRead reports whether a message in this status no longer counts as unread.
func (s Status) IsRead() bool {
	return s == StatusRead || s == StatusPlayed
}

// Unread reports whether an inbound message in status s counts toward its
// chat's unread counter.
func Unread(fromMe bool, s Status) bool {
	return !fromMe && !s.IsRead()
}

// MergeStatus returns the status a stored message moves to when next is
// observed. Status never moves backwards; failed is only reachable from
// pending or sent, and a failed message can still be delivered later.
func MergeStatus(current, next Status) Status {
	switch {
	case next == "":
		return current
	case current == "":
		return next
	case next == StatusFailed:
		if current == StatusPending || current == StatusSent {
			return StatusFailed
		}
		return current
	case current == StatusFailed:
		if statusRank[next] >= statusRank[StatusDelivered] {
			return next
		}
		return current
	case statusRank[next] > statusRank[current]:
		return next
	default:
		return current
	}
}
