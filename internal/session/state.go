package session

import (
	"errors"
	"sync"

	"orion-gateway/internal/event"
	"orion-gateway/internal/store"
)

// State is the connection state of a session.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateQRReady      State = "qr_ready"
	StateConnected    State = "connected"
	StateError        State = "error"
)

var (
	// ErrConnectInFlight is returned by Connect while a previous connect has not settled.
	ErrConnectInFlight = errors.New("connect already in progress")
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by operations on a session after Close.
	ErrSessionClosed = errors.New("session closed")
	// ErrInvalidWebhook rejects subscriptions without a URL.
	ErrInvalidWebhook = errors.New("webhook url is required")
)

// Snapshot is the externally visible state of a session.
type Snapshot struct {
	SessionID         string                      `json:"sessionId"`
	Status            State                       `json:"status"`
	IsConnected       bool                        `json:"isConnected"`
	Terminal          bool                        `json:"terminal"`
	PhoneNumber       string                      `json:"phoneNumber,omitempty"`
	Name              string                      `json:"name,omitempty"`
	QR                string                      `json:"qr,omitempty"`
	Owner             string                      `json:"owner,omitempty"`
	Metadata          map[string]string           `json:"metadata"`
	Webhooks          []store.WebhookSubscription `json:"webhooks"`
	ReconnectAttempts int                         `json:"reconnectAttempts"`
	LastError         string                      `json:"lastError,omitempty"`
}

// Listener observes the events of a session after they were stored.
type Listener func(sessionID string, e event.Event)

// Emitter pushes events to a real-time channel, such as browser sockets.
// Emit must not block.
type Emitter interface {
	Emit(sessionID string, e event.Event)
}

// NopEmitter discards everything.
type NopEmitter struct{}

func (NopEmitter) Emit(string, event.Event) {}

type listenerSet struct {
	mu   sync.Mutex
	next int
	m    map[int]Listener
}

func (l *listenerSet) add(fn Listener) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[int]Listener)
	}
	id := l.next
	l.next++
	l.m[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.m, id)
		l.mu.Unlock()
	}
}

func (l *listenerSet) all() []Listener {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Listener, 0, len(l.m))
	for i := 0; i < l.next; i++ {
		if fn, ok := l.m[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}
