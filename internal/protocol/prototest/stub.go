// Package prototest provides an in-memory protocol.Client for tests.
package prototest

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
)

// Client records commands and lets tests push events through the sink.
type Client struct {
	mu sync.Mutex

	LoggedIn   bool
	ConnectErr error
	LogoutErr  error
	Ident      protocol.Identity

	// BeforeConnect runs at the start of every Connect.
	BeforeConnect func()

	// SendFunc decides the outcome of each Send; nil means success.
	SendFunc func(to types.JID, p protocol.Payload) (protocol.SendResult, error)

	BlockedJIDs []types.JID
	Groups      []*types.GroupInfo
	ContactRows []store.Contact
	Aliases     map[types.JID]types.JID
	Pictures    map[types.JID]string
	Media       []byte

	connects    int
	disconnects int
	logouts     int
	sent        []types.JID
	typing      []bool
	qr          chan protocol.QREvent
	sink        func(event.Event)
}

// New returns a stub that has not paired yet.
func New() *Client {
	return &Client{}
}

// Factory returns a protocol.Factory that always hands out c.
func (c *Client) Factory() protocol.Factory {
	return func(context.Context, string, string, waLog.Logger) (protocol.Client, error) {
		return c, nil
	}
}

func (c *Client) Connect(ctx context.Context) error {
	if c.BeforeConnect != nil {
		c.BeforeConnect()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connects++
	return c.ConnectErr
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	c.disconnects++
	c.mu.Unlock()
}

func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	c.LoggedIn = false
	return c.LogoutErr
}

func (c *Client) IsLoggedIn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.LoggedIn
}

func (c *Client) QRChannel(ctx context.Context) (<-chan protocol.QREvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.qr = make(chan protocol.QREvent, 4)
	return c.qr, nil
}

// PushQR delivers a pairing channel item; it is dropped if no channel was requested.
func (c *Client) PushQR(ev protocol.QREvent) {
	c.mu.Lock()
	ch := c.qr
	c.mu.Unlock()
	if ch != nil {
		ch <- ev
	}
}

func (c *Client) Send(ctx context.Context, to types.JID, p protocol.Payload) (protocol.SendResult, error) {
	c.mu.Lock()
	c.sent = append(c.sent, to)
	fn := c.SendFunc
	c.mu.Unlock()
	if fn != nil {
		return fn(to, p)
	}
	return protocol.SendResult{MessageID: "MSG-" + to.User, Timestamp: time.Now()}, nil
}

func (c *Client) Identity() protocol.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Ident
}

func (c *Client) SetEventSink(sink func(event.Event)) {
	c.mu.Lock()
	c.sink = sink
	c.mu.Unlock()
}

// Emit pushes e through the sink as the protocol client would.
func (c *Client) Emit(e event.Event) {
	c.mu.Lock()
	sink := c.sink
	c.mu.Unlock()
	if sink != nil {
		sink(e)
	}
}

func (c *Client) FetchBlocklist(ctx context.Context) ([]types.JID, error) {
	return c.BlockedJIDs, nil
}

func (c *Client) JoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	return c.Groups, nil
}

func (c *Client) Contacts(ctx context.Context) ([]store.Contact, error) {
	return c.ContactRows, nil
}

func (c *Client) PhoneForAlias(ctx context.Context, alias types.JID) (types.JID, error) {
	if pn, ok := c.Aliases[alias]; ok {
		return pn, nil
	}
	return types.EmptyJID, errors.New("unknown alias")
}

func (c *Client) ProfilePictureURL(ctx context.Context, target types.JID) (string, error) {
	return c.Pictures[target], nil
}

func (c *Client) SendTyping(ctx context.Context, chat types.JID, typing bool) error {
	c.mu.Lock()
	c.typing = append(c.typing, typing)
	c.mu.Unlock()
	return nil
}

func (c *Client) Download(ctx context.Context, ref *event.MediaRef) ([]byte, error) {
	if c.Media == nil {
		return nil, errors.New("no media")
	}
	return c.Media, nil
}

func (c *Client) Connects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

func (c *Client) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

func (c *Client) Logouts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logouts
}

func (c *Client) Sent() []types.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]types.JID(nil), c.sent...)
}

func (c *Client) Typing() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.typing...)
}

// CoreOnly hides every capability of c.
func CoreOnly(c protocol.Client) protocol.Client {
	return coreOnly{c}
}

type coreOnly struct {
	protocol.Client
}
