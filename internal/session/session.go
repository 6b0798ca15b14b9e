// Package session supervises protocol sessions.
//
// Each Session owns one protocol client, a bounded event queue and a single
// worker goroutine that drains the queue in arrival order. The worker drives
// the connection state machine, hands data events to the ingestion pipeline
// and then notifies webhooks, the emitter and listeners.
package session

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/event"
	"orion-gateway/internal/infra/config"
	"orion-gateway/internal/ingest"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
	"orion-gateway/internal/utils/retry"
	"orion-gateway/internal/webhook"
)

// Notifier relays events to webhook subscribers.
type Notifier interface {
	Send(t webhook.Target, e event.Event)
}

// MediaPurger removes downloaded media of a session.
type MediaPurger interface {
	Purge(sessionID string) error
}

// Deps are the collaborators shared by every session of a Registry.
type Deps struct {
	Store    *store.Store
	Pipeline *ingest.Pipeline
	Factory  protocol.Factory

	// Optional.
	Webhooks Notifier
	Emitter  Emitter
	Media    MediaPurger

	Reconnect config.ReconnectConfig
	QueueSize int

	Log waLog.Logger

	listeners listenerSet
}

type item struct {
	gen uint64
	e   event.Event
}

// Session is one supervised protocol session.
type Session struct {
	id   string
	deps *Deps
	log  waLog.Logger

	queue     chan item
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	listeners listenerSet

	// cfgMu serializes persisted configuration changes.
	cfgMu sync.Mutex
	// storeMu is held by the worker across a generation check and the write
	// that follows it, and by terminate across the purge.
	storeMu sync.Mutex

	mu         sync.Mutex
	state      State
	terminal   bool
	connecting bool
	closed     bool
	gen        uint64 // bumped on logout; events from older clients are dropped
	client     protocol.Client
	attempts   int
	timer      *time.Timer
	qrCancel   context.CancelFunc
	qr         string
	resynced   bool
	lastError  string
	owner      string
	deviceJID  string
	phone      string
	name       string
	metadata   map[string]string
	webhooks   []store.WebhookSubscription
}

func newSession(rec *store.SessionRecord, deps *Deps) *Session {
	size := deps.QueueSize
	if size <= 0 {
		size = 256
	}
	s := &Session{
		id:        rec.ID,
		deps:      deps,
		log:       deps.Log.Sub(rec.ID),
		queue:     make(chan item, size),
		done:      make(chan struct{}),
		state:     StateDisconnected,
		owner:     rec.Owner,
		deviceJID: rec.DeviceJID,
		phone:     rec.Phone,
		name:      rec.DisplayName,
		metadata:  maps.Clone(rec.Metadata),
		webhooks:  append([]store.WebhookSubscription(nil), rec.Webhooks...),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Listen registers fn for every event of this session. The returned
// function unregisters it.
func (s *Session) Listen(fn Listener) func() {
	return s.listeners.add(fn)
}

// Snapshot returns the current externally visible state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	md := maps.Clone(s.metadata)
	if md == nil {
		md = map[string]string{}
	}
	return Snapshot{
		SessionID:         s.id,
		Status:            s.state,
		IsConnected:       s.state == StateConnected,
		Terminal:          s.terminal,
		PhoneNumber:       s.phone,
		Name:              s.name,
		QR:                s.qr,
		Owner:             s.owner,
		Metadata:          md,
		Webhooks:          append([]store.WebhookSubscription{}, s.webhooks...),
		ReconnectAttempts: s.attempts,
		LastError:         s.lastError,
	}
}

// Client returns the live protocol client, or protocol.ErrNotConnected.
func (s *Session) Client() (protocol.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil || s.state != StateConnected {
		return nil, protocol.ErrNotConnected
	}
	return s.client, nil
}

// ============================================================================
// Connection control
// ============================================================================

// Connect starts the protocol client. It returns nil when already connected
// and ErrConnectInFlight while a previous connect is pending. A successful
// return means the client was started, not that the connection is open.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.state == StateConnected:
		s.mu.Unlock()
		return nil
	case s.connecting:
		s.mu.Unlock()
		return ErrConnectInFlight
	}
	s.stopTimerLocked()
	s.terminal = false
	s.attempts = 0
	s.lastError = ""
	s.connecting = true
	s.state = StateConnecting
	gen := s.gen
	s.mu.Unlock()

	s.push(gen, event.ConnectionUpdate{State: string(StateConnecting)})
	return s.dial(ctx, gen)
}

func (s *Session) dial(ctx context.Context, gen uint64) error {
	client, err := s.ensureClient(ctx, gen)
	if err != nil {
		s.push(gen, event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: err.Error()})
		return err
	}

	if !client.IsLoggedIn() {
		qrCtx, cancel := context.WithCancel(context.Background())
		ch, err := client.QRChannel(qrCtx)
		if err != nil {
			cancel()
			s.push(gen, event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: err.Error()})
			return fmt.Errorf("request pairing channel: %w", err)
		}
		s.mu.Lock()
		if s.qrCancel != nil {
			s.qrCancel()
		}
		s.qrCancel = cancel
		s.mu.Unlock()
		go s.forwardQR(gen, ch)
	}

	// A logout or close since ensureClient has already disconnected client.
	s.mu.Lock()
	superseded := gen != s.gen || s.closed || s.client != client
	s.mu.Unlock()
	if superseded {
		return ErrSessionClosed
	}

	if err := client.Connect(ctx); err != nil {
		s.push(gen, event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: err.Error()})
		return fmt.Errorf("connect session %s: %w", s.id, err)
	}

	s.mu.Lock()
	superseded = gen != s.gen || s.closed || s.client != client
	s.mu.Unlock()
	if superseded {
		client.Disconnect()
		return ErrSessionClosed
	}
	return nil
}

func (s *Session) ensureClient(ctx context.Context, gen uint64) (protocol.Client, error) {
	s.mu.Lock()
	if s.client != nil {
		c := s.client
		s.mu.Unlock()
		return c, nil
	}
	device := s.deviceJID
	s.mu.Unlock()

	c, err := s.deps.Factory(ctx, s.id, device, s.log.Sub("Client"))
	if err != nil {
		return nil, fmt.Errorf("create client for %s: %w", s.id, err)
	}
	c.SetEventSink(func(e event.Event) { s.push(gen, e) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		c.SetEventSink(nil)
		c.Disconnect()
		return nil, ErrSessionClosed
	}
	s.client = c
	return c, nil
}

func (s *Session) forwardQR(gen uint64, ch <-chan protocol.QREvent) {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Kind {
			case protocol.QRCode:
				s.push(gen, event.QRCode{Code: ev.Code})
			case protocol.QRSuccess:
				return
			case protocol.QRTimeout:
				s.push(gen, event.ConnectionClosed{Cause: event.CauseRecoverable, Reason: "pairing timed out"})
				return
			case protocol.QRError:
				reason := "pairing failed"
				if ev.Err != nil {
					reason = ev.Err.Error()
				}
				s.push(gen, event.ConnectionClosed{Cause: event.CauseFatal, Reason: reason})
				return
			}
		}
	}
}

func (s *Session) reconnect(gen uint64) {
	s.mu.Lock()
	if s.closed || s.terminal || gen != s.gen || s.connecting || s.state == StateConnected {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.connecting = true
	s.state = StateConnecting
	attempt := s.attempts
	s.mu.Unlock()

	s.log.Infof("Reconnecting (attempt %d/%d)", attempt, s.deps.Reconnect.MaxAttempts)
	s.push(gen, event.ConnectionUpdate{State: string(StateConnecting), Attempt: attempt})
	if err := s.dial(context.Background(), gen); err != nil {
		s.log.Warnf("Reconnect attempt %d failed: %v", attempt, err)
	}
}

func (s *Session) backoff(attempt int) time.Duration {
	rc := s.deps.Reconnect
	factor := rc.Factor
	if factor <= 0 {
		factor = 2
	}
	return retry.GrowthBackoff(rc.BaseDelay, factor, rc.MaxDelay)(attempt)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) cancelQRLocked() {
	if s.qrCancel != nil {
		s.qrCancel()
		s.qrCancel = nil
	}
}

// Logout ends the session for good: any pending reconnect is cancelled, the
// protocol logout is attempted, and every stored row, media file and
// credential of the session is deleted. The configuration row survives.
// Calling Logout on a logged-out session does nothing.
func (s *Session) Logout(ctx context.Context) error {
	gen, ok := s.terminate(ctx, true)
	if ok {
		s.push(gen, event.ConnectionUpdate{State: string(StateDisconnected), Reason: "logout"})
		s.push(gen, event.LoggedOut{Reason: "logout"})
	}
	return nil
}

// terminate moves to terminal disconnected and purges the session. local
// requests a protocol logout first.
func (s *Session) terminate(ctx context.Context, local bool) (uint64, bool) {
	s.mu.Lock()
	if s.terminal && s.client == nil && s.deviceJID == "" {
		s.mu.Unlock()
		return 0, false
	}
	s.terminal = true
	s.gen++
	gen := s.gen
	s.stopTimerLocked()
	s.cancelQRLocked()
	client := s.client
	device := s.deviceJID
	s.client = nil
	s.deviceJID, s.phone, s.name, s.qr = "", "", "", ""
	s.connecting = false
	s.resynced = false
	s.attempts = 0
	s.state = StateDisconnected
	s.mu.Unlock()

	if client != nil {
		client.SetEventSink(nil)
		if local && client.IsLoggedIn() {
			if err := client.Logout(ctx); err != nil {
				s.log.Warnf("Protocol logout failed: %v", err)
			}
		}
		client.Disconnect()
	}

	s.storeMu.Lock()
	s.purge(ctx, device)
	s.storeMu.Unlock()
	return gen, true
}

func (s *Session) purge(ctx context.Context, device string) {
	st := s.deps.Store
	if err := st.Sessions.Purge(ctx, s.id); err != nil {
		s.log.Errorf("Failed to purge stored rows: %v", err)
	}
	if err := st.Sessions.ClearIdentity(ctx, s.id); err != nil {
		s.log.Errorf("Failed to clear identity: %v", err)
	}
	if err := st.Sessions.SetState(ctx, s.id, string(StateDisconnected)); err != nil {
		s.log.Warnf("Failed to record state: %v", err)
	}
	if err := st.DeleteDevice(ctx, device); err != nil {
		s.log.Errorf("Failed to delete credentials: %v", err)
	}
	if s.deps.Media != nil {
		if err := s.deps.Media.Purge(s.id); err != nil {
			s.log.Errorf("Failed to purge media: %v", err)
		}
	}
	s.log.Infof("Session data purged")
}

// Close disconnects the client without logging out and stops the worker
// after it has drained the queue.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.stopTimerLocked()
		s.cancelQRLocked()
		client := s.client
		s.client = nil
		s.connecting = false
		s.mu.Unlock()

		if client != nil {
			client.SetEventSink(nil)
			client.Disconnect()
		}
		close(s.done)
		s.wg.Wait()
	})
}

// ============================================================================
// Configuration
// ============================================================================

// AddWebhook registers sub, replacing the filter of an existing subscription
// with the same URL. The change is persisted before returning.
func (s *Session) AddWebhook(ctx context.Context, sub store.WebhookSubscription) error {
	if sub.URL == "" {
		return ErrInvalidWebhook
	}
	if len(sub.Events) == 0 {
		sub.Events = []string{string(event.NameAll)}
	}
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.mu.Lock()
	next := webhook.Upsert(s.webhooks, sub)
	s.mu.Unlock()

	if err := s.deps.Store.Sessions.SetWebhooks(ctx, s.id, next); err != nil {
		return fmt.Errorf("save webhooks: %w", err)
	}
	s.mu.Lock()
	s.webhooks = next
	s.mu.Unlock()
	return nil
}

// RemoveWebhook deletes the subscription with url. It reports whether one existed.
func (s *Session) RemoveWebhook(ctx context.Context, url string) (bool, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	s.mu.Lock()
	next, found := webhook.Remove(s.webhooks, url)
	s.mu.Unlock()
	if !found {
		return false, nil
	}

	if err := s.deps.Store.Sessions.SetWebhooks(ctx, s.id, next); err != nil {
		return false, fmt.Errorf("save webhooks: %w", err)
	}
	s.mu.Lock()
	s.webhooks = next
	s.mu.Unlock()
	return true, nil
}

// SetMetadata replaces the metadata attached to every webhook payload.
func (s *Session) SetMetadata(ctx context.Context, md map[string]string) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	if err := s.deps.Store.Sessions.SetMetadata(ctx, s.id, md); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	s.mu.Lock()
	s.metadata = maps.Clone(md)
	s.mu.Unlock()
	return nil
}
