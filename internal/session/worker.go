package session

import (
	"context"
	"maps"
	"time"

	"orion-gateway/internal/auth"
	"orion-gateway/internal/event"
	"orion-gateway/internal/ingest"
	"orion-gateway/internal/protocol"
	"orion-gateway/internal/store"
	"orion-gateway/internal/webhook"
)

// push enqueues e, blocking while the queue is full.
func (s *Session) push(gen uint64, e event.Event) {
	select {
	case s.queue <- item{gen: gen, e: e}:
	case <-s.done:
	}
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case it := <-s.queue:
			s.handle(it)
		case <-s.done:
			for {
				select {
				case it := <-s.queue:
					s.handle(it)
				default:
					return
				}
			}
		}
	}
}

func (s *Session) handle(it item) {
	s.mu.Lock()
	stale := it.gen != s.gen
	s.mu.Unlock()
	if stale {
		s.log.Debugf("Dropping %s from a previous login", it.e.EventName())
		return
	}

	ctx := context.Background()
	switch ev := it.e.(type) {
	case event.QRCode:
		s.onQR(ctx, it.gen, ev)
	case event.PairSuccess:
		s.onPairSuccess(ctx, it.gen, ev)
	case event.Connected:
		s.onConnected(ctx, it.gen, ev)
	case event.ConnectionClosed:
		s.onClosed(ctx, it.gen, ev)
	case event.ConnectionUpdate:
		s.announce(ctx, it.gen, ev)
	case event.ReconnectFailed, event.LoggedOut:
		s.notify(ev)
	default:
		s.ingest(ctx, it.gen, ev)
	}
}

// guarded runs fn unless a logout has superseded gen. A purge started
// meanwhile waits for fn to return.
func (s *Session) guarded(gen uint64, fn func()) bool {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return false
	}
	fn()
	return true
}

func (s *Session) ingest(ctx context.Context, gen uint64, e event.Event) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	t := ingest.Target{SessionID: s.id}
	if client != nil {
		if a, ok := protocol.SupportsAliases(client); ok {
			t.Aliases = a
		}
	}
	applied := s.guarded(gen, func() {
		if err := s.deps.Pipeline.Apply(ctx, t, e); err != nil {
			s.log.Errorf("Failed to store %s: %v", e.EventName(), err)
		}
	})
	if !applied {
		s.log.Debugf("Dropping %s after logout", e.EventName())
		return
	}
	s.notify(e)
}

// ============================================================================
// State machine
// ============================================================================

func (s *Session) onQR(ctx context.Context, gen uint64, ev event.QRCode) {
	url, err := auth.DataURL(ev.Code)
	if err != nil {
		s.log.Warnf("Failed to render pairing code: %v", err)
	}
	ev.DataURL = url

	s.mu.Lock()
	changed := s.state != StateQRReady
	s.state = StateQRReady
	s.qr = url
	s.mu.Unlock()

	if changed {
		s.announce(ctx, gen, event.ConnectionUpdate{State: string(StateQRReady)})
	}
	s.notify(ev)
}

func (s *Session) onPairSuccess(ctx context.Context, gen uint64, ev event.PairSuccess) {
	s.mu.Lock()
	s.deviceJID = ev.DeviceJID
	s.mu.Unlock()

	s.guarded(gen, func() {
		if err := s.deps.Store.Sessions.SetIdentity(ctx, s.id, ev.DeviceJID, "", ""); err != nil {
			s.log.Errorf("Failed to record paired device: %v", err)
		}
	})
	s.log.Infof("Paired as %s", ev.DeviceJID)
	s.notify(ev)
}

func (s *Session) onConnected(ctx context.Context, gen uint64, ev event.Connected) {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()

	if client != nil {
		id := client.Identity()
		if ev.DeviceJID == "" && !id.JID.IsEmpty() {
			ev.DeviceJID = id.JID.String()
		}
		if ev.Phone == "" {
			ev.Phone = id.Phone
		}
		if ev.Name == "" {
			ev.Name = id.PushName
		}
	}

	s.mu.Lock()
	s.connecting = false
	s.attempts = 0
	s.qr = ""
	s.lastError = ""
	s.state = StateConnected
	s.cancelQRLocked()
	if ev.DeviceJID != "" {
		s.deviceJID = ev.DeviceJID
	}
	s.phone = ev.Phone
	s.name = ev.Name
	resync := !s.resynced && !s.closed && client != nil
	s.resynced = true
	if resync {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	s.guarded(gen, func() {
		if err := s.deps.Store.Sessions.SetIdentity(ctx, s.id, ev.DeviceJID, ev.Phone, ev.Name); err != nil {
			s.log.Errorf("Failed to record identity: %v", err)
		}
	})
	s.log.Infof("Connected as %s (%s)", ev.Phone, ev.Name)
	s.announce(ctx, gen, event.ConnectionUpdate{State: string(StateConnected)})
	s.notify(ev)

	if resync {
		go func() {
			defer s.wg.Done()
			s.resync(gen, client)
		}()
	}
}

func (s *Session) onClosed(ctx context.Context, gen uint64, ev event.ConnectionClosed) {
	switch ev.Cause {
	case event.CauseLoggedOut:
		s.log.Warnf("Logged out by the server: %s", ev.Reason)
		if _, ok := s.terminate(ctx, false); ok {
			s.notify(event.ConnectionUpdate{State: string(StateDisconnected), Reason: ev.Reason})
			s.notify(event.LoggedOut{Reason: ev.Reason})
		}
		return

	case event.CauseFatal:
		s.mu.Lock()
		s.connecting = false
		s.resynced = false
		s.qr = ""
		s.lastError = ev.Reason
		s.state = StateError
		s.stopTimerLocked()
		s.cancelQRLocked()
		s.mu.Unlock()

		s.log.Errorf("Connection failed permanently: %s", ev.Reason)
		s.announce(ctx, gen, event.ConnectionUpdate{State: string(StateError), Reason: ev.Reason})
		return
	}

	s.mu.Lock()
	// A fatal close may be followed by a plain disconnect; stay in error.
	if s.closed || s.timer != nil || (s.state == StateError && !s.connecting) {
		s.mu.Unlock()
		return
	}
	s.connecting = false
	s.resynced = false
	s.qr = ""
	s.state = StateDisconnected
	s.cancelQRLocked()

	if s.attempts >= s.deps.Reconnect.MaxAttempts {
		attempts := s.attempts
		s.mu.Unlock()

		s.log.Errorf("Giving up after %d reconnect attempts: %s", attempts, ev.Reason)
		s.announce(ctx, gen, event.ConnectionUpdate{State: string(StateDisconnected), Reason: ev.Reason})
		s.notify(event.ReconnectFailed{Attempts: attempts, Reason: ev.Reason})
		return
	}

	s.attempts++
	attempt := s.attempts
	delay := s.backoff(attempt)
	s.timer = time.AfterFunc(delay, func() { s.reconnect(gen) })
	s.mu.Unlock()

	s.log.Warnf("Disconnected (%s), reconnecting in %v", ev.Reason, delay)
	s.announce(ctx, gen, event.ConnectionUpdate{State: string(StateDisconnected), Reason: ev.Reason, Attempt: attempt})
}

// announce records the state and notifies a state change.
func (s *Session) announce(ctx context.Context, gen uint64, u event.ConnectionUpdate) {
	s.guarded(gen, func() {
		if err := s.deps.Store.Sessions.SetState(ctx, s.id, u.State); err != nil {
			s.log.Warnf("Failed to record state: %v", err)
		}
	})
	s.notify(u)
}

// ============================================================================
// Notification
// ============================================================================

func (s *Session) notify(e event.Event) {
	s.mu.Lock()
	t := webhook.Target{
		SessionID:     s.id,
		Metadata:      maps.Clone(s.metadata),
		Subscriptions: append([]store.WebhookSubscription(nil), s.webhooks...),
	}
	s.mu.Unlock()

	if s.deps.Webhooks != nil {
		s.deps.Webhooks.Send(t, e)
	}
	if s.deps.Emitter != nil {
		s.call(func(id string, e event.Event) { s.deps.Emitter.Emit(id, e) }, e)
	}
	for _, l := range s.deps.listeners.all() {
		s.call(l, e)
	}
	for _, l := range s.listeners.all() {
		s.call(l, e)
	}
}

func (s *Session) call(l Listener, e event.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("Listener panicked on %s: %v", e.EventName(), r)
		}
	}()
	l(s.id, e)
}
