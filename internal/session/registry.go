package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	waLog "go.mau.fi/whatsmeow/util/log"

	"orion-gateway/internal/store"
)

// Registry owns every session of the process.
type Registry struct {
	deps *Deps
	log  waLog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty Registry. Call Init to load persisted sessions.
func NewRegistry(deps *Deps) *Registry {
	if deps.Emitter == nil {
		deps.Emitter = NopEmitter{}
	}
	deps.Log = deps.Log.Sub("Session")
	return &Registry{
		deps:     deps,
		log:      deps.Log,
		sessions: make(map[string]*Session),
	}
}

// Init loads every persisted session and reconnects the ones that were
// paired. Connect failures are logged; the reconnect policy takes over.
func (r *Registry) Init(ctx context.Context) error {
	records, err := r.deps.Store.Sessions.List(ctx)
	if err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	var resume []*Session
	r.mu.Lock()
	for _, rec := range records {
		if _, ok := r.sessions[rec.ID]; ok {
			continue
		}
		s := newSession(rec, r.deps)
		r.sessions[rec.ID] = s
		if rec.DeviceJID != "" || rec.LastState == string(StateConnected) {
			resume = append(resume, s)
		}
	}
	r.mu.Unlock()

	r.log.Infof("Loaded %d sessions, resuming %d", len(records), len(resume))
	for _, s := range resume {
		if err := s.Connect(ctx); err != nil {
			r.log.Warnf("Failed to resume session %s: %v", s.ID(), err)
		}
	}
	return nil
}

// Create returns the session with id, creating and persisting it when it
// does not exist yet. Owner and metadata of an existing session are kept.
func (r *Registry) Create(ctx context.Context, id, owner string, metadata map[string]string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		return s, nil
	}

	rec := &store.SessionRecord{ID: id, Owner: owner, Metadata: metadata}
	if err := r.deps.Store.Sessions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create session %s: %w", id, err)
	}
	stored, err := r.deps.Store.Sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	s := newSession(stored, r.deps)
	r.sessions[id] = s
	r.log.Infof("Created session %s", id)
	return s, nil
}

// Get returns the session with id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List returns a snapshot of every session ordered by id.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out
}

// Listen registers fn for the events of every session, present and future.
func (r *Registry) Listen(fn Listener) func() {
	return r.deps.listeners.add(fn)
}

// Delete logs the session out, stops it and removes its configuration.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if err := s.Logout(ctx); err != nil {
		r.log.Warnf("Logout of %s failed: %v", id, err)
	}
	s.Close()
	if err := r.deps.Store.Sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	r.log.Infof("Deleted session %s", id)
	return nil
}

// Close disconnects every session without logging out.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close()
		}(s)
	}
	wg.Wait()
}
