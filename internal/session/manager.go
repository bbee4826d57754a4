// Package session keeps one map engine per viewer and sweeps idle ones.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/fanout"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/track"
)

// DefaultMaxSessions limits concurrent sessions when no limit is configured.
const DefaultMaxSessions = 50

// SessionKeepAliveWindow protects recently used sessions from eviction.
const SessionKeepAliveWindow = 5 * time.Minute

var (
	ErrNotFound        = errors.New("session not found")
	ErrTooManySessions = errors.New("too many active sessions")
)

// EventType tags a session event.
type EventType string

const (
	EventSelection EventType = "selection"
	EventStatus    EventType = "status"
)

// Event is a selection or status change forwarded to viewers.
type Event struct {
	Type      EventType              `json:"type"`
	Selection *models.SelectionEvent `json:"selection,omitempty"`
	Status    *engine.Status         `json:"status,omitempty"`
}

// CreateOptions customize a new session.
type CreateOptions struct {
	TelemetryURL string
}

// Config wires the shared collaborators of every session.
type Config struct {
	Engine      engine.Options
	MaxSessions int
	Recorder    *track.Recorder
	Publisher   *fanout.Publisher
	Logger      zerolog.Logger

	// EngineOptions are appended to every engine; tests use them to stub the feed.
	EngineOptions []engine.Option
}

// State is one live session.
type State struct {
	Scene  *scene.Scene
	Engine *engine.Engine
	Trail  *track.Session

	mu     sync.Mutex
	info   models.ViewerSession
	subs   map[int]func(Event)
	nextID int
}

// Info returns a copy of the session metadata.
func (s *State) Info() models.ViewerSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetTopologyID records which stored snapshot the session shows.
func (s *State) SetTopologyID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.TopologyID = id
}

func (s *State) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.LastAccessed = now
}

func (s *State) lastAccessed() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info.LastAccessed
}

// Subscribe registers fn for selection and status events.
func (s *State) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

func (s *State) publish(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Manager handles active viewer sessions.
type Manager struct {
	sessions map[string]*State
	mu       sync.RWMutex
	cfg      Config
	log      zerolog.Logger
	ctx      context.Context
	now      func() time.Time
}

// NewManager creates a session manager. Engines are bound to ctx.
func NewManager(ctx context.Context, cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Manager{
		sessions: make(map[string]*State),
		cfg:      cfg,
		log:      cfg.Logger.With().Str("component", "sessions").Logger(),
		ctx:      ctx,
		now:      time.Now,
	}
}

// Create starts a new session with its own scene and engine.
func (m *Manager) Create(opts CreateOptions) (*State, error) {
	if err := m.makeRoom(); err != nil {
		return nil, err
	}

	id := uuid.New().String()
	now := m.now()
	state := &State{
		Scene: scene.New(),
		subs:  make(map[int]func(Event)),
		info: models.ViewerSession{
			ID:           id,
			CreatedAt:    now,
			LastAccessed: now,
		},
	}

	engOpts := m.cfg.Engine
	if opts.TelemetryURL != "" {
		engOpts.Telemetry.URL = opts.TelemetryURL
	}
	state.info.TelemetryURL = engOpts.Telemetry.URL

	options := []engine.Option{
		engine.WithLogger(m.log.With().Str("session", id[:8]).Logger()),
		engine.WithOnSelect(func(ev models.SelectionEvent) {
			state.publish(Event{Type: EventSelection, Selection: &ev})
		}),
		engine.WithOnStatus(func(st engine.Status) {
			state.publish(Event{Type: EventStatus, Status: &st})
		}),
	}
	if m.cfg.Recorder != nil {
		state.Trail = m.cfg.Recorder.ForSession(id)
		options = append(options, engine.WithRecorder(state.Trail))
	}
	if m.cfg.Publisher != nil && m.cfg.Publisher.Enabled() {
		options = append(options, engine.WithPublisher(m.cfg.Publisher.ForSession(id)))
	}
	options = append(options, m.cfg.EngineOptions...)

	state.Engine = engine.New(engOpts, state.Scene, options...)
	if err := state.Engine.Start(m.ctx); err != nil {
		state.Engine.Close()
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = state
	m.mu.Unlock()

	m.log.Info().Str("session", id[:8]).Str("telemetry", engOpts.Telemetry.URL).Msg("session created")
	return state, nil
}

// makeRoom evicts the least recently used idle session when at capacity.
func (m *Manager) makeRoom() error {
	m.mu.Lock()
	if len(m.sessions) < m.cfg.MaxSessions {
		m.mu.Unlock()
		return nil
	}

	keepAliveCutoff := m.now().Add(-SessionKeepAliveWindow)
	var victim string
	var oldest time.Time
	for id, state := range m.sessions {
		last := state.lastAccessed()
		if last.After(keepAliveCutoff) {
			continue
		}
		if victim == "" || last.Before(oldest) {
			victim, oldest = id, last
		}
	}
	if victim == "" {
		m.mu.Unlock()
		return ErrTooManySessions
	}
	state := m.sessions[victim]
	delete(m.sessions, victim)
	m.mu.Unlock()

	state.Engine.Close()
	m.log.Info().Str("session", victim[:8]).Msg("evicted idle session to make room")
	return nil
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*State, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.sessions[id]
	return state, ok
}

// TouchSession updates the LastAccessed timestamp for a session.
func (m *Manager) TouchSession(id string) bool {
	state, ok := m.Get(id)
	if !ok {
		return false
	}
	state.touch(m.now())
	return true
}

// Delete closes and forgets a session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	state, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	return state.Engine.Close()
}

// List returns every session, most recently used first.
func (m *Manager) List() []models.ViewerSession {
	m.mu.RLock()
	out := make([]models.ViewerSession, 0, len(m.sessions))
	for _, state := range m.sessions {
		out = append(out, state.Info())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastAccessed.After(out[j].LastAccessed)
	})
	return out
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupOldSessions closes sessions idle for longer than maxAge and returns
// how many were removed.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	var expired []*State
	for id, state := range m.sessions {
		if state.lastAccessed().Before(cutoff) {
			expired = append(expired, state)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, state := range expired {
		info := state.Info()
		state.Engine.Close()
		m.log.Info().
			Str("session", info.ID[:8]).
			Dur("idle", m.now().Sub(info.LastAccessed).Round(time.Second)).
			Msg("cleaned up idle session")
	}
	return len(expired)
}

// RunCleanup sweeps idle sessions every interval until ctx is done.
func (m *Manager) RunCleanup(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupOldSessions(maxAge)
		case <-ctx.Done():
			return
		}
	}
}

// Close closes every session.
func (m *Manager) Close() {
	m.mu.Lock()
	states := make([]*State, 0, len(m.sessions))
	for id, state := range m.sessions {
		states = append(states, state)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, state := range states {
		state.Engine.Close()
	}
}
