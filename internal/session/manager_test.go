package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/telemetry"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestManager(t *testing.T, max int) (*Manager, *clock) {
	t.Helper()
	m := NewManager(context.Background(), Config{
		Engine:      engine.DefaultOptions(),
		MaxSessions: max,
		Logger:      zerolog.Nop(),
	})
	c := &clock{t: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
	m.now = c.now
	t.Cleanup(m.Close)
	return m, c
}

func TestSessionManager(t *testing.T) {
	m, _ := newTestManager(t, 5)

	sess, err := m.Create(CreateOptions{})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	id := sess.Info().ID
	if len(id) != 36 {
		t.Errorf("Expected a UUID session id, got %q", id)
	}
	if !sess.Engine.Status().Ready {
		t.Errorf("Expected engine to be ready after create")
	}

	got, ok := m.Get(id)
	if !ok || got != sess {
		t.Fatalf("Session not found")
	}
	if !m.TouchSession(id) {
		t.Errorf("Expected touch to succeed")
	}
	if m.TouchSession("missing") {
		t.Errorf("Expected touch of unknown session to fail")
	}

	if err := m.Delete(id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := m.Get(id); ok {
		t.Errorf("Expected session to be gone after delete")
	}
	if !sess.Engine.Status().Closed {
		t.Errorf("Expected engine closed after delete")
	}
	if err := m.Delete(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionManager_TelemetryOverride(t *testing.T) {
	m, _ := newTestManager(t, 5)
	m.cfg.EngineOptions = []engine.Option{engine.WithFeedFactory(nopFeedFactory)}

	sess, err := m.Create(CreateOptions{TelemetryURL: "ws://fleet.local/ws"})
	if err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if sess.Info().TelemetryURL != "ws://fleet.local/ws" {
		t.Errorf("Expected telemetry url to be recorded, got %q", sess.Info().TelemetryURL)
	}
}

func TestSessionManager_CleanupOldSessions(t *testing.T) {
	m, c := newTestManager(t, 5)

	old, _ := m.Create(CreateOptions{})
	c.advance(20 * time.Minute)
	fresh, _ := m.Create(CreateOptions{})
	c.advance(15 * time.Minute)

	if n := m.CleanupOldSessions(30 * time.Minute); n != 1 {
		t.Fatalf("Expected 1 session cleaned up, got %d", n)
	}
	if _, ok := m.Get(old.Info().ID); ok {
		t.Errorf("Expected idle session removed")
	}
	if _, ok := m.Get(fresh.Info().ID); !ok {
		t.Errorf("Expected fresh session kept")
	}
	if !old.Engine.Status().Closed {
		t.Errorf("Expected idle session engine closed")
	}
}

func TestSessionManager_MaxSessions(t *testing.T) {
	m, c := newTestManager(t, 2)

	a, _ := m.Create(CreateOptions{})
	b, _ := m.Create(CreateOptions{})

	if _, err := m.Create(CreateOptions{}); !errors.Is(err, ErrTooManySessions) {
		t.Fatalf("Expected ErrTooManySessions while all sessions are active, got %v", err)
	}

	c.advance(10 * time.Minute)
	m.TouchSession(b.Info().ID)

	if _, err := m.Create(CreateOptions{}); err != nil {
		t.Fatalf("Expected idle session to be evicted, got %v", err)
	}
	if _, ok := m.Get(a.Info().ID); ok {
		t.Errorf("Expected least recently used session evicted")
	}
	if m.Len() != 2 {
		t.Errorf("Expected 2 sessions, got %d", m.Len())
	}
	if list := m.List(); list[0].ID == a.Info().ID {
		t.Errorf("Evicted session still listed")
	}
}

func TestSessionManager_Events(t *testing.T) {
	m, _ := newTestManager(t, 5)
	sess, _ := m.Create(CreateOptions{})

	var events []Event
	cancel := sess.Subscribe(func(ev Event) { events = append(events, ev) })

	topo := &models.Topology{NodeArr: []models.Node{{Key: "cell-1", X: models.Float(5), Y: models.Float(5)}}}
	if err := sess.Engine.LoadTopology(topo); err != nil {
		t.Fatalf("LoadTopology failed: %v", err)
	}
	if _, ok, _ := sess.Engine.ClickTarget("node:cell-1"); !ok {
		t.Fatalf("Expected node target")
	}

	var sawStatus, sawSelection bool
	for _, ev := range events {
		switch ev.Type {
		case EventStatus:
			sawStatus = true
		case EventSelection:
			sawSelection = ev.Selection.Key == "cell-1"
		}
	}
	if !sawStatus || !sawSelection {
		t.Errorf("Expected status and selection events, got %+v", events)
	}

	cancel()
	n := len(events)
	sess.Engine.ClickTarget("node:cell-1")
	if len(events) != n {
		t.Errorf("Expected no events after cancel")
	}
}

type nopFeed struct{}

func (nopFeed) Start(context.Context) {}
func (nopFeed) Reconnect()            {}
func (nopFeed) Close() error          { return nil }

func nopFeedFactory(_ telemetry.Options, _ zerolog.Logger, _ func([]byte), _ func(telemetry.Status, error)) engine.Feed {
	return nopFeed{}
}
