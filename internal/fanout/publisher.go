// Package fanout publishes selection events and fleet updates to NATS so
// other services can follow what viewers click and where robots are.
package fanout

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/models"
)

const (
	SubjectSelection = "selection"
	SubjectFleet     = "fleet"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	IsConnected() bool
	Close()
}

// SelectionMessage is published on <prefix>.selection.
type SelectionMessage struct {
	SessionID string                `json:"sessionId"`
	At        time.Time             `json:"at"`
	Selection models.SelectionEvent `json:"selection"`
}

// FleetMessage is published on <prefix>.fleet once per telemetry tick.
type FleetMessage struct {
	SessionID string               `json:"sessionId"`
	At        time.Time            `json:"at"`
	Robots    []models.RobotMarker `json:"robots"`
}

// Publisher owns the NATS connection. A publisher without a connection is
// disabled and every publish is a no-op.
type Publisher struct {
	mu      sync.Mutex
	conn    conn
	prefix  string
	enabled bool
	log     zerolog.Logger
	now     func() time.Time
}

// Connect dials natsURL. An empty URL returns a disabled publisher.
func Connect(natsURL, prefix, clientName string, log zerolog.Logger) (*Publisher, error) {
	log = log.With().Str("component", "fanout").Logger()
	if natsURL == "" {
		log.Info().Msg("NATS fan-out disabled")
		return newPublisher(nil, prefix, log), nil
	}

	opts := []nats.Option{
		nats.Name(clientName),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info().Msg("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(natsURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	log.Info().Str("url", natsURL).Str("prefix", prefix).Msg("NATS connected")
	return newPublisher(nc, prefix, log), nil
}

func newPublisher(c conn, prefix string, log zerolog.Logger) *Publisher {
	return &Publisher{
		conn:    c,
		prefix:  prefix,
		enabled: c != nil,
		log:     log,
		now:     time.Now,
	}
}

// Subject joins the configured prefix and a suffix.
func (p *Publisher) Subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

func (p *Publisher) publish(suffix string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.conn == nil {
		return nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", suffix, err)
	}
	subject := p.Subject(suffix)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish on %s: %w", subject, err)
	}
	return nil
}

// Enabled reports whether messages are actually sent.
func (p *Publisher) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// IsConnected reports the live connection state.
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled && p.conn != nil && p.conn.IsConnected()
}

// Close drops the connection; later publishes are no-ops.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
		p.enabled = false
	}
}

// ForSession returns a publisher that stamps every message with sessionID.
func (p *Publisher) ForSession(sessionID string) *Session {
	return &Session{p: p, id: sessionID}
}

// Session publishes on behalf of one viewer session.
type Session struct {
	p  *Publisher
	id string
}

func (s *Session) PublishSelection(ev models.SelectionEvent) error {
	return s.p.publish(SubjectSelection, SelectionMessage{SessionID: s.id, At: s.p.now(), Selection: ev})
}

func (s *Session) PublishFleet(robots []models.RobotMarker) error {
	return s.p.publish(SubjectFleet, FleetMessage{SessionID: s.id, At: s.p.now(), Robots: robots})
}
