// Package animator turns successive robot positions into marker transitions
// so markers glide instead of snapping when telemetry arrives irregularly.
package animator

import (
	"math"
	"time"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/scene"
)

// Config holds the timing knobs.
type Config struct {
	MinDuration       time.Duration
	MaxDuration       time.Duration
	PerUnit           time.Duration // added per plane unit travelled
	RotationThreshold float64       // radians; smaller heading changes are ignored
}

// DefaultConfig returns the standard 300ms..1000ms window.
func DefaultConfig() Config {
	return Config{
		MinDuration:       300 * time.Millisecond,
		MaxDuration:       1000 * time.Millisecond,
		PerUnit:           10 * time.Millisecond,
		RotationThreshold: 0.1,
	}
}

// Duration maps a travelled distance to a transition duration clamped to
// [MinDuration, MaxDuration]. It is non-decreasing in distance.
func (c Config) Duration(distance float64) time.Duration {
	if math.IsNaN(distance) || distance < 0 {
		distance = 0
	}
	d := c.MinDuration
	if extra := distance * float64(c.PerUnit); extra > 0 {
		if extra >= float64(c.MaxDuration) {
			return c.MaxDuration
		}
		d += time.Duration(extra)
	}
	if d > c.MaxDuration {
		d = c.MaxDuration
	}
	if d < c.MinDuration {
		d = c.MinDuration
	}
	return d
}

// Duration applies the default configuration.
func Duration(distance float64) time.Duration {
	return DefaultConfig().Duration(distance)
}

type state struct {
	pos      geometry.Point
	rotation float64
}

// Animator remembers the last rendered state of every marker.
// It is owned by the engine loop and is not safe for concurrent use.
type Animator struct {
	cfg    Config
	states map[string]state
}

// New creates an animator.
func New(cfg Config) *Animator {
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = cfg.MinDuration
	}
	return &Animator{cfg: cfg, states: make(map[string]state)}
}

// Plan records the new target for id and returns the transition to render
// along with the rotation the marker should end up with. The first placement
// is immediate; heading changes within the threshold keep the previous rotation.
func (a *Animator) Plan(id string, pos geometry.Point, angle *float64) (scene.Transition, float64) {
	prev, seen := a.states[id]
	if !seen {
		rot := 0.0
		if angle != nil && !math.IsNaN(*angle) {
			rot = *angle
		}
		a.states[id] = state{pos: pos, rotation: rot}
		return scene.Transition{Immediate: true, From: pos, FromRotation: rot}, rot
	}

	rot := prev.rotation
	rotate := false
	if angle != nil && !math.IsNaN(*angle) && math.Abs(geometry.AngleDelta(prev.rotation, *angle)) > a.cfg.RotationThreshold {
		rot = *angle
		rotate = true
	}

	tr := scene.Transition{
		From:         prev.pos,
		FromRotation: prev.rotation,
		Rotate:       rotate,
		Duration:     a.cfg.Duration(prev.pos.Distance(pos)),
	}
	a.states[id] = state{pos: pos, rotation: rot}
	return tr, rot
}

// Last returns the last planned position and rotation for id.
func (a *Animator) Last(id string) (geometry.Point, float64, bool) {
	s, ok := a.states[id]
	return s.pos, s.rotation, ok
}

// Forget drops a marker so its next appearance is placed immediately.
func (a *Animator) Forget(id string) {
	delete(a.states, id)
}

// Reset forgets every marker.
func (a *Animator) Reset() {
	a.states = make(map[string]state)
}
