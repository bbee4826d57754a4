// Package layer owns the semantic map layers (paths, nodes, cameras, charge
// points, robots) and rebuilds each one independently when its inputs change.
package layer

import (
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/animator"
	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/interaction"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/topology"
)

// Manager holds at most one live handle per layer kind. It is driven from a
// single goroutine (the engine loop).
type Manager struct {
	surface    scene.Surface
	style      config.MapStyle
	dispatcher *interaction.Dispatcher
	anim       *animator.Animator
	log        zerolog.Logger

	store   *topology.Store
	cameras models.CameraStatusMap
	visible map[scene.Kind]bool
	handles map[scene.Kind]scene.Handle

	fleet    []models.RobotMarker
	rendered map[string]scene.Marker
}

// NewManager creates a manager with the style's default visibility.
func NewManager(surface scene.Surface, style config.MapStyle, dispatcher *interaction.Dispatcher, anim *animator.Animator, log zerolog.Logger) *Manager {
	if dispatcher == nil {
		dispatcher = interaction.NewDispatcher(style.HitRadius)
	}
	if anim == nil {
		anim = animator.New(animator.DefaultConfig())
	}
	return &Manager{
		surface:    surface,
		style:      style,
		dispatcher: dispatcher,
		anim:       anim,
		log:        log.With().Str("component", "layers").Logger(),
		store:      topology.NewStore(),
		cameras:    models.CameraStatusMap{},
		visible: map[scene.Kind]bool{
			scene.KindPaths:   style.Visibility.Paths,
			scene.KindNodes:   style.Visibility.Nodes,
			scene.KindCameras: style.Visibility.Cameras,
			scene.KindCharges: style.Visibility.Charges,
			scene.KindRobots:  style.Visibility.Robots,
		},
		handles:  make(map[scene.Kind]scene.Handle),
		rendered: make(map[string]scene.Marker),
	}
}

// Dispatcher returns the interaction dispatcher targets are bound to.
func (m *Manager) Dispatcher() *interaction.Dispatcher {
	return m.dispatcher
}

// Visible reports the toggle state of a layer.
func (m *Manager) Visible(kind scene.Kind) bool {
	return m.visible[kind]
}

// Handle returns the live handle of a layer, if any.
func (m *Manager) Handle(kind scene.Kind) (scene.Handle, bool) {
	h, ok := m.handles[kind]
	return h, ok
}

// SetTopology swaps in a new snapshot and rebuilds every topology layer.
func (m *Manager) SetTopology(store *topology.Store) {
	if store == nil {
		store = topology.NewStore()
	}
	m.store = store
	for _, k := range []scene.Kind{scene.KindPaths, scene.KindCharges, scene.KindNodes, scene.KindCameras} {
		m.rebuild(k)
	}
	m.ResetView()
}

// SetVisible toggles one layer; other layers are untouched.
func (m *Manager) SetVisible(kind scene.Kind, visible bool) {
	if m.visible[kind] == visible {
		return
	}
	m.visible[kind] = visible
	if kind == scene.KindRobots {
		if visible {
			m.renderRobots()
		} else {
			m.remove(scene.KindRobots)
		}
		return
	}
	m.rebuild(kind)
}

// SetCameraStatus refreshes camera styling only.
func (m *Manager) SetCameraStatus(status models.CameraStatusMap) {
	m.cameras = make(models.CameraStatusMap, len(status))
	for id, st := range status {
		m.cameras[id] = st
	}
	m.rebuild(scene.KindCameras)
}

// CameraStatus returns the last applied camera status.
func (m *Manager) CameraStatus() models.CameraStatusMap {
	return m.cameras
}

// UpdateRobots applies the latest resolved fleet. Markers are keyed by
// device id and patched in place; only markers entering or leaving the
// fleet are added or removed.
func (m *Manager) UpdateRobots(robots []models.RobotMarker) {
	m.fleet = append(m.fleet[:0:0], robots...)
	if m.visible[scene.KindRobots] {
		m.renderRobots()
	}
}

// ResetView fits the viewport to the facility.
func (m *Manager) ResetView() {
	w, h := m.store.Size()
	if w <= 0 || h <= 0 {
		var pts []geometry.Point
		for _, n := range m.store.Nodes() {
			if p, ok := topology.Position(n); ok {
				pts = append(pts, p)
			}
		}
		if b, ok := geometry.Bounds(pts); ok {
			w, h = b.Max.X, b.Max.Y
		}
	}
	m.surface.SetViewport(scene.Viewport{
		Width:  w,
		Height: h,
		Center: geometry.Point{X: w / 2, Y: h / 2},
		Zoom:   1,
	})
}

// Clear removes every layer.
func (m *Manager) Clear() {
	for _, k := range scene.Kinds() {
		m.remove(k)
	}
}

// rebuild tears down a topology layer and, when visible, builds it again.
// The old handle is always removed before the new one is added.
func (m *Manager) rebuild(kind scene.Kind) {
	m.remove(kind)
	if !m.visible[kind] {
		return
	}

	var elements []scene.Element
	var targets []interaction.Target
	switch kind {
	case scene.KindPaths:
		elements = m.buildPaths()
	case scene.KindNodes:
		elements, targets = m.buildNodes()
	case scene.KindCameras:
		elements, targets = m.buildCameras()
	case scene.KindCharges:
		elements, targets = m.buildCharges()
	default:
		return
	}

	m.handles[kind] = m.surface.AddLayer(kind, elements)
	if len(targets) > 0 {
		m.dispatcher.Bind(kind, targets)
	}
}

func (m *Manager) remove(kind scene.Kind) {
	h, ok := m.handles[kind]
	if !ok {
		return
	}
	m.surface.RemoveLayer(h)
	delete(m.handles, kind)
	m.dispatcher.Unbind(kind)

	if kind == scene.KindRobots {
		m.rendered = make(map[string]scene.Marker)
		m.anim.Reset()
	}
}
