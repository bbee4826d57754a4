// Package scene is the retained rendering surface the map layers draw into.
//
// A Surface receives whole layers (strokes, markers, labels) and per-marker
// patches. Scene is the in-memory Surface shared by the HTTP exporters and the
// viewer WebSocket hub; other surfaces (the terminal viewer) implement the same
// interface.
package scene

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warehouse-map/backend/internal/geometry"
)

// Kind names a semantic layer.
type Kind string

const (
	KindPaths   Kind = "paths"
	KindNodes   Kind = "nodes"
	KindCameras Kind = "cameras"
	KindCharges Kind = "charges"
	KindRobots  Kind = "robots"
)

// Kinds returns every layer kind in draw order, bottom first.
func Kinds() []Kind {
	return []Kind{KindPaths, KindCharges, KindNodes, KindCameras, KindRobots}
}

// ParseKind validates a layer name.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Handle identifies one live layer instance.
type Handle string

// ElementType is the primitive an element is drawn as.
type ElementType string

const (
	ElementStroke ElementType = "stroke"
	ElementMarker ElementType = "marker"
	ElementLabel  ElementType = "label"
)

// Style carries the visual knobs of one element.
type Style struct {
	Color    string  `json:"color,omitempty" msgpack:"color,omitempty"`
	Fill     string  `json:"fill,omitempty" msgpack:"fill,omitempty"`
	Width    float64 `json:"width,omitempty" msgpack:"width,omitempty"`
	Opacity  float64 `json:"opacity,omitempty" msgpack:"opacity,omitempty"`
	Radius   float64 `json:"radius,omitempty" msgpack:"radius,omitempty"`
	FontSize float64 `json:"fontSize,omitempty" msgpack:"fontSize,omitempty"`
	Icon     string  `json:"icon,omitempty" msgpack:"icon,omitempty"`
}

// Element is one static primitive of a layer.
type Element struct {
	ID       string           `json:"id" msgpack:"id"`
	Type     ElementType      `json:"type" msgpack:"type"`
	Points   []geometry.Point `json:"points,omitempty" msgpack:"points,omitempty"`
	Position geometry.Point   `json:"position" msgpack:"position"`
	Text     string           `json:"text,omitempty" msgpack:"text,omitempty"`
	Tooltip  string           `json:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	Target   string           `json:"target,omitempty" msgpack:"target,omitempty"`
	Style    Style            `json:"style" msgpack:"style"`
}

// Marker is a movable element patched in place, e.g. a robot.
type Marker struct {
	ID       string         `json:"id" msgpack:"id"`
	Position geometry.Point `json:"position" msgpack:"position"`
	Rotation float64        `json:"rotation" msgpack:"rotation"`
	Label    string         `json:"label,omitempty" msgpack:"label,omitempty"`
	Tooltip  string         `json:"tooltip,omitempty" msgpack:"tooltip,omitempty"`
	Style    Style          `json:"style" msgpack:"style"`
}

// Transition describes how a marker moves from its previous state.
// Immediate markers snap; otherwise position and, when Rotate is set,
// rotation animate over Duration.
type Transition struct {
	Immediate    bool           `json:"immediate" msgpack:"immediate"`
	From         geometry.Point `json:"from" msgpack:"from"`
	FromRotation float64        `json:"fromRotation" msgpack:"fromRotation"`
	Rotate       bool           `json:"rotate" msgpack:"rotate"`
	Duration     time.Duration  `json:"duration" msgpack:"duration"`
}

// Viewport is the visible region of the plane.
type Viewport struct {
	Width  float64        `json:"width" msgpack:"width"`
	Height float64        `json:"height" msgpack:"height"`
	Center geometry.Point `json:"center" msgpack:"center"`
	Zoom   float64        `json:"zoom" msgpack:"zoom"`
}

// Surface is the rendering target driven by the layer manager.
type Surface interface {
	AddLayer(kind Kind, elements []Element) Handle
	RemoveLayer(h Handle)
	UpsertMarker(h Handle, m Marker, tr Transition)
	RemoveMarker(h Handle, id string)
	SetViewport(v Viewport)
}

// Layer is a snapshot of one live layer.
type Layer struct {
	Handle   Handle    `json:"handle" msgpack:"handle"`
	Kind     Kind      `json:"kind" msgpack:"kind"`
	Elements []Element `json:"elements" msgpack:"elements"`
	Markers  []Marker  `json:"markers" msgpack:"markers"`
}

// Snapshot is a consistent copy of the whole scene.
type Snapshot struct {
	Version  uint64   `json:"version" msgpack:"version"`
	Viewport Viewport `json:"viewport" msgpack:"viewport"`
	Layers   []Layer  `json:"layers" msgpack:"layers"`
}

// ChangeType identifies a scene mutation.
type ChangeType string

const (
	ChangeLayerAdded     ChangeType = "layer_added"
	ChangeLayerRemoved   ChangeType = "layer_removed"
	ChangeMarkerUpserted ChangeType = "marker_upserted"
	ChangeMarkerRemoved  ChangeType = "marker_removed"
	ChangeViewport       ChangeType = "viewport"
)

// Change is delivered to subscribers after every mutation.
type Change struct {
	Type       ChangeType  `json:"type" msgpack:"type"`
	Version    uint64      `json:"version" msgpack:"version"`
	Handle     Handle      `json:"handle,omitempty" msgpack:"handle,omitempty"`
	Kind       Kind        `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Elements   []Element   `json:"elements,omitempty" msgpack:"elements,omitempty"`
	Marker     *Marker     `json:"marker,omitempty" msgpack:"marker,omitempty"`
	MarkerID   string      `json:"markerId,omitempty" msgpack:"markerId,omitempty"`
	Transition *Transition `json:"transition,omitempty" msgpack:"transition,omitempty"`
	Viewport   *Viewport   `json:"viewport,omitempty" msgpack:"viewport,omitempty"`
}

type liveLayer struct {
	kind     Kind
	elements []Element
	markers  map[string]Marker
	order    []string
}

// Scene is the in-memory Surface. Mutations are expected from a single
// owner; reads (Snapshot, subscribers) may come from any goroutine.
type Scene struct {
	mu       sync.RWMutex
	layers   map[Handle]*liveLayer
	order    []Handle
	viewport Viewport
	version  uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int
}

// New creates an empty scene.
func New() *Scene {
	return &Scene{
		layers: make(map[Handle]*liveLayer),
		subs:   make(map[int]func(Change)),
	}
}

// AddLayer implements Surface.
func (s *Scene) AddLayer(kind Kind, elements []Element) Handle {
	h := Handle(uuid.New().String())
	copied := append([]Element(nil), elements...)

	s.mu.Lock()
	s.layers[h] = &liveLayer{kind: kind, elements: copied, markers: make(map[string]Marker)}
	s.order = append(s.order, h)
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(Change{Type: ChangeLayerAdded, Version: v, Handle: h, Kind: kind, Elements: copied})
	return h
}

// RemoveLayer implements Surface. Unknown handles are ignored.
func (s *Scene) RemoveLayer(h Handle) {
	s.mu.Lock()
	l, ok := s.layers[h]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.layers, h)
	for i, oh := range s.order {
		if oh == h {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(Change{Type: ChangeLayerRemoved, Version: v, Handle: h, Kind: l.kind})
}

// UpsertMarker implements Surface.
func (s *Scene) UpsertMarker(h Handle, m Marker, tr Transition) {
	s.mu.Lock()
	l, ok := s.layers[h]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, exists := l.markers[m.ID]; !exists {
		l.order = append(l.order, m.ID)
	}
	l.markers[m.ID] = m
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(Change{Type: ChangeMarkerUpserted, Version: v, Handle: h, Kind: l.kind, Marker: &m, Transition: &tr})
}

// RemoveMarker implements Surface.
func (s *Scene) RemoveMarker(h Handle, id string) {
	s.mu.Lock()
	l, ok := s.layers[h]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, exists := l.markers[id]; !exists {
		s.mu.Unlock()
		return
	}
	delete(l.markers, id)
	for i, mid := range l.order {
		if mid == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(Change{Type: ChangeMarkerRemoved, Version: v, Handle: h, Kind: l.kind, MarkerID: id})
}

// SetViewport implements Surface.
func (s *Scene) SetViewport(vp Viewport) {
	s.mu.Lock()
	s.viewport = vp
	s.version++
	v := s.version
	s.mu.Unlock()

	s.publish(Change{Type: ChangeViewport, Version: v, Viewport: &vp})
}

// Version returns the mutation counter.
func (s *Scene) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Handles returns the live handles of one kind, oldest first.
func (s *Scene) Handles(kind Kind) []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Handle
	for _, h := range s.order {
		if s.layers[h].kind == kind {
			out = append(out, h)
		}
	}
	return out
}

// Snapshot copies the current scene.
func (s *Scene) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Version:  s.version,
		Viewport: s.viewport,
		Layers:   make([]Layer, 0, len(s.order)),
	}
	for _, h := range s.order {
		l := s.layers[h]
		layer := Layer{
			Handle:   h,
			Kind:     l.kind,
			Elements: append([]Element(nil), l.elements...),
			Markers:  make([]Marker, 0, len(l.order)),
		}
		for _, id := range l.order {
			layer.Markers = append(layer.Markers, l.markers[id])
		}
		snap.Layers = append(snap.Layers, layer)
	}
	return snap
}

// Subscribe registers fn for every subsequent change and returns a cancel
// function. fn runs on the mutating goroutine and must not block.
func (s *Scene) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *Scene) publish(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}
