// Package interaction turns pointer clicks on rendered markers into
// selection events. It only produces events; it never mutates map state.
package interaction

import (
	"math"
	"sort"
	"sync"

	"github.com/asim/quadtree"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
)

// DefaultHitRadius is the click tolerance in plane units.
const DefaultHitRadius = 6.0

// Target is one clickable element.
type Target struct {
	ID       string
	Position geometry.Point
	Radius   float64
	Event    models.SelectionEvent
}

// Dispatcher indexes clickable targets per layer.
type Dispatcher struct {
	mu        sync.RWMutex
	hitRadius float64
	layers    map[scene.Kind][]Target
	byID      map[string]Target
	tree      *quadtree.QuadTree
	reach     float64 // largest hit radius among bound targets

	subs    map[int]func(models.SelectionEvent)
	nextSub int
}

// NewDispatcher creates a dispatcher; hitRadius <= 0 uses DefaultHitRadius.
func NewDispatcher(hitRadius float64) *Dispatcher {
	if hitRadius <= 0 {
		hitRadius = DefaultHitRadius
	}
	return &Dispatcher{
		hitRadius: hitRadius,
		reach:     hitRadius,
		layers:    make(map[scene.Kind][]Target),
		byID:      make(map[string]Target),
		subs:      make(map[int]func(models.SelectionEvent)),
	}
}

// Bind replaces the targets of one layer.
func (d *Dispatcher) Bind(kind scene.Kind, targets []Target) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.layers[kind] = append([]Target(nil), targets...)
	d.reindex()
}

// Unbind drops every target of one layer.
func (d *Dispatcher) Unbind(kind scene.Kind) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.layers[kind]; !ok {
		return
	}
	delete(d.layers, kind)
	d.reindex()
}

// Len returns the number of bound targets.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// cellQuantum snaps indexed positions so that near-identical coordinates
// share one quadtree point. The pinned quadtree splits without a depth bound,
// so every inserted point must be distinct.
const cellQuantum = 1e-3

func cellOf(p geometry.Point) geometry.Point {
	return geometry.Point{
		X: math.Round(p.X/cellQuantum) * cellQuantum,
		Y: math.Round(p.Y/cellQuantum) * cellQuantum,
	}
}

// reindex rebuilds the quadtree over every bound target. Targets sharing a
// cell hang off a single point. Called with mu held.
func (d *Dispatcher) reindex() {
	d.byID = make(map[string]Target)
	d.reach = d.hitRadius
	for _, targets := range d.layers {
		for _, t := range targets {
			if !geometry.Finite(t.Position.X, t.Position.Y) {
				continue
			}
			d.byID[t.ID] = t
			d.reach = math.Max(d.reach, t.Radius)
		}
	}

	ids := make([]string, 0, len(d.byID))
	for id := range d.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	cells := make(map[geometry.Point][]*Target)
	var pts []geometry.Point
	for _, id := range ids {
		t := d.byID[id]
		c := cellOf(t.Position)
		if _, ok := cells[c]; !ok {
			pts = append(pts, c)
		}
		cells[c] = append(cells[c], &t)
	}

	bounds, ok := geometry.Bounds(pts)
	if !ok {
		d.tree = nil
		return
	}
	center := bounds.Center()
	aabb := quadtree.NewAABB(
		quadtree.NewPoint(center.X, center.Y, nil),
		quadtree.NewPoint(bounds.Width()/2+d.reach+1, bounds.Height()/2+d.reach+1, nil))
	d.tree = quadtree.New(aabb, 0, nil)

	for _, c := range pts {
		d.tree.Insert(quadtree.NewPoint(c.X, c.Y, cells[c]))
	}
}

// Hit returns the target nearest to (x, y) within its hit radius.
func (d *Dispatcher) Hit(x, y float64) (Target, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.tree == nil {
		return Target{}, false
	}

	reach := d.reach + cellQuantum
	area := quadtree.NewAABB(
		quadtree.NewPoint(x, y, nil),
		quadtree.NewPoint(reach, reach, nil))

	click := geometry.Point{X: x, Y: y}
	var best *Target
	bestDist := math.Inf(1)
	for _, p := range d.tree.Search(area) {
		for _, t := range p.Data().([]*Target) {
			dist := click.Distance(t.Position)
			if dist > math.Max(t.Radius, d.hitRadius) {
				continue
			}
			if dist < bestDist || (dist == bestDist && best != nil && t.ID < best.ID) {
				best, bestDist = t, dist
			}
		}
	}
	if best == nil {
		return Target{}, false
	}
	return *best, true
}

// Click hit-tests a pointer position and emits the selection event of the
// nearest target, if any.
func (d *Dispatcher) Click(x, y float64) (models.SelectionEvent, bool) {
	t, ok := d.Hit(x, y)
	if !ok {
		return models.SelectionEvent{}, false
	}
	d.emit(t.Event)
	return t.Event, true
}

// ClickTarget emits the selection event of a target by id.
func (d *Dispatcher) ClickTarget(id string) (models.SelectionEvent, bool) {
	d.mu.RLock()
	t, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return models.SelectionEvent{}, false
	}
	d.emit(t.Event)
	return t.Event, true
}

// Subscribe registers fn for selection events and returns a cancel function.
func (d *Dispatcher) Subscribe(fn func(models.SelectionEvent)) func() {
	d.mu.Lock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Dispatcher) emit(ev models.SelectionEvent) {
	d.mu.RLock()
	fns := make([]func(models.SelectionEvent), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
