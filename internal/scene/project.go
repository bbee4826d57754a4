package scene

import (
	"math"

	"github.com/warehouse-map/backend/internal/geometry"
)

// projection maps plane coordinates onto a canvas of the given pixel size,
// preserving aspect ratio.
type projection struct {
	origin  geometry.Point
	scale   float64
	offsetX float64
	offsetY float64
}

func newProjection(snap Snapshot, width, height, padding float64) projection {
	plane, ok := planeBounds(snap)
	if !ok {
		return projection{scale: 1, offsetX: padding, offsetY: padding}
	}

	availW := math.Max(width-2*padding, 1)
	availH := math.Max(height-2*padding, 1)
	pw := math.Max(plane.Width(), 1)
	ph := math.Max(plane.Height(), 1)
	scale := math.Min(availW/pw, availH/ph)

	return projection{
		origin:  plane.Min,
		scale:   scale,
		offsetX: padding + (availW-pw*scale)/2,
		offsetY: padding + (availH-ph*scale)/2,
	}
}

func (p projection) apply(pt geometry.Point) (float64, float64) {
	return p.offsetX + (pt.X-p.origin.X)*p.scale, p.offsetY + (pt.Y-p.origin.Y)*p.scale
}

// planeBounds prefers the declared viewport size and falls back to the
// extent of everything drawn.
func planeBounds(snap Snapshot) (geometry.Rect, bool) {
	if snap.Viewport.Width > 0 && snap.Viewport.Height > 0 {
		return geometry.Rect{Max: geometry.Point{X: snap.Viewport.Width, Y: snap.Viewport.Height}}, true
	}

	var pts []geometry.Point
	for _, l := range snap.Layers {
		for _, e := range l.Elements {
			if e.Type == ElementStroke {
				pts = append(pts, e.Points...)
			} else {
				pts = append(pts, e.Position)
			}
		}
		for _, m := range l.Markers {
			pts = append(pts, m.Position)
		}
	}
	return geometry.Bounds(pts)
}

// layerOrder sorts layers into draw order without disturbing insertion order within a kind.
func layerOrder(layers []Layer) []Layer {
	out := make([]Layer, 0, len(layers))
	for _, k := range Kinds() {
		for _, l := range layers {
			if l.Kind == k {
				out = append(out, l)
			}
		}
	}
	return out
}

// Projection maps plane coordinates onto a canvas and back. It is what the
// image renderers use, exposed for surfaces that draw elsewhere.
type Projection struct {
	p projection
}

// Fit builds the projection of snap onto a width x height canvas.
func Fit(snap Snapshot, width, height, padding float64) Projection {
	return Projection{p: newProjection(snap, width, height, padding)}
}

// ToCanvas projects a plane point.
func (p Projection) ToCanvas(pt geometry.Point) (float64, float64) {
	return p.p.apply(pt)
}

// ToPlane inverts ToCanvas.
func (p Projection) ToPlane(x, y float64) geometry.Point {
	if p.p.scale == 0 {
		return geometry.Point{}
	}
	return geometry.Point{
		X: p.p.origin.X + (x-p.p.offsetX)/p.p.scale,
		Y: p.p.origin.Y + (y-p.p.offsetY)/p.p.scale,
	}
}
