// Package tui draws a live warehouse scene in a terminal.
package tui

import (
	"fmt"
	"math"
	"sync"

	"github.com/gdamore/tcell/v2"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/scene"
)

// Terminal cells are roughly twice as tall as they are wide, so the plane
// is fitted onto a canvas with double the row count.
const cellAspect = 2

var (
	styleDefault  = tcell.StyleDefault
	stylePath     = tcell.StyleDefault.Foreground(tcell.ColorGray)
	styleLabel    = tcell.StyleDefault.Foreground(tcell.ColorSilver)
	styleStatus   = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)
	styleSelected = tcell.StyleDefault.Foreground(tcell.ColorYellow).Background(tcell.ColorNavy).Bold(true)
)

var headingRunes = []rune{'→', '↘', '↓', '↙', '←', '↖', '↑', '↗'}

// Surface is a scene.Surface that keeps the retained scene and repaints it
// onto a tcell screen. Mutations only post a redraw request; the owner of the
// screen's event loop calls Draw when it sees a *tcell.EventInterrupt.
type Surface struct {
	*scene.Scene

	screen tcell.Screen

	mu        sync.Mutex
	status    string
	selection string
	labels    bool
}

// NewSurface wraps an initialized screen.
func NewSurface(screen tcell.Screen) *Surface {
	return &Surface{
		Scene:  scene.New(),
		screen: screen,
		labels: true,
	}
}

func (s *Surface) AddLayer(kind scene.Kind, elements []scene.Element) scene.Handle {
	h := s.Scene.AddLayer(kind, elements)
	s.invalidate()
	return h
}

func (s *Surface) RemoveLayer(h scene.Handle) {
	s.Scene.RemoveLayer(h)
	s.invalidate()
}

func (s *Surface) UpsertMarker(h scene.Handle, m scene.Marker, tr scene.Transition) {
	s.Scene.UpsertMarker(h, m, tr)
	s.invalidate()
}

func (s *Surface) RemoveMarker(h scene.Handle, id string) {
	s.Scene.RemoveMarker(h, id)
	s.invalidate()
}

func (s *Surface) SetViewport(v scene.Viewport) {
	s.Scene.SetViewport(v)
	s.invalidate()
}

// invalidate never blocks; a full event queue already holds a redraw.
func (s *Surface) invalidate() {
	_ = s.screen.PostEvent(tcell.NewEventInterrupt(nil))
}

// SetStatus replaces the text of the status bar.
func (s *Surface) SetStatus(text string) {
	s.mu.Lock()
	s.status = text
	s.mu.Unlock()
	s.invalidate()
}

// SetSelection shows the last clicked element in the status bar.
func (s *Surface) SetSelection(text string) {
	s.mu.Lock()
	s.selection = text
	s.mu.Unlock()
	s.invalidate()
}

// ToggleLabels shows or hides node labels.
func (s *Surface) ToggleLabels() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.labels = !s.labels
	return s.labels
}

// mapArea is the part of the screen the plane is drawn on; the last row is
// the status bar.
func (s *Surface) mapArea() (int, int) {
	w, h := s.screen.Size()
	if h > 1 {
		h--
	}
	return w, h
}

func (s *Surface) projection(snap scene.Snapshot) scene.Projection {
	w, h := s.mapArea()
	return scene.Fit(snap, float64(w), float64(h*cellAspect), 1)
}

// CellAt returns the screen cell a plane point is drawn in.
func (s *Surface) CellAt(p geometry.Point) (int, int) {
	return cellOf(s.projection(s.Snapshot()), p)
}

// PlaneAt returns the plane point under a screen cell, e.g. a mouse click.
func (s *Surface) PlaneAt(col, row int) geometry.Point {
	proj := s.projection(s.Snapshot())
	return proj.ToPlane(float64(col)+0.5, (float64(row)+0.5)*cellAspect)
}

func cellOf(proj scene.Projection, p geometry.Point) (int, int) {
	x, y := proj.ToCanvas(p)
	return int(math.Floor(x)), int(math.Floor(y / cellAspect))
}

// Draw repaints the whole screen from the current scene.
func (s *Surface) Draw() {
	snap := s.Snapshot()
	proj := s.projection(snap)
	w, h := s.mapArea()

	s.mu.Lock()
	status, selection, labels := s.status, s.selection, s.labels
	s.mu.Unlock()

	s.screen.Clear()
	for _, l := range orderedLayers(snap.Layers) {
		for _, e := range l.Elements {
			s.drawElement(proj, e, w, h, labels)
		}
		for _, m := range l.Markers {
			s.drawMarker(proj, m, w, h)
		}
	}
	s.drawStatus(status, selection)
	s.screen.Show()
}

func orderedLayers(layers []scene.Layer) []scene.Layer {
	out := make([]scene.Layer, 0, len(layers))
	for _, k := range scene.Kinds() {
		for _, l := range layers {
			if l.Kind == k {
				out = append(out, l)
			}
		}
	}
	return out
}

func (s *Surface) drawElement(proj scene.Projection, e scene.Element, w, h int, labels bool) {
	switch e.Type {
	case scene.ElementStroke:
		style := colored(stylePath, e.Style.Color)
		for i := 1; i < len(e.Points); i++ {
			x0, y0 := cellOf(proj, e.Points[i-1])
			x1, y1 := cellOf(proj, e.Points[i])
			s.drawLine(x0, y0, x1, y1, w, h, style)
		}
	case scene.ElementMarker:
		x, y := cellOf(proj, e.Position)
		s.put(x, y, w, h, iconRune(e.Style.Icon), colored(styleDefault, e.Style.Fill))
	case scene.ElementLabel:
		if !labels {
			return
		}
		x, y := cellOf(proj, e.Position)
		s.drawString(x-len([]rune(e.Text))/2, y, w, h, e.Text, colored(styleLabel, e.Style.Color))
	}
}

func (s *Surface) drawMarker(proj scene.Projection, m scene.Marker, w, h int) {
	x, y := cellOf(proj, m.Position)
	style := colored(styleDefault, m.Style.Fill).Bold(true)
	s.put(x, y, w, h, headingRune(m.Rotation), style)
	if m.Label != "" {
		s.drawString(x+2, y, w, h, m.Label, style)
	}
}

func (s *Surface) drawStatus(status, selection string) {
	sw, sh := s.screen.Size()
	if sh == 0 {
		return
	}
	row := sh - 1
	for x := 0; x < sw; x++ {
		s.screen.SetContent(x, row, ' ', nil, styleStatus)
	}
	s.drawString(0, row, sw, sh, " "+status, styleStatus)
	if selection != "" {
		text := fmt.Sprintf(" %s ", selection)
		s.drawString(sw-len([]rune(text)), row, sw, sh, text, styleSelected)
	}
}

// drawLine is Bresenham over cells.
func (s *Surface) drawLine(x0, y0, x1, y1, w, h int, style tcell.Style) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	r := lineRune(x1-x0, y1-y0)

	err := dx + dy
	for {
		s.put(x0, y0, w, h, r, style)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func (s *Surface) drawString(x, y, w, h int, text string, style tcell.Style) {
	for _, r := range text {
		s.put(x, y, w, h, r, style)
		x++
	}
}

func (s *Surface) put(x, y, w, h int, r rune, style tcell.Style) {
	if x < 0 || y < 0 || x >= w || y >= h {
		return
	}
	s.screen.SetContent(x, y, r, nil, style)
}

func lineRune(dx, dy int) rune {
	switch {
	case dy == 0:
		return '─'
	case dx == 0:
		return '│'
	case (dx > 0) == (dy > 0):
		return '╲'
	default:
		return '╱'
	}
}

func iconRune(icon string) rune {
	switch icon {
	case "camera":
		return 'C'
	case "camera-offline":
		return 'c'
	case "charge":
		return '+'
	case "robot":
		return '●'
	default:
		return 'o'
	}
}

// headingRune picks the arrow closest to a heading in radians, y down.
func headingRune(rad float64) rune {
	if math.IsNaN(rad) || math.IsInf(rad, 0) {
		return '●'
	}
	step := math.Pi / 4
	i := int(math.Round(rad/step)) % len(headingRunes)
	if i < 0 {
		i += len(headingRunes)
	}
	return headingRunes[i]
}

func colored(base tcell.Style, color string) tcell.Style {
	if color == "" {
		return base
	}
	c := tcell.GetColor(color)
	if c == tcell.ColorDefault {
		return base
	}
	return base.Foreground(c)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
