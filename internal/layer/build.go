package layer

import (
	"fmt"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/interaction"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/topology"
)

// PathPoints returns the control points of a connection: its own path when it
// carries at least two usable points, otherwise the two endpoint nodes.
func PathPoints(c models.Connection, start, end geometry.Point) []geometry.Point {
	pts := make([]geometry.Point, 0, len(c.Path))
	for _, p := range c.Path {
		if geometry.Finite(p[0], p[1]) {
			pts = append(pts, geometry.Point{X: p[0], Y: p[1]})
		}
	}
	if len(pts) >= 2 {
		return pts
	}
	return []geometry.Point{start, end}
}

func (m *Manager) buildPaths() []scene.Element {
	conns := m.store.Connections()
	elements := make([]scene.Element, 0, 2*len(conns))

	for i, c := range conns {
		start, okStart := m.store.Node(c.StartNodeKey)
		end, okEnd := m.store.Node(c.EndNodeKey)
		if !okStart || !okEnd {
			m.log.Warn().
				Str("start", c.StartNodeKey).
				Str("end", c.EndNodeKey).
				Msg("skipping connection with unknown endpoint")
			continue
		}
		sp, okStart := topology.Position(start)
		ep, okEnd := topology.Position(end)
		if !okStart || !okEnd {
			m.log.Warn().
				Str("start", c.StartNodeKey).
				Str("end", c.EndNodeKey).
				Msg("skipping connection whose endpoint has no coordinates")
			continue
		}

		smooth := geometry.CatmullRom(PathPoints(c, sp, ep), m.style.SmoothSegments, m.style.SmoothTension)
		id := fmt.Sprintf("path:%d:%s->%s", i, c.StartNodeKey, c.EndNodeKey)

		elements = append(elements,
			scene.Element{
				ID:     id + ":glow",
				Type:   scene.ElementStroke,
				Points: smooth,
				Style:  scene.Style{Color: m.style.PathColor, Width: m.style.GlowWidth, Opacity: m.style.GlowOpacity},
			},
			scene.Element{
				ID:     id,
				Type:   scene.ElementStroke,
				Points: smooth,
				Style:  scene.Style{Color: m.style.PathColor, Width: m.style.PathWidth, Opacity: m.style.PathOpacity},
			},
		)
	}
	return elements
}

func nodeEvent(n models.Node, p geometry.Point) models.SelectionEvent {
	typ := n.Type
	if typ == "" {
		typ = models.NodeTypeNormal
	}
	return models.SelectionEvent{
		Kind:   models.SelectionNode,
		Key:    n.Key,
		Name:   n.Name,
		Type:   typ,
		Locked: n.Locked,
		Open:   n.Open,
		X:      p.X,
		Y:      p.Y,
	}
}

func (m *Manager) buildNodes() ([]scene.Element, []interaction.Target) {
	var elements []scene.Element
	var targets []interaction.Target

	for _, n := range m.store.Nodes() {
		if topology.IsCamera(n) || topology.IsCharge(n) {
			continue
		}
		p, ok := topology.Position(n)
		if !ok {
			m.log.Warn().Str("node", n.Key).Msg("skipping node without coordinates")
			continue
		}

		target := "node:" + n.Key
		elements = append(elements,
			scene.Element{
				ID:       target,
				Type:     scene.ElementMarker,
				Position: p,
				Tooltip:  n.Name,
				Target:   target,
				Style:    scene.Style{Fill: m.style.NodeColor, Radius: m.style.NodeRadius},
			},
			scene.Element{
				ID:       target + ":label",
				Type:     scene.ElementLabel,
				Position: geometry.Point{X: p.X, Y: p.Y - m.style.LabelOffset},
				Text:     n.Key,
				Style:    scene.Style{Color: m.style.LabelColor, FontSize: m.style.FontSize},
			},
		)
		targets = append(targets, interaction.Target{
			ID:       target,
			Position: p,
			Radius:   m.style.NodeRadius,
			Event:    nodeEvent(n, p),
		})
	}
	return elements, targets
}

func (m *Manager) buildCameras() ([]scene.Element, []interaction.Target) {
	var elements []scene.Element
	var targets []interaction.Target

	for _, n := range m.store.Nodes() {
		id, ok := topology.CameraID(n)
		if !ok {
			continue
		}
		p, ok := topology.Position(n)
		if !ok {
			m.log.Warn().Str("node", n.Key).Int("camera", id).Msg("skipping camera without coordinates")
			continue
		}

		online := m.cameras.Online(id)
		style := scene.Style{Fill: m.style.CameraOffline, Radius: m.style.CameraRadius, Icon: "camera-offline"}
		tooltip := fmt.Sprintf("Camera %d: offline", id)
		if online {
			style.Fill, style.Icon = m.style.CameraOnline, "camera"
			tooltip = fmt.Sprintf("Camera %d: online", id)
		}
		if addr, ok := m.style.CameraAddress(id); ok {
			tooltip += " (" + addr + ")"
		}

		target := fmt.Sprintf("camera:%d", id)
		elements = append(elements, scene.Element{
			ID:       target,
			Type:     scene.ElementMarker,
			Position: p,
			Text:     n.Name,
			Tooltip:  tooltip,
			Target:   target,
			Style:    style,
		})

		ev := nodeEvent(n, p)
		ev.Kind = models.SelectionCamera
		ev.CameraID = id
		targets = append(targets, interaction.Target{
			ID:       target,
			Position: p,
			Radius:   m.style.CameraRadius,
			Event:    ev,
		})
	}
	return elements, targets
}

func (m *Manager) buildCharges() ([]scene.Element, []interaction.Target) {
	var elements []scene.Element
	var targets []interaction.Target

	for _, n := range m.store.Nodes() {
		if !topology.IsCharge(n) || topology.IsCamera(n) {
			continue
		}
		p, ok := topology.Position(n)
		if !ok {
			m.log.Warn().Str("node", n.Key).Msg("skipping charge point without coordinates")
			continue
		}

		target := "charge:" + n.Key
		elements = append(elements,
			scene.Element{
				ID:       target,
				Type:     scene.ElementMarker,
				Position: p,
				Tooltip:  n.Name,
				Target:   target,
				Style: scene.Style{
					Fill:    m.style.ChargeColor,
					Radius:  m.style.ChargeRadius,
					Opacity: m.style.ChargeOpacity,
					Icon:    "charge",
				},
			},
			// charge points leave the nodes layer, so they carry their own key label
			scene.Element{
				ID:       target + ":label",
				Type:     scene.ElementLabel,
				Position: geometry.Point{X: p.X, Y: p.Y - m.style.LabelOffset},
				Text:     n.Key,
				Style:    scene.Style{Color: m.style.LabelColor, FontSize: m.style.FontSize},
			},
		)
		targets = append(targets, interaction.Target{
			ID:       target,
			Position: p,
			Radius:   m.style.ChargeRadius,
			Event:    nodeEvent(n, p),
		})
	}
	return elements, targets
}
