package layer

import (
	"fmt"
	"strings"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
)

// RobotID is the marker identity of a robot: its device id, or its position
// in the frame when the feed sends none.
func RobotID(r models.RobotMarker, index int) string {
	if r.DeviceID != "" {
		return r.DeviceID
	}
	return fmt.Sprintf("#%d", index)
}

func robotTooltip(r models.RobotMarker) string {
	parts := []string{r.Name}
	if r.Name == "" {
		parts[0] = r.DeviceID
	}
	if r.Battery != nil {
		parts = append(parts, fmt.Sprintf("battery %.0f%%", *r.Battery))
	}
	if r.Speed != nil {
		parts = append(parts, fmt.Sprintf("speed %.2f", *r.Speed))
	}
	return strings.Join(parts, " | ")
}

func (m *Manager) renderRobots() {
	h, ok := m.handles[scene.KindRobots]
	if !ok {
		h = m.surface.AddLayer(scene.KindRobots, nil)
		m.handles[scene.KindRobots] = h
	}

	seen := make(map[string]struct{}, len(m.fleet))
	for i, r := range m.fleet {
		id := RobotID(r, i)
		if _, dup := seen[id]; dup {
			m.log.Debug().Str("device", id).Msg("duplicate device in frame, keeping first")
			continue
		}
		seen[id] = struct{}{}

		pos := geometry.Point{X: r.X, Y: r.Y}
		tr, rot := m.anim.Plan(id, pos, r.Angle)
		label := r.Name
		if label == "" {
			label = r.DeviceID
		}
		marker := scene.Marker{
			ID:       id,
			Position: pos,
			Rotation: rot,
			Label:    label,
			Tooltip:  robotTooltip(r),
			Style:    scene.Style{Fill: m.style.RobotColor, Radius: m.style.RobotRadius, Icon: "robot"},
		}

		if prev, exists := m.rendered[id]; exists && prev == marker {
			continue
		}
		m.surface.UpsertMarker(h, marker, tr)
		m.rendered[id] = marker
	}

	for id := range m.rendered {
		if _, ok := seen[id]; ok {
			continue
		}
		m.surface.RemoveMarker(h, id)
		delete(m.rendered, id)
		m.anim.Forget(id)
	}
}

// RenderedRobots returns how many robot markers are live.
func (m *Manager) RenderedRobots() int {
	return len(m.rendered)
}
