package telemetry

import (
	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/topology"
)

// Resolve finds where a robot is. A finite {x,y} in the frame wins; otherwise
// the digits of a textual position are matched against node keys. ok is false
// when the robot cannot be placed this tick.
func Resolve(f models.TelemetryFrame, store *topology.Store) (geometry.Point, bool) {
	pos := f.DevicePosition
	if pos.HasPoint() && geometry.Finite(pos.X.Value, pos.Y.Value) {
		return geometry.Point{X: pos.X.Value, Y: pos.Y.Value}, true
	}

	if pos.Raw == "" || store == nil {
		return geometry.Point{}, false
	}
	num, ok := topology.DigitsOnly(pos.Raw)
	if !ok {
		return geometry.Point{}, false
	}
	n, ok := store.FindByNumber(num)
	if !ok {
		return geometry.Point{}, false
	}
	return topology.Position(n)
}

// ResolveFleet resolves every frame and returns the placeable robots in frame
// order together with the ids of those that could not be placed.
func ResolveFleet(frames []models.TelemetryFrame, store *topology.Store) (robots []models.RobotMarker, unresolved []string) {
	robots = make([]models.RobotMarker, 0, len(frames))
	for _, f := range frames {
		p, ok := Resolve(f, store)
		if !ok {
			unresolved = append(unresolved, f.DeviceID)
			continue
		}
		robots = append(robots, models.RobotMarker{
			DeviceID: f.DeviceID,
			Name:     f.Name,
			X:        p.X,
			Y:        p.Y,
			Angle:    f.Angle,
			Battery:  f.Battery,
			Speed:    f.Speed,
		})
	}
	return robots, unresolved
}
