package telemetry

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/topology"
)

func testStore() *topology.Store {
	s := topology.NewStore()
	s.Load(&models.Topology{NodeArr: []models.Node{
		{Key: "cell-5", X: models.Float(12), Y: models.Float(34)},
		{Key: "17", X: models.Float(1), Y: models.Float(2)},
		{Key: "cell-8"},
	}})
	return s
}

func raw(s string) models.DevicePosition {
	return models.DevicePosition{Raw: s}
}

func TestResolve(t *testing.T) {
	store := testStore()

	tests := []struct {
		name   string
		pos    models.DevicePosition
		want   geometry.Point
		wantOK bool
	}{
		{"resolved pair", models.DevicePosition{X: models.Float(3), Y: models.Float(4)}, geometry.Point{X: 3, Y: 4}, true},
		{"digits match suffix", raw("5"), geometry.Point{X: 12, Y: 34}, true},
		{"embedded digits", raw("pos:5"), geometry.Point{X: 12, Y: 34}, true},
		{"literal key", raw("17"), geometry.Point{X: 1, Y: 2}, true},
		{"no matching node", raw("nonexistent-99"), geometry.Point{}, false},
		{"no digits", raw("dock"), geometry.Point{}, false},
		{"node without coordinates", raw("8"), geometry.Point{}, false},
		{"empty", models.DevicePosition{}, geometry.Point{}, false},
		{"non-finite pair falls through", models.DevicePosition{Raw: "5", X: models.OptionalFloat{Value: math.Inf(1), Valid: true}, Y: models.Float(1)}, geometry.Point{X: 12, Y: 34}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Resolve(models.TelemetryFrame{DeviceID: "r", DevicePosition: tt.pos}, store)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveFleet(t *testing.T) {
	angle := 0.5
	frames := []models.TelemetryFrame{
		{DeviceID: "a", Name: "A", DevicePosition: raw("5"), Angle: &angle},
		{DeviceID: "b", DevicePosition: raw("nonexistent-99")},
	}

	robots, unresolved := ResolveFleet(frames, testStore())
	assert.Len(t, robots, 1)
	assert.Equal(t, "a", robots[0].DeviceID)
	assert.Equal(t, 12.0, robots[0].X)
	assert.Equal(t, &angle, robots[0].Angle)
	assert.Equal(t, []string{"b"}, unresolved)
}
