package animator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-map/backend/internal/geometry"
)

func TestDuration_Clamped(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		want     time.Duration
	}{
		{"zero distance clamps to minimum", 0, 300 * time.Millisecond},
		{"negative treated as zero", -5, 300 * time.Millisecond},
		{"short hop", 10, 400 * time.Millisecond},
		{"long jump caps", 1000, time.Second},
		{"huge jump caps", 1e12, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Duration(tt.distance))
		})
	}
}

func TestDuration_Monotonic(t *testing.T) {
	prev := Duration(0)
	for d := 0.0; d <= 200; d += 0.5 {
		got := Duration(d)
		assert.GreaterOrEqual(t, got, prev, "distance %v", d)
		assert.GreaterOrEqual(t, got, 300*time.Millisecond)
		assert.LessOrEqual(t, got, time.Second)
		prev = got
	}
}

func TestPlan_ThreeFrames(t *testing.T) {
	a := New(DefaultConfig())

	first, _ := a.Plan("agv-1", geometry.Point{X: 0, Y: 0}, nil)
	assert.True(t, first.Immediate)

	second, _ := a.Plan("agv-1", geometry.Point{X: 10, Y: 0}, nil)
	require.False(t, second.Immediate)
	assert.Equal(t, geometry.Point{X: 0, Y: 0}, second.From)
	assert.Equal(t, Duration(10), second.Duration)

	third, _ := a.Plan("agv-1", geometry.Point{X: 10, Y: 10}, nil)
	assert.Equal(t, geometry.Point{X: 10, Y: 0}, third.From)
	assert.Equal(t, Duration(10), third.Duration)

	// the diagonal (0,0)->(10,10) is longer and animates longer
	diagonal := geometry.Point{}.Distance(geometry.Point{X: 10, Y: 10})
	assert.Less(t, second.Duration, Duration(diagonal))
}

func TestPlan_RotationThreshold(t *testing.T) {
	a := New(DefaultConfig())
	angle := func(v float64) *float64 { return &v }

	_, rot := a.Plan("r", geometry.Point{}, angle(1.0))
	assert.Equal(t, 1.0, rot)

	tr, rot := a.Plan("r", geometry.Point{X: 1}, angle(1.05))
	assert.False(t, tr.Rotate)
	assert.Equal(t, 1.0, rot, "sub-threshold noise keeps the rendered rotation")

	tr, rot = a.Plan("r", geometry.Point{X: 2}, angle(0.92))
	assert.False(t, tr.Rotate)
	assert.Equal(t, 1.0, rot)

	tr, rot = a.Plan("r", geometry.Point{X: 3}, angle(1.5))
	assert.True(t, tr.Rotate)
	assert.Equal(t, 1.0, tr.FromRotation)
	assert.Equal(t, 1.5, rot)

	tr, rot = a.Plan("r", geometry.Point{X: 4}, nil)
	assert.False(t, tr.Rotate)
	assert.Equal(t, 1.5, rot)
}

func TestForgetAndReset(t *testing.T) {
	a := New(DefaultConfig())
	a.Plan("a", geometry.Point{X: 1}, nil)
	a.Plan("b", geometry.Point{X: 2}, nil)

	a.Forget("a")
	tr, _ := a.Plan("a", geometry.Point{X: 5}, nil)
	assert.True(t, tr.Immediate)

	_, _, ok := a.Last("b")
	assert.True(t, ok)
	a.Reset()
	_, _, ok = a.Last("b")
	assert.False(t, ok)
}
