package layer

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-map/backend/internal/animator"
	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/geometry"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/testutil"
	"github.com/warehouse-map/backend/internal/topology"
)

func newTestManager(t *testing.T) (*Manager, *testutil.RecordingSurface, *bytes.Buffer) {
	t.Helper()
	var logs bytes.Buffer
	surface := testutil.NewRecordingSurface()
	m := NewManager(surface, config.DefaultMapStyle(), nil, animator.New(animator.DefaultConfig()), zerolog.New(&logs))
	return m, surface, &logs
}

func storeOf(nodes []models.Node, lines []models.Connection) *topology.Store {
	s := topology.NewStore()
	s.Load(&models.Topology{Width: 100, Height: 100, NodeArr: nodes, LineArr: lines})
	return s
}

func node(key, name string, x, y float64) models.Node {
	return models.Node{Key: key, Name: name, X: models.Float(x), Y: models.Float(y), Type: models.NodeTypeNormal}
}

func sampleStore() *topology.Store {
	return storeOf(
		[]models.Node{
			node("a", "A", 0, 0),
			node("b", "B", 10, 0),
			node("c", "Camera4", 20, 20),
			{Key: "charge-1", Name: "Dock", X: models.Float(30), Y: models.Float(30), Type: models.NodeTypeCharge},
			{Key: "ghost", Name: "Ghost"},
		},
		[]models.Connection{
			{StartNodeKey: "a", EndNodeKey: "b"},
			{StartNodeKey: "b", EndNodeKey: "missing"},
			{StartNodeKey: "a", EndNodeKey: "ghost"},
		},
	)
}

func liveLayer(t *testing.T, s *testutil.RecordingSurface, kind scene.Kind) scene.Layer {
	t.Helper()
	for _, l := range s.Snapshot().Layers {
		if l.Kind == kind {
			return l
		}
	}
	t.Fatalf("no live %s layer", kind)
	return scene.Layer{}
}

func TestManager_SetTopologyBuildsLayers(t *testing.T) {
	m, surface, logs := newTestManager(t)
	m.SetTopology(sampleStore())

	for _, k := range []scene.Kind{scene.KindPaths, scene.KindNodes, scene.KindCameras, scene.KindCharges} {
		assert.Equal(t, 1, surface.Live(k), "kind %s", k)
	}

	paths := liveLayer(t, surface, scene.KindPaths)
	require.Len(t, paths.Elements, 2, "one connection survives, drawn as glow + primary")
	assert.True(t, strings.HasSuffix(paths.Elements[0].ID, ":glow"))
	assert.Greater(t, paths.Elements[0].Style.Width, paths.Elements[1].Style.Width)
	assert.Less(t, paths.Elements[0].Style.Opacity, paths.Elements[1].Style.Opacity)

	nodes := liveLayer(t, surface, scene.KindNodes)
	var labels []string
	for _, e := range nodes.Elements {
		if e.Type == scene.ElementLabel {
			labels = append(labels, e.Text)
		}
	}
	assert.Equal(t, []string{"a", "b"}, labels, "cameras, charges and nodes without coordinates are excluded")

	cams := liveLayer(t, surface, scene.KindCameras)
	require.Len(t, cams.Elements, 1)
	assert.Equal(t, "camera:4", cams.Elements[0].Target)
	assert.Equal(t, "camera-offline", cams.Elements[0].Style.Icon)

	charges := liveLayer(t, surface, scene.KindCharges)
	require.Len(t, charges.Elements, 2)
	assert.Less(t, charges.Elements[0].Style.Opacity, 1.0)
	assert.Equal(t, scene.ElementLabel, charges.Elements[1].Type)
	assert.Equal(t, "charge-1", charges.Elements[1].Text, "charge points keep their key label")

	out := logs.String()
	assert.Contains(t, out, "unknown endpoint")
	assert.Contains(t, out, "no coordinates")
	assert.Contains(t, out, `"node":"ghost"`)
}

func TestManager_RebuildNeverDuplicates(t *testing.T) {
	m, surface, _ := newTestManager(t)
	store := sampleStore()

	m.SetTopology(store)
	m.SetTopology(store)
	m.SetCameraStatus(models.CameraStatusMap{4: {Online: true}})
	m.SetCameraStatus(models.CameraStatusMap{4: {Online: true}})

	assert.Empty(t, surface.Violations())
	for _, k := range scene.Kinds() {
		assert.LessOrEqual(t, surface.Live(k), 1, "kind %s", k)
	}
	assert.Len(t, surface.Snapshot().Layers, 4)
}

func TestManager_TogglePathsReproducesSegment(t *testing.T) {
	m, surface, _ := newTestManager(t)
	m.SetTopology(storeOf(
		[]models.Node{node("n1", "N1", 0, 0), node("n2", "N2", 50, 25)},
		[]models.Connection{{StartNodeKey: "n1", EndNodeKey: "n2"}},
	))

	before := liveLayer(t, surface, scene.KindPaths).Elements
	require.Len(t, before, 2)
	assert.Equal(t, []geometry.Point{{X: 0, Y: 0}, {X: 50, Y: 25}}, before[1].Points)

	nodesHandle, _ := m.Handle(scene.KindNodes)

	m.SetVisible(scene.KindPaths, false)
	assert.Equal(t, 0, surface.Live(scene.KindPaths))
	after, _ := m.Handle(scene.KindNodes)
	assert.Equal(t, nodesHandle, after, "other layers untouched")

	m.SetVisible(scene.KindPaths, true)
	again := liveLayer(t, surface, scene.KindPaths).Elements
	if diff := cmp.Diff(before, again); diff != "" {
		t.Errorf("path layer changed after toggle (-before +after):\n%s", diff)
	}
	assert.Empty(t, surface.Violations())
}

func TestManager_CameraStatusOnlyRebuildsCameras(t *testing.T) {
	m, surface, _ := newTestManager(t)
	m.SetTopology(sampleStore())
	surface.Reset()

	m.SetCameraStatus(models.CameraStatusMap{4: {Online: true}})

	for _, c := range surface.Calls() {
		assert.Equal(t, scene.KindCameras, c.Kind)
	}
	cams := liveLayer(t, surface, scene.KindCameras)
	assert.Equal(t, "camera", cams.Elements[0].Style.Icon)
	assert.Contains(t, cams.Elements[0].Tooltip, "online")
}

func TestManager_CameraAddressFromConfig(t *testing.T) {
	style := config.DefaultMapStyle()
	style.CameraAddresses = []config.CameraAddress{{ID: 4, Address: "rtsp://cam-4"}}
	surface := testutil.NewRecordingSurface()
	m := NewManager(surface, style, nil, nil, zerolog.Nop())

	m.SetTopology(sampleStore())
	cams := liveLayer(t, surface, scene.KindCameras)
	assert.Contains(t, cams.Elements[0].Tooltip, "rtsp://cam-4")
}

func TestManager_ClickTargets(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetTopology(sampleStore())

	ev, ok := m.Dispatcher().Click(20, 20)
	require.True(t, ok)
	assert.Equal(t, models.SelectionCamera, ev.Kind)
	assert.Equal(t, 4, ev.CameraID)

	ev, ok = m.Dispatcher().Click(10, 0)
	require.True(t, ok)
	assert.Equal(t, "b", ev.Key)

	m.SetVisible(scene.KindNodes, false)
	_, ok = m.Dispatcher().Click(10, 0)
	assert.False(t, ok, "hidden layers are not clickable")
}

func TestManager_UpdateRobotsPatchesInPlace(t *testing.T) {
	m, surface, _ := newTestManager(t)
	m.SetTopology(sampleStore())
	surface.Reset()

	m.UpdateRobots([]models.RobotMarker{{DeviceID: "r1", X: 0, Y: 0}, {DeviceID: "r2", X: 5, Y: 5}})
	m.UpdateRobots([]models.RobotMarker{{DeviceID: "r1", X: 10, Y: 0}, {DeviceID: "r2", X: 5, Y: 5}})
	m.UpdateRobots([]models.RobotMarker{{DeviceID: "r1", X: 10, Y: 10}})

	assert.Len(t, surface.CallsFor("add", scene.KindRobots), 1, "robot layer is created once")
	assert.Empty(t, surface.CallsFor("remove", scene.KindRobots))

	upserts := surface.CallsFor("upsert", scene.KindRobots)
	require.Len(t, upserts, 4, "unchanged r2 is not re-sent")
	assert.True(t, upserts[0].Transition.Immediate)
	assert.False(t, upserts[2].Transition.Immediate)
	assert.Equal(t, animator.Duration(10), upserts[2].Transition.Duration)

	removed := surface.CallsFor("remove_marker", scene.KindRobots)
	require.Len(t, removed, 1)
	assert.Equal(t, "r2", removed[0].MarkerID)
	assert.Equal(t, 1, m.RenderedRobots())
}

func TestManager_RobotsIndexFallbackAndVisibility(t *testing.T) {
	m, surface, _ := newTestManager(t)

	m.SetVisible(scene.KindRobots, false)
	m.UpdateRobots([]models.RobotMarker{{Name: "anon", X: 1, Y: 1}})
	assert.Equal(t, 0, surface.Live(scene.KindRobots))

	m.SetVisible(scene.KindRobots, true)
	robots := liveLayer(t, surface, scene.KindRobots)
	require.Len(t, robots.Markers, 1)
	assert.Equal(t, "#0", robots.Markers[0].ID)

	m.Clear()
	assert.Empty(t, surface.Snapshot().Layers)
}
