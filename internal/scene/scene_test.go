package scene

import (
	"bytes"
	"image/png"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-map/backend/internal/geometry"
)

func sampleScene() (*Scene, Handle, Handle) {
	s := New()
	s.SetViewport(Viewport{Width: 100, Height: 50, Zoom: 1})
	paths := s.AddLayer(KindPaths, []Element{
		{ID: "a->b", Type: ElementStroke, Points: []geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 50}}, Style: Style{Color: "#38bdf8", Width: 2, Opacity: 0.9}},
	})
	robots := s.AddLayer(KindRobots, nil)
	s.UpsertMarker(robots, Marker{ID: "agv-1", Position: geometry.Point{X: 10, Y: 10}, Label: "AGV 1"}, Transition{Immediate: true})
	return s, paths, robots
}

func TestScene_LayerLifecycle(t *testing.T) {
	s, paths, robots := sampleScene()

	snap := s.Snapshot()
	require.Len(t, snap.Layers, 2)
	assert.Equal(t, KindPaths, snap.Layers[0].Kind)
	assert.Equal(t, []Handle{paths}, s.Handles(KindPaths))
	require.Len(t, snap.Layers[1].Markers, 1)
	assert.Equal(t, "agv-1", snap.Layers[1].Markers[0].ID)

	s.RemoveLayer(paths)
	assert.Empty(t, s.Handles(KindPaths))
	assert.Len(t, s.Snapshot().Layers, 1)

	// removing twice is a no-op
	v := s.Version()
	s.RemoveLayer(paths)
	assert.Equal(t, v, s.Version())

	s.RemoveMarker(robots, "agv-1")
	assert.Empty(t, s.Snapshot().Layers[0].Markers)
}

func TestScene_UpsertKeepsOrder(t *testing.T) {
	s := New()
	h := s.AddLayer(KindRobots, nil)
	s.UpsertMarker(h, Marker{ID: "b"}, Transition{Immediate: true})
	s.UpsertMarker(h, Marker{ID: "a"}, Transition{Immediate: true})
	s.UpsertMarker(h, Marker{ID: "b", Position: geometry.Point{X: 5}}, Transition{Duration: 300 * time.Millisecond})

	markers := s.Snapshot().Layers[0].Markers
	require.Len(t, markers, 2)
	assert.Equal(t, "b", markers[0].ID)
	assert.Equal(t, 5.0, markers[0].Position.X)
	assert.Equal(t, "a", markers[1].ID)

	// unknown handle is ignored
	s.UpsertMarker(Handle("missing"), Marker{ID: "x"}, Transition{})
	assert.Len(t, s.Snapshot().Layers[0].Markers, 2)
}

func TestScene_Subscribe(t *testing.T) {
	s := New()
	var got []ChangeType
	cancel := s.Subscribe(func(c Change) { got = append(got, c.Type) })

	h := s.AddLayer(KindNodes, []Element{{ID: "n1", Type: ElementMarker}})
	s.UpsertMarker(h, Marker{ID: "m"}, Transition{Immediate: true})
	s.RemoveLayer(h)
	cancel()
	s.AddLayer(KindNodes, nil)

	assert.Equal(t, []ChangeType{ChangeLayerAdded, ChangeMarkerUpserted, ChangeLayerRemoved}, got)
}

func TestEncode(t *testing.T) {
	s, _, _ := sampleScene()
	snap := s.Snapshot()

	for _, f := range []Format{FormatJSON, FormatMsgpack} {
		t.Run(string(f), func(t *testing.T) {
			data, err := Encode(snap, f)
			require.NoError(t, err)

			back, err := DecodeSnapshot(data, f)
			require.NoError(t, err)
			assert.Equal(t, snap.Version, back.Version)
			require.Len(t, back.Layers, 2)
			assert.Equal(t, snap.Layers[0].Elements[0].Points, back.Layers[0].Elements[0].Points)
		})
	}

	_, err := Encode(snap, Format("xml"))
	assert.Error(t, err)
}

func TestRenderSVG(t *testing.T) {
	s, _, _ := sampleScene()
	s.AddLayer(KindCameras, []Element{
		{ID: "cam-3", Type: ElementMarker, Position: geometry.Point{X: 50, Y: 25}, Tooltip: "Camera 3 <offline>", Target: "camera:3", Style: Style{Icon: "camera-offline", Radius: 5}},
	})

	out := RenderSVG(s.Snapshot(), DefaultSVGOptions())

	assert.True(t, strings.HasPrefix(out, "<svg"))
	assert.Contains(t, out, "<polyline")
	assert.Contains(t, out, `class="layer layer-cameras"`)
	assert.Contains(t, out, "Camera 3 &lt;offline&gt;")
	assert.Contains(t, out, `data-id="agv-1"`)
	assert.Contains(t, out, "AGV 1")

	// robots draw above paths regardless of insertion order
	assert.Less(t, strings.Index(out, "layer-paths"), strings.Index(out, "layer-robots"))
}

func TestRenderPNG(t *testing.T) {
	s, _, _ := sampleScene()
	var buf bytes.Buffer

	opts := DefaultPNGOptions()
	opts.Width, opts.Height = 120, 60
	require.NoError(t, RenderPNG(&buf, s.Snapshot(), opts))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 120, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())

	assert.Error(t, RenderPNG(&buf, s.Snapshot(), PNGOptions{}))
}

func TestParseHexColor(t *testing.T) {
	c := parseHexColor("#ff8000", 0.5)
	assert.Equal(t, uint8(255), c.R)
	assert.Equal(t, uint8(128), c.G)
	assert.Equal(t, uint8(0), c.B)
	assert.Equal(t, uint8(128), c.A)

	short := parseHexColor("#fff", 1)
	assert.Equal(t, uint8(255), short.B)

	bad := parseHexColor("purple", 1)
	assert.Equal(t, uint8(128), bad.R)
}
