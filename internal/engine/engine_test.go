package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warehouse-map/backend/internal/animator"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/telemetry"
	"github.com/warehouse-map/backend/internal/testutil"
	"github.com/warehouse-map/backend/internal/topology"
)

type fakeFeed struct {
	mu         sync.Mutex
	started    bool
	closed     int
	reconnects int
	onMessage  func([]byte)
	onStatus   func(telemetry.Status, error)
}

func (f *fakeFeed) Start(context.Context) {
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	f.onStatus(telemetry.StatusConnected, nil)
}

func (f *fakeFeed) Reconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	f.onStatus(telemetry.StatusClosed, nil)
	return nil
}

type fakePublisher struct {
	mu         sync.Mutex
	selections []models.SelectionEvent
	fleets     int
}

func (p *fakePublisher) PublishSelection(ev models.SelectionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.selections = append(p.selections, ev)
	return nil
}

func (p *fakePublisher) PublishFleet([]models.RobotMarker) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fleets++
	return nil
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls int
}

func (r *fakeRecorder) Record([]models.RobotMarker, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
}

func twoNodeTopology() *models.Topology {
	return &models.Topology{
		Width:  100,
		Height: 100,
		NodeArr: []models.Node{
			{Key: "cell-5", Name: "Cell 5", X: models.Float(10), Y: models.Float(20)},
			{Key: "cell-6", Name: "Camera2", X: models.Float(40), Y: models.Float(20)},
		},
		LineArr: []models.Connection{{StartNodeKey: "cell-5", EndNodeKey: "cell-6"}},
	}
}

func startEngine(t *testing.T, opts Options, extra ...Option) (*Engine, *testutil.RecordingSurface) {
	t.Helper()
	surface := testutil.NewRecordingSurface()
	e := New(opts, surface, extra...)
	t.Cleanup(func() { e.Close() })
	require.NoError(t, e.Start(context.Background()))
	return e, surface
}

func TestEngine_LoadTopologyStackedNodes(t *testing.T) {
	topo := &models.Topology{Width: 10, Height: 10}
	for i := 0; i < 12; i++ {
		topo.NodeArr = append(topo.NodeArr, models.Node{
			Key: fmt.Sprintf("n%02d", i), X: models.Float(0), Y: models.Float(0),
		})
	}

	e, _ := startEngine(t, DefaultOptions())
	require.NoError(t, e.LoadTopology(topo))
	assert.Equal(t, 12, e.Status().Nodes)

	ev, ok, err := e.Click(0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "n00", ev.Key)
}

func TestEngine_ReadyFiresOnce(t *testing.T) {
	calls := 0
	var ctrl Controller
	e, _ := startEngine(t, DefaultOptions(), WithOnReady(func(c Controller) {
		calls++
		ctrl = c
	}))

	require.NoError(t, e.Start(context.Background()))
	assert.Equal(t, 1, calls)
	require.NotNil(t, ctrl)
	assert.True(t, ctrl.Status().Ready)
}

func TestEngine_LoadTopologyAndToggle(t *testing.T) {
	e, surface := startEngine(t, DefaultOptions())
	require.NoError(t, e.LoadTopology(twoNodeTopology()))

	st := e.Status()
	assert.Equal(t, uint64(1), st.TopologyVersion)
	assert.Equal(t, 2, st.Nodes)
	assert.Equal(t, 1, surface.Live(scene.KindPaths))
	assert.Equal(t, 1, surface.Live(scene.KindCameras))

	require.NoError(t, e.SetLayerVisible(scene.KindPaths, false))
	assert.Equal(t, 0, surface.Live(scene.KindPaths))
	assert.False(t, e.Status().Layers["paths"])

	require.NoError(t, e.SetCameraStatus(models.CameraStatusMap{2: {Online: true}}))
	assert.Empty(t, surface.Violations())

	topo, err := e.Topology()
	require.NoError(t, err)
	assert.Len(t, topo.NodeArr, 2)

	assert.ErrorIs(t, e.LoadTopology(nil), topology.ErrInvalidSnapshot)
}

func TestEngine_IngestFrames(t *testing.T) {
	e, surface := startEngine(t, DefaultOptions())
	require.NoError(t, e.LoadTopology(twoNodeTopology()))

	frames := []string{
		`{"deviceId":"r1","devicePosition":{"x":0,"y":0}}`,
		`{"deviceId":"r1","devicePosition":{"x":10,"y":0}}`,
		`{"deviceId":"r1","devicePosition":{"x":10,"y":10}}`,
	}
	for _, f := range frames {
		require.NoError(t, e.IngestFrame([]byte(f)))
	}

	upserts := surface.CallsFor("upsert", scene.KindRobots)
	require.Len(t, upserts, 3)
	assert.True(t, upserts[0].Transition.Immediate)
	assert.Equal(t, animator.Duration(10), upserts[1].Transition.Duration)
	assert.Equal(t, animator.Duration(10), upserts[2].Transition.Duration)
	assert.Equal(t, uint64(3), e.Status().Frames)
}

func TestEngine_DecodeErrorKeepsLastGood(t *testing.T) {
	e, _ := startEngine(t, DefaultOptions())
	require.NoError(t, e.LoadTopology(twoNodeTopology()))

	require.NoError(t, e.IngestFrame([]byte(`[{"deviceId":"a","devicePosition":"5"}]`)))
	robots, err := e.Robots()
	require.NoError(t, err)
	require.Len(t, robots, 1)
	assert.Equal(t, 10.0, robots[0].X)

	err = e.IngestFrame([]byte(`{"deviceId":`))
	assert.ErrorIs(t, err, telemetry.ErrDecode)
	st := e.Status()
	assert.NotEmpty(t, st.LastError)
	assert.NotNil(t, st.LastErrorAt)

	robots, _ = e.Robots()
	assert.Len(t, robots, 1, "last good robots survive a bad frame")

	require.NoError(t, e.IngestFrame([]byte(`{"type":"heartbeat"}`)))
	assert.Empty(t, e.Status().LastError)
	assert.Equal(t, uint64(1), e.Status().Heartbeats)
}

func TestEngine_SingleFramesMergeIntoFleet(t *testing.T) {
	e, _ := startEngine(t, DefaultOptions())

	require.NoError(t, e.IngestFrame([]byte(`{"deviceId":"a","devicePosition":{"x":1,"y":1}}`)))
	require.NoError(t, e.IngestFrame([]byte(`{"deviceId":"b","devicePosition":{"x":2,"y":2}}`)))
	require.NoError(t, e.IngestFrame([]byte(`{"deviceId":"a","devicePosition":{"x":3,"y":3}}`)))

	robots, err := e.Robots()
	require.NoError(t, err)
	require.Len(t, robots, 2)
	assert.Equal(t, 3.0, robots[0].X)
	assert.Equal(t, "b", robots[1].DeviceID)

	// a full fleet message replaces everything
	require.NoError(t, e.IngestFrame([]byte(`{"data":[{"deviceId":"c","devicePosition":{"x":0,"y":0}}]}`)))
	robots, _ = e.Robots()
	require.Len(t, robots, 1)
	assert.Equal(t, "c", robots[0].DeviceID)
}

func TestEngine_UnresolvedRobotsAreOmitted(t *testing.T) {
	e, _ := startEngine(t, DefaultOptions())
	require.NoError(t, e.LoadTopology(twoNodeTopology()))

	require.NoError(t, e.IngestFrame([]byte(`[{"deviceId":"a","devicePosition":"5"},{"deviceId":"b","devicePosition":"nonexistent-99"}]`)))
	robots, _ := e.Robots()
	require.Len(t, robots, 1)
	assert.Equal(t, "a", robots[0].DeviceID)
	assert.Equal(t, 1, e.Status().Unresolved)
	assert.Empty(t, e.Status().LastError)
}

func TestEngine_ClickPublishes(t *testing.T) {
	pub := &fakePublisher{}
	rec := &fakeRecorder{}
	var selected []models.SelectionEvent
	e, _ := startEngine(t, DefaultOptions(),
		WithPublisher(pub),
		WithRecorder(rec),
		WithOnSelect(func(ev models.SelectionEvent) { selected = append(selected, ev) }),
	)
	require.NoError(t, e.LoadTopology(twoNodeTopology()))

	ev, ok, err := e.Click(40, 20)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SelectionCamera, ev.Kind)
	assert.Equal(t, 2, ev.CameraID)

	ev, ok, err = e.ClickTarget("node:cell-5")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cell-5", ev.Key)

	_, ok, _ = e.Click(90, 90)
	assert.False(t, ok)

	assert.Len(t, selected, 2)
	assert.Len(t, pub.selections, 2)

	require.NoError(t, e.IngestFrame([]byte(`[{"deviceId":"a","devicePosition":"5"}]`)))
	assert.Equal(t, 1, pub.fleets)
	assert.Equal(t, 1, rec.calls)
}

func TestEngine_FeedLifecycle(t *testing.T) {
	feed := &fakeFeed{}
	factory := func(_ telemetry.Options, _ zerolog.Logger, onMessage func([]byte), onStatus func(telemetry.Status, error)) Feed {
		feed.onMessage = onMessage
		feed.onStatus = onStatus
		return feed
	}
	opts := DefaultOptions()
	opts.Telemetry = telemetry.DefaultOptions("ws://fleet.invalid/ws")

	e, surface := startEngine(t, opts, WithFeedFactory(factory))
	require.NoError(t, e.LoadTopology(twoNodeTopology()))
	assert.True(t, feed.started)
	assert.Equal(t, telemetry.StatusConnected, e.Status().Connection)

	feed.onMessage([]byte(`[{"deviceId":"a","devicePosition":"5"}]`))
	robots, _ := e.Robots()
	assert.Len(t, robots, 1)

	require.NoError(t, e.Reconnect())
	assert.Equal(t, 1, feed.reconnects)

	require.NoError(t, e.Close())
	require.NoError(t, e.Close())
	assert.Equal(t, 1, feed.closed)
	assert.Empty(t, surface.Snapshot().Layers, "teardown removes every layer")

	st := e.Status()
	assert.True(t, st.Closed)
	assert.Equal(t, telemetry.StatusClosed, st.Connection)

	assert.ErrorIs(t, e.LoadTopology(twoNodeTopology()), ErrClosed)
	assert.ErrorIs(t, e.IngestFrame([]byte(`{}`)), ErrClosed)
	assert.ErrorIs(t, e.Start(context.Background()), ErrClosed)

	// late frames from the feed after teardown are dropped
	feed.onMessage([]byte(`[{"deviceId":"a","devicePosition":"5"}]`))
	assert.Empty(t, surface.Snapshot().Layers)
}

func TestEngine_ContextCancelCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	e := New(DefaultOptions(), scene.New())
	require.NoError(t, e.Start(ctx))

	cancel()
	select {
	case <-e.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop on context cancel")
	}
	assert.True(t, e.Status().Closed)
}

func TestEngine_InstancesAreIndependent(t *testing.T) {
	a, sa := startEngine(t, DefaultOptions())
	b, sb := startEngine(t, DefaultOptions())

	require.NoError(t, a.LoadTopology(twoNodeTopology()))
	assert.Equal(t, 1, sa.Live(scene.KindPaths))
	assert.Equal(t, 0, sb.Live(scene.KindPaths))

	require.NoError(t, b.Close())
	assert.Equal(t, 1, sa.Live(scene.KindPaths))
	_, err := a.Robots()
	assert.NoError(t, err)
}

func TestEngine_LiveFeedEndToEnd(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"data":[{"deviceId":"agv","devicePosition":"cell-6"}]}`))
		conn.ReadMessage()
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Telemetry = telemetry.DefaultOptions("ws" + strings.TrimPrefix(srv.URL, "http"))

	surface := testutil.NewRecordingSurface()
	e := New(opts, surface)
	require.NoError(t, e.LoadTopology(twoNodeTopology()))
	require.NoError(t, e.Start(context.Background()))

	require.Eventually(t, func() bool {
		robots, err := e.Robots()
		return err == nil && len(robots) == 1 && robots[0].X == 40
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, e.Close())
	assert.Equal(t, telemetry.StatusClosed, e.Status().Connection)
}
