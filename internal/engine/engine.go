// Package engine runs one map session: a single event loop owns the topology,
// the layers, the animator and the robot cache, and every public method is a
// command posted to that loop.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/animator"
	"github.com/warehouse-map/backend/internal/interaction"
	"github.com/warehouse-map/backend/internal/layer"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/telemetry"
	"github.com/warehouse-map/backend/internal/topology"
)

// ErrClosed is returned by every method once the engine is closed.
var ErrClosed = errors.New("engine closed")

// Status is the externally visible engine state.
type Status struct {
	Ready           bool             `json:"ready"`
	Closed          bool             `json:"closed"`
	Connection      telemetry.Status `json:"connection"`
	ConnectionError string           `json:"connectionError,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	LastErrorAt     *time.Time       `json:"lastErrorAt,omitempty"`
	TopologyVersion uint64           `json:"topologyVersion"`
	Nodes           int              `json:"nodes"`
	Connections     int              `json:"connections"`
	Robots          int              `json:"robots"`
	Unresolved      int              `json:"unresolved"`
	Frames          uint64           `json:"frames"`
	Heartbeats      uint64           `json:"heartbeats"`
	Layers          map[string]bool  `json:"layers"`
}

// Engine is one independent map session.
type Engine struct {
	opts    Options
	surface scene.Surface
	log     zerolog.Logger
	now     func() time.Time

	onReady   func(Controller)
	onSelect  func(models.SelectionEvent)
	onStatus  func(Status)
	newFeed   FeedFactory
	recorder  Recorder
	publisher Publisher

	cmds    chan func()
	quit    chan struct{}
	stopped chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	// owned by the loop
	store      *topology.Store
	layers     *layer.Manager
	dispatcher *interaction.Dispatcher
	frames     []models.TelemetryFrame
	robots     []models.RobotMarker
	feed       Feed
	shut       bool

	statusMu sync.RWMutex
	status   Status
}

// New creates an engine drawing into surface and starts its loop.
// Close must be called to release it.
func New(opts Options, surface scene.Surface, options ...Option) *Engine {
	e := &Engine{
		opts:    opts,
		surface: surface,
		log:     zerolog.Nop(),
		now:     time.Now,
		newFeed: defaultFeed,
		cmds:    make(chan func()),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		store:   topology.NewStore(),
	}
	for _, o := range options {
		o(e)
	}
	e.log = e.log.With().Str("component", "engine").Logger()

	e.dispatcher = interaction.NewDispatcher(opts.Style.HitRadius)
	e.dispatcher.Subscribe(e.handleSelection)
	e.layers = layer.NewManager(surface, opts.Style, e.dispatcher, animator.New(opts.Animation), e.log)

	e.status = Status{Connection: telemetry.StatusIdle, Layers: e.layerFlags()}

	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.stopped)
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case <-e.quit:
			return
		}
	}
}

// do runs fn on the loop and waits for it. Commands that reach the loop
// after teardown are rejected.
func (e *Engine) do(fn func()) error {
	done := make(chan bool, 1)
	cmd := func() {
		if e.shut {
			done <- false
			return
		}
		fn()
		done <- true
	}

	select {
	case e.cmds <- cmd:
	case <-e.quit:
		return ErrClosed
	}
	select {
	case ran := <-done:
		if !ran {
			return ErrClosed
		}
		return nil
	case <-e.stopped:
		return ErrClosed
	}
}

// Start initializes the surface, fires the ready callback once and connects
// the live feed when one is configured. Cancelling ctx closes the engine.
func (e *Engine) Start(ctx context.Context) error {
	first := false
	var err error
	e.startOnce.Do(func() {
		first = true
		err = e.do(func() {
			e.layers.ResetView()
			e.updateStatus(func(s *Status) { s.Ready = true })
			if e.onReady != nil {
				e.onReady(controller{e})
			}

			if e.opts.Telemetry.URL != "" {
				e.feed = e.newFeed(e.opts.Telemetry, e.log, e.feedMessage, e.feedStatus)
				e.feed.Start(ctx)
			}
		})
		if err != nil {
			return
		}
		go func() {
			select {
			case <-ctx.Done():
				e.Close()
			case <-e.quit:
			}
		}()
	})
	if !first {
		select {
		case <-e.quit:
			return ErrClosed
		default:
			return nil
		}
	}
	return err
}

// Close removes every layer, closes the feed with a normal closure, cancels
// pending reconnects and stops the loop. Safe to call more than once.
func (e *Engine) Close() error {
	err := ErrClosed
	e.closeOnce.Do(func() {
		err = e.do(func() {
			if e.feed != nil {
				if cerr := e.feed.Close(); cerr != nil {
					e.log.Debug().Err(cerr).Msg("closing feed")
				}
				e.feed = nil
			}
			e.layers.Clear()
			e.shut = true
			e.updateStatus(func(s *Status) {
				s.Closed = true
				s.Ready = false
				s.Connection = telemetry.StatusClosed
			})
		})
		close(e.quit)
		<-e.stopped
	})
	if err == ErrClosed {
		return nil
	}
	return err
}

// Done is closed once the engine has stopped.
func (e *Engine) Done() <-chan struct{} {
	return e.stopped
}

// LoadTopology replaces the snapshot and rebuilds the topology layers.
// Robots are re-resolved against the new snapshot.
func (e *Engine) LoadTopology(topo *models.Topology) error {
	if topo == nil {
		return topology.ErrInvalidSnapshot
	}
	return e.do(func() {
		e.store.Load(topo)
		e.layers.SetTopology(e.store)
		e.applyFleet()
		e.updateStatus(func(s *Status) {
			s.TopologyVersion = e.store.Version()
			s.Nodes = len(topo.NodeArr)
			s.Connections = len(topo.LineArr)
		})
		e.log.Info().
			Int("nodes", len(topo.NodeArr)).
			Int("connections", len(topo.LineArr)).
			Uint64("version", e.store.Version()).
			Msg("topology loaded")
	})
}

// Topology returns the current snapshot.
func (e *Engine) Topology() (*models.Topology, error) {
	var topo *models.Topology
	err := e.do(func() { topo = e.store.Snapshot() })
	return topo, err
}

// SetLayerVisible toggles one layer.
func (e *Engine) SetLayerVisible(kind scene.Kind, visible bool) error {
	return e.do(func() {
		e.layers.SetVisible(kind, visible)
		e.updateStatus(func(s *Status) { s.Layers = e.layerFlags() })
	})
}

// SetCameraStatus applies a camera online/offline map.
func (e *Engine) SetCameraStatus(status models.CameraStatusMap) error {
	return e.do(func() { e.layers.SetCameraStatus(status) })
}

// IngestFrame decodes one telemetry payload and updates the robot layer.
// A decode failure is recorded in Status().LastError and leaves the last good
// robots on screen.
func (e *Engine) IngestFrame(data []byte) error {
	var err error
	if derr := e.do(func() { err = e.handleFrame(data) }); derr != nil {
		return derr
	}
	return err
}

// Click hit-tests a plane position and emits a selection event on a hit.
func (e *Engine) Click(x, y float64) (models.SelectionEvent, bool, error) {
	var ev models.SelectionEvent
	var ok bool
	err := e.do(func() { ev, ok = e.dispatcher.Click(x, y) })
	return ev, ok, err
}

// ClickTarget emits the selection event of a rendered target id.
func (e *Engine) ClickTarget(id string) (models.SelectionEvent, bool, error) {
	var ev models.SelectionEvent
	var ok bool
	err := e.do(func() { ev, ok = e.dispatcher.ClickTarget(id) })
	return ev, ok, err
}

// Robots returns the last known good robot positions.
func (e *Engine) Robots() ([]models.RobotMarker, error) {
	var out []models.RobotMarker
	err := e.do(func() { out = append([]models.RobotMarker(nil), e.robots...) })
	return out, err
}

// ResetView fits the viewport to the facility.
func (e *Engine) ResetView() error {
	return e.do(e.layers.ResetView)
}

// Reconnect retries the live feed after it gave up.
func (e *Engine) Reconnect() error {
	return e.do(func() {
		if e.feed != nil {
			e.feed.Reconnect()
		}
	})
}

// Status returns a copy of the engine status. It does not go through the loop.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()

	s := e.status
	s.Layers = make(map[string]bool, len(e.status.Layers))
	for k, v := range e.status.Layers {
		s.Layers[k] = v
	}
	return s
}

func (e *Engine) handleFrame(data []byte) error {
	msg, err := telemetry.Decode(data)
	if err != nil {
		at := e.now()
		e.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed telemetry frame")
		e.updateStatus(func(s *Status) {
			s.LastError = err.Error()
			s.LastErrorAt = &at
		})
		return err
	}

	e.updateStatus(func(s *Status) {
		s.LastError = ""
		s.LastErrorAt = nil
		if msg.Heartbeat {
			s.Heartbeats++
		} else {
			s.Frames++
		}
	})
	if msg.Heartbeat {
		return nil
	}

	if msg.Single && len(msg.Frames) == 1 && msg.Frames[0].DeviceID != "" {
		e.mergeFrame(msg.Frames[0])
	} else {
		e.frames = msg.Frames
	}
	e.applyFleet()
	return nil
}

// mergeFrame replaces or appends one robot in the cached fleet.
func (e *Engine) mergeFrame(f models.TelemetryFrame) {
	for i := range e.frames {
		if e.frames[i].DeviceID == f.DeviceID {
			frames := append([]models.TelemetryFrame(nil), e.frames...)
			frames[i] = f
			e.frames = frames
			return
		}
	}
	e.frames = append(append([]models.TelemetryFrame(nil), e.frames...), f)
}

func (e *Engine) applyFleet() {
	if len(e.frames) == 0 && len(e.robots) == 0 {
		return
	}
	robots, unresolved := telemetry.ResolveFleet(e.frames, e.store)
	if len(unresolved) > 0 {
		e.log.Debug().Strs("devices", unresolved).Msg("robots not placeable this tick")
	}
	e.robots = robots
	e.layers.UpdateRobots(robots)
	e.updateStatus(func(s *Status) {
		s.Robots = len(robots)
		s.Unresolved = len(unresolved)
	})

	if e.recorder != nil && len(robots) > 0 {
		e.recorder.Record(robots, e.now())
	}
	if e.publisher != nil {
		if err := e.publisher.PublishFleet(robots); err != nil {
			e.log.Warn().Err(err).Msg("publishing fleet update")
		}
	}
}

func (e *Engine) handleSelection(ev models.SelectionEvent) {
	if e.onSelect != nil {
		e.onSelect(ev)
	}
	if e.publisher != nil {
		if err := e.publisher.PublishSelection(ev); err != nil {
			e.log.Warn().Err(err).Msg("publishing selection")
		}
	}
}

// feedMessage runs on the feed's read goroutine.
func (e *Engine) feedMessage(data []byte) {
	if err := e.IngestFrame(data); err != nil && !errors.Is(err, ErrClosed) {
		e.log.Debug().Err(err).Msg("telemetry frame rejected")
	}
}

// feedStatus may run on any goroutine, including the loop during Close, so
// it only touches the status snapshot.
func (e *Engine) feedStatus(st telemetry.Status, err error) {
	e.updateStatus(func(s *Status) {
		if s.Closed {
			return
		}
		s.Connection = st
		s.ConnectionError = ""
		if err != nil {
			s.ConnectionError = err.Error()
		}
	})
}

func (e *Engine) updateStatus(fn func(*Status)) {
	e.statusMu.Lock()
	fn(&e.status)
	e.statusMu.Unlock()

	if e.onStatus != nil {
		e.onStatus(e.Status())
	}
}

func (e *Engine) layerFlags() map[string]bool {
	flags := make(map[string]bool)
	for _, k := range scene.Kinds() {
		flags[string(k)] = e.layers != nil && e.layers.Visible(k)
	}
	return flags
}

type controller struct {
	e *Engine
}

// ResetView is asynchronous so it can be called from the ready callback.
func (c controller) ResetView() {
	go c.e.ResetView()
}

func (c controller) Status() Status {
	return c.e.Status()
}
