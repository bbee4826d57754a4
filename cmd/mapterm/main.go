// mapterm shows a warehouse topology and its live fleet in a terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/topology"
	"github.com/warehouse-map/backend/internal/tui"
)

// layerKeys maps number keys to layers in the order of the help bar.
var layerKeys = map[rune]scene.Kind{
	'1': scene.KindPaths,
	'2': scene.KindNodes,
	'3': scene.KindCameras,
	'4': scene.KindCharges,
	'5': scene.KindRobots,
}

func main() {
	configPath := flag.String("config", "WarehouseMap.config", "path to the XML configuration")
	snapshotPath := flag.String("topology", "", "topology snapshot to display (JSON)")
	feedURL := flag.String("feed", "", "telemetry WebSocket URL, overrides the config")
	logPath := flag.String("log", "mapterm.log", "log file; the terminal is owned by the map")
	flag.Parse()

	if *snapshotPath == "" {
		fmt.Fprintln(os.Stderr, "usage: mapterm -topology snapshot.json [-feed ws://host/path] [-config file]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *feedURL != "" {
		cfg.Telemetry.URL = *feedURL
	}

	logFile, err := os.OpenFile(*logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	log := cfg.NewLogger(logFile).With().Str("app", "mapterm").Logger()

	topo, err := topology.ParseSnapshotFile(*snapshotPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read topology: %v\n", err)
		os.Exit(1)
	}

	screen, err := tcell.NewScreen()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating screen: %v\n", err)
		os.Exit(1)
	}
	if err := screen.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing screen: %v\n", err)
		os.Exit(1)
	}
	screen.EnableMouse()
	screen.Clear()

	err = run(screen, cfg, topo, log)
	screen.Fini()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapterm: %v\n", err)
		os.Exit(1)
	}
}

func run(screen tcell.Screen, cfg *config.AppConfig, topo *models.Topology, log zerolog.Logger) error {
	surface := tui.NewSurface(screen)

	eng := engine.New(engine.OptionsFromConfig(cfg), surface,
		engine.WithLogger(log),
		engine.WithOnReady(func(ctl engine.Controller) { ctl.ResetView() }),
		engine.WithOnSelect(func(ev models.SelectionEvent) {
			surface.SetSelection(describeSelection(ev))
		}),
		engine.WithOnStatus(func(st engine.Status) {
			surface.SetStatus(describeStatus(st))
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Close()

	if err := eng.LoadTopology(topo); err != nil {
		return fmt.Errorf("load topology: %w", err)
	}
	log.Info().Int("nodes", len(topo.NodeArr)).Str("feed", cfg.Telemetry.URL).Msg("map ready")

	for {
		surface.Draw()

		switch ev := screen.PollEvent().(type) {
		case *tcell.EventResize:
			screen.Sync()
		case *tcell.EventKey:
			if quit := handleKey(ev, eng, surface, log); quit {
				return nil
			}
		case *tcell.EventMouse:
			if ev.Buttons()&tcell.Button1 == 0 {
				continue
			}
			x, y := ev.Position()
			p := surface.PlaneAt(x, y)
			if _, hit, err := eng.Click(p.X, p.Y); err != nil {
				log.Warn().Err(err).Msg("click failed")
			} else if !hit {
				surface.SetSelection("")
			}
		case *tcell.EventInterrupt:
			// redraw requested by the surface
		case nil:
			return nil
		}
	}
}

func handleKey(ev *tcell.EventKey, eng *engine.Engine, surface *tui.Surface, log zerolog.Logger) bool {
	switch ev.Key() {
	case tcell.KeyEscape, tcell.KeyCtrlC:
		return true
	case tcell.KeyRune:
	default:
		return false
	}

	r := ev.Rune()
	if kind, ok := layerKeys[r]; ok {
		st := eng.Status()
		if err := eng.SetLayerVisible(kind, !st.Layers[string(kind)]); err != nil {
			log.Warn().Err(err).Str("layer", string(kind)).Msg("toggle failed")
		}
		return false
	}

	switch r {
	case 'q':
		return true
	case 'r':
		if err := eng.ResetView(); err != nil {
			log.Warn().Err(err).Msg("reset view failed")
		}
	case 'c':
		if err := eng.Reconnect(); err != nil {
			log.Warn().Err(err).Msg("reconnect failed")
		}
	case 'l':
		surface.ToggleLabels()
	}
	return false
}

func describeSelection(ev models.SelectionEvent) string {
	switch ev.Kind {
	case models.SelectionCamera:
		return fmt.Sprintf("Camera %d @ %.0f,%.0f", ev.CameraID, ev.X, ev.Y)
	default:
		name := ev.Name
		if name == "" {
			name = ev.Key
		}
		return fmt.Sprintf("%s @ %.0f,%.0f", name, ev.X, ev.Y)
	}
}

func describeStatus(st engine.Status) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "feed %s | robots %d", st.Connection, st.Robots)
	if st.Unresolved > 0 {
		fmt.Fprintf(&sb, " (+%d unplaced)", st.Unresolved)
	}
	if st.LastError != "" {
		fmt.Fprintf(&sb, " | %s", st.LastError)
	}
	sb.WriteString(" | 1-5 layers  l labels  r reset  c reconnect  q quit")
	return sb.String()
}
