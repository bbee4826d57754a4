package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/warehouse-map/backend/internal/api"
	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/fanout"
	"github.com/warehouse-map/backend/internal/session"
	"github.com/warehouse-map/backend/internal/storage"
	"github.com/warehouse-map/backend/internal/track"
	"github.com/warehouse-map/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Get the executable's directory for config resolution
	exePath, err := os.Executable()
	if err != nil {
		fmt.Printf("Failed to get executable path: %v\n", err)
		os.Exit(1)
	}
	configPath := filepath.Join(filepath.Dir(exePath), "WarehouseMap.config")
	if p := os.Getenv("WAREHOUSE_MAP_CONFIG"); p != "" {
		configPath = p
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := cfg.NewLogger(os.Stdout)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("failed to create directories")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	embeddedMode := web.HasEmbeddedFiles()

	fileStore, err := storage.NewLocalStore(cfg.Storage.TopologyDirectory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize topology storage")
	}

	var recorder *track.Recorder
	if cfg.Track.Enabled {
		recorder, err = track.Open(
			filepath.Join(cfg.Track.Directory, "trail.duckdb"),
			track.Options{BatchSize: cfg.Track.BatchSize, FlushInterval: cfg.Track.FlushInterval()},
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open trail recorder")
		}
		defer recorder.Close()
	}

	publisher, err := fanout.Connect(cfg.Messaging.NATSURL, cfg.Messaging.SubjectPrefix, cfg.Messaging.ClientName, log)
	if err != nil {
		// the map works without fan-out
		log.Warn().Err(err).Str("url", cfg.Messaging.NATSURL).Msg("NATS unavailable, fan-out disabled")
		publisher, _ = fanout.Connect("", "", "", log)
	}
	defer publisher.Close()

	sessionMgr := session.NewManager(ctx, session.Config{
		Engine:      engine.OptionsFromConfig(cfg),
		MaxSessions: cfg.Sessions.MaxSessions,
		Recorder:    recorder,
		Publisher:   publisher,
		Logger:      log,
	})
	defer sessionMgr.Close()
	go sessionMgr.RunCleanup(ctx, cfg.Sessions.CleanupInterval(), cfg.Sessions.SessionTimeout())

	e := echo.New()
	api.SetupMiddleware(e, cfg, log)

	maxMessage := int64(cfg.Advanced.WebSocketMaxMessageSize) * 1024
	api.RegisterRoutes(e, api.NewHandlers(&api.Dependencies{
		Store:         fileStore,
		Sessions:      sessionMgr,
		Logger:        log,
		Version:       Version,
		MaxFrameBytes: maxMessage,
		MaxWSMessage:  maxMessage,
		FeedHosts:     cfg.Telemetry.DialableHosts(),
	}))

	// Register embedded viewer if available
	if embeddedMode {
		if err := web.RegisterStaticRoutes(e); err != nil {
			log.Warn().Err(err).Msg("failed to register static routes")
		}
	}

	s := &http.Server{
		Addr:         cfg.GetServerAddr(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	fmt.Printf("\n")
	fmt.Printf("╔═══════════════════════════════════════════════════════════╗\n")
	fmt.Printf("║           Warehouse Map Server                            ║\n")
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Version:    %-45s║\n", Version)
	fmt.Printf("║  Build Time: %-45s║\n", BuildTime)
	fmt.Printf("║  Telemetry:  %-45s║\n", orNone(cfg.Telemetry.URL))
	fmt.Printf("║  NATS:       %-45s║\n", orNone(cfg.Messaging.NATSURL))
	fmt.Printf("╠═══════════════════════════════════════════════════════════╣\n")
	fmt.Printf("║  Config:    %-46s║\n", configPath)
	fmt.Printf("║  Listen:    http://%-38s║\n", cfg.GetServerAddr())
	fmt.Printf("║  Data Dir:  %-46s║\n", cfg.GetDataDir())
	fmt.Printf("╚═══════════════════════════════════════════════════════════╝\n")
	fmt.Printf("\n")

	if embeddedMode {
		fmt.Printf("Open http://localhost:%d in your browser\n\n", cfg.Server.Port)
	}

	go func() {
		if err := e.StartServer(s); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown failed")
	}
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
