// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/config"
	"github.com/warehouse-map/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store         storage.Store
	Sessions      SessionManager
	Logger        zerolog.Logger
	Version       string
	MaxFrameBytes int64
	MaxWSMessage  int64

	// FeedHosts are the hosts a session's telemetryUrl may name
	FeedHosts []string
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Session   SessionHandler
	Topology  TopologyHandler
	Map       MapHandler
	Telemetry TelemetryHandler
	Viewer    ViewerHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	log := deps.Logger.With().Str("component", "api").Logger()
	return &Handlers{
		Health:    NewHealthHandler(deps.Version, deps.Sessions),
		Session:   NewSessionHandler(deps.Sessions, log, deps.FeedHosts),
		Topology:  NewTopologyHandler(deps.Store, deps.Sessions, log),
		Map:       NewMapHandler(deps.Sessions, log),
		Telemetry: NewTelemetryHandler(deps.Sessions, log, deps.MaxFrameBytes),
		Viewer:    NewViewerHandler(deps.Sessions, log, deps.MaxWSMessage),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	// Health check
	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// Stored snapshots
	topoGroup := apiGroup.Group("/topologies")
	topoGroup.GET("", handlers.Topology.HandleListTopologies)
	topoGroup.PUT("/:topologyId", handlers.Topology.HandleRenameTopology)
	topoGroup.DELETE("/:topologyId", handlers.Topology.HandleDeleteTopology)

	// Viewer sessions
	sessGroup := apiGroup.Group("/sessions")
	sessGroup.POST("", handlers.Session.HandleCreateSession)
	sessGroup.GET("", handlers.Session.HandleListSessions)
	sessGroup.DELETE("/:id", handlers.Session.HandleDeleteSession)
	sessGroup.POST("/:id/keepalive", handlers.Session.HandleKeepAlive)

	sessGroup.GET("/:id/topology", handlers.Topology.HandleGetTopology)
	sessGroup.POST("/:id/topology", handlers.Topology.HandleLoadTopology)

	sessGroup.PUT("/:id/layers/:layer", handlers.Map.HandleSetLayer)
	sessGroup.PUT("/:id/cameras", handlers.Map.HandleSetCameras)
	sessGroup.GET("/:id/scene", handlers.Map.HandleGetScene)
	sessGroup.POST("/:id/click", handlers.Map.HandleClick)
	sessGroup.POST("/:id/reset-view", handlers.Map.HandleResetView)
	sessGroup.GET("/:id/status", handlers.Map.HandleGetStatus)

	sessGroup.POST("/:id/frames", handlers.Telemetry.HandlePushFrames)
	sessGroup.GET("/:id/robots", handlers.Telemetry.HandleGetRobots)
	sessGroup.POST("/:id/reconnect", handlers.Telemetry.HandleReconnect)
	sessGroup.GET("/:id/robots/:deviceId/trail", handlers.Telemetry.HandleGetTrail)

	// WebSocket endpoint
	sessGroup.GET("/:id/ws", handlers.Viewer.HandleViewerWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.AppConfig, log zerolog.Logger) {
	e.HideBanner = true
	e.HTTPErrorHandler = ErrorHandler
	ShowErrorDetails = strings.EqualFold(cfg.Advanced.LogLevel, "debug")

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		Skipper: func(c echo.Context) bool {
			if !cfg.Advanced.EnableRequestLogging {
				return true
			}
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") ||
				strings.HasSuffix(path, "/frames") ||
				strings.HasSuffix(path, "/keepalive") ||
				path == "/api/health"
		},
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 1024 * 4,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Error().Err(err).Str("stack", string(stack)).Msg("panic recovered")
			return err
		},
	}))

	e.Use(middleware.TimeoutWithConfig(middleware.TimeoutConfig{
		Timeout: time.Duration(cfg.Server.ReadTimeout) * time.Second,
		Skipper: func(c echo.Context) bool {
			return strings.HasSuffix(c.Request().URL.Path, "/ws")
		},
		ErrorMessage: "Request timeout",
	}))

	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	if cfg.Server.EnableCORS {
		origins := strings.Split(cfg.Server.AllowOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		if len(origins) == 0 || (len(origins) == 1 && origins[0] == "") {
			origins = []string{"*"}
		}
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: origins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		}))
	}
}
