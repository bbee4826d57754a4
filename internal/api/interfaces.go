// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/session"
)

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionHandler handles viewer session lifecycle
type SessionHandler interface {
	HandleCreateSession(c echo.Context) error
	HandleListSessions(c echo.Context) error
	HandleDeleteSession(c echo.Context) error
	HandleKeepAlive(c echo.Context) error
}

// TopologyHandler handles snapshot import and activation
type TopologyHandler interface {
	HandleGetTopology(c echo.Context) error
	HandleLoadTopology(c echo.Context) error
	HandleListTopologies(c echo.Context) error
	HandleRenameTopology(c echo.Context) error
	HandleDeleteTopology(c echo.Context) error
}

// MapHandler handles layers, cameras, the rendered scene and clicks
type MapHandler interface {
	HandleSetLayer(c echo.Context) error
	HandleSetCameras(c echo.Context) error
	HandleGetScene(c echo.Context) error
	HandleClick(c echo.Context) error
	HandleResetView(c echo.Context) error
	HandleGetStatus(c echo.Context) error
}

// TelemetryHandler handles pushed frames, the live feed and robot trails
type TelemetryHandler interface {
	HandlePushFrames(c echo.Context) error
	HandleGetRobots(c echo.Context) error
	HandleReconnect(c echo.Context) error
	HandleGetTrail(c echo.Context) error
}

// ViewerHandler streams scene changes and events over WebSocket
type ViewerHandler interface {
	HandleViewerWebSocket(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	Create(opts session.CreateOptions) (*session.State, error)
	Get(id string) (*session.State, bool)
	TouchSession(id string) bool
	Delete(id string) error
	List() []models.ViewerSession
	Len() int
}

var _ SessionManager = (*session.Manager)(nil)
