// handlers_health.go - Liveness and fleet summary
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status     string `json:"status"`
	Version    string `json:"version"`
	Uptime     string `json:"uptime"`
	Sessions   int    `json:"sessions"`
	LiveFeeds  int    `json:"liveFeeds"`
	Topologies int    `json:"topologiesLoaded"`
}

// HealthHandlerImpl reports process liveness and how many viewers are active.
type HealthHandlerImpl struct {
	version  string
	started  time.Time
	sessions SessionManager
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version string, sessions SessionManager) HealthHandler {
	return &HealthHandlerImpl{
		version:  version,
		started:  time.Now(),
		sessions: sessions,
	}
}

// HandleHealth returns server health status
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Version: h.version,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.sessions != nil {
		for _, s := range h.sessions.List() {
			resp.Sessions++
			if s.TelemetryURL != "" {
				resp.LiveFeeds++
			}
			if s.TopologyID != "" {
				resp.Topologies++
			}
		}
	}
	return c.JSON(http.StatusOK, resp)
}
