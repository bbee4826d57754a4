// handlers_telemetry.go - Pushed telemetry, live feed and robot trail handlers
package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/track"
)

// TelemetryHandlerImpl implements the TelemetryHandler interface
type TelemetryHandlerImpl struct {
	sessions      SessionManager
	log           zerolog.Logger
	maxFrameBytes int64
}

// NewTelemetryHandler creates a new telemetry handler
func NewTelemetryHandler(sessions SessionManager, log zerolog.Logger, maxFrameBytes int64) TelemetryHandler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = 1 << 20
	}
	return &TelemetryHandlerImpl{
		sessions:      sessions,
		log:           log,
		maxFrameBytes: maxFrameBytes,
	}
}

// HandlePushFrames ingests one telemetry payload in any accepted frame shape
func (h *TelemetryHandlerImpl) HandlePushFrames(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, h.maxFrameBytes+1))
	if err != nil {
		return NewBadRequestError("failed to read body", err)
	}
	if int64(len(body)) > h.maxFrameBytes {
		return NewBadRequestError("telemetry frame too large", nil)
	}

	if err := state.Engine.IngestFrame(body); err != nil {
		return engineError(err, "failed to ingest frame")
	}

	st := state.Engine.Status()
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"robots":     st.Robots,
		"unresolved": st.Unresolved,
	})
}

// HandleGetRobots returns the last known good robot positions
func (h *TelemetryHandlerImpl) HandleGetRobots(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	robots, err := state.Engine.Robots()
	if err != nil {
		return engineError(err, "failed to read robots")
	}
	if robots == nil {
		robots = []models.RobotMarker{}
	}
	return c.JSON(http.StatusOK, robots)
}

// HandleReconnect retries the live feed after it gave up
func (h *TelemetryHandlerImpl) HandleReconnect(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	if state.Info().TelemetryURL == "" {
		return NewConflictError("session has no live feed")
	}
	if err := state.Engine.Reconnect(); err != nil {
		return engineError(err, "failed to reconnect")
	}
	return c.JSON(http.StatusAccepted, state.Engine.Status())
}

// HandleGetTrail returns where a robot has been
func (h *TelemetryHandlerImpl) HandleGetTrail(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	if state.Trail == nil {
		return NewServiceUnavailableError("trail recording is disabled")
	}

	deviceID := c.Param("deviceId")
	since, err := parseSince(c.QueryParam("since"))
	if err != nil {
		return NewValidationError("since")
	}
	limit := track.DefaultLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	samples, err := state.Trail.Trail(c.Request().Context(), deviceID, since, limit)
	if err != nil {
		return FromError(err, "failed to query trail")
	}
	if samples == nil {
		samples = []track.Sample{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"deviceId": deviceID,
		"samples":  samples,
	})
}

// parseSince accepts RFC3339, unix milliseconds, or a Go duration meaning
// "that long ago". Empty means the beginning.
func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}
