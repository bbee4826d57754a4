// handlers_session.go - Viewer session handlers
package api

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/engine"
	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/session"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	sessions  SessionManager
	log       zerolog.Logger
	feedHosts []string
}

// NewSessionHandler creates a new session handler. feedHosts lists the hosts
// a client may point telemetryUrl at; with none, client feeds are refused.
func NewSessionHandler(sessions SessionManager, log zerolog.Logger, feedHosts []string) SessionHandler {
	return &SessionHandlerImpl{sessions: sessions, log: log, feedHosts: feedHosts}
}

// HandleCreateSession starts a new map session, optionally bound to a live feed
func (h *SessionHandlerImpl) HandleCreateSession(c echo.Context) error {
	var req createSessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return NewBadRequestError("invalid request body", err)
		}
	}
	if err := req.validate(h.feedHosts); err != nil {
		return err
	}

	state, err := h.sessions.Create(session.CreateOptions{TelemetryURL: req.TelemetryURL})
	if errors.Is(err, session.ErrTooManySessions) {
		return NewServiceUnavailableError("too many active sessions")
	}
	if err != nil {
		return NewInternalError("failed to create session", err)
	}

	return c.JSON(http.StatusCreated, sessionResponse{
		Session: state.Info(),
		Status:  state.Engine.Status(),
	})
}

// HandleListSessions lists live sessions, most recently used first
func (h *SessionHandlerImpl) HandleListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, h.sessions.List())
}

// HandleDeleteSession closes a session and its engine
func (h *SessionHandlerImpl) HandleDeleteSession(c echo.Context) error {
	id := c.Param("id")
	if err := h.sessions.Delete(id); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return NewNotFoundError("session", id)
		}
		return NewInternalError("failed to close session", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleKeepAlive marks a session as in use
func (h *SessionHandlerImpl) HandleKeepAlive(c echo.Context) error {
	id := c.Param("id")
	if !h.sessions.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id": id,
		"ok": true,
	})
}

// lookupSession resolves :id and refreshes its keep-alive timestamp.
func lookupSession(sessions SessionManager, c echo.Context) (*session.State, error) {
	id := c.Param("id")
	state, ok := sessions.Get(id)
	if !ok {
		return nil, NewNotFoundError("session", id)
	}
	sessions.TouchSession(id)
	return state, nil
}

// Request types

type createSessionRequest struct {
	TelemetryURL string `json:"telemetryUrl"`
}

func (r *createSessionRequest) validate(allowed []string) error {
	if r.TelemetryURL == "" {
		return nil
	}
	u, err := url.Parse(r.TelemetryURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return NewValidationError("telemetryUrl")
	}
	if !hostAllowed(u, allowed) {
		return NewForbiddenError("telemetry host not allowed: " + u.Host)
	}
	return nil
}

// hostAllowed matches u against entries of the form host or host:port.
func hostAllowed(u *url.URL, allowed []string) bool {
	for _, entry := range allowed {
		if strings.EqualFold(entry, u.Host) {
			return true
		}
		if !strings.Contains(entry, ":") && strings.EqualFold(entry, u.Hostname()) {
			return true
		}
	}
	return false
}

type sessionResponse struct {
	Session models.ViewerSession `json:"session"`
	Status  engine.Status        `json:"status"`
}
