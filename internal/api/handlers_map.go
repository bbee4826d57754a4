// handlers_map.go - Layer, camera, scene and click handlers
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/scene"
)

const (
	formatSVG = "svg"
	formatPNG = "png"
)

// MapHandlerImpl implements the MapHandler interface
type MapHandlerImpl struct {
	sessions SessionManager
	log      zerolog.Logger
}

// NewMapHandler creates a new map handler instance
func NewMapHandler(sessions SessionManager, log zerolog.Logger) MapHandler {
	return &MapHandlerImpl{
		sessions: sessions,
		log:      log,
	}
}

// HandleSetLayer toggles one layer on or off
func (h *MapHandlerImpl) HandleSetLayer(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	kind, ok := scene.ParseKind(c.Param("layer"))
	if !ok {
		return NewValidationError("layer")
	}

	var req setLayerRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Visible == nil {
		return NewValidationError("visible")
	}

	if err := state.Engine.SetLayerVisible(kind, *req.Visible); err != nil {
		return engineError(err, "failed to toggle layer")
	}
	return c.JSON(http.StatusOK, state.Engine.Status().Layers)
}

// HandleSetCameras applies camera online/offline state. The body is either
// {"<cameraId>": {"online": bool}} or [{"cameraId": n, "online": bool}].
func (h *MapHandlerImpl) HandleSetCameras(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read body", err)
	}
	status, err := decodeCameraStatus(body)
	if err != nil {
		return NewBadRequestError("invalid camera status", err)
	}

	if err := state.Engine.SetCameraStatus(status); err != nil {
		return engineError(err, "failed to update cameras")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"cameras": len(status),
	})
}

func decodeCameraStatus(body []byte) (models.CameraStatusMap, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []models.CameraStatus
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		out := make(models.CameraStatusMap, len(list))
		for _, cs := range list {
			out[cs.CameraID] = models.CameraState{Online: cs.Online}
		}
		return out, nil
	}

	var m models.CameraStatusMap
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// HandleGetScene exports the rendered scene as json, msgpack, svg or png
func (h *MapHandlerImpl) HandleGetScene(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	width, err := intQuery(c, "width")
	if err != nil {
		return err
	}
	height, err := intQuery(c, "height")
	if err != nil {
		return err
	}

	snap := state.Scene.Snapshot()
	format := c.QueryParam("format")
	switch format {
	case "", string(scene.FormatJSON), string(scene.FormatMsgpack):
		f := scene.Format(format)
		data, err := scene.Encode(snap, f)
		if err != nil {
			return NewInternalError("failed to encode scene", err)
		}
		return c.Blob(http.StatusOK, f.ContentType(), data)

	case formatSVG:
		opts := scene.DefaultSVGOptions()
		if width > 0 {
			opts.Width = width
		}
		if height > 0 {
			opts.Height = height
		}
		opts.Title = c.QueryParam("title")
		return c.Blob(http.StatusOK, "image/svg+xml", []byte(scene.RenderSVG(snap, opts)))

	case formatPNG:
		opts := scene.DefaultPNGOptions()
		if width > 0 {
			opts.Width = width
		}
		if height > 0 {
			opts.Height = height
		}
		var buf bytes.Buffer
		if err := scene.RenderPNG(&buf, snap, opts); err != nil {
			return NewInternalError("failed to render png", err)
		}
		return c.Blob(http.StatusOK, "image/png", buf.Bytes())

	default:
		return NewUnsupportedMediaError(format)
	}
}

func intQuery(c echo.Context, name string) (int, error) {
	s := c.QueryParam(name)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 8192 {
		return 0, NewValidationError(name)
	}
	return n, nil
}

// HandleClick hit-tests a plane position or activates a target id
func (h *MapHandlerImpl) HandleClick(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	var req clickRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}

	var ev models.SelectionEvent
	var hit bool
	if req.Target != "" {
		ev, hit, err = state.Engine.ClickTarget(req.Target)
	} else {
		ev, hit, err = state.Engine.Click(*req.X, *req.Y)
	}
	if err != nil {
		return engineError(err, "failed to dispatch click")
	}

	resp := clickResponse{Hit: hit}
	if hit {
		resp.Selection = &ev
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleResetView fits the viewport to the facility
func (h *MapHandlerImpl) HandleResetView(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	if err := state.Engine.ResetView(); err != nil {
		return engineError(err, "failed to reset view")
	}
	return c.JSON(http.StatusOK, state.Scene.Snapshot().Viewport)
}

// HandleGetStatus returns the engine status
func (h *MapHandlerImpl) HandleGetStatus(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, state.Engine.Status())
}

// Request types

type setLayerRequest struct {
	Visible *bool `json:"visible"`
}

type clickRequest struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Target string   `json:"target"`
}

func (r *clickRequest) validate() error {
	if r.Target != "" {
		return nil
	}
	if r.X == nil {
		return NewValidationError("x")
	}
	if r.Y == nil {
		return NewValidationError("y")
	}
	return nil
}

type clickResponse struct {
	Hit       bool                   `json:"hit"`
	Selection *models.SelectionEvent `json:"selection,omitempty"`
}
