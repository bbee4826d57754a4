// handlers_topology.go - Topology snapshot import and activation handlers
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/models"
	"github.com/warehouse-map/backend/internal/storage"
	"github.com/warehouse-map/backend/internal/topology"
)

const defaultSnapshotName = "snapshot.json"

// TopologyHandlerImpl implements the TopologyHandler interface
type TopologyHandlerImpl struct {
	store    storage.Store
	sessions SessionManager
	log      zerolog.Logger
}

// NewTopologyHandler creates a new topology handler
func NewTopologyHandler(store storage.Store, sessions SessionManager, log zerolog.Logger) TopologyHandler {
	return &TopologyHandlerImpl{
		store:    store,
		sessions: sessions,
		log:      log,
	}
}

// HandleGetTopology returns the snapshot the session currently shows
func (h *TopologyHandlerImpl) HandleGetTopology(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	topo, err := state.Engine.Topology()
	if err != nil {
		return engineError(err, "failed to read topology")
	}
	return c.JSON(http.StatusOK, topologyResponse{
		TopologyID: state.Info().TopologyID,
		Topology:   topo,
	})
}

// HandleLoadTopology imports a snapshot into the session. The body is either
// a raw snapshot, {name, data} with base64 data, or {topologyId} naming a
// previously imported snapshot.
func (h *TopologyHandlerImpl) HandleLoadTopology(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return NewBadRequestError("failed to read body", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return NewValidationError("body")
	}

	var req loadTopologyRequest
	_ = json.Unmarshal(body, &req)

	var info *models.FileInfo
	switch {
	case req.TopologyID != "":
		info, err = h.store.Get(req.TopologyID)
		if err != nil {
			return NewNotFoundError("topology", req.TopologyID)
		}
	case req.Data != "":
		decoded, derr := base64.StdEncoding.DecodeString(req.Data)
		if derr != nil {
			return NewBadRequestError("invalid base64 data", derr)
		}
		info, err = h.save(nameOr(req.Name, defaultSnapshotName), decoded)
	default:
		info, err = h.save(nameOr(c.QueryParam("name"), defaultSnapshotName), body)
	}
	if err != nil {
		return err
	}

	topo, err := h.store.LoadTopology(info.ID)
	if err != nil {
		return NewInternalError("failed to read stored snapshot", err)
	}
	if err := state.Engine.LoadTopology(topo); err != nil {
		return engineError(err, "failed to load topology")
	}
	state.SetTopologyID(info.ID)

	h.log.Info().
		Str("session", state.Info().ID).
		Str("topology", info.ID).
		Int("nodes", info.Nodes).
		Msg("topology activated")

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"topology": info,
		"status":   state.Engine.Status(),
	})
}

func (h *TopologyHandlerImpl) save(name string, data []byte) (*models.FileInfo, error) {
	info, err := h.store.SaveBytes(name, data)
	if errors.Is(err, topology.ErrInvalidSnapshot) {
		return nil, NewBadRequestError("invalid topology snapshot", err)
	}
	if err != nil {
		return nil, NewInternalError("failed to save snapshot", err)
	}
	return info, nil
}

// HandleListTopologies lists imported snapshots, newest first
func (h *TopologyHandlerImpl) HandleListTopologies(c echo.Context) error {
	limit := 20
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list snapshots", err)
	}
	if files == nil {
		files = []*models.FileInfo{}
	}
	return c.JSON(http.StatusOK, files)
}

// HandleRenameTopology changes the display name of a stored snapshot
func (h *TopologyHandlerImpl) HandleRenameTopology(c echo.Context) error {
	var req renameTopologyRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	id := c.Param("topologyId")
	info, err := h.store.Rename(id, req.Name)
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("topology", id)
	}
	if err != nil {
		return NewInternalError("failed to rename snapshot", err)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteTopology removes a stored snapshot; sessions showing it keep
// their copy
func (h *TopologyHandlerImpl) HandleDeleteTopology(c echo.Context) error {
	id := c.Param("topologyId")
	err := h.store.Delete(id)
	if errors.Is(err, storage.ErrNotFound) {
		return NewNotFoundError("topology", id)
	}
	if err != nil {
		return NewInternalError("failed to delete snapshot", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func nameOr(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// Request types

type loadTopologyRequest struct {
	Name       string `json:"name"`
	Data       string `json:"data"` // Base64-encoded snapshot
	TopologyID string `json:"topologyId"`
}

type renameTopologyRequest struct {
	Name string `json:"name"`
}

type topologyResponse struct {
	TopologyID string           `json:"topologyId,omitempty"`
	Topology   *models.Topology `json:"topology"`
}
