package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/warehouse-map/backend/internal/scene"
	"github.com/warehouse-map/backend/internal/session"
)

// WebSocket message types for the viewer protocol
const (
	// Client -> Server messages
	MsgTypePing      = "ping"
	MsgTypeClick     = "click"
	MsgTypeLayer     = "layer"
	MsgTypeResetView = "resetView"

	// Server -> Client messages
	MsgTypeSnapshot  = "snapshot"
	MsgTypeScene     = "scene"
	MsgTypeSelection = "selection"
	MsgTypeStatus    = "status"
	MsgTypeAck       = "ack"
	MsgTypeError     = "error"
	MsgTypePong      = "pong"
)

const (
	viewerSendBuffer = 256
	viewerWriteWait  = 10 * time.Second
)

// WSMessage is the envelope of every viewer message. Scene messages carry a
// scene.Change; clients drop changes whose version is not newer than the
// snapshot they received first.
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// ClickPayload is sent by the client with either a plane position or a target id.
type ClickPayload struct {
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Target string   `json:"target,omitempty"`
}

// LayerPayload toggles one layer.
type LayerPayload struct {
	Layer   string `json:"layer"`
	Visible bool   `json:"visible"`
}

// WSErrorResponse is the payload of an error message.
type WSErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// ViewerHandlerImpl streams one session to any number of browser viewers.
type ViewerHandlerImpl struct {
	sessions SessionManager
	upgrader websocket.Upgrader
	log      zerolog.Logger
	maxRead  int64

	mu      sync.Mutex
	clients map[*viewerClient]struct{}
}

// NewViewerHandler creates the viewer WebSocket handler
func NewViewerHandler(sessions SessionManager, log zerolog.Logger, maxMessageBytes int64) *ViewerHandlerImpl {
	if maxMessageBytes <= 0 {
		maxMessageBytes = 64 * 1024
	}
	return &ViewerHandlerImpl{
		sessions: sessions,
		log:      log.With().Str("component", "viewer").Logger(),
		maxRead:  maxMessageBytes,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
		clients: make(map[*viewerClient]struct{}),
	}
}

// ConnectedCount returns the number of open viewer connections
func (h *ViewerHandlerImpl) ConnectedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

type viewerClient struct {
	ws    *websocket.Conn
	state *session.State
	send  chan WSMessage
	done  chan struct{}
	once  sync.Once
}

func (vc *viewerClient) stop() {
	vc.once.Do(func() { close(vc.done) })
}

// enqueue never blocks: a viewer that cannot keep up is dropped.
func (vc *viewerClient) enqueue(msgType string, payload interface{}) {
	msg, err := newMessage(msgType, "", payload)
	if err != nil {
		return
	}
	select {
	case vc.send <- msg:
	case <-vc.done:
	default:
		vc.stop()
	}
}

func newMessage(msgType, id string, payload interface{}) (WSMessage, error) {
	msg := WSMessage{Type: msgType, ID: id, Timestamp: time.Now().UnixMilli()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return msg, err
		}
		msg.Payload = data
	}
	return msg, nil
}

// HandleViewerWebSocket upgrades the connection and streams the session
func (h *ViewerHandlerImpl) HandleViewerWebSocket(c echo.Context) error {
	state, err := lookupSession(h.sessions, c)
	if err != nil {
		return err
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	ws.SetReadLimit(h.maxRead)

	vc := &viewerClient{
		ws:    ws,
		state: state,
		send:  make(chan WSMessage, viewerSendBuffer),
		done:  make(chan struct{}),
	}

	// subscribe before the snapshot so no change falls between the two
	unsubScene := state.Scene.Subscribe(func(ch scene.Change) {
		vc.enqueue(MsgTypeScene, ch)
	})
	unsubEvents := state.Subscribe(func(ev session.Event) {
		switch ev.Type {
		case session.EventSelection:
			vc.enqueue(MsgTypeSelection, ev.Selection)
		case session.EventStatus:
			vc.enqueue(MsgTypeStatus, ev.Status)
		}
	})
	vc.enqueue(MsgTypeSnapshot, state.Scene.Snapshot())
	vc.enqueue(MsgTypeStatus, state.Engine.Status())

	h.mu.Lock()
	h.clients[vc] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	sessionID := state.Info().ID
	log := h.log.With().Str("session", sessionID).Logger()
	log.Info().Int("viewers", count).Msg("viewer connected")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(vc, log)
	}()

	h.readPump(vc, sessionID, log)

	vc.stop()
	unsubScene()
	unsubEvents()
	wg.Wait()
	ws.Close()

	h.mu.Lock()
	delete(h.clients, vc)
	count = len(h.clients)
	h.mu.Unlock()
	log.Info().Int("viewers", count).Msg("viewer disconnected")
	return nil
}

func (h *ViewerHandlerImpl) writePump(vc *viewerClient, log zerolog.Logger) {
	for {
		select {
		case msg := <-vc.send:
			vc.ws.SetWriteDeadline(time.Now().Add(viewerWriteWait))
			if err := vc.ws.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("viewer write failed")
				vc.stop()
				vc.ws.Close()
				return
			}
		case <-vc.state.Engine.Done():
			vc.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(viewerWriteWait))
			vc.stop()
			vc.ws.Close()
			return
		case <-vc.done:
			vc.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(viewerWriteWait))
			vc.ws.Close()
			return
		}
	}
}

func (h *ViewerHandlerImpl) readPump(vc *viewerClient, sessionID string, log zerolog.Logger) {
	for {
		var msg WSMessage
		if err := vc.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("viewer connection error")
			}
			return
		}
		h.sessions.TouchSession(sessionID)

		switch msg.Type {
		case MsgTypePing:
			vc.reply(MsgTypePong, msg.ID, nil)
		case MsgTypeClick:
			h.handleClick(vc, msg)
		case MsgTypeLayer:
			h.handleLayer(vc, msg)
		case MsgTypeResetView:
			if err := vc.state.Engine.ResetView(); err != nil {
				vc.replyError(msg.ID, err.Error(), "ENGINE_ERROR")
				continue
			}
			vc.reply(MsgTypeAck, msg.ID, nil)
		default:
			vc.replyError(msg.ID, "Unknown message type: "+msg.Type, "INVALID_TYPE")
		}
	}
}

func (h *ViewerHandlerImpl) handleClick(vc *viewerClient, msg WSMessage) {
	var p ClickPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		vc.replyError(msg.ID, "Invalid click payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}

	var hit bool
	var err error
	switch {
	case p.Target != "":
		_, hit, err = vc.state.Engine.ClickTarget(p.Target)
	case p.X != nil && p.Y != nil:
		_, hit, err = vc.state.Engine.Click(*p.X, *p.Y)
	default:
		vc.replyError(msg.ID, "click needs x/y or target", "INVALID_PAYLOAD")
		return
	}
	if err != nil {
		vc.replyError(msg.ID, err.Error(), "ENGINE_ERROR")
		return
	}
	// the selection itself arrives through the session event stream
	vc.reply(MsgTypeAck, msg.ID, map[string]bool{"hit": hit})
}

func (h *ViewerHandlerImpl) handleLayer(vc *viewerClient, msg WSMessage) {
	var p LayerPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		vc.replyError(msg.ID, "Invalid layer payload: "+err.Error(), "INVALID_PAYLOAD")
		return
	}
	kind, ok := scene.ParseKind(p.Layer)
	if !ok {
		vc.replyError(msg.ID, "Unknown layer: "+p.Layer, "INVALID_PAYLOAD")
		return
	}
	if err := vc.state.Engine.SetLayerVisible(kind, p.Visible); err != nil {
		vc.replyError(msg.ID, err.Error(), "ENGINE_ERROR")
		return
	}
	vc.reply(MsgTypeAck, msg.ID, nil)
}

func (vc *viewerClient) reply(msgType, id string, payload interface{}) {
	msg, err := newMessage(msgType, id, payload)
	if err != nil {
		return
	}
	select {
	case vc.send <- msg:
	case <-vc.done:
	}
}

func (vc *viewerClient) replyError(id, message, code string) {
	vc.reply(MsgTypeError, id, WSErrorResponse{Message: message, Code: code})
}
