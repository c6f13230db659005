package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/internal/hub"
	"github.com/odlemon/khaya-portal-sub001/internal/store"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Snapshotter provides the state pushed to a browser on connect.
type Snapshotter interface {
	Snapshot() store.State
}

// WSHandler serves the browser relay: every connected console receives
// the chat state on connect and after each change.
type WSHandler struct {
	hub   *hub.Hub
	store Snapshotter
	wsCfg config.WebSocketConfig
}

func NewWSHandler(h *hub.Hub, st Snapshotter, wsCfg config.WebSocketConfig) *WSHandler {
	return &WSHandler{
		hub:   h,
		store: st,
		wsCfg: wsCfg,
	}
}

func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), h.hub, conn, h.wsCfg)

	frame, err := hub.StateFrame(h.store.Snapshot())
	if err != nil {
		l.Error().Err(err).Msg("failed to encode state frame")
	} else {
		client.Send <- frame
	}

	h.hub.Register(client)
	l.Debug().Str(log.FieldClientID, client.ID).Msg("console connected")

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *WSHandler) handleMessage(client *hub.Client, message []byte) {
	var base domain.BaseMessage
	if err := json.Unmarshal(message, &base); err != nil {
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Invalid message format"))
		return
	}

	switch base.Type {
	case domain.MsgTypePing:
		client.SendMessage(domain.BaseMessage{Type: domain.MsgTypePong})

	case domain.MsgTypeState:
		frame, err := hub.StateFrame(h.store.Snapshot())
		if err != nil {
			return
		}
		client.SendRaw(frame)

	default:
		client.SendMessage(domain.NewErrorMessage(domain.ErrCodeBadRequest, "Unknown message type"))
	}
}

func (h *WSHandler) RegisterRoutes(r *gin.Engine) {
	r.GET("/console/ws", h.HandleWebSocket)
}
