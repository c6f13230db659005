package realtime

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
)

var errNotConnected = errors.New("realtime transport not connected")

var pingFrame = []byte(`{"type":"ping"}`)

// conn is one live WebSocket connection. The client replaces it on reconnect.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
	config config.RealtimeConfig
}

func newConn(ws *websocket.Conn, cfg config.RealtimeConfig) *conn {
	return &conn{
		ws:     ws,
		send:   make(chan []byte, 64),
		closed: make(chan struct{}),
		config: cfg,
	}
}

// enqueue hands a frame to the write pump without blocking.
func (c *conn) enqueue(data []byte) error {
	select {
	case <-c.closed:
		return errNotConnected
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.closed:
		return errNotConnected
	default:
		return errors.New("realtime send buffer full")
	}
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.closed)
	})
}

func (c *conn) readPump(handle func([]byte)) error {
	defer c.close()

	if c.config.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.config.MaxMessageSize)
	}
	c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				l := log.L()
				l.Warn().Err(err).Msg("realtime connection closed unexpectedly")
			}
			return err
		}
		// Any inbound frame proves liveness.
		c.ws.SetReadDeadline(time.Now().Add(c.config.PongWait))
		handle(message)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.closed:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case message := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, pingFrame); err != nil {
				return
			}
		}
	}
}
