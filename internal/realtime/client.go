package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odlemon/khaya-portal-sub001/internal/config"
	"github.com/odlemon/khaya-portal-sub001/internal/domain"
	"github.com/odlemon/khaya-portal-sub001/pkg/log"
	"github.com/odlemon/khaya-portal-sub001/pkg/metrics"
)

// TokenSource yields the bearer token used for the WebSocket handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client is the console's connection to the marketplace realtime
// transport. It remembers joined chat rooms and re-joins them after a
// reconnect.
type Client struct {
	url    string
	config config.RealtimeConfig
	tokens TokenSource
	dialer *websocket.Dialer

	mu     sync.Mutex
	active *conn
	rooms  map[string]struct{}
	subs   map[uint64]*Subscription
	nextID uint64
}

// NewClient creates a realtime client. Call Run to connect.
func NewClient(cfg config.RealtimeConfig, tokens TokenSource) *Client {
	return &Client{
		url:    cfg.URL,
		config: cfg,
		tokens: tokens,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		rooms: make(map[string]struct{}),
		subs:  make(map[uint64]*Subscription),
	}
}

// Run keeps the connection alive until ctx is cancelled, backing off
// between failed attempts.
func (c *Client) Run(ctx context.Context) error {
	l := log.L()
	delay := c.config.ReconnectDelay
	if delay <= 0 {
		delay = time.Second
	}
	maxDelay := c.config.MaxReconnectDelay
	if maxDelay < delay {
		maxDelay = delay
	}

	for {
		connected, err := c.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = c.config.ReconnectDelay
			if delay <= 0 {
				delay = time.Second
			}
		}
		l.Warn().Err(err).Dur("retry_in", delay).Msg("realtime transport disconnected")
		metrics.RealtimeReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if !connected {
			delay *= 2
			if delay > maxDelay {
				delay = maxDelay
			}
		}
	}
}

func (c *Client) connectOnce(ctx context.Context) (bool, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return false, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("realtime dial failed with status %d: %w", resp.StatusCode, err)
		}
		return false, fmt.Errorf("realtime dial failed: %w", err)
	}

	cn := newConn(ws, c.config)

	c.mu.Lock()
	c.active = cn
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	c.mu.Unlock()

	l := log.L()
	l.Info().Str("url", c.url).Int("rooms", len(rooms)).Msg("realtime transport connected")

	for _, id := range rooms {
		if err := c.write(cn, domain.ChatRoomMessage{Type: domain.MsgTypeJoinChat, ChatID: id}); err != nil {
			l.Warn().Err(err).Str(log.FieldChatID, id).Msg("failed to rejoin chat room")
		}
	}

	go cn.writePump()
	go func() {
		select {
		case <-ctx.Done():
			cn.close()
		case <-cn.closed:
		}
	}()

	err = cn.readPump(c.dispatch)

	c.mu.Lock()
	if c.active == cn {
		c.active = nil
	}
	c.mu.Unlock()

	return true, err
}

// Connected reports whether a connection is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// JoinChat subscribes the connection to a chat room. When disconnected the
// room is joined as soon as the connection is back.
func (c *Client) JoinChat(chatID string) error {
	c.mu.Lock()
	c.rooms[chatID] = struct{}{}
	cn := c.active
	c.mu.Unlock()

	if cn == nil {
		return nil
	}
	return c.write(cn, domain.ChatRoomMessage{Type: domain.MsgTypeJoinChat, ChatID: chatID})
}

// LeaveChat unsubscribes the connection from a chat room.
func (c *Client) LeaveChat(chatID string) error {
	c.mu.Lock()
	_, joined := c.rooms[chatID]
	delete(c.rooms, chatID)
	cn := c.active
	c.mu.Unlock()

	if cn == nil || !joined {
		return nil
	}
	return c.write(cn, domain.ChatRoomMessage{Type: domain.MsgTypeLeaveChat, ChatID: chatID})
}

// Rooms returns the chat rooms currently joined.
func (c *Client) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		rooms = append(rooms, id)
	}
	return rooms
}

func (c *Client) write(cn *conn, frame interface{}) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return cn.enqueue(data)
}

func (c *Client) dispatch(raw []byte) {
	l := log.L()

	var base domain.BaseMessage
	if err := json.Unmarshal(raw, &base); err != nil {
		l.Debug().Err(err).Msg("ignoring malformed realtime frame")
		return
	}

	switch base.Type {
	case domain.MsgTypeNewMessage, domain.MsgTypeError, domain.MsgTypePong:
		metrics.RealtimeEvents.WithLabelValues(base.Type).Inc()
	default:
		metrics.RealtimeEvents.WithLabelValues("unknown").Inc()
	}

	switch base.Type {
	case domain.MsgTypeNewMessage:
		var ev domain.NewMessageEvent
		if err := json.Unmarshal(raw, &ev); err != nil || ev.ChatID == "" || ev.Message.ID == "" {
			l.Debug().Err(err).Msg("ignoring malformed new_message frame")
			return
		}
		c.publish(ev)

	case domain.MsgTypeError:
		var msg domain.ErrorMessage
		_ = json.Unmarshal(raw, &msg)
		l.Warn().Str("code", msg.Code).Str("message", msg.Message).Msg("realtime transport reported an error")

	case domain.MsgTypePong:

	default:
		l.Debug().Str("type", base.Type).Msg("ignoring unknown realtime frame")
	}
}

func (c *Client) publish(ev domain.NewMessageEvent) {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.deliver(ev)
	}
}
