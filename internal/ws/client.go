package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxSignalBytes = 4096
)

// Client is one websocket connection. userID is zero until the auth signal succeeds.
type Client struct {
	id     string
	userID int
	info   ConnInfo
	ctx    context.Context
	conn   *websocket.Conn

	mu     sync.Mutex
	send   chan []byte
	closed bool

	// guarded by Hub.mu
	joined map[int]struct{}

	typing *rate.Limiter
}

func newClient(ctx context.Context, conn *websocket.Conn, info ConnInfo, sendBuffer, typingPerSecond int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 64
	}
	if typingPerSecond <= 0 {
		typingPerSecond = 5
	}
	return &Client{
		id:     info.ConnID,
		info:   info,
		ctx:    ctx,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		joined: make(map[int]struct{}),
		typing: rate.NewLimiter(rate.Limit(typingPerSecond), typingPerSecond),
	}
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// UserID returns the authenticated user, or zero.
func (c *Client) UserID() int {
	return c.userID
}

// enqueue never blocks: a full or closed queue drops the payload.
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) writePump(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket write error")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes signals until the connection fails and returns the close reason.
func (c *Client) readPump(pongTimeout time.Duration, handle func(*Client, Signal)) string {
	c.conn.SetReadLimit(maxSignalBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read error")
			}
			return err.Error()
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var sig Signal
		if err := json.Unmarshal(data, &sig); err != nil || sig.Type == "" {
			continue
		}
		handle(c, sig)
	}
}
