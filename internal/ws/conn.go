package ws

import (
	"sync"
	"time"

	"chatrelay/internal/envelope"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	sendBuffer   = 256
	readLimit    = 1 << 20 // 1MB
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// Client is one websocket session of one device. It satisfies
// session.Conn.
type Client struct {
	id       string
	userID   string
	deviceID string
	at       time.Time
	conn     *websocket.Conn

	mu     sync.Mutex
	send   chan envelope.Envelope
	closed bool
}

func newClient(id, userID, deviceID string, conn *websocket.Conn) *Client {
	return &Client{
		id:       id,
		userID:   userID,
		deviceID: deviceID,
		at:       time.Now().UTC(),
		conn:     conn,
		send:     make(chan envelope.Envelope, sendBuffer),
	}
}

func (c *Client) ID() string             { return c.id }
func (c *Client) UserID() string         { return c.userID }
func (c *Client) DeviceID() string       { return c.deviceID }
func (c *Client) ConnectedAt() time.Time { return c.at }

// Deliver queues env without blocking. A client whose buffer is full is
// too slow to keep up: its queue is closed, which makes the write pump
// hang up, and the read pump then unregisters it.
func (c *Client) Deliver(env envelope.Envelope) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- env:
		return true
	default:
		c.closed = true
		close(c.send)
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

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case env, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := env.Encode()
			if err != nil {
				log.Error().Err(err).Str("conn_id", c.id).Str("type", string(env.Type)).Msg("encode envelope")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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
