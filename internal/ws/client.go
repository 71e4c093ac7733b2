// README: One websocket connection with its read and write pumps.
package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 64
)

type Client struct {
	Key    string
	UserID string
	Role   string
	Send   chan []byte

	hub  *Hub
	conn *websocket.Conn
	log  *logrus.Logger
	done chan struct{}
	once sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, role, userID string, log *logrus.Logger) *Client {
	return &Client{
		Key:    clientKey(role, userID),
		UserID: userID,
		Role:   role,
		Send:   make(chan []byte, sendBuffer),
		hub:    hub,
		conn:   conn,
		log:    log,
		done:   make(chan struct{}),
	}
}

// Close unregisters the client and tears down the connection. Safe from any
// goroutine, any number of times.
func (c *Client) Close() {
	c.once.Do(func() {
		c.hub.Remove(c)
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// WritePump drains Send onto the wire and keeps the connection alive with
// pings. The Send channel is never closed; shutdown goes through done.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg := <-c.Send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// ReadPump consumes the socket until it drops. Inbound frames are ignored;
// the feed is one-way.
func (c *Client) ReadPump() {
	defer c.Close()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).WithField("client", c.Key).Debug("read loop ended")
			}
			return
		}
	}
}
