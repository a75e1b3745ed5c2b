package realtime

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/trezcool/ratiba/core"
	"github.com/trezcool/ratiba/core/auth"
)

const maxMessageSize = 512

// Options tunes the websocket connections.
type Options struct {
	SendBuffer     int
	WriteWait      time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
}

func OptionsFromConfig(conf *core.Config) Options {
	return Options{
		SendBuffer:     conf.Realtime.SendBuffer,
		WriteWait:      conf.Realtime.WriteWait,
		PongWait:       conf.Realtime.PongWait,
		AllowedOrigins: conf.Realtime.AllowedOrigins,
	}
}

func (o Options) pingPeriod() time.Duration { return (o.PongWait * 9) / 10 }

// Client is one authenticated connection.
type Client struct {
	id       string
	identity auth.Identity
	send     chan []byte

	hub       *Hub
	conn      *websocket.Conn
	opts      Options
	closeOnce sync.Once
}

// NewClient returns a Client of `hub`; `conn` is nil for clients not backed by a websocket.
func NewClient(hub *Hub, identity auth.Identity, conn *websocket.Conn, opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = 10 * time.Second
	}
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	return &Client{
		id:       uuid.New().String(),
		identity: identity,
		send:     make(chan []byte, opts.SendBuffer),
		hub:      hub,
		conn:     conn,
		opts:     opts,
	}
}

func (c *Client) ID() string { return c.id }

// Messages exposes the outgoing frames of the client.
func (c *Client) Messages() <-chan []byte { return c.send }

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump only serves to detect disconnections and pongs; inbound frames are ignored.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn(fmt.Sprintf("websocket of %s closed: %v", c.identity.UserID, err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				// unregistered
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Serve registers an upgraded connection and pumps events to it until it disconnects.
func (h *Hub) Serve(conn *websocket.Conn, identity auth.Identity, opts Options) *Client {
	c := NewClient(h, identity, conn, opts)
	h.Register(c)
	go c.writePump()
	go c.readPump()
	return c
}

// NewUpgrader returns the websocket upgrader. Without allowed origins, only same-origin requests are upgraded.
func NewUpgrader(allowedOrigins []string) *websocket.Upgrader {
	up := &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	if len(allowedOrigins) > 0 {
		up.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
					return true
				}
			}
			return false
		}
	}
	return up
}
