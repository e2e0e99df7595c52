package ws

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024

	sendBuffer = 64
)

// inbound is the command shape clients write to the socket.
type inbound struct {
	Action string          `json:"action"` // join | leave | event
	Room   string          `json:"room,omitempty"`
	Event  string          `json:"event,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// Client pairs one websocket connection with its authenticated session.
// The rooms set is owned by the hub goroutine; the pumps never touch it.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	session *Session
	send    chan Frame
	rooms   map[string]struct{}
	logger  *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, session *Session, logger *zap.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		session: session,
		send:    make(chan Frame, sendBuffer),
		rooms:   make(map[string]struct{}),
		logger:  logger.With(zap.String("user_id", session.UserID)),
	}
}

// start registers the client with the hub and launches both pumps.
func (c *Client) start() {
	c.hub.register <- c
	go c.writePump()
	go c.readPump()
}

// trySend queues a frame without blocking the hub loop. Called only from the
// hub goroutine.
func (c *Client) trySend(frame Frame) {
	select {
	case c.send <- frame:
	default:
	}
}

// readPump reads client commands until the connection drops, keeping the read
// deadline alive via pong handling.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("unexpected socket close", zap.Error(err))
			}
			return
		}

		switch msg.Action {
		case "join":
			if msg.Room != "" {
				c.hub.commands <- command{kind: cmdJoin, client: c, room: msg.Room}
			}
		case "leave":
			if msg.Room != "" {
				c.hub.commands <- command{kind: cmdLeave, client: c, room: msg.Room}
			}
		case "event":
			if msg.Room != "" && msg.Event != "" {
				c.hub.commands <- command{kind: cmdEvent, client: c, room: msg.Room, event: msg.Event, data: msg.Data}
			}
		default:
			c.trySend(Frame{Kind: "error", Error: "unknown action"})
		}
	}
}

// writePump writes queued frames and keepalive pings. A closed send channel
// means the hub dropped the client; the pump sends a close frame and exits.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.logger.Debug("socket write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
