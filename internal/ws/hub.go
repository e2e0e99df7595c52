package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/bus"
	"github.com/vowsuite/notify/internal/domain"
)

// Frame is the JSON envelope written to clients.
type Frame struct {
	Kind    string          `json:"kind"` // notification | room_event | joined | left | error
	Room    string          `json:"room,omitempty"`
	Event   string          `json:"event,omitempty"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type commandKind int

const (
	cmdJoin commandKind = iota
	cmdLeave
	cmdEvent
)

type command struct {
	kind   commandKind
	client *Client
	room   string
	event  string
	data   json.RawMessage
}

// Publisher is the piece of the bus the hub needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
}

// Hub owns this process's socket registry: which clients exist, which user
// each belongs to, and which rooms each has joined. All map access happens on
// the Run goroutine; other goroutines talk to the hub through channels only.
//
// Room events — including the hub's own presence announcements — always go
// through the bus, never directly to local members. Every process, the
// publisher included, relays them to its local members via the bridge, so a
// single-process deployment behaves exactly like a fleet.
type Hub struct {
	pub    Publisher
	logger *zap.Logger

	// Gauge callbacks; either may be nil.
	onClients func(int)
	onRooms   func(int)

	register   chan *Client
	unregister chan *Client
	commands   chan command
	deliveries chan delivery

	clients map[*Client]struct{}
	users   map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

type delivery struct {
	userID string // exactly one of userID/room is set
	room   string
	frame  Frame
}

func NewHub(pub Publisher, onClients, onRooms func(int), logger *zap.Logger) *Hub {
	return &Hub{
		pub:        pub,
		logger:     logger,
		onClients:  onClients,
		onRooms:    onRooms,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan command, 64),
		deliveries: make(chan delivery, 256),
		clients:    make(map[*Client]struct{}),
		users:      make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
	}
}

// DeliverToUser hands the bridge's per-user relay to the hub. Non-blocking:
// if the hub is saturated the frame is dropped, matching the at-most-once
// semantics of the realtime channel.
func (h *Hub) DeliverToUser(userID string, frame Frame) {
	select {
	case h.deliveries <- delivery{userID: userID, frame: frame}:
	default:
		h.logger.Warn("hub delivery queue full, dropping user frame",
			zap.String("user_id", userID))
	}
}

// BroadcastRoom hands the bridge's room relay to the hub.
func (h *Hub) BroadcastRoom(room string, frame Frame) {
	select {
	case h.deliveries <- delivery{room: room, frame: frame}:
	default:
		h.logger.Warn("hub delivery queue full, dropping room frame",
			zap.String("room", room))
	}
}

// Run is the hub's single event loop. It exits when ctx is cancelled, closing
// every client's send channel on the way out.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				if c.conn != nil {
					_ = c.conn.Close()
				}
			}
			// Pumps unwinding after this point must not block on the
			// registry channels; the drain goroutine absorbs them.
			go h.drain()
			h.logger.Info("hub stopped", zap.Int("clients_closed", len(h.clients)))
			return
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		case cmd := <-h.commands:
			h.handleCommand(ctx, cmd)
		case d := <-h.deliveries:
			h.dispatch(d)
		}
	}
}

// drain keeps the registry channels receivable after Run exits so that no
// read/write pump is left blocked mid-unwind. Late registrations are closed
// immediately. The goroutine lives until process exit; a hub stops once.
func (h *Hub) drain() {
	for {
		select {
		case c := <-h.register:
			close(c.send)
			if c.conn != nil {
				_ = c.conn.Close()
			}
		case <-h.unregister:
		case <-h.commands:
		case <-h.deliveries:
		}
	}
}

func (h *Hub) addClient(c *Client) {
	h.clients[c] = struct{}{}
	set, ok := h.users[c.session.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.users[c.session.UserID] = set
	}
	set[c] = struct{}{}
	h.reportGauges()
	h.logger.Debug("client registered", zap.String("user_id", c.session.UserID))
}

func (h *Hub) removeClient(ctx context.Context, c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)

	if set, ok := h.users[c.session.UserID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.session.UserID)
		}
	}
	for room := range c.rooms {
		h.leaveRoom(ctx, c, room)
	}
	h.reportGauges()
	h.logger.Debug("client unregistered", zap.String("user_id", c.session.UserID))
}

func (h *Hub) handleCommand(ctx context.Context, cmd command) {
	c := cmd.client
	switch cmd.kind {
	case cmdJoin:
		if !c.session.CanJoin(cmd.room) {
			c.trySend(Frame{Kind: "error", Room: cmd.room, Error: domain.ErrRoomForbidden.Error()})
			h.logger.Warn("unauthorized room join refused",
				zap.String("user_id", c.session.UserID), zap.String("room", cmd.room))
			return
		}
		if _, already := c.rooms[cmd.room]; already {
			return
		}
		members, ok := h.rooms[cmd.room]
		if !ok {
			members = make(map[*Client]struct{})
			h.rooms[cmd.room] = members
		}
		members[c] = struct{}{}
		c.rooms[cmd.room] = struct{}{}
		c.trySend(Frame{Kind: "joined", Room: cmd.room})
		h.publishRoom(ctx, cmd.room, "presence.join", c.session.UserID, nil)
		h.reportGauges()

	case cmdLeave:
		if _, member := c.rooms[cmd.room]; !member {
			return
		}
		h.leaveRoom(ctx, c, cmd.room)
		c.trySend(Frame{Kind: "left", Room: cmd.room})
		h.reportGauges()

	case cmdEvent:
		if _, member := c.rooms[cmd.room]; !member {
			c.trySend(Frame{Kind: "error", Room: cmd.room, Error: "not in room"})
			return
		}
		h.publishRoom(ctx, cmd.room, cmd.event, c.session.UserID, cmd.data)
	}
}

func (h *Hub) leaveRoom(ctx context.Context, c *Client, room string) {
	delete(c.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.publishRoom(ctx, room, "presence.leave", c.session.UserID, nil)
}

func (h *Hub) publishRoom(ctx context.Context, room, event, from string, data json.RawMessage) {
	err := h.pub.Publish(ctx, bus.RoomSubject(room), bus.RoomEvent{
		Room:  room,
		Event: event,
		From:  from,
		Data:  data,
	})
	if err != nil {
		h.logger.Error("room event publish failed",
			zap.String("room", room), zap.String("event", event), zap.Error(err))
	}
}

// dispatch fans a relayed frame out to the local sockets it targets. A client
// whose send buffer is full is dropped: a reader that slow is better served
// by a reconnect than by unbounded buffering.
func (h *Hub) dispatch(d delivery) {
	if d.userID != "" {
		for c := range h.users[d.userID] {
			h.sendOrDrop(c, d.frame)
		}
		return
	}
	for c := range h.rooms[d.room] {
		h.sendOrDrop(c, d.frame)
	}
}

func (h *Hub) sendOrDrop(c *Client, frame Frame) {
	select {
	case c.send <- frame:
	default:
		h.logger.Warn("dropping slow client",
			zap.String("user_id", c.session.UserID))
		h.removeClient(context.Background(), c)
	}
}

func (h *Hub) reportGauges() {
	if h.onClients != nil {
		h.onClients(len(h.clients))
	}
	if h.onRooms != nil {
		h.onRooms(len(h.rooms))
	}
}
