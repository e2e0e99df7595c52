package ws

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/bus"
)

// Subscriber is the piece of the bus the bridge needs.
type Subscriber interface {
	Subscribe(ctx context.Context, handler bus.Handler, patterns ...string)
}

// Bridge relays bus traffic into the local hub: per-user notification
// envelopes and room events published by any process in the fleet, this one
// included. It is the only path by which frames reach sockets.
type Bridge struct {
	sub    Subscriber
	hub    *Hub
	logger *zap.Logger
}

func NewBridge(sub Subscriber, hub *Hub, logger *zap.Logger) *Bridge {
	return &Bridge{sub: sub, hub: hub, logger: logger}
}

// Run subscribes to the user and room subject spaces and blocks until ctx is
// cancelled. Callers run it in its own goroutine.
func (b *Bridge) Run(ctx context.Context) {
	b.sub.Subscribe(ctx, b.handle, bus.UserSubject("*"), bus.RoomSubject("*"))
}

func (b *Bridge) handle(subject string, payload []byte) {
	if userID, ok := bus.UserFromSubject(subject); ok {
		var env bus.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			b.logger.Warn("malformed user envelope on bus",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		b.hub.DeliverToUser(userID, Frame{Kind: "notification", Payload: payload})
		return
	}

	if room, ok := bus.RoomFromSubject(subject); ok {
		var ev bus.RoomEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.logger.Warn("malformed room event on bus",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		b.hub.BroadcastRoom(room, Frame{
			Kind:    "room_event",
			Room:    ev.Room,
			Event:   ev.Event,
			From:    ev.From,
			Payload: ev.Data,
		})
	}
}
