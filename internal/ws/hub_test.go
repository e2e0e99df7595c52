package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vowsuite/notify/internal/bus"
)

// loopPublisher emulates the bus in-process: every publish is immediately
// relayed back to the hub the way the bridge would relay it.
type loopPublisher struct {
	mu       sync.Mutex
	hub      *Hub
	subjects []string
}

func (p *loopPublisher) Publish(_ context.Context, subject string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.subjects = append(p.subjects, subject)
	p.mu.Unlock()

	if p.hub != nil {
		if room, ok := bus.RoomFromSubject(subject); ok {
			var ev bus.RoomEvent
			if err := json.Unmarshal(raw, &ev); err != nil {
				return err
			}
			p.hub.BroadcastRoom(room, Frame{
				Kind:  "room_event",
				Room:  ev.Room,
				Event: ev.Event,
				From:  ev.From,
			})
		}
	}
	return nil
}

func (p *loopPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.subjects...)
}

func newTestHub(t *testing.T) (*Hub, *loopPublisher) {
	t.Helper()
	pub := &loopPublisher{}
	h := NewHub(pub, nil, nil, zap.NewNop())
	pub.hub = h

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)
	return h, pub
}

func newTestClient(h *Hub, userID string, allowedRooms ...string) *Client {
	return &Client{
		hub:     h,
		session: &Session{UserID: userID, Rooms: allowedRooms},
		send:    make(chan Frame, sendBuffer),
		rooms:   make(map[string]struct{}),
		logger:  zap.NewNop(),
	}
}

func recvFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case f := <-c.send:
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frame")
		return Frame{}
	}
}

func recvFrameOfKind(t *testing.T, c *Client, kind string) Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.send:
			if f.Kind == kind {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", kind)
			return Frame{}
		}
	}
}

func TestHubJoinAuthorizedRoom(t *testing.T) {
	h, pub := newTestHub(t)
	c := newTestClient(h, "alice", "wedding-42")
	h.register <- c

	h.commands <- command{kind: cmdJoin, client: c, room: "wedding-42"}

	if f := recvFrameOfKind(t, c, "joined"); f.Room != "wedding-42" {
		t.Fatalf("joined frame room = %q", f.Room)
	}
	// Presence is announced over the bus and relayed back to local members.
	if f := recvFrameOfKind(t, c, "room_event"); f.Event != "presence.join" || f.From != "alice" {
		t.Fatalf("presence frame = %+v", f)
	}
	subjects := pub.published()
	if len(subjects) != 1 || subjects[0] != bus.RoomSubject("wedding-42") {
		t.Fatalf("published subjects = %v", subjects)
	}
}

func TestHubRefusesUnauthorizedJoin(t *testing.T) {
	h, pub := newTestHub(t)
	c := newTestClient(h, "mallory", "wedding-42")
	h.register <- c

	h.commands <- command{kind: cmdJoin, client: c, room: "wedding-99"}

	f := recvFrame(t, c)
	if f.Kind != "error" || f.Room != "wedding-99" {
		t.Fatalf("frame = %+v, want error for wedding-99", f)
	}
	if len(pub.published()) != 0 {
		t.Fatalf("unauthorized join must not publish presence")
	}
}

func TestHubRoomEventReachesMembersOnly(t *testing.T) {
	h, _ := newTestHub(t)
	alice := newTestClient(h, "alice", "wedding-42")
	bob := newTestClient(h, "bob", "wedding-42")
	carol := newTestClient(h, "carol", "other-room")
	for _, c := range []*Client{alice, bob, carol} {
		h.register <- c
	}
	h.commands <- command{kind: cmdJoin, client: alice, room: "wedding-42"}
	recvFrameOfKind(t, alice, "joined")
	h.commands <- command{kind: cmdJoin, client: bob, room: "wedding-42"}
	recvFrameOfKind(t, bob, "joined")

	h.commands <- command{kind: cmdEvent, client: alice, room: "wedding-42", event: "music.request"}

	for _, c := range []*Client{alice, bob} {
		f := recvFrameOfKind(t, c, "room_event")
		for f.Event == "presence.join" {
			f = recvFrameOfKind(t, c, "room_event")
		}
		if f.Event != "music.request" || f.From != "alice" {
			t.Fatalf("frame = %+v, want music.request from alice", f)
		}
	}
	select {
	case f := <-carol.send:
		t.Fatalf("non-member received %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubEventFromNonMemberRefused(t *testing.T) {
	h, pub := newTestHub(t)
	c := newTestClient(h, "alice", "wedding-42")
	h.register <- c

	h.commands <- command{kind: cmdEvent, client: c, room: "wedding-42", event: "music.request"}

	if f := recvFrame(t, c); f.Kind != "error" {
		t.Fatalf("frame = %+v, want error", f)
	}
	if len(pub.published()) != 0 {
		t.Fatalf("event from non-member must not publish")
	}
}

func TestHubDeliverToUserHitsAllSessions(t *testing.T) {
	h, _ := newTestHub(t)
	phone := newTestClient(h, "alice")
	laptop := newTestClient(h, "alice")
	other := newTestClient(h, "bob")
	for _, c := range []*Client{phone, laptop, other} {
		h.register <- c
	}

	h.DeliverToUser("alice", Frame{Kind: "notification"})

	for _, c := range []*Client{phone, laptop} {
		if f := recvFrame(t, c); f.Kind != "notification" {
			t.Fatalf("frame = %+v", f)
		}
	}
	select {
	case f := <-other.send:
		t.Fatalf("wrong user received %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h, _ := newTestHub(t)
	c := newTestClient(h, "alice")
	h.register <- c

	// Fill the send buffer without draining it, then push one more frame.
	for i := 0; i < sendBuffer; i++ {
		h.DeliverToUser("alice", Frame{Kind: "notification"})
	}
	h.DeliverToUser("alice", Frame{Kind: "notification"})

	// The hub closes the send channel when it drops the client.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, open := <-c.send; !open {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("slow client was never dropped")
		}
	}
}

func TestHubStopReleasesRegistry(t *testing.T) {
	pub := &loopPublisher{}
	h := NewHub(pub, nil, nil, zap.NewNop())
	pub.hub = h
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := newTestClient(h, "alice")
	h.register <- c

	cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, open := <-c.send; !open {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("send channel never closed on shutdown")
		}
	}

	// A pump unwinding after shutdown must not block on the registry.
	done := make(chan struct{})
	go func() {
		h.unregister <- c
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("unregister blocked after hub stopped")
	}

	late := newTestClient(h, "bob")
	go func() { h.register <- late }()
	select {
	case _, open := <-late.send:
		if open {
			t.Fatalf("late registration should get a closed send channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("late registration was never absorbed")
	}
}

func TestHubLeaveAnnouncesPresence(t *testing.T) {
	h, pub := newTestHub(t)
	c := newTestClient(h, "alice", "wedding-42")
	h.register <- c
	h.commands <- command{kind: cmdJoin, client: c, room: "wedding-42"}
	recvFrameOfKind(t, c, "joined")

	h.commands <- command{kind: cmdLeave, client: c, room: "wedding-42"}
	recvFrameOfKind(t, c, "left")

	deadline := time.Now().Add(2 * time.Second)
	for len(pub.published()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("presence.leave never published, subjects = %v", pub.published())
		}
		time.Sleep(10 * time.Millisecond)
	}
}
